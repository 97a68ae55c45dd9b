// Copyright (C) 2023 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package internal holds the process-wide log shared by the command line tools.
package internal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Singleton log writer. Writes to stdout, and optionally to a file.
// Does not add prefixes, or force newlines.

// The optional additional file to log into
var logFile *bufio.Writer
var logFileOS *os.File
var logMu sync.Mutex

type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	logMu.Lock()
	defer logMu.Unlock()
	n, err = os.Stdout.Write(p)
	if err != nil || logFile == nil {
		return n, err
	}
	return logFile.Write(p)
}

// The log, for passing to operators and estimators
var Log io.Writer = logWriter{}

// Enables logging to file, closing any previous log file
func LogAlsoToFile(fileName string) (err error) {
	if err = LogClose(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logMu.Lock()
	logFileOS, logFile = f, bufio.NewWriter(f)
	logMu.Unlock()
	return nil
}

// Flushes and closes the log file, if any
func LogClose() error {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Flush()
	if cerr := logFileOS.Close(); err == nil {
		err = cerr
	}
	logFile, logFileOS = nil, nil
	return err
}

func LogPrintf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(Log, format, args...)
}

func LogPrintln(args ...interface{}) (n int, err error) {
	return fmt.Fprintln(Log, args...)
}

// Logs the message, closes the log file and exits with status 1
func LogFatalf(format string, args ...interface{}) {
	fmt.Fprintf(Log, format, args...)
	LogClose()
	os.Exit(1)
}

func LogSync() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		logFile.Flush()
		logFileOS.Sync()
	}
}
