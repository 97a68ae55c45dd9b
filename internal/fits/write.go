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

package fits

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

// Writes an in-memory FITS image to a file with given filename.
// Creates/overwrites the file if necessary
func (fits *Image) WriteFile(fileName string) error {
	return writeToFile(fileName, fits.Write)
}

// Creates or truncates the named file and writes it through a buffer with the given function
func writeToFile(fileName string, write func(w io.Writer) error) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err = write(w); err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Writes an in-memory FITS image to an io.Writer, as 64-bit floating point data.
// All header booleans, numbers and strings are written in sorted key order.
func (fits *Image) Write(f io.Writer) error {
	// Build header in string buffer
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -64, "64-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(fits.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(fits.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), fits.Naxisn[i], "[1] Axis size")
	}
	for _, k := range sortedKeys(fits.Header.Bools) {
		writeBool(&sb, k, fits.Header.Bools[k], "")
	}
	for _, k := range sortedKeys(fits.Header.Ints) {
		writeInt32(&sb, k, fits.Header.Ints[k], "")
	}
	for _, k := range sortedKeys(fits.Header.Floats) {
		writeFloat64(&sb, k, fits.Header.Floats[k], "")
	}
	for _, k := range sortedKeys(fits.Header.Strings) {
		writeString(&sb, k, fits.Header.Strings[k], "")
	}
	for _, h := range fits.Header.History {
		writeText(&sb, "HISTORY", h)
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	if bytesInHeaderBlock := sb.Len() % fitsBlockSize; bytesInHeaderBlock > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-bytesInHeaderBlock))
	}

	// Write header block(s)
	if _, err := f.Write([]byte(sb.String())); err != nil {
		return err
	}

	// Write payload data and pad the final data block with zeros
	if err := writeFloat64Array(f, fits.Data); err != nil {
		return err
	}
	if bytesInDataBlock := (len(fits.Data) * 8) % fitsBlockSize; bytesInDataBlock > 0 {
		_, err := f.Write(make([]byte, fitsBlockSize-bytesInDataBlock))
		return err
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float64 value. Always carries a decimal point, so it reads back as a float
func writeFloat64(w io.Writer, key string, value float64, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20.12E / %-47s", key, value, comment)
}

// Writes a FITS header string value, with escaping and continuations if necessary.
func writeString(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}

	// escape ' characters
	value = strings.Join(strings.Split(value, "'"), "''")

	if len(value) <= 18 {
		fmt.Fprintf(w, "%-8s= '%s'%s / %-47s", key, value, strings.Repeat(" ", 18-len(value)), comment)
	} else {
		fmt.Fprintf(w, "%-8s= '%s&' / %-47s", key, value[0:17], comment)
		value = value[17:]
		for len(value) > 66 {
			fmt.Fprintf(w, "CONTINUE  '%s&' ", value[0:66])
			value = value[66:]
		}
		fmt.Fprintf(w, "CONTINUE  '%s'%s", value, strings.Repeat(" ", 50+(18-len(value))))
	}
}

// Writes a FITS HISTORY or COMMENT line
func writeText(w io.Writer, key, text string) {
	if len(text) > 72 {
		text = text[0:72]
	}
	fmt.Fprintf(w, "%-8s%-72s", key, text)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", HeaderLineSize-3))
}

// Writes FITS binary body data in network byte order. NaNs are kept, as permitted for floating point data
func writeFloat64Array(w io.Writer, data []float64) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 3) {
		size := len(data) - block
		if size > (bufLen >> 3) {
			size = (bufLen >> 3)
		}

		for offset := 0; offset < size; offset++ {
			binary.BigEndian.PutUint64(buf[offset<<3:], math.Float64bits(data[block+offset]))
		}
		if _, err := w.Write(buf[:(size << 3)]); err != nil {
			return err
		}
	}
	return nil
}
