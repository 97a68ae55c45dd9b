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
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFITS    = errors.New("not a valid FITS file")
	ErrMissingKey = errors.New("FITS header key missing")
	ErrBitpix     = errors.New("unsupported BITPIX value")
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Reads a FITS image from the file with the given name
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (i *Image, err error) {
	i = NewImage()
	i.ID = id
	return i, i.ReadFile(fileName, true, logWriter)
}

// Read FITS data from the file with the given name. Decompresses gzip if .gz or gzip suffix is present.
// Reads metadata only (fast) if readData is false.
func (fits *Image) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	fits.FileName = fileName
	if lExt := strings.ToLower(path.Ext(fileName)); lExt == ".gz" || lExt == ".gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "%d: %s", fits.ID, fileName)
		}
		defer gz.Close()
		r = gz
	}
	return errors.Wrapf(fits.Read(r, readData, logWriter), "reading %s", fileName)
}

// Removes an integer key from the header and returns its value
func (fits *Image) popInt(key string) (int32, error) {
	if val, ok := fits.Header.Ints[key]; ok {
		delete(fits.Header.Ints, key)
		return val, nil
	}
	return 0, errors.Wrapf(ErrMissingKey, "%d: %s", fits.ID, key)
}

// Removes a numeric key from the header and returns its value, or def if absent
func (fits *Image) popNumber(key string, def float64) float64 {
	val, ok := fits.Header.Number(key)
	if !ok {
		return def
	}
	delete(fits.Header.Ints, key)
	delete(fits.Header.Floats, key)
	return val
}

// Reads header and optionally data of the primary HDU. Structural keys are removed from the header
func (fits *Image) Read(f io.Reader, readData bool, logWriter io.Writer) (err error) {
	if err = fits.Header.read(f, fits.ID, logWriter); err != nil {
		return err
	}

	// check mandatory fields as per standard
	if !fits.Header.Bools["SIMPLE"] {
		return errors.Wrapf(ErrNotFITS, "%d: SIMPLE=T missing in header", fits.ID)
	}
	delete(fits.Header.Bools, "SIMPLE")

	if fits.Bitpix, err = fits.popInt("BITPIX"); err != nil {
		return err
	}
	naxis, err := fits.popInt("NAXIS")
	if err != nil {
		return err
	}
	fits.Naxisn = make([]int32, naxis)
	fits.Pixels = 1
	for i := range fits.Naxisn {
		if fits.Naxisn[i], err = fits.popInt("NAXIS" + strconv.Itoa(i+1)); err != nil {
			return err
		}
		fits.Pixels *= fits.Naxisn[i]
	}
	fits.Bzero = fits.popNumber("BZERO", 0)
	fits.Bscale = fits.popNumber("BSCALE", 1)

	if !readData {
		return nil
	}
	return fits.readData(f, logWriter)
}

// Decoders from network byte order for each supported BITPIX value
var decoders = map[int32]func(b []byte) float64{
	8:   func(b []byte) float64 { return float64(b[0]) },
	16:  func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) },
	32:  func(b []byte) float64 { return float64(int32(binary.BigEndian.Uint32(b))) },
	64:  func(b []byte) float64 { return float64(int64(binary.BigEndian.Uint64(b))) },
	-32: func(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) },
	-64: func(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) },
}

// Read image data from file, convert to float64, apply Bzero and Bscale and reset them afterwards.
func (fits *Image) readData(f io.Reader, logWriter io.Writer) (err error) {
	decode, ok := decoders[fits.Bitpix]
	if !ok {
		return errors.Wrapf(ErrBitpix, "%d: %d", fits.ID, fits.Bitpix)
	}
	if fits.Bitpix == 64 {
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int64 to float64 values\n", fits.ID)
	}
	bytesPerValue := int(fits.Bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	return fits.readValues(f, bytesPerValue, decode)
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Batched read of values of the given size from the file, decoding from network byte order and adjusting for Bzero and Bscale
func (fits *Image) readValues(r io.Reader, bytesPerValue int, decode func(b []byte) float64) error {
	fits.Data = make([]float64, int(fits.Pixels))
	buf := make([]byte, bufLen)
	valuesPerBuf := bufLen / bytesPerValue

	for block := 0; block < len(fits.Data); block += valuesPerBuf {
		size := len(fits.Data) - block
		if size > valuesPerBuf {
			size = valuesPerBuf
		}
		if _, err := io.ReadFull(r, buf[:size*bytesPerValue]); err != nil {
			return errors.Wrapf(err, "%d: reading data", fits.ID)
		}
		for offset := 0; offset < size; offset++ {
			v := decode(buf[offset*bytesPerValue : (offset+1)*bytesPerValue])
			fits.Data[block+offset] = v*fits.Bscale + fits.Bzero
		}
	}
	fits.Bzero, fits.Bscale = 0, 1 // reflect that data values incorporate these now
	return nil
}

// Reads header blocks until the END line
func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)
	subNames := reParser.SubexpNames()
	cont := "" // key of a string value to be continued

	for h.Length = 0; !h.End; {
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.Wrapf(ErrNotFITS, "%d: reading header: %s", id, err.Error())
		}
		h.Length += int32(fitsBlockSize)

		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: Cannot parse '%s', ignoring\n", id, string(line))
				continue
			}
			cont = h.readLine(subNames, subValues, cont, id, lineNo, logWriter)
		}
	}
	return nil
}

// Parses one header line into the header. Returns the key of a string value ending
// in the & continuation marker, or the empty string
func (h *Header) readLine(subNames []string, subValues [][]byte, cont string, id, lineNo int, logWriter io.Writer) string {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		v := string(subValues[i])
		switch c := subNames[i][0]; c {
		case 'E': // end line
			h.End = true
		case 'H': // history line
			h.History = append(h.History, strings.TrimRight(v, " "))
		case 'C': // comment line
			h.Comments = append(h.Comments, strings.TrimRight(v, " "))
		case 'k': // key
			key = v
		case 'b': // boolean
			h.Bools[key] = v == "T"
		case 'i': // int
			if val, err := strconv.ParseInt(v, 10, 32); err == nil {
				h.Ints[key] = int32(val)
			} else if val, err := strconv.ParseFloat(v, 64); err == nil {
				h.Floats[key] = val // too large for int32
			}
		case 'f': // float, with optional Fortran style exponent
			if val, err := strconv.ParseFloat(strings.Replace(v, "D", "E", 1), 64); err == nil {
				h.Floats[key] = val
			}
		case 's': // string
			h.Strings[key] = unquote(v)
			if strings.HasSuffix(h.Strings[key], "&") {
				return key
			}
		case 'x': // continued string
			if cont == "" {
				fmt.Fprintf(logWriter, "%d:%d: Warning: CONTINUE without preceding string, ignoring\n", id, lineNo)
				return ""
			}
			h.Strings[cont] = strings.TrimSuffix(h.Strings[cont], "&") + unquote(v)
			if strings.HasSuffix(h.Strings[cont], "&") {
				return cont
			}
		case 'd': // date
			h.Dates[key] = v
		case 'c': // comment
			// ignore value comments
		default:
			fmt.Fprintf(logWriter, "%d:%d: Warning: Unknown token '%s'\n", id, lineNo, string(c))
		}
	}
	return ""
}

// Removes trailing blanks and undoes the doubling of quotes in a FITS string value
func unquote(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, " "), "''", "'")
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>(?:[^']|'')*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	contLine := "CONTINUE" + white + "'(?P<x>(?:[^']|'')*)'" + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + contLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
