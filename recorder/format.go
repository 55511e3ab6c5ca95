package recorder

import (
	"strings"

	"github.com/X9X0/LabLink-sub003/errors"
)

// Format selects the on-disk serialization of a recording session
type Format string

const (
	// FormatJSON writes a single JSON array with one element per message
	FormatJSON Format = "json"
	// FormatJSONL writes one JSON object per line
	FormatJSONL Format = "jsonl"
	// FormatCSV writes a timestamp,message_type,data header then quoted rows
	FormatCSV Format = "csv"
	// FormatBinary writes newline-delimited JSON bytes
	FormatBinary Format = "binary"
)

// Formats returns all supported recording formats
func Formats() []Format {
	return []Format{FormatJSON, FormatJSONL, FormatCSV, FormatBinary}
}

// Valid reports whether f is a supported format
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatJSONL, FormatCSV, FormatBinary:
		return true
	}
	return false
}

// extension returns the file extension for the format, without a dot
func (f Format) extension() string {
	if f == FormatBinary {
		return "bin"
	}
	return string(f)
}

// ParseFormat converts a string to a Format, case-insensitively
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", errors.WrapInvalid(errors.ErrUnknownFormat, "Format", "ParseFormat", "parse "+s)
	}
	return f, nil
}
