// Package compress provides the per-message payload codec for the streaming
// transport. Compression kind is chosen per message; None is the identity
// transform. Gzip and Zlib use the klauspost/compress implementations.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/X9X0/LabLink-sub003/errors"
)

// Kind identifies a compression algorithm. The set is closed: unknown values
// are rejected at the API boundary with a typed error.
type Kind byte

const (
	// None is the identity transform (UTF-8 bytes pass through unchanged)
	None Kind = 0
	// Gzip compresses with RFC 1952 gzip framing
	Gzip Kind = 1
	// Zlib compresses with RFC 1950 zlib framing
	Zlib Kind = 2
)

// String returns the wire name of the compression kind
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zlib:
		return "zlib"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a member of the closed kind set
func (k Kind) Valid() bool {
	return k == None || k == Gzip || k == Zlib
}

// ParseKind converts a wire name into a Kind, rejecting unknown values
func ParseKind(s string) (Kind, error) {
	switch s {
	case "none", "":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zlib":
		return Zlib, nil
	default:
		return None, errors.WrapInvalid(errors.ErrUnknownCompression, "compress", "ParseKind", s)
	}
}

// KindFromByte converts a wire framing byte into a Kind, rejecting unknown values
func KindFromByte(b byte) (Kind, error) {
	k := Kind(b)
	if !k.Valid() {
		return None, errors.WrapInvalid(errors.ErrUnknownCompression, "compress", "KindFromByte",
			fmt.Sprintf("byte 0x%02x", b))
	}
	return k, nil
}

// Kinds returns all supported compression kinds in wire-byte order
func Kinds() []Kind {
	return []Kind{None, Gzip, Zlib}
}

// Compress converts serialized message text into compressed bytes for the
// given kind. None returns the UTF-8 encoding of the text unchanged.
func Compress(text string, kind Kind) ([]byte, error) {
	switch kind {
	case None:
		return []byte(text), nil
	case Gzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write([]byte(text)); err != nil {
			return nil, errors.Wrap(err, "compress", "Compress", "gzip write")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "compress", "Compress", "gzip close")
		}
		return buf.Bytes(), nil
	case Zlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write([]byte(text)); err != nil {
			return nil, errors.Wrap(err, "compress", "Compress", "zlib write")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "compress", "Compress", "zlib close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownCompression, "compress", "Compress", kind.String())
	}
}

// Decompress converts compressed bytes back into message text. Malformed
// input propagates the underlying codec failure; callers must treat decode
// failure as fatal for the message being processed.
func Decompress(data []byte, kind Kind) (string, error) {
	switch kind {
	case None:
		return string(data), nil
	case Gzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", errors.Wrap(err, "compress", "Decompress", "gzip open")
		}
		defer func() { _ = zr.Close() }()
		text, err := io.ReadAll(zr)
		if err != nil {
			return "", errors.Wrap(err, "compress", "Decompress", "gzip read")
		}
		return string(text), nil
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", errors.Wrap(err, "compress", "Decompress", "zlib open")
		}
		defer func() { _ = zr.Close() }()
		text, err := io.ReadAll(zr)
		if err != nil {
			return "", errors.Wrap(err, "compress", "Decompress", "zlib read")
		}
		return string(text), nil
	default:
		return "", errors.WrapInvalid(errors.ErrUnknownCompression, "compress", "Decompress", kind.String())
	}
}

// Ratio reports the original/compressed byte length ratio for a message.
// Defined as 1.0 when the compressed length is zero.
func Ratio(original string, compressed []byte) float64 {
	if len(compressed) == 0 {
		return 1.0
	}
	return float64(len(original)) / float64(len(compressed))
}
