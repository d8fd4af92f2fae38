// Package compress frames small cache payloads with a one-byte algorithm tag so
// readers never need to know how a value was written.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names accepted in configuration.
const (
	None   = "none"
	Snappy = "snappy"
	LZ4    = "lz4"
)

// MinSize is the payload size below which values are stored uncompressed.
const MinSize = 512

const (
	tagNone   byte = 'n'
	tagSnappy byte = 's'
	tagLZ4    byte = 'l'
)

// ErrDecompression wraps every decode failure.
var ErrDecompression = errors.New("decompression failed")

// Valid reports whether algorithm is a known name ("" counts as none).
func Valid(algorithm string) bool {
	switch algorithm {
	case "", None, Snappy, LZ4:
		return true
	}
	return false
}

// Encode compresses content with algorithm and prepends the tag byte.
func Encode(content []byte, algorithm string) ([]byte, error) {
	if len(content) < MinSize {
		algorithm = None
	}

	switch algorithm {
	case Snappy:
		return append([]byte{tagSnappy}, snappy.Encode(nil, content)...), nil

	case LZ4:
		var buf bytes.Buffer
		buf.WriteByte(tagLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return append([]byte{tagNone}, content...), nil
	}
}

// Decode reverses Encode.
func Decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecompression)
	}

	body := framed[1:]
	switch framed[0] {
	case tagNone:
		return body, nil

	case tagSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return out, nil

	case tagLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrDecompression, framed[0])
	}
}
