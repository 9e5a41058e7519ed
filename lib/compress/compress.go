// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress encodes frame export bodies with LZ4 or zstd.
//
// Algorithms are negotiated per HTTP request: the client lists what it
// accepts in Accept-Encoding and the server answers with the configured
// algorithm when the client accepts it, or identity otherwise.
// Bodies use self-describing frame formats (the LZ4 frame format and
// standard zstd frames) so the reader does not need the uncompressed
// size up front.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a body encoding.
type Algorithm uint8

const (
	None Algorithm = iota
	LZ4
	Zstd
)

// String returns the Content-Encoding token for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case None:
		return "identity"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Parse accepts the configuration names "none", "lz4", and "zstd".
func Parse(name string) (Algorithm, error) {
	switch name {
	case "none", "identity", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// Negotiate returns preferred when acceptEncoding lists it, and None
// otherwise.
func Negotiate(preferred Algorithm, acceptEncoding string) Algorithm {
	if preferred == None {
		return None
	}
	for _, part := range strings.Split(acceptEncoding, ",") {
		token, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(token), preferred.String()) {
			return preferred
		}
	}
	return None
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode compresses data with algorithm. None returns data unchanged.
func Encode(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case None:
		return data, nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case LZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %v", algorithm)
	}
}

// Decode reverses Encode.
func Decode(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case None:
		return data, nil
	case Zstd:
		result, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return result, nil
	case LZ4:
		result, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %v", algorithm)
	}
}
