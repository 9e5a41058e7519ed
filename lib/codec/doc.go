// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the project's CBOR encoding configuration.
//
// JSON is the default on every external surface: the relay's HTTP
// ingest bodies, WebSocket text frames, and the frame export endpoint.
// CBOR is the compact alternative a client opts into (the relay's
// ?encoding=cbor WebSocket mode, the export's Accept: application/cbor).
// Both formats are produced from the same Go types: fxamacker/cbor reads
// `json` struct tags when no `cbor` tag is present, so a single `json`
// tag controls field naming for both.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical value always produces the same bytes.
//
//	data, err := codec.Marshal(envelope)
//	err = codec.Unmarshal(data, &envelope)
package codec
