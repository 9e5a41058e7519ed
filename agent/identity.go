// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Color is an sRGB display colour.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex returns the colour as "#rrggbb".
func (c Color) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// Identity is the visual identity of a session: a short label and a
// palette colour. It depends only on the session ID, so a session that
// reconnects, or is seen again after a restart, looks the same.
type Identity struct {
	Label string `json:"label"`
	Color Color  `json:"color"`
}

// identityDomainKey separates identity hashes from any other use of
// BLAKE3 on session IDs. ASCII, zero-padded to the 32 bytes keyed
// mode requires.
var identityDomainKey = [32]byte{
	'a', 'g', 'e', 'n', 't', '-', 'v', 'i', 's', '.', 'a', 'g', 'e', 'n', 't', '.',
	'i', 'd', 'e', 'n', 't', 'i', 't', 'y', 0, 0, 0, 0, 0, 0, 0, 0,
}

var greekLetters = [...]string{
	"α", "β", "γ", "δ", "ε", "ζ", "η", "θ", "ι", "κ", "λ", "μ",
	"ν", "ξ", "ο", "π", "ρ", "σ", "τ", "υ", "φ", "χ", "ψ", "ω",
}

// Palette is the fixed set of session colours.
var Palette = [...]Color{
	{0xe0, 0x6c, 0x75}, {0xe5, 0xc0, 0x7b}, {0x98, 0xc3, 0x79}, {0x56, 0xb6, 0xc2},
	{0x61, 0xaf, 0xef}, {0xc6, 0x78, 0xdd}, {0xd1, 0x9a, 0x66}, {0xbe, 0x50, 0x46},
	{0x7f, 0xdb, 0xca}, {0xf7, 0x8c, 0x6c}, {0xc3, 0xe8, 0x8d}, {0x82, 0xaa, 0xff},
	{0xff, 0xcb, 0x6b}, {0xf0, 0x71, 0x78}, {0x89, 0xdd, 0xff}, {0xbb, 0x80, 0xb3},
}

// IdentityOf derives the label and colour for a session ID.
func IdentityOf(sessionID string) Identity {
	hasher, err := blake3.NewKeyed(identityDomainKey[:])
	if err != nil {
		// Only returned for a key of the wrong length.
		panic("agent: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(sessionID))
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))

	letter := greekLetters[binary.LittleEndian.Uint64(digest[0:8])%uint64(len(greekLetters))]
	suffix := binary.LittleEndian.Uint64(digest[8:16]) % 100
	color := Palette[binary.LittleEndian.Uint64(digest[16:24])%uint64(len(Palette))]
	return Identity{
		Label: fmt.Sprintf("%s-%02d", letter, suffix),
		Color: color,
	}
}
