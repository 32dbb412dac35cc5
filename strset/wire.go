// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package strset

import "github.com/sneller-labs/dsort/wire"

// ToChunk encodes c's Views (and LCPs, if present) as a wire.Chunk:
// NUL-separated character data plus whichever optional side channels
// this Container's variant carries.
func (c *Container) ToChunk() *wire.Chunk {
	total := 0
	indexed, peTagged := false, false
	for _, v := range c.views {
		total += len(v.Data) + 1
		if v.HasIndex() {
			indexed = true
		}
		if v.HasPE() {
			peTagged = true
		}
	}
	chars := make([]byte, 0, total)
	var indices []int64
	var pes []int32
	if indexed {
		indices = make([]int64, len(c.views))
	}
	if peTagged {
		pes = make([]int32, len(c.views))
	}
	for i, v := range c.views {
		chars = append(chars, v.Data...)
		chars = append(chars, 0)
		if indexed {
			indices[i] = v.Index
		}
		if peTagged {
			pes[i] = v.PE
		}
	}
	return &wire.Chunk{Chars: chars, Indices: indices, PEIndices: pes, LCPs: c.lcps}
}

// FromChunk decodes a wire.Chunk into a freshly-built Container,
// splitting the NUL-separated character data back into per-string
// Views and pre-sizing the Builder from the chunk's own byte length
// (the count is recovered by counting NUL bytes, since the wire layout
// carries no explicit string count for that array).
func FromChunk(c *wire.Chunk) *Container {
	n := 0
	for _, ch := range c.Chars {
		if ch == 0 {
			n++
		}
	}
	b := NewBuilder(len(c.Chars), n, c.LCPs != nil)
	start := 0
	i := 0
	for pos, ch := range c.Chars {
		if ch != 0 {
			continue
		}
		v := View{Data: c.Chars[start:pos], Index: noIndex, PE: noPE}
		if c.Indices != nil {
			v.Index = c.Indices[i]
		}
		if c.PEIndices != nil {
			v.PE = c.PEIndices[i]
		}
		lcp := uint64(0)
		if c.LCPs != nil {
			lcp = c.LCPs[i]
		}
		b.Append(v, lcp)
		start = pos + 1
		i++
	}
	return b.Build()
}
