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

package dms

import (
	"github.com/sneller-labs/dsort/losertree"
	"github.com/sneller-labs/dsort/strset"
	"github.com/sneller-labs/dsort/wire"
)

// encodeStream builds the wire packet for one destination rank's slice
// of a level's redistribution. The per-string LCP against the
// immediately preceding element in views is always computed and
// attached (wire.Chunk.LCPs): in plain mode it lets the receiver's
// losertree.Stream reuse the same-stream O(1) shortcut without
// recomputing anything, and in compressed-prefix mode it doubles as the
// count of leading bytes elided from that string's wire representation
// (spec §4.2's compressed-prefix mode).
func encodeStream(views []strset.View, compressPrefixes, wireCompress bool) []byte {
	lcps := strset.RecomputedLCPs(views)

	indexed, peTagged := false, false
	for _, v := range views {
		if v.HasIndex() {
			indexed = true
		}
		if v.HasPE() {
			peTagged = true
		}
	}
	var indices []int64
	var pes []int32
	if indexed {
		indices = make([]int64, len(views))
	}
	if peTagged {
		pes = make([]int32, len(views))
	}

	total := 0
	for i, v := range views {
		data := v.Data
		if compressPrefixes && i > 0 {
			data = data[lcps[i]:]
		}
		total += len(data) + 1
	}
	chars := make([]byte, 0, total)
	for i, v := range views {
		data := v.Data
		if compressPrefixes && i > 0 {
			data = data[lcps[i]:]
		}
		chars = append(chars, data...)
		chars = append(chars, 0)
		if indexed {
			indices[i] = v.Index
		}
		if peTagged {
			pes[i] = v.PE
		}
	}

	chunk := &wire.Chunk{Chars: chars, Indices: indices, PEIndices: pes, LCPs: lcps}
	return wire.EncodeToBytes(chunk, wireCompress)
}

func splitPieces(chars []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range chars {
		if c == 0 {
			out = append(out, chars[start:i])
			start = i + 1
		}
	}
	return out
}

func decodePieces(buf []byte, wireCompress bool) (*wire.Chunk, [][]byte, error) {
	chunk, err := wire.DecodeFromBytes(buf, wireCompress)
	if err != nil {
		return nil, nil, err
	}
	return chunk, splitPieces(chunk.Chars), nil
}

// decodeStream decodes a plain-mode wire packet into a losertree.Stream
// ready for merging. It returns (nil, nil) for an empty buffer, the
// convention Alltoallv uses for "this peer sent nothing".
func decodeStream(buf []byte, wireCompress bool) (*losertree.Stream, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	chunk, pieces, err := decodePieces(buf, wireCompress)
	if err != nil {
		return nil, err
	}
	views := make([]strset.View, len(pieces))
	for i, p := range pieces {
		v := strset.View{Data: p, Index: strset.NoIndex, PE: strset.NoPE}
		if chunk.Indices != nil {
			v.Index = chunk.Indices[i]
		}
		if chunk.PEIndices != nil {
			v.PE = chunk.PEIndices[i]
		}
		views[i] = v
	}
	return losertree.NewStream(views, chunk.LCPs), nil
}

// decodeCompressedStream decodes a compressed-prefix wire packet into a
// losertree.CompressedStream, leaving prefix reconstruction to
// losertree.MergeCompressed.
func decodeCompressedStream(buf []byte, wireCompress bool) (*losertree.CompressedStream, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	chunk, pieces, err := decodePieces(buf, wireCompress)
	if err != nil {
		return nil, err
	}
	views := make([]strset.View, len(pieces))
	headLCPs := make([]int, len(pieces))
	for i, p := range pieces {
		v := strset.View{Data: p, Index: strset.NoIndex, PE: strset.NoPE}
		if chunk.Indices != nil {
			v.Index = chunk.Indices[i]
		}
		if chunk.PEIndices != nil {
			v.PE = chunk.PEIndices[i]
		}
		views[i] = v
		if chunk.LCPs != nil {
			headLCPs[i] = int(chunk.LCPs[i])
		}
	}
	return &losertree.CompressedStream{Views: views, HeadLCPs: headLCPs}, nil
}
