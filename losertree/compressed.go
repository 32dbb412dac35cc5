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

package losertree

import "github.com/sneller-labs/dsort/strset"

// CompressedStream is a Stream whose Views carry only the suffix after
// each string's own per-string LCP — the wire-compact representation
// used when compress_prefixes is enabled in the alltoall config
// (spec §4.2). HeadLCPs[i] is that per-string LCP: the number of
// leading bytes Views[i].Data shares with the immediately preceding
// string of the same stream, elided on the wire (HeadLCPs[0] is
// ignored; the first string is always carried whole).
type CompressedStream struct {
	Views    []strset.View
	HeadLCPs []int
}

// MergeCompressed reconstructs each compressed stream's full strings
// incrementally (each string's full bytes are its predecessor's full
// bytes truncated to HeadLCPs[i], plus its own compressed suffix) and
// runs the same merge as the plain path, so the two are guaranteed
// byte-identical on the far side of decompression (testable property
// 6: compressed-prefix equivalence).
//
// The re-derived postcondition (spec §9's open question) is checked
// on every reconstruction: each reconstructed string's true LCP with
// its predecessor in the same stream must equal its recorded
// HeadLCPs entry; a mismatch is a protocol violation, not silently
// ignored. The merge itself compares the reconstructed full strings.
func MergeCompressed(streams []*CompressedStream, knownCommonLCP uint64) *strset.Container {
	plain := make([]*Stream, len(streams))
	full := make([][][]byte, len(streams))
	for i, cs := range streams {
		full[i] = reconstruct(cs)
		views := make([]strset.View, len(cs.Views))
		for j, v := range cs.Views {
			views[j] = strset.View{Data: full[i][j], Index: v.Index, PE: v.PE}
		}
		plain[i] = NewStream(views, strset.RecomputedLCPs(views))
	}
	// Re-derive and check the postcondition the original left
	// commented out: each reconstructed string must share exactly
	// HeadLCPs[j] leading bytes with its predecessor, no more, no less.
	for i, cs := range streams {
		for j := range cs.Views {
			if j == 0 {
				continue
			}
			headLCP := cs.HeadLCPs[j]
			if headLCP > len(full[i][j-1]) {
				panic("losertree: compressed stream headLCP exceeds predecessor length")
			}
			gotLen := commonPrefixLenFrom(full[i][j-1], full[i][j], 0)
			if gotLen != headLCP {
				panic("losertree: compressed-prefix postcondition violated: reconstructed prefix does not match recorded headLCP")
			}
		}
	}
	t := New(plain, knownCommonLCP)
	return t.Merge()
}

func reconstruct(cs *CompressedStream) [][]byte {
	out := make([][]byte, len(cs.Views))
	var prev []byte
	for i, v := range cs.Views {
		if i == 0 {
			out[i] = append([]byte(nil), v.Data...)
		} else {
			h := cs.HeadLCPs[i]
			if h > len(prev) {
				panic("losertree: compressed stream headLCP exceeds predecessor length")
			}
			buf := make([]byte, 0, h+len(v.Data))
			buf = append(buf, prev[:h]...)
			buf = append(buf, v.Data...)
			out[i] = buf
		}
		prev = out[i]
	}
	return out
}
