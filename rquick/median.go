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

// Package rquick implements the robust distributed quicksort/quickselect
// used both as an alternative global sorter and, more importantly, as the
// median-of-medians splitter selection RQuick-based sample policies rely
// on inside the DMS driver.
package rquick

import (
	"fmt"
	"math/bits"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/strset"
)

const tagMedianBase = 4096

func ctz(x int) int { return bits.TrailingZeros(uint(x)) }

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// strided takes an evenly-spaced subsample of at most k elements from a
// sorted slice, preserving order (a strided subsample of a sorted
// sequence is itself sorted), so every PE contributes a candidate set of
// the same target size to median selection regardless of its actual
// local run length.
func strided(views []strset.View, k int) []strset.View {
	if k <= 0 || len(views) <= k {
		return views
	}
	out := make([]strset.View, k)
	step := float64(len(views)) / float64(k)
	for i := range out {
		idx := int(float64(i) * step)
		if idx >= len(views) {
			idx = len(views) - 1
		}
		out[i] = views[idx]
	}
	return out
}

func mergeSorted(a, b []strset.View) []strset.View {
	out := make([]strset.View, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Less(b[j]) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// centralWindow picks the middle n elements of a sorted slice, breaking
// an odd overlap by a caller-supplied random bit so repeated rounds don't
// systematically favor one side (spec §4.3).
func centralWindow(sorted []strset.View, n int, bit bool) []strset.View {
	total := len(sorted)
	if n > total {
		n = total
	}
	start := (total - n) / 2
	if (total-n)%2 != 0 && bit {
		start++
	}
	return append([]strset.View(nil), sorted[start:start+n]...)
}

func centralSingle(sorted []strset.View, bit bool) strset.View {
	total := len(sorted)
	start := (total - 1) / 2
	if (total-1)%2 != 0 && bit {
		start++
	}
	return sorted[start]
}

// SelectMedian runs the binary-tree (hypercube-by-trailing-zero-bits)
// median reduction over c and returns the globally-balanced median,
// identically on every rank. local must already be sorted; sampleSize
// bounds how many candidates each round carries (the same constant must
// be passed on every rank in c).
func SelectMedian(c comm.Communicator, local []strset.View, sampleSize int, rng *RNG) (strset.View, error) {
	r := c.Rank()
	p := c.Size()
	if p == 1 {
		if len(local) == 0 {
			return strset.View{}, fmt.Errorf("rquick: SelectMedian called with empty input on a singleton communicator")
		}
		return centralSingle(local, rng.Bit()), nil
	}

	var t int
	if r == 0 {
		t = ceilLog2(p)
	} else {
		t = ctz(r)
	}

	candidates := strided(local, sampleSize)
	for i := 0; i < t; i++ {
		partner := r + (1 << i)
		buf, err := c.Recv(partner, tagMedianBase+i)
		if err != nil {
			return strset.View{}, fmt.Errorf("rquick: median round %d recv from %d: %w", i, partner, err)
		}
		recvViews, err := decodeViews(buf)
		if err != nil {
			return strset.View{}, fmt.Errorf("rquick: median round %d decode: %w", i, err)
		}
		merged := mergeSorted(candidates, recvViews)
		candidates = centralWindow(merged, sampleSize, rng.Bit())
	}
	if r > 0 {
		dest := r - (1 << t)
		if err := c.Send(encodeViews(candidates), dest, tagMedianBase+t); err != nil {
			return strset.View{}, fmt.Errorf("rquick: median send to %d: %w", dest, err)
		}
	}

	var medianBuf []byte
	if r == 0 {
		if len(candidates) == 0 {
			return strset.View{}, fmt.Errorf("rquick: SelectMedian: root ended with no candidates")
		}
		median := centralSingle(candidates, rng.Bit())
		medianBuf = encodeViews([]strset.View{median})
	}
	out, err := c.Bcast(medianBuf, 0)
	if err != nil {
		return strset.View{}, fmt.Errorf("rquick: median broadcast: %w", err)
	}
	views, err := decodeViews(out)
	if err != nil {
		return strset.View{}, fmt.Errorf("rquick: median broadcast decode: %w", err)
	}
	if len(views) != 1 {
		panic(fmt.Sprintf("rquick: median broadcast carried %d strings, want exactly 1 (protocol violation)", len(views)))
	}
	return views[0], nil
}
