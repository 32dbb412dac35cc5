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

// Package permutation implements the global sorted-order-to-input-position
// mapping produced by a distributed sort and consumed by Space-Efficient
// Sort: for each of a PE's original local input elements, which global
// sorted position it ended up at. Simple fills its caller's out slice by
// shipping (local_index, global_rank) pairs back to whichever PE
// originally owned that local_index; MultiLevel and NonUnique ship bare
// global-index carriers backward level by level and finally write each
// one through LocalPerm. Either way each result is written straight to
// its slot, the way the teacher's sorting.rowIDWriter writes a record to
// the slot its ID assigns it rather than staging through an
// intermediate copy.
package permutation

import (
	"fmt"

	"github.com/sneller-labs/dsort/comm"
)

// Permutation computes, for each of this PE's original local input
// elements, the global sorted-order position it was assigned. Apply
// writes that position into out[i] for original local index i.
// globalIndexOffset shifts every produced position uniformly, letting
// permutations be composed end to end (SES's per-quantile fragments,
// spec §4.5 step 4). out must have length equal to this PE's original
// local input count.
type Permutation interface {
	Apply(out []int64, globalIndexOffset int64, comms comm.Hierarchy) error
}

func sumOp(a, b uint64) uint64 { return a + b }

// Simple is the flat-vector permutation (spec §4.4): parallel Ranks and
// Indices columns, one entry per element this PE holds in final sorted
// order after a complete redistribution — Ranks[i]/Indices[i] identify
// the (origin PE, origin local index) of the i-th locally-held
// post-merge element. Because a distributed merge sort routes strictly
// increasing splitter ranges to strictly increasing rank indices, this
// PE's locally-held run occupies a contiguous slice of the global order
// starting right after every lower-ranked PE's run — so the global
// position of local slot i is a single exclusive prefix sum away.
type Simple struct {
	Ranks   []int32
	Indices []int64
}

func (s *Simple) Apply(out []int64, globalIndexOffset int64, comms comm.Hierarchy) error {
	if len(s.Ranks) != len(s.Indices) {
		return fmt.Errorf("permutation: Simple.Ranks and Simple.Indices must have equal length, got %d and %d", len(s.Ranks), len(s.Indices))
	}
	levels := comms.Levels()
	if len(levels) == 0 {
		return fmt.Errorf("permutation: Simple.Apply requires at least one hierarchy level")
	}
	top := levels[0].Exchange
	base := top.ExscanSingle(uint64(len(s.Ranks)), sumOp)

	n := top.Size()
	buckets := make([][]encodedEntry, n)
	for i := range s.Ranks {
		pos := int64(base) + int64(i) + globalIndexOffset
		dest := int(s.Ranks[i])
		if dest < 0 || dest >= n {
			return fmt.Errorf("permutation: Simple.Apply origin rank %d out of range [0,%d)", dest, n)
		}
		buckets[dest] = append(buckets[dest], encodedEntry{pos: s.Indices[i], pe: 0, idx: pos})
	}

	send := make([][]byte, n)
	for r, entries := range buckets {
		send[r] = encodeEntries(entries)
	}
	recv, err := top.Alltoallv(send)
	if err != nil {
		return fmt.Errorf("permutation: Simple.Apply alltoallv: %w", err)
	}
	for _, buf := range recv {
		entries, err := decodeEntries(buf)
		if err != nil {
			return err
		}
		for _, e := range entries {
			localIndex := e.pos
			globalRank := e.idx
			if localIndex < 0 || int(localIndex) >= len(out) {
				return fmt.Errorf("permutation: Simple.Apply received out-of-range local index %d (out has length %d)", localIndex, len(out))
			}
			out[localIndex] = globalRank
		}
	}
	return nil
}
