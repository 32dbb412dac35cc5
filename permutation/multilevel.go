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

package permutation

import (
	"fmt"

	"github.com/sneller-labs/dsort/comm"
)

// RemoteLevel is the bookkeeping a distributed merge-sort driver records
// for one hierarchy level's forward alltoallv, sufficient to reverse it.
// SourceRanks has one entry per element this PE holds after that level's
// forward exchange, in the exchange's own merged output order:
// SourceRanks[i] is the rank (within that level's Exchange) that sent
// element i forward. A per-rank count is not enough on its own — the
// forward exchange's arrivals are merged by string value before Apply
// ever sees them, which interleaves different sources' elements, so
// which source produced element i can only be recovered by recording it
// per element, not reconstructed from an aggregate count. Grouping the
// carrier vector by SourceRanks (stable, so within one source's group
// order is preserved) reproduces exactly the contiguous block that
// source rank sent forward.
type RemoteLevel struct {
	SourceRanks []int32
}

func (l RemoteLevel) total() int64 {
	return int64(len(l.SourceRanks))
}

// bucketBySource groups cur by rl.SourceRanks, preserving each source's
// relative order, and returns one wire-encoded buffer per rank in
// [0, groupSize) (nil for ranks that contributed nothing).
func bucketBySource(cur []int64, rl RemoteLevel, groupSize int) [][]byte {
	buckets := make([][]int64, groupSize)
	for i, r := range rl.SourceRanks {
		if r < 0 || int(r) >= groupSize {
			panic(fmt.Sprintf("permutation: source rank %d out of range for group size %d", r, groupSize))
		}
		buckets[r] = append(buckets[r], cur[i])
	}
	send := make([][]byte, groupSize)
	for r, b := range buckets {
		if len(b) > 0 {
			send[r] = encodeInt64s(b)
		}
	}
	return send
}

// MultiLevel is the per-level permutation (spec §4.4): LocalPerm is this
// PE's local-sort-order-position -> original-input-index map recorded at
// the end of its initial local sort (before any redistribution), Levels
// is the per-level receive bookkeeping recorded outermost-first as the
// hierarchy's forward passes ran, and FinalCount is the size of the
// fully-redistributed run this PE ends up holding after the last level's
// forward exchange.
type MultiLevel struct {
	LocalPerm  []int64
	Levels     []RemoteLevel
	FinalCount int
}

// Apply walks the levels from innermost (final sub-group) to outermost,
// alltoallv-shipping global-index carriers backward through the exchange
// pattern exactly mirroring the forward sort, finally reading each
// global-index into out[LocalPerm[i]].
func (m *MultiLevel) Apply(out []int64, globalIndexOffset int64, comms comm.Hierarchy) error {
	levels := comms.Levels()
	if len(levels) != len(m.Levels) {
		panic(fmt.Sprintf("permutation: MultiLevel.Apply depth mismatch: hierarchy has %d levels, permutation recorded %d", len(levels), len(m.Levels)))
	}
	if len(levels) == 0 {
		return fmt.Errorf("permutation: MultiLevel.Apply requires at least one hierarchy level")
	}

	top := levels[0].Exchange
	base := top.ExscanSingle(uint64(m.FinalCount), sumOp)
	cur := make([]int64, m.FinalCount)
	for i := range cur {
		cur[i] = int64(base) + int64(i) + globalIndexOffset
	}

	for lvl := len(levels) - 1; lvl >= 0; lvl-- {
		rl := m.Levels[lvl]
		if rl.total() != int64(len(cur)) {
			panic(fmt.Sprintf("permutation: MultiLevel.Apply level %d recv-count mismatch: recorded total %d, carrier length %d", lvl, rl.total(), len(cur)))
		}
		ex := levels[lvl].Exchange
		groupSize := ex.Size()

		send := bucketBySource(cur, rl, groupSize)
		recv, err := ex.Alltoallv(send)
		if err != nil {
			return fmt.Errorf("permutation: MultiLevel.Apply level %d alltoallv: %w", lvl, err)
		}
		var next []int64
		for _, buf := range recv {
			vals, err := decodeInt64s(buf)
			if err != nil {
				return err
			}
			next = append(next, vals...)
		}
		cur = next
	}

	if len(cur) != len(m.LocalPerm) {
		panic(fmt.Sprintf("permutation: MultiLevel.Apply outermost result length %d does not match LocalPerm length %d", len(cur), len(m.LocalPerm)))
	}
	for i, globalIdx := range cur {
		orig := m.LocalPerm[i]
		if orig < 0 || int(orig) >= len(out) {
			return fmt.Errorf("permutation: MultiLevel.Apply LocalPerm[%d]=%d out of range for out of length %d", i, orig, len(out))
		}
		out[orig] = globalIdx
	}
	return nil
}

// NonUnique adds per-position byte offsets to MultiLevel so that equal
// strings can be assigned adjacent, distinct global positions without
// carrying the full (PE, index) tuple: instead of a unit stride of one
// per final-sorted-order position, positions advance by IndexOffsets[i]
// (spec §4.4's "duplicates distinguished by offset stride").
// IndexOffsets has length FinalCount, one entry per element this PE
// holds after the last level's forward exchange.
type NonUnique struct {
	MultiLevel
	IndexOffsets []uint8
}

func (n *NonUnique) Apply(out []int64, globalIndexOffset int64, comms comm.Hierarchy) error {
	if len(n.IndexOffsets) != n.FinalCount {
		return fmt.Errorf("permutation: NonUnique.IndexOffsets has length %d, want FinalCount %d", len(n.IndexOffsets), n.FinalCount)
	}
	levels := comms.Levels()
	if len(levels) != len(n.Levels) {
		panic(fmt.Sprintf("permutation: NonUnique.Apply depth mismatch: hierarchy has %d levels, permutation recorded %d", len(levels), len(n.Levels)))
	}
	if len(levels) == 0 {
		return fmt.Errorf("permutation: NonUnique.Apply requires at least one hierarchy level")
	}

	var localSum uint64
	for _, o := range n.IndexOffsets {
		localSum += uint64(o)
	}
	top := levels[0].Exchange
	base := top.ExscanSingle(localSum, sumOp)

	cur := make([]int64, n.FinalCount)
	running := int64(base) + globalIndexOffset
	for i, o := range n.IndexOffsets {
		cur[i] = running
		running += int64(o)
	}

	for lvl := len(levels) - 1; lvl >= 0; lvl-- {
		rl := n.Levels[lvl]
		if rl.total() != int64(len(cur)) {
			panic(fmt.Sprintf("permutation: NonUnique.Apply level %d recv-count mismatch: recorded total %d, carrier length %d", lvl, rl.total(), len(cur)))
		}
		ex := levels[lvl].Exchange
		groupSize := ex.Size()
		send := bucketBySource(cur, rl, groupSize)
		recv, err := ex.Alltoallv(send)
		if err != nil {
			return fmt.Errorf("permutation: NonUnique.Apply level %d alltoallv: %w", lvl, err)
		}
		var next []int64
		for _, buf := range recv {
			vals, err := decodeInt64s(buf)
			if err != nil {
				return err
			}
			next = append(next, vals...)
		}
		cur = next
	}

	if len(cur) != len(n.LocalPerm) {
		panic(fmt.Sprintf("permutation: NonUnique.Apply outermost result length %d does not match LocalPerm length %d", len(cur), len(n.LocalPerm)))
	}
	for i, globalIdx := range cur {
		orig := n.LocalPerm[i]
		if orig < 0 || int(orig) >= len(out) {
			return fmt.Errorf("permutation: NonUnique.Apply LocalPerm[%d]=%d out of range for out of length %d", i, orig, len(out))
		}
		out[orig] = globalIdx
	}
	return nil
}
