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

// Package losertree implements the k-way LCP-aware merge that fuses k
// locally sorted runs into one: a fixed-shape tournament (loser) tree
// whose internal nodes cache the LCP of the pair of strings compared
// there, so a later comparison against that same cached pair only ever
// re-scans the bytes past the already-known common prefix.
package losertree

import "github.com/sneller-labs/dsort/strset"

// Stream is one of the k sorted input runs being merged. LCPs[i] must
// equal the LCP of Views[i-1] and Views[i] within this stream alone
// (LCPs[0] is unused/ignored); Views must already be sorted.
type Stream struct {
	Views []strset.View
	LCPs  []uint64
	pos   int
}

// NewStream wraps a sorted run for consumption by a Tree. If lcps is
// nil, each element's LCP against its stream predecessor is computed
// from views here, since Tree.MergeInto seeds every advanced leaf's
// race back to the root with that value.
func NewStream(views []strset.View, lcps []uint64) *Stream {
	if lcps != nil && len(lcps) != len(views) {
		panic("losertree: LCPs length must match Views length")
	}
	if lcps == nil {
		lcps = strset.RecomputedLCPs(views)
	}
	return &Stream{Views: views, LCPs: lcps}
}

func (s *Stream) empty() bool       { return s.pos >= len(s.Views) }
func (s *Stream) head() strset.View { return s.Views[s.pos] }
func (s *Stream) ownLCPAtHead() uint64 {
	if s.LCPs == nil {
		return 0
	}
	return s.LCPs[s.pos]
}

// node is one slot of the tournament tree: which stream currently
// occupies it, and the LCP between that stream's head and whichever
// stream is winning the subtree rooted here.
type node struct {
	idx int
	lcp uint64
}

// Tree is a k-way LCP-aware merger, built as a fixed-shape tournament
// tree grounded on bingmann-lcp_losertree.hpp: a K+1-slot node array
// addressed via the classic `nodeIdx=(nodeIdx+1)/2` walk, with a
// defender/contender comparison game at each internal node. The walk
// needs a power-of-two leaf count, so New pads any other K up to the
// next power of two with empty streams. Construct with New, drain with
// Merge (or MergeInto to reuse a Builder).
type Tree struct {
	streams        []*Stream // 1-indexed: streams[0] unused
	nodes          []node    // 1-indexed: nodes[0] unused; nodes[1] is the current overall winner
	k              int
	knownCommonLCP uint64
}

// New builds a Tree over streams, given a lower bound (knownCommonLcp)
// on the LCP shared by every string across every one of the streams —
// the caller's tightest valid guarantee, 0 if no such guarantee holds
// (e.g. immediately after a redistribution, which destroys any prior
// common-prefix guarantee across chunk boundaries). Every non-empty
// stream must already be internally sorted; that precondition is the
// caller's responsibility and is not re-verified here, since doing so
// would require exactly the unbounded character comparisons this tree
// exists to avoid.
func New(streams []*Stream, knownCommonLCP uint64) *Tree {
	k := 1
	for k < len(streams) {
		k <<= 1
	}
	t := &Tree{
		streams:        make([]*Stream, k+1),
		nodes:          make([]node, k+1),
		k:              k,
		knownCommonLCP: knownCommonLCP,
	}
	copy(t.streams[1:], streams)
	for i := len(streams) + 1; i <= k; i++ {
		t.streams[i] = &Stream{}
	}
	t.init()
	return t
}

// init plays the initial tournament, one leaf at a time, walking each
// new leaf up through whichever ancestor slots are already decided
// (the "nodeIdx even, still above leaf level" folding step below) —
// the standard construction for a loser tree over a power-of-two
// number of leaves, which New guarantees by padding.
func (t *Tree) init() {
	for k := 1; k <= t.k; k++ {
		contender := node{idx: k, lcp: t.knownCommonLCP}
		nodeIdx := t.k + k
		for nodeIdx%2 == 0 && nodeIdx > 2 {
			nodeIdx >>= 1
			t.updateNode(&contender, &t.nodes[nodeIdx])
		}
		nodeIdx = (nodeIdx + 1) / 2
		t.nodes[nodeIdx] = contender
	}
}

// updateNode plays one comparison edge: contender is the candidate
// arriving from below, defender is whatever previously won the
// subtree rooted at this node. Afterward defender holds the pair's
// loser (with defender.lcp set to lcp(loser, winner)) and contender
// holds the winner, ready to keep racing toward the root.
func (t *Tree) updateNode(contender, defender *node) {
	defenderStream := t.streams[defender.idx]
	if defenderStream.empty() {
		return
	}
	contenderStream := t.streams[contender.idx]
	if contenderStream.empty() {
		*contender, *defender = *defender, *contender
		return
	}

	switch {
	case defender.lcp > contender.lcp:
		// defender shares more of the reference prefix than contender
		// does, so defender is the closer (smaller) string.
		*contender, *defender = *defender, *contender
	case defender.lcp == contender.lcp:
		less, lcp := suffixCompare(defenderStream.head(), contenderStream.head(), int(defender.lcp))
		if less {
			*contender, *defender = *defender, *contender
		}
		defender.lcp = uint64(lcp)
	default:
		// defender.lcp < contender.lcp: contender is already known
		// closer to the reference; nothing to do.
	}
}

// suffixCompare reports whether a sorts before b, scanning only from
// byte offset from onward (the caller's already-established common
// prefix length) and returning the true total LCP of a and b. Ties on
// raw bytes fall back to the same (PE, Index) tie-break strset.View.Compare
// uses, so duplicate strings still land in one deterministic order.
func suffixCompare(a, b strset.View, from int) (less bool, lcp int) {
	da, db := a.Data, b.Data
	na, nb := len(da), len(db)
	if from > na || from > nb {
		from = 0
	}
	i := from
	for i < na && i < nb && da[i] == db[i] {
		i++
	}
	switch {
	case i < na && i < nb:
		return da[i] < db[i], i
	case na < nb:
		return true, i
	case nb < na:
		return false, i
	default:
		if a.HasPE() && b.HasPE() && a.PE != b.PE {
			return a.PE < b.PE, i
		}
		if a.HasIndex() && b.HasIndex() && a.Index != b.Index {
			return a.Index < b.Index, i
		}
		return false, i
	}
}

// Len reports how many strings remain unmerged.
func (t *Tree) Len() int {
	n := 0
	for _, s := range t.streams[1:] {
		n += len(s.Views) - s.pos
	}
	return n
}

// Merge drains the tree completely and returns the fused sorted run as
// a fresh Container, with a correctly-computed output LCP array
// (output.LCPs[0] == 0 by convention).
func (t *Tree) Merge() *strset.Container {
	total := 0
	for _, s := range t.streams[1:] {
		for _, v := range s.Views[s.pos:] {
			total += len(v.Data)
		}
	}
	b := strset.NewBuilder(total, t.Len(), true)
	t.MergeInto(b)
	return b.Build()
}

// MergeInto drains the tree into an existing Builder, letting callers
// concatenate several merges into one Container without an extra
// copy — the same "pre-size once, append repeatedly" discipline used
// throughout the DMS driver's per-level temporaries.
func (t *Tree) MergeInto(b *strset.Builder) {
	if t.k == 0 {
		return
	}
	total := t.Len()
	for i := 0; i < total; i++ {
		winnerIdx := t.nodes[1].idx
		s := t.streams[winnerIdx]
		v := s.head()

		lcp := t.nodes[1].lcp
		if i == 0 {
			// nodes[1].lcp after init reflects knownCommonLCP-seeded
			// leaf comparisons, not a real predecessor — there is no
			// predecessor yet, so the output convention's LCPs[0] is
			// unused regardless of what value we write here.
			lcp = 0
		}
		b.Append(v, lcp)
		s.pos++
		if !s.empty() {
			if less, _ := suffixCompare(s.head(), v, 0); less {
				panic("losertree: input streams are not sorted (precondition violation)")
			}
		}

		// Race the just-advanced leaf back up to the root, the same
		// tournament game played during init, so its replacement (or
		// its own next element) is correctly seated for the next
		// extraction.
		contender := node{idx: winnerIdx}
		if !s.empty() {
			contender.lcp = s.ownLCPAtHead()
		}
		nodeIdx := winnerIdx + t.k
		for nodeIdx > 2 {
			nodeIdx = (nodeIdx + 1) / 2
			t.updateNode(&contender, &t.nodes[nodeIdx])
		}
		t.nodes[1] = contender
	}
}

// commonPrefixLenFrom scans a and b starting at byte offset from and
// returns the resulting total common-prefix length; used by
// MergeCompressed to re-verify a compressed stream's recorded headLCP
// rather than to drive merge ordering.
func commonPrefixLenFrom(a, b []byte, from int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := from
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
