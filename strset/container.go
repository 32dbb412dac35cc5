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

// Package strset implements the data model shared by every other
// package in this module: a non-owning View over a byte string plus
// optional origin metadata, and a Container that owns the contiguous
// byte buffer a run of Views points into. Nothing here talks to a
// network or a communicator; it is the leaf of the dependency graph
// every other package builds on.
package strset

import "bytes"

// noIndex/noPE are the sentinel values for a View's optional
// origin-index and origin-PE fields; the string-set variant a
// Container was built with determines whether these are meaningful.
const (
	noIndex int64 = -1
	noPE    int32 = -1
)

// View is a non-owning handle into a Container's byte buffer: a
// pointer (as a slice header), a length, and the optional (PE-id,
// string-index) side channel the spec's data model calls for. A View
// is only valid as long as the Container that produced it has not
// been mutated or dropped.
type View struct {
	Data  []byte
	Index int64 // origin-local index, or noIndex if this variant is not indexed
	PE    int32 // origin PE id, or noPE if this variant does not carry it
}

// NoIndex/NoPE let callers build Views for variants that do not carry
// that piece of metadata.
const (
	NoIndex = noIndex
	NoPE    = noPE
)

func (v View) HasIndex() bool { return v.Index != noIndex }
func (v View) HasPE() bool    { return v.PE != noPE }

// Compare implements the strict total order the whole core relies on
// for deterministic partitioning: plain lexicographic byte order,
// broken by (PE, index) when both sides carry that metadata so that
// duplicate strings still sort into a single deterministic order
// (spec §4.3, RQuick comparator).
func (v View) Compare(o View) int {
	if c := bytes.Compare(v.Data, o.Data); c != 0 {
		return c
	}
	if v.HasPE() && o.HasPE() && v.PE != o.PE {
		if v.PE < o.PE {
			return -1
		}
		return 1
	}
	if v.HasIndex() && o.HasIndex() && v.Index != o.Index {
		if v.Index < o.Index {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether v sorts strictly before o under Compare.
func (v View) Less(o View) bool { return v.Compare(o) < 0 }

// Container owns a contiguous byte buffer plus the parallel array of
// Views that reference it, and an optional parallel LCP array. Once
// built, a Container's byte buffer never moves for the lifetime of any
// merge in progress: every algorithm that produces one pre-sizes its
// Builder from known counts rather than growing it incrementally
// mid-merge.
type Container struct {
	buf   []byte
	views []View
	lcps  []uint64 // nil unless this run carries LCPs
}

// NewContainer copies strs into a single owned backing buffer and
// returns a Container over the resulting Views. indices and pes may be
// nil to build a plain (non-indexed / non-PE-tagged) variant; if
// non-nil they must have the same length as strs.
func NewContainer(strs [][]byte, indices []int64, pes []int32) *Container {
	if indices != nil && len(indices) != len(strs) {
		panic("strset: indices length mismatch")
	}
	if pes != nil && len(pes) != len(strs) {
		panic("strset: pes length mismatch")
	}
	b := NewBuilder(totalLen(strs), len(strs), false)
	for i, s := range strs {
		v := View{Data: s, Index: noIndex, PE: noPE}
		if indices != nil {
			v.Index = indices[i]
		}
		if pes != nil {
			v.PE = pes[i]
		}
		b.Append(v, 0)
	}
	return b.Build()
}

func totalLen(strs [][]byte) int {
	n := 0
	for _, s := range strs {
		n += len(s)
	}
	return n
}

func (c *Container) Len() int         { return len(c.views) }
func (c *Container) View(i int) View  { return c.views[i] }
func (c *Container) Views() []View    { return c.views }
func (c *Container) HasLCP() bool     { return c.lcps != nil }
func (c *Container) LCP(i int) uint64 { return c.lcps[i] }
func (c *Container) LCPs() []uint64   { return c.lcps }

func (c *Container) SetLCPs(l []uint64) {
	if l != nil && len(l) != len(c.views) {
		panic("strset: SetLCPs length mismatch")
	}
	c.lcps = l
}

// ZeroBoundaryLCP clears the LCP at position i, the required step
// whenever two previously-independent sorted runs are concatenated:
// the stored LCP at a run's first surviving element no longer means
// anything once its predecessor in the array is drawn from a
// different run (spec §3, §4.2 step 4).
func (c *Container) ZeroBoundaryLCP(i int) {
	if c.lcps != nil && i >= 0 && i < len(c.lcps) {
		c.lcps[i] = 0
	}
}

// Sorted reports whether the Container's Views are in non-decreasing
// order, i.e. whether it is a valid "Sorted run" per the data model.
func (c *Container) Sorted() bool {
	for i := 1; i < len(c.views); i++ {
		if c.views[i].Less(c.views[i-1]) {
			return false
		}
	}
	return true
}

// Builder accumulates a Container's byte buffer and parallel View/LCP
// arrays incrementally, pre-sized from known counts so the backing
// buffer never reallocates mid-build (the memory-discipline invariant
// that makes it safe to hand out Views before the Container is fully
// built).
type Builder struct {
	buf   []byte
	views []View
	lcps  []uint64
}

// NewBuilder preallocates a Builder for byteCap bytes of character
// data and count strings. If withLCP is true, an LCP array of the same
// count is preallocated alongside the Views.
func NewBuilder(byteCap, count int, withLCP bool) *Builder {
	b := &Builder{
		buf:   make([]byte, 0, byteCap),
		views: make([]View, 0, count),
	}
	if withLCP {
		b.lcps = make([]uint64, 0, count)
	}
	return b
}

// Append copies v's bytes into the Builder's own buffer and records a
// new View pointing into that copy, along with lcp if this Builder was
// created withLCP.
func (b *Builder) Append(v View, lcp uint64) {
	off := len(b.buf)
	b.buf = append(b.buf, v.Data...)
	b.views = append(b.views, View{Data: b.buf[off : off+len(v.Data)], Index: v.Index, PE: v.PE})
	if b.lcps != nil {
		b.lcps = append(b.lcps, lcp)
	}
}

// Len reports how many strings have been appended so far.
func (b *Builder) Len() int { return len(b.views) }

// Build finalizes the Builder into a Container. The Builder must not
// be reused afterwards.
func (b *Builder) Build() *Container {
	return &Container{buf: b.buf, views: b.views, lcps: b.lcps}
}

// RecomputedLCPs returns the LCP array recomputed from scratch by
// direct pairwise comparison, used by tests to check testable property
// 2 (LCP merger correctness) against whatever a merge produced.
func RecomputedLCPs(views []View) []uint64 {
	out := make([]uint64, len(views))
	for i := 1; i < len(views); i++ {
		out[i] = uint64(commonPrefixLen(views[i-1].Data, views[i].Data))
	}
	return out
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
