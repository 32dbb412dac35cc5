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

// Package radix implements the default local string sorter DMS and SES
// build on before any communication happens: most-significant-byte
// radix sort, falling back to a direct comparison sort
// (golang.org/x/exp/slices.SortFunc, the teacher's own pre-1.21
// generics sort helper) once a partition shrinks small enough that
// 256-way bucketing no longer pays for its own overhead.
package radix

import (
	"github.com/sneller-labs/dsort/strset"
	"golang.org/x/exp/slices"
)

// smallCutoff is the partition size below which Sort stops radix
// bucketing and finishes with a direct comparison sort.
const smallCutoff = 24

// numBuckets is 256 byte values plus one bucket (index 0) for strings
// that end exactly at the current depth; byte value b buckets to b+1.
const numBuckets = 257

func lessView(a, b strset.View) bool { return a.Less(b) }

// Sort sorts views in place and returns the resulting LCP array,
// matching the consumed local-sorter interface's shape (depth and
// common_lcp are internal recursion state, not part of the public
// call: a fresh Sort always starts both at zero).
func Sort(views []strset.View) []uint64 {
	sortAt(views, 0)
	return strset.RecomputedLCPs(views)
}

// sortAt assumes every view in views already agrees on bytes
// [0, depth) (guaranteed by the caller's own earlier partitioning
// pass) and orders them by their bytes at index depth onward.
func sortAt(views []strset.View, depth int) {
	if len(views) <= 1 {
		return
	}
	if len(views) <= smallCutoff {
		slices.SortFunc(views, lessView)
		return
	}

	var counts [numBuckets + 1]int
	for _, v := range views {
		counts[bucketOf(v, depth)+1]++
	}
	for i := 1; i <= numBuckets; i++ {
		counts[i] += counts[i-1]
	}

	out := make([]strset.View, len(views))
	next := counts
	for _, v := range views {
		b := bucketOf(v, depth)
		out[next[b]] = v
		next[b]++
	}
	copy(views, out)

	// Bucket 0 holds strings whose length is exactly depth: every
	// string that reached this call already agreed on bytes
	// [0, depth), so a length-depth string in bucket 0 is byte-for-byte
	// identical to any other string that also lands there — nothing
	// left to distinguish, and recursing on it would loop forever
	// (bucketOf never advances past 0 once a string is exhausted).
	for b := 1; b < numBuckets; b++ {
		lo, hi := counts[b], counts[b+1]
		if hi-lo > 1 {
			sortAt(views[lo:hi], depth+1)
		}
	}
}

func bucketOf(v strset.View, depth int) int {
	if depth >= len(v.Data) {
		return 0
	}
	return int(v.Data[depth]) + 1
}
