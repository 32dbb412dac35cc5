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

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/sneller-labs/dsort/strset"
)

func viewsOf(strs ...string) []strset.View {
	out := make([]strset.View, len(strs))
	for i, s := range strs {
		out[i] = strset.View{Data: []byte(s), Index: strset.NoIndex, PE: strset.NoPE}
	}
	return out
}

func lcpsOf(views []strset.View) []uint64 {
	return strset.RecomputedLCPs(views)
}

// S3: single-PE merge {"xyz","xy","x"} sorted individually then merged
// against each other still yields x, xy, xyz with LCPs [0,1,2] — here
// exercised as a 3-way merge of three singleton streams, the smallest
// possible k-way case.
func TestMergeSingletonStreams(t *testing.T) {
	a := viewsOf("xyz")
	b := viewsOf("xy")
	c := viewsOf("x")
	tree := New([]*Stream{
		NewStream(a, lcpsOf(a)),
		NewStream(b, lcpsOf(b)),
		NewStream(c, lcpsOf(c)),
	}, 0)
	out := tree.Merge()
	got := stringsOf(out)
	want := []string{"x", "xy", "xyz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	wantLCP := []uint64{0, 1, 2}
	if !reflect.DeepEqual(out.LCPs(), wantLCP) {
		t.Fatalf("lcps = %v, want %v", out.LCPs(), wantLCP)
	}
}

func stringsOf(c *strset.Container) []string {
	out := make([]string, c.Len())
	for i := 0; i < c.Len(); i++ {
		out[i] = string(c.View(i).Data)
	}
	return out
}

func TestMergeTwoRunsSorted(t *testing.T) {
	a := viewsOf("apple", "cherry")
	b := viewsOf("banana", "date")
	tree := New([]*Stream{
		NewStream(a, lcpsOf(a)),
		NewStream(b, lcpsOf(b)),
	}, 0)
	out := tree.Merge()
	got := stringsOf(out)
	want := []string{"apple", "banana", "cherry", "date"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !out.Sorted() {
		t.Fatal("expected sorted output")
	}
	if !reflect.DeepEqual(out.LCPs(), strset.RecomputedLCPs(out.Views())) {
		t.Fatalf("lcp mismatch: %v vs recomputed %v", out.LCPs(), strset.RecomputedLCPs(out.Views()))
	}
}

// TestMergeRandom checks testable property 2 (global correctness) and
// property 1's local analogue (sortedness + multiset preservation)
// against a reference sequential sort, for a random collection of
// sorted runs.
func TestMergeRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const k = 7
	var all []string
	var streams []*Stream
	for i := 0; i < k; i++ {
		n := rng.Intn(30)
		strs := make([]string, n)
		for j := range strs {
			strs[j] = randString(rng, 1+rng.Intn(6))
		}
		sort.Strings(strs)
		views := viewsOf(strs...)
		streams = append(streams, NewStream(views, lcpsOf(views)))
		all = append(all, strs...)
	}
	tree := New(streams, 0)
	out := tree.Merge()
	got := stringsOf(out)
	sort.Strings(all)
	if !reflect.DeepEqual(got, all) {
		t.Fatalf("merge output does not match reference sort:\ngot  %v\nwant %v", got, all)
	}
	if !out.Sorted() {
		t.Fatal("merge output is not sorted")
	}
	if !reflect.DeepEqual(out.LCPs(), strset.RecomputedLCPs(out.Views())) {
		t.Fatalf("lcp array does not match recomputed-from-scratch lcp array")
	}
}

func randString(rng *rand.Rand, n int) string {
	const alphabet = "abc"
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(buf)
}

func TestMergeEmptyStreamsAreSkipped(t *testing.T) {
	a := viewsOf("a", "b")
	empty := []strset.View{}
	tree := New([]*Stream{
		NewStream(a, lcpsOf(a)),
		NewStream(empty, nil),
	}, 0)
	out := tree.Merge()
	if out.Len() != 2 {
		t.Fatalf("expected 2 strings, got %d", out.Len())
	}
}

func TestMergePanicsOnUnsortedInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unsorted stream")
		}
	}()
	a := viewsOf("b", "a") // not sorted
	tree := New([]*Stream{NewStream(a, lcpsOf(a))}, 0)
	tree.Merge()
}

func TestMergeCompressedEquivalence(t *testing.T) {
	// Two streams of full strings, compressed by stripping each
	// element's own LCP against its stream predecessor.
	full := [][]string{
		{"apple", "application", "apply"},
		{"apricot", "apt"},
	}
	var compressed []*CompressedStream
	var plain []*Stream
	for _, strs := range full {
		views := viewsOf(strs...)
		lcps := lcpsOf(views)
		plain = append(plain, NewStream(views, lcps))

		cs := &CompressedStream{
			Views:    make([]strset.View, len(strs)),
			HeadLCPs: make([]int, len(strs)),
		}
		for i, s := range strs {
			h := 0
			if i > 0 {
				h = int(lcps[i])
			}
			cs.Views[i] = strset.View{Data: []byte(s[h:]), Index: strset.NoIndex, PE: strset.NoPE}
			cs.HeadLCPs[i] = h
		}
		compressed = append(compressed, cs)
	}

	plainOut := New(plain, 0).Merge()
	compressedOut := MergeCompressed(compressed, 0)

	if !reflect.DeepEqual(stringsOf(plainOut), stringsOf(compressedOut)) {
		t.Fatalf("compressed and plain merges diverge: %v vs %v", stringsOf(compressedOut), stringsOf(plainOut))
	}
	if !reflect.DeepEqual(plainOut.LCPs(), compressedOut.LCPs()) {
		t.Fatalf("compressed and plain lcp arrays diverge: %v vs %v", compressedOut.LCPs(), plainOut.LCPs())
	}
}

func TestMergeCompressedRejectsBadHeadLCP(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on corrupt headLCP")
		}
	}()
	cs := &CompressedStream{
		Views:    []strset.View{{Data: []byte("a"), Index: strset.NoIndex, PE: strset.NoPE}, {Data: []byte("XYZ"), Index: strset.NoIndex, PE: strset.NoPE}},
		HeadLCPs: []int{0, 5}, // claims 5 shared bytes with a 1-byte predecessor
	}
	MergeCompressed([]*CompressedStream{cs}, 0)
}
