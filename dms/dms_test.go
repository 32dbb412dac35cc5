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

package dms_test

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/dms"
	"github.com/sneller-labs/dsort/permutation"
	"github.com/sneller-labs/dsort/radix"
	"github.com/sneller-labs/dsort/samplepolicy"
	"github.com/sneller-labs/dsort/strset"
)

// perRankInput generates n distinct random strings for one PE, each
// globally unique across the whole test (tagged by rank) so equality
// comparisons never have to reason about the (PE, index) tie-break.
func perRankInput(rng *rand.Rand, rank, n int) []string {
	const alphabet = "abcdefghij"
	out := make([]string, n)
	for i := range out {
		l := 3 + rng.Intn(10)
		buf := make([]byte, l)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		out[i] = fmt.Sprintf("%s-r%d-i%d", buf, rank, i)
	}
	return out
}

func newDriver() *dms.Driver {
	return dms.New(
		&samplepolicy.Hashed{Key0: 0xC0FFEE, Key1: 0xF00D, TargetCandidates: 8, MaxSplitterLen: 0},
		samplepolicy.Binary{},
		samplepolicy.EvenSplit{},
	)
}

// runDMS drives one Sort per rank over comms/hierarchies concurrently
// (every collective call blocks until every participating rank has
// called it, so every rank's Sort must run in its own goroutine) and
// returns each rank's sorted local strings, its localPerm and its
// resulting *permutation.MultiLevel.
func runDMS(t *testing.T, d *dms.Driver, inputs [][]string, hs []comm.Hierarchy) ([][]string, [][]int64, []*permutation.MultiLevel) {
	t.Helper()
	p := len(inputs)
	outStrs := make([][]string, p)
	outPerms := make([]*permutation.MultiLevel, p)
	localPerms := make([][]int64, p)
	errs := make([]error, p)

	var wg sync.WaitGroup
	for r := 0; r < p; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			strs := inputs[r]
			byteStrs := make([][]byte, len(strs))
			indices := make([]int64, len(strs))
			for i, s := range strs {
				byteStrs[i] = []byte(s)
				indices[i] = int64(i)
			}
			container := strset.NewContainer(byteStrs, indices, nil)
			radix.Sort(container.Views())

			localPerm := make([]int64, container.Len())
			for i, v := range container.Views() {
				localPerm[i] = v.Index
			}
			localPerms[r] = localPerm

			out, perm, err := d.Sort(container, localPerm, hs[r])
			if err != nil {
				errs[r] = err
				return
			}
			strsOut := make([]string, out.Len())
			for i, v := range out.Views() {
				strsOut[i] = string(v.Data)
			}
			outStrs[r] = strsOut
			outPerms[r] = perm
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	return outStrs, localPerms, outPerms
}

func flattenSorted(inputs [][]string) []string {
	var all []string
	for _, s := range inputs {
		all = append(all, s...)
	}
	sort.Strings(all)
	return all
}

func testDMSGlobalOrder(t *testing.T, p int, fanout []int, perRank int) {
	hs, err := comm.NewLocalHierarchy(p, fanout)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(int64(p*1000 + perRank)))
	inputs := make([][]string, p)
	for r := range inputs {
		inputs[r] = perRankInput(rng, r, perRank)
	}

	outStrs, _, _ := runDMS(t, newDriver(), inputs, hs)

	for r, strs := range outStrs {
		if !sort.StringsAreSorted(strs) {
			t.Fatalf("rank %d output not sorted: %v", r, strs)
		}
	}
	var got []string
	for _, strs := range outStrs {
		got = append(got, strs...)
	}
	want := flattenSorted(inputs)
	if len(got) != len(want) {
		t.Fatalf("total output length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mismatch at global position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDriverSortGlobalOrderSingleLevel(t *testing.T) {
	testDMSGlobalOrder(t, 4, []int{4}, 30)
}

func TestDriverSortGlobalOrderTwoLevels(t *testing.T) {
	testDMSGlobalOrder(t, 8, []int{2, 4}, 25)
}

func TestDriverSortGlobalOrderUnevenCounts(t *testing.T) {
	p := 4
	hs, err := comm.NewLocalHierarchy(p, []int{4})
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(7))
	counts := []int{1, 50, 0, 12}
	inputs := make([][]string, p)
	for r, n := range counts {
		inputs[r] = perRankInput(rng, r, n)
	}

	outStrs, _, _ := runDMS(t, newDriver(), inputs, hs)
	var got []string
	for _, strs := range outStrs {
		got = append(got, strs...)
	}
	want := flattenSorted(inputs)
	if len(got) != len(want) {
		t.Fatalf("total output length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mismatch at global position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// TestDriverSortPermutationRoundTrip checks that the *permutation.MultiLevel
// each rank gets back correctly maps every original local input string to
// its position in the true global sorted order.
func TestDriverSortPermutationRoundTrip(t *testing.T) {
	p := 4
	fanout := []int{2, 2}
	hs, err := comm.NewLocalHierarchy(p, fanout)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(99))
	inputs := make([][]string, p)
	for r := range inputs {
		inputs[r] = perRankInput(rng, r, 20)
	}

	_, localPerms, perms := runDMS(t, newDriver(), inputs, hs)

	// Ground truth: global rank of every (origin rank, origin local
	// index) pair under a plain lexicographic sort of all strings.
	type origin struct {
		rank, idx int
		s         string
	}
	var all []origin
	for r, strs := range inputs {
		for i, s := range strs {
			all = append(all, origin{r, i, s})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].s < all[j].s })
	wantRank := make(map[[2]int]int64)
	for gr, o := range all {
		wantRank[[2]int{o.rank, o.idx}] = int64(gr)
	}

	outs := make([][]int64, p)
	errs := make([]error, p)
	var wg sync.WaitGroup
	for r := 0; r < p; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			out := make([]int64, len(inputs[r]))
			if err := perms[r].Apply(out, 0, hs[r]); err != nil {
				errs[r] = err
				return
			}
			outs[r] = out
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d Apply: %v", r, err)
		}
	}

	for r := range inputs {
		for i := range inputs[r] {
			want := wantRank[[2]int{r, i}]
			got := outs[r][i]
			if got != want {
				t.Fatalf("rank %d local index %d: global rank = %d, want %d (string %q)", r, i, got, want, inputs[r][i])
			}
		}
	}
	_ = localPerms // sanity: exercised via runDMS/Sort above
}
