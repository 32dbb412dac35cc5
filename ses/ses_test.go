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

package ses_test

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/samplepolicy"
	"github.com/sneller-labs/dsort/ses"
	"github.com/sneller-labs/dsort/strset"
)

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

func newDriver(quantileSize int) *ses.Driver {
	return ses.New(
		&samplepolicy.Hashed{Key0: 0xABCD, Key1: 0xEF01, TargetCandidates: 8, MaxSplitterLen: 0},
		samplepolicy.Binary{},
		samplepolicy.EvenSplit{},
		quantileSize,
	)
}

func runSES(t *testing.T, d *ses.Driver, inputs [][]string, comms []comm.Communicator, h func(int) comm.Hierarchy) [][]ses.OriginRef {
	t.Helper()
	p := len(inputs)
	outs := make([][]ses.OriginRef, p)
	errs := make([]error, p)

	var wg sync.WaitGroup
	for r := 0; r < p; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			strs := inputs[r]
			byteStrs := make([][]byte, len(strs))
			indices := make([]int64, len(strs))
			pes := make([]int32, len(strs))
			for i, s := range strs {
				byteStrs[i] = []byte(s)
				indices[i] = int64(i)
				pes[i] = int32(r)
			}
			container := strset.NewContainer(byteStrs, indices, pes)
			out, err := d.Sort(container, h(r))
			if err != nil {
				errs[r] = err
				return
			}
			outs[r] = out
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	return outs
}

// singleLevel wraps a flat []comm.Communicator (as returned directly by
// comm.NewLocalNetwork) into the one-level comm.Hierarchy shape ses.Driver
// expects, without going through comm.NewLocalHierarchy's group-splitting.
type singleLevel struct {
	lvl comm.Level
}

func (s singleLevel) Levels() []comm.Level { return []comm.Level{s.lvl} }

func testSESGlobalOrder(t *testing.T, p, perRank, quantileSize int) {
	comms := comm.NewLocalNetwork(p)
	hs := make([]comm.Hierarchy, p)
	for r := range hs {
		hs[r] = singleLevel{comm.Level{Exchange: comms[r], Orig: comms[r], NumGroups: p, GroupSize: 1}}
	}

	rng := rand.New(rand.NewSource(int64(p*10000 + perRank + quantileSize)))
	inputs := make([][]string, p)
	for r := range inputs {
		inputs[r] = perRankInput(rng, r, perRank)
	}

	outs := runSES(t, newDriver(quantileSize), inputs, comms, func(r int) comm.Hierarchy { return hs[r] })

	// Ground truth: sort every (rank, index) pair by its string.
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

	var got []origin
	for _, refs := range outs {
		for _, ref := range refs {
			got = append(got, origin{int(ref.PE), int(ref.Index), inputs[ref.PE][ref.Index]})
		}
	}
	if len(got) != len(all) {
		t.Fatalf("total output length %d, want %d", len(got), len(all))
	}
	for i := range all {
		if got[i].rank != all[i].rank || got[i].idx != all[i].idx {
			t.Fatalf("mismatch at global position %d: got (rank=%d,idx=%d,%q), want (rank=%d,idx=%d,%q)",
				i, got[i].rank, got[i].idx, got[i].s, all[i].rank, all[i].idx, all[i].s)
		}
	}
	// Each rank's own slice of the output must itself be sorted, since
	// concatenating the per-rank slices in rank order reproduces the
	// global order without any extra bookkeeping.
	for r, refs := range outs {
		for i := 1; i < len(refs); i++ {
			a := inputs[refs[i-1].PE][refs[i-1].Index]
			b := inputs[refs[i].PE][refs[i].Index]
			if b < a {
				t.Fatalf("rank %d output not sorted at position %d: %q before %q", r, i, a, b)
			}
		}
	}
}

func TestSortGlobalOrderSingleQuantile(t *testing.T) {
	testSESGlobalOrder(t, 4, 40, 1<<16) // quantile far larger than the whole input: numQuantiles collapses to 1
}

func TestSortGlobalOrderManyQuantiles(t *testing.T) {
	testSESGlobalOrder(t, 4, 100, 10) // forces numQuantiles > 1, spread unevenly across ranks
}

func TestSortEmptyInputIsHarmless(t *testing.T) {
	p := 3
	comms := comm.NewLocalNetwork(p)
	hs := make([]comm.Hierarchy, p)
	for r := range hs {
		hs[r] = singleLevel{comm.Level{Exchange: comms[r], Orig: comms[r], NumGroups: p, GroupSize: 1}}
	}
	inputs := make([][]string, p) // all empty
	outs := runSES(t, newDriver(64), inputs, comms, func(r int) comm.Hierarchy { return hs[r] })
	for r, refs := range outs {
		if len(refs) != 0 {
			t.Fatalf("rank %d: expected no output for empty input, got %v", r, refs)
		}
	}
}
