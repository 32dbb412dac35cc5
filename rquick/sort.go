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

package rquick

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/losertree"
	"github.com/sneller-labs/dsort/strset"
)

func lessView(a, b strset.View) bool { return a.Less(b) }

// Sort partitions and locally finishes a distributed quicksort over h:
// at each level (spec's "recursive RQuick maps naturally to an iterative
// loop over sub-communicators of halving size", walked here via the same
// comm.Hierarchy abstraction the DMS driver consumes, rather than a
// separate ad hoc communicator-splitting primitive), a median is
// selected, the local run is partitioned around it, and the "less" half
// is routed to the current group's left sub-group while "greater-or-
// equal" goes right — mirroring exactly how NewLocalHierarchy itself
// subdivides a group's rank range in two. Every level in h must have
// NumGroups == 2; a hierarchy built for RQuick's own use should be
// constructed with an all-twos fanout.
func Sort(h comm.Hierarchy, local *strset.Container, sampleSize int, rng *RNG) (*strset.Container, error) {
	views := append([]strset.View(nil), local.Views()...)
	slices.SortFunc(views, lessView)

	for lvlIdx, lvl := range h.Levels() {
		if lvl.NumGroups != 2 {
			panic(fmt.Sprintf("rquick: Sort requires a binary sub-communicator hierarchy, level %d has NumGroups=%d", lvlIdx, lvl.NumGroups))
		}
		groupSize := lvl.Exchange.Size()
		if groupSize < 2 {
			continue
		}
		median, err := SelectMedian(lvl.Exchange, views, sampleSize, rng)
		if err != nil {
			return nil, fmt.Errorf("rquick: level %d median selection: %w", lvlIdx, err)
		}

		split := sort.Search(len(views), func(i int) bool { return !views[i].Less(median) })
		less, geq := views[:split], views[split:]

		half := groupSize / 2
		r := lvl.Exchange.Rank()
		send := make([][]byte, groupSize)
		send[r%half] = encodeViews(less)
		send[half+(r%half)] = encodeViews(geq)
		recv, err := lvl.Exchange.Alltoallv(send)
		if err != nil {
			return nil, fmt.Errorf("rquick: level %d partition alltoallv: %w", lvlIdx, err)
		}

		var streams []*losertree.Stream
		for _, buf := range recv {
			rv, err := decodeViews(buf)
			if err != nil {
				return nil, fmt.Errorf("rquick: level %d decode: %w", lvlIdx, err)
			}
			if len(rv) == 0 {
				continue
			}
			streams = append(streams, losertree.NewStream(rv, strset.RecomputedLCPs(rv)))
		}
		if len(streams) == 0 {
			views = nil
			continue
		}
		merged := losertree.New(streams, 0).Merge()
		views = append([]strset.View(nil), merged.Views()...)
	}

	slices.SortFunc(views, lessView)
	total := 0
	for _, v := range views {
		total += len(v.Data)
	}
	b := strset.NewBuilder(total, len(views), false)
	for _, v := range views {
		b.Append(v, 0)
	}
	out := b.Build()
	out.SetLCPs(strset.RecomputedLCPs(out.Views()))
	return out, nil
}
