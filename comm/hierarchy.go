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

package comm

import "fmt"

// NewLocalHierarchy builds a descending sub-communicator hierarchy over
// size PEs. fanout lists, coarsest level first, how many groups each
// level splits its current group into; size must be evenly divisible
// by the product of fanout. The final (finest) group size is
// size / product(fanout).
//
// It returns one Hierarchy per rank: rank r's Hierarchy.Levels()[i] is
// the Level r participates in at hierarchy depth i, with Exchange and
// Orig communicators scoped to just the PEs in r's group at that
// depth.
func NewLocalHierarchy(size int, fanout []int) ([]Hierarchy, error) {
	if size <= 0 {
		panic("comm: NewLocalHierarchy requires size > 0")
	}
	levelsPerRank := make([][]Level, size)

	type group struct{ ranks []int }
	current := []group{{ranks: identityRanks(size)}}

	for depth, g0 := range fanout {
		if g0 <= 0 {
			panic(fmt.Sprintf("comm: NewLocalHierarchy: fanout[%d] must be > 0", depth))
		}
		var next []group
		for _, grp := range current {
			groupSize := len(grp.ranks)
			if groupSize%g0 != 0 {
				return nil, fmt.Errorf("comm: level %d: group of size %d not divisible by fanout %d", depth, groupSize, g0)
			}
			subSize := groupSize / g0

			orig := NewLocalNetwork(groupSize)
			exch := NewLocalNetwork(groupSize)
			for i, globalRank := range grp.ranks {
				levelsPerRank[globalRank] = append(levelsPerRank[globalRank], Level{
					Exchange:  exch[i],
					Orig:      orig[i],
					NumGroups: g0,
					GroupSize: subSize,
				})
			}
			for gidx := 0; gidx < g0; gidx++ {
				next = append(next, group{ranks: grp.ranks[gidx*subSize : (gidx+1)*subSize]})
			}
		}
		current = next
	}

	out := make([]Hierarchy, size)
	for r := range out {
		out[r] = SliceHierarchy(levelsPerRank[r])
	}
	return out, nil
}

func identityRanks(n int) []int {
	r := make([]int, n)
	for i := range r {
		r[i] = i
	}
	return r
}
