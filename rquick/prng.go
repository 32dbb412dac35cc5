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
	"encoding/binary"
	"math/rand/v2"
)

// RNG is the small buffered bit source median selection uses to break
// ties between two central windows without systematic bias. It is seeded
// deterministically from (rank, runID) so a test run with a fixed runID
// always reproduces the same tie-breaking decisions, per spec §9's
// design note on reproducible replays.
type RNG struct {
	r *rand.Rand
}

// NewRNG derives a ChaCha8-backed generator from rank and runID. Two
// calls with the same (rank, runID) always produce the same bit
// sequence.
func NewRNG(rank int, runID uint64) *RNG {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[0:8], runID)
	binary.LittleEndian.PutUint64(seed[8:16], uint64(rank))
	src := rand.NewChaCha8(seed)
	return &RNG{r: rand.New(src)}
}

// Bit returns the next pseudo-random boolean.
func (g *RNG) Bit() bool { return g.r.Uint64()&1 == 1 }
