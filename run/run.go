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

// Package run defines the identifier shared across every PE of a single
// distributed sort invocation: a run-wide UUID used both for telemetry
// correlation (every log line a dms.Driver or ses.Driver emits carries
// it) and, folded together with a PE's own rank, as the seed for
// reproducible tie-breaking randomness (spec §9's "seed it from a
// deterministic cross-PE scheme (rank + run-id)").
package run

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// ID is a run-wide identifier. Every PE participating in the same
// distributed sort must be constructed with the identical ID (typically
// generated once by whichever PE launches the job and broadcast, or
// derived out-of-band from a job scheduler's own run identifier).
type ID struct {
	u uuid.UUID
}

// New generates a fresh, random ID for a new run.
func New() ID { return ID{u: uuid.New()} }

// FromUUID wraps an existing uuid.UUID as a run ID, e.g. one supplied by
// an external orchestrator rather than generated locally.
func FromUUID(u uuid.UUID) ID { return ID{u: u} }

// String returns the canonical UUID text form, used as the correlation
// key telemetry.Sink methods key their log lines on.
func (id ID) String() string { return id.u.String() }

// Seed derives the uint64 seed reproducible PRNGs (rquick.NewRNG) key
// off of alongside a PE's rank: the ID's first eight bytes, which is
// exactly as good a seed source as any other slice of a UUIDv4's 128
// bits of randomness.
func (id ID) Seed() uint64 {
	return binary.LittleEndian.Uint64(id.u[:8])
}
