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

package run_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/sneller-labs/dsort/run"
)

func TestFromUUIDRoundTripsString(t *testing.T) {
	u := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	id := run.FromUUID(u)
	if id.String() != u.String() {
		t.Fatalf("String() = %q, want %q", id.String(), u.String())
	}
}

func TestSeedIsDeterministicPerID(t *testing.T) {
	u := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	a := run.FromUUID(u).Seed()
	b := run.FromUUID(u).Seed()
	if a != b {
		t.Fatalf("Seed() not deterministic: %d != %d", a, b)
	}
}

func TestSeedDiffersAcrossIDs(t *testing.T) {
	a := run.New().Seed()
	b := run.New().Seed()
	if a == b {
		t.Fatalf("two fresh run.New() IDs produced the same seed: %d", a)
	}
}

func TestNewProducesDistinctIDs(t *testing.T) {
	if run.New().String() == run.New().String() {
		t.Fatal("run.New() produced two identical IDs")
	}
}
