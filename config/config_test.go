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

package config_test

import (
	"testing"

	"github.com/sneller-labs/dsort/config"
)

func TestDefaultIsSelfConsistent(t *testing.T) {
	c := config.Default()
	if c.QuantileSize <= 0 {
		t.Fatalf("Default().QuantileSize = %d, want > 0", c.QuantileSize)
	}
	if c.Redistribution != config.RedistributeEvenSplit {
		t.Fatalf("Default().Redistribution = %q, want %q", c.Redistribution, config.RedistributeEvenSplit)
	}
	if c.Alltoall != config.AlltoallDirect {
		t.Fatalf("Default().Alltoall = %q, want %q", c.Alltoall, config.AlltoallDirect)
	}
}

func TestLoadOverridesOnlySuppliedFields(t *testing.T) {
	c, err := config.Load([]byte(`{"quantileSize": 42, "prefixDoublingEnabled": false}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.QuantileSize != 42 {
		t.Fatalf("QuantileSize = %d, want 42", c.QuantileSize)
	}
	if c.PrefixDoublingEnabled {
		t.Fatalf("PrefixDoublingEnabled = true, want false")
	}
	// Untouched fields keep their Default() value.
	def := config.Default()
	if c.SampleCandidates != def.SampleCandidates {
		t.Fatalf("SampleCandidates = %d, want default %d", c.SampleCandidates, def.SampleCandidates)
	}
	if c.CompressPrefixes != def.CompressPrefixes {
		t.Fatalf("CompressPrefixes = %v, want default %v", c.CompressPrefixes, def.CompressPrefixes)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := config.Load([]byte(`not: [valid`)); err == nil {
		t.Fatal("expected an error for malformed YAML, got nil")
	}
}

func TestLoadAcceptsYAMLSyntax(t *testing.T) {
	c, err := config.Load([]byte("quantileSize: 7\nwireCompress: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.QuantileSize != 7 || !c.WireCompress {
		t.Fatalf("got %+v", c)
	}
}
