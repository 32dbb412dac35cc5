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

// Package config loads the runtime tuning surface shared by dms, ses
// and rquick from YAML, the same way the teacher loads its own
// structured configuration (sigs.k8s.io/yaml wrapping JSON struct
// tags over a YAML document).
package config

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// RedistributionStrategy names which RedistributionPolicy a Driver
// should be built with.
type RedistributionStrategy string

const (
	RedistributeEvenSplit RedistributionStrategy = "even-split"
)

// AlltoallVariant names an alternative all-to-all implementation
// strategy the transport layer may pick between; the in-process
// comm.LocalNetwork only implements "direct", but the field is kept in
// the config surface so a real transport can read it.
type AlltoallVariant string

const (
	AlltoallDirect AlltoallVariant = "direct"
)

// Config is the compile-time/runtime tuning surface: prefix-doubling,
// redistribution strategy, alltoall variant, LCP-aware RQuick, a
// shared-memory sort fallback toggle, RQuick-as-global-sort, prefix
// compression in the alltoall wire format, and the SES quantile size.
type Config struct {
	PrefixDoublingEnabled bool                    `json:"prefixDoublingEnabled"`
	Redistribution        RedistributionStrategy  `json:"redistribution"`
	Alltoall              AlltoallVariant         `json:"alltoall"`
	LCPAwareRQuick        bool                    `json:"lcpAwareRQuick"`
	SharedMemorySortBelow int                     `json:"sharedMemorySortBelow"`
	RQuickAsGlobalSort    bool                    `json:"rquickAsGlobalSort"`
	CompressPrefixes      bool                    `json:"compressPrefixes"`
	WireCompress          bool                    `json:"wireCompress"`
	QuantileSize          int                     `json:"quantileSize"`
	SampleCandidates      int                     `json:"sampleCandidates"`
	MaxSplitterLen        int                     `json:"maxSplitterLen"`
}

// Default returns the configuration used when no override file is
// supplied: prefix doubling and prefix compression on, direct
// all-to-all, no shared-memory fallback, RQuick used only for
// splitter selection (not as the top-level global sorter).
func Default() Config {
	return Config{
		PrefixDoublingEnabled: true,
		Redistribution:        RedistributeEvenSplit,
		Alltoall:              AlltoallDirect,
		LCPAwareRQuick:        true,
		SharedMemorySortBelow: 0,
		RQuickAsGlobalSort:    false,
		CompressPrefixes:      true,
		WireCompress:          false,
		QuantileSize:          1 << 16,
		SampleCandidates:      256,
		MaxSplitterLen:        100 * 5, // 100*(avg-LCP + 5) with avg-LCP assumed 0 until measured
	}
}

// Load parses a YAML document into a Config, starting from Default()
// so an override file only needs to set the fields it cares about.
func Load(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}
