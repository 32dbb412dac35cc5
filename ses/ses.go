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

// Package ses implements Space-Efficient Sort: a global sort over
// string data too large to replicate wholesale during an all-to-all.
// Rather than shipping every string to a single "owner" rank per
// quantile, it sorts locally, cuts the combined input into quantiles
// sized so any one quantile's data fits comfortably in an all-to-all,
// and resolves each quantile's cross-PE order by running the ordinary
// distributed merge-sort driver (package dms) recursively over the
// same communicator hierarchy for that quantile alone — the caller
// applies the resulting permutation wherever it needs the actual bytes
// moved.
package ses

import (
	"fmt"
	"time"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/dms"
	"github.com/sneller-labs/dsort/ints"
	"github.com/sneller-labs/dsort/radix"
	"github.com/sneller-labs/dsort/run"
	"github.com/sneller-labs/dsort/strset"
	"github.com/sneller-labs/dsort/telemetry"
)

// OriginRef identifies which PE's which local input position produced
// one string: the payload of the distributed permutation SES returns.
type OriginRef struct {
	PE    int32
	Index int64
}

// Driver runs Space-Efficient Sort using the same Sample/Partition/
// Redistribute collaborator interfaces dms.Driver consumes — both for
// the quantile-boundary step (spec §4.5 step 2: "sampling + distributed
// partition, reusing RQuick and the partition policy") and, recursively,
// for resolving each quantile's cross-PE order via an inner dms.Driver.
// Telemetry and RunID are optional, mirroring dms.Driver: a zero-value
// pair disables reporting entirely.
type Driver struct {
	Sample       dms.SamplePolicy
	Partition    dms.PartitionPolicy
	Redistribute dms.RedistributionPolicy
	QuantileSize int
	Telemetry    telemetry.Sink
	RunID        run.ID
}

// New builds a Driver targeting quantiles of approximately quantileSize
// bytes each, with telemetry reporting disabled.
func New(sample dms.SamplePolicy, partition dms.PartitionPolicy, redistribute dms.RedistributionPolicy, quantileSize int) *Driver {
	return &Driver{Sample: sample, Partition: partition, Redistribute: redistribute, QuantileSize: quantileSize}
}

// Sort runs Space-Efficient Sort over h. local's views must already
// carry this PE's rank in View.PE and each view's local input position
// in View.Index — those tags, not the underlying bytes, are what
// travel once a quantile's boundaries are known; Sort panics if any
// view is missing either tag. It returns this PE's contiguous slice of
// the global (origin_PE, origin_index) ordering.
func (d *Driver) Sort(local *strset.Container, h comm.Hierarchy) ([]OriginRef, error) {
	levels := h.Levels()
	if len(levels) == 0 {
		return nil, fmt.Errorf("ses: Sort requires at least one hierarchy level")
	}
	top := levels[0].Exchange
	p := top.Size()
	start := time.Now()

	views := append([]strset.View(nil), local.Views()...)
	for _, v := range views {
		if !v.HasPE() || !v.HasIndex() {
			panic("ses: Sort requires every input view to carry both PE and Index tags")
		}
	}
	radix.Sort(views)

	var localLen uint64
	for _, v := range views {
		localLen += uint64(len(v.Data))
	}
	lens, err := top.Alltoall(broadcastRow(p, localLen))
	if err != nil {
		return nil, fmt.Errorf("ses: length gather: %w", err)
	}
	var total uint64
	for _, l := range lens {
		total += l
	}
	if total == 0 {
		return nil, nil
	}
	if d.QuantileSize <= 0 {
		return nil, fmt.Errorf("ses: QuantileSize must be positive, got %d", d.QuantileSize)
	}
	// Quantiles are sized from total byte length, not string count, so
	// QuantileSize actually bounds the volume any one quantile's
	// recursive dms.Driver call moves per round — a handful of very
	// long strings must still split across quantiles.
	numQuantiles := int((total + uint64(d.QuantileSize) - 1) / uint64(d.QuantileSize))
	// Cap at one quantile per PE: correctness never depends on this
	// cap, only how finely the space-efficiency knob can be turned.
	numQuantiles = ints.Clamp(numQuantiles, 1, p)

	splitters, err := d.Sample.SampleSplitters(views, numQuantiles, top)
	if err != nil {
		return nil, fmt.Errorf("ses: sample: %w", err)
	}
	intervalSizes, err := d.Partition.ComputePartition(views, splitters)
	if err != nil {
		return nil, fmt.Errorf("ses: partition: %w", err)
	}
	if len(intervalSizes) != numQuantiles {
		panic(fmt.Sprintf("ses: partition policy returned %d intervals, want %d", len(intervalSizes), numQuantiles))
	}

	inner := &dms.Driver{Sample: d.Sample, Partition: d.Partition, Redistribute: d.Redistribute}

	var out []OriginRef
	var bytesMoved int64
	off := 0
	for _, size := range intervalSizes {
		chunk := views[off : off+int(size)]
		off += int(size)

		// Every PE calls this collectively for the same quantile index,
		// even when its own chunk is empty: h's collectives require
		// every rank to participate the same number of times. Passing
		// localPerm=nil leaves View.PE/Index completely untouched by
		// dms.Driver.Sort's own bookkeeping, so the sorted output's
		// tags directly ARE the origin refs this quantile owns, with no
		// separate wire encoding needed here.
		quantile := containerFromViews(chunk)
		sorted, _, err := inner.Sort(quantile, nil, h)
		if err != nil {
			return nil, fmt.Errorf("ses: quantile sort: %w", err)
		}
		for _, v := range sorted.Views() {
			out = append(out, OriginRef{PE: v.PE, Index: v.Index})
			bytesMoved += int64(len(v.Data))
		}
	}

	if d.Telemetry != nil {
		d.Telemetry.Level(d.RunID.String(), top.Rank(), 0, time.Since(start), bytesMoved, int64(len(out)))
		d.Telemetry.Event(d.RunID.String(), top.Rank(), fmt.Sprintf("ses sort complete, %d quantiles, %d final refs", numQuantiles, len(out)))
	}
	return out, nil
}

// containerFromViews builds a temporary Container over a contiguous
// slice of an already-sorted run, preserving each View's PE/Index tags
// verbatim so the recursive dms.Driver.Sort call can reuse them as its
// own origin-tag payload.
func containerFromViews(views []strset.View) *strset.Container {
	total := 0
	for _, v := range views {
		total += len(v.Data)
	}
	b := strset.NewBuilder(total, len(views), false)
	for _, v := range views {
		b.Append(v, 0)
	}
	return b.Build()
}

func broadcastRow(size int, value uint64) []uint64 {
	row := make([]uint64, size)
	for i := range row {
		row[i] = value
	}
	return row
}
