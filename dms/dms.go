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

// Package dms implements the distributed merge-sort driver: given a
// locally sorted run and a sub-communicator hierarchy, it produces each
// PE's final globally-ordered slice by running sample/partition/
// redistribute/merge once per hierarchy level, coarsest group first.
// The driver is generic over three collaborator interfaces (SamplePolicy,
// PartitionPolicy, RedistributionPolicy) so a caller can swap in a
// different splitter or load-balancing strategy without touching the
// level-walking loop itself — the default implementations live in the
// sibling samplepolicy package.
package dms

import (
	"fmt"
	"time"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/losertree"
	"github.com/sneller-labs/dsort/permutation"
	"github.com/sneller-labs/dsort/run"
	"github.com/sneller-labs/dsort/strset"
	"github.com/sneller-labs/dsort/telemetry"
)

// SamplePolicy produces splitter candidates from a PE's local sorted
// run and agrees on numGroups-1 global splitters across every PE in ex
// (whatever collective communication that requires is the policy's own
// business; the driver only consumes the result).
type SamplePolicy interface {
	SampleSplitters(views []strset.View, numGroups int, ex comm.Communicator) ([]strset.View, error)
}

// PartitionPolicy turns a set of splitters into per-target-group counts
// of how many of the caller's local views fall in each of the
// len(splitters)+1 intervals. PartitionSampled is the Space-Efficient
// Sort variant (spec's quantile step): it partitions against a
// pre-drawn sample instead of full splitters, deriving its own
// splitters from that sample as part of the same call.
type PartitionPolicy interface {
	ComputePartition(views []strset.View, splitters []strset.View) ([]int64, error)
	PartitionSampled(views []strset.View, sample []strset.View, numGroups int, ex comm.Communicator) ([]int64, error)
}

// RedistributionPolicy turns per-target-group interval sizes into a
// full send-count vector, one entry per rank in ex (length
// numGroups*groupSize). The returned counts must sum to the sum of
// intervalSizes and must partition the caller's already-sorted local
// run into destination-rank-ordered contiguous blocks: the driver ships
// exactly views[cum(sendCounts[:r]) : cum(sendCounts[:r+1])] to rank r,
// so any policy that reassigns byte ranges out of sorted order breaks
// the merge step's ordering guarantee.
type RedistributionPolicy interface {
	ComputeSendCounts(intervalSizes []int64, groupSize int, ex comm.Communicator) ([]int64, error)
}

// Driver runs the DMS protocol against pluggable Sample/Partition/
// Redistribute collaborators. CompressPrefixes enables the wire-compact
// mode where each rank ships strings with their own predecessor's
// common prefix stripped, reconstructed on the far side by
// losertree.MergeCompressed; WireCompress additionally runs the whole
// encoded chunk through s2 block compression.
// Telemetry and RunID are both optional: a zero-value Driver reports
// nothing and needs no run identifier. When Telemetry is set, RunID
// should be too (shared across every PE of the same Sort invocation) so
// its Level events correlate across ranks.
type Driver struct {
	Sample           SamplePolicy
	Partition        PartitionPolicy
	Redistribute     RedistributionPolicy
	CompressPrefixes bool
	WireCompress     bool
	Telemetry        telemetry.Sink
	RunID            run.ID
}

// New builds a Driver from its three collaborator policies, with
// telemetry reporting disabled.
func New(sample SamplePolicy, partition PartitionPolicy, redistribute RedistributionPolicy) *Driver {
	return &Driver{Sample: sample, Partition: partition, Redistribute: redistribute}
}

// temporaryBuffers holds the one piece of per-level scratch state that
// is worth reusing across levels of a single Sort call: the send-slice
// itself, so a long hierarchy doesn't reallocate a []([]byte) at every
// level (spec §5's "every DMS level's temporaries ... reused across
// levels" memory discipline).
type temporaryBuffers struct {
	send [][]byte
}

func (t *temporaryBuffers) sendBufs(n int) [][]byte {
	if cap(t.send) < n {
		t.send = make([][]byte, n)
	}
	t.send = t.send[:n]
	for i := range t.send {
		t.send[i] = nil
	}
	return t.send
}

// Sort runs the DMS protocol over h, starting from local (already
// locally sorted by the caller, e.g. via the radix package). If
// localPerm is non-nil it must have length local.Len() and records, for
// each position in local's initial sorted order, the original input
// index that produced it; when supplied, Sort also returns a
// *permutation.MultiLevel recording the final global position each of
// those original indices was assigned. Pass a nil localPerm to skip
// permutation bookkeeping entirely.
func (d *Driver) Sort(local *strset.Container, localPerm []int64, h comm.Hierarchy) (*strset.Container, *permutation.MultiLevel, error) {
	if localPerm != nil && len(localPerm) != local.Len() {
		return nil, nil, fmt.Errorf("dms: localPerm length %d does not match local container length %d", len(localPerm), local.Len())
	}

	views := append([]strset.View(nil), local.Views()...)
	var buf temporaryBuffers
	var mlevels []permutation.RemoteLevel

	for lvlIdx, lvl := range h.Levels() {
		levelStart := time.Now()
		ex := lvl.Exchange
		groupSize := ex.Size()
		if lvl.NumGroups < 2 || groupSize < 2 {
			// Nothing to redistribute at this level; every element
			// stays put, so its "receive" is the whole local run.
			if localPerm != nil {
				ranks := make([]int32, len(views))
				for i := range ranks {
					ranks[i] = int32(ex.Rank())
				}
				mlevels = append(mlevels, permutation.RemoteLevel{SourceRanks: ranks})
			}
			continue
		}

		splitters, err := d.Sample.SampleSplitters(views, lvl.NumGroups, ex)
		if err != nil {
			return nil, nil, fmt.Errorf("dms: level %d sample: %w", lvlIdx, err)
		}
		intervalSizes, err := d.Partition.ComputePartition(views, splitters)
		if err != nil {
			return nil, nil, fmt.Errorf("dms: level %d partition: %w", lvlIdx, err)
		}
		if len(intervalSizes) != lvl.NumGroups {
			panic(fmt.Sprintf("dms: level %d partition policy returned %d intervals, want %d", lvlIdx, len(intervalSizes), lvl.NumGroups))
		}

		sendCounts, err := d.Redistribute.ComputeSendCounts(intervalSizes, lvl.GroupSize, ex)
		if err != nil {
			return nil, nil, fmt.Errorf("dms: level %d redistribution: %w", lvlIdx, err)
		}
		if len(sendCounts) != groupSize {
			panic(fmt.Sprintf("dms: level %d redistribution policy returned %d send counts, want %d", lvlIdx, len(sendCounts), groupSize))
		}
		var total int64
		for _, c := range sendCounts {
			total += c
		}
		if int(total) != len(views) {
			panic(fmt.Sprintf("dms: level %d redistribution send counts sum to %d, want local run length %d", lvlIdx, total, len(views)))
		}

		if localPerm != nil {
			// Tag each view with the rank sending it forward so the
			// reverse exchange in permutation.RemoteLevel.Apply can
			// route by origin even after this level's Alltoallv
			// arrivals are merged by string value and lose their
			// per-source contiguity.
			rank := int32(ex.Rank())
			for i := range views {
				views[i].PE = rank
			}
		}

		send := buf.sendBufs(groupSize)
		off := 0
		for r, c := range sendCounts {
			if c == 0 {
				continue
			}
			send[r] = encodeStream(views[off:off+int(c)], d.CompressPrefixes, d.WireCompress)
			off += int(c)
		}

		recv, err := ex.Alltoallv(send)
		if err != nil {
			return nil, nil, fmt.Errorf("dms: level %d alltoallv: %w", lvlIdx, err)
		}

		var merged *strset.Container
		if d.CompressPrefixes {
			var streams []*losertree.CompressedStream
			for r, b := range recv {
				cs, err := decodeCompressedStream(b, d.WireCompress)
				if err != nil {
					return nil, nil, fmt.Errorf("dms: level %d decode from rank %d: %w", lvlIdx, r, err)
				}
				if cs == nil {
					continue
				}
				streams = append(streams, cs)
			}
			merged = losertree.MergeCompressed(streams, 0)
		} else {
			var streams []*losertree.Stream
			for r, b := range recv {
				s, err := decodeStream(b, d.WireCompress)
				if err != nil {
					return nil, nil, fmt.Errorf("dms: level %d decode from rank %d: %w", lvlIdx, r, err)
				}
				if s == nil {
					continue
				}
				streams = append(streams, s)
			}
			merged = losertree.New(streams, 0).Merge()
		}

		views = append([]strset.View(nil), merged.Views()...)
		if localPerm != nil {
			sourceRanks := make([]int32, len(views))
			for i, v := range views {
				sourceRanks[i] = v.PE
			}
			mlevels = append(mlevels, permutation.RemoteLevel{SourceRanks: sourceRanks})
		}

		if d.Telemetry != nil {
			var bytesMoved int64
			for _, b := range send {
				bytesMoved += int64(len(b))
			}
			d.Telemetry.Level(d.RunID.String(), ex.Rank(), lvlIdx, time.Since(levelStart), bytesMoved, int64(len(views)))
		}
	}

	total := 0
	for _, v := range views {
		total += len(v.Data)
	}
	b := strset.NewBuilder(total, len(views), true)
	for _, v := range views {
		if localPerm != nil {
			v.PE = strset.NoPE
		}
		b.Append(v, 0)
	}
	out := b.Build()
	out.SetLCPs(strset.RecomputedLCPs(out.Views()))

	var perm *permutation.MultiLevel
	if localPerm != nil {
		perm = &permutation.MultiLevel{
			LocalPerm:  localPerm,
			Levels:     mlevels,
			FinalCount: len(views),
		}
	}
	if d.Telemetry != nil && len(h.Levels()) > 0 {
		rank := h.Levels()[0].Exchange.Rank()
		d.Telemetry.Event(d.RunID.String(), rank, fmt.Sprintf("dms sort complete, %d final strings", len(views)))
		if hwm, err := telemetry.ReadMemoryHighWaterMark(); err == nil {
			d.Telemetry.MemoryHighWaterMark(d.RunID.String(), rank, hwm)
		}
	}
	return out, perm, nil
}
