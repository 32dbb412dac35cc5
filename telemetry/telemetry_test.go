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

package telemetry_test

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/sneller-labs/dsort/telemetry"
)

func TestNopSinkNeverPanics(t *testing.T) {
	var s telemetry.Sink = telemetry.NopSink{}
	s.Level("run", 0, 1, time.Second, 100, 10)
	s.Event("run", 0, "hello")
	s.MemoryHighWaterMark("run", 0, 1024)
}

func TestLogSinkFormatsMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	var s telemetry.Sink = &telemetry.LogSink{L: logger}

	s.Level("run-1", 2, 3, 5*time.Millisecond, 4096, 128)
	s.Event("run-1", 2, "local sort complete")
	s.MemoryHighWaterMark("run-1", 2, 65536)

	out := buf.String()
	for _, want := range []string{"run=run-1", "rank=2", "level=3", "local sort complete", "rss_high_water_mark=65536"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q; got:\n%s", want, out)
		}
	}
}

func TestReadMemoryHighWaterMarkPositive(t *testing.T) {
	hwm, err := telemetry.ReadMemoryHighWaterMark()
	if err != nil {
		t.Fatal(err)
	}
	if hwm <= 0 {
		t.Fatalf("ReadMemoryHighWaterMark() = %d, want > 0", hwm)
	}
}
