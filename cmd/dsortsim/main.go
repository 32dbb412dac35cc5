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

// dsortsim runs the distributed sort core (dms or ses) against a
// comm.LocalNetwork simulated cluster: every PE is a goroutine in this
// one process rather than a separate rank across a real interconnect.
// It reads newline-delimited strings, round-robins them across -p
// simulated PEs the way a real loader would hand each rank a disjoint
// input shard, sorts, and writes each PE's final slice back out in rank
// order.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sneller-labs/dsort/comm"
	"github.com/sneller-labs/dsort/dms"
	"github.com/sneller-labs/dsort/radix"
	"github.com/sneller-labs/dsort/run"
	"github.com/sneller-labs/dsort/samplepolicy"
	"github.com/sneller-labs/dsort/ses"
	"github.com/sneller-labs/dsort/strset"
	"github.com/sneller-labs/dsort/telemetry"
)

var (
	dashp        int
	dashfanout   string
	dashses      bool
	dashquantile int
	dashv        bool
	dasho        string
)

func init() {
	flag.IntVar(&dashp, "p", 4, "number of simulated PEs")
	flag.StringVar(&dashfanout, "fanout", "", "comma-separated hierarchy fanout, coarsest first (default: -p as a single level)")
	flag.BoolVar(&dashses, "ses", false, "run Space-Efficient Sort instead of the distributed merge-sort driver")
	flag.IntVar(&dashquantile, "quantile", 1<<14, "SES quantile size, in bytes (only used with -ses)")
	flag.BoolVar(&dashv, "v", false, "log per-level telemetry to stderr")
	flag.StringVar(&dasho, "o", "-", "output file (or - for stdout)")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func parseFanout(spec string, p int) []int {
	if spec == "" {
		return []int{p}
	}
	parts := strings.Split(spec, ",")
	out := make([]int, len(parts))
	prod := 1
	for i, s := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n <= 0 {
			exitf("invalid -fanout entry %q\n", s)
		}
		out[i] = n
		prod *= n
	}
	if prod != p {
		exitf("-fanout %v multiplies to %d, want -p %d\n", out, prod, p)
	}
	return out
}

// readInputs round-robins every input line across p shards.
func readInputs(args []string, p int) [][]string {
	var lines []string
	scan := func(r io.Reader) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				lines = append(lines, line)
			}
		}
		if err := sc.Err(); err != nil {
			exitf("reading input: %s\n", err)
		}
	}
	if len(args) == 0 {
		scan(os.Stdin)
	} else {
		for _, a := range args {
			f, err := os.Open(a)
			if err != nil {
				exitf("opening %s: %s\n", a, err)
			}
			scan(f)
			f.Close()
		}
	}
	out := make([][]string, p)
	for i, l := range lines {
		r := i % p
		out[r] = append(out[r], l)
	}
	return out
}

func telemetrySink(verbose bool) telemetry.Sink {
	if !verbose {
		return telemetry.NopSink{}
	}
	return &telemetry.LogSink{L: log.New(os.Stderr, "dsortsim: ", log.LstdFlags)}
}

func runDMS(inputs [][]string, hs []comm.Hierarchy, id run.ID, verbose bool) [][]string {
	p := len(inputs)
	results := make([][]string, p)
	tel := telemetrySink(verbose)

	err := comm.RunGroup(p, func(r int) error {
		byteStrs := make([][]byte, len(inputs[r]))
		for i, s := range inputs[r] {
			byteStrs[i] = []byte(s)
		}
		c := strset.NewContainer(byteStrs, nil, nil)
		radix.Sort(c.Views())

		d := dms.New(
			&samplepolicy.Hashed{Key0: id.Seed(), Key1: id.Seed() ^ 0x9e3779b97f4a7c15, TargetCandidates: 64, MaxSplitterLen: 200},
			samplepolicy.Binary{},
			samplepolicy.EvenSplit{},
		)
		d.CompressPrefixes = true
		d.Telemetry = tel
		d.RunID = id

		out, _, err := d.Sort(c, nil, hs[r])
		if err != nil {
			return fmt.Errorf("rank %d: sort: %w", r, err)
		}
		strs := make([]string, out.Len())
		for i, v := range out.Views() {
			strs[i] = string(v.Data)
		}
		results[r] = strs
		return nil
	})
	if err != nil {
		exitf("%s\n", err)
	}
	return results
}

// runSES resolves each rank's final (origin_PE, origin_index) references
// back into strings by reading directly out of the in-process inputs
// slices. A real cluster would need one more round of communication
// here (fetch the actual bytes from whichever PE holds origin_index);
// the simulator can skip it because every simulated PE's input already
// lives in the same address space.
func runSES(inputs [][]string, hs []comm.Hierarchy, id run.ID, verbose bool, quantileSize int) [][]string {
	p := len(inputs)
	refsPerRank := make([][]ses.OriginRef, p)
	tel := telemetrySink(verbose)

	err := comm.RunGroup(p, func(r int) error {
		byteStrs := make([][]byte, len(inputs[r]))
		indices := make([]int64, len(inputs[r]))
		pes := make([]int32, len(inputs[r]))
		for i, s := range inputs[r] {
			byteStrs[i] = []byte(s)
			indices[i] = int64(i)
			pes[i] = int32(r)
		}
		c := strset.NewContainer(byteStrs, indices, pes)

		d := ses.New(
			&samplepolicy.Hashed{Key0: id.Seed(), Key1: id.Seed() ^ 0x9e3779b97f4a7c15, TargetCandidates: 64, MaxSplitterLen: 200},
			samplepolicy.Binary{},
			samplepolicy.EvenSplit{},
			quantileSize,
		)
		d.Telemetry = tel
		d.RunID = id

		refs, err := d.Sort(c, hs[r])
		if err != nil {
			return fmt.Errorf("rank %d: sort: %w", r, err)
		}
		refsPerRank[r] = refs
		return nil
	})
	if err != nil {
		exitf("%s\n", err)
	}

	results := make([][]string, p)
	for r, refs := range refsPerRank {
		strs := make([]string, len(refs))
		for i, ref := range refs {
			strs[i] = inputs[ref.PE][ref.Index]
		}
		results[r] = strs
	}
	return results
}

func main() {
	flag.Parse()
	if dashp <= 0 {
		exitf("-p must be positive\n")
	}
	fanout := parseFanout(dashfanout, dashp)
	hs, err := comm.NewLocalHierarchy(dashp, fanout)
	if err != nil {
		exitf("building hierarchy: %s\n", err)
	}

	id := run.New()
	inputs := readInputs(flag.Args(), dashp)

	var perRank [][]string
	if dashses {
		perRank = runSES(inputs, hs, id, dashv, dashquantile)
	} else {
		perRank = runDMS(inputs, hs, id, dashv)
	}

	var w io.Writer = os.Stdout
	if dasho != "-" {
		f, err := os.Create(dasho)
		if err != nil {
			exitf("creating output: %s\n", err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	for _, strs := range perRank {
		for _, s := range strs {
			fmt.Fprintln(bw, s)
		}
	}
	if err := bw.Flush(); err != nil {
		exitf("writing output: %s\n", err)
	}
}
