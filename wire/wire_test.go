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

package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := &Chunk{
		Chars:   []byte("apple\x00banana\x00"),
		Indices: []int64{3, 7},
		LCPs:    []uint64{0, 1},
	}
	var b Buffer
	Encode(&b, c)
	got, err := Decode(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Chars, c.Chars) {
		t.Fatalf("chars mismatch: %q vs %q", got.Chars, c.Chars)
	}
	if !reflect.DeepEqual(got.Indices, c.Indices) {
		t.Fatalf("indices mismatch: %v vs %v", got.Indices, c.Indices)
	}
	if !reflect.DeepEqual(got.LCPs, c.LCPs) {
		t.Fatalf("lcps mismatch: %v vs %v", got.LCPs, c.LCPs)
	}
	if got.PEIndices != nil {
		t.Fatalf("expected nil PEIndices, got %v", got.PEIndices)
	}
}

func TestEncodeDecodeCompressed(t *testing.T) {
	c := &Chunk{Chars: bytes.Repeat([]byte("hello\x00world\x00"), 64)}
	buf := EncodeToBytes(c, true)
	got, err := DecodeFromBytes(buf, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Chars, c.Chars) {
		t.Fatalf("chars mismatch after compression round trip")
	}
}

func TestDecodeEmpty(t *testing.T) {
	c, err := Decode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Chars) != 0 || c.Indices != nil || c.LCPs != nil {
		t.Fatalf("expected zero-value chunk, got %+v", c)
	}
}

func TestDecodeTruncated(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on truncated input")
		}
	}()
	Decode([]byte{flagLCPs, 0, 0, 0})
}
