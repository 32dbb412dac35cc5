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

// Package wire implements the fixed-shape codec used to ship string
// chunks between PEs: three parallel arrays (NUL-separated character
// data, optional 64-bit origin indices, optional LCP integers) with no
// version byte and no self-describing framing, per the transport's
// wire layout. Sizes are recovered from explicit counts, the same way
// callers of ion.Buffer size their own segments explicitly rather than
// relying on any external framing.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Chunk is one exchanged unit: a run of NUL-terminated strings plus
// whichever of the optional side-channels the caller's string-set
// variant carries.
type Chunk struct {
	// Chars is the concatenated, NUL-separated character data,
	// including the trailing NUL of the final string.
	Chars []byte
	// Indices holds one origin-index per string, or is nil if this
	// chunk's string-set variant is not indexed.
	Indices []int64
	// PEIndices holds one origin-PE id per string, or is nil.
	PEIndices []int32
	// LCPs holds one LCP value per string (LCPs[0] is conventionally
	// 0), or is nil if this chunk carries no LCP side-channel.
	LCPs []uint64
}

// Buffer accumulates an encoded Chunk the way ion.Buffer accumulates
// encoded values: append-only, growing the backing slice as needed.
type Buffer struct {
	buf []byte
}

func (b *Buffer) Bytes() []byte { return b.buf }
func (b *Buffer) Reset()        { b.buf = b.buf[:0] }

func (b *Buffer) writeU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Buffer) writeBytes(p []byte) {
	b.writeU64(uint64(len(p)))
	b.buf = append(b.buf, p...)
}

const (
	flagIndices   = 1 << 0
	flagPEIndices = 1 << 1
	flagLCPs      = 1 << 2
)

// Encode appends the wire encoding of c to b.
func Encode(b *Buffer, c *Chunk) {
	flags := byte(0)
	if c.Indices != nil {
		flags |= flagIndices
	}
	if c.PEIndices != nil {
		flags |= flagPEIndices
	}
	if c.LCPs != nil {
		flags |= flagLCPs
	}
	b.buf = append(b.buf, flags)
	b.writeBytes(c.Chars)
	if c.Indices != nil {
		b.writeU64(uint64(len(c.Indices)))
		for _, v := range c.Indices {
			b.writeU64(uint64(v))
		}
	}
	if c.PEIndices != nil {
		b.writeU64(uint64(len(c.PEIndices)))
		for _, v := range c.PEIndices {
			b.writeU64(uint64(uint32(v)))
		}
	}
	if c.LCPs != nil {
		b.writeU64(uint64(len(c.LCPs)))
		for _, v := range c.LCPs {
			b.writeU64(v)
		}
	}
}

// EncodeToBytes is a convenience wrapper that encodes c into a fresh
// buffer and, if compress is true, runs the result through s2 block
// compression (the same library the rest of the domain stack's
// examples reach for when a payload benefits from fast compression
// over a network hop).
func EncodeToBytes(c *Chunk, compress bool) []byte {
	var b Buffer
	Encode(&b, c)
	if !compress {
		return b.Bytes()
	}
	return s2.Encode(nil, b.Bytes())
}

// reader walks a decoded byte slice, panicking (a protocol violation,
// per the error model) on truncation.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u64() uint64 {
	if r.off+8 > len(r.buf) {
		panic("wire: truncated stream")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes() []byte {
	n := int(r.u64())
	if n < 0 || r.off+n > len(r.buf) {
		panic(fmt.Sprintf("wire: truncated byte section of length %d", n))
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

// Decode parses a Chunk previously produced by Encode.
func Decode(buf []byte) (*Chunk, error) {
	if len(buf) == 0 {
		return &Chunk{}, nil
	}
	r := reader{buf: buf}
	flags := r.buf[r.off]
	r.off++
	c := &Chunk{}
	c.Chars = r.bytes()
	if flags&flagIndices != 0 {
		n := int(r.u64())
		c.Indices = make([]int64, n)
		for i := range c.Indices {
			c.Indices[i] = int64(r.u64())
		}
	}
	if flags&flagPEIndices != 0 {
		n := int(r.u64())
		c.PEIndices = make([]int32, n)
		for i := range c.PEIndices {
			c.PEIndices[i] = int32(uint32(r.u64()))
		}
	}
	if flags&flagLCPs != 0 {
		n := int(r.u64())
		c.LCPs = make([]uint64, n)
		for i := range c.LCPs {
			c.LCPs[i] = r.u64()
		}
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("wire: %d trailing bytes after decode", len(r.buf)-r.off)
	}
	return c, nil
}

// DecodeFromBytes mirrors EncodeToBytes: it undoes the optional s2
// pass (detected by the caller, since the wire layout carries no
// version byte to self-describe compression) before decoding.
func DecodeFromBytes(buf []byte, compressed bool) (*Chunk, error) {
	if compressed {
		out, err := s2.Decode(nil, buf)
		if err != nil {
			return nil, fmt.Errorf("wire: s2 decode: %w", err)
		}
		buf = out
	}
	return Decode(buf)
}
