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

// Package comm defines the message-passing surface the sorting core is
// built against. The core never talks to a network directly: it only
// ever holds a Communicator and a Hierarchy, both consumed as
// interfaces, so that a real MPI-backed implementation can be swapped
// in without touching dms, rquick, ses or losertree.
package comm

import "fmt"

// Communicator is the minimal collective/point-to-point surface the
// core needs from a transport, modeled on the "Consumed" interfaces of
// the message-passing API: size/rank, alltoall, alltoallv, exscan,
// bcast, and tagged point-to-point send/recv with a non-blocking
// variant plus a wait-all primitive.
type Communicator interface {
	// Size returns the number of PEs participating in this communicator.
	Size() int
	// Rank returns this PE's rank in [0, Size()).
	Rank() int

	// Alltoall exchanges one fixed-size value per peer, e.g. exchanging
	// send-count vectors ahead of an Alltoallv.
	Alltoall(send []uint64) ([]uint64, error)

	// Alltoallv exchanges a variable-length byte payload per peer.
	// send must have length Size(); send[d] is shipped to rank d and
	// the returned slice's index s holds whatever rank s shipped here.
	Alltoallv(send [][]byte) ([][]byte, error)

	// ExscanSingle computes, for this rank, op folded over the values
	// contributed by ranks [0, Rank()) in rank order (an exclusive
	// prefix reduction).
	ExscanSingle(value uint64, op func(a, b uint64) uint64) uint64

	// Bcast distributes buf from root to every PE; non-root callers'
	// buf argument is ignored and the broadcast value is returned.
	Bcast(buf []byte, root int) ([]byte, error)

	// Send/Recv are blocking tagged point-to-point primitives.
	Send(buf []byte, dest, tag int) error
	Recv(src, tag int) ([]byte, error)

	// ISend/IRecv are the non-blocking counterparts; the returned
	// Future must be consumed via WaitAll (or Future.Wait) exactly
	// once.
	ISend(buf []byte, dest, tag int) Future
	IRecv(src, tag int) Future

	// WaitAll blocks until every supplied Future has completed,
	// returning the first error encountered, if any.
	WaitAll(futures ...Future) error
}

// Future is a handle to an outstanding non-blocking operation.
// For ISend, Bytes() is nil once Wait returns without error.
// For IRecv, Bytes() holds the received payload once Wait returns.
type Future interface {
	Wait() error
	Bytes() []byte
}

// Level is one stage of a sub-communicator hierarchy: a group of PEs
// that will exchange data amongst themselves (Exchange) before the
// result is reinterpreted in the coarser grouping (Orig).
type Level struct {
	// Exchange is the communicator used to redistribute strings among
	// the NumGroups target groups at this level.
	Exchange Communicator
	// Orig is the communicator over the PEs that entered this level
	// (before it was further subdivided into Exchange's groups).
	Orig Communicator
	// NumGroups is the number of target groups this level partitions
	// Orig's strings into.
	NumGroups int
	// GroupSize is the number of PEs in each of those groups.
	GroupSize int
}

// Hierarchy is an iterable sequence of Levels, ordered coarsest
// (root, largest groups) to finest (last level before a PE's final
// slice is fixed).
type Hierarchy interface {
	Levels() []Level
}

// SliceHierarchy is the trivial Hierarchy implementation: a
// precomputed slice of Levels, as produced by NewLocalHierarchy.
type SliceHierarchy []Level

func (s SliceHierarchy) Levels() []Level { return []Level(s) }

// ErrCountMismatch is a protocol-violation error: a peer reported a
// different message length than what was received. Per the error
// model, this is always fatal to the enclosing collective.
type ErrCountMismatch struct {
	Peer     int
	Expected int
	Got      int
}

func (e *ErrCountMismatch) Error() string {
	return fmt.Sprintf("comm: count mismatch with peer %d: expected %d, got %d", e.Peer, e.Expected, e.Got)
}
