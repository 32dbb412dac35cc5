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

package samplepolicy

import (
	"github.com/sneller-labs/dsort/strset"
	"github.com/sneller-labs/dsort/wire"
)

// encodeCandidates/decodeCandidates carry candidate splitter strings
// (and their optional origin metadata) between the candidate-gather and
// broadcast rounds, reusing strset's Chunk codec exactly the way
// rquick's own wire helpers do.
func encodeCandidates(views []strset.View) []byte {
	total := 0
	for _, v := range views {
		total += len(v.Data)
	}
	b := strset.NewBuilder(total, len(views), false)
	for _, v := range views {
		b.Append(v, 0)
	}
	return wire.EncodeToBytes(b.Build().ToChunk(), false)
}

func decodeCandidates(buf []byte) ([]strset.View, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	chunk, err := wire.DecodeFromBytes(buf, false)
	if err != nil {
		return nil, err
	}
	return strset.FromChunk(chunk).Views(), nil
}
