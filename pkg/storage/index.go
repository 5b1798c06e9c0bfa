// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	indexMagic = "IDX\x00"
)

// ParseIndex decodes a segment's sparse offset-to-byte-position index, the
// format the (external) segment writer produces and this subsystem only
// ever reads. Entries must be strictly increasing by Offset: a reader's
// seekPosition binary-searches the result, and an out-of-order index would
// make that search silently wrong rather than fail loudly, so ordering is
// checked here once instead of trusted at every lookup site.
func ParseIndex(data []byte) ([]*IndexEntry, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("index too small")
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("invalid index magic")
	}
	reader := bytes.NewReader(data[4:])
	var version uint16
	if err := binary.Read(reader, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}
	var count int32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	var interval int32
	if err := binary.Read(reader, binary.BigEndian, &interval); err != nil {
		return nil, err
	}
	var reserved uint16
	if err := binary.Read(reader, binary.BigEndian, &reserved); err != nil {
		return nil, err
	}
	_ = interval

	entries := make([]*IndexEntry, count)
	for i := int32(0); i < count; i++ {
		var offset int64
		var position int32
		if err := binary.Read(reader, binary.BigEndian, &offset); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &position); err != nil {
			return nil, err
		}
		if i > 0 && offset <= entries[i-1].Offset {
			return nil, fmt.Errorf("index entry %d has offset %d, not strictly greater than preceding offset %d", i, offset, entries[i-1].Offset)
		}
		entries[i] = &IndexEntry{Offset: offset, Position: position}
	}
	return entries, nil
}
