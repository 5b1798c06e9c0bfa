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
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// recordBatchHeaderMinSize is the fixed header length described in spec
// §6: "61 bytes including size, base offset, record count, CRCs, first/max
// timestamp, producer id, term, type, attributes". The layout mirrors the
// real Kafka RecordBatch wire format field-for-field (which is itself
// exactly 61 bytes), with the partitionLeaderEpoch and producerEpoch slots
// repurposed as this broker's Term and Type fields.
const recordBatchHeaderMinSize = 61

// frameHeaderLen is the prefix (base offset + length) that precedes the
// length-counted remainder of the header and body, matching Kafka's own
// batchLength semantics: Length counts every byte after this prefix.
const frameHeaderLen = 12

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Field byte offsets within the 61-byte header.
const (
	offBaseOffset      = 0  // int64
	offLength          = 8  // int32
	offTerm            = 12 // int32
	offMagic           = 16 // uint8
	offCRC             = 17 // uint32
	offAttributes      = 21 // uint16
	offLastOffsetDelta = 23 // int32
	offFirstTimestamp  = 27 // int64
	offMaxTimestamp    = 35 // int64
	offProducerID      = 43 // int64
	offType            = 51 // uint16
	offBaseSequence    = 53 // int32 (reserved, kept for idempotent-producer compatibility)
	offRecordCount     = 57 // int32
)

const recordBatchMagic uint8 = 2

// NewRecordBatchFromBytes parses a record batch's fixed header and retains
// the full framed bytes (header + body) on the returned value.
func NewRecordBatchFromBytes(data []byte) (RecordBatch, error) {
	if len(data) < recordBatchHeaderMinSize {
		return RecordBatch{}, fmt.Errorf("record batch too small: %d", len(data))
	}
	return RecordBatch{
		BaseOffset:      int64(binary.BigEndian.Uint64(data[offBaseOffset:])),
		LastOffsetDelta: int32(binary.BigEndian.Uint32(data[offLastOffsetDelta:])),
		MessageCount:    int32(binary.BigEndian.Uint32(data[offRecordCount:])),
		Term:            int32(binary.BigEndian.Uint32(data[offTerm:])),
		Type:            BatchType(binary.BigEndian.Uint16(data[offType:])),
		Attributes:      binary.BigEndian.Uint16(data[offAttributes:]),
		FirstTimestamp:  int64(binary.BigEndian.Uint64(data[offFirstTimestamp:])),
		MaxTimestamp:    int64(binary.BigEndian.Uint64(data[offMaxTimestamp:])),
		ProducerID:      int64(binary.BigEndian.Uint64(data[offProducerID:])),
		CRC:             binary.BigEndian.Uint32(data[offCRC:]),
		Bytes:           append([]byte(nil), data...),
	}, nil
}

// PatchRecordBatchBaseOffset overwrites the base offset field in place.
func PatchRecordBatchBaseOffset(batch *RecordBatch, baseOffset int64) {
	binary.BigEndian.PutUint64(batch.Bytes[offBaseOffset:], uint64(baseOffset))
	batch.BaseOffset = baseOffset
}

// bodyCRC computes the CRC32-C checksum over the body bytes that follow the
// fixed header, the value stored in the header's CRC field.
func bodyCRC(body []byte) uint32 {
	return crc32.Checksum(body, crcTable)
}

// CountRecordBatchMessages sums the message counts encoded in a record
// set, a concatenation of framed record batches. Malformed trailing data
// is ignored rather than erroring: this is a best-effort count used
// outside the continuous parser's strict path, where a partial or
// corrupt tail byte range should not prevent counting the batches that
// did frame correctly.
func CountRecordBatchMessages(recordSet []byte) int {
	if len(recordSet) < recordBatchHeaderMinSize {
		return 0
	}
	total := 0
	offset := 0
	for offset+frameHeaderLen <= len(recordSet) {
		batchLen := int(binary.BigEndian.Uint32(recordSet[offset+offLength : offset+offLength+4]))
		if batchLen <= 0 {
			break
		}
		frameLen := frameHeaderLen + batchLen
		if offset+frameLen > len(recordSet) {
			break
		}
		batch := recordSet[offset : offset+frameLen]
		if len(batch) < recordBatchHeaderMinSize {
			break
		}
		total += int(binary.BigEndian.Uint32(batch[offRecordCount : offRecordCount+4]))
		offset += frameLen
	}
	return total
}
