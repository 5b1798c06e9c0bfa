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
)

// EncodeRecordBatch frames a record batch from its header fields and body,
// computing Length and CRC. The segment writer that produces real on-disk
// segments is an external collaborator (spec §1); this encoder exists so
// tests and tooling in this module can produce well-formed fixtures for
// the parser and the remote segment reader without depending on it.
func EncodeRecordBatch(fields RecordBatch, body []byte) RecordBatch {
	header := make([]byte, recordBatchHeaderMinSize)
	length := int32(recordBatchHeaderMinSize - frameHeaderLen + len(body))
	crc := bodyCRC(body)

	binary.BigEndian.PutUint64(header[offBaseOffset:], uint64(fields.BaseOffset))
	binary.BigEndian.PutUint32(header[offLength:], uint32(length))
	binary.BigEndian.PutUint32(header[offTerm:], uint32(fields.Term))
	header[offMagic] = recordBatchMagic
	binary.BigEndian.PutUint32(header[offCRC:], crc)
	binary.BigEndian.PutUint16(header[offAttributes:], fields.Attributes)
	binary.BigEndian.PutUint32(header[offLastOffsetDelta:], uint32(fields.LastOffsetDelta))
	binary.BigEndian.PutUint64(header[offFirstTimestamp:], uint64(fields.FirstTimestamp))
	binary.BigEndian.PutUint64(header[offMaxTimestamp:], uint64(fields.MaxTimestamp))
	binary.BigEndian.PutUint64(header[offProducerID:], uint64(fields.ProducerID))
	binary.BigEndian.PutUint16(header[offType:], uint16(fields.Type))
	binary.BigEndian.PutUint32(header[offBaseSequence:], 0)
	binary.BigEndian.PutUint32(header[offRecordCount:], uint32(fields.MessageCount))

	fields.CRC = crc
	fields.Bytes = append(header, body...)
	return fields
}

// EncodeSegmentFile concatenates framed record batches in order, the
// on-disk format spec §6 describes: "a sequence of record batches". No
// segment-level header or footer wraps them.
func EncodeSegmentFile(batches []RecordBatch) []byte {
	buf := &bytes.Buffer{}
	for _, b := range batches {
		buf.Write(b.Bytes)
	}
	return buf.Bytes()
}
