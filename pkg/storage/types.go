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

// BatchType distinguishes data batches from control/transactional markers
// that count toward the physical offset space but not the logical one.
type BatchType uint16

const (
	BatchTypeData    BatchType = 0
	BatchTypeControl BatchType = 1
	BatchTypeTxnMark BatchType = 2
)

// RecordBatch carries one on-disk record batch plus the header fields
// needed for offset bookkeeping, without decoding individual records.
type RecordBatch struct {
	BaseOffset      int64
	LastOffsetDelta int32
	MessageCount    int32
	Term            int32
	Type            BatchType
	Attributes      uint16
	FirstTimestamp  int64
	MaxTimestamp    int64
	ProducerID      int64
	CRC             uint32
	Bytes           []byte
}

// MaxPhysicalOffset returns the last physical offset covered by the batch.
func (b RecordBatch) MaxPhysicalOffset() int64 {
	return b.BaseOffset + int64(b.LastOffsetDelta)
}

// IsData reports whether the batch counts toward the logical offset space.
func (b RecordBatch) IsData() bool {
	return b.Type == BatchTypeData
}

// ByteRange is an inclusive byte range. No adapter in this module issues
// ranged object-store GETs; downloads always fetch the whole object.
type ByteRange struct {
	Start int64
	End   int64
}

// IndexEntry is a sparse offset-to-byte-position mapping row, as produced
// by the (external) segment writer and consumed here to seek without
// scanning a segment from byte zero.
type IndexEntry struct {
	Offset   int64
	Position int32
}

// SegmentMeta is the small, copyable catalog record a manifest hands out
// for one segment. It is copied by value into a remote segment at
// construction rather than borrowed, per the design note that prefers
// copying over a lifetime-coupled borrow.
type SegmentMeta struct {
	// BasePhysicalOffset and MaxPhysicalOffset bound the segment's physical
	// offset range, inclusive on both ends.
	BasePhysicalOffset int64
	MaxPhysicalOffset  int64
	// BaseLogicalOffset is the consumer-visible offset of the segment's
	// first data record.
	BaseLogicalOffset int64
	// BaseDelta is physical-minus-logical at the segment's base offset.
	BaseDelta int64
	// MaxDelta is physical-minus-logical at the segment's last offset; it
	// is never smaller than BaseDelta.
	MaxDelta  int64
	Term      int32
	SizeBytes int64
	// ObjectKey addresses the segment's object in the backing object store.
	ObjectKey string
	// IndexObjectKey addresses the segment's sparse offset index object,
	// if the writer produced one. Empty means no index is available and a
	// reader must start from byte 0.
	IndexObjectKey string
}
