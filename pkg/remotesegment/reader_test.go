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

package remotesegment

import (
	"errors"
	"testing"
	"time"

	"github.com/novatechflow/kafscale/pkg/objectstore"
	"github.com/novatechflow/kafscale/pkg/storage"
)

// TestReaderStopsWithDataCorruptionAfterEmittingValidBatches is scenario
// S5: a reader that has already handed out valid batches in an earlier
// ReadSome call returns DataCorruption, with no partial batch in the
// ring, on the call that reaches the corrupted one. A further call after
// that returns empty rather than repeating the error.
func TestReaderStopsWithDataCorruptionAfterEmittingValidBatches(t *testing.T) {
	adapter := objectstore.NewMemoryAdapter()
	good := []storage.RecordBatch{
		buildBatch(0, 1, storage.BatchTypeData),
		buildBatch(1, 1, storage.BatchTypeData),
	}
	bad := buildBatch(2, 1, storage.BatchTypeData)
	bad.Bytes[len(bad.Bytes)-1] ^= 0xFF // flips a body byte without touching the header's CRC field
	all := append(append([]storage.RecordBatch{}, good...), bad)

	seg, c := newTestSegment(t, "orders-0/seg-2", all, adapter)
	defer c.Stop()

	r := NewReader(seg, Config{StartOffset: 0, MaxOffset: 100, MaxBytes: 1 << 20, MaxBatches: 2}, nil)

	out1, err := r.ReadSome(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("first ReadSome: %v", err)
	}
	if len(out1) != 2 {
		t.Fatalf("expected 2 valid batches before corruption, got %d", len(out1))
	}

	out2, err := r.ReadSome(time.Now().Add(time.Second))
	if err == nil {
		t.Fatalf("expected data corruption error")
	}
	if !errors.Is(err, ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
	if len(out2) != 0 {
		t.Fatalf("expected no partial batch in the ring, got %d", len(out2))
	}

	out3, err := r.ReadSome(time.Now().Add(time.Second))
	if err != nil || len(out3) != 0 {
		t.Fatalf("expected a subsequent ReadSome to return empty, got %v, %v", out3, err)
	}
	seg.Stop()
}

// TestReaderDrainsAcrossMultipleBoundedReadSomeCalls exercises the
// consumer-requested-stop path repeatedly: a small per-call batch budget
// forces several ReadSome calls to cover one segment, and every batch
// must be delivered exactly once, in order.
func TestReaderDrainsAcrossMultipleBoundedReadSomeCalls(t *testing.T) {
	adapter := objectstore.NewMemoryAdapter()
	batches := []storage.RecordBatch{
		buildBatch(0, 1, storage.BatchTypeData),
		buildBatch(1, 1, storage.BatchTypeData),
		buildBatch(2, 1, storage.BatchTypeData),
		buildBatch(3, 1, storage.BatchTypeData),
		buildBatch(4, 1, storage.BatchTypeData),
	}
	seg, c := newTestSegment(t, "orders-0/seg-3", batches, adapter)
	defer c.Stop()

	r := NewReader(seg, Config{StartOffset: 0, MaxOffset: 100, MaxBytes: 1 << 20, MaxBatches: 2}, nil)

	var seen []int64
	for {
		out, err := r.ReadSome(time.Now().Add(time.Second))
		if err != nil {
			t.Fatalf("ReadSome: %v", err)
		}
		if len(out) == 0 {
			break
		}
		for _, b := range out {
			seen = append(seen, b.BaseOffset)
		}
	}

	if len(seen) != len(batches) {
		t.Fatalf("expected %d batches total, got %d: %v", len(batches), len(seen), seen)
	}
	for i, off := range seen {
		if off != int64(i) {
			t.Fatalf("expected strictly increasing offsets, batch %d has offset %d", i, off)
		}
	}
	seg.Stop()
}

// TestReaderSkipsNonDataBatchesAndTranslatesLogicalOffsets covers the
// delta bookkeeping: a control batch between two data batches advances
// the running delta without being emitted, and a logical-space
// configuration filters and translates by the post-control delta.
func TestReaderSkipsNonDataBatchesAndTranslatesLogicalOffsets(t *testing.T) {
	adapter := objectstore.NewMemoryAdapter()
	batches := []storage.RecordBatch{
		buildBatch(0, 1, storage.BatchTypeData),
		buildBatch(1, 1, storage.BatchTypeControl),
		buildBatch(2, 1, storage.BatchTypeData),
	}
	seg, c := newTestSegment(t, "orders-0/seg-4", batches, adapter)
	defer c.Stop()

	r := NewReader(seg, Config{StartOffset: 0, MaxOffset: 100, MaxBytes: 1 << 20, MaxBatches: 100, Logical: true}, nil)
	out, err := r.ReadSome(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadSome: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected the control batch to be skipped, leaving 2 data batches, got %d", len(out))
	}
	if out[0].LogicalBase != 0 {
		t.Fatalf("expected first data batch's logical base to be 0, got %d", out[0].LogicalBase)
	}
	if out[1].LogicalBase != 1 {
		t.Fatalf("expected second data batch's logical base to be 1 after the control batch's delta, got %d", out[1].LogicalBase)
	}
	seg.Stop()
}
