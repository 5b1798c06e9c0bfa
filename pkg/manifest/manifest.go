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

// Package manifest holds the per-partition catalog mapping physical
// offset ranges to remote segment metadata: an ordered, append-mostly
// list searched by base physical offset.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/novatechflow/kafscale/pkg/storage"
)

// SegmentMeta is the catalog record type a manifest holds and hands out;
// it is the same small, copyable record a remote segment retains for its
// own lifetime, per the design note preferring a copy over a borrow.
type SegmentMeta = storage.SegmentMeta

// ErrNonContiguous is returned by Append when the new segment's base
// does not immediately follow the catalog's current max.
var ErrNonContiguous = errors.New("manifest: segment is not contiguous with the catalog")

// Manifest is a per-partition, ordered catalog of segments. It is safe
// for concurrent use: readers take a snapshot lock; the catalog is
// immutable from any single reader's perspective for the duration of a
// lookup, per the design's "logically immutable per read" requirement.
type Manifest struct {
	partition string

	mu       sync.RWMutex
	segments []SegmentMeta // sorted by BasePhysicalOffset, contiguous
}

// New constructs an empty manifest for one partition.
func New(partition string) *Manifest {
	return &Manifest{partition: partition}
}

// Partition returns the partition identity this catalog covers.
func (m *Manifest) Partition() string {
	return m.partition
}

// Append adds a segment to the tail of the catalog. The new segment's
// base physical offset must equal the previous tail's max physical
// offset plus one, preserving the contiguous/non-overlapping invariant;
// the first segment in an empty catalog is unconstrained.
func (m *Manifest) Append(seg SegmentMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.segments); n > 0 {
		prev := m.segments[n-1]
		if seg.BasePhysicalOffset != prev.MaxPhysicalOffset+1 {
			return fmt.Errorf("%w: base %d, expected %d following segment ending at %d",
				ErrNonContiguous, seg.BasePhysicalOffset, prev.MaxPhysicalOffset+1, prev.MaxPhysicalOffset)
		}
	}
	m.segments = append(m.segments, seg)
	return nil
}

// Replace atomically swaps the entire catalog contents, validating
// contiguity across the whole set. Used by loaders that materialize a
// full snapshot (e.g. from etcd) rather than appending incrementally.
func (m *Manifest) Replace(segs []SegmentMeta) error {
	sorted := make([]SegmentMeta, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].BasePhysicalOffset < sorted[j].BasePhysicalOffset
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.BasePhysicalOffset != prev.MaxPhysicalOffset+1 {
			return fmt.Errorf("%w: base %d, expected %d following segment ending at %d",
				ErrNonContiguous, cur.BasePhysicalOffset, prev.MaxPhysicalOffset+1, prev.MaxPhysicalOffset)
		}
	}
	m.mu.Lock()
	m.segments = sorted
	m.mu.Unlock()
	return nil
}

// SegmentContaining returns the segment whose [BasePhysicalOffset,
// MaxPhysicalOffset] range contains physicalOffset, via binary search
// over the ordered catalog, and true if found.
func (m *Manifest) SegmentContaining(physicalOffset int64) (SegmentMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segs := m.segments
	i := sort.Search(len(segs), func(i int) bool {
		return segs[i].BasePhysicalOffset > physicalOffset
	})
	if i == 0 {
		return SegmentMeta{}, false
	}
	candidate := segs[i-1]
	if physicalOffset > candidate.MaxPhysicalOffset {
		return SegmentMeta{}, false
	}
	return candidate, true
}

// Next returns the segment immediately following the one based at
// basePhysicalOffset, for forward iteration.
func (m *Manifest) Next(basePhysicalOffset int64) (SegmentMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segs := m.segments
	i := sort.Search(len(segs), func(i int) bool {
		return segs[i].BasePhysicalOffset > basePhysicalOffset
	})
	if i >= len(segs) {
		return SegmentMeta{}, false
	}
	return segs[i], true
}

// Prev returns the segment immediately preceding the one based at
// basePhysicalOffset, for backward iteration.
func (m *Manifest) Prev(basePhysicalOffset int64) (SegmentMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segs := m.segments
	i := sort.Search(len(segs), func(i int) bool {
		return segs[i].BasePhysicalOffset >= basePhysicalOffset
	})
	if i == 0 {
		return SegmentMeta{}, false
	}
	return segs[i-1], true
}

// Len returns the number of segments currently cataloged.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}

// Snapshot returns a copy of the full ordered catalog, for loaders and
// diagnostics. Mutating the result does not affect the manifest.
func (m *Manifest) Snapshot() []SegmentMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SegmentMeta, len(m.segments))
	copy(out, m.segments)
	return out
}
