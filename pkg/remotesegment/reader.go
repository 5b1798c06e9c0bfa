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
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/novatechflow/kafscale/pkg/retry"
	"github.com/novatechflow/kafscale/pkg/storage"
)

// Reader drives a segment's continuous batch parser for one reader
// configuration: positions into the segment on first use, then hands out
// bounded batches of record batches on each ReadSome call until the
// configuration's bound is reached or the stream is exhausted.
type Reader struct {
	seg   *RemoteSegment
	cfg   Config
	index []*storage.IndexEntry

	mu      sync.Mutex
	started bool
	done    bool
	file    *os.File
	parser  *storage.ContinuousBatchParser
	cs      *consumerState
}

// NewReader constructs a reader over seg bounded by cfg. index is the
// segment's sparse offset-to-byte-position mapping, consumed to seek
// without scanning from byte zero; pass nil to always start at byte 0.
func NewReader(seg *RemoteSegment, cfg Config, index []*storage.IndexEntry) *Reader {
	return &Reader{seg: seg, cfg: cfg, index: index}
}

// seekPosition returns the largest indexed byte position at or before
// physicalOffset, or 0 if the index is empty or the offset precedes it.
func seekPosition(index []*storage.IndexEntry, physicalOffset int64) int64 {
	i := sort.Search(len(index), func(i int) bool {
		return index[i].Offset > physicalOffset
	})
	if i == 0 {
		return 0
	}
	return int64(index[i-1].Position)
}

// ReadSome returns the next bounded batch of record batches, hydrating
// and positioning into the segment on the first call. A nil, empty
// result with a nil error signals the stream is exhausted; it is safe
// (and a no-op, returning the same empty result) to call again. deadline
// must be a real point in time, not the zero Time: it seeds a fresh
// retry chain root, which treats the zero Time as already-expired.
func (r *Reader) ReadSome(deadline time.Time) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return nil, nil
	}

	if !r.started {
		if err := r.start(deadline); err != nil {
			return nil, err
		}
	}

	if err := r.parser.Run(r.cs.consume); err != nil {
		r.done = true
		r.closeLocked()
		return nil, fmt.Errorf("%w: %v", ErrDataCorruption, err)
	}

	out := r.cs.drain()
	if r.parser.Done() {
		r.done = true
		r.closeLocked()
	}
	return out, nil
}

func (r *Reader) start(deadline time.Time) error {
	chain := retry.NewRoot(context.Background(), deadline, retry.UnlimitedAttempts, nil)
	_, err := r.seg.Hydrate(chain)
	if err != nil {
		return err
	}

	startPhysical := r.cfg.StartOffset
	if r.cfg.Logical {
		startPhysical = r.cfg.StartOffset + r.seg.BaseDelta()
	}
	if startPhysical < r.seg.BasePhysicalOffset() {
		startPhysical = r.seg.BasePhysicalOffset()
	}
	pos := seekPosition(r.index, startPhysical)

	f, err := r.seg.DataStream(pos)
	if err != nil {
		return err
	}
	r.file = f

	remaining := r.seg.meta.SizeBytes - pos
	r.parser = storage.NewContinuousBatchParser(f, remaining)
	r.cs = newConsumerState(r.cfg, r.seg.BaseDelta())
	r.started = true
	return nil
}

func (r *Reader) closeLocked() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

// Close releases the reader's open file handle without affecting the
// underlying segment's hydration or cache pin.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}
