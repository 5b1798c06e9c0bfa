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

import "github.com/novatechflow/kafscale/pkg/storage"

// Batch is one emitted record batch, with the logical base offset it
// translates to at the moment it was consumed (meaningful only when the
// reader's configuration is in the logical space).
type Batch struct {
	storage.RecordBatch
	LogicalBase int64
}

// Config bounds a single reader's view into a segment.
type Config struct {
	// StartOffset and MaxOffset bound the physical or logical offset
	// range to emit, inclusive, depending on Logical.
	StartOffset int64
	MaxOffset   int64
	MaxBytes    int64
	MaxBatches  int
	// Logical, when true, interprets StartOffset/MaxOffset in the
	// logical space and causes emitted batches to carry a translated
	// LogicalBase; when false they are physical-space bounds and
	// LogicalBase is left zero.
	Logical bool
}

// consumerState is the mutable state the installed BatchConsumer closure
// captures across calls to ReadSome, threaded through the parser.
type consumerState struct {
	cfg Config

	runningDelta int64 // starts at the segment's base delta
	ring         []Batch
	totalSize    int64
}

func newConsumerState(cfg Config, initialDelta int64) *consumerState {
	return &consumerState{cfg: cfg, runningDelta: initialDelta}
}

// consume implements the 4.G consumer algorithm: skip non-data batches
// while advancing the running delta, filter out-of-range batches, stop
// once the byte or batch budget is reached or the configured upper
// bound is passed.
func (cs *consumerState) consume(rb storage.RecordBatch) (storage.ConsumerAction, error) {
	if !rb.IsData() {
		cs.runningDelta += int64(rb.LastOffsetDelta) + 1
		return storage.ConsumerContinue, nil
	}

	base, max := rb.BaseOffset, rb.MaxPhysicalOffset()
	logicalBase := base - cs.runningDelta
	startBound, maxBound := cs.cfg.StartOffset, cs.cfg.MaxOffset
	compareBase, compareMax := base, max
	if cs.cfg.Logical {
		compareBase, compareMax = logicalBase, max-cs.runningDelta
	}

	if compareBase > maxBound {
		return storage.ConsumerStop, nil
	}
	if compareMax < startBound {
		return storage.ConsumerSkipBatch, nil
	}

	cs.ring = append(cs.ring, Batch{RecordBatch: rb, LogicalBase: logicalBase})
	cs.totalSize += int64(len(rb.Bytes))

	if cs.totalSize >= cs.cfg.MaxBytes || (cs.cfg.MaxBatches > 0 && len(cs.ring) >= cs.cfg.MaxBatches) {
		return storage.ConsumerStop, nil
	}
	return storage.ConsumerContinue, nil
}

// drain empties the ring, returning its contents in arrival (physical
// base offset) order, which is also the order batches were appended.
func (cs *consumerState) drain() []Batch {
	out := cs.ring
	cs.ring = nil
	cs.totalSize = 0
	return out
}
