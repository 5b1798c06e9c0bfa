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

// Package remotesegment orchestrates hydration of one remote segment:
// at-most-one concurrent download per key, a shared file handle for
// readers, and a gate that lets Stop drain in-flight operations before
// releasing the cache pin.
package remotesegment

import (
	"fmt"
	"os"
	"sync"

	"github.com/novatechflow/kafscale/pkg/cache"
	"github.com/novatechflow/kafscale/pkg/objectstore"
	"github.com/novatechflow/kafscale/pkg/retry"
	"github.com/novatechflow/kafscale/pkg/storage"
)

// PartitionIdentity names the partition a segment belongs to, the first
// component of its cache key.
type PartitionIdentity string

// RemoteSegment is constructed lazily on first reader reference and
// destroyed once every reader has stopped and the gate has drained. It
// holds a copy of the manifest's metadata record rather than a borrowed
// reference, so its lifetime has no coupling to the manifest's.
type RemoteSegment struct {
	partition PartitionIdentity
	meta      storage.SegmentMeta
	cache     *cache.Cache
	adapter   objectstore.Adapter

	gate sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	guard    *cache.Guard
	hydrated bool
}

// New constructs a RemoteSegment for one manifest entry. Hydration does
// not happen until the first call to Hydrate.
func New(partition PartitionIdentity, meta storage.SegmentMeta, c *cache.Cache, adapter objectstore.Adapter) *RemoteSegment {
	return &RemoteSegment{
		partition: partition,
		meta:      meta,
		cache:     c,
		adapter:   adapter,
	}
}

// BasePhysicalOffset, MaxPhysicalOffset, BaseLogicalOffset, BaseDelta,
// and Term are constant for the segment's life, read from the copied
// manifest entry.
func (s *RemoteSegment) BasePhysicalOffset() int64 { return s.meta.BasePhysicalOffset }
func (s *RemoteSegment) MaxPhysicalOffset() int64  { return s.meta.MaxPhysicalOffset }
func (s *RemoteSegment) BaseLogicalOffset() int64  { return s.meta.BaseLogicalOffset }
func (s *RemoteSegment) BaseDelta() int64          { return s.meta.BaseDelta }
func (s *RemoteSegment) MaxDelta() int64           { return s.meta.MaxDelta }
func (s *RemoteSegment) Term() int32               { return s.meta.Term }

func (s *RemoteSegment) cacheKey() cache.Key {
	return cache.Key{
		Partition:          string(s.partition),
		Term:               s.meta.Term,
		BasePhysicalOffset: s.meta.BasePhysicalOffset,
		ObjectKey:          s.meta.ObjectKey,
	}
}

// Hydrate resolves the cache entry for this segment's key, either
// finding it already Ready, awaiting an in-flight download, or becoming
// the producer and downloading it under chain's deadline and attempt
// budget. It is idempotent: once hydrated, later calls return the same
// path without re-entering the cache.
func (s *RemoteSegment) Hydrate(chain *retry.Node) (string, error) {
	s.gate.Add(1)
	defer s.gate.Done()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrShutdown
	}
	if s.hydrated {
		path := s.guard.Path()
		s.mu.Unlock()
		return path, nil
	}
	s.mu.Unlock()

	guard, err := s.cache.ReserveOrWait(s.cacheKey(), s.meta.SizeBytes, chain.Deadline())
	if err != nil {
		return "", classifyCacheErr(err)
	}

	if !guard.IsProducer() {
		s.commit(guard)
		return guard.Path(), nil
	}

	if err := s.download(chain, guard); err != nil {
		_ = guard.Abandon()
		return "", err
	}
	s.commit(guard)
	return guard.Path(), nil
}

func (s *RemoteSegment) commit(guard *cache.Guard) {
	s.mu.Lock()
	s.guard = guard
	s.hydrated = true
	s.mu.Unlock()
}

// download drives the adapter under chain's attempt budget and backoff
// policy until it succeeds, is classified as a permanent failure, or the
// chain's attempts/deadline are exhausted.
func (s *RemoteSegment) download(chain *retry.Node, guard *cache.Guard) error {
	for {
		if !chain.TryAttempt() {
			return ErrHydrationFailed
		}
		outcome, err := s.adapter.Download(chain.Context(), s.meta.ObjectKey, guard.Path(), chain.Deadline())
		switch outcome {
		case objectstore.Success:
			return s.verifyAndFinish(guard)
		case objectstore.NotFound:
			return ErrRemoteSegmentMissing
		case objectstore.PermanentError:
			return fmt.Errorf("%w: %v", ErrHydrationFailed, err)
		case objectstore.TransientError:
			wait, ok := chain.NextBackoff()
			if !ok {
				return fmt.Errorf("%w: retries exhausted: %v", ErrHydrationFailed, err)
			}
			if sleepErr := chain.Sleep(wait); sleepErr != nil {
				return sleepErr
			}
		default:
			return fmt.Errorf("%w: unclassified outcome: %v", ErrHydrationFailed, err)
		}
	}
}

// verifyAndFinish checks the downloaded temp file's size against the
// manifest's recorded size before publishing: a size mismatch or
// zero-size file on an otherwise successful GET is an integrity failure,
// not a transient one, and aborts the download rather than retrying.
func (s *RemoteSegment) verifyAndFinish(guard *cache.Guard) error {
	info, err := os.Stat(guard.TempPath())
	if err != nil {
		return fmt.Errorf("%w: stat downloaded file: %v", ErrHydrationFailed, err)
	}
	if info.Size() == 0 || info.Size() != s.meta.SizeBytes {
		return fmt.Errorf("%w: size mismatch, got %d want %d", ErrHydrationFailed, info.Size(), s.meta.SizeBytes)
	}
	return guard.Publish(info.Size())
}

// DataStream opens an independent, read-only cursor over the hydrated
// file starting at byte pos. The caller must hold the segment hydrated
// (have completed a successful Hydrate) for the stream's lifetime;
// multiple streams over the same segment share the underlying file via
// separate file descriptors, each with its own position.
func (s *RemoteSegment) DataStream(pos int64) (*os.File, error) {
	s.gate.Add(1)
	defer s.gate.Done()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	if !s.hydrated {
		s.mu.Unlock()
		return nil, fmt.Errorf("remotesegment: DataStream called before Hydrate")
	}
	path := s.guard.Path()
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("remotesegment: open hydrated file: %w", err)
	}
	if _, err := f.Seek(pos, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("remotesegment: seek to %d: %w", pos, err)
	}
	return f, nil
}

// Stop marks the segment stopped, so new Hydrate and DataStream calls
// fail with ErrShutdown, waits for the gate to drain every in-flight
// one, and releases the cache pin held since hydration. In-flight
// operations are not aborted: Stop waits for them to finish on their own.
func (s *RemoteSegment) Stop() {
	s.mu.Lock()
	s.stopped = true
	guard := s.guard
	s.mu.Unlock()

	s.gate.Wait()

	if guard != nil {
		guard.Release()
	}
}

func classifyCacheErr(err error) error {
	switch err {
	case cache.ErrShutdown:
		return ErrShutdown
	case cache.ErrCacheFull:
		return ErrCacheFull
	case cache.ErrDeadlineExceeded:
		return ErrDeadlineExceeded
	default:
		return err
	}
}
