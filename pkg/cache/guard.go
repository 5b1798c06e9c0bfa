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

package cache

import (
	"fmt"
	"sync"
)

// Guard represents one caller's claim on a cache entry: either a
// consumer that found the entry already Ready, or the producer
// responsible for downloading it. A consumer guard must eventually be
// released. A producer guard must eventually be published or abandoned;
// once resolved it behaves like a consumer guard and must also be
// released.
type Guard struct {
	c        *Cache
	key      Key
	producer bool
	tempPath string

	mu       sync.Mutex
	resolved bool // for producer guards: true once Publish/Abandon has run
	released bool
}

// Key returns the guard's cache key.
func (g *Guard) Key() Key {
	return g.key
}

// IsProducer reports whether this guard is responsible for downloading
// the segment.
func (g *Guard) IsProducer() bool {
	return g.producer
}

// TempPath returns the path a producer guard must write the downloaded
// segment to before calling Publish. Calling this on a consumer guard is
// a programming error.
func (g *Guard) TempPath() string {
	if !g.producer {
		panic("cache: TempPath called on a consumer guard")
	}
	return g.tempPath
}

// Path returns the hydrated file's final on-disk path. Valid for
// consumer guards immediately, and for producer guards only after a
// successful Publish.
func (g *Guard) Path() string {
	return g.key.path(g.c.cfg.RootDir)
}

// Publish is a producer-only operation that promotes the downloaded temp
// file into place and marks the entry Ready.
func (g *Guard) Publish(actualSize int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.producer {
		return fmt.Errorf("cache: Publish called on a consumer guard")
	}
	if g.resolved {
		return fmt.Errorf("cache: guard for %s already resolved", g.key)
	}
	if err := g.c.publish(g.key, actualSize); err != nil {
		return err
	}
	g.resolved = true
	return nil
}

// Abandon is a producer-only operation that removes the entry after a
// failed download, waking any waiters with ErrDownloadFailed.
func (g *Guard) Abandon() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.producer {
		return fmt.Errorf("cache: Abandon called on a consumer guard")
	}
	if g.resolved {
		return fmt.Errorf("cache: guard for %s already resolved", g.key)
	}
	if err := g.c.abandon(g.key); err != nil {
		return err
	}
	g.resolved = true
	g.released = true // abandoned entries hold no pin to release
	return nil
}

// Release drops the guard's pin on the entry. Safe to call multiple
// times; only the first call has an effect. A producer guard that has
// not yet been published or abandoned must not be released.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	if g.producer && !g.resolved {
		panic("cache: Release called on an unresolved producer guard")
	}
	g.c.release(g.key)
	g.released = true
}
