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

	"github.com/novatechflow/kafscale/pkg/cache"
	"github.com/novatechflow/kafscale/pkg/retry"
)

var (
	// ErrAborted re-exports the retry chain's abort sentinel: a suspended
	// hydration or read observed its chain's abort source fire.
	ErrAborted = retry.ErrAborted
	// ErrDeadlineExceeded re-exports the retry chain's deadline sentinel.
	ErrDeadlineExceeded = retry.ErrDeadlineExceeded
	// ErrCacheFull re-exports the cache's admission-failure sentinel.
	ErrCacheFull = cache.ErrCacheFull

	// ErrShutdown is returned once a segment's Stop has been called.
	ErrShutdown = errors.New("remotesegment: shut down")
	// ErrHydrationFailed covers transient I/O exhausted by the retry
	// chain, and integrity failures (size mismatch, zero-size file) on an
	// otherwise successful download.
	ErrHydrationFailed = errors.New("remotesegment: hydration failed")
	// ErrRemoteSegmentMissing signals the object store returned NotFound
	// for a manifest-listed key: catalog drift, not a transient failure.
	ErrRemoteSegmentMissing = errors.New("remotesegment: object missing for manifest-listed segment")
	// ErrDataCorruption signals the continuous batch parser detected
	// framing or CRC corruption beyond the end-of-stream padding
	// tolerance.
	ErrDataCorruption = errors.New("remotesegment: data corruption")
)
