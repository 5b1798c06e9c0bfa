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

// Package objectstore adapts the bucket's GET/HEAD surface to the single
// shot download operation the remote segment hydration path needs. The
// adapter never loops on its own; the caller drives retries through the
// retry chain and classifies the outcome it reports.
package objectstore

import (
	"context"
	"os"
	"time"
)

// Outcome classifies the result of a download attempt.
type Outcome int

const (
	Success Outcome = iota
	NotFound
	TransientError
	PermanentError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case TransientError:
		return "transient_error"
	case PermanentError:
		return "permanent_error"
	default:
		return "unknown"
	}
}

// ObjectMeta is the result of a HEAD request.
type ObjectMeta struct {
	Size int64
	ETag string
}

// Adapter is the minimal GET/HEAD surface the hydration path consumes.
// Implementations must not retry internally; they classify and return.
type Adapter interface {
	// Download fetches key into destFile, a path the caller owns; the
	// adapter writes to a temporary sibling path and does not rename it
	// into place — that is the caller's responsibility on Success, so a
	// failed or aborted download never leaves a partial file at destFile.
	Download(ctx context.Context, key, destFile string, deadline time.Time) (Outcome, error)

	// Head reports size/etag for key without transferring its body.
	Head(ctx context.Context, key string, deadline time.Time) (ObjectMeta, Outcome, error)
}

// TempPath returns the temporary sibling path Download writes to for a
// given destination, so callers can locate and atomically rename it on
// Success, or remove it on failure.
func TempPath(destFile string) string {
	return destFile + ".part"
}

// downloadToTemp streams r into a fresh temp file beside destFile,
// returning the path written. It never renames into place.
func downloadToTemp(destFile string, r readerFunc) (string, error) {
	tmp := TempPath(destFile)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := r(f); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

type readerFunc func(dst *os.File) error
