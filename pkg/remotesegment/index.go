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
	"time"

	"github.com/novatechflow/kafscale/pkg/objectstore"
	"github.com/novatechflow/kafscale/pkg/storage"
)

// LoadIndex downloads and parses a segment's sparse offset index, the
// sidecar object named by meta.IndexObjectKey, so a Reader can seek into
// the segment instead of always starting at byte 0. Returns a nil slice,
// nil error when the segment has no index object recorded.
//
// Unlike hydration, the index is never cached locally: it is read once,
// parsed into memory, and the downloaded file is discarded, since a
// Reader only needs the parsed entries, not the bytes.
func LoadIndex(ctx context.Context, adapter objectstore.Adapter, meta storage.SegmentMeta, deadline time.Time) ([]*storage.IndexEntry, error) {
	if meta.IndexObjectKey == "" {
		return nil, nil
	}

	tmp, err := os.CreateTemp("", "kafscale-index-*")
	if err != nil {
		return nil, fmt.Errorf("remotesegment: create temp file for index %s: %w", meta.IndexObjectKey, err)
	}
	destPath := tmp.Name()
	tmp.Close()
	defer os.Remove(destPath)

	outcome, err := adapter.Download(ctx, meta.IndexObjectKey, destPath, deadline)
	if outcome != objectstore.Success {
		return nil, fmt.Errorf("remotesegment: download index %s: %s: %w", meta.IndexObjectKey, outcome, err)
	}
	tempDownloadPath := objectstore.TempPath(destPath)
	defer os.Remove(tempDownloadPath)

	data, err := os.ReadFile(tempDownloadPath)
	if err != nil {
		return nil, fmt.Errorf("remotesegment: read downloaded index %s: %w", meta.IndexObjectKey, err)
	}
	entries, err := storage.ParseIndex(data)
	if err != nil {
		return nil, fmt.Errorf("remotesegment: parse index %s: %w", meta.IndexObjectKey, err)
	}
	return entries, nil
}
