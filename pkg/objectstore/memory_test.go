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

package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryAdapterDownloadWritesTempFile(t *testing.T) {
	m := NewMemoryAdapter()
	m.Put("seg/0001", []byte("hello segment"))

	dir := t.TempDir()
	dest := filepath.Join(dir, "0001.seg")

	outcome, err := m.Download(context.Background(), "seg/0001", dest, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if outcome != Success {
		t.Fatalf("expected Success, got %v", outcome)
	}
	if _, err := os.Stat(dest); err == nil {
		t.Fatalf("destFile must not exist before caller renames the temp file")
	}
	got, err := os.ReadFile(TempPath(dest))
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if string(got) != "hello segment" {
		t.Fatalf("unexpected temp file contents: %q", got)
	}
}

func TestMemoryAdapterNotFound(t *testing.T) {
	m := NewMemoryAdapter()
	dir := t.TempDir()
	outcome, err := m.Download(context.Background(), "missing", filepath.Join(dir, "x"), time.Now().Add(time.Second))
	if outcome != NotFound {
		t.Fatalf("expected NotFound, got %v: %v", outcome, err)
	}
}

func TestMemoryAdapterProgrammedFailure(t *testing.T) {
	m := NewMemoryAdapter()
	m.Put("seg/0002", []byte("data"))
	m.FailNext("seg/0002", TransientError)

	dir := t.TempDir()
	outcome, err := m.Download(context.Background(), "seg/0002", filepath.Join(dir, "x"), time.Now().Add(time.Second))
	if outcome != TransientError || err == nil {
		t.Fatalf("expected TransientError, got %v: %v", outcome, err)
	}

	m.ClearFailure("seg/0002")
	outcome, err = m.Download(context.Background(), "seg/0002", filepath.Join(dir, "y"), time.Now().Add(time.Second))
	if outcome != Success {
		t.Fatalf("expected Success after clearing failure, got %v: %v", outcome, err)
	}
}

func TestMemoryAdapterGetCountTracksAttempts(t *testing.T) {
	m := NewMemoryAdapter()
	m.Put("seg/0003", []byte("x"))
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		m.Download(context.Background(), "seg/0003", filepath.Join(dir, "f"), time.Now().Add(time.Second))
	}
	if got := m.GetCount("seg/0003"); got != 3 {
		t.Fatalf("expected 3 GET attempts, got %d", got)
	}
}
