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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/novatechflow/kafscale/pkg/objectstore"
)

func TestChildInheritsTighterDeadline(t *testing.T) {
	root := NewRoot(context.Background(), time.Now().Add(time.Hour), UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	child := root.Child(time.Now().Add(10*time.Millisecond), UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))

	select {
	case <-child.Context().Done():
		t.Fatalf("child deadline should not have fired yet")
	default:
	}
	time.Sleep(20 * time.Millisecond)
	select {
	case <-child.Context().Done():
	default:
		t.Fatalf("expected child deadline to fire")
	}
	if !errors.Is(child.Err(), ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", child.Err())
	}
	// The root, with its own much later deadline, must be unaffected.
	select {
	case <-root.Context().Done():
		t.Fatalf("root should not be done")
	default:
	}
}

func TestAbortPropagatesToDescendants(t *testing.T) {
	root := NewRoot(context.Background(), time.Now().Add(time.Hour), UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	child := root.Child(time.Time{}, UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	grandchild := child.Child(time.Time{}, UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))

	root.Abort()

	if !errors.Is(child.Err(), ErrAborted) {
		t.Fatalf("expected child aborted, got %v", child.Err())
	}
	if !errors.Is(grandchild.Err(), ErrAborted) {
		t.Fatalf("expected grandchild aborted, got %v", grandchild.Err())
	}
}

func TestSiblingUnaffectedByAbort(t *testing.T) {
	root := NewRoot(context.Background(), time.Now().Add(time.Hour), UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	a := root.Child(time.Time{}, UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	b := root.Child(time.Time{}, UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))

	a.Abort()

	if a.Err() == nil {
		t.Fatalf("expected a to be aborted")
	}
	if b.Err() != nil {
		t.Fatalf("expected b to be unaffected, got %v", b.Err())
	}
}

func TestAttemptBudgetExhausts(t *testing.T) {
	n := NewRoot(context.Background(), time.Now().Add(time.Hour), 2, backoff.NewConstantBackOff(time.Millisecond))
	if !n.TryAttempt() {
		t.Fatalf("expected first attempt to succeed")
	}
	if !n.TryAttempt() {
		t.Fatalf("expected second attempt to succeed")
	}
	if n.TryAttempt() {
		t.Fatalf("expected third attempt to be refused")
	}
}

func TestUnlimitedAttemptsNeverExhausts(t *testing.T) {
	n := NewRoot(context.Background(), time.Now().Add(time.Hour), UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	for i := 0; i < 100; i++ {
		if !n.TryAttempt() {
			t.Fatalf("unlimited attempts must never be refused, failed at %d", i)
		}
	}
}

func TestSleepReturnsAbortedEarly(t *testing.T) {
	n := NewRoot(context.Background(), time.Now().Add(time.Hour), UnlimitedAttempts, backoff.NewConstantBackOff(time.Millisecond))
	go func() {
		time.Sleep(5 * time.Millisecond)
		n.Abort()
	}()
	err := n.Sleep(time.Hour)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestHealthAwareBackOffWidensWithDegradation(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:      time.Minute,
		LatencyWarn: time.Millisecond,
		ErrorWarn:   0.5,
	})
	base := backoff.NewConstantBackOff(10 * time.Millisecond)
	hb := NewHealthAwareBackOff(base, monitor)

	if d := hb.NextBackOff(); d != 10*time.Millisecond {
		t.Fatalf("expected healthy baseline 10ms, got %v", d)
	}

	monitor.RecordOperation(objectstore.TransientError, time.Second)
	if got := monitor.State(); got != BackendUnavailable {
		t.Fatalf("expected BackendUnavailable after a slow transient error, got %v", got)
	}
	if d := hb.NextBackOff(); d != 40*time.Millisecond {
		t.Fatalf("expected 4x widened backoff, got %v", d)
	}
}

func TestHealthMonitorExcludesNotFoundFromErrorRate(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:    time.Minute,
		ErrorWarn: 0.5,
	})
	for i := 0; i < 10; i++ {
		monitor.RecordOperation(objectstore.NotFound, time.Millisecond)
	}
	snap := monitor.Snapshot()
	if snap.State != BackendHealthy {
		t.Fatalf("expected NotFound samples alone to leave the backend healthy, got %v", snap.State)
	}
	if snap.NotFound != 10 {
		t.Fatalf("expected 10 tracked NotFound samples, got %d", snap.NotFound)
	}
}

func TestHealthMonitorEscalatesImmediatelyOnPermanentError(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{Window: time.Minute})
	monitor.RecordOperation(objectstore.Success, time.Millisecond)
	if got := monitor.State(); got != BackendHealthy {
		t.Fatalf("expected healthy after a single success, got %v", got)
	}
	monitor.RecordOperation(objectstore.PermanentError, time.Millisecond)
	if got := monitor.State(); got != BackendUnavailable {
		t.Fatalf("expected a single permanent error to force BackendUnavailable, got %v", got)
	}
}
