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

// Package retry implements the hierarchical deadline/attempt-budget/abort
// tree shared by nested hydration, cache-wait, and parser-I/O operations.
// A child node's effective deadline is the tighter of its own and its
// parent's; aborting a node aborts every descendant. The tree is built on
// context.Context so deadline-tightening and abort propagation come from
// the standard library's own cancellation semantics rather than a
// hand-rolled signal; Node layers an attempt budget and a backoff policy
// on top, since those have no stdlib equivalent.
package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAborted is returned when a node's (or an ancestor's) abort fired.
var ErrAborted = errors.New("retry: aborted")

// ErrDeadlineExceeded is returned when a node's (or an ancestor's)
// deadline passed before the operation completed.
var ErrDeadlineExceeded = errors.New("retry: deadline exceeded")

// UnlimitedAttempts disables the attempt budget for a node.
const UnlimitedAttempts = -1

// Node is one entry in the retry chain tree.
type Node struct {
	ctx    context.Context
	cancel context.CancelFunc
	parent *Node

	attemptsLeft int32 // -1 means unlimited; otherwise decremented atomically
	policy       backoff.BackOff
}

// NewRoot starts a new chain rooted on ctx with an absolute deadline,
// an attempt budget (UnlimitedAttempts for none), and a backoff policy
// consulted between attempts.
func NewRoot(ctx context.Context, deadline time.Time, maxAttempts int, policy backoff.BackOff) *Node {
	childCtx, cancel := context.WithDeadline(ctx, deadline)
	if policy == nil {
		policy = backoff.NewExponentialBackOff()
	}
	return &Node{
		ctx:          childCtx,
		cancel:       cancel,
		attemptsLeft: int32(maxAttempts),
		policy:       policy,
	}
}

// Child derives a node scoped to this one. If deadline is the zero Time,
// the child inherits the parent's deadline exactly (no tightening); a
// non-zero deadline tightens it further if it is earlier — context's own
// propagation means the parent's deadline still governs otherwise, since
// canceling a parent context always cancels every descendant regardless
// of what deadline the descendant itself set.
func (n *Node) Child(deadline time.Time, maxAttempts int, policy backoff.BackOff) *Node {
	var childCtx context.Context
	var cancel context.CancelFunc
	if deadline.IsZero() {
		childCtx, cancel = context.WithCancel(n.ctx)
	} else {
		childCtx, cancel = context.WithDeadline(n.ctx, deadline)
	}
	if policy == nil {
		policy = backoff.NewExponentialBackOff()
	}
	return &Node{
		ctx:          childCtx,
		cancel:       cancel,
		parent:       n,
		attemptsLeft: int32(maxAttempts),
		policy:       policy,
	}
}

// Context returns the node's context, whose Done channel closes on abort
// of this node or any ancestor, or on deadline.
func (n *Node) Context() context.Context {
	return n.ctx
}

// Deadline reports the node's effective deadline.
func (n *Node) Deadline() time.Time {
	d, ok := n.ctx.Deadline()
	if !ok {
		return time.Time{}
	}
	return d
}

// Abort fires this node's abort signal, which cancels every descendant.
// Ancestors and siblings are unaffected.
func (n *Node) Abort() {
	n.cancel()
}

// Err classifies the node's termination reason, or nil if still live.
func (n *Node) Err() error {
	switch n.ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return ErrDeadlineExceeded
	default:
		return ErrAborted
	}
}

// TryAttempt consumes one unit of attempt budget, reporting ok=false if
// the budget (not unlimited) is already exhausted.
func (n *Node) TryAttempt() (ok bool) {
	if n.attemptsLeft == UnlimitedAttempts {
		return true
	}
	for {
		cur := atomic.LoadInt32(&n.attemptsLeft)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&n.attemptsLeft, cur, cur-1) {
			return true
		}
	}
}

// NextBackoff consults the node's backoff policy for the next wait
// duration, reporting ok=false when the policy signals it is exhausted
// (backoff.Stop).
func (n *Node) NextBackoff() (time.Duration, bool) {
	d := n.policy.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Sleep waits for d, or returns early with the node's classified error if
// the node's context is done first — the cooperative suspension point
// every retried operation must pass through between attempts.
func (n *Node) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-n.ctx.Done():
		return n.Err()
	}
}

// Reset clears the node's backoff policy state, used when starting a
// fresh logical attempt sequence (e.g. a new hydrate call) on a
// long-lived node.
func (n *Node) Reset() {
	n.policy.Reset()
}
