/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const domain = "down.example"

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()

	now := time.Now()

	b := New(Config{})
	b.now = func() time.Time { return now }

	return b, &now
}

func TestBreakerDefaults(t *testing.T) {
	b := New(Config{})

	require.Equal(t, defaultFailureThreshold, b.FailureThreshold)
	require.Equal(t, defaultRecoveryTimeout, b.RecoveryTimeout)
	require.Equal(t, defaultHalfOpenProbes, b.HalfOpenProbes)
	require.Equal(t, defaultSuccessThreshold, b.SuccessThreshold)
	require.Equal(t, defaultDeadThreshold, b.DeadThreshold)
	require.Equal(t, defaultDeadFailureCount, b.DeadFailureCount)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure(domain)
	}

	allowed, _ := b.MayDeliver(domain)
	require.True(t, allowed)

	b.RecordFailure(domain)

	allowed, retryAfter := b.MayDeliver(domain)
	require.False(t, allowed)
	require.Equal(t, b.RecoveryTimeout, retryAfter)

	require.Equal(t, StateOpen, b.Status(domain).State)
}

func TestBreakerHalfOpenProbes(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure(domain)
	}

	*now = now.Add(b.RecoveryTimeout)

	for i := 0; i < b.HalfOpenProbes; i++ {
		allowed, _ := b.MayDeliver(domain)
		require.True(t, allowed)
	}

	allowed, _ := b.MayDeliver(domain)
	require.False(t, allowed)

	require.Equal(t, StateHalfOpen, b.Status(domain).State)
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure(domain)
	}

	*now = now.Add(b.RecoveryTimeout)

	for i := 0; i < b.SuccessThreshold; i++ {
		allowed, _ := b.MayDeliver(domain)
		require.True(t, allowed)

		b.RecordSuccess(domain, 50*time.Millisecond)
	}

	require.Equal(t, StateClosed, b.Status(domain).State)

	allowed, _ := b.MayDeliver(domain)
	require.True(t, allowed)
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure(domain)
	}

	*now = now.Add(b.RecoveryTimeout)

	allowed, _ := b.MayDeliver(domain)
	require.True(t, allowed)

	b.RecordFailure(domain)

	require.Equal(t, StateOpen, b.Status(domain).State)

	// The recovery timer is restarted, so delivery stays blocked.
	allowed, retryAfter := b.MayDeliver(domain)
	require.False(t, allowed)
	require.Equal(t, b.RecoveryTimeout, retryAfter)
}

func TestBreakerDeclaresPeerDead(t *testing.T) {
	b, now := newTestBreaker(t)

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure(domain)
	}

	*now = now.Add(b.DeadThreshold)

	for i := 0; i < b.DeadFailureCount; i++ {
		b.RecordFailure(domain)
	}

	require.Equal(t, StateDead, b.Status(domain).State)

	// The first probe after the dead probe period is admitted.
	*now = now.Add(b.DeadProbePeriod)

	allowed, _ := b.MayDeliver(domain)
	require.True(t, allowed)

	allowed, _ = b.MayDeliver(domain)
	require.False(t, allowed)

	// A successful contact revives the peer.
	b.RecordSuccess(domain, 10*time.Millisecond)
	require.Equal(t, StateClosed, b.Status(domain).State)
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < b.FailureThreshold; i++ {
		b.RecordFailure(domain)
	}

	require.Equal(t, StateOpen, b.Status(domain).State)

	b.Reset(domain)

	require.Equal(t, StateClosed, b.Status(domain).State)

	allowed, _ := b.MayDeliver(domain)
	require.True(t, allowed)
}

func TestBreakerStatusMetrics(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordSuccess(domain, 100*time.Millisecond)
	b.RecordSuccess(domain, 200*time.Millisecond)
	b.RecordFailure(domain)

	status := b.Status(domain)
	require.Equal(t, StateClosed, status.State)
	require.Equal(t, 1, status.ConsecutiveFailures)
	require.InDelta(t, 2.0/3.0, status.SuccessRate, 0.001)
	require.Equal(t, 150*time.Millisecond, status.AvgResponseTime)
	require.False(t, status.LastSuccess.IsZero())
	require.False(t, status.LastFailure.IsZero())

	statuses := b.Statuses()
	require.Len(t, statuses, 1)
	require.Equal(t, domain, statuses[0].Domain)
}

func TestBreakerUnknownDomain(t *testing.T) {
	b, _ := newTestBreaker(t)

	status := b.Status("unknown.example")
	require.Equal(t, StateClosed, status.State)

	allowed, _ := b.MayDeliver("unknown.example")
	require.True(t, allowed)
}
