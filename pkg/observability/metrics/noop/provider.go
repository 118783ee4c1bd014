/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package noop

import (
	"time"

	"github.com/agorafed/agora/pkg/observability/metrics"
)

// Provider implements a no-op metrics provider.
type Provider struct{}

// NewProvider creates a new no-op metrics provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Create does nothing.
func (pp *Provider) Create() error {
	return nil
}

// Destroy does nothing.
func (pp *Provider) Destroy() error {
	return nil
}

// Metrics returns supported metrics.
func (pp *Provider) Metrics() metrics.Metrics {
	return &NoOpMetrics{}
}

// NoOpMetrics provides a default no-op implementation of the Metrics interface.
type NoOpMetrics struct{}

// InboxHandlerTime records the time that it takes to handle an activity posted to the inbox.
func (nm *NoOpMetrics) InboxHandlerTime(activityType string, value time.Duration) {}

// InboxIncrementRejectCount increments the number of rejected inbox requests.
func (nm *NoOpMetrics) InboxIncrementRejectCount(reason string) {}

// OutboxPostTime records the time that it takes to post a message to the outbox.
func (nm *NoOpMetrics) OutboxPostTime(value time.Duration) {}

// OutboxResolveInboxesTime records the time that it takes to resolve the destination inboxes.
func (nm *NoOpMetrics) OutboxResolveInboxesTime(value time.Duration) {}

// OutboxIncrementActivityCount increments the number of posted activities of the given type.
func (nm *NoOpMetrics) OutboxIncrementActivityCount(activityType string) {}

// QueueIncrementEnqueueCount increments the number of enqueued messages for the given priority.
func (nm *NoOpMetrics) QueueIncrementEnqueueCount(priority string) {}

// QueueIncrementRedeliveryCount increments the number of redelivered messages.
func (nm *NoOpMetrics) QueueIncrementRedeliveryCount() {}

// QueueIncrementDeadLetterCount increments the number of dead-lettered messages.
func (nm *NoOpMetrics) QueueIncrementDeadLetterCount() {}

// QueueSetSuspenseDepth sets the number of parked activities.
func (nm *NoOpMetrics) QueueSetSuspenseDepth(value float64) {}

// QueueConsumeTime records the time that it takes to consume a message from the queue.
func (nm *NoOpMetrics) QueueConsumeTime(priority string, value time.Duration) {}

// BreakerIncrementStateChangeCount increments the number of transitions into the given state.
func (nm *NoOpMetrics) BreakerIncrementStateChangeCount(state string) {}

// BreakerIncrementBlockedSendCount increments the number of blocked sends.
func (nm *NoOpMetrics) BreakerIncrementBlockedSendCount() {}

// SignatureVerifyTime records the time that it takes to verify an HTTP signature.
func (nm *NoOpMetrics) SignatureVerifyTime(value time.Duration) {}

// SignatureIncrementVerifyFailCount increments the number of verification failures.
func (nm *NoOpMetrics) SignatureIncrementVerifyFailCount() {}

// ResolverResolveActorTime records the time that it takes to resolve an actor.
func (nm *NoOpMetrics) ResolverResolveActorTime(value time.Duration) {}

// ResolverIncrementCacheHitCount increments the number of actor cache hits.
func (nm *NoOpMetrics) ResolverIncrementCacheHitCount() {}

// ResolverIncrementStaleServedCount increments the number of stale cache hits.
func (nm *NoOpMetrics) ResolverIncrementStaleServedCount() {}

// DBPutTime records the time it takes to store data in the DB.
func (nm *NoOpMetrics) DBPutTime(dbType string, value time.Duration) {}

// DBGetTime records the time it takes to get data from the DB.
func (nm *NoOpMetrics) DBGetTime(dbType string, value time.Duration) {}

// DBQueryTime records the time it takes to query the DB.
func (nm *NoOpMetrics) DBQueryTime(dbType string, value time.Duration) {}
