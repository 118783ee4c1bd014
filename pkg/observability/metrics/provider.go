/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"
)

// Logger used by the metrics providers.
var Logger = log.New("metrics-provider")

// Constants used by the metrics providers.
const (
	// Namespace Organization namespace.
	Namespace = "agora"

	// ActivityPub ActivityPub.
	ActivityPub                   = "activitypub"
	ApPostTimeMetric              = "outbox_post_seconds"
	ApResolveInboxesTimeMetric    = "outbox_resolve_inboxes_seconds"
	ApInboxHandlerTimeMetric      = "inbox_handler_seconds"
	ApOutboxActivityCounterMetric = "outbox_count"
	ApInboxRejectCounterMetric    = "inbox_reject_count"

	// Queue Activity queue.
	Queue                       = "queue"
	QueueEnqueueCounterMetric   = "enqueue_count"
	QueueRedeliveryCountMetric  = "redelivery_count"
	QueueDeadLetterCountMetric  = "dead_letter_count"
	QueueSuspenseDepthMetric    = "suspense_depth"
	QueueConsumeTimeMetric      = "consume_seconds"

	// Breaker Circuit breaker.
	Breaker                    = "breaker"
	BreakerStateChangeMetric   = "state_change_count"
	BreakerBlockedSendMetric   = "blocked_send_count"

	// Signature Signature verification.
	Signature                 = "httpsig"
	SigVerifyTimeMetric       = "verify_seconds"
	SigVerifyFailCountMetric  = "verify_fail_count"

	// Resolver Actor resolver.
	Resolver                     = "resolver"
	ResolverResolveTimeMetric    = "resolve_actor_seconds"
	ResolverCacheHitCountMetric  = "cache_hit_count"
	ResolverStaleServedMetric    = "stale_served_count"

	// DB DB.
	DB                = "db"
	DBPutTimeMetric   = "put_seconds"
	DBGetTimeMetric   = "get_seconds"
	DBQueryTimeMetric = "query_seconds"
)

// Provider is an interface for a metrics provider.
type Provider interface {
	// Create creates a metrics provider instance
	Create() error
	// Destroy destroys the metrics provider instance
	Destroy() error
	// Metrics providers metrics
	Metrics() Metrics
}

// Metrics is an interface for the metrics to be supported by the provider.
type Metrics interface {
	InboxHandlerTime(activityType string, value time.Duration)
	InboxIncrementRejectCount(reason string)
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
	QueueIncrementEnqueueCount(priority string)
	QueueIncrementRedeliveryCount()
	QueueIncrementDeadLetterCount()
	QueueSetSuspenseDepth(value float64)
	QueueConsumeTime(priority string, value time.Duration)
	BreakerIncrementStateChangeCount(state string)
	BreakerIncrementBlockedSendCount()
	SignatureVerifyTime(value time.Duration)
	SignatureIncrementVerifyFailCount()
	ResolverResolveActorTime(value time.Duration)
	ResolverIncrementCacheHitCount()
	ResolverIncrementStaleServedCount()
	DBPutTime(dbType string, value time.Duration)
	DBGetTime(dbType string, value time.Duration)
	DBQueryTime(dbType string, value time.Duration)
}
