/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agorafed/agora/pkg/httpserver"
	"github.com/agorafed/agora/pkg/observability/metrics"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

var (
	createOnce sync.Once       //nolint:gochecknoglobals
	instance   metrics.Metrics //nolint:gochecknoglobals
)

// PromProvider provides Prometheus metrics, optionally served on a dedicated
// HTTP server.
type PromProvider struct {
	httpServer *httpserver.Server
}

// NewPrometheusProvider creates a new Prometheus metrics provider.
func NewPrometheusProvider(httpServer *httpserver.Server) metrics.Provider {
	return &PromProvider{httpServer: httpServer}
}

// Create starts the metrics HTTP server, if one was given.
func (pp *PromProvider) Create() error {
	if pp.httpServer == nil {
		return nil
	}

	if err := pp.httpServer.Start(); err != nil {
		return fmt.Errorf("start metrics HTTP server: %w", err)
	}

	return nil
}

// Destroy stops the metrics HTTP server, if one was given.
func (pp *PromProvider) Destroy() error {
	if pp.httpServer == nil {
		return nil
	}

	return pp.httpServer.Stop(context.Background())
}

// Metrics returns the metrics implementation.
func (pp *PromProvider) Metrics() metrics.Metrics {
	return GetMetrics()
}

// GetMetrics returns the singleton metrics implementation.
func GetMetrics() metrics.Metrics {
	createOnce.Do(func() {
		instance = NewMetrics()
	})

	return instance
}

// PromMetrics manages the Prometheus metrics for Agora.
type PromMetrics struct {
	apInboxHandlerTimes    map[string]prometheus.Histogram
	apInboxRejectCounts    map[string]prometheus.Counter
	apOutboxPostTime       prometheus.Histogram
	apOutboxResolveTime    prometheus.Histogram
	apOutboxActivityCounts map[string]prometheus.Counter

	queueEnqueueCounts    map[string]prometheus.Counter
	queueConsumeTimes     map[string]prometheus.Histogram
	queueRedeliveryCount  prometheus.Counter
	queueDeadLetterCount  prometheus.Counter
	queueSuspenseDepth    prometheus.Gauge

	breakerStateChangeCounts map[string]prometheus.Counter
	breakerBlockedSendCount  prometheus.Counter

	sigVerifyTime      prometheus.Histogram
	sigVerifyFailCount prometheus.Counter

	resolverResolveTime     prometheus.Histogram
	resolverCacheHitCount   prometheus.Counter
	resolverStaleServedCount prometheus.Counter

	dbPutTimes   map[string]prometheus.Histogram
	dbGetTimes   map[string]prometheus.Histogram
	dbQueryTimes map[string]prometheus.Histogram
}

const (
	rejectReasonUnauthorized = "unauthorized"
	rejectReasonBadRequest   = "bad_request"
	rejectReasonPolicy       = "policy"
	rejectReasonGone         = "gone"
	rejectReasonTooLarge     = "too_large"

	priorityUrgent = "urgent"
	priorityNormal = "normal"
	priorityBulk   = "bulk"

	dbTypePostgres = "postgres"
	dbTypeMem      = "mem"
)

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() metrics.Metrics {
	activityTypes := activityTypeStrings()
	rejectReasons := []string{
		rejectReasonUnauthorized, rejectReasonBadRequest, rejectReasonPolicy,
		rejectReasonGone, rejectReasonTooLarge,
	}
	priorities := []string{priorityUrgent, priorityNormal, priorityBulk}
	breakerStates := []string{"closed", "open", "half-open", "dead"}
	dbTypes := []string{dbTypePostgres, dbTypeMem}

	m := &PromMetrics{
		apInboxHandlerTimes:    newInboxHandlerHistograms(activityTypes),
		apInboxRejectCounts:    newLabeledCounters(metrics.ActivityPub, metrics.ApInboxRejectCounterMetric, "The number of rejected inbox requests.", "reason", rejectReasons),
		apOutboxActivityCounts: newLabeledCounters(metrics.ActivityPub, metrics.ApOutboxActivityCounterMetric, "The number of activities posted to the outbox.", "type", activityTypes),
		apOutboxPostTime: newHistogram(metrics.ActivityPub, metrics.ApPostTimeMetric,
			"The time (in seconds) that it takes to post a message to the outbox.", nil),
		apOutboxResolveTime: newHistogram(metrics.ActivityPub, metrics.ApResolveInboxesTimeMetric,
			"The time (in seconds) that it takes to resolve the inboxes of the destinations.", nil),
		queueEnqueueCounts: newLabeledCounters(metrics.Queue, metrics.QueueEnqueueCounterMetric, "The number of messages enqueued.", "priority", priorities),
		queueConsumeTimes:  newConsumeHistograms(priorities),
		queueRedeliveryCount: newCounter(metrics.Queue, metrics.QueueRedeliveryCountMetric,
			"The number of messages that were redelivered.", nil),
		queueDeadLetterCount: newCounter(metrics.Queue, metrics.QueueDeadLetterCountMetric,
			"The number of messages sent to the dead-letter archive.", nil),
		queueSuspenseDepth: newGauge(metrics.Queue, metrics.QueueSuspenseDepthMetric,
			"The number of activities parked in the suspense buffer.", nil),
		breakerStateChangeCounts: newLabeledCounters(metrics.Breaker, metrics.BreakerStateChangeMetric, "The number of circuit breaker state changes.", "state", breakerStates),
		breakerBlockedSendCount: newCounter(metrics.Breaker, metrics.BreakerBlockedSendMetric,
			"The number of sends blocked by the circuit breaker.", nil),
		sigVerifyTime: newHistogram(metrics.Signature, metrics.SigVerifyTimeMetric,
			"The time (in seconds) that it takes to verify an HTTP signature.", nil),
		sigVerifyFailCount: newCounter(metrics.Signature, metrics.SigVerifyFailCountMetric,
			"The number of signature verification failures.", nil),
		resolverResolveTime: newHistogram(metrics.Resolver, metrics.ResolverResolveTimeMetric,
			"The time (in seconds) that it takes to resolve an actor.", nil),
		resolverCacheHitCount: newCounter(metrics.Resolver, metrics.ResolverCacheHitCountMetric,
			"The number of actor cache hits.", nil),
		resolverStaleServedCount: newCounter(metrics.Resolver, metrics.ResolverStaleServedMetric,
			"The number of times a stale cached actor was served.", nil),
		dbPutTimes:   newDBHistograms(metrics.DBPutTimeMetric, "put", dbTypes),
		dbGetTimes:   newDBHistograms(metrics.DBGetTimeMetric, "get", dbTypes),
		dbQueryTimes: newDBHistograms(metrics.DBQueryTimeMetric, "query", dbTypes),
	}

	m.register()

	return m
}

func (pm *PromMetrics) register() {
	prometheus.MustRegister(
		pm.apOutboxPostTime, pm.apOutboxResolveTime,
		pm.queueRedeliveryCount, pm.queueDeadLetterCount, pm.queueSuspenseDepth,
		pm.breakerBlockedSendCount,
		pm.sigVerifyTime, pm.sigVerifyFailCount,
		pm.resolverResolveTime, pm.resolverCacheHitCount, pm.resolverStaleServedCount,
	)

	for _, c := range pm.apInboxHandlerTimes {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.apInboxRejectCounts {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.apOutboxActivityCounts {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.queueEnqueueCounts {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.queueConsumeTimes {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.breakerStateChangeCounts {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.dbPutTimes {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.dbGetTimes {
		prometheus.MustRegister(c)
	}

	for _, c := range pm.dbQueryTimes {
		prometheus.MustRegister(c)
	}
}

// InboxHandlerTime records the time that it takes to handle an activity posted to the inbox.
func (pm *PromMetrics) InboxHandlerTime(activityType string, value time.Duration) {
	if c, ok := pm.apInboxHandlerTimes[activityType]; ok {
		c.Observe(value.Seconds())
	}
}

// InboxIncrementRejectCount increments the number of rejected inbox requests.
func (pm *PromMetrics) InboxIncrementRejectCount(reason string) {
	if c, ok := pm.apInboxRejectCounts[reason]; ok {
		c.Inc()
	}
}

// OutboxPostTime records the time that it takes to post a message to the outbox.
func (pm *PromMetrics) OutboxPostTime(value time.Duration) {
	pm.apOutboxPostTime.Observe(value.Seconds())
}

// OutboxResolveInboxesTime records the time that it takes to resolve the destination inboxes.
func (pm *PromMetrics) OutboxResolveInboxesTime(value time.Duration) {
	pm.apOutboxResolveTime.Observe(value.Seconds())
}

// OutboxIncrementActivityCount increments the number of posted activities of the given type.
func (pm *PromMetrics) OutboxIncrementActivityCount(activityType string) {
	if c, ok := pm.apOutboxActivityCounts[activityType]; ok {
		c.Inc()
	}
}

// QueueIncrementEnqueueCount increments the number of enqueued messages for the given priority.
func (pm *PromMetrics) QueueIncrementEnqueueCount(priority string) {
	if c, ok := pm.queueEnqueueCounts[priority]; ok {
		c.Inc()
	}
}

// QueueIncrementRedeliveryCount increments the number of redelivered messages.
func (pm *PromMetrics) QueueIncrementRedeliveryCount() {
	pm.queueRedeliveryCount.Inc()
}

// QueueIncrementDeadLetterCount increments the number of dead-lettered messages.
func (pm *PromMetrics) QueueIncrementDeadLetterCount() {
	pm.queueDeadLetterCount.Inc()
}

// QueueSetSuspenseDepth sets the number of parked activities.
func (pm *PromMetrics) QueueSetSuspenseDepth(value float64) {
	pm.queueSuspenseDepth.Set(value)
}

// QueueConsumeTime records the time that it takes to consume a message of the given priority.
func (pm *PromMetrics) QueueConsumeTime(priority string, value time.Duration) {
	if c, ok := pm.queueConsumeTimes[priority]; ok {
		c.Observe(value.Seconds())
	}
}

// BreakerIncrementStateChangeCount increments the number of transitions into the given state.
func (pm *PromMetrics) BreakerIncrementStateChangeCount(state string) {
	if c, ok := pm.breakerStateChangeCounts[state]; ok {
		c.Inc()
	}
}

// BreakerIncrementBlockedSendCount increments the number of blocked sends.
func (pm *PromMetrics) BreakerIncrementBlockedSendCount() {
	pm.breakerBlockedSendCount.Inc()
}

// SignatureVerifyTime records the time that it takes to verify an HTTP signature.
func (pm *PromMetrics) SignatureVerifyTime(value time.Duration) {
	pm.sigVerifyTime.Observe(value.Seconds())
}

// SignatureIncrementVerifyFailCount increments the number of verification failures.
func (pm *PromMetrics) SignatureIncrementVerifyFailCount() {
	pm.sigVerifyFailCount.Inc()
}

// ResolverResolveActorTime records the time that it takes to resolve an actor.
func (pm *PromMetrics) ResolverResolveActorTime(value time.Duration) {
	pm.resolverResolveTime.Observe(value.Seconds())
}

// ResolverIncrementCacheHitCount increments the number of actor cache hits.
func (pm *PromMetrics) ResolverIncrementCacheHitCount() {
	pm.resolverCacheHitCount.Inc()
}

// ResolverIncrementStaleServedCount increments the number of stale cache hits.
func (pm *PromMetrics) ResolverIncrementStaleServedCount() {
	pm.resolverStaleServedCount.Inc()
}

// DBPutTime records the time it takes to store data in the DB.
func (pm *PromMetrics) DBPutTime(dbType string, value time.Duration) {
	if c, ok := pm.dbPutTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBGetTime records the time it takes to get data from the DB.
func (pm *PromMetrics) DBGetTime(dbType string, value time.Duration) {
	if c, ok := pm.dbGetTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

// DBQueryTime records the time it takes to query the DB.
func (pm *PromMetrics) DBQueryTime(dbType string, value time.Duration) {
	if c, ok := pm.dbQueryTimes[dbType]; ok {
		c.Observe(value.Seconds())
	}
}

func newCounter(subsystem, name, help string, labels prometheus.Labels) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newGauge(subsystem, name, help string, labels prometheus.Labels) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newHistogram(subsystem, name, help string, labels prometheus.Labels) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   metrics.Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}

func newInboxHandlerHistograms(activityTypes []string) map[string]prometheus.Histogram {
	histograms := make(map[string]prometheus.Histogram)

	for _, activityType := range activityTypes {
		histograms[activityType] = newHistogram(
			metrics.ActivityPub, metrics.ApInboxHandlerTimeMetric,
			"The time (in seconds) that it takes to handle an activity posted to the inbox.",
			prometheus.Labels{"type": activityType},
		)
	}

	return histograms
}

func newConsumeHistograms(priorities []string) map[string]prometheus.Histogram {
	histograms := make(map[string]prometheus.Histogram)

	for _, priority := range priorities {
		histograms[priority] = newHistogram(
			metrics.Queue, metrics.QueueConsumeTimeMetric,
			"The time (in seconds) that it takes to consume a message from the queue.",
			prometheus.Labels{"priority": priority},
		)
	}

	return histograms
}

func newDBHistograms(name, op string, dbTypes []string) map[string]prometheus.Histogram {
	histograms := make(map[string]prometheus.Histogram)

	for _, dbType := range dbTypes {
		histograms[dbType] = newHistogram(
			metrics.DB, name,
			fmt.Sprintf("The time (in seconds) it takes the DB to %s.", op),
			prometheus.Labels{"type": dbType},
		)
	}

	return histograms
}

func newLabeledCounters(subsystem, name, help, label string, values []string) map[string]prometheus.Counter {
	counters := make(map[string]prometheus.Counter)

	for _, value := range values {
		counters[value] = newCounter(subsystem, name, help, prometheus.Labels{label: value})
	}

	return counters
}

func activityTypeStrings() []string {
	types := vocab.ActivityTypes()

	strs := make([]string, len(types))

	for i, t := range types {
		strs[i] = string(t)
	}

	return strs
}
