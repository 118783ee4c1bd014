/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package queue routes activities onto priority streams and manages the
// per-verb retry schedule. Messages that exhaust their retries are archived
// to the dead-letter store for inspection and manual replay.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/lifecycle"
	"github.com/agorafed/agora/pkg/pubsub"
	pubsubspi "github.com/agorafed/agora/pkg/pubsub/spi"
)

var logger = log.New("activity_queue")

// Priority identifies an activity stream.
type Priority string

const (
	// PriorityUrgent is for user-visible, low-latency verbs.
	PriorityUrgent Priority = "urgent"
	// PriorityNormal is for content and subscription verbs.
	PriorityNormal Priority = "normal"
	// PriorityBulk is for high-volume verbs such as votes.
	PriorityBulk Priority = "bulk"
)

const (
	topicPrefix = "agora.activities."

	metadataActivityID   = "agora-activity-id"
	metadataActivityType = "agora-activity-type"
	metadataAttempt      = "agora-attempt"
	metadataPriority     = "agora-priority"
	metadataLastError    = "agora-last-error"
	metadataPartitionKey = "agora-partition-key"

	defaultPoolSize     = 20
	defaultDedupWindow  = 24 * time.Hour
	defaultDedupSize    = 100000
	defaultMaxBackoff   = 6 * time.Hour
	partitionBufferSize = 64
)

// Topic returns the pub/sub topic for the given priority.
func Topic(priority Priority) string {
	return topicPrefix + string(priority)
}

// PriorityFor returns the stream placement for the given activity.
func PriorityFor(activity *vocab.ActivityType) Priority {
	switch {
	case activity.Type().IsAny(vocab.TypeDelete, vocab.TypeBlock, vocab.TypeFlag,
		vocab.TypeAccept, vocab.TypeReject):
		return PriorityUrgent

	case activity.Type().IsAny(vocab.TypeLike, vocab.TypeDislike):
		return PriorityBulk

	case activity.Type().Is(vocab.TypeAnnounce) && len(activity.Object().Activities()) > 1:
		// Batched announces go on the bulk stream.
		return PriorityBulk

	default:
		return PriorityNormal
	}
}

// RetryPolicy is the retry schedule for a class of verbs.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Multiplier  float64
}

// DefaultRetryPolicies returns the per-verb retry schedules.
func DefaultRetryPolicies() map[vocab.Type]RetryPolicy {
	contentPolicy := RetryPolicy{MaxAttempts: 10, BaseBackoff: 30 * time.Second, Multiplier: 2.0}
	deletePolicy := RetryPolicy{MaxAttempts: 8, BaseBackoff: time.Minute, Multiplier: 1.5}
	followPolicy := RetryPolicy{MaxAttempts: 8, BaseBackoff: 30 * time.Second, Multiplier: 2.0}
	votePolicy := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Minute, Multiplier: 1.5}

	return map[vocab.Type]RetryPolicy{
		vocab.TypeCreate:   contentPolicy,
		vocab.TypeUpdate:   contentPolicy,
		vocab.TypeAnnounce: contentPolicy,
		vocab.TypeAdd:      followPolicy,
		vocab.TypeRemove:   followPolicy,
		vocab.TypeDelete:   deletePolicy,
		vocab.TypeBlock:    deletePolicy,
		vocab.TypeFlag:     deletePolicy,
		vocab.TypeFollow:   followPolicy,
		vocab.TypeAccept:   followPolicy,
		vocab.TypeReject:   followPolicy,
		vocab.TypeLike:     votePolicy,
		vocab.TypeDislike:  votePolicy,
		vocab.TypeUndo:     votePolicy,
	}
}

// Handler processes a dequeued activity. A transient error reschedules the
// activity per the retry policy; any other error dead-letters it.
type Handler func(activity *vocab.ActivityType) error

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...pubsubspi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	PublishWithOpts(topic string, msg *message.Message, opts ...pubsubspi.Option) error
}

type metricsProvider interface {
	QueueIncrementEnqueueCount(priority string)
	QueueIncrementRedeliveryCount()
	QueueIncrementDeadLetterCount()
	QueueConsumeTime(priority string, value time.Duration)
}

// Config holds the queue parameters.
type Config struct {
	ServiceName string
	// PoolSize is the number of concurrent consumers per stream.
	PoolSize int
	// DedupWindow is how long a seen activity ID suppresses re-enqueue.
	DedupWindow time.Duration
	// DedupSize is the maximum number of activity IDs remembered.
	DedupSize int
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	// RetryPolicies overrides the per-verb retry schedules.
	RetryPolicies map[vocab.Type]RetryPolicy
}

// StreamStats is a snapshot of a stream's counters.
type StreamStats struct {
	Priority     Priority `json:"priority"`
	Enqueued     uint64   `json:"enqueued"`
	Processed    uint64   `json:"processed"`
	Retried      uint64   `json:"retried"`
	DeadLettered uint64   `json:"deadLettered"`
}

type streamCounters struct {
	enqueued     uint64
	processed    uint64
	retried      uint64
	deadLettered uint64
}

// Queue is the activity queue coordinator.
type Queue struct {
	*lifecycle.Lifecycle
	Config

	pubSub   pubSub
	dlStore  spi.DeadLetterStore
	handler  Handler
	metrics  metricsProvider
	dedup    gcache.Cache
	counters map[Priority]*streamCounters
}

// New returns a new activity queue. The handler is invoked for every
// dequeued activity.
func New(cfg Config, ps pubSub, dlStore spi.DeadLetterStore, handler Handler,
	metrics metricsProvider) *Queue {
	q := &Queue{
		Config:  cfg,
		pubSub:  ps,
		dlStore: dlStore,
		handler: handler,
		metrics: metrics,
		counters: map[Priority]*streamCounters{
			PriorityUrgent: {},
			PriorityNormal: {},
			PriorityBulk:   {},
		},
	}

	q.initConfig()

	q.dedup = gcache.New(q.DedupSize).LRU().Expiration(q.DedupWindow).Build()

	q.Lifecycle = lifecycle.New("activity-queue",
		lifecycle.WithStart(q.start),
	)

	return q
}

func (q *Queue) initConfig() {
	if q.PoolSize == 0 {
		q.PoolSize = defaultPoolSize
	}

	if q.DedupWindow == 0 {
		q.DedupWindow = defaultDedupWindow
	}

	if q.DedupSize == 0 {
		q.DedupSize = defaultDedupSize
	}

	if q.MaxBackoff == 0 {
		q.MaxBackoff = defaultMaxBackoff
	}

	if q.RetryPolicies == nil {
		q.RetryPolicies = DefaultRetryPolicies()
	}
}

func (q *Queue) start() {
	for _, priority := range []Priority{PriorityUrgent, PriorityNormal, PriorityBulk} {
		msgChan, err := q.pubSub.SubscribeWithOpts(context.Background(), Topic(priority))
		if err != nil {
			// Not expected on a healthy broker connection.
			panic(err)
		}

		go q.listen(priority, msgChan)
	}

	undeliverableChan, err := q.pubSub.SubscribeWithOpts(context.Background(), pubsubspi.UndeliverableTopic)
	if err != nil {
		panic(err)
	}

	go q.listenUndeliverable(undeliverableChan)
}

// Enqueue places the given activity onto the stream indicated by its verb and
// returns the message ID. Duplicate activity IDs within the dedup window
// return the original message ID without re-enqueueing.
func (q *Queue) Enqueue(activity *vocab.ActivityType) (string, error) {
	if q.State() != lifecycle.StateStarted {
		return "", lifecycle.ErrNotStarted
	}

	activityID := activity.ID().String()

	if msgID, err := q.dedup.Get(activityID); err == nil {
		logger.Debug("Ignoring duplicate activity", logfields.WithActivityID(activity.ID()),
			logfields.WithMessageID(msgID.(string)))

		return msgID.(string), nil
	}

	payload, err := json.Marshal(activity)
	if err != nil {
		return "", fmt.Errorf("marshal activity [%s]: %w", activity.ID(), err)
	}

	priority := PriorityFor(activity)

	msg := pubsub.NewMessage(payload)
	msg.Metadata[metadataActivityID] = activityID
	msg.Metadata[metadataActivityType] = activity.Type().String()
	msg.Metadata[metadataPriority] = string(priority)
	msg.Metadata[metadataPartitionKey] = partitionKey(activity)

	if err := q.pubSub.Publish(Topic(priority), msg); err != nil {
		return "", fmt.Errorf("publish activity [%s]: %w", activity.ID(), err)
	}

	if err := q.dedup.Set(activityID, msg.UUID); err != nil {
		logger.Warn("Error caching activity ID", logfields.WithActivityID(activity.ID()),
			log.WithError(err))
	}

	atomic.AddUint64(&q.counters[priority].enqueued, 1)
	q.metrics.QueueIncrementEnqueueCount(string(priority))

	logger.Debug("Enqueued activity", logfields.WithActivityID(activity.ID()),
		logfields.WithPriority(string(priority)), logfields.WithMessageID(msg.UUID))

	return msg.UUID, nil
}

// Stats returns a snapshot of the per-stream counters.
func (q *Queue) Stats() []StreamStats {
	stats := make([]StreamStats, 0, len(q.counters))

	for _, priority := range []Priority{PriorityUrgent, PriorityNormal, PriorityBulk} {
		c := q.counters[priority]

		stats = append(stats, StreamStats{
			Priority:     priority,
			Enqueued:     atomic.LoadUint64(&c.enqueued),
			Processed:    atomic.LoadUint64(&c.processed),
			Retried:      atomic.LoadUint64(&c.retried),
			DeadLettered: atomic.LoadUint64(&c.deadLettered),
		})
	}

	return stats
}

// ReplayDeadLetters re-enqueues up to limit archived messages for the given
// queue and deletes them from the archive. Returns the number replayed.
func (q *Queue) ReplayDeadLetters(queue string, limit int) (int, error) {
	if q.State() != lifecycle.StateStarted {
		return 0, lifecycle.ErrNotStarted
	}

	records, err := q.dlStore.QueryDeadLetters(queue, limit)
	if err != nil {
		return 0, fmt.Errorf("query dead-letter records: %w", err)
	}

	var replayed int

	for _, record := range records {
		msg := pubsub.NewMessage(record.Payload)
		msg.Metadata[metadataPriority] = priorityFromTopic(record.Queue)

		if err := q.pubSub.Publish(record.Queue, msg); err != nil {
			return replayed, fmt.Errorf("replay message [%s]: %w", record.ID, err)
		}

		if err := q.dlStore.DeleteDeadLetter(record.ID); err != nil {
			logger.Warn("Error deleting replayed dead-letter record",
				logfields.WithMessageID(record.ID), log.WithError(err))
		}

		replayed++
	}

	logger.Info("Replayed dead-letter messages", logfields.WithQueue(queue),
		logfields.WithTotal(replayed))

	return replayed, nil
}

// listen fans messages out to PoolSize workers, routing each message by its
// partition key. Messages that share a key land on the same worker and are
// processed serially in arrival order, so two operations on the same object
// cannot be applied out of order.
func (q *Queue) listen(priority Priority, msgChan <-chan *message.Message) {
	partitions := make([]chan *message.Message, q.PoolSize)

	for i := range partitions {
		partitions[i] = make(chan *message.Message, partitionBufferSize)

		go func(ch <-chan *message.Message) {
			for msg := range ch {
				q.handle(priority, msg)
			}
		}(partitions[i])
	}

	for msg := range msgChan {
		partitions[q.partition(msg)] <- msg
	}

	for _, ch := range partitions {
		close(ch)
	}
}

func (q *Queue) partition(msg *message.Message) int {
	key := msg.Metadata[metadataPartitionKey]
	if key == "" {
		// Replayed dead letters and messages from older nodes carry no key.
		key = msg.UUID
	}

	h := fnv.New32a()

	_, _ = h.Write([]byte(key))

	return int(h.Sum32() % uint32(q.PoolSize))
}

// partitionKey returns the key that serializes processing of related
// activities: the target object IRI when the activity references one,
// falling back to the actor IRI.
func partitionKey(activity *vocab.ActivityType) string {
	if iri := activity.Object().IRI(); iri != nil && iri.String() != "" {
		return iri.String()
	}

	if activity.Actor() != nil {
		return activity.Actor().String()
	}

	return activity.ID().String()
}

func (q *Queue) handle(priority Priority, msg *message.Message) {
	activity := &vocab.ActivityType{}

	if err := json.Unmarshal(msg.Payload, activity); err != nil {
		logger.Error("Dead-lettering message with unmarshalable payload",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		q.deadLetter(priority, msg, err)
		msg.Ack()

		return
	}

	start := time.Now()

	err := q.handler(activity)

	q.metrics.QueueConsumeTime(string(priority), time.Since(start))

	switch {
	case err == nil:
		atomic.AddUint64(&q.counters[priority].processed, 1)
		msg.Ack()

	case errors.IsTransient(err):
		logger.Warn("Transient error handling activity. Message will be rescheduled.",
			logfields.WithActivityID(activity.ID()), log.WithError(err))

		q.retry(priority, msg, activity, err)
		msg.Ack()

	default:
		logger.Warn("Persistent error handling activity. Message will be dead-lettered.",
			logfields.WithActivityID(activity.ID()), log.WithError(err))

		q.deadLetter(priority, msg, err)
		msg.Ack()
	}
}

func (q *Queue) retry(priority Priority, msg *message.Message, activity *vocab.ActivityType, lastErr error) {
	attempt := getAttempt(msg) + 1

	policy := q.retryPolicy(activity)

	if attempt >= policy.MaxAttempts {
		logger.Warn("Exceeded maximum retry attempts", logfields.WithActivityID(activity.ID()),
			logfields.WithAttempts(attempt))

		q.deadLetter(priority, msg, lastErr)

		return
	}

	retryMsg := pubsub.NewMessage(msg.Payload)

	for k, v := range msg.Metadata {
		retryMsg.Metadata[k] = v
	}

	retryMsg.Metadata[metadataAttempt] = strconv.Itoa(attempt)
	retryMsg.Metadata[metadataLastError] = lastErr.Error()

	delay := q.backoff(policy, attempt)

	err := q.pubSub.PublishWithOpts(Topic(priority), retryMsg, pubsubspi.WithDeliveryDelay(delay))
	if err != nil {
		logger.Error("Error rescheduling message. Message will be dead-lettered.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		q.deadLetter(priority, msg, err)

		return
	}

	atomic.AddUint64(&q.counters[priority].retried, 1)
	q.metrics.QueueIncrementRedeliveryCount()

	logger.Debug("Rescheduled message", logfields.WithMessageID(msg.UUID),
		logfields.WithAttempts(attempt), logfields.WithExpiration(delay))
}

func (q *Queue) retryPolicy(activity *vocab.ActivityType) RetryPolicy {
	for t, policy := range q.RetryPolicies {
		if activity.Type().Is(t) {
			return policy
		}
	}

	return RetryPolicy{MaxAttempts: 8, BaseBackoff: 30 * time.Second, Multiplier: 2.0}
}

// backoff returns base * multiplier^(attempt-1), capped and multiplied by a
// uniform jitter in [0.5, 1.5).
func (q *Queue) backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.BaseBackoff)

	for i := 1; i < attempt; i++ {
		delay *= policy.Multiplier
	}

	if delay > float64(q.MaxBackoff) {
		delay = float64(q.MaxBackoff)
	}

	return time.Duration(delay * (0.5 + rand.Float64())) //nolint:gosec
}

func (q *Queue) deadLetter(priority Priority, msg *message.Message, lastErr error) {
	record := &spi.DeadLetterRecord{
		ID:         msg.UUID,
		Queue:      Topic(priority),
		Payload:    msg.Payload,
		Attempts:   getAttempt(msg),
		ArchivedAt: time.Now(),
	}

	if lastErr != nil {
		record.LastError = lastErr.Error()
	}

	if err := q.dlStore.ArchiveDeadLetter(record); err != nil {
		logger.Error("Error archiving dead-letter record", logfields.WithMessageID(msg.UUID),
			log.WithError(err))

		return
	}

	atomic.AddUint64(&q.counters[priority].deadLettered, 1)
	q.metrics.QueueIncrementDeadLetterCount()
}

// listenUndeliverable archives messages that the broker layer gave up on.
func (q *Queue) listenUndeliverable(msgChan <-chan *message.Message) {
	for msg := range msgChan {
		queue := msg.Metadata["agora-queue"]
		if queue == "" {
			queue = msg.Metadata[metadataPriority]
		}

		record := &spi.DeadLetterRecord{
			ID:         msg.UUID,
			Queue:      queue,
			Payload:    msg.Payload,
			Attempts:   getAttempt(msg),
			LastError:  msg.Metadata[metadataLastError],
			ArchivedAt: time.Now(),
		}

		if err := q.dlStore.ArchiveDeadLetter(record); err != nil {
			logger.Error("Error archiving undeliverable message",
				logfields.WithMessageID(msg.UUID), log.WithError(err))

			msg.Nack()

			continue
		}

		q.metrics.QueueIncrementDeadLetterCount()

		logger.Info("Archived undeliverable message", logfields.WithMessageID(msg.UUID),
			logfields.WithQueue(queue))

		msg.Ack()
	}
}

func getAttempt(msg *message.Message) int {
	value := msg.Metadata[metadataAttempt]
	if value == "" {
		return 0
	}

	attempt, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid attempt metadata", logfields.WithMessageID(msg.UUID),
			logfields.WithValue(value))

		return 0
	}

	return attempt
}

func priorityFromTopic(topic string) string {
	if len(topic) > len(topicPrefix) && topic[:len(topicPrefix)] == topicPrefix {
		return topic[len(topicPrefix):]
	}

	return topic
}
