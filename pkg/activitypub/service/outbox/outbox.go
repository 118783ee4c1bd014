/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package outbox implements the ActivityPub egress path. An activity posted
// to the outbox is stored, its local side effects are applied, the recipient
// set is resolved and grouped by shared inbox, and one signed POST is
// delivered per destination. Delivery to each peer is gated by the circuit
// breaker.
package outbox

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/client/transport"
	service "github.com/agorafed/agora/pkg/activitypub/service/spi"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/lifecycle"
	"github.com/agorafed/agora/pkg/pubsub"
	pubsubspi "github.com/agorafed/agora/pkg/pubsub/spi"
)

const (
	loggerModule = "activitypub_outbox"

	// Topic is the egress delivery topic.
	Topic = "agora.outbox"

	followersSuffix = "/followers"

	defaultMaxRecipients         = 5000
	defaultMaxConcurrentRequests = 10
	defaultSubscriberPoolSize    = 5
	defaultPostTimeout           = 10 * time.Second
)

var logger = log.New(loggerModule)

type pubSub interface {
	SubscribeWithOpts(ctx context.Context, topic string, opts ...pubsubspi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	PublishWithOpts(topic string, msg *message.Message, opts ...pubsubspi.Option) error
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

type httpTransport interface {
	Post(ctx context.Context, req *transport.Request, payload []byte) (*http.Response, error)
}

type deliveryBreaker interface {
	MayDeliver(domain string) (bool, time.Duration)
	RecordSuccess(domain string, responseTime time.Duration)
	RecordFailure(domain string)
}

type metricsProvider interface {
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementActivityCount(activityType string)
	BreakerIncrementBlockedSendCount()
}

// Config holds the configuration parameters for the outbox.
type Config struct {
	ServiceName string
	ServiceIRI  *url.URL

	// MaxRecipients caps the size of a resolved recipient set.
	MaxRecipients int

	// MaxConcurrentRequests limits parallel inbox resolution requests.
	MaxConcurrentRequests int

	// SubscriberPoolSize is the number of concurrent delivery workers.
	SubscriberPoolSize int

	// PostTimeout is the per-destination delivery timeout.
	PostTimeout time.Duration
}

// Outbox implements the ActivityPub outbox.
type Outbox struct {
	*Config
	*lifecycle.Lifecycle

	activityHandler service.ActivityHandler
	activityStore   store.Store
	client          activityPubClient
	transport       httpTransport
	breaker         deliveryBreaker
	publisher       pubSub
	msgChan         <-chan *message.Message
	metrics         metricsProvider
	logger          *log.Log
}

// New returns a new ActivityPub outbox. The activityHandler applies the local
// side effects of each posted activity.
func New(cfg *Config, s store.Store, ps pubSub, t httpTransport, activityHandler service.ActivityHandler,
	apClient activityPubClient, b deliveryBreaker, metrics metricsProvider) (*Outbox, error) {
	initConfig(cfg)

	msgChan, err := ps.SubscribeWithOpts(context.Background(), Topic,
		pubsubspi.WithPool(cfg.SubscriberPoolSize))
	if err != nil {
		return nil, fmt.Errorf("subscribe to topic [%s]: %w", Topic, err)
	}

	h := &Outbox{
		Config:          cfg,
		activityHandler: activityHandler,
		activityStore:   s,
		client:          apClient,
		transport:       t,
		breaker:         b,
		publisher:       ps,
		msgChan:         msgChan,
		metrics:         metrics,
		logger:          log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName+"-outbox",
		lifecycle.WithStart(h.start),
	)

	return h, nil
}

func initConfig(cfg *Config) {
	if cfg.MaxRecipients == 0 {
		cfg.MaxRecipients = defaultMaxRecipients
	}

	if cfg.MaxConcurrentRequests == 0 {
		cfg.MaxConcurrentRequests = defaultMaxConcurrentRequests
	}

	if cfg.SubscriberPoolSize == 0 {
		cfg.SubscriberPoolSize = defaultSubscriberPoolSize
	}

	if cfg.PostTimeout == 0 {
		cfg.PostTimeout = defaultPostTimeout
	}
}

func (h *Outbox) start() {
	go h.listen()
}

func (h *Outbox) listen() {
	for msg := range h.msgChan {
		h.handle(msg)
	}

	h.logger.Debug("Message listener stopped")
}

type messageType string

const (
	broadcastType messageType = "broadcast"
	deliverType   messageType = "deliver"
)

type activityMessage struct {
	Type        messageType                  `json:"type"`
	Activity    *vocab.ActivityType          `json:"activity"`
	TargetIRI   *vocab.URLProperty           `json:"target,omitempty"`
	ExcludeIRIs *vocab.URLCollectionProperty `json:"exclude,omitempty"`
}

// Post posts an activity to the outbox and returns the activity ID. If the
// activity does not specify an ID then a unique ID is generated. An activity
// with no actor is attributed to the service. Destinations in the exclude
// list are skipped.
func (h *Outbox) Post(activity *vocab.ActivityType, exclude ...*url.URL) (string, error) {
	if h.State() != lifecycle.StateStarted {
		return "", errors.NewTransient(lifecycle.ErrNotStarted)
	}

	startTime := time.Now()
	defer func() {
		h.metrics.OutboxPostTime(time.Since(startTime))
	}()

	activity, err := h.validateAndPopulateActivity(activity)
	if err != nil {
		return "", err
	}

	for _, t := range activity.Type().Types() {
		h.metrics.OutboxIncrementActivityCount(string(t))
	}

	if err := h.publishActivityMessage(&activityMessage{
		Type:        broadcastType,
		Activity:    activity,
		ExcludeIRIs: vocab.NewURLCollectionProperty(exclude...),
	}); err != nil {
		return "", fmt.Errorf("publish activity message [%s]: %w", activity.ID(), err)
	}

	return activity.ID().String(), nil
}

func (h *Outbox) handle(msg *message.Message) {
	err := h.handleActivityMessage(msg)
	if err == nil {
		msg.Ack()

		return
	}

	if errors.IsTransient(err) {
		h.logger.Warn("Transient error handling message. Message will be redelivered.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Nack()
	} else {
		h.logger.Warn("Persistent error handling message. Message will not be redelivered.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Ack()
	}
}

func (h *Outbox) handleActivityMessage(msg *message.Message) error {
	activityMsg := &activityMessage{}

	if err := json.Unmarshal(msg.Payload, activityMsg); err != nil {
		return fmt.Errorf("unmarshal activity message [%s]: %w", msg.UUID, err)
	}

	switch activityMsg.Type {
	case broadcastType:
		return h.handleBroadcast(activityMsg.Activity, activityMsg.ExcludeIRIs.URLs())

	case deliverType:
		return h.deliver(activityMsg.Activity, activityMsg.TargetIRI.URL())

	default:
		return fmt.Errorf("unsupported activity message type [%s]", activityMsg.Type)
	}
}

// handleBroadcast stores the activity, applies its local side effects, and
// publishes one deliver message per resolved destination inbox.
func (h *Outbox) handleBroadcast(activity *vocab.ActivityType, excludeIRIs []*url.URL) error {
	if err := h.storeActivity(activity); err != nil {
		return errors.NewTransient(fmt.Errorf("store activity [%s]: %w", activity.ID(), err))
	}

	if err := h.activityHandler.HandleActivity(activity); err != nil {
		return fmt.Errorf("handle activity [%s]: %w", activity.ID(), err)
	}

	for _, r := range h.resolveInboxes(activity, excludeIRIs) {
		if r.err != nil {
			// A destination that cannot be resolved is logged and skipped. The
			// rest of the recipient set is still delivered to.
			h.logger.Warn("Error resolving destination inbox", logfields.WithTargetIRI(r.iri),
				log.WithError(r.err))

			continue
		}

		if err := h.publishActivityMessage(&activityMessage{
			Type:      deliverType,
			Activity:  activity,
			TargetIRI: vocab.NewURLProperty(r.iri),
		}); err != nil {
			return errors.NewTransient(fmt.Errorf("publish deliver message to [%s]: %w", r.iri, err))
		}
	}

	return nil
}

func (h *Outbox) storeActivity(activity *vocab.ActivityType) error {
	// A replayed broadcast is idempotent on the activity ID.
	if err := h.activityStore.AddActivity(store.Outbox, activity); err != nil {
		return err
	}

	return nil
}

func (h *Outbox) publishActivityMessage(activityMsg *activityMessage) error {
	msgBytes, err := json.Marshal(activityMsg)
	if err != nil {
		return fmt.Errorf("marshal activity message: %w", err)
	}

	msg := pubsub.NewMessage(msgBytes)

	return h.publisher.Publish(Topic, msg)
}

type resolveResponse struct {
	iri *url.URL
	err error
}

// resolveInboxes expands the recipients of the activity into a set of
// destination inbox URLs, grouped by shared inbox where the destination
// advertises one.
func (h *Outbox) resolveInboxes(activity *vocab.ActivityType, excludeIRIs []*url.URL) []*resolveResponse {
	startTime := time.Now()

	defer func() {
		h.metrics.OutboxResolveInboxesTime(time.Since(startTime))
	}()

	var responses []*resolveResponse

	actorIRIs := deduplicateAndFilter(h.expandRecipients(activity, &responses), excludeIRIs)
	if len(actorIRIs) > h.MaxRecipients {
		h.logger.Warn("Recipient set truncated", logfields.WithTotal(len(actorIRIs)))

		actorIRIs = actorIRIs[:h.MaxRecipients]
	}

	inboxes := h.resolveConcurrently(actorIRIs)

	var grouped []*resolveResponse

	seen := make(map[string]struct{})

	for _, r := range inboxes {
		if r.err != nil {
			grouped = append(grouped, r)

			continue
		}

		if _, ok := seen[r.iri.String()]; ok {
			continue
		}

		seen[r.iri.String()] = struct{}{}

		grouped = append(grouped, r)
	}

	return grouped
}

// expandRecipients maps the to/cc IRIs of the activity to remote actor IRIs.
// The public IRI and a local followers collection expand to the sender's
// stored followers. Other local IRIs have no remote inbox and are dropped.
func (h *Outbox) expandRecipients(activity *vocab.ActivityType, responses *[]*resolveResponse) []*url.URL {
	var recipients []*url.URL

	for _, iri := range append(activity.To().URLs(), activity.CC().URLs()...) {
		switch {
		case iri.String() == vocab.PublicIRI.String():
			followers, err := h.loadFollowers(actorOf(activity))
			if err != nil {
				*responses = append(*responses, &resolveResponse{iri: iri, err: err})

				continue
			}

			recipients = append(recipients, followers...)

		case h.isLocalIRI(iri) && strings.HasSuffix(iri.Path, followersSuffix):
			actorIRI := *iri
			actorIRI.Path = strings.TrimSuffix(actorIRI.Path, followersSuffix)

			followers, err := h.loadFollowers(&actorIRI)
			if err != nil {
				*responses = append(*responses, &resolveResponse{iri: iri, err: err})

				continue
			}

			recipients = append(recipients, followers...)

		case h.isLocalIRI(iri):
			// Local recipients are reached through the activity handler.

		default:
			recipients = append(recipients, iri)
		}
	}

	return recipients
}

func (h *Outbox) loadFollowers(actorIRI *url.URL) ([]*url.URL, error) {
	it, err := h.activityStore.QueryReferences(store.Follower, actorIRI)
	if err != nil {
		return nil, errors.NewTransient(fmt.Errorf("query followers of [%s]: %w", actorIRI, err))
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	var followers []*url.URL

	for {
		ref, err := it.Next()
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return followers, nil
			}

			return nil, errors.NewTransient(fmt.Errorf("next follower of [%s]: %w", actorIRI, err))
		}

		followers = append(followers, ref)
	}
}

// resolveConcurrently resolves the destination inbox of each actor, with the
// shared inbox preferred when the actor advertises one.
func (h *Outbox) resolveConcurrently(actorIRIs []*url.URL) []*resolveResponse {
	var (
		wg        sync.WaitGroup
		mutex     sync.Mutex
		responses []*resolveResponse
	)

	semaphore := make(chan struct{}, h.MaxConcurrentRequests)

	for _, actorIRI := range actorIRIs {
		wg.Add(1)

		go func(actorIRI *url.URL) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			inboxIRI, err := h.resolveInbox(actorIRI)

			mutex.Lock()
			responses = append(responses, &resolveResponse{iri: inboxIRI, err: err})
			mutex.Unlock()
		}(actorIRI)
	}

	wg.Wait()

	return responses
}

func (h *Outbox) resolveInbox(actorIRI *url.URL) (*url.URL, error) {
	actor, err := h.client.GetActor(actorIRI)
	if err != nil {
		return actorIRI, fmt.Errorf("resolve actor [%s]: %w", actorIRI, err)
	}

	if sharedInbox := actor.SharedInbox(); sharedInbox != nil {
		return sharedInbox, nil
	}

	if inbox := actor.Inbox(); inbox != nil {
		return inbox, nil
	}

	return actorIRI, fmt.Errorf("actor [%s] has no inbox", actorIRI)
}

// deliver sends the signed activity to the destination inbox. Delivery is
// gated by the circuit breaker for the destination domain.
func (h *Outbox) deliver(activity *vocab.ActivityType, target *url.URL) error {
	domain := target.Host

	allowed, retryAfter := h.breaker.MayDeliver(domain)
	if !allowed {
		h.metrics.BreakerIncrementBlockedSendCount()

		h.logger.Info("Delivery blocked by circuit breaker. Parking message.",
			logfields.WithDomain(domain), logfields.WithActivityID(activity.ID()),
			logfields.WithExpiration(retryAfter))

		return h.park(activity, target, retryAfter)
	}

	activityBytes, err := vocab.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity [%s]: %w", activity.ID(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.PostTimeout)
	defer cancel()

	req := transport.NewRequest(target,
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType),
	)

	startTime := time.Now()

	resp, err := h.transport.Post(ctx, req, activityBytes)
	if err != nil {
		h.breaker.RecordFailure(domain)

		return errors.NewTransientf("send activity [%s] to [%s]: %s", activity.ID(), target, err)
	}

	if err := resp.Body.Close(); err != nil {
		h.logger.Warn("Error closing response body", log.WithError(err))
	}

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		h.breaker.RecordSuccess(domain, time.Since(startTime))

		h.logger.Debug("Activity delivered", logfields.WithActivityID(activity.ID()),
			logfields.WithTargetIRI(target), logfields.WithHTTPStatus(resp.StatusCode))

		return nil

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError:
		h.breaker.RecordFailure(domain)

		return errors.NewTransientf("server [%s] responded with %d for activity [%s]",
			target, resp.StatusCode, activity.ID())

	default:
		// Any other 4xx is the destination refusing the activity. Retrying
		// cannot change the outcome.
		h.breaker.RecordFailure(domain)

		return fmt.Errorf("server [%s] responded with %d for activity [%s]",
			target, resp.StatusCode, activity.ID())
	}
}

// park re-enqueues a delivery that the breaker blocked, delayed by the
// breaker's recovery interval.
func (h *Outbox) park(activity *vocab.ActivityType, target *url.URL, retryAfter time.Duration) error {
	msgBytes, err := json.Marshal(&activityMessage{
		Type:      deliverType,
		Activity:  activity,
		TargetIRI: vocab.NewURLProperty(target),
	})
	if err != nil {
		return fmt.Errorf("marshal activity message: %w", err)
	}

	msg := pubsub.NewMessage(msgBytes)

	if err := h.publisher.PublishWithOpts(Topic, msg, pubsubspi.WithDeliveryDelay(retryAfter)); err != nil {
		return errors.NewTransient(fmt.Errorf("park deliver message for [%s]: %w", target, err))
	}

	return nil
}

func (h *Outbox) validateAndPopulateActivity(activity *vocab.ActivityType) (*vocab.ActivityType, error) {
	if activity.ID() == nil {
		activity.SetID(h.newActivityID())
	}

	if activity.Actor() == nil {
		activity.SetActor(h.ServiceIRI)
	} else if !h.isLocalIRI(activity.Actor().URL()) {
		return nil, errors.NewBadRequestf("actor [%s] is not hosted on this instance", activity.Actor())
	}

	return activity, nil
}

func (h *Outbox) newActivityID() *url.URL {
	id, err := url.Parse(fmt.Sprintf("%s://%s/activities/%s", h.ServiceIRI.Scheme, h.ServiceIRI.Host, uuid.NewString()))
	if err != nil {
		// The service IRI was validated at startup.
		panic(err)
	}

	return id
}

func (h *Outbox) isLocalIRI(iri *url.URL) bool {
	return iri.Host == h.ServiceIRI.Host
}

func actorOf(activity *vocab.ActivityType) *url.URL {
	if activity.Actor() == nil {
		return nil
	}

	return activity.Actor().URL()
}

func deduplicateAndFilter(iris, excludeIRIs []*url.URL) []*url.URL {
	seen := make(map[string]struct{})

	var result []*url.URL

	for _, iri := range iris {
		key := iri.String()

		if _, ok := seen[key]; ok || contains(excludeIRIs, iri) {
			continue
		}

		seen[key] = struct{}{}

		result = append(result, iri)
	}

	return result
}

func contains(iris []*url.URL, iri *url.URL) bool {
	for _, u := range iris {
		if u.String() == iri.String() {
			return true
		}
	}

	return false
}
