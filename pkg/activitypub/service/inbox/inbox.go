/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package inbox implements the ActivityPub server-to-server ingress pipeline.
// Every POST runs the same sequence of stages, each of which emits a
// checkpoint: receipt, bounded parse, envelope extraction, duplicate check,
// actor lookup, signature verification, validation and enqueue. The request
// is answered as soon as the activity is on the queue.
package inbox

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/httpsig"
	"github.com/agorafed/agora/pkg/activitypub/safejson"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/httpserver"
	"github.com/agorafed/agora/pkg/lifecycle"
	"github.com/agorafed/agora/pkg/observability/tracker"
)

const (
	loggerModule = "activitypub_inbox"

	sharedInboxPath    = "/inbox"
	actorInboxPath     = "/u/{name}/inbox"
	communityInboxPath = "/c/{name}/inbox"

	defaultDedupSize   = 10000
	defaultDedupWindow = time.Hour

	rejectUnauthorized = "unauthorized"
	rejectBadRequest   = "bad_request"
	rejectPolicy       = "policy"
	rejectGone         = "gone"
	rejectTooLarge     = "too_large"
	rejectUnavailable  = "unavailable"
)

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (*url.URL, error)
}

type ldSignatureVerifier interface {
	VerifyDocument(doc vocab.Document) (*url.URL, error)
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
}

type activityQueue interface {
	Enqueue(activity *vocab.ActivityType) (string, error)
}

// DomainPolicy decides whether activities originating from the given domain
// are accepted at all.
type DomainPolicy interface {
	Accepts(domain string) (bool, error)
}

type metricsProvider interface {
	InboxHandlerTime(activityType string, value time.Duration)
	InboxIncrementRejectCount(reason string)
}

// Config holds the configuration parameters for the inbox.
type Config struct {
	ServiceName string
	ServiceIRI  *url.URL

	// DedupSize is the capacity of the recently-seen activity ID cache.
	DedupSize int

	// DedupWindow is how long an activity ID is remembered.
	DedupWindow time.Duration

	// UnsignedAllowlist lists the (verb, actor) pairs that are accepted without
	// an HTTP signature, as entries of the form '<Type>=<actorIRI>'.
	UnsignedAllowlist []string
}

// Inbox implements the ActivityPub inbox endpoints.
type Inbox struct {
	*Config
	*lifecycle.Lifecycle

	parser            *safejson.Parser
	verifier          signatureVerifier
	ldVerifier        ldSignatureVerifier
	client            activityPubClient
	queue             activityQueue
	store             store.Store
	policy            DomainPolicy
	tracker           *tracker.Tracker
	metrics           metricsProvider
	seen              gcache.Cache
	unsignedAllowlist map[string]struct{}
	logger            *log.Log
}

// New returns a new ActivityPub inbox. A nil policy accepts all domains.
func New(cfg *Config, s store.Store, parser *safejson.Parser, verifier signatureVerifier,
	ldVerifier ldSignatureVerifier, client activityPubClient, queue activityQueue,
	policy DomainPolicy, t *tracker.Tracker, metrics metricsProvider) *Inbox {
	if cfg.DedupSize == 0 {
		cfg.DedupSize = defaultDedupSize
	}

	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = defaultDedupWindow
	}

	allowlist := make(map[string]struct{}, len(cfg.UnsignedAllowlist))

	for _, entry := range cfg.UnsignedAllowlist {
		allowlist[entry] = struct{}{}
	}

	h := &Inbox{
		Config:            cfg,
		parser:            parser,
		verifier:          verifier,
		ldVerifier:        ldVerifier,
		client:            client,
		queue:             queue,
		store:             s,
		policy:            policy,
		tracker:           t,
		metrics:           metrics,
		seen:              gcache.New(cfg.DedupSize).LRU().Expiration(cfg.DedupWindow).Build(),
		unsignedAllowlist: allowlist,
		logger:            log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	h.Lifecycle = lifecycle.New(cfg.ServiceName + "-inbox")

	return h
}

// HTTPHandlers returns the HTTP handlers for the shared, per-actor and
// per-community inbox endpoints. These must be registered with the HTTP server.
func (h *Inbox) HTTPHandlers() []httpserver.HTTPHandler {
	return []httpserver.HTTPHandler{
		newEndpoint(sharedInboxPath, h.handleSharedInbox),
		newEndpoint(actorInboxPath, h.handleActorInbox("/u/")),
		newEndpoint(communityInboxPath, h.handleActorInbox("/c/")),
	}
}

func (h *Inbox) handleSharedInbox(w http.ResponseWriter, r *http.Request) {
	h.handlePost(w, r, nil)
}

// handleActorInbox serves a per-actor inbox. A tombstoned target answers 410.
func (h *Inbox) handleActorInbox(pathPrefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		targetIRI := *h.ServiceIRI
		targetIRI.Path = pathPrefix + name
		targetIRI.RawQuery = ""

		h.handlePost(w, r, &targetIRI)
	}
}

//nolint:funlen,gocyclo
func (h *Inbox) handlePost(w http.ResponseWriter, r *http.Request, targetIRI *url.URL) {
	startTime := time.Now()

	// Stage 1: receipt.
	requestID := h.tracker.StartRequest()

	h.tracker.Checkpoint(requestID, tracker.CheckpointInitialReceipt, tracker.StatusOK)

	if h.State() != lifecycle.StateStarted {
		h.reject(w, requestID, http.StatusServiceUnavailable, rejectUnavailable, lifecycle.ErrNotStarted)

		return
	}

	if targetIRI != nil {
		tombstoned, err := h.isTombstoned(targetIRI)
		if err != nil {
			h.reject(w, requestID, http.StatusServiceUnavailable, rejectUnavailable, err)

			return
		}

		if tombstoned {
			h.tracker.Checkpoint(requestID, tracker.CheckpointInitialReceipt, tracker.StatusError,
				tracker.WithDetails("target is tombstoned"))

			h.reject(w, requestID, http.StatusGone, rejectGone,
				fmt.Errorf("target [%s] is tombstoned", targetIRI))

			return
		}
	}

	// Stage 2: bounded parse.
	doc, body, status, err := h.parseRequest(requestID, r)
	if err != nil {
		reason := rejectBadRequest
		if status == http.StatusRequestEntityTooLarge {
			reason = rejectTooLarge
		}

		h.reject(w, requestID, status, reason, err)

		return
	}

	// Stage 3: envelope extraction.
	activity, err := h.extractEnvelope(requestID, doc)
	if err != nil {
		h.reject(w, requestID, http.StatusBadRequest, rejectBadRequest, err)

		return
	}

	// Stage 4: duplicate check.
	duplicate, err := h.isDuplicate(requestID, activity)
	if err != nil {
		h.reject(w, requestID, http.StatusServiceUnavailable, rejectUnavailable, err)

		return
	}

	if duplicate {
		h.accept(w, requestID, activity)

		return
	}

	// Stage 5: a self-delete is the one case where the signature cannot be
	// verified, since the signing key was deleted along with the actor.
	selfDelete := isSelfDelete(activity)

	if selfDelete {
		if err := validateSelfDelete(activity); err != nil {
			h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusError,
				tracker.WithDetails(err.Error()))

			h.reject(w, requestID, http.StatusForbidden, rejectPolicy, err)

			return
		}

		h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusWarning,
			tracker.WithDetails("signature verification bypassed for self-delete"))
	} else {
		// Stage 6: actor lookup.
		if status, err := h.lookupActor(requestID, activity); err != nil {
			h.reject(w, requestID, status, rejectReason(status), err)

			return
		}

		// Stage 7: signature verification.
		if err := h.verifySignature(requestID, r, body, doc, activity); err != nil {
			status := http.StatusUnauthorized
			if errors.IsTransient(err) {
				status = http.StatusServiceUnavailable
			}

			h.reject(w, requestID, status, rejectReason(status), err)

			return
		}
	}

	// Stage 8: schema and policy validation.
	if status, err := h.validate(requestID, doc, activity); err != nil {
		h.reject(w, requestID, status, rejectReason(status), err)

		return
	}

	// Stage 9: Announce normalization. This is the only place where a nested
	// activity is unwrapped.
	activity = normalizeAnnounce(activity)

	// Stage 10: enqueue.
	msgID, err := h.queue.Enqueue(activity)
	if err != nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointMainProcessingDispatch, tracker.StatusError,
			tracker.WithActivityID(activity.ID().String()), tracker.WithDetails(err.Error()))

		h.reject(w, requestID, http.StatusServiceUnavailable, rejectUnavailable, err)

		return
	}

	if err := h.seen.Set(activity.ID().String(), requestID); err != nil {
		h.logger.Warn("Error caching activity ID", logfields.WithActivityID(activity.ID()),
			log.WithError(err))
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointMainProcessingDispatch, tracker.StatusOK,
		tracker.WithActivityID(activity.ID().String()), tracker.WithDetails("message "+msgID))

	h.metrics.InboxHandlerTime(activity.Type().String(), time.Since(startTime))

	h.accept(w, requestID, activity)
}

func (h *Inbox) parseRequest(requestID string, r *http.Request) (vocab.Document, []byte, int, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.parser.MaxSize)+1))
	if err != nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointJSONParse, tracker.StatusError,
			tracker.WithDetails(err.Error()))

		return nil, nil, http.StatusBadRequest, fmt.Errorf("read request body: %w", err)
	}

	h.tracker.CaptureRequest(requestID, body, r.Header)

	doc, err := h.parser.Parse(body)
	if err != nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointJSONParse, tracker.StatusError,
			tracker.WithDetails(err.Error()))

		status := http.StatusBadRequest
		if stderrors.Is(err, safejson.ErrLimitExceeded) {
			status = http.StatusRequestEntityTooLarge
		}

		return nil, nil, status, err
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointJSONParse, tracker.StatusOK)

	return doc, body, http.StatusOK, nil
}

func (h *Inbox) extractEnvelope(requestID string, doc vocab.Document) (*vocab.ActivityType, error) {
	activity := &vocab.ActivityType{}

	if err := vocab.UnmarshalFromDoc(doc, activity); err != nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointRequestInfoExtracted, tracker.StatusError,
			tracker.WithDetails(err.Error()))

		return nil, fmt.Errorf("unmarshal activity: %w", err)
	}

	if activity.ID() == nil || activity.Actor() == nil || len(activity.Type().Types()) == 0 {
		err := fmt.Errorf("activity is missing one of the required fields 'id', 'type', 'actor'")

		h.tracker.Checkpoint(requestID, tracker.CheckpointRequestInfoExtracted, tracker.StatusError,
			tracker.WithDetails(err.Error()))

		return nil, err
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointRequestInfoExtracted, tracker.StatusOK,
		tracker.WithActivityID(activity.ID().String()))

	return activity, nil
}

func (h *Inbox) isDuplicate(requestID string, activity *vocab.ActivityType) (bool, error) {
	activityID := activity.ID().String()

	if _, err := h.seen.Get(activityID); err == nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointDuplicateCheck, tracker.StatusIgnored,
			tracker.WithActivityID(activityID))

		return true, nil
	}

	// The activity store survives a restart, so the cache miss is re-checked
	// against it.
	if _, err := h.store.GetActivity(store.Inbox, activityID); err == nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointDuplicateCheck, tracker.StatusIgnored,
			tracker.WithActivityID(activityID))

		return true, nil
	} else if !stderrors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("query activity [%s]: %w", activityID, err)
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointDuplicateCheck, tracker.StatusOK,
		tracker.WithActivityID(activityID))

	return false, nil
}

func (h *Inbox) lookupActor(requestID string, activity *vocab.ActivityType) (int, error) {
	actorIRI := activity.Actor().URL()

	if _, err := h.client.GetActor(actorIRI); err != nil {
		h.tracker.Checkpoint(requestID, tracker.CheckpointActorLookup, tracker.StatusError,
			tracker.WithActivityID(activity.ID().String()), tracker.WithDetails(err.Error()))

		if errors.IsTransient(err) {
			return http.StatusServiceUnavailable, fmt.Errorf("resolve actor [%s]: %w", actorIRI, err)
		}

		return http.StatusUnauthorized, fmt.Errorf("resolve actor [%s]: %w", actorIRI, err)
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointActorLookup, tracker.StatusOK,
		tracker.WithActivityID(activity.ID().String()))

	return http.StatusOK, nil
}

func (h *Inbox) verifySignature(requestID string, r *http.Request, body []byte,
	doc vocab.Document, activity *vocab.ActivityType) error {
	// The body was consumed by the parser.
	r.Body = io.NopCloser(bytes.NewReader(body))

	signer, err := h.verifier.VerifyRequest(r)
	if err != nil {
		// A linked-data signature is the fallback only when the request
		// carries no HTTP signature at all. A present-but-invalid HTTP
		// signature is always rejected.
		if stderrors.Is(err, httpsig.ErrMissingSignature) {
			return h.verifyUnsigned(requestID, doc, activity)
		}

		h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusError,
			tracker.WithActivityID(activity.ID().String()), tracker.WithDetails(err.Error()))

		return fmt.Errorf("verify request signature: %w", err)
	}

	// The signing actor must be the actor in the envelope.
	if signer.String() != activity.Actor().String() {
		err := errors.NewUnauthorizedf("request signed by [%s] but the activity actor is [%s]",
			signer, activity.Actor())

		h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusError,
			tracker.WithActivityID(activity.ID().String()), tracker.WithDetails(err.Error()))

		return err
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusOK,
		tracker.WithActivityID(activity.ID().String()))

	return nil
}

// verifyUnsigned handles a request with no HTTP signature. A valid linked-data
// signature embedded in the body is accepted for relayed activities, except
// that content verbs additionally require the (verb, actor) pair to be
// allowlisted. With no signature at all only an allowlisted pair is admitted.
func (h *Inbox) verifyUnsigned(requestID string, doc vocab.Document, activity *vocab.ActivityType) error {
	checkpointErr := func(err error) {
		h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusError,
			tracker.WithActivityID(activity.ID().String()), tracker.WithDetails(err.Error()))
	}

	creator, err := h.ldVerifier.VerifyDocument(doc)
	if err != nil {
		if stderrors.Is(err, httpsig.ErrMissingSignature) && h.allowlisted(activity) {
			h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusWarning,
				tracker.WithActivityID(activity.ID().String()),
				tracker.WithDetails("unsigned request admitted by allowlist"))

			return nil
		}

		verr := errors.NewUnauthorizedf("no valid signature on request for activity [%s]: %s",
			activity.ID(), err)

		checkpointErr(verr)

		return verr
	}

	// The signing key must belong to the instance of the activity's actor.
	if creator.Host != activity.Actor().URL().Host {
		verr := errors.NewUnauthorizedf("linked-data signature creator [%s] is not on the actor's"+
			" instance [%s]", creator, activity.Actor().URL().Host)

		checkpointErr(verr)

		return verr
	}

	// Content can be forged convincingly with only a body signature, so
	// content verbs are admitted this way only for allowlisted senders.
	if activity.Type().IsAny(vocab.TypeCreate, vocab.TypeUpdate) && !h.allowlisted(activity) {
		verr := errors.NewUnauthorizedf("'%s' activity [%s] requires an HTTP signature",
			activity.Type(), activity.ID())

		checkpointErr(verr)

		return verr
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointSignatureVerify, tracker.StatusOK,
		tracker.WithActivityID(activity.ID().String()), tracker.WithDetails("ld-signature"))

	return nil
}

func (h *Inbox) allowlisted(activity *vocab.ActivityType) bool {
	types := activity.Type().Types()
	if len(types) == 0 {
		return false
	}

	_, ok := h.unsignedAllowlist[fmt.Sprintf("%s=%s", types[0], activity.Actor())]

	return ok
}

func (h *Inbox) validate(requestID string, doc vocab.Document, activity *vocab.ActivityType) (int, error) {
	checkpointErr := func(err error) {
		h.tracker.Checkpoint(requestID, tracker.CheckpointFieldValidation, tracker.StatusError,
			tracker.WithActivityID(activity.ID().String()), tracker.WithDetails(err.Error()))
	}

	if err := safejson.ValidateActivity(doc); err != nil {
		checkpointErr(err)

		return http.StatusBadRequest, err
	}

	actorIRI := activity.Actor().URL()

	// The activity must be hosted by the actor's instance.
	if activity.ID().URL().Host != actorIRI.Host {
		err := errors.NewUnauthorizedf("activity [%s] is not hosted on the actor's instance [%s]",
			activity.ID(), actorIRI.Host)

		checkpointErr(err)

		return http.StatusForbidden, err
	}

	if h.policy != nil {
		accepted, err := h.policy.Accepts(actorIRI.Host)
		if err != nil {
			return http.StatusServiceUnavailable, fmt.Errorf("domain policy [%s]: %w", actorIRI.Host, err)
		}

		if !accepted {
			err := errors.NewPolicyBlockedf("domain [%s] is not accepted", actorIRI.Host)

			checkpointErr(err)

			return http.StatusForbidden, err
		}
	}

	h.tracker.Checkpoint(requestID, tracker.CheckpointFieldValidation, tracker.StatusOK,
		tracker.WithActivityID(activity.ID().String()))

	return http.StatusOK, nil
}

func (h *Inbox) isTombstoned(iri *url.URL) (bool, error) {
	it, err := h.store.QueryReferences(store.Tombstone, iri)
	if err != nil {
		return false, fmt.Errorf("query tombstone references: %w", err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	total, err := it.TotalItems()
	if err != nil {
		return false, fmt.Errorf("total tombstone references: %w", err)
	}

	return total > 0, nil
}

func (h *Inbox) accept(w http.ResponseWriter, requestID string, activity *vocab.ActivityType) {
	h.tracker.Complete(requestID)

	h.logger.Debug("Accepted activity", logfields.WithRequestID(requestID),
		logfields.WithActivityID(activity.ID()))

	w.WriteHeader(http.StatusAccepted)
}

func (h *Inbox) reject(w http.ResponseWriter, requestID string, status int, reason string, err error) {
	h.metrics.InboxIncrementRejectCount(reason)

	h.logger.Info("Rejected request", logfields.WithRequestID(requestID),
		logfields.WithHTTPStatus(status), log.WithError(err))

	w.WriteHeader(status)
}

func rejectReason(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return rejectUnauthorized
	case http.StatusForbidden:
		return rejectPolicy
	case http.StatusGone:
		return rejectGone
	case http.StatusRequestEntityTooLarge:
		return rejectTooLarge
	case http.StatusServiceUnavailable:
		return rejectUnavailable
	default:
		return rejectBadRequest
	}
}

// isSelfDelete indicates whether the activity is an actor deleting itself.
func isSelfDelete(activity *vocab.ActivityType) bool {
	if !activity.Type().Is(vocab.TypeDelete) {
		return false
	}

	objIRI := activity.Object().IRI()
	if objIRI == nil {
		return false
	}

	return objIRI.String() == activity.Actor().String()
}

// validateSelfDelete requires that the activity and its actor originate from
// the same host, which is the only claim that can still be checked once the
// signing key is gone.
func validateSelfDelete(activity *vocab.ActivityType) error {
	if activity.ID().URL().Host != activity.Actor().URL().Host {
		return errors.NewUnauthorizedf("self-delete activity [%s] is not hosted on the actor's instance [%s]",
			activity.ID(), activity.Actor().URL().Host)
	}

	return nil
}

// normalizeAnnounce unwraps an Announce whose object is a single embedded
// activity by the same actor. A batched Announce and a community announce of
// another actor's activity are left intact for the dispatcher.
func normalizeAnnounce(activity *vocab.ActivityType) *vocab.ActivityType {
	if !activity.Type().Is(vocab.TypeAnnounce) {
		return activity
	}

	if len(activity.Object().Activities()) > 1 {
		return activity
	}

	inner := activity.Object().Activity()
	if inner == nil || inner.ID() == nil || inner.Actor() == nil {
		return activity
	}

	if inner.Actor().String() != activity.Actor().String() {
		return activity
	}

	return inner
}

type endpoint struct {
	path    string
	handler http.HandlerFunc
}

func newEndpoint(path string, handler http.HandlerFunc) *endpoint {
	return &endpoint{path: path, handler: handler}
}

// Path returns the base path of the endpoint.
func (e *endpoint) Path() string {
	return e.path
}

// Method returns the HTTP method, which is always POST.
func (e *endpoint) Method() string {
	return http.MethodPost
}

// Handler returns the HTTP request handler.
func (e *endpoint) Handler() http.HandlerFunc {
	return e.handler
}
