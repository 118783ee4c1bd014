/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package activityhandler dispatches activities to verb-specific handlers.
// Handlers are registered against a (verb, object type) pair, with a
// wildcard fallback per verb.
package activityhandler

import (
	"net/url"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/lifecycle"
)

const (
	loggerModule = "activitypub_service"

	defaultBufferSize  = 100
	defaultSuspenseTTL = 2 * time.Hour
	defaultMaxSuspense = 10000
)

// AnyType is the wildcard object type in a handler registration.
const AnyType = vocab.Type("*")

// Config holds the configuration parameters for the activity handler.
type Config struct {
	// ServiceName is the name of the service (used for logging).
	ServiceName string

	// ServiceIRI is the IRI of the local service (actor). It is used as the
	// 'actor' in activities that are posted to the outbox by the handler.
	ServiceIRI *url.URL

	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int

	// SuspenseTTL is how long an activity may be parked waiting for its
	// prerequisite before it expires.
	SuspenseTTL time.Duration

	// MaxSuspense is the maximum number of parked activities.
	MaxSuspense int
}

type activityPubClient interface {
	GetActor(iri *url.URL) (*vocab.ActorType, error)
	GetObject(iri *url.URL) (*vocab.ObjectType, error)
	Refresh(actorIRI *url.URL) (*vocab.ActorType, error)
}

// HandlerFunc handles an activity of a registered (verb, object type) pair.
type HandlerFunc func(activity *vocab.ActivityType) error

type registryKey struct {
	verb       vocab.Type
	objectType vocab.Type
}

// Registry maps a (verb, object type) pair to its handler. A registration
// against AnyType acts as the fallback for the verb.
type Registry struct {
	handlers map[registryKey]HandlerFunc
}

// NewRegistry returns a new handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[registryKey]HandlerFunc),
	}
}

// Register registers a handler for the given verb and object type.
func (r *Registry) Register(verb, objectType vocab.Type, handlerFunc HandlerFunc) {
	r.handlers[registryKey{verb: verb, objectType: objectType}] = handlerFunc
}

// Resolve returns the handler for the given activity. The object type
// registration takes precedence over the verb's wildcard registration.
func (r *Registry) Resolve(activity *vocab.ActivityType) (HandlerFunc, error) {
	types := activity.Type().Types()
	if len(types) == 0 {
		return nil, errors.NewBadRequestf("no type specified in activity [%s]", activity.ID())
	}

	verb := types[0]

	if objType := activity.Object().Type(); objType != nil {
		for _, t := range objType.Types() {
			if handlerFunc, ok := r.handlers[registryKey{verb: verb, objectType: t}]; ok {
				return handlerFunc, nil
			}
		}
	}

	if handlerFunc, ok := r.handlers[registryKey{verb: verb, objectType: AnyType}]; ok {
		return handlerFunc, nil
	}

	return nil, errors.NewBadRequestf("unsupported activity type %s [%s]", activity.Type(), activity.ID())
}

type handler struct {
	*Config
	*lifecycle.Lifecycle

	registry    *Registry
	mutex       sync.RWMutex
	subscribers []chan *vocab.ActivityType
	logger      *log.Log
}

func newHandler(name string, cfg *Config) *handler {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	if cfg.SuspenseTTL == 0 {
		cfg.SuspenseTTL = defaultSuspenseTTL
	}

	if cfg.MaxSuspense == 0 {
		cfg.MaxSuspense = defaultMaxSuspense
	}

	h := &handler{
		Config:   cfg,
		registry: NewRegistry(),
		logger:   log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName))),
	}

	h.Lifecycle = lifecycle.New(name, lifecycle.WithStop(h.stop))

	return h
}

func (h *handler) stop() {
	h.logger.Info("Stopping activity handler")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
	}

	h.subscribers = nil
}

// Subscribe allows a client to receive published activities.
func (h *handler) Subscribe() <-chan *vocab.ActivityType {
	ch := make(chan *vocab.ActivityType, h.BufferSize)

	h.mutex.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mutex.Unlock()

	return ch
}

func (h *handler) notify(activity *vocab.ActivityType) {
	h.mutex.RLock()
	subscribers := h.subscribers
	h.mutex.RUnlock()

	for _, ch := range subscribers {
		ch <- activity
	}
}
