/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"net/url"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// ServiceLifecycle defines the functions of a service lifecycle.
type ServiceLifecycle interface {
	// Start starts the service.
	Start()
	// Stop stops the service.
	Stop()
	// State returns the state of the service.
	State() uint32
}

// ActivityHandler defines the functions of an Activity handler.
type ActivityHandler interface {
	ServiceLifecycle

	// HandleActivity handles the ActivityPub activity.
	HandleActivity(activity *vocab.ActivityType) error

	// Subscribe allows a client to receive published activities.
	Subscribe() <-chan *vocab.ActivityType
}

// Outbox defines the functions for an ActivityPub outbox.
type Outbox interface {
	ServiceLifecycle

	// Post posts an activity to the outbox and returns its ID. The activity is
	// signed, delivered to the destination inboxes, and stored in the outbox
	// activity store. Destinations in the exclude list are skipped.
	Post(activity *vocab.ActivityType, exclude ...*url.URL) (string, error)
}

// ActorAuth makes the decision of whether or not a request by the given
// actor is authorized, e.g. a follow request.
type ActorAuth interface {
	AuthorizeActor(actor *vocab.ActorType) (bool, error)
}

// AcceptAllActorsAuth authorizes any actor.
type AcceptAllActorsAuth struct{}

// AuthorizeActor authorizes the given actor.
func (a *AcceptAllActorsAuth) AuthorizeActor(*vocab.ActorType) (bool, error) {
	return true, nil
}

// Handlers contains handlers for various activity events.
type Handlers struct {
	// FollowerAuth authorizes an incoming follow request. The default
	// implementation accepts all actors.
	FollowerAuth ActorAuth
}

// HandlerOpt sets a handler option.
type HandlerOpt func(options *Handlers)

// WithFollowerAuth sets the handler that authorizes follow requests.
func WithFollowerAuth(auth ActorAuth) HandlerOpt {
	return func(options *Handlers) {
		options.FollowerAuth = auth
	}
}
