/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// PublicKeyType defines a public key object of an actor.
type PublicKeyType struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// NewPublicKey returns a new public key.
func NewPublicKey(id, owner *url.URL, pem string) *PublicKeyType {
	return &PublicKeyType{
		ID:           id.String(),
		Owner:        owner.String(),
		PublicKeyPem: pem,
	}
}

// EndpointsType defines the endpoints of an actor.
type EndpointsType struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// ActorType defines an 'actor'.
type ActorType struct {
	*ObjectType

	actor *actorType
}

type actorType struct {
	PreferredUsername         string         `json:"preferredUsername,omitempty"`
	Inbox                     *URLProperty   `json:"inbox,omitempty"`
	Outbox                    *URLProperty   `json:"outbox,omitempty"`
	Followers                 *URLProperty   `json:"followers,omitempty"`
	Following                 *URLProperty   `json:"following,omitempty"`
	Featured                  *URLProperty   `json:"featured,omitempty"`
	Endpoints                 *EndpointsType `json:"endpoints,omitempty"`
	PublicKey                 *PublicKeyType `json:"publicKey,omitempty"`
	ManuallyApprovesFollowers bool           `json:"manuallyApprovesFollowers"`
	Indexable                 bool           `json:"indexable,omitempty"`
}

// PreferredUsername returns the actor's preferred username (the local handle).
func (t *ActorType) PreferredUsername() string {
	if t == nil || t.actor == nil {
		return ""
	}

	return t.actor.PreferredUsername
}

// Inbox returns the URL of the actor's inbox.
func (t *ActorType) Inbox() *url.URL {
	return t.actor.Inbox.URL()
}

// Outbox returns the URL of the actor's outbox.
func (t *ActorType) Outbox() *url.URL {
	return t.actor.Outbox.URL()
}

// Followers returns the URL of the actor's followers collection.
func (t *ActorType) Followers() *url.URL {
	return t.actor.Followers.URL()
}

// Following returns the URL of the actor's following collection.
func (t *ActorType) Following() *url.URL {
	return t.actor.Following.URL()
}

// Featured returns the URL of the actor's featured collection. For a community
// this holds the pinned posts.
func (t *ActorType) Featured() *url.URL {
	return t.actor.Featured.URL()
}

// SharedInbox returns the URL of the actor's shared inbox, or nil if the actor
// does not advertise one.
func (t *ActorType) SharedInbox() *url.URL {
	if t.actor.Endpoints == nil || t.actor.Endpoints.SharedInbox == "" {
		return nil
	}

	u, err := url.Parse(t.actor.Endpoints.SharedInbox)
	if err != nil {
		return nil
	}

	return u
}

// PublicKey returns the actor's public key.
func (t *ActorType) PublicKey() *PublicKeyType {
	if t == nil || t.actor == nil {
		return nil
	}

	return t.actor.PublicKey
}

// ManuallyApprovesFollowers returns true if follow requests to this actor
// require manual approval.
func (t *ActorType) ManuallyApprovesFollowers() bool {
	return t.actor.ManuallyApprovesFollowers
}

// Indexable returns true if the actor consents to being indexed.
func (t *ActorType) Indexable() bool {
	return t.actor.Indexable
}

// MarshalJSON marshals the actor.
func (t *ActorType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.actor)
}

// UnmarshalJSON unmarshals the actor.
func (t *ActorType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = &ObjectType{}
	t.actor = &actorType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.actor)
}

// NewActor returns a new actor of the given type.
func NewActor(aType Type, opts ...Opt) *ActorType {
	options := NewOptions(opts...)

	t := &ActorType{
		ObjectType: NewObject(
			WithContext(resolveActorContexts(options.Context)...),
			WithID(options.ID),
			WithType(aType),
			WithName(options.Name),
			WithSummary(options.Summary),
			WithPublishedTime(options.Published),
		),
		actor: &actorType{
			PreferredUsername:         options.PreferredUsername,
			Inbox:                     NewURLProperty(options.Inbox),
			Outbox:                    NewURLProperty(options.Outbox),
			Followers:                 NewURLProperty(options.Followers),
			Following:                 NewURLProperty(options.Following),
			Featured:                  NewURLProperty(options.Featured),
			PublicKey:                 options.PublicKey,
			ManuallyApprovesFollowers: options.ManuallyApprovesFollowers,
			Indexable:                 options.Indexable,
		},
	}

	if options.SharedInbox != nil {
		t.actor.Endpoints = &EndpointsType{SharedInbox: options.SharedInbox.String()}
	}

	return t
}

func resolveActorContexts(contexts []Context) []Context {
	if len(contexts) == 0 {
		return []Context{ContextActivityStreams, ContextSecurity}
	}

	return contexts
}
