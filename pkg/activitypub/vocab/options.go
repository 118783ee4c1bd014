/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
	"time"
)

// Options holds all of the options for building an object or activity.
type Options struct {
	Context      []Context
	ID           *url.URL
	Types        []Type
	To           []*url.URL
	CC           []*url.URL
	Published    *time.Time
	Updated      *time.Time
	Audience     *url.URL
	InReplyTo    *url.URL
	AttributedTo *url.URL
	Name         string
	Content      string
	Summary      string
	Sensitive    bool

	Actor  *url.URL
	Object *ObjectProperty
	Target *ObjectProperty

	PreferredUsername         string
	Inbox                     *url.URL
	Outbox                    *url.URL
	Followers                 *url.URL
	Following                 *url.URL
	Featured                  *url.URL
	SharedInbox               *url.URL
	PublicKey                 *PublicKeyType
	ManuallyApprovesFollowers bool
	Indexable                 bool

	Current    *url.URL
	First      *url.URL
	Last       *url.URL
	PartOf     *url.URL
	Next       *url.URL
	Prev       *url.URL
	TotalItems int
}

// Opt is an for an object, activity, etc.
type Opt func(opts *Options)

// NewOptions returns an Options struct which is populated with the given options.
func NewOptions(opts ...Opt) *Options {
	options := &Options{}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithContext sets the 'context' property on the object.
func WithContext(context ...Context) Opt {
	return func(opts *Options) {
		opts.Context = context
	}
}

// WithID sets the 'id' property on the object.
func WithID(id *url.URL) Opt {
	return func(opts *Options) {
		opts.ID = id
	}
}

// WithType sets the 'type' property on the object.
func WithType(t ...Type) Opt {
	return func(opts *Options) {
		opts.Types = t
	}
}

// WithTo sets the 'to' property on the object.
func WithTo(to ...*url.URL) Opt {
	return func(opts *Options) {
		opts.To = append(opts.To, to...)
	}
}

// WithCC sets the 'cc' property on the object.
func WithCC(cc ...*url.URL) Opt {
	return func(opts *Options) {
		opts.CC = append(opts.CC, cc...)
	}
}

// WithPublishedTime sets the 'published' property on the object.
func WithPublishedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Published = t
	}
}

// WithUpdatedTime sets the 'updated' property on the object.
func WithUpdatedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Updated = t
	}
}

// WithAudience sets the 'audience' property on the object.
func WithAudience(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Audience = iri
	}
}

// WithInReplyTo sets the 'inReplyTo' property on the object.
func WithInReplyTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.InReplyTo = iri
	}
}

// WithAttributedTo sets the 'attributedTo' property on the object.
func WithAttributedTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.AttributedTo = iri
	}
}

// WithName sets the 'name' property on the object.
func WithName(name string) Opt {
	return func(opts *Options) {
		opts.Name = name
	}
}

// WithContent sets the 'content' property on the object.
func WithContent(content string) Opt {
	return func(opts *Options) {
		opts.Content = content
	}
}

// WithSummary sets the 'summary' property on the object. Content warnings
// travel in 'summary' with 'sensitive' set.
func WithSummary(summary string) Opt {
	return func(opts *Options) {
		opts.Summary = summary
	}
}

// WithSensitive sets the 'sensitive' property on the object.
func WithSensitive(sensitive bool) Opt {
	return func(opts *Options) {
		opts.Sensitive = sensitive
	}
}

// WithActor sets the 'actor' property on the activity.
func WithActor(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Actor = iri
	}
}

// WithPreferredUsername sets the 'preferredUsername' property on the actor.
func WithPreferredUsername(name string) Opt {
	return func(opts *Options) {
		opts.PreferredUsername = name
	}
}

// WithInbox sets the 'inbox' property on the actor.
func WithInbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Inbox = iri
	}
}

// WithOutbox sets the 'outbox' property on the actor.
func WithOutbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Outbox = iri
	}
}

// WithFollowers sets the 'followers' property on the actor.
func WithFollowers(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Followers = iri
	}
}

// WithFollowing sets the 'following' property on the actor.
func WithFollowing(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Following = iri
	}
}

// WithFeatured sets the 'featured' property on the actor.
func WithFeatured(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Featured = iri
	}
}

// WithSharedInbox sets the shared inbox endpoint on the actor.
func WithSharedInbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.SharedInbox = iri
	}
}

// WithPublicKey sets the public key on the actor.
func WithPublicKey(key *PublicKeyType) Opt {
	return func(opts *Options) {
		opts.PublicKey = key
	}
}

// WithManuallyApprovesFollowers sets the 'manuallyApprovesFollowers' property on the actor.
func WithManuallyApprovesFollowers(v bool) Opt {
	return func(opts *Options) {
		opts.ManuallyApprovesFollowers = v
	}
}

// WithIndexable sets the 'indexable' property on the actor.
func WithIndexable(v bool) Opt {
	return func(opts *Options) {
		opts.Indexable = v
	}
}

// WithFirst sets the 'first' property on the collection.
func WithFirst(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.First = iri
	}
}

// WithLast sets the 'last' property on the collection.
func WithLast(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Last = iri
	}
}

// WithCurrent sets the 'current' property on the collection.
func WithCurrent(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Current = iri
	}
}

// WithPartOf sets the 'partOf' property on the collection page.
func WithPartOf(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.PartOf = iri
	}
}

// WithNext sets the 'next' property on the collection page.
func WithNext(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Next = iri
	}
}

// WithPrev sets the 'prev' property on the collection page.
func WithPrev(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Prev = iri
	}
}

// WithTotalItems sets the 'totalItems' property on the collection.
func WithTotalItems(n int) Opt {
	return func(opts *Options) {
		opts.TotalItems = n
	}
}

// WithObject sets the 'object' property on the activity.
func WithObject(prop *ObjectProperty) Opt {
	return func(opts *Options) {
		opts.Object = prop
	}
}

// WithTarget sets the 'target' property on the activity.
func WithTarget(prop *ObjectProperty) Opt {
	return func(opts *Options) {
		opts.Target = prop
	}
}
