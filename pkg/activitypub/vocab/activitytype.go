/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// ActivityType defines an 'activity'.
type ActivityType struct {
	*ObjectType

	activity *activityType
}

type activityType struct {
	Actor  *URLProperty    `json:"actor,omitempty"`
	Object *ObjectProperty `json:"object,omitempty"`
	Target *ObjectProperty `json:"target,omitempty"`
}

// Actor returns the actor that performed the activity.
func (t *ActivityType) Actor() *URLProperty {
	if t == nil || t.activity == nil {
		return nil
	}

	return t.activity.Actor
}

// SetActor sets the 'actor' property of the activity.
func (t *ActivityType) SetActor(iri *url.URL) {
	t.activity.Actor = NewURLProperty(iri)
}

// Object returns the 'object' property of the activity.
func (t *ActivityType) Object() *ObjectProperty {
	if t == nil || t.activity == nil {
		return nil
	}

	return t.activity.Object
}

// Target returns the 'target' property of the activity.
func (t *ActivityType) Target() *ObjectProperty {
	if t == nil || t.activity == nil {
		return nil
	}

	return t.activity.Target
}

// MarshalJSON marshals the activity.
func (t *ActivityType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.activity)
}

// UnmarshalJSON unmarshals the activity.
func (t *ActivityType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = &ObjectType{}
	t.activity = &activityType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.activity)
}

// NewActivity returns a new activity of the given type.
func NewActivity(activityType Type, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)

	return newActivity(activityType, options)
}

func newActivity(t Type, options *Options) *ActivityType {
	return &ActivityType{
		ObjectType: NewObject(
			WithContext(resolveContexts(options.Context)...),
			WithID(options.ID),
			WithType(t),
			WithTo(options.To...),
			WithCC(options.CC...),
			WithPublishedTime(options.Published),
			WithUpdatedTime(options.Updated),
			WithAudience(options.Audience),
			WithSummary(options.Summary),
		),
		activity: &activityType{
			Actor:  NewURLProperty(options.Actor),
			Object: options.Object,
			Target: options.Target,
		},
	}
}

func resolveContexts(contexts []Context) []Context {
	if len(contexts) == 0 {
		return []Context{ContextActivityStreams}
	}

	return contexts
}

// NewCreateActivity returns a new 'Create' activity.
func NewCreateActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeCreate, options)
}

// NewUpdateActivity returns a new 'Update' activity.
func NewUpdateActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeUpdate, options)
}

// NewDeleteActivity returns a new 'Delete' activity.
func NewDeleteActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeDelete, options)
}

// NewFollowActivity returns a new 'Follow' activity.
func NewFollowActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeFollow, options)
}

// NewAcceptActivity returns a new 'Accept' activity.
func NewAcceptActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeAccept, options)
}

// NewRejectActivity returns a new 'Reject' activity.
func NewRejectActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeReject, options)
}

// NewAnnounceActivity returns a new 'Announce' activity.
func NewAnnounceActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeAnnounce, options)
}

// NewLikeActivity returns a new 'Like' activity.
func NewLikeActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeLike, options)
}

// NewDislikeActivity returns a new 'Dislike' activity.
func NewDislikeActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeDislike, options)
}

// NewUndoActivity returns a new 'Undo' activity.
func NewUndoActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeUndo, options)
}

// NewFlagActivity returns a new 'Flag' activity.
func NewFlagActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeFlag, options)
}

// NewAddActivity returns a new 'Add' activity.
func NewAddActivity(obj, target *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj
	options.Target = target

	return newActivity(TypeAdd, options)
}

// NewRemoveActivity returns a new 'Remove' activity.
func NewRemoveActivity(obj, target *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj
	options.Target = target

	return newActivity(TypeRemove, options)
}

// NewBlockActivity returns a new 'Block' activity.
func NewBlockActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)
	options.Object = obj

	return newActivity(TypeBlock, options)
}
