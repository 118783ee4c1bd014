/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"net/url"
)

// ObjectProperty defines an 'object' property. The property may hold a plain
// IRI, an embedded object, an embedded activity, or an ordered array of
// embedded activities (the batched-announce form).
type ObjectProperty struct {
	iri        *URLProperty
	obj        *ObjectType
	activity   *ActivityType
	activities []*ActivityType
}

// NewObjectProperty returns a new 'object' property with the given options.
func NewObjectProperty(opts ...ObjectPropertyOpt) *ObjectProperty {
	options := &objectPropertyOptions{}

	for _, opt := range opts {
		opt(options)
	}

	return &ObjectProperty{
		iri:        NewURLProperty(options.iri),
		obj:        options.obj,
		activity:   options.activity,
		activities: options.activities,
	}
}

type objectPropertyOptions struct {
	iri        *url.URL
	obj        *ObjectType
	activity   *ActivityType
	activities []*ActivityType
}

// ObjectPropertyOpt sets an option on an object property.
type ObjectPropertyOpt func(opts *objectPropertyOptions)

// WithIRI sets an IRI on the object property.
func WithIRI(iri *url.URL) ObjectPropertyOpt {
	return func(opts *objectPropertyOptions) {
		opts.iri = iri
	}
}

// WithObj sets an embedded object on the object property.
func WithObj(obj *ObjectType) ObjectPropertyOpt {
	return func(opts *objectPropertyOptions) {
		opts.obj = obj
	}
}

// WithActivity sets an embedded activity on the object property.
func WithActivity(activity *ActivityType) ObjectPropertyOpt {
	return func(opts *objectPropertyOptions) {
		opts.activity = activity
	}
}

// WithActivities sets an ordered array of embedded activities on the object property.
func WithActivities(activities ...*ActivityType) ObjectPropertyOpt {
	return func(opts *objectPropertyOptions) {
		opts.activities = activities
	}
}

// Type returns the type of the contained object, or nil if the property holds
// a plain IRI or an activity array.
func (p *ObjectProperty) Type() *TypeProperty {
	if p == nil {
		return nil
	}

	if p.obj != nil {
		return p.obj.Type()
	}

	if p.activity != nil {
		return p.activity.Type()
	}

	return nil
}

// IRI returns the IRI, which is either the plain IRI held by the property or
// the ID of the embedded object/activity.
func (p *ObjectProperty) IRI() *URLProperty {
	if p == nil {
		return nil
	}

	if p.iri != nil {
		return p.iri
	}

	if p.obj != nil {
		return p.obj.ID()
	}

	if p.activity != nil {
		return p.activity.ID()
	}

	return nil
}

// Object returns the embedded object or nil.
func (p *ObjectProperty) Object() *ObjectType {
	if p == nil {
		return nil
	}

	return p.obj
}

// Activity returns the embedded activity or nil.
func (p *ObjectProperty) Activity() *ActivityType {
	if p == nil {
		return nil
	}

	return p.activity
}

// Activities returns the ordered array of embedded activities or nil.
func (p *ObjectProperty) Activities() []*ActivityType {
	if p == nil {
		return nil
	}

	return p.activities
}

// MarshalJSON marshals the object property.
func (p *ObjectProperty) MarshalJSON() ([]byte, error) {
	switch {
	case p.iri != nil:
		return json.Marshal(p.iri)
	case p.activity != nil:
		return json.Marshal(p.activity)
	case p.activities != nil:
		return json.Marshal(p.activities)
	case p.obj != nil:
		return json.Marshal(p.obj)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON unmarshals the object property.
func (p *ObjectProperty) UnmarshalJSON(bytes []byte) error {
	var iri string

	if err := json.Unmarshal(bytes, &iri); err == nil {
		p.iri = &URLProperty{}

		return p.iri.UnmarshalJSON(bytes)
	}

	var arr []json.RawMessage

	if err := json.Unmarshal(bytes, &arr); err == nil {
		activities := make([]*ActivityType, len(arr))

		for i, raw := range arr {
			a := &ActivityType{}
			if err := json.Unmarshal(raw, a); err != nil {
				return err
			}

			activities[i] = a
		}

		p.activities = activities

		return nil
	}

	obj := &ObjectType{}

	if err := json.Unmarshal(bytes, obj); err != nil {
		return err
	}

	if obj.Type().IsAny(ActivityTypes()...) {
		activity := &ActivityType{}

		if err := json.Unmarshal(bytes, activity); err != nil {
			return err
		}

		p.activity = activity

		return nil
	}

	p.obj = obj

	return nil
}
