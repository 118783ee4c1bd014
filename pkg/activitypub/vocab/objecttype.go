/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ObjectType defines an 'object'.
type ObjectType struct {
	object     *objectType
	additional Document
}

// NewObject returns a new 'object'.
func NewObject(opts ...Opt) *ObjectType {
	options := NewOptions(opts...)

	return &ObjectType{
		object: &objectType{
			Context:      NewContextProperty(options.Context...),
			ID:           NewURLProperty(options.ID),
			Type:         NewTypeProperty(options.Types...),
			To:           NewURLCollectionProperty(options.To...),
			CC:           NewURLCollectionProperty(options.CC...),
			Published:    options.Published,
			Updated:      options.Updated,
			Audience:     NewURLProperty(options.Audience),
			InReplyTo:    NewURLProperty(options.InReplyTo),
			AttributedTo: NewURLProperty(options.AttributedTo),
			Name:         options.Name,
			Content:      options.Content,
			Summary:      options.Summary,
			Sensitive:    options.Sensitive,
		},
	}
}

// NewObjectWithDocument returns a new object initialized with the given document.
func NewObjectWithDocument(doc Document, opts ...Opt) (*ObjectType, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	bytes, err := MarshalJSON(NewObject(opts...), doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	obj := &ObjectType{}

	err = json.Unmarshal(bytes, &obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return obj, nil
}

type objectType struct {
	Context      *ContextProperty       `json:"@context,omitempty"`
	ID           *URLProperty           `json:"id,omitempty"`
	Type         *TypeProperty          `json:"type,omitempty"`
	To           *URLCollectionProperty `json:"to,omitempty"`
	CC           *URLCollectionProperty `json:"cc,omitempty"`
	Published    *time.Time             `json:"published,omitempty"`
	Updated      *time.Time             `json:"updated,omitempty"`
	Audience     *URLProperty           `json:"audience,omitempty"`
	InReplyTo    *URLProperty           `json:"inReplyTo,omitempty"`
	AttributedTo *URLProperty           `json:"attributedTo,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Content      string                 `json:"content,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Sensitive    bool                   `json:"sensitive,omitempty"`
}

// Context returns the context property.
func (t *ObjectType) Context() *ContextProperty {
	return t.object.Context
}

// ID returns the object's ID.
func (t *ObjectType) ID() *URLProperty {
	return t.object.ID
}

// SetID sets the object's ID.
func (t *ObjectType) SetID(id *url.URL) {
	t.object.ID = NewURLProperty(id)
}

// Type returns the type of the object.
func (t *ObjectType) Type() *TypeProperty {
	return t.object.Type
}

// To returns a set of URLs to which the object should be sent.
func (t *ObjectType) To() *URLCollectionProperty {
	return t.object.To
}

// SetTo sets the 'to' property.
func (t *ObjectType) SetTo(to ...*url.URL) {
	t.object.To = NewURLCollectionProperty(to...)
}

// CC returns the 'cc' property.
func (t *ObjectType) CC() *URLCollectionProperty {
	return t.object.CC
}

// Published returns the time at which the object was published.
func (t *ObjectType) Published() *time.Time {
	return t.object.Published
}

// Updated returns the time at which the object was last updated.
func (t *ObjectType) Updated() *time.Time {
	return t.object.Updated
}

// Audience returns the audience (the community Group for a post).
func (t *ObjectType) Audience() *URLProperty {
	return t.object.Audience
}

// InReplyTo returns the parent object of a comment.
func (t *ObjectType) InReplyTo() *URLProperty {
	return t.object.InReplyTo
}

// AttributedTo returns the author of the object.
func (t *ObjectType) AttributedTo() *URLProperty {
	return t.object.AttributedTo
}

// Name returns the object's name (the title of a post).
func (t *ObjectType) Name() string {
	return t.object.Name
}

// Content returns the object's content.
func (t *ObjectType) Content() string {
	return t.object.Content
}

// Summary returns the object's summary (content warning when 'sensitive').
func (t *ObjectType) Summary() string {
	return t.object.Summary
}

// Sensitive returns true if the content carries a content warning.
func (t *ObjectType) Sensitive() bool {
	return t.object.Sensitive
}

// Value returns the value of an additional (non-reserved) property.
func (t *ObjectType) Value(key string) (interface{}, bool) {
	v, ok := t.additional[key]

	return v, ok
}

// LanguageTag returns the BCP-47 language of the content, if declared.
func (t *ObjectType) LanguageTag() string {
	contentMap, ok := t.additional["contentMap"].(map[string]interface{})
	if !ok {
		return ""
	}

	for lang := range contentMap {
		return lang
	}

	return ""
}

// MarshalJSON marshals the object.
func (t *ObjectType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.object, t.additional)
}

// UnmarshalJSON unmarshals the object.
func (t *ObjectType) UnmarshalJSON(bytes []byte) error {
	header := &objectType{}

	err := json.Unmarshal(bytes, header)
	if err != nil {
		return err
	}

	doc := make(Document)

	err = json.Unmarshal(bytes, &doc)
	if err != nil {
		return err
	}

	// Delete all of the reserved ActivityStreams fields so that they don't
	// show up as additional properties.
	for _, prop := range reservedProperties() {
		delete(doc, prop)
	}

	t.object = header
	t.additional = doc

	return nil
}
