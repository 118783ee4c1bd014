/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// CollectionType defines a 'Collection'.
type CollectionType struct {
	*ObjectType

	coll *collectionType
}

type collectionType struct {
	Current    *URLProperty      `json:"current,omitempty"`
	First      *URLProperty      `json:"first,omitempty"`
	Last       *URLProperty      `json:"last,omitempty"`
	TotalItems int               `json:"totalItems"`
	Items      []*ObjectProperty `json:"items,omitempty"`
}

// NewCollection returns a new 'Collection'.
func NewCollection(items []*ObjectProperty, opts ...Opt) *CollectionType {
	options := NewOptions(opts...)

	return &CollectionType{
		ObjectType: NewObject(
			WithContext(resolveContexts(options.Context)...),
			WithID(options.ID),
			WithType(TypeCollection),
		),
		coll: &collectionType{
			Current:    NewURLProperty(options.Current),
			First:      NewURLProperty(options.First),
			Last:       NewURLProperty(options.Last),
			TotalItems: options.TotalItems,
			Items:      items,
		},
	}
}

// TotalItems returns the total number of items in the collection.
func (t *CollectionType) TotalItems() int {
	return t.coll.TotalItems
}

// First returns the URL of the first page of the collection.
func (t *CollectionType) First() *url.URL {
	return t.coll.First.URL()
}

// Last returns the URL of the last page of the collection.
func (t *CollectionType) Last() *url.URL {
	return t.coll.Last.URL()
}

// Items returns the items in the collection.
func (t *CollectionType) Items() []*ObjectProperty {
	return t.coll.Items
}

// MarshalJSON marshals the collection.
func (t *CollectionType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.coll)
}

// UnmarshalJSON unmarshals the collection.
func (t *CollectionType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = &ObjectType{}
	t.coll = &collectionType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.coll)
}

// OrderedCollectionType defines an 'OrderedCollection'.
type OrderedCollectionType struct {
	*ObjectType

	coll *orderedCollectionType
}

type orderedCollectionType struct {
	Current    *URLProperty      `json:"current,omitempty"`
	First      *URLProperty      `json:"first,omitempty"`
	Last       *URLProperty      `json:"last,omitempty"`
	TotalItems int               `json:"totalItems"`
	Items      []*ObjectProperty `json:"orderedItems,omitempty"`
}

// NewOrderedCollection returns a new 'OrderedCollection'.
func NewOrderedCollection(items []*ObjectProperty, opts ...Opt) *OrderedCollectionType {
	options := NewOptions(opts...)

	return &OrderedCollectionType{
		ObjectType: NewObject(
			WithContext(resolveContexts(options.Context)...),
			WithID(options.ID),
			WithType(TypeOrderedCollection),
		),
		coll: &orderedCollectionType{
			Current:    NewURLProperty(options.Current),
			First:      NewURLProperty(options.First),
			Last:       NewURLProperty(options.Last),
			TotalItems: options.TotalItems,
			Items:      items,
		},
	}
}

// TotalItems returns the total number of items in the collection.
func (t *OrderedCollectionType) TotalItems() int {
	return t.coll.TotalItems
}

// First returns the URL of the first page of the collection.
func (t *OrderedCollectionType) First() *url.URL {
	return t.coll.First.URL()
}

// Last returns the URL of the last page of the collection.
func (t *OrderedCollectionType) Last() *url.URL {
	return t.coll.Last.URL()
}

// Items returns the items in the collection.
func (t *OrderedCollectionType) Items() []*ObjectProperty {
	return t.coll.Items
}

// MarshalJSON marshals the ordered collection.
func (t *OrderedCollectionType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.coll)
}

// UnmarshalJSON unmarshals the ordered collection.
func (t *OrderedCollectionType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = &ObjectType{}
	t.coll = &orderedCollectionType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.coll)
}

// OrderedCollectionPageType defines an 'OrderedCollectionPage'.
type OrderedCollectionPageType struct {
	*ObjectType

	page *orderedCollectionPageType
}

type orderedCollectionPageType struct {
	PartOf     *URLProperty      `json:"partOf,omitempty"`
	Next       *URLProperty      `json:"next,omitempty"`
	Prev       *URLProperty      `json:"prev,omitempty"`
	TotalItems int               `json:"totalItems"`
	Items      []*ObjectProperty `json:"orderedItems"`
}

// NewOrderedCollectionPage returns a new 'OrderedCollectionPage'.
func NewOrderedCollectionPage(items []*ObjectProperty, opts ...Opt) *OrderedCollectionPageType {
	options := NewOptions(opts...)

	return &OrderedCollectionPageType{
		ObjectType: NewObject(
			WithContext(resolveContexts(options.Context)...),
			WithID(options.ID),
			WithType(TypeOrderedCollectionPage),
		),
		page: &orderedCollectionPageType{
			PartOf:     NewURLProperty(options.PartOf),
			Next:       NewURLProperty(options.Next),
			Prev:       NewURLProperty(options.Prev),
			TotalItems: options.TotalItems,
			Items:      items,
		},
	}
}

// PartOf returns the URL of the collection that this page is part of.
func (t *OrderedCollectionPageType) PartOf() *url.URL {
	return t.page.PartOf.URL()
}

// Next returns the URL of the next page.
func (t *OrderedCollectionPageType) Next() *url.URL {
	return t.page.Next.URL()
}

// Prev returns the URL of the previous page.
func (t *OrderedCollectionPageType) Prev() *url.URL {
	return t.page.Prev.URL()
}

// TotalItems returns the total number of items in the collection.
func (t *OrderedCollectionPageType) TotalItems() int {
	return t.page.TotalItems
}

// Items returns the items in the page.
func (t *OrderedCollectionPageType) Items() []*ObjectProperty {
	return t.page.Items
}

// MarshalJSON marshals the ordered collection page.
func (t *OrderedCollectionPageType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.page)
}

// UnmarshalJSON unmarshals the ordered collection page.
func (t *OrderedCollectionPageType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = &ObjectType{}
	t.page = &orderedCollectionPageType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.page)
}
