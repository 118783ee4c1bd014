/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"fmt"
	"net/url"
	"time"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// ErrNotFound is returned from various store functions when a requested
// object is not found in the store.
var ErrNotFound = fmt.Errorf("not found in ActivityPub store")

// ActivityStoreType indicates the type of activities store, i.e. inbox, outbox.
type ActivityStoreType string

const (
	// Inbox indicates that the activity store is the inbox.
	Inbox ActivityStoreType = "INBOX"
	// Outbox indicates that the activity store is the outbox.
	Outbox ActivityStoreType = "OUTBOX"
)

// ReferenceType defines the type of reference, e.g. follower, moderator, etc.
type ReferenceType string

const (
	// Follower indicates that the reference is an actor that's following the local actor.
	Follower ReferenceType = "FOLLOWER"
	// Following indicates that the reference is an actor that the local actor is following.
	Following ReferenceType = "FOLLOWING"
	// Like indicates that the reference is an object that was liked by a remote actor.
	Like ReferenceType = "LIKE"
	// Share indicates that the reference is an object that the local actor announced
	// to its followers.
	Share ReferenceType = "SHARE"
	// Featured indicates that the reference is an object pinned by the local actor.
	Featured ReferenceType = "FEATURED"
	// Moderator indicates that the reference is an actor moderating the local community.
	Moderator ReferenceType = "MODERATOR"
	// Blocked indicates that the reference is an actor blocked by the local actor.
	Blocked ReferenceType = "BLOCKED"
	// PendingFollower indicates that the reference is an actor whose follow request
	// has not yet been accepted or rejected.
	PendingFollower ReferenceType = "PENDING_FOLLOWER"
	// Dislike indicates that the reference is an actor that disliked the object.
	Dislike ReferenceType = "DISLIKE"
	// Content indicates that the reference is a content object known to this instance.
	Content ReferenceType = "CONTENT"
	// Tombstone indicates that the reference is an object that was deleted.
	Tombstone ReferenceType = "TOMBSTONE"
	// Report indicates that the reference is an object that was flagged for moderation.
	Report ReferenceType = "REPORT"
)

// SortOrder specifies the sort order of query results.
type SortOrder int

const (
	// SortAscending indicates that the query results must be sorted in ascending order.
	SortAscending SortOrder = iota
	// SortDescending indicates that the query results must be sorted in descending order.
	SortDescending
)

// Store defines the functions of an ActivityPub store.
type Store interface {
	// PutActor stores the given actor.
	PutActor(actor *vocab.ActorType) error
	// GetActor returns the actor for the given IRI. Returns an ErrNotFound error if the actor is not in the store.
	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)
	// AddActivity adds the given activity to the specified activity store.
	AddActivity(storeType ActivityStoreType, activity *vocab.ActivityType) error
	// GetActivity returns the activity for the given ID from the given activity store
	// or an ErrNotFound error if it wasn't found.
	GetActivity(storeType ActivityStoreType, activityID string) (*vocab.ActivityType, error)
	// QueryActivities queries the given activity store using the provided criteria
	// and returns a results iterator.
	QueryActivities(storeType ActivityStoreType, query *Criteria, opts ...QueryOpt) (ActivityIterator, error)
	// AddReference adds the reference of the given type to the given actor.
	AddReference(refType ReferenceType, actorIRI, referenceIRI *url.URL) error
	// DeleteReference deletes the reference of the given type from the given actor.
	DeleteReference(refType ReferenceType, actorIRI, referenceIRI *url.URL) error
	// QueryReferences returns the actor's list of references of the given type.
	QueryReferences(refType ReferenceType, actorIRI *url.URL, opts ...QueryOpt) (ReferenceIterator, error)
}

// SuspenseRecord holds an activity that arrived before a prerequisite it depends on.
type SuspenseRecord struct {
	ID              string
	PrerequisiteIRI string
	Activity        []byte
	Received        time.Time
	ExpiresAt       time.Time
}

// SuspenseStore defines the functions of a store for activities that are parked until
// a missing prerequisite arrives.
type SuspenseStore interface {
	// PutSuspense stores the given suspense record.
	PutSuspense(record *SuspenseRecord) error
	// GetSuspense returns the records parked on the given prerequisite IRI.
	GetSuspense(prerequisiteIRI string) ([]*SuspenseRecord, error)
	// DeleteSuspense deletes the record with the given ID.
	DeleteSuspense(id string) error
	// DeleteExpiredSuspense deletes all records that expired before the given time and
	// returns the number of records deleted.
	DeleteExpiredSuspense(before time.Time) (int, error)
	// SuspenseCount returns the number of parked records.
	SuspenseCount() (int, error)
}

// DeadLetterRecord holds a message that exhausted its delivery attempts.
type DeadLetterRecord struct {
	ID         string
	Queue      string
	Payload    []byte
	Attempts   int
	LastError  string
	ArchivedAt time.Time
}

// DeadLetterStore defines the functions of the dead-letter archive.
type DeadLetterStore interface {
	// ArchiveDeadLetter stores the given dead-letter record.
	ArchiveDeadLetter(record *DeadLetterRecord) error
	// QueryDeadLetters returns up to limit archived records for the given queue.
	// An empty queue returns records for all queues.
	QueryDeadLetters(queue string, limit int) ([]*DeadLetterRecord, error)
	// DeleteDeadLetter deletes the record with the given ID.
	DeleteDeadLetter(id string) error
	// DeleteExpiredDeadLetters deletes all records archived before the given time and
	// returns the number of records deleted.
	DeleteExpiredDeadLetters(before time.Time) (int, error)
}

// Criteria holds the search criteria for a query.
type Criteria struct {
	Types        []vocab.Type
	ActivityIRIs []*url.URL
}

// CriteriaOpt sets a Criteria option.
type CriteriaOpt func(q *Criteria)

// NewCriteria returns new Criteria which may be used to perform a query.
func NewCriteria(opts ...CriteriaOpt) *Criteria {
	q := &Criteria{}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// WithType sets the object Type on the criteria.
func WithType(t ...vocab.Type) CriteriaOpt {
	return func(query *Criteria) {
		query.Types = append(query.Types, t...)
	}
}

// WithActivityIRIs sets the activity IRIs on the criteria.
func WithActivityIRIs(iris ...*url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ActivityIRIs = append(query.ActivityIRIs, iris...)
	}
}

// QueryOptions holds the options for a query.
type QueryOptions struct {
	PageNumber int
	PageSize   int
	SortOrder  SortOrder
}

// QueryOpt sets a query option.
type QueryOpt func(options *QueryOptions)

// WithPageSize sets the page size.
func WithPageSize(pageSize int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageSize = pageSize
	}
}

// WithPageNum sets the page number.
func WithPageNum(pageNum int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageNumber = pageNum
	}
}

// WithSortOrder sets the sort order. The default is ascending.
func WithSortOrder(sortOrder SortOrder) QueryOpt {
	return func(options *QueryOptions) {
		options.SortOrder = sortOrder
	}
}

// ActivityIterator defines the query results iterator for activity queries.
type ActivityIterator interface {
	// TotalItems returns the total number of items matching the query.
	TotalItems() (int, error)
	// Next returns the next activity or an ErrNotFound error if there are no more items.
	Next() (*vocab.ActivityType, error)
	// Close closes the iterator.
	Close() error
}

// ReferenceIterator defines the query results iterator for reference queries.
type ReferenceIterator interface {
	// TotalItems returns the total number of items matching the query.
	TotalItems() (int, error)
	// Next returns the next reference or an ErrNotFound error if there are no more items.
	Next() (*url.URL, error)
	// Close closes the iterator.
	Close() error
}
