/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/store/storeutil"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

var logger = log.New("activitypub_memstore")

// Store implements an in-memory ActivityPub store.
type Store struct {
	serviceName     string
	activityStores  map[spi.ActivityStoreType]*activityStore
	referenceStores map[spi.ReferenceType]*referenceStore
	actorStore      map[string]*vocab.ActorType
	suspense        map[string]*spi.SuspenseRecord
	deadLetters     map[string]*spi.DeadLetterRecord
	mutex           sync.RWMutex
}

// New returns a new in-memory ActivityPub store.
func New(serviceName string) *Store {
	return &Store{
		serviceName: serviceName,
		activityStores: map[spi.ActivityStoreType]*activityStore{
			spi.Inbox:  newActivitiesStore(),
			spi.Outbox: newActivitiesStore(),
		},
		referenceStores: map[spi.ReferenceType]*referenceStore{
			spi.Follower:        newReferenceStore(),
			spi.Following:       newReferenceStore(),
			spi.Like:            newReferenceStore(),
			spi.Share:           newReferenceStore(),
			spi.Featured:        newReferenceStore(),
			spi.Moderator:       newReferenceStore(),
			spi.Blocked:         newReferenceStore(),
			spi.PendingFollower: newReferenceStore(),
			spi.Dislike:         newReferenceStore(),
			spi.Content:         newReferenceStore(),
			spi.Tombstone:       newReferenceStore(),
			spi.Report:          newReferenceStore(),
		},
		actorStore:  make(map[string]*vocab.ActorType),
		suspense:    make(map[string]*spi.SuspenseRecord),
		deadLetters: make(map[string]*spi.DeadLetterRecord),
	}
}

// PutActor stores the given actor.
func (s *Store) PutActor(actor *vocab.ActorType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	logger.Debug("Storing actor", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(actor.ID()))

	s.actorStore[actor.ID().String()] = actor

	return nil
}

// GetActor returns the actor for the given IRI. Returns an ErrNotFound error if the actor is not in the store.
func (s *Store) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, ok := s.actorStore[iri.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

// AddActivity adds the given activity to the specified activity store.
func (s *Store) AddActivity(storeType spi.ActivityStoreType, activity *vocab.ActivityType) error {
	logger.Debug("Storing activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityType(activity.Type().String()), logfields.WithActivityID(activity.ID()))

	return s.activityStores[storeType].add(activity)
}

// GetActivity returns the activity for the given ID from the given activity store
// or ErrNotFound error if it wasn't found.
func (s *Store) GetActivity(storeType spi.ActivityStoreType, activityID string) (*vocab.ActivityType, error) {
	return s.activityStores[storeType].get(activityID)
}

// QueryActivities queries the given activity store using the provided criteria
// and returns a results iterator.
func (s *Store) QueryActivities(storeType spi.ActivityStoreType,
	query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	return s.activityStores[storeType].query(query, opts...)
}

// AddReference adds the reference of the given type to the given actor.
func (s *Store) AddReference(referenceType spi.ReferenceType, actorIRI, referenceIRI *url.URL) error {
	logger.Debug("Adding reference", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(actorIRI), logfields.WithObjectIRI(referenceIRI))

	return s.referenceStores[referenceType].add(actorIRI, referenceIRI)
}

// DeleteReference deletes the reference of the given type from the given actor.
func (s *Store) DeleteReference(referenceType spi.ReferenceType, actorIRI, referenceIRI *url.URL) error {
	logger.Debug("Deleting reference", logfields.WithServiceName(s.serviceName),
		logfields.WithActorIRI(actorIRI), logfields.WithObjectIRI(referenceIRI))

	return s.referenceStores[referenceType].delete(actorIRI, referenceIRI)
}

// QueryReferences returns the actor's list of references of the given type.
func (s *Store) QueryReferences(referenceType spi.ReferenceType, actorIRI *url.URL,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	return s.referenceStores[referenceType].query(actorIRI, opts...)
}

// PutSuspense stores the given suspense record.
func (s *Store) PutSuspense(record *spi.SuspenseRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.suspense[record.ID] = record

	return nil
}

// GetSuspense returns the records parked on the given prerequisite IRI.
func (s *Store) GetSuspense(prerequisiteIRI string) ([]*spi.SuspenseRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []*spi.SuspenseRecord

	for _, record := range s.suspense {
		if record.PrerequisiteIRI == prerequisiteIRI {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Received.Before(records[j].Received) })

	return records, nil
}

// DeleteSuspense deletes the record with the given ID.
func (s *Store) DeleteSuspense(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.suspense[id]; !ok {
		return spi.ErrNotFound
	}

	delete(s.suspense, id)

	return nil
}

// DeleteExpiredSuspense deletes all records that expired before the given time.
func (s *Store) DeleteExpiredSuspense(before time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var deleted int

	for id, record := range s.suspense {
		if record.ExpiresAt.Before(before) {
			delete(s.suspense, id)

			deleted++
		}
	}

	return deleted, nil
}

// SuspenseCount returns the number of parked records.
func (s *Store) SuspenseCount() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.suspense), nil
}

// ArchiveDeadLetter stores the given dead-letter record.
func (s *Store) ArchiveDeadLetter(record *spi.DeadLetterRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.deadLetters[record.ID] = record

	return nil
}

// QueryDeadLetters returns up to limit archived records for the given queue.
func (s *Store) QueryDeadLetters(queue string, limit int) ([]*spi.DeadLetterRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []*spi.DeadLetterRecord

	for _, record := range s.deadLetters {
		if queue == "" || record.Queue == queue {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ArchivedAt.Before(records[j].ArchivedAt) })

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// DeleteDeadLetter deletes the record with the given ID.
func (s *Store) DeleteDeadLetter(id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.deadLetters[id]; !ok {
		return spi.ErrNotFound
	}

	delete(s.deadLetters, id)

	return nil
}

// DeleteExpiredDeadLetters deletes all records archived before the given time.
func (s *Store) DeleteExpiredDeadLetters(before time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var deleted int

	for id, record := range s.deadLetters {
		if record.ArchivedAt.Before(before) {
			delete(s.deadLetters, id)

			deleted++
		}
	}

	return deleted, nil
}

type activityStore struct {
	mutex        sync.RWMutex
	activities   []*vocab.ActivityType
	activityByID map[string]*vocab.ActivityType
}

func newActivitiesStore() *activityStore {
	return &activityStore{
		activityByID: make(map[string]*vocab.ActivityType),
	}
}

func (s *activityStore) add(activity *vocab.ActivityType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.activities = append(s.activities, activity)
	s.activityByID[activity.ID().String()] = activity

	return nil
}

func (s *activityStore) get(activityID string) (*vocab.ActivityType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, ok := s.activityByID[activityID]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

func (s *activityStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return NewActivityIterator(activityQueryResults(s.activities).filter(query, opts...)), nil
}

type referenceStore struct {
	irisByActor map[string][]*url.URL
	mutex       sync.RWMutex
}

func newReferenceStore() *referenceStore {
	return &referenceStore{
		irisByActor: make(map[string][]*url.URL),
	}
}

func (s *referenceStore) add(actor fmt.Stringer, iri *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	actorID := actor.String()

	for _, existing := range s.irisByActor[actorID] {
		if existing.String() == iri.String() {
			return nil
		}
	}

	s.irisByActor[actorID] = append(s.irisByActor[actorID], iri)

	return nil
}

func (s *referenceStore) delete(actor, iri fmt.Stringer) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	irisForActor := s.irisByActor[actor.String()]

	for i, existing := range irisForActor {
		if existing.String() == iri.String() {
			s.irisByActor[actor.String()] = append(irisForActor[0:i], irisForActor[i+1:]...)

			return nil
		}
	}

	return spi.ErrNotFound
}

func (s *referenceStore) query(actor fmt.Stringer, opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return NewReferenceIterator(referenceQueryResults(s.irisByActor[actor.String()]).filter(opts...)), nil
}

type activityQueryFilter struct {
	*spi.Criteria
}

func newQueryFilter(query *spi.Criteria) *activityQueryFilter {
	return &activityQueryFilter{
		Criteria: query,
	}
}

func (q *activityQueryFilter) apply(activities []*vocab.ActivityType) []*vocab.ActivityType {
	var results []*vocab.ActivityType

	for _, a := range activities {
		if len(q.Types) > 0 && !a.Type().IsAny(q.Types...) {
			continue
		}

		if len(q.ActivityIRIs) > 0 && !containsIRI(q.ActivityIRIs, a.ID().String()) {
			continue
		}

		results = append(results, a)
	}

	return results
}

func containsIRI(iris []*url.URL, iri string) bool {
	for _, i := range iris {
		if i.String() == iri {
			return true
		}
	}

	return false
}

type activityQueryResults []*vocab.ActivityType

func (r activityQueryResults) filter(query *spi.Criteria, opts ...spi.QueryOpt) ([]*vocab.ActivityType, int) {
	results := newQueryFilter(query).apply(r)

	options := storeutil.GetQueryOptions(opts...)

	if options.SortOrder == spi.SortDescending {
		reverseSort(results)
	}

	startIdx := getStartIndex(len(results), options)
	if startIdx == -1 {
		return nil, len(results)
	}

	return paged(results, startIdx, options.PageSize), len(results)
}

type referenceQueryResults []*url.URL

func (r referenceQueryResults) filter(opts ...spi.QueryOpt) ([]*url.URL, int) {
	results := make([]*url.URL, len(r))
	copy(results, r)

	options := storeutil.GetQueryOptions(opts...)

	if options.SortOrder == spi.SortDescending {
		reverseSort(results)
	}

	startIdx := getStartIndex(len(results), options)
	if startIdx == -1 {
		return nil, len(results)
	}

	return paged(results, startIdx, options.PageSize), len(results)
}

func paged[T any](results []T, startIdx, pageSize int) []T {
	if pageSize <= 0 {
		return results[startIdx:]
	}

	endIdx := startIdx + pageSize
	if endIdx > len(results) {
		endIdx = len(results)
	}

	return results[startIdx:endIdx]
}

func getFirstPageNum(totalItems, pageSize int) int {
	if totalItems%pageSize > 0 {
		return totalItems / pageSize
	}

	return totalItems/pageSize - 1
}

func getStartIndex(totalItems int, options *spi.QueryOptions) int {
	if options.PageSize <= 0 {
		return 0
	}

	startIdx := startIndex(totalItems, options)
	if startIdx < 0 || startIdx >= totalItems {
		return -1
	}

	return startIdx
}

func startIndex(totalItems int, options *spi.QueryOptions) int {
	if options.PageNumber < 0 {
		return 0
	}

	if options.SortOrder == spi.SortAscending {
		return options.PageNumber * options.PageSize
	}

	return (getFirstPageNum(totalItems, options.PageSize) - options.PageNumber) * options.PageSize
}

func reverseSort[T any](results []T) {
	sort.SliceStable(results, func(i, j int) bool { return i > j }) //nolint:gocritic
}
