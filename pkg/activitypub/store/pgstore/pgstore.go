/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package pgstore implements the ActivityPub store, the suspense store and the
// dead-letter archive on PostgreSQL.
package pgstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lib/pq"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/store/storeutil"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

var logger = log.New("activitypub_pgstore")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ap_activity (
		seq           BIGSERIAL PRIMARY KEY,
		store_type    TEXT NOT NULL,
		activity_id   TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		payload       TEXT NOT NULL,
		added_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (store_type, activity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ap_activity_type_idx ON ap_activity (store_type, activity_type)`,
	`CREATE TABLE IF NOT EXISTS ap_reference (
		ref_type  TEXT NOT NULL,
		actor_iri TEXT NOT NULL,
		ref_iri   TEXT NOT NULL,
		added_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (ref_type, actor_iri, ref_iri)
	)`,
	`CREATE INDEX IF NOT EXISTS ap_reference_actor_idx ON ap_reference (ref_type, actor_iri)`,
	`CREATE TABLE IF NOT EXISTS ap_actor (
		actor_iri  TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ap_suspense (
		id               TEXT PRIMARY KEY,
		prerequisite_iri TEXT NOT NULL,
		payload          BYTEA NOT NULL,
		received         TIMESTAMPTZ NOT NULL,
		expires_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ap_suspense_prereq_idx ON ap_suspense (prerequisite_iri)`,
	`CREATE INDEX IF NOT EXISTS ap_suspense_expiry_idx ON ap_suspense (expires_at)`,
	`CREATE TABLE IF NOT EXISTS ap_deadletter (
		id          TEXT PRIMARY KEY,
		queue       TEXT NOT NULL,
		payload     BYTEA NOT NULL,
		attempts    INT NOT NULL,
		last_error  TEXT NOT NULL DEFAULT '',
		archived_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ap_deadletter_queue_idx ON ap_deadletter (queue, archived_at)`,
}

// Store implements a PostgreSQL-backed ActivityPub store.
type Store struct {
	serviceName string
	db          *sql.DB
}

// Open connects to the database with the given URL and runs the migrations.
func Open(serviceName, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(serviceName, db)

	if err := s.Migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

// New returns a store that uses the given database handle. The caller is expected
// to have run the migrations.
func New(serviceName string, db *sql.DB) *Store {
	return &Store{
		serviceName: serviceName,
		db:          db,
	}
}

// Migrate creates the database schema.
func (s *Store) Migrate() error {
	logger.Info("Running database migrations", logfields.WithServiceName(s.serviceName))

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutActor stores the given actor.
func (s *Store) PutActor(actor *vocab.ActorType) error {
	payload, err := vocab.Marshal(actor)
	if err != nil {
		return fmt.Errorf("marshal actor: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO ap_actor (actor_iri, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (actor_iri) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		actor.ID().String(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("store actor [%s]: %w", actor.ID(), err)
	}

	return nil
}

// GetActor returns the actor for the given IRI. Returns an ErrNotFound error if the actor is not in the store.
func (s *Store) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	var payload string

	err := s.db.QueryRow(`SELECT payload FROM ap_actor WHERE actor_iri = $1`, actorIRI.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("query actor [%s]: %w", actorIRI, err)
	}

	actor := &vocab.ActorType{}

	if err := json.Unmarshal([]byte(payload), actor); err != nil {
		return nil, fmt.Errorf("unmarshal actor [%s]: %w", actorIRI, err)
	}

	return actor, nil
}

// AddActivity adds the given activity to the specified activity store.
func (s *Store) AddActivity(storeType spi.ActivityStoreType, activity *vocab.ActivityType) error {
	payload, err := vocab.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	logger.Debug("Storing activity", logfields.WithServiceName(s.serviceName),
		logfields.WithActivityType(activity.Type().String()), logfields.WithActivityID(activity.ID()))

	_, err = s.db.Exec(
		`INSERT INTO ap_activity (store_type, activity_id, activity_type, payload)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (store_type, activity_id) DO NOTHING`,
		string(storeType), activity.ID().String(), activity.Type().String(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("store activity [%s]: %w", activity.ID(), err)
	}

	return nil
}

// GetActivity returns the activity for the given ID from the given activity store
// or an ErrNotFound error if it wasn't found.
func (s *Store) GetActivity(storeType spi.ActivityStoreType, activityID string) (*vocab.ActivityType, error) {
	var payload string

	err := s.db.QueryRow(
		`SELECT payload FROM ap_activity WHERE store_type = $1 AND activity_id = $2`,
		string(storeType), activityID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("query activity [%s]: %w", activityID, err)
	}

	return unmarshalActivity(payload)
}

// QueryActivities queries the given activity store using the provided criteria
// and returns a results iterator.
func (s *Store) QueryActivities(storeType spi.ActivityStoreType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	options := storeutil.GetQueryOptions(opts...)

	where := `WHERE store_type = $1`
	args := []interface{}{string(storeType)}

	if len(query.Types) > 0 {
		where += fmt.Sprintf(` AND activity_type = ANY($%d)`, len(args)+1)
		args = append(args, pq.Array(typeStrings(query.Types)))
	}

	if len(query.ActivityIRIs) > 0 {
		where += fmt.Sprintf(` AND activity_id = ANY($%d)`, len(args)+1)
		args = append(args, pq.Array(iriStrings(query.ActivityIRIs)))
	}

	var total int

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ap_activity `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count activities: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT payload FROM ap_activity `+where+orderAndPageClause(options), args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}

	return &activityIterator{rows: rows, total: total}, nil
}

// AddReference adds the reference of the given type to the given actor.
func (s *Store) AddReference(refType spi.ReferenceType, actorIRI, referenceIRI *url.URL) error {
	_, err := s.db.Exec(
		`INSERT INTO ap_reference (ref_type, actor_iri, ref_iri) VALUES ($1, $2, $3)
		 ON CONFLICT (ref_type, actor_iri, ref_iri) DO NOTHING`,
		string(refType), actorIRI.String(), referenceIRI.String(),
	)
	if err != nil {
		return fmt.Errorf("add reference [%s] to actor [%s]: %w", referenceIRI, actorIRI, err)
	}

	return nil
}

// DeleteReference deletes the reference of the given type from the given actor.
func (s *Store) DeleteReference(refType spi.ReferenceType, actorIRI, referenceIRI *url.URL) error {
	result, err := s.db.Exec(
		`DELETE FROM ap_reference WHERE ref_type = $1 AND actor_iri = $2 AND ref_iri = $3`,
		string(refType), actorIRI.String(), referenceIRI.String(),
	)
	if err != nil {
		return fmt.Errorf("delete reference [%s] from actor [%s]: %w", referenceIRI, actorIRI, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if deleted == 0 {
		return spi.ErrNotFound
	}

	return nil
}

// QueryReferences returns the actor's list of references of the given type.
func (s *Store) QueryReferences(refType spi.ReferenceType, actorIRI *url.URL,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	options := storeutil.GetQueryOptions(opts...)

	var total int

	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM ap_reference WHERE ref_type = $1 AND actor_iri = $2`,
		string(refType), actorIRI.String(),
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count references: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT ref_iri FROM ap_reference WHERE ref_type = $1 AND actor_iri = $2`+orderAndPageClause(options),
		string(refType), actorIRI.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}

	return &referenceIterator{rows: rows, total: total}, nil
}

// PutSuspense stores the given suspense record.
func (s *Store) PutSuspense(record *spi.SuspenseRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO ap_suspense (id, prerequisite_iri, payload, received, expires_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		record.ID, record.PrerequisiteIRI, record.Activity, record.Received, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store suspense record [%s]: %w", record.ID, err)
	}

	return nil
}

// GetSuspense returns the records parked on the given prerequisite IRI.
func (s *Store) GetSuspense(prerequisiteIRI string) ([]*spi.SuspenseRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, prerequisite_iri, payload, received, expires_at FROM ap_suspense
		 WHERE prerequisite_iri = $1 ORDER BY received`,
		prerequisiteIRI,
	)
	if err != nil {
		return nil, fmt.Errorf("query suspense records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Error closing rows", log.WithError(err))
		}
	}()

	var records []*spi.SuspenseRecord

	for rows.Next() {
		record := &spi.SuspenseRecord{}

		err = rows.Scan(&record.ID, &record.PrerequisiteIRI, &record.Activity,
			&record.Received, &record.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan suspense record: %w", err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// DeleteSuspense deletes the record with the given ID.
func (s *Store) DeleteSuspense(id string) error {
	return s.deleteByID("ap_suspense", id)
}

// DeleteExpiredSuspense deletes all records that expired before the given time.
func (s *Store) DeleteExpiredSuspense(before time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM ap_suspense WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired suspense records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(deleted), nil
}

// SuspenseCount returns the number of parked records.
func (s *Store) SuspenseCount() (int, error) {
	var count int

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ap_suspense`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count suspense records: %w", err)
	}

	return count, nil
}

// ArchiveDeadLetter stores the given dead-letter record.
func (s *Store) ArchiveDeadLetter(record *spi.DeadLetterRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO ap_deadletter (id, queue, payload, attempts, last_error, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		record.ID, record.Queue, record.Payload, record.Attempts, record.LastError, record.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("archive dead-letter record [%s]: %w", record.ID, err)
	}

	return nil
}

// QueryDeadLetters returns up to limit archived records for the given queue.
func (s *Store) QueryDeadLetters(queue string, limit int) ([]*spi.DeadLetterRecord, error) {
	query := `SELECT id, queue, payload, attempts, last_error, archived_at FROM ap_deadletter`

	var args []interface{}

	if queue != "" {
		query += ` WHERE queue = $1`

		args = append(args, queue)
	}

	query += ` ORDER BY archived_at`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)

		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead-letter records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Error closing rows", log.WithError(err))
		}
	}()

	var records []*spi.DeadLetterRecord

	for rows.Next() {
		record := &spi.DeadLetterRecord{}

		err = rows.Scan(&record.ID, &record.Queue, &record.Payload, &record.Attempts,
			&record.LastError, &record.ArchivedAt)
		if err != nil {
			return nil, fmt.Errorf("scan dead-letter record: %w", err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// DeleteDeadLetter deletes the record with the given ID.
func (s *Store) DeleteDeadLetter(id string) error {
	return s.deleteByID("ap_deadletter", id)
}

// DeleteExpiredDeadLetters deletes all records archived before the given time.
func (s *Store) DeleteExpiredDeadLetters(before time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM ap_deadletter WHERE archived_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired dead-letter records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(deleted), nil
}

func (s *Store) deleteByID(table, id string) error {
	//nolint:gosec // table name comes from a compile-time constant
	result, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("delete from %s [%s]: %w", table, id, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if deleted == 0 {
		return spi.ErrNotFound
	}

	return nil
}

func orderAndPageClause(options *spi.QueryOptions) string {
	clause := ` ORDER BY seq`

	if options.SortOrder == spi.SortDescending {
		clause = ` ORDER BY seq DESC`
	}

	if options.PageSize > 0 {
		clause += fmt.Sprintf(` LIMIT %d`, options.PageSize)

		if options.PageNumber > 0 {
			clause += fmt.Sprintf(` OFFSET %d`, options.PageNumber*options.PageSize)
		}
	}

	return clause
}

func unmarshalActivity(payload string) (*vocab.ActivityType, error) {
	activity := &vocab.ActivityType{}

	if err := json.Unmarshal([]byte(payload), activity); err != nil {
		return nil, fmt.Errorf("unmarshal activity: %w", err)
	}

	return activity, nil
}

func typeStrings(types []vocab.Type) []string {
	strs := make([]string, len(types))

	for i, t := range types {
		strs[i] = string(t)
	}

	return strs
}

func iriStrings(iris []*url.URL) []string {
	strs := make([]string, len(iris))

	for i, iri := range iris {
		strs[i] = iri.String()
	}

	return strs
}

type activityIterator struct {
	rows  *sql.Rows
	total int
}

func (it *activityIterator) TotalItems() (int, error) {
	return it.total, nil
}

func (it *activityIterator) Next() (*vocab.ActivityType, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("next activity: %w", err)
		}

		return nil, spi.ErrNotFound
	}

	var payload string

	if err := it.rows.Scan(&payload); err != nil {
		return nil, fmt.Errorf("scan activity: %w", err)
	}

	return unmarshalActivity(payload)
}

func (it *activityIterator) Close() error {
	return it.rows.Close()
}

type referenceIterator struct {
	rows  *sql.Rows
	total int
}

func (it *referenceIterator) TotalItems() (int, error) {
	return it.total, nil
}

func (it *referenceIterator) Next() (*url.URL, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("next reference: %w", err)
		}

		return nil, spi.ErrNotFound
	}

	var iri string

	if err := it.rows.Scan(&iri); err != nil {
		return nil, fmt.Errorf("scan reference: %w", err)
	}

	u, err := url.Parse(iri)
	if err != nil {
		return nil, fmt.Errorf("parse reference IRI [%s]: %w", iri, err)
	}

	return u, nil
}

func (it *referenceIterator) Close() error {
	return it.rows.Close()
}
