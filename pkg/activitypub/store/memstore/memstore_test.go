/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/store/storeutil"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

func TestStoreActivity(t *testing.T) {
	s := New("service1")
	require.NotNil(t, s)

	activityID1 := vocab.MustParseURL("https://sharp.example/activities/1")
	activityID2 := vocab.MustParseURL("https://sharp.example/activities/2")
	activityID3 := vocab.MustParseURL("https://sharp.example/activities/3")

	a, err := s.GetActivity(spi.Inbox, activityID1.String())
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, a)

	activity1 := vocab.NewCreateActivity(vocab.NewObjectProperty(), vocab.WithID(activityID1))
	require.NoError(t, s.AddActivity(spi.Inbox, activity1))

	a, err = s.GetActivity(spi.Inbox, activityID1.String())
	require.NoError(t, err)
	require.Equal(t, activity1, a)

	activity2 := vocab.NewAnnounceActivity(vocab.NewObjectProperty(), vocab.WithID(activityID2))
	require.NoError(t, s.AddActivity(spi.Inbox, activity2))

	activity3 := vocab.NewCreateActivity(vocab.NewObjectProperty(), vocab.WithID(activityID3))
	require.NoError(t, s.AddActivity(spi.Inbox, activity3))

	t.Run("query by type", func(t *testing.T) {
		it, err := s.QueryActivities(spi.Inbox, spi.NewCriteria(spi.WithType(vocab.TypeCreate)))
		require.NoError(t, err)

		total, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 2, total)

		first, err := it.Next()
		require.NoError(t, err)
		require.Equal(t, activityID1.String(), first.ID().String())

		require.NoError(t, it.Close())
	})

	t.Run("query by IRI", func(t *testing.T) {
		it, err := s.QueryActivities(spi.Inbox, spi.NewCriteria(spi.WithActivityIRIs(activityID2)))
		require.NoError(t, err)

		total, err := it.TotalItems()
		require.NoError(t, err)
		require.Equal(t, 1, total)
	})

	t.Run("query descending with paging", func(t *testing.T) {
		it, err := s.QueryActivities(spi.Inbox, spi.NewCriteria(),
			spi.WithSortOrder(spi.SortDescending), spi.WithPageSize(2), spi.WithPageNum(0))
		require.NoError(t, err)

		first, err := it.Next()
		require.NoError(t, err)
		require.Equal(t, activityID3.String(), first.ID().String())
	})
}

func TestStoreReference(t *testing.T) {
	s := New("service1")

	actor1 := vocab.MustParseURL("https://tame.example/c/golang")
	follower1 := vocab.MustParseURL("https://sharp.example/u/alice")
	follower2 := vocab.MustParseURL("https://sharp.example/u/bob")

	it, err := s.QueryReferences(spi.Follower, actor1)
	require.NoError(t, err)

	refs, err := storeutil.ReadReferences(it, -1)
	require.NoError(t, err)
	require.Empty(t, refs)

	require.NoError(t, s.AddReference(spi.Follower, actor1, follower1))
	require.NoError(t, s.AddReference(spi.Follower, actor1, follower2))

	// Adding the same reference twice is a no-op.
	require.NoError(t, s.AddReference(spi.Follower, actor1, follower1))

	it, err = s.QueryReferences(spi.Follower, actor1)
	require.NoError(t, err)

	total, err := it.TotalItems()
	require.NoError(t, err)
	require.Equal(t, 2, total)

	refs, err = storeutil.ReadReferences(it, -1)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	require.NoError(t, s.DeleteReference(spi.Follower, actor1, follower1))

	err = s.DeleteReference(spi.Follower, actor1, follower1)
	require.True(t, errors.Is(err, spi.ErrNotFound))

	it, err = s.QueryReferences(spi.Follower, actor1)
	require.NoError(t, err)

	refs, err = storeutil.ReadReferences(it, -1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, follower2.String(), refs[0].String())
}

func TestStoreActor(t *testing.T) {
	s := New("service1")

	actorIRI := vocab.MustParseURL("https://sharp.example/u/alice")

	a, err := s.GetActor(actorIRI)
	require.True(t, errors.Is(err, spi.ErrNotFound))
	require.Nil(t, a)

	actor := vocab.NewActor(vocab.TypePerson, vocab.WithID(actorIRI))
	require.NoError(t, s.PutActor(actor))

	a, err = s.GetActor(actorIRI)
	require.NoError(t, err)
	require.Equal(t, actor, a)
}

func TestStoreSuspense(t *testing.T) {
	s := New("service1")

	now := time.Now()

	record1 := &spi.SuspenseRecord{
		ID:              "suspense1",
		PrerequisiteIRI: "https://sharp.example/objects/1",
		Activity:        []byte(`{"type":"Like"}`),
		Received:        now,
		ExpiresAt:       now.Add(time.Hour),
	}

	record2 := &spi.SuspenseRecord{
		ID:              "suspense2",
		PrerequisiteIRI: "https://sharp.example/objects/1",
		Activity:        []byte(`{"type":"Announce"}`),
		Received:        now.Add(-time.Minute),
		ExpiresAt:       now.Add(-time.Minute),
	}

	require.NoError(t, s.PutSuspense(record1))
	require.NoError(t, s.PutSuspense(record2))

	count, err := s.SuspenseCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	records, err := s.GetSuspense("https://sharp.example/objects/1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "suspense2", records[0].ID)

	records, err = s.GetSuspense("https://sharp.example/objects/other")
	require.NoError(t, err)
	require.Empty(t, records)

	deleted, err := s.DeleteExpiredSuspense(now)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	require.NoError(t, s.DeleteSuspense("suspense1"))
	require.True(t, errors.Is(s.DeleteSuspense("suspense1"), spi.ErrNotFound))
}

func TestStoreDeadLetter(t *testing.T) {
	s := New("service1")

	now := time.Now()

	require.NoError(t, s.ArchiveDeadLetter(&spi.DeadLetterRecord{
		ID:         "dl1",
		Queue:      "queue1",
		Payload:    []byte("payload1"),
		Attempts:   10,
		LastError:  "connection refused",
		ArchivedAt: now.Add(-time.Hour),
	}))

	require.NoError(t, s.ArchiveDeadLetter(&spi.DeadLetterRecord{
		ID:         "dl2",
		Queue:      "queue2",
		Payload:    []byte("payload2"),
		Attempts:   5,
		ArchivedAt: now,
	}))

	records, err := s.QueryDeadLetters("", -1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "dl1", records[0].ID)

	records, err = s.QueryDeadLetters("queue2", -1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = s.QueryDeadLetters("", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	deleted, err := s.DeleteExpiredDeadLetters(now.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	require.NoError(t, s.DeleteDeadLetter("dl2"))
	require.True(t, errors.Is(s.DeleteDeadLetter("dl2"), spi.ErrNotFound))
}
