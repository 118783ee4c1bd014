/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
)

func newTestOutboxHandler(t *testing.T) (*Outbox, *memstore.Store) {
	t.Helper()

	s := memstore.New("service1")

	h := NewOutbox(&Config{
		ServiceName: "service1",
		ServiceIRI:  serviceIRI,
	}, s)
	require.NotNil(t, h)

	h.Start()

	t.Cleanup(h.Stop)

	return h, s
}

func TestOutboxNotStarted(t *testing.T) {
	h := NewOutbox(&Config{ServiceName: "service1", ServiceIRI: serviceIRI}, memstore.New("service1"))

	err := h.HandleActivity(vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects"))),
		vocab.WithID(newIRI("activities")),
	))
	require.Error(t, err)
	require.True(t, errors.IsTransient(err))
}

func TestOutboxHandleAccept(t *testing.T) {
	h, s := newTestOutboxHandler(t)

	require.NoError(t, s.AddReference(store.PendingFollower, aliceIRI, remoteActor))

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(remoteActor),
	)

	accept := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(aliceIRI),
	)

	require.NoError(t, h.HandleActivity(accept))

	require.Equal(t, 1, refCount(t, s, store.Follower, aliceIRI))
	require.Zero(t, refCount(t, s, store.PendingFollower, aliceIRI))
}

func TestOutboxHandleReject(t *testing.T) {
	h, s := newTestOutboxHandler(t)

	require.NoError(t, s.AddReference(store.PendingFollower, aliceIRI, remoteActor))

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(aliceIRI)),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(remoteActor),
	)

	reject := vocab.NewRejectActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(aliceIRI),
	)

	require.NoError(t, h.HandleActivity(reject))

	require.Zero(t, refCount(t, s, store.PendingFollower, aliceIRI))
	require.Zero(t, refCount(t, s, store.Follower, aliceIRI))
}

func TestOutboxHandleUndo(t *testing.T) {
	t.Run("undo follow", func(t *testing.T) {
		h, s := newTestOutboxHandler(t)

		require.NoError(t, s.AddReference(store.Following, aliceIRI, remoteActor))

		follow := vocab.NewFollowActivity(
			vocab.NewObjectProperty(vocab.WithIRI(remoteActor)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(follow)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(undo))

		require.Zero(t, refCount(t, s, store.Following, aliceIRI))
	})

	t.Run("undo like", func(t *testing.T) {
		h, s := newTestOutboxHandler(t)

		objIRI := newIRI("objects")

		require.NoError(t, s.AddReference(store.Like, objIRI, aliceIRI))

		like := vocab.NewLikeActivity(
			vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(like)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(undo))

		require.Zero(t, refCount(t, s, store.Like, objIRI))
	})

	t.Run("undo block", func(t *testing.T) {
		h, s := newTestOutboxHandler(t)

		require.NoError(t, s.AddReference(store.Blocked, aliceIRI, remoteActor))

		block := vocab.NewBlockActivity(
			vocab.NewObjectProperty(vocab.WithIRI(remoteActor)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(block)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		require.NoError(t, h.HandleActivity(undo))

		require.Zero(t, refCount(t, s, store.Blocked, aliceIRI))
	})

	t.Run("unsupported type", func(t *testing.T) {
		h, _ := newTestOutboxHandler(t)

		create := vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects"))),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		undo := vocab.NewUndoActivity(
			vocab.NewObjectProperty(vocab.WithActivity(create)),
			vocab.WithID(newIRI("activities")),
			vocab.WithActor(aliceIRI),
		)

		err := h.HandleActivity(undo)
		require.Error(t, err)
		require.True(t, errors.IsBadRequest(err))
	})
}

func TestOutboxHandleBlock(t *testing.T) {
	h, s := newTestOutboxHandler(t)

	block := vocab.NewBlockActivity(
		vocab.NewObjectProperty(vocab.WithIRI(remoteActor)),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(aliceIRI),
	)

	require.NoError(t, h.HandleActivity(block))

	require.Equal(t, 1, refCount(t, s, store.Blocked, aliceIRI))
}

func TestOutboxSubscribe(t *testing.T) {
	h, _ := newTestOutboxHandler(t)

	activityChan := h.Subscribe()

	create := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects"))),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(aliceIRI),
	)

	require.NoError(t, h.HandleActivity(create))

	activity := <-activityChan
	require.Equal(t, create.ID().String(), activity.ID().String())
}
