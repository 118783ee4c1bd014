/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/client/transport"
	"github.com/agorafed/agora/pkg/activitypub/service/activityhandler"
	"github.com/agorafed/agora/pkg/activitypub/service/breaker"
	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/lifecycle"
	"github.com/agorafed/agora/pkg/observability/metrics/noop"
	"github.com/agorafed/agora/pkg/pubsub/mempubsub"
)

var (
	serviceIRI   = vocab.MustParseURL("https://tame.example/services/main")
	communityIRI = vocab.MustParseURL("https://tame.example/c/golang")
	follower1    = vocab.MustParseURL("https://sharp.example/u/bob")
	follower2    = vocab.MustParseURL("https://sharp.example/u/carol")
	follower3    = vocab.MustParseURL("https://witty.example/u/dan")
)

type mockTransport struct {
	mutex  sync.Mutex
	posts  map[string]int
	status int
	err    error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		posts:  make(map[string]int),
		status: http.StatusAccepted,
	}
}

func (m *mockTransport) Post(_ context.Context, req *transport.Request, _ []byte) (*http.Response, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	m.posts[req.URL.String()]++

	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func (m *mockTransport) Posts() map[string]int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	posts := make(map[string]int, len(m.posts))
	for target, count := range m.posts {
		posts[target] = count
	}

	return posts
}

func (m *mockTransport) TotalPosts() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	total := 0
	for _, count := range m.posts {
		total += count
	}

	return total
}

type mockClient struct {
	actors map[string]*vocab.ActorType
}

func (m *mockClient) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	if actor, ok := m.actors[iri.String()]; ok {
		return actor, nil
	}

	return nil, errors.NewTransientf("actor [%s] not found", iri)
}

func inboxOf(actorIRI *url.URL) *url.URL {
	return vocab.MustParseURL(actorIRI.String() + "/inbox")
}

type testFixture struct {
	outbox    *Outbox
	store     *memstore.Store
	transport *mockTransport
	breaker   *breaker.Breaker
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	ps := mempubsub.New(mempubsub.DefaultConfig())
	ps.Start()

	t.Cleanup(func() {
		require.NoError(t, ps.Close())
	})

	s := memstore.New("service1")

	// Two followers on the same instance share an inbox. The third has its
	// own inbox.
	sharedInbox := vocab.MustParseURL("https://sharp.example/inbox")

	client := &mockClient{actors: map[string]*vocab.ActorType{
		follower1.String(): vocab.NewActor(vocab.TypePerson, vocab.WithID(follower1),
			vocab.WithInbox(inboxOf(follower1)), vocab.WithSharedInbox(sharedInbox)),
		follower2.String(): vocab.NewActor(vocab.TypePerson, vocab.WithID(follower2),
			vocab.WithInbox(inboxOf(follower2)), vocab.WithSharedInbox(sharedInbox)),
		follower3.String(): vocab.NewActor(vocab.TypePerson, vocab.WithID(follower3),
			vocab.WithInbox(inboxOf(follower3))),
	}}

	handler := activityhandler.NewOutbox(&activityhandler.Config{
		ServiceName: "service1",
		ServiceIRI:  serviceIRI,
	}, s)

	handler.Start()

	t.Cleanup(handler.Stop)

	f := &testFixture{
		store:     s,
		transport: newMockTransport(),
		breaker:   breaker.New(breaker.Config{}),
	}

	outbox, err := New(&Config{
		ServiceName: "service1",
		ServiceIRI:  serviceIRI,
	}, s, ps, f.transport, handler, client, f.breaker, &noop.NoOpMetrics{})
	require.NoError(t, err)

	outbox.Start()

	f.outbox = outbox

	return f
}

var testSeq uint32

func newIRI(path string) *url.URL {
	return vocab.MustParseURL(fmt.Sprintf("https://tame.example/%s/%d", path, atomic.AddUint32(&testSeq, 1)))
}

func TestOutboxNotStarted(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())
	ps.Start()

	defer func() {
		require.NoError(t, ps.Close())
	}()

	s := memstore.New("service1")

	handler := activityhandler.NewOutbox(&activityhandler.Config{
		ServiceName: "service1", ServiceIRI: serviceIRI,
	}, s)

	outbox, err := New(&Config{ServiceName: "service1", ServiceIRI: serviceIRI},
		s, ps, newMockTransport(), handler, &mockClient{}, breaker.New(breaker.Config{}),
		&noop.NoOpMetrics{})
	require.NoError(t, err)

	_, err = outbox.Post(vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects")))))
	require.Error(t, err)
	require.ErrorIs(t, err, lifecycle.ErrNotStarted)
}

func TestOutboxPostToFollowers(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.AddReference(store.Follower, communityIRI, follower1))
	require.NoError(t, f.store.AddReference(store.Follower, communityIRI, follower2))
	require.NoError(t, f.store.AddReference(store.Follower, communityIRI, follower3))

	announce := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects"))),
		vocab.WithActor(communityIRI),
		vocab.WithTo(vocab.PublicIRI),
	)

	activityID, err := f.outbox.Post(announce)
	require.NoError(t, err)
	require.NotEmpty(t, activityID)

	// Followers on the same instance are grouped behind their shared inbox,
	// so three followers receive two POSTs.
	require.Eventually(t, func() bool {
		return f.transport.TotalPosts() == 2
	}, time.Second, 10*time.Millisecond)

	posts := f.transport.Posts()
	require.Equal(t, 1, posts["https://sharp.example/inbox"])
	require.Equal(t, 1, posts["https://witty.example/u/dan/inbox"])

	// The activity is stored in the outbox store.
	_, err = f.store.GetActivity(store.Outbox, activityID)
	require.NoError(t, err)
}

func TestOutboxPostToExplicitRecipient(t *testing.T) {
	f := newFixture(t)

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(follower3)),
		vocab.WithTo(follower3),
	)

	_, err := f.outbox.Post(follow)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.transport.TotalPosts() == 1
	}, time.Second, 10*time.Millisecond)

	posts := f.transport.Posts()
	require.Equal(t, 1, posts["https://witty.example/u/dan/inbox"])
}

func TestOutboxExclude(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.AddReference(store.Follower, communityIRI, follower1))
	require.NoError(t, f.store.AddReference(store.Follower, communityIRI, follower3))

	announce := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects"))),
		vocab.WithActor(communityIRI),
		vocab.WithTo(vocab.PublicIRI),
	)

	_, err := f.outbox.Post(announce, follower1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.transport.TotalPosts() == 1
	}, time.Second, 10*time.Millisecond)

	posts := f.transport.Posts()
	require.Equal(t, 1, posts["https://witty.example/u/dan/inbox"])
}

func TestOutboxSideEffects(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.AddReference(store.PendingFollower, communityIRI, follower1))

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(communityIRI)),
		vocab.WithID(newIRI("activities")),
		vocab.WithActor(follower1),
	)

	accept := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithActor(serviceIRI),
		vocab.WithTo(follower1),
	)

	_, err := f.outbox.Post(accept)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		it, err := f.store.QueryReferences(store.Follower, communityIRI)
		if err != nil {
			return false
		}

		defer func() {
			_ = it.Close()
		}()

		total, err := it.TotalItems()

		return err == nil && total == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOutboxRejectsForeignActor(t *testing.T) {
	f := newFixture(t)

	create := vocab.NewCreateActivity(
		vocab.NewObjectProperty(vocab.WithIRI(newIRI("objects"))),
		vocab.WithActor(follower1),
	)

	_, err := f.outbox.Post(create)
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))
}

func TestOutboxBreakerBlocksDelivery(t *testing.T) {
	f := newFixture(t)

	// Trip the breaker for the destination domain.
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure("witty.example")
	}

	allowed, _ := f.breaker.MayDeliver("witty.example")
	require.False(t, allowed)

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(follower3)),
		vocab.WithTo(follower3),
	)

	_, err := f.outbox.Post(follow)
	require.NoError(t, err)

	// The delivery is parked rather than sent.
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, f.transport.TotalPosts())
}

func TestOutboxDeliveryFailureFeedsBreaker(t *testing.T) {
	f := newFixture(t)

	f.transport.status = http.StatusServiceUnavailable

	follow := vocab.NewFollowActivity(
		vocab.NewObjectProperty(vocab.WithIRI(follower3)),
		vocab.WithTo(follower3),
	)

	_, err := f.outbox.Post(follow)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.breaker.Status("witty.example").TotalFailures > 0
	}, time.Second, 10*time.Millisecond)
}

func TestDeduplicateAndFilter(t *testing.T) {
	iris := []*url.URL{follower1, follower2, follower1, follower3}

	result := deduplicateAndFilter(iris, []*url.URL{follower2})
	require.Len(t, result, 2)
	require.Equal(t, follower1.String(), result[0].String())
	require.Equal(t, follower3.String(), result[1].String())
}
