/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

var (
	serviceIRI   = vocab.MustParseURL("https://tame.example/services/main")
	communityIRI = vocab.MustParseURL("https://tame.example/c/golang")
	aliceIRI     = vocab.MustParseURL("https://tame.example/u/alice")
	carolIRI     = vocab.MustParseURL("https://tame.example/u/carol")
	remoteActor  = vocab.MustParseURL("https://sharp.example/u/bob")
)

type restHandler interface {
	Path() string
	Method() string
	Handler() http.HandlerFunc
}

func newRouter(handlers ...restHandler) *mux.Router {
	router := mux.NewRouter()

	for _, h := range handlers {
		router.HandleFunc(h.Path(), h.Handler()).Methods(h.Method())
	}

	return router
}

func get(t *testing.T, router *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()

	rw := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodGet, "https://tame.example"+path, nil)

	router.ServeHTTP(rw, req)

	return rw
}

func TestUserActorHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI}

	require.NoError(t, s.PutActor(vocab.NewActor(vocab.TypePerson,
		vocab.WithID(aliceIRI),
		vocab.WithPreferredUsername("alice"),
		vocab.WithInbox(vocab.MustParseURL(aliceIRI.String()+"/inbox")),
		vocab.WithFollowers(vocab.MustParseURL(aliceIRI.String()+"/followers")),
	)))

	router := newRouter(NewUserActor(cfg, s))

	t.Run("found", func(t *testing.T) {
		rw := get(t, router, "/u/alice")
		require.Equal(t, http.StatusOK, rw.Code)
		require.Contains(t, rw.Header().Get("Content-Type"), "application/activity+json")

		actor := &vocab.ActorType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), actor))
		require.Equal(t, aliceIRI.String(), actor.ID().String())
		require.True(t, actor.Type().Is(vocab.TypePerson))
		require.Equal(t, "alice", actor.PreferredUsername())
	})

	t.Run("not found", func(t *testing.T) {
		rw := get(t, router, "/u/ghost")
		require.Equal(t, http.StatusNotFound, rw.Code)
	})

	t.Run("tombstoned", func(t *testing.T) {
		require.NoError(t, s.AddReference(store.Tombstone, carolIRI, remoteActor))

		rw := get(t, router, "/u/carol")
		require.Equal(t, http.StatusGone, rw.Code)

		obj := &vocab.ObjectType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), obj))
		require.True(t, obj.Type().Is(vocab.TypeTombstone))
		require.Equal(t, carolIRI.String(), obj.ID().String())
	})
}

func TestCommunityActorHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI}

	require.NoError(t, s.PutActor(vocab.NewActor(vocab.TypeGroup,
		vocab.WithID(communityIRI),
		vocab.WithPreferredUsername("golang"),
		vocab.WithInbox(vocab.MustParseURL(communityIRI.String()+"/inbox")),
		vocab.WithFollowers(vocab.MustParseURL(communityIRI.String()+"/followers")),
		vocab.WithFeatured(vocab.MustParseURL(communityIRI.String()+"/featured")),
	)))

	router := newRouter(NewCommunityActor(cfg, s))

	rw := get(t, router, "/c/golang")
	require.Equal(t, http.StatusOK, rw.Code)

	actor := &vocab.ActorType{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), actor))
	require.True(t, actor.Type().Is(vocab.TypeGroup))
	require.Equal(t, communityIRI.String()+"/featured", actor.Featured().String())
}

func TestServiceActorHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI}

	require.NoError(t, s.PutActor(vocab.NewActor(vocab.TypeService,
		vocab.WithID(serviceIRI),
		vocab.WithInbox(vocab.MustParseURL("https://tame.example/inbox")),
	)))

	router := newRouter(NewServiceActor(cfg, s))

	rw := get(t, router, "/services/main")
	require.Equal(t, http.StatusOK, rw.Code)

	actor := &vocab.ActorType{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), actor))
	require.True(t, actor.Type().Is(vocab.TypeService))
}
