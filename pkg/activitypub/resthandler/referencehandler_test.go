/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

func TestFollowersHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI, PageSize: 2}

	followers := []string{
		"https://sharp.example/u/bob",
		"https://sharp.example/u/carol",
		"https://witty.example/u/dan",
	}

	for _, follower := range followers {
		require.NoError(t, s.AddReference(store.Follower, communityIRI, vocab.MustParseURL(follower)))
	}

	router := newRouter(NewFollowers("/c/{name}/followers", cfg, s))

	t.Run("collection", func(t *testing.T) {
		rw := get(t, router, "/c/golang/followers")
		require.Equal(t, http.StatusOK, rw.Code)

		coll := &vocab.OrderedCollectionType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), coll))

		collID := communityIRI.String() + "/followers"

		require.Equal(t, collID, coll.ID().String())
		require.Equal(t, 3, coll.TotalItems())
		require.Equal(t, collID+"?page=true", coll.First().String())
		require.Equal(t, collID+"?page=true&page-num=1", coll.Last().String())
	})

	t.Run("first page", func(t *testing.T) {
		rw := get(t, router, "/c/golang/followers?page=true")
		require.Equal(t, http.StatusOK, rw.Code)

		page := &vocab.OrderedCollectionPageType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), page))

		require.Len(t, page.Items(), 2)
		require.Equal(t, followers[0], page.Items()[0].IRI().String())
		require.Equal(t, followers[1], page.Items()[1].IRI().String())
		require.NotNil(t, page.Next())
		require.Contains(t, page.Next().String(), "page-num=1")
		require.Nil(t, page.Prev())
	})

	t.Run("last page", func(t *testing.T) {
		rw := get(t, router, "/c/golang/followers?page=true&page-num=1")
		require.Equal(t, http.StatusOK, rw.Code)

		page := &vocab.OrderedCollectionPageType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), page))

		require.Len(t, page.Items(), 1)
		require.Equal(t, followers[2], page.Items()[0].IRI().String())
		require.Nil(t, page.Next())
		require.NotNil(t, page.Prev())
		require.Contains(t, page.Prev().String(), "page-num=0")
	})

	t.Run("invalid page-num falls back to first page", func(t *testing.T) {
		rw := get(t, router, "/c/golang/followers?page=true&page-num=xxx")
		require.Equal(t, http.StatusOK, rw.Code)

		page := &vocab.OrderedCollectionPageType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), page))
		require.Len(t, page.Items(), 2)
	})

	t.Run("empty collection", func(t *testing.T) {
		rw := get(t, router, "/c/rust/followers")
		require.Equal(t, http.StatusOK, rw.Code)

		coll := &vocab.OrderedCollectionType{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), coll))
		require.Zero(t, coll.TotalItems())
	})
}

func TestFollowingHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI}

	require.NoError(t, s.AddReference(store.Following, aliceIRI, remoteActor))

	router := newRouter(NewFollowing("/u/{name}/following", cfg, s))

	rw := get(t, router, "/u/alice/following?page=true")
	require.Equal(t, http.StatusOK, rw.Code)

	page := &vocab.OrderedCollectionPageType{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), page))
	require.Len(t, page.Items(), 1)
	require.Equal(t, remoteActor.String(), page.Items()[0].IRI().String())
}

func TestModeratorsHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI}

	require.NoError(t, s.AddReference(store.Moderator, communityIRI, aliceIRI))

	router := newRouter(NewModerators("/c/{name}/moderators", cfg, s))

	rw := get(t, router, "/c/golang/moderators")
	require.Equal(t, http.StatusOK, rw.Code)

	coll := &vocab.OrderedCollectionType{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), coll))
	require.Equal(t, 1, coll.TotalItems())
}

func TestFeaturedHandler(t *testing.T) {
	s := memstore.New("service1")

	cfg := &Config{ServiceName: "service1", ServiceIRI: serviceIRI}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddReference(store.Featured, communityIRI,
			vocab.MustParseURL(fmt.Sprintf("https://tame.example/post/%d", i))))
	}

	router := newRouter(NewFeatured("/c/{name}/featured", cfg, s))

	rw := get(t, router, "/c/golang/featured")
	require.Equal(t, http.StatusOK, rw.Code)

	coll := &vocab.OrderedCollectionType{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), coll))
	require.Equal(t, 3, coll.TotalItems())
}
