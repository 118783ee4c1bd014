/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/client/transport"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	errs "github.com/agorafed/agora/pkg/errors"
)

const (
	aliceIRI = "https://sharp.example/u/alice"
	keyPem   = "-----BEGIN PUBLIC KEY-----\nxyz\n-----END PUBLIC KEY-----\n"
)

type stubTransport struct {
	responses map[string]stubResponse
	requests  []string
}

type stubResponse struct {
	status int
	body   string
	err    error
}

type bodyTransport struct {
	stubTransport
}

func (t *bodyTransport) Get(ctx context.Context, req *transport.Request) (*http.Response, error) {
	t.requests = append(t.requests, req.URL.String())

	resp, ok := t.responses[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: http.NoBody}, nil
	}

	if resp.err != nil {
		return nil, resp.err
	}

	return &http.Response{
		StatusCode: resp.status,
		Body:       newBody(resp.body),
	}, nil
}

func newBody(s string) *readCloser { return &readCloser{Reader: strings.NewReader(s)} }

type readCloser struct {
	*strings.Reader
}

func (r *readCloser) Close() error { return nil }

func actorJSON(id string) string {
	return fmt.Sprintf(`{
	  "@context": ["https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"],
	  "id": %q, "type": "Person",
	  "inbox": %q,
	  "publicKey": {"id": %q, "owner": %q, "publicKeyPem": %q}
	}`, id, id+"/inbox", id+"#main-key", id, keyPem)
}

func TestGetActor(t *testing.T) {
	t.Run("success and cached", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			aliceIRI: {status: http.StatusOK, body: actorJSON(aliceIRI)},
		}}}

		c := New(Config{}, tp, nil)

		actor, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.NoError(t, err)
		require.Equal(t, aliceIRI, actor.ID().String())

		_, err = c.GetActor(vocab.MustParseURL(aliceIRI))
		require.NoError(t, err)
		require.Len(t, tp.requests, 1)
	})

	t.Run("ID mismatch rejected", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			aliceIRI: {status: http.StatusOK, body: actorJSON("https://evil.example/u/alice")},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.ErrorIs(t, err, ErrInvalidActor)
	})

	t.Run("missing public key rejected", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			aliceIRI: {status: http.StatusOK, body: fmt.Sprintf(
				`{"id": %q, "type": "Person", "inbox": %q}`, aliceIRI, aliceIRI+"/inbox")},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.ErrorIs(t, err, ErrInvalidActor)
	})

	t.Run("foreign inbox host rejected", func(t *testing.T) {
		body := fmt.Sprintf(`{
		  "id": %q, "type": "Person", "inbox": "https://other.example/inbox",
		  "publicKey": {"id": %q, "owner": %q, "publicKeyPem": %q}
		}`, aliceIRI, aliceIRI+"#main-key", aliceIRI, keyPem)

		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			aliceIRI: {status: http.StatusOK, body: body},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.ErrorIs(t, err, ErrInvalidActor)
	})

	t.Run("blocked domain", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{}}}

		c := New(Config{BlockedDomains: []string{"sharp.example"}}, tp, nil)

		_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.True(t, errs.IsPolicyBlocked(err))
		require.Empty(t, tp.requests)
	})

	t.Run("server error is transient", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			aliceIRI: {status: http.StatusBadGateway, body: ""},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.True(t, errs.IsTransient(err))
	})

	t.Run("stale actor served after refresh failure", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			aliceIRI: {status: http.StatusOK, body: actorJSON(aliceIRI)},
		}}}

		c := New(Config{CacheExpiration: 1}, tp, nil)

		_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.NoError(t, err)

		tp.responses[aliceIRI] = stubResponse{err: fmt.Errorf("connection refused")}

		actor, err := c.GetActor(vocab.MustParseURL(aliceIRI))
		require.NoError(t, err)
		require.Equal(t, aliceIRI, actor.ID().String())
	})
}

func TestRefreshActor(t *testing.T) {
	tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
		aliceIRI: {status: http.StatusOK, body: actorJSON(aliceIRI)},
	}}}

	c := New(Config{}, tp, nil)

	_, err := c.GetActor(vocab.MustParseURL(aliceIRI))
	require.NoError(t, err)
	require.Len(t, tp.requests, 1)

	actor, err := c.Refresh(vocab.MustParseURL(aliceIRI))
	require.NoError(t, err)
	require.Equal(t, aliceIRI, actor.ID().String())
	require.Len(t, tp.requests, 2)

	// The refreshed copy is served from the cache.
	_, err = c.GetActor(vocab.MustParseURL(aliceIRI))
	require.NoError(t, err)
	require.Len(t, tp.requests, 2)
}

func TestGetObject(t *testing.T) {
	objIRI := "https://sharp.example/objects/1"

	t.Run("success", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			objIRI: {status: http.StatusOK, body: fmt.Sprintf(`{
			  "@context": "https://www.w3.org/ns/activitystreams",
			  "id": %q, "type": "Note",
			  "attributedTo": %q
			}`, objIRI, aliceIRI)},
		}}}

		c := New(Config{}, tp, nil)

		obj, err := c.GetObject(vocab.MustParseURL(objIRI))
		require.NoError(t, err)
		require.Equal(t, objIRI, obj.ID().String())
		require.Equal(t, aliceIRI, obj.AttributedTo().String())
	})

	t.Run("not found", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{}}

		c := New(Config{}, tp, nil)

		_, err := c.GetObject(vocab.MustParseURL(objIRI))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no ID", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			objIRI: {status: http.StatusOK, body: `{"type": "Note"}`},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetObject(vocab.MustParseURL(objIRI))
		require.Error(t, err)
		require.Contains(t, err.Error(), "no ID")
	})

	t.Run("cross-host ID rejected", func(t *testing.T) {
		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			objIRI: {status: http.StatusOK, body: `{
			  "id": "https://evil.example/objects/1", "type": "Note"
			}`},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetObject(vocab.MustParseURL(objIRI))
		require.Error(t, err)
		require.Contains(t, err.Error(), "not on the requested host")
	})

	t.Run("blocked domain", func(t *testing.T) {
		c := New(Config{BlockedDomains: []string{"sharp.example"}}, &bodyTransport{stubTransport{}}, nil)

		_, err := c.GetObject(vocab.MustParseURL(objIRI))
		require.Error(t, err)
	})
}

func TestGetPublicKey(t *testing.T) {
	t.Run("key embedded in actor document", func(t *testing.T) {
		keyIRI := aliceIRI + "#main-key"

		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			keyIRI: {status: http.StatusOK, body: actorJSON(aliceIRI)},
		}}}

		c := New(Config{}, tp, nil)

		key, err := c.GetPublicKey(vocab.MustParseURL(keyIRI))
		require.NoError(t, err)
		require.Equal(t, keyIRI, key.ID)
		require.Equal(t, aliceIRI, key.Owner)
	})

	t.Run("gone", func(t *testing.T) {
		keyIRI := aliceIRI + "#main-key"

		tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
			keyIRI: {status: http.StatusGone, body: ""},
		}}}

		c := New(Config{}, tp, nil)

		_, err := c.GetPublicKey(vocab.MustParseURL(keyIRI))
		require.ErrorIs(t, err, errs.ErrGone)
	})
}

func TestGetReferences(t *testing.T) {
	followersIRI := "https://tame.example/c/golang/followers"
	pageIRI := followersIRI + "?page=1"

	coll := fmt.Sprintf(`{"id": %q, "type": "OrderedCollection", "totalItems": 2, "first": %q}`,
		followersIRI, pageIRI)
	pageBody := fmt.Sprintf(`{"id": %q, "type": "OrderedCollectionPage", "totalItems": 2,
	  "orderedItems": ["https://a.ex/u/u1", "https://b.ex/u/u2"]}`, pageIRI)

	tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
		followersIRI: {status: http.StatusOK, body: coll},
		pageIRI:      {status: http.StatusOK, body: pageBody},
	}}}

	c := New(Config{}, tp, nil)

	it, err := c.GetReferences(vocab.MustParseURL(followersIRI))
	require.NoError(t, err)
	require.Equal(t, 2, it.TotalItems())

	refs, err := ReadReferences(it, -1)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "https://a.ex/u/u1", refs[0].String())
}

type handleResolverStub struct {
	iri *url.URL
}

func (h *handleResolverStub) ResolveActorIRI(context.Context, string) (*url.URL, error) {
	return h.iri, nil
}

func TestResolveActor(t *testing.T) {
	tp := &bodyTransport{stubTransport{responses: map[string]stubResponse{
		aliceIRI: {status: http.StatusOK, body: actorJSON(aliceIRI)},
	}}}

	c := New(Config{}, tp, &handleResolverStub{iri: vocab.MustParseURL(aliceIRI)})

	t.Run("by IRI", func(t *testing.T) {
		actor, err := c.ResolveActor(context.Background(), aliceIRI)
		require.NoError(t, err)
		require.Equal(t, aliceIRI, actor.ID().String())
	})

	t.Run("by handle", func(t *testing.T) {
		actor, err := c.ResolveActor(context.Background(), "alice@sharp.example")
		require.NoError(t, err)
		require.Equal(t, aliceIRI, actor.ID().String())
	})

	t.Run("invalid reference", func(t *testing.T) {
		_, err := c.ResolveActor(context.Background(), ":not-a-url")
		require.Error(t, err)
	})
}
