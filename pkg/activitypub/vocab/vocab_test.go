/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	host1 = "https://sharp.example"
	host2 = "https://tame.example"
)

func TestCreateActivityMarshal(t *testing.T) {
	published := time.Date(2024, time.March, 12, 9, 30, 0, 0, time.UTC)

	note := NewObject(
		WithID(MustParseURL(host1+"/post/101")),
		WithType(TypePage),
		WithName("Interesting read"),
		WithContent("<p>worth a look</p>"),
		WithAttributedTo(MustParseURL(host1+"/u/alice")),
		WithAudience(MustParseURL(host2+"/c/golang")),
		WithPublishedTime(&published),
	)

	create := NewCreateActivity(
		NewObjectProperty(WithObj(note)),
		WithID(MustParseURL(host1+"/activities/create-101")),
		WithActor(MustParseURL(host1+"/u/alice")),
		WithTo(PublicIRI, MustParseURL(host2+"/c/golang")),
	)

	bytes, err := json.Marshal(create)
	require.NoError(t, err)

	parsed := &ActivityType{}
	require.NoError(t, json.Unmarshal(bytes, parsed))

	require.True(t, parsed.Type().Is(TypeCreate))
	require.Equal(t, host1+"/activities/create-101", parsed.ID().String())
	require.Equal(t, host1+"/u/alice", parsed.Actor().String())
	require.True(t, parsed.To().Contains(PublicIRI.String()))

	obj := parsed.Object().Object()
	require.NotNil(t, obj)
	require.True(t, obj.Type().Is(TypePage))
	require.Equal(t, "Interesting read", obj.Name())
	require.Equal(t, host2+"/c/golang", obj.Audience().String())
	require.NotNil(t, obj.Published())
	require.True(t, published.Equal(*obj.Published()))
}

func TestObjectPropertyIRI(t *testing.T) {
	t.Run("plain IRI", func(t *testing.T) {
		p := &ObjectProperty{}
		require.NoError(t, json.Unmarshal([]byte(`"https://sharp.example/post/7"`), p))
		require.Equal(t, host1+"/post/7", p.IRI().String())
		require.Nil(t, p.Object())
	})

	t.Run("embedded object degrades to its ID", func(t *testing.T) {
		p := &ObjectProperty{}
		require.NoError(t, json.Unmarshal([]byte(`{"id":"https://sharp.example/post/7","type":"Note"}`), p))
		require.Equal(t, host1+"/post/7", p.IRI().String())
		require.NotNil(t, p.Object())
	})
}

func TestBatchedAnnounceUnmarshal(t *testing.T) {
	raw := []byte(`{
	  "@context": "https://www.w3.org/ns/activitystreams",
	  "id": "https://tame.example/activities/batch-1",
	  "type": "Announce",
	  "actor": "https://tame.example/c/golang",
	  "object": [
	    {"id": "https://sharp.example/activities/like-1", "type": "Like", "actor": "https://sharp.example/u/bob", "object": "https://tame.example/post/55"},
	    {"id": "https://sharp.example/activities/like-2", "type": "Like", "actor": "https://sharp.example/u/carol", "object": "https://tame.example/post/55"}
	  ]
	}`)

	announce := &ActivityType{}
	require.NoError(t, json.Unmarshal(raw, announce))
	require.True(t, announce.Type().Is(TypeAnnounce))

	batch := announce.Object().Activities()
	require.Len(t, batch, 2)
	require.True(t, batch[0].Type().Is(TypeLike))
	require.Equal(t, host1+"/u/carol", batch[1].Actor().String())
	require.Equal(t, host2+"/post/55", batch[1].Object().IRI().String())
}

func TestAnnounceEmbeddedActivity(t *testing.T) {
	raw := []byte(`{
	  "id": "https://tame.example/activities/ann-1",
	  "type": "Announce",
	  "actor": "https://tame.example/c/golang",
	  "object": {"id": "https://sharp.example/activities/create-9", "type": "Create",
	    "actor": "https://sharp.example/u/alice",
	    "object": {"id": "https://sharp.example/post/9", "type": "Note", "content": "hi"}}
	}`)

	announce := &ActivityType{}
	require.NoError(t, json.Unmarshal(raw, announce))

	inner := announce.Object().Activity()
	require.NotNil(t, inner)
	require.True(t, inner.Type().Is(TypeCreate))
	require.Equal(t, "hi", inner.Object().Object().Content())
}

func TestActorMarshal(t *testing.T) {
	actor := NewActor(TypeGroup,
		WithID(MustParseURL(host2+"/c/golang")),
		WithPreferredUsername("golang"),
		WithName("Go"),
		WithInbox(MustParseURL(host2+"/c/golang/inbox")),
		WithOutbox(MustParseURL(host2+"/c/golang/outbox")),
		WithFollowers(MustParseURL(host2+"/c/golang/followers")),
		WithFeatured(MustParseURL(host2+"/c/golang/featured")),
		WithSharedInbox(MustParseURL(host2+"/inbox")),
		WithPublicKey(NewPublicKey(
			MustParseURL(host2+"/c/golang#main-key"),
			MustParseURL(host2+"/c/golang"),
			"-----BEGIN PUBLIC KEY-----\nxyz\n-----END PUBLIC KEY-----\n",
		)),
	)

	bytes, err := json.Marshal(actor)
	require.NoError(t, err)

	parsed := &ActorType{}
	require.NoError(t, json.Unmarshal(bytes, parsed))

	require.True(t, parsed.Type().Is(TypeGroup))
	require.Equal(t, "golang", parsed.PreferredUsername())
	require.Equal(t, host2+"/c/golang/inbox", parsed.Inbox().String())
	require.Equal(t, host2+"/inbox", parsed.SharedInbox().String())
	require.Equal(t, host2+"/c/golang", parsed.PublicKey().Owner)
	require.True(t, parsed.Context().Contains(ContextActivityStreams, ContextSecurity))
}

func TestAdditionalProperties(t *testing.T) {
	raw := []byte(`{
	  "id": "https://sharp.example/post/3",
	  "type": "Note",
	  "content": "bonjour",
	  "contentMap": {"fr": "bonjour"},
	  "mediaType": "text/html"
	}`)

	obj := &ObjectType{}
	require.NoError(t, json.Unmarshal(raw, obj))

	require.Equal(t, "fr", obj.LanguageTag())

	mediaType, ok := obj.Value("mediaType")
	require.True(t, ok)
	require.Equal(t, "text/html", mediaType)

	_, ok = obj.Value("content")
	require.False(t, ok)
}

func TestTombstone(t *testing.T) {
	obj := NewObject(
		WithID(MustParseURL(host1+"/post/3")),
		WithType(TypeTombstone),
	)

	bytes, err := json.Marshal(obj)
	require.NoError(t, err)
	require.Contains(t, string(bytes), `"Tombstone"`)
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	bytes, err := Marshal(map[string]string{"content": "a < b && c > d"})
	require.NoError(t, err)
	require.Contains(t, string(bytes), "a < b && c > d")
}
