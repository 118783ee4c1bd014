/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package safejson

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

func TestParseBounds(t *testing.T) {
	p := New(Config{MaxSize: 256, MaxDepth: 4, MaxKeys: 8, MaxStringLength: 32})

	t.Run("success", func(t *testing.T) {
		doc, err := p.Parse([]byte(`{"id":"https://a.ex/act/1","type":"Like","actor":"https://a.ex/u/bob"}`))
		require.NoError(t, err)
		require.Equal(t, "Like", doc["type"])
	})

	t.Run("oversized body", func(t *testing.T) {
		_, err := p.Parse([]byte(`{"content":"` + strings.Repeat("x", 300) + `"}`))
		require.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("depth bomb", func(t *testing.T) {
		_, err := p.Parse([]byte(strings.Repeat("[", 20) + strings.Repeat("]", 20)))
		require.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("too many keys", func(t *testing.T) {
		_, err := p.Parse([]byte(`{"a":1,"b":1,"c":1,"d":1,"e":1,"f":1,"g":1,"h":1,"i":1}`))
		require.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("string values are not keys", func(t *testing.T) {
		_, err := p.Parse([]byte(`{"a":["s1","s2","s3","s4","s5","s6","s7","s8","s9"]}`))
		require.NoError(t, err)
	})

	t.Run("oversized string", func(t *testing.T) {
		_, err := p.Parse([]byte(`{"a":"` + strings.Repeat("y", 40) + `"}`))
		require.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := p.Parse([]byte(`{"a":`))
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestValidateActivity(t *testing.T) {
	parse := func(t *testing.T, raw string) vocab.Document {
		t.Helper()

		doc, err := New(Config{}).Parse([]byte(raw))
		require.NoError(t, err)

		return doc
	}

	t.Run("valid Like", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/1","type":"Like","actor":"https://a.ex/u/bob","object":"https://b.ex/post/1"}`)
		require.NoError(t, ValidateActivity(doc))
	})

	t.Run("valid batched Announce", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/2","type":"Announce","actor":"https://a.ex/c/news","object":[{"type":"Like"}]}`)
		require.NoError(t, ValidateActivity(doc))
	})

	t.Run("missing id", func(t *testing.T) {
		doc := parse(t, `{"type":"Like","actor":"https://a.ex/u/bob","object":"https://b.ex/post/1"}`)
		err := ValidateActivity(doc)
		require.ErrorIs(t, err, ErrMalformed)
		require.Contains(t, err.Error(), "id:")
	})

	t.Run("relative actor IRI", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/1","type":"Like","actor":"/u/bob","object":"https://b.ex/post/1"}`)
		require.ErrorIs(t, ValidateActivity(doc), ErrMalformed)
	})

	t.Run("embedded actor degrades to ID", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/1","type":"Like","actor":{"id":"https://a.ex/u/bob"},"object":"https://b.ex/post/1"}`)
		require.NoError(t, ValidateActivity(doc))
	})

	t.Run("Create requires embedded object", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/1","type":"Create","actor":"https://a.ex/u/bob","object":"https://a.ex/post/1"}`)
		require.ErrorIs(t, ValidateActivity(doc), ErrMalformed)
	})

	t.Run("Add requires target", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/1","type":"Add","actor":"https://a.ex/c/news","object":"https://a.ex/post/1"}`)
		err := ValidateActivity(doc)
		require.ErrorIs(t, err, ErrMalformed)
		require.Contains(t, err.Error(), "target:")
	})

	t.Run("unsupported verb", func(t *testing.T) {
		doc := parse(t, `{"id":"https://a.ex/act/1","type":"Move","actor":"https://a.ex/u/bob","object":"https://a.ex/u/bob2"}`)
		require.ErrorIs(t, ValidateActivity(doc), ErrMalformed)
	})
}
