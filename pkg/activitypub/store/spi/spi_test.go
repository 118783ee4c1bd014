/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

func TestCriteria(t *testing.T) {
	iri, err := url.Parse("https://sharp.example/activities/1")
	require.NoError(t, err)

	c := NewCriteria(WithType(vocab.TypeCreate, vocab.TypeAnnounce), WithActivityIRIs(iri))
	require.NotNil(t, c)
	require.Len(t, c.Types, 2)
	require.Equal(t, vocab.TypeCreate, c.Types[0])
	require.Equal(t, vocab.TypeAnnounce, c.Types[1])
	require.Len(t, c.ActivityIRIs, 1)
}

func TestQueryOptions(t *testing.T) {
	options := &QueryOptions{}

	for _, opt := range []QueryOpt{WithPageSize(10), WithPageNum(2), WithSortOrder(SortDescending)} {
		opt(options)
	}

	require.Equal(t, 10, options.PageSize)
	require.Equal(t, 2, options.PageNumber)
	require.Equal(t, SortDescending, options.SortOrder)
}
