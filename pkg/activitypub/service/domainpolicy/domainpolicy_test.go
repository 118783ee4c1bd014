/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package domainpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

var serviceIRI = vocab.MustParseURL("https://tame.example/services/main")

func TestOpenFederation(t *testing.T) {
	m := New(Config{
		ServiceIRI:      serviceIRI,
		CacheExpiration: time.Nanosecond,
	}, memstore.New("service1"))

	accepted, err := m.Accepts("sharp.example")
	require.NoError(t, err)
	require.True(t, accepted)

	require.NoError(t, m.Block("sharp.example"))

	accepted, err = m.Accepts("sharp.example")
	require.NoError(t, err)
	require.False(t, accepted)

	accepted, err = m.Accepts("witty.example")
	require.NoError(t, err)
	require.True(t, accepted)

	blocked, err := m.Blocked()
	require.NoError(t, err)
	require.Equal(t, []string{"sharp.example"}, blocked)

	require.NoError(t, m.Unblock("sharp.example"))

	accepted, err = m.Accepts("sharp.example")
	require.NoError(t, err)
	require.True(t, accepted)

	blocked, err = m.Blocked()
	require.NoError(t, err)
	require.Empty(t, blocked)
}

func TestAllowListFederation(t *testing.T) {
	m := New(Config{
		ServiceIRI:     serviceIRI,
		AllowedDomains: []string{"sharp.example"},
	}, memstore.New("service1"))

	accepted, err := m.Accepts("sharp.example")
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = m.Accepts("witty.example")
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestUnblockNotBlocked(t *testing.T) {
	m := New(Config{ServiceIRI: serviceIRI}, memstore.New("service1"))

	require.Error(t, m.Unblock("sharp.example"))
}
