/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenVerifier(t *testing.T) {
	cfg := Config{
		AuthTokensDef: []*TokenDef{
			{
				EndpointExpression: "/policy",
				ReadTokens:         []string{"admin", "read"},
				WriteTokens:        []string{"admin"},
			},
		},
		AuthTokens: map[string]string{
			"admin": "ADMIN_TOKEN",
			"read":  "READ_TOKEN",
		},
	}

	t.Run("Open access", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/inbox", http.MethodPost)

		require.True(t, v.Verify(httptest.NewRequest(http.MethodPost, "/inbox", nil)))
	})

	t.Run("Read token", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/policy", http.MethodGet)

		req := httptest.NewRequest(http.MethodGet, "/policy", nil)
		req.Header.Set(authHeader, tokenPrefix+"READ_TOKEN")
		require.True(t, v.Verify(req))

		req = httptest.NewRequest(http.MethodGet, "/policy", nil)
		req.Header.Set(authHeader, tokenPrefix+"OTHER_TOKEN")
		require.False(t, v.Verify(req))

		require.False(t, v.Verify(httptest.NewRequest(http.MethodGet, "/policy", nil)))
	})

	t.Run("Write token", func(t *testing.T) {
		v := NewTokenVerifier(cfg, "/policy", http.MethodPost)

		req := httptest.NewRequest(http.MethodPost, "/policy", nil)
		req.Header.Set(authHeader, tokenPrefix+"ADMIN_TOKEN")
		require.True(t, v.Verify(req))

		// A read token does not authorize a write.
		req = httptest.NewRequest(http.MethodPost, "/policy", nil)
		req.Header.Set(authHeader, tokenPrefix+"READ_TOKEN")
		require.False(t, v.Verify(req))
	})

	t.Run("Unresolvable token -> panic", func(t *testing.T) {
		require.Panics(t, func() {
			NewTokenVerifier(Config{
				AuthTokensDef: []*TokenDef{
					{
						EndpointExpression: "/policy",
						ReadTokens:         []string{"missing"},
					},
				},
			}, "/policy", http.MethodGet)
		})
	})
}
