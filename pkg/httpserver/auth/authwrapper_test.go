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

type testHandler struct{}

func (h *testHandler) Path() string { return "/policy" }

func (h *testHandler) Method() string { return http.MethodPost }

func (h *testHandler) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func TestHandlerWrapper(t *testing.T) {
	cfg := Config{
		AuthTokensDef: []*TokenDef{
			{
				EndpointExpression: "/policy",
				WriteTokens:        []string{"admin"},
			},
		},
		AuthTokens: map[string]string{"admin": "ADMIN_TOKEN"},
	}

	wrapper := NewHandlerWrapper(cfg, &testHandler{})

	require.Equal(t, "/policy", wrapper.Path())
	require.Equal(t, http.MethodPost, wrapper.Method())

	t.Run("Authorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/policy", nil)
		req.Header.Set(authHeader, tokenPrefix+"ADMIN_TOKEN")

		rw := httptest.NewRecorder()

		wrapper.Handler()(rw, req)

		require.Equal(t, http.StatusOK, rw.Code)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		rw := httptest.NewRecorder()

		wrapper.Handler()(rw, httptest.NewRequest(http.MethodPost, "/policy", nil))

		require.Equal(t, http.StatusUnauthorized, rw.Code)
	})
}
