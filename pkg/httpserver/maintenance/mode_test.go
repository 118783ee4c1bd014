/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package maintenance

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type testHandler struct{}

func (h *testHandler) Path() string { return "/inbox" }

func (h *testHandler) Method() string { return http.MethodPost }

func (h *testHandler) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}
}

func TestMaintenanceWrapper(t *testing.T) {
	wrapper := NewMaintenanceWrapper(&testHandler{})

	require.Equal(t, "/inbox", wrapper.Path())
	require.Equal(t, http.MethodPost, wrapper.Method())

	rw := httptest.NewRecorder()

	wrapper.Handler()(rw, httptest.NewRequest(http.MethodPost, "/inbox", nil))

	require.Equal(t, http.StatusServiceUnavailable, rw.Code)
	require.Contains(t, rw.Body.String(), "Service Unavailable")
}
