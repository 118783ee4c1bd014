/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testHandler struct {
	path    string
	method  string
	params  map[string]string
	handler http.HandlerFunc
}

func (h *testHandler) Path() string {
	return h.path
}

func (h *testHandler) Method() string {
	return h.method
}

func (h *testHandler) Handler() http.HandlerFunc {
	return h.handler
}

func (h *testHandler) Params() map[string]string {
	return h.params
}

func TestServer(t *testing.T) {
	listenAddr := getListenAddr(t)

	pingHandler := &testHandler{
		path:   "/ping",
		method: http.MethodGet,
		handler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)

			_, err := w.Write([]byte("pong"))
			require.NoError(t, err)
		},
	}

	pageHandler := &testHandler{
		path:   "/ping",
		method: http.MethodGet,
		params: map[string]string{"page": "true"},
		handler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)

			_, err := w.Write([]byte("page"))
			require.NoError(t, err)
		},
	}

	s := New(listenAddr, "", "", 20*time.Second, 10*time.Second, pageHandler, pingHandler)
	require.NotNil(t, s)

	require.NoError(t, s.Start())
	require.Error(t, s.Start(), "second start must fail")

	require.NoError(t, waitForServer(listenAddr))

	t.Run("Plain endpoint", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://%s/ping", listenAddr))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	})

	t.Run("Endpoint with query params", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://%s/ping?page=true", listenAddr))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	})

	t.Run("Method not allowed", func(t *testing.T) {
		resp, err := http.Post(fmt.Sprintf("http://%s/ping", listenAddr), "text/plain", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	require.Error(t, s.Stop(ctx), "second stop must fail")
}

func getListenAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()

	require.NoError(t, l.Close())

	return addr
}

func waitForServer(addr string) error {
	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn.Close()
		}

		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server at %s did not start", addr)
}
