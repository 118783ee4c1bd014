/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/service/breaker"
)

type mockReplayer struct {
	replayed int
	queue    string
	limit    int
	err      error
}

func (m *mockReplayer) ReplayDeadLetters(queue string, limit int) (int, error) {
	m.queue = queue
	m.limit = limit

	return m.replayed, m.err
}

func TestQueueReplayWriter(t *testing.T) {
	replayer := &mockReplayer{replayed: 3}

	writer := NewQueueReplayWriter(replayer)

	require.Equal(t, QueueReplayPath, writer.Path())
	require.Equal(t, http.MethodPost, writer.Method())

	t.Run("Replay", func(t *testing.T) {
		reqBody, err := json.Marshal(&queueReplayRequest{Queue: "agora.activities.normal", Limit: 10})
		require.NoError(t, err)

		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, QueueReplayPath, bytes.NewReader(reqBody)))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t, "agora.activities.normal", replayer.queue)
		require.Equal(t, 10, replayer.limit)

		resp := &queueReplayResponse{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), resp))
		require.Equal(t, 3, resp.Replayed)
	})

	t.Run("Missing queue -> 400", func(t *testing.T) {
		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, QueueReplayPath,
			bytes.NewReader([]byte(`{"limit":5}`))))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Invalid request -> 400", func(t *testing.T) {
		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, QueueReplayPath, bytes.NewReader([]byte("{"))))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Replay error -> 500", func(t *testing.T) {
		failing := NewQueueReplayWriter(&mockReplayer{err: fmt.Errorf("store unavailable")})

		reqBody, err := json.Marshal(&queueReplayRequest{Queue: "agora.activities.normal"})
		require.NoError(t, err)

		rw := httptest.NewRecorder()

		failing.Handler()(rw, httptest.NewRequest(http.MethodPost, QueueReplayPath, bytes.NewReader(reqBody)))

		require.Equal(t, http.StatusInternalServerError, rw.Code)
	})
}

func TestBreakerHandlers(t *testing.T) {
	b := breaker.New(breaker.Config{FailureThreshold: 1})

	b.RecordFailure("sharp.example")

	reader := NewBreakerReader(b)
	writer := NewBreakerResetWriter(b)

	require.Equal(t, BreakerPath, reader.Path())
	require.Equal(t, http.MethodGet, reader.Method())
	require.Equal(t, BreakerResetPath, writer.Path())
	require.Equal(t, http.MethodPost, writer.Method())

	t.Run("Statuses", func(t *testing.T) {
		rw := httptest.NewRecorder()

		reader.Handler()(rw, httptest.NewRequest(http.MethodGet, BreakerPath, nil))

		require.Equal(t, http.StatusOK, rw.Code)

		var statuses []breaker.Status
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &statuses))
		require.Len(t, statuses, 1)
		require.Equal(t, "sharp.example", statuses[0].Domain)
		require.Equal(t, breaker.StateOpen, statuses[0].State)
	})

	t.Run("Reset", func(t *testing.T) {
		reqBody, err := json.Marshal(&breakerResetRequest{Domain: "sharp.example"})
		require.NoError(t, err)

		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, BreakerResetPath, bytes.NewReader(reqBody)))

		require.Equal(t, http.StatusOK, rw.Code)

		ok, _ := b.MayDeliver("sharp.example")
		require.True(t, ok)
	})

	t.Run("Missing domain -> 400", func(t *testing.T) {
		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, BreakerResetPath, bytes.NewReader([]byte("{}"))))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Empty statuses", func(t *testing.T) {
		rw := httptest.NewRecorder()

		NewBreakerReader(breaker.New(breaker.Config{})).Handler()(rw,
			httptest.NewRequest(http.MethodGet, BreakerPath, nil))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t, "[]", rw.Body.String())
	})
}
