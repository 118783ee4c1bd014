/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/service/domainpolicy"
	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

func TestDomainPolicyHandlers(t *testing.T) {
	mgr := domainpolicy.New(domainpolicy.Config{
		ServiceIRI: vocab.MustParseURL("https://tame.example/services/main"),
	}, memstore.New("service1"))

	writer := NewDomainPolicyWriter(mgr)
	reader := NewDomainPolicyReader(mgr)

	require.Equal(t, DomainPolicyPath, writer.Path())
	require.Equal(t, http.MethodPost, writer.Method())
	require.Equal(t, DomainPolicyPath, reader.Path())
	require.Equal(t, http.MethodGet, reader.Method())

	t.Run("Block domains", func(t *testing.T) {
		reqBody, err := json.Marshal(&domainPolicyRequest{Block: []string{"sharp.example", "witty.example"}})
		require.NoError(t, err)

		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, DomainPolicyPath, bytes.NewReader(reqBody)))

		require.Equal(t, http.StatusOK, rw.Code)

		rw = httptest.NewRecorder()

		reader.Handler()(rw, httptest.NewRequest(http.MethodGet, DomainPolicyPath, nil))

		require.Equal(t, http.StatusOK, rw.Code)

		var domains []string
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &domains))
		require.Equal(t, []string{"sharp.example", "witty.example"}, domains)
	})

	t.Run("Unblock domain", func(t *testing.T) {
		reqBody, err := json.Marshal(&domainPolicyRequest{Unblock: []string{"witty.example"}})
		require.NoError(t, err)

		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, DomainPolicyPath, bytes.NewReader(reqBody)))

		require.Equal(t, http.StatusOK, rw.Code)

		rw = httptest.NewRecorder()

		reader.Handler()(rw, httptest.NewRequest(http.MethodGet, DomainPolicyPath, nil))

		var domains []string
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &domains))
		require.Equal(t, []string{"sharp.example"}, domains)
	})

	t.Run("Invalid request -> 400", func(t *testing.T) {
		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, DomainPolicyPath, bytes.NewReader([]byte("{"))))

		require.Equal(t, http.StatusBadRequest, rw.Code)
	})

	t.Run("Unblock not blocked -> 500", func(t *testing.T) {
		reqBody, err := json.Marshal(&domainPolicyRequest{Unblock: []string{"calm.example"}})
		require.NoError(t, err)

		rw := httptest.NewRecorder()

		writer.Handler()(rw, httptest.NewRequest(http.MethodPost, DomainPolicyPath, bytes.NewReader(reqBody)))

		require.Equal(t, http.StatusInternalServerError, rw.Code)
	})

	t.Run("Empty list", func(t *testing.T) {
		emptyMgr := domainpolicy.New(domainpolicy.Config{
			ServiceIRI: vocab.MustParseURL("https://tame.example/services/main"),
		}, memstore.New("service2"))

		rw := httptest.NewRecorder()

		NewDomainPolicyReader(emptyMgr).Handler()(rw, httptest.NewRequest(http.MethodGet, DomainPolicyPath, nil))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Equal(t, "[]", rw.Body.String())
	})
}
