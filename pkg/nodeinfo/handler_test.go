/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorafed/agora/pkg/activitypub/store/memstore"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

func TestHandler(t *testing.T) {
	service := NewService("service1", memstore.New("service1"), time.Minute)

	for _, version := range []Version{V2_0, V2_1} {
		handler := NewHandler(version, service)

		require.Equal(t, "/nodeinfo/"+version, handler.Path())
		require.Equal(t, http.MethodGet, handler.Method())

		rw := httptest.NewRecorder()

		handler.Handler()(rw, httptest.NewRequest(http.MethodGet, handler.Path(), nil))

		require.Equal(t, http.StatusOK, rw.Code)
		require.Contains(t, rw.Header().Get("Content-Type"), version)

		nodeInfo := &NodeInfo{}
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), nodeInfo))
		require.Equal(t, version, nodeInfo.Version)
		require.Equal(t, "Agora", nodeInfo.Software.Name)
	}
}

func TestHandlerMarshalError(t *testing.T) {
	handler := NewHandler(V2_0, NewService("service1", memstore.New("service1"), time.Minute))

	errExpected := json.Unmarshal([]byte("{"), &struct{}{})

	handler.marshal = func(interface{}) ([]byte, error) { return nil, errExpected }

	rw := httptest.NewRecorder()

	handler.Handler()(rw, httptest.NewRequest(http.MethodGet, handler.Path(), nil))

	require.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestWellKnownHandler(t *testing.T) {
	handler := NewWellKnownHandler(vocab.MustParseURL("https://tame.example"))

	require.Equal(t, "/.well-known/nodeinfo", handler.Path())
	require.Equal(t, http.MethodGet, handler.Method())

	rw := httptest.NewRecorder()

	handler.Handler()(rw, httptest.NewRequest(http.MethodGet, handler.Path(), nil))

	require.Equal(t, http.StatusOK, rw.Code)

	links := &WellKnownLinks{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), links))
	require.Len(t, links.Links, 2)
	require.Equal(t, "https://tame.example/nodeinfo/2.0", links.Links[0].Href)
	require.Equal(t, "https://tame.example/nodeinfo/2.1", links.Links[1].Href)
}
