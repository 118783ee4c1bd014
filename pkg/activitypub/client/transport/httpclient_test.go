/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressGuard(t *testing.T) {
	g := &addressGuard{allowedPorts: []string{"80", "443"}}

	t.Run("public address allowed", func(t *testing.T) {
		require.NoError(t, g.control("tcp4", "93.184.216.34:443", nil))
	})

	t.Run("loopback refused", func(t *testing.T) {
		require.ErrorIs(t, g.control("tcp4", "127.0.0.1:443", nil), ErrForbiddenAddress)
	})

	t.Run("private range refused", func(t *testing.T) {
		require.ErrorIs(t, g.control("tcp4", "10.0.0.8:443", nil), ErrForbiddenAddress)
		require.ErrorIs(t, g.control("tcp4", "192.168.1.10:80", nil), ErrForbiddenAddress)
	})

	t.Run("link-local refused", func(t *testing.T) {
		require.ErrorIs(t, g.control("tcp4", "169.254.169.254:80", nil), ErrForbiddenAddress)
	})

	t.Run("unusual port refused", func(t *testing.T) {
		require.ErrorIs(t, g.control("tcp4", "93.184.216.34:6379", nil), ErrForbiddenAddress)
	})

	t.Run("whitelisted port allowed", func(t *testing.T) {
		gg := &addressGuard{allowedPorts: []string{"8443"}}
		require.NoError(t, gg.control("tcp4", "93.184.216.34:8443", nil))
	})

	t.Run("private allowed when configured", func(t *testing.T) {
		gg := &addressGuard{allowedPorts: []string{"443"}, allowPrivate: true}
		require.NoError(t, gg.control("tcp4", "127.0.0.1:443", nil))
	})
}

func TestNewHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "/target", http.StatusFound)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Run("loopback refused before connect", func(t *testing.T) {
		client := NewHTTPClient(ClientConfig{})

		_, err := client.Get(srv.URL) //nolint:bodyclose
		require.Error(t, err)
		require.ErrorIs(t, err, ErrForbiddenAddress)
	})

	t.Run("redirects are not followed", func(t *testing.T) {
		port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]

		client := NewHTTPClient(ClientConfig{
			AllowedPorts:          []string{port},
			AllowPrivateAddresses: true,
		})

		resp, err := client.Get(srv.URL + "/redirect")
		require.NoError(t, err)

		defer func() {
			require.NoError(t, resp.Body.Close())
		}()

		require.Equal(t, http.StatusFound, resp.StatusCode)
	})

	t.Run("default timeout applied", func(t *testing.T) {
		client := NewHTTPClient(ClientConfig{})
		require.Equal(t, defaultTimeout, client.Timeout)

		var urlErr *url.Error

		_, err := client.Get("https://169.254.169.254/latest/meta-data/") //nolint:bodyclose
		require.Error(t, err)
		require.ErrorAs(t, err, &urlErr)
	})
}
