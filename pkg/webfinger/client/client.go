/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	errs "github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/webfinger/model"
)

var logger = log.New("webfinger_client")

const (
	defaultCacheLifetime = 5 * time.Minute
	defaultCacheSize     = 1000
)

// httpClient represents an HTTP client.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements a WebFinger client that resolves 'name@domain' handles to
// actor IRIs.
type Client struct {
	httpClient httpClient

	cacheLifetime time.Duration
	cacheSize     int

	resourceCache gcache.Cache
}

// Option is a webfinger client option.
type Option func(opts *Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client httpClient) Option {
	return func(opts *Client) {
		opts.httpClient = client
	}
}

// WithCacheLifetime sets the lifetime of a cached resource.
func WithCacheLifetime(lifetime time.Duration) Option {
	return func(opts *Client) {
		opts.cacheLifetime = lifetime
	}
}

// WithCacheSize sets the maximum number of cached resources.
func WithCacheSize(size int) Option {
	return func(opts *Client) {
		opts.cacheSize = size
	}
}

// New creates a new WebFinger client.
func New(opts ...Option) *Client {
	client := &Client{
		httpClient:    &http.Client{},
		cacheLifetime: defaultCacheLifetime,
		cacheSize:     defaultCacheSize,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.resourceCache = gcache.New(client.cacheSize).
		Expiration(client.cacheLifetime).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			handle := key.(string)

			jrd, err := client.resolveResource(context.Background(), handle)
			if err != nil {
				return nil, err
			}

			logger.Debug("Loaded webfinger resource into cache", logfields.WithHandle(handle))

			return jrd, nil
		}).Build()

	return client
}

// ResolveActorIRI resolves a 'name@domain' handle to an actor IRI via the
// domain's WebFinger endpoint.
func (c *Client) ResolveActorIRI(ctx context.Context, handle string) (*url.URL, error) {
	jrd, err := c.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	selfLink := jrd.SelfLink()
	if selfLink == "" {
		return nil, fmt.Errorf("%w: no actor link for handle [%s]", model.ErrResourceNotFound, handle)
	}

	iri, err := url.Parse(selfLink)
	if err != nil || !iri.IsAbs() {
		return nil, fmt.Errorf("invalid actor IRI [%s] for handle [%s]", selfLink, handle)
	}

	return iri, nil
}

// ResolveHandle resolves a 'name@domain' handle to its JRD.
func (c *Client) ResolveHandle(_ context.Context, handle string) (*model.JRD, error) {
	jrd, err := c.resourceCache.Get(handle)
	if err != nil {
		return nil, err
	}

	return jrd.(*model.JRD), nil
}

func (c *Client) resolveResource(ctx context.Context, handle string) (*model.JRD, error) {
	name, domain, err := splitHandle(handle)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domain, url.QueryEscape(fmt.Sprintf("acct:%s@%s", name, domain)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request to %s: %w", reqURL, err)
	}

	req.Header.Set("Accept", "application/jrd+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewTransientf("webfinger request to %s failed: %w", domain, err)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Warn("Error closing response body", log.WithError(e))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: handle [%s]", model.ErrResourceNotFound, handle)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errs.NewTransientf("webfinger request to %s returned status %d", domain, resp.StatusCode)
	default:
		return nil, fmt.Errorf("webfinger request to %s returned status %d", domain, resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewTransientf("read webfinger response from %s: %w", domain, err)
	}

	jrd := &model.JRD{}

	if err := json.Unmarshal(respBytes, jrd); err != nil {
		return nil, fmt.Errorf("invalid JRD from %s: %w", domain, err)
	}

	return jrd, nil
}

func splitHandle(handle string) (name, domain string, err error) {
	parts := strings.Split(strings.TrimPrefix(handle, "acct:"), "@")

	const handleParts = 2

	if len(parts) != handleParts || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid handle [%s]", handle)
	}

	return parts[0], parts[1], nil
}
