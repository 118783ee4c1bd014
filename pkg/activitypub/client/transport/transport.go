/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
)

var logger = log.New("activitypub_client")

const (
	// AcceptHeader is the name of the Accept header.
	AcceptHeader = "Accept"
	// ContentTypeHeader is the name of the Content-Type header.
	ContentTypeHeader = "Content-Type"
	// ActivityStreamsContentType is the content type used for ActivityPub requests.
	ActivityStreamsContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	// ActivityJSONContentType is the plain activity+json content type.
	ActivityJSONContentType = "application/activity+json"
)

// Signer signs an HTTP request and adds the signature to the header of the request.
type Signer interface {
	SignRequest(pKey crypto.PrivateKey, pubKeyID string, r *http.Request, body []byte) error
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport implements a client-side transport that Gets and Posts requests using HTTP signatures.
type Transport struct {
	client      httpClient
	getSigner   Signer
	postSigner  Signer
	privateKey  crypto.PrivateKey
	publicKeyID *url.URL
}

// New returns a new transport.
func New(client httpClient, privateKey crypto.PrivateKey, publicKeyID *url.URL,
	getSigner, postSigner Signer) *Transport {
	return &Transport{
		client:      client,
		privateKey:  privateKey,
		publicKeyID: publicKeyID,
		getSigner:   getSigner,
		postSigner:  postSigner,
	}
}

// Request contains the destination URL and headers.
type Request struct {
	URL    *url.URL
	Header http.Header
}

// RequestOpt sets an option on a request.
type RequestOpt func(r *Request)

// WithHeader sets a header on the request.
func WithHeader(name string, values ...string) RequestOpt {
	return func(r *Request) {
		r.Header[name] = values
	}
}

// NewRequest returns a new request.
func NewRequest(toURL *url.URL, opts ...RequestOpt) *Request {
	r := &Request{
		URL:    toURL,
		Header: make(http.Header),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Default returns a default transport that uses the default HTTP client and no HTTP signatures.
// This transport should only be used by tests.
func Default() *Transport {
	return &Transport{
		client:      http.DefaultClient,
		publicKeyID: &url.URL{},
		getSigner:   &NoOpSigner{},
		postSigner:  &NoOpSigner{},
	}
}

// Post posts an HTTP request. The HTTP request is first signed and the signature is added to the request header.
func (t *Transport) Post(ctx context.Context, r *Request, payload []byte) (*http.Response, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("new request to %s: %w", r.URL, err)
	}

	req.Header = r.Header

	if req.Header.Get(ContentTypeHeader) == "" {
		req.Header.Set(ContentTypeHeader, ActivityJSONContentType)
	}

	err = t.postSigner.SignRequest(t.privateKey, t.publicKeyID.String(), req, payload)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Signed HTTP POST", logfields.WithRequestURL(r.URL), logfields.WithRequestHeaders(req.Header))

	return t.client.Do(req)
}

// Get sends an HTTP GET. The HTTP request is first signed and the signature is added to the request header.
func (t *Transport) Get(ctx context.Context, r *Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", r.URL, err)
	}

	req.Header = r.Header

	err = t.getSigner.SignRequest(t.privateKey, t.publicKeyID.String(), req, nil)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Signed HTTP GET", logfields.WithRequestURL(r.URL), logfields.WithRequestHeaders(req.Header))

	return t.client.Do(req)
}

// NoOpSigner is a signer that does nothing. This signer should only be used by tests.
type NoOpSigner struct{}

// DefaultSigner returns a default, no-op signer. This signer should only be used by tests.
func DefaultSigner() *NoOpSigner {
	return &NoOpSigner{}
}

// SignRequest does nothing.
func (s *NoOpSigner) SignRequest(crypto.PrivateKey, string, *http.Request, []byte) error {
	return nil
}
