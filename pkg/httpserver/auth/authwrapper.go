/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agorafed/agora/pkg/httpserver"
)

const unauthorizedResponse = "Unauthorized.\n"

// HandlerWrapper wraps an existing HTTP handler and performs bearer token
// authorization. If authorized then the wrapped handler is invoked.
type HandlerWrapper struct {
	httpserver.HTTPHandler

	verifier      *TokenVerifier
	handleRequest http.HandlerFunc
	writeResponse func(w http.ResponseWriter, status int, body []byte)
}

// NewHandlerWrapper returns a handler that first performs bearer token
// authorization and, if authorized, invokes the wrapped handler.
func NewHandlerWrapper(cfg Config, handler httpserver.HTTPHandler) *HandlerWrapper {
	return &HandlerWrapper{
		verifier:      NewTokenVerifier(cfg, handler.Path(), handler.Method()),
		HTTPHandler:   handler,
		handleRequest: handler.Handler(),
		writeResponse: func(w http.ResponseWriter, status int, body []byte) {
			w.WriteHeader(status)

			if len(body) > 0 {
				if _, err := w.Write(body); err != nil {
					logger.Warn("Unable to write response", log.WithError(err))
				}
			}
		},
	}
}

// Handler returns the wrapper handler.
func (h *HandlerWrapper) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !h.verifier.Verify(req) {
			h.writeResponse(w, http.StatusUnauthorized, []byte(unauthorizedResponse))

			return
		}

		h.handleRequest(w, req)
	}
}
