/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package maintenance allows write endpoints to be taken offline without
// shutting down the server, e.g. during a database migration.
package maintenance

import (
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/httpserver"
)

const loggerModule = "maintenance"

const serviceUnavailableResponse = "Service Unavailable.\n"

// HandlerWrapper wraps an existing HTTP handler so that each call to the
// endpoint returns 503 (Service Unavailable).
type HandlerWrapper struct {
	httpserver.HTTPHandler

	writeResponse func(w http.ResponseWriter, status int, body []byte)
	logger        *log.Log
}

// NewMaintenanceWrapper returns a wrapper that responds with 503 for the given handler.
func NewMaintenanceWrapper(handler httpserver.HTTPHandler) *HandlerWrapper {
	logger := log.New(loggerModule,
		log.WithFields(logfields.WithServiceEndpoint(handler.Path())))

	return &HandlerWrapper{
		HTTPHandler: handler,
		logger:      logger,
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
	return func(w http.ResponseWriter, _ *http.Request) {
		h.writeResponse(w, http.StatusServiceUnavailable, []byte(serviceUnavailableResponse))
	}
}
