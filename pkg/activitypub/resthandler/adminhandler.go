/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/service/breaker"
)

// QueueReplayPath is the endpoint at which dead-lettered activities are
// re-submitted for processing.
const QueueReplayPath = "/admin/queue/replay"

// BreakerPath is the endpoint at which per-domain delivery health is reported.
const BreakerPath = "/admin/breakers"

// BreakerResetPath is the endpoint at which a domain's circuit breaker is
// reset to closed.
const BreakerResetPath = "/admin/breakers/reset"

type deadLetterReplayer interface {
	ReplayDeadLetters(queue string, limit int) (int, error)
}

type breakerManager interface {
	Statuses() []breaker.Status
	Reset(domain string)
}

type queueReplayRequest struct {
	Queue string `json:"queue"`
	Limit int    `json:"limit"`
}

type queueReplayResponse struct {
	Replayed int `json:"replayed"`
}

type breakerResetRequest struct {
	Domain string `json:"domain"`
}

// QueueReplayWriter implements a REST handler to replay dead-lettered activities.
type QueueReplayWriter struct {
	replayer deadLetterReplayer
	readAll  func(r io.Reader) ([]byte, error)
	logger   *log.Log
}

// NewQueueReplayWriter returns a new REST handler to replay dead-lettered activities.
func NewQueueReplayWriter(replayer deadLetterReplayer) *QueueReplayWriter {
	return &QueueReplayWriter{
		replayer: replayer,
		readAll:  io.ReadAll,
		logger:   log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(QueueReplayPath))),
	}
}

// Method returns the HTTP method, which is always POST.
func (h *QueueReplayWriter) Method() string {
	return http.MethodPost
}

// Path returns the base path of the target URL for this handler.
func (h *QueueReplayWriter) Path() string {
	return QueueReplayPath
}

// Handler returns the HTTP handler function.
func (h *QueueReplayWriter) Handler() http.HandlerFunc {
	return h.handlePost
}

func (h *QueueReplayWriter) handlePost(w http.ResponseWriter, req *http.Request) {
	reqBytes, err := h.readAll(req.Body)
	if err != nil {
		h.logger.Error("Error reading request body", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	request := &queueReplayRequest{}

	if err := json.Unmarshal(reqBytes, request); err != nil {
		h.logger.Info("Error unmarshalling request", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusBadRequest, []byte(err.Error()))

		return
	}

	if request.Queue == "" {
		writePolicyResponse(h.logger, w, http.StatusBadRequest, []byte("queue is required"))

		return
	}

	replayed, err := h.replayer.ReplayDeadLetters(request.Queue, request.Limit)
	if err != nil {
		h.logger.Error("Error replaying dead-lettered activities", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	h.logger.Info("Replayed dead-lettered activities", logfields.WithTotal(replayed))

	respBytes, err := json.Marshal(&queueReplayResponse{Replayed: replayed})
	if err != nil {
		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	w.Header().Set("Content-Type", "application/json")

	writePolicyResponse(h.logger, w, http.StatusOK, respBytes)
}

// BreakerReader implements a REST handler to report per-domain delivery health.
type BreakerReader struct {
	mgr     breakerManager
	marshal func(v interface{}) ([]byte, error)
	logger  *log.Log
}

// NewBreakerReader returns a new REST handler to report per-domain delivery health.
func NewBreakerReader(mgr breakerManager) *BreakerReader {
	return &BreakerReader{
		mgr:     mgr,
		marshal: json.Marshal,
		logger:  log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(BreakerPath))),
	}
}

// Method returns the HTTP method, which is always GET.
func (h *BreakerReader) Method() string {
	return http.MethodGet
}

// Path returns the base path of the target URL for this handler.
func (h *BreakerReader) Path() string {
	return BreakerPath
}

// Handler returns the HTTP handler function.
func (h *BreakerReader) Handler() http.HandlerFunc {
	return h.handleGet
}

func (h *BreakerReader) handleGet(w http.ResponseWriter, _ *http.Request) {
	statuses := h.mgr.Statuses()
	if statuses == nil {
		statuses = []breaker.Status{}
	}

	respBytes, err := h.marshal(statuses)
	if err != nil {
		h.logger.Error("Error marshalling breaker statuses", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	w.Header().Set("Content-Type", "application/json")

	writePolicyResponse(h.logger, w, http.StatusOK, respBytes)
}

// BreakerResetWriter implements a REST handler to reset a domain's circuit breaker.
type BreakerResetWriter struct {
	mgr     breakerManager
	readAll func(r io.Reader) ([]byte, error)
	logger  *log.Log
}

// NewBreakerResetWriter returns a new REST handler to reset a domain's circuit breaker.
func NewBreakerResetWriter(mgr breakerManager) *BreakerResetWriter {
	return &BreakerResetWriter{
		mgr:     mgr,
		readAll: io.ReadAll,
		logger:  log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(BreakerResetPath))),
	}
}

// Method returns the HTTP method, which is always POST.
func (h *BreakerResetWriter) Method() string {
	return http.MethodPost
}

// Path returns the base path of the target URL for this handler.
func (h *BreakerResetWriter) Path() string {
	return BreakerResetPath
}

// Handler returns the HTTP handler function.
func (h *BreakerResetWriter) Handler() http.HandlerFunc {
	return h.handlePost
}

func (h *BreakerResetWriter) handlePost(w http.ResponseWriter, req *http.Request) {
	reqBytes, err := h.readAll(req.Body)
	if err != nil {
		h.logger.Error("Error reading request body", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	request := &breakerResetRequest{}

	if err := json.Unmarshal(reqBytes, request); err != nil {
		h.logger.Info("Error unmarshalling request", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusBadRequest, []byte(err.Error()))

		return
	}

	if request.Domain == "" {
		writePolicyResponse(h.logger, w, http.StatusBadRequest, []byte("domain is required"))

		return
	}

	h.mgr.Reset(request.Domain)

	h.logger.Info("Reset circuit breaker", logfields.WithDomain(request.Domain))

	writePolicyResponse(h.logger, w, http.StatusOK, nil)
}
