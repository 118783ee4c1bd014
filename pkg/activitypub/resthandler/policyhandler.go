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
)

// DomainPolicyPath is the endpoint at which the domain deny list is managed.
const DomainPolicyPath = "/policy/domains"

const (
	internalServerErrorResponse = "Internal Server Error.\n"
)

type domainPolicyMgr interface {
	Block(domain string) error
	Unblock(domain string) error
	Blocked() ([]string, error)
}

type domainPolicyRequest struct {
	Block   []string `json:"block"`
	Unblock []string `json:"unblock"`
}

// DomainPolicyWriter implements a REST handler to update the domain deny list.
type DomainPolicyWriter struct {
	mgr     domainPolicyMgr
	readAll func(r io.Reader) ([]byte, error)
	logger  *log.Log
}

// NewDomainPolicyWriter returns a new REST handler to update the domain deny list.
func NewDomainPolicyWriter(mgr domainPolicyMgr) *DomainPolicyWriter {
	return &DomainPolicyWriter{
		mgr:     mgr,
		readAll: io.ReadAll,
		logger:  log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(DomainPolicyPath))),
	}
}

// Method returns the HTTP method, which is always POST.
func (h *DomainPolicyWriter) Method() string {
	return http.MethodPost
}

// Path returns the base path of the target URL for this handler.
func (h *DomainPolicyWriter) Path() string {
	return DomainPolicyPath
}

// Handler returns the HTTP handler function.
func (h *DomainPolicyWriter) Handler() http.HandlerFunc {
	return h.handlePost
}

func (h *DomainPolicyWriter) handlePost(w http.ResponseWriter, req *http.Request) {
	reqBytes, err := h.readAll(req.Body)
	if err != nil {
		h.logger.Error("Error reading request body", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	request := &domainPolicyRequest{}

	if err := json.Unmarshal(reqBytes, request); err != nil {
		h.logger.Info("Error unmarshalling request", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusBadRequest, []byte(err.Error()))

		return
	}

	for _, domain := range request.Block {
		if err := h.mgr.Block(domain); err != nil {
			h.logger.Error("Error blocking domain", logfields.WithDomain(domain), log.WithError(err))

			writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

			return
		}
	}

	for _, domain := range request.Unblock {
		if err := h.mgr.Unblock(domain); err != nil {
			h.logger.Error("Error unblocking domain", logfields.WithDomain(domain), log.WithError(err))

			writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

			return
		}
	}

	writePolicyResponse(h.logger, w, http.StatusOK, nil)
}

// DomainPolicyReader implements a REST handler to read the domain deny list.
type DomainPolicyReader struct {
	mgr     domainPolicyMgr
	marshal func(v interface{}) ([]byte, error)
	logger  *log.Log
}

// NewDomainPolicyReader returns a new REST handler to read the domain deny list.
func NewDomainPolicyReader(mgr domainPolicyMgr) *DomainPolicyReader {
	return &DomainPolicyReader{
		mgr:     mgr,
		marshal: json.Marshal,
		logger:  log.New(loggerModule, log.WithFields(logfields.WithServiceEndpoint(DomainPolicyPath))),
	}
}

// Method returns the HTTP method, which is always GET.
func (h *DomainPolicyReader) Method() string {
	return http.MethodGet
}

// Path returns the base path of the target URL for this handler.
func (h *DomainPolicyReader) Path() string {
	return DomainPolicyPath
}

// Handler returns the HTTP handler function.
func (h *DomainPolicyReader) Handler() http.HandlerFunc {
	return h.handleGet
}

func (h *DomainPolicyReader) handleGet(w http.ResponseWriter, _ *http.Request) {
	domains, err := h.mgr.Blocked()
	if err != nil {
		h.logger.Error("Error querying blocked domains", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	if domains == nil {
		domains = []string{}
	}

	respBytes, err := h.marshal(domains)
	if err != nil {
		h.logger.Error("Error marshalling blocked domains", log.WithError(err))

		writePolicyResponse(h.logger, w, http.StatusInternalServerError, []byte(internalServerErrorResponse))

		return
	}

	w.Header().Set("Content-Type", "application/json")

	writePolicyResponse(h.logger, w, http.StatusOK, respBytes)
}

func writePolicyResponse(logger *log.Log, w http.ResponseWriter, status int, body []byte) {
	w.WriteHeader(status)

	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			logger.Warn("Unable to write response", log.WithError(err))
		}
	}
}
