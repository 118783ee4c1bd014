/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"
)

const wellKnownPath = "/.well-known/nodeinfo"

type nodeInfoRetriever interface {
	GetNodeInfo(version Version) *NodeInfo
}

// Handler implements the /nodeinfo/{version} REST endpoint.
type Handler struct {
	version     Version
	retriever   nodeInfoRetriever
	contentType string
	marshal     func(v interface{}) ([]byte, error)
}

// NewHandler returns the NodeInfo REST handler for the given schema version.
func NewHandler(version Version, retriever nodeInfoRetriever) *Handler {
	return &Handler{
		version:   version,
		retriever: retriever,
		contentType: fmt.Sprintf(`application/json; profile="http://nodeinfo.diaspora.software/ns/schema/%s#"`,
			version),
		marshal: json.Marshal,
	}
}

// Path returns the HTTP REST endpoint for the NodeInfo handler.
func (h *Handler) Path() string {
	return fmt.Sprintf("/nodeinfo/%s", h.version)
}

// Method returns the HTTP REST method for the NodeInfo handler.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Handler returns the handler function to be registered with the HTTP server.
func (h *Handler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *Handler) handle(w http.ResponseWriter, _ *http.Request) {
	nodeInfoBytes, err := h.marshal(h.retriever.GetNodeInfo(h.version))
	if err != nil {
		logger.Error("Error marshalling node info", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", h.contentType)

	writeResponse(w, http.StatusOK, nodeInfoBytes)
}

// WellKnownHandler implements the /.well-known/nodeinfo endpoint, which
// points at the schema-versioned NodeInfo endpoints.
type WellKnownHandler struct {
	marshal func(v interface{}) ([]byte, error)
	links   *WellKnownLinks
}

// NewWellKnownHandler returns the /.well-known/nodeinfo REST handler. The
// base URL is the externally visible origin of this server.
func NewWellKnownHandler(baseURL *url.URL) *WellKnownHandler {
	return &WellKnownHandler{
		marshal: json.Marshal,
		links: &WellKnownLinks{
			Links: []Link{
				{
					Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
					Href: fmt.Sprintf("%s://%s/nodeinfo/%s", baseURL.Scheme, baseURL.Host, V2_0),
				},
				{
					Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.1",
					Href: fmt.Sprintf("%s://%s/nodeinfo/%s", baseURL.Scheme, baseURL.Host, V2_1),
				},
			},
		},
	}
}

// Path returns the HTTP REST endpoint for the well-known handler.
func (h *WellKnownHandler) Path() string {
	return wellKnownPath
}

// Method returns the HTTP REST method for the well-known handler.
func (h *WellKnownHandler) Method() string {
	return http.MethodGet
}

// Handler returns the handler function to be registered with the HTTP server.
func (h *WellKnownHandler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *WellKnownHandler) handle(w http.ResponseWriter, _ *http.Request) {
	linksBytes, err := h.marshal(h.links)
	if err != nil {
		logger.Error("Error marshalling node info links", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	writeResponse(w, http.StatusOK, linksBytes)
}

func writeResponse(w http.ResponseWriter, status int, body []byte) {
	w.WriteHeader(status)

	if _, err := w.Write(body); err != nil {
		logger.Warn("Unable to write response", log.WithError(err))
	}
}
