/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webfinger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/webfinger/model"
)

var logger = log.New("webfinger")

const jrdContentType = "application/jrd+json"

// ActorRegistry reports the actor IRI for a locally hosted handle.
type ActorRegistry interface {
	// LocalActorIRI returns the IRI of the local actor with the given
	// preferred username, or false if no such actor exists.
	LocalActorIRI(name string) (*url.URL, bool)
}

// Handler serves the /.well-known/webfinger endpoint for locally hosted actors.
type Handler struct {
	domain   string
	registry ActorRegistry
}

// NewHandler returns a new WebFinger handler.
func NewHandler(domain string, registry ActorRegistry) *Handler {
	return &Handler{
		domain:   domain,
		registry: registry,
	}
}

// Path returns the endpoint path.
func (h *Handler) Path() string {
	return "/.well-known/webfinger"
}

// Method returns the HTTP method.
func (h *Handler) Method() string {
	return http.MethodGet
}

// Handler returns the HTTP handler function.
func (h *Handler) Handler() http.HandlerFunc {
	return h.handle
}

func (h *Handler) handle(w http.ResponseWriter, req *http.Request) {
	resource := req.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "resource query parameter is required", http.StatusBadRequest)

		return
	}

	name, domain, err := parseAcct(resource)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if !strings.EqualFold(domain, h.domain) {
		http.Error(w, "resource not found", http.StatusNotFound)

		return
	}

	actorIRI, ok := h.registry.LocalActorIRI(name)
	if !ok {
		http.Error(w, "resource not found", http.StatusNotFound)

		return
	}

	jrd := &model.JRD{
		Subject: fmt.Sprintf("acct:%s@%s", name, h.domain),
		Aliases: []string{actorIRI.String()},
		Links: []model.Link{
			{
				Rel:  model.RelSelf,
				Type: model.ActivityJSONType,
				Href: actorIRI.String(),
			},
		},
	}

	respBytes, err := json.Marshal(jrd)
	if err != nil {
		logger.Error("Error marshalling JRD", logfields.WithHandle(resource), log.WithError(err))

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", jrdContentType)

	if _, err := w.Write(respBytes); err != nil {
		logger.Warn("Error writing response", log.WithError(err))
	}
}

func parseAcct(resource string) (name, domain string, err error) {
	acct := strings.TrimPrefix(resource, "acct:")
	acct = strings.TrimPrefix(acct, "@")

	parts := strings.Split(acct, "@")

	const acctParts = 2

	if len(parts) != acctParts || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid resource [%s]", resource)
	}

	return parts[0], parts[1], nil
}
