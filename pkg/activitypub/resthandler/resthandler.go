/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package resthandler provides the read-only ActivityPub endpoints: actor
// documents and the followers, following, featured, moderators and outbox
// collections. Collections are served as an OrderedCollection summary with
// paging links; individual pages are requested with ?page=true&page-num=N.
package resthandler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/client/transport"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

const (
	loggerModule = "activitypub_resthandler"

	pageParam    = "page"
	pageNumParam = "page-num"

	defaultPageSize = 50
)

// Config holds the configuration parameters for the REST handlers.
type Config struct {
	ServiceName string
	ServiceIRI  *url.URL

	// PageSize is the number of items returned in a collection page.
	PageSize int
}

type getObjectIRIFunc func(req *http.Request) (*url.URL, error)

type getIDFunc func(objectIRI *url.URL) (*url.URL, error)

type handler struct {
	*Config

	endpoint      string
	activityStore store.Store
	handler       http.HandlerFunc
	marshal       func(v interface{}) ([]byte, error)
	writeResponse func(w http.ResponseWriter, status int, body []byte)
	logger        *log.Log
}

func newHandler(endpoint string, cfg *Config, activityStore store.Store, h http.HandlerFunc) *handler {
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}

	logger := log.New(loggerModule, log.WithFields(logfields.WithServiceName(cfg.ServiceName)))

	return &handler{
		Config:        cfg,
		endpoint:      endpoint,
		activityStore: activityStore,
		handler:       h,
		marshal:       vocab.Marshal,
		logger:        logger,
		writeResponse: func(w http.ResponseWriter, status int, body []byte) {
			if len(body) > 0 {
				w.Header().Set(transport.ContentTypeHeader, transport.ActivityJSONContentType)
			}

			w.WriteHeader(status)

			if len(body) > 0 {
				if _, err := w.Write(body); err != nil {
					logger.Warn("Unable to write response", logfields.WithServiceEndpoint(endpoint),
						log.WithError(err))
				}
			}
		},
	}
}

// Path returns the base path of the target URL for this handler.
func (h *handler) Path() string {
	return h.endpoint
}

// Method returns the HTTP method, which is always GET.
func (h *handler) Method() string {
	return http.MethodGet
}

// Handler returns the handler function to be registered with the HTTP server.
func (h *handler) Handler() http.HandlerFunc {
	return h.handler
}

func (h *handler) isPaging(req *http.Request) bool {
	return req.URL.Query().Get(pageParam) == "true"
}

func (h *handler) getPageNum(req *http.Request) (int, bool) {
	value := req.URL.Query().Get(pageNumParam)
	if value == "" {
		return 0, false
	}

	pageNum, err := strconv.Atoi(value)
	if err != nil || pageNum < 0 {
		h.logger.Debug("Ignoring invalid page-num parameter",
			logfields.WithServiceEndpoint(h.endpoint), logfields.WithValue(value))

		return 0, false
	}

	return pageNum, true
}

// getPageURL returns the URL of the given page of the collection with the
// given ID. A negative page number returns the URL of the default (first)
// page.
func (h *handler) getPageURL(id *url.URL, pageNum int) (*url.URL, error) {
	query := fmt.Sprintf("%s=true", pageParam)

	if pageNum >= 0 {
		query = fmt.Sprintf("%s&%s=%d", query, pageNumParam, pageNum)
	}

	pageURL, err := url.Parse(fmt.Sprintf("%s?%s", id, query))
	if err != nil {
		return nil, fmt.Errorf("parse page URL: %w", err)
	}

	return pageURL, nil
}

// getIDPrevNextURL resolves the ID of the current page along with the URLs of
// the previous and next pages. Pages are numbered from 0 to the maximum page
// in ascending storage order. A descending query iterates from the maximum
// page down to 0, so its 'next' link points at the lower-numbered page.
func (h *handler) getIDPrevNextURL(id *url.URL, totalItems int,
	options *store.QueryOptions) (*url.URL, *url.URL, *url.URL, error) {
	maxPage := maxPageNum(totalItems, options.PageSize)

	current := options.PageNumber
	if current < 0 {
		if options.SortOrder == store.SortDescending {
			current = maxPage
		} else {
			current = 0
		}
	}

	prevNum, nextNum := -1, -1

	if options.SortOrder == store.SortDescending {
		if current > 0 {
			nextNum = current - 1
		}

		if current < maxPage {
			prevNum = current + 1
		}
	} else {
		if current < maxPage {
			nextNum = current + 1
		}

		if current > 0 {
			prevNum = current - 1
		}
	}

	pageURL, err := h.getPageURL(id, current)
	if err != nil {
		return nil, nil, nil, err
	}

	var prevURL, nextURL *url.URL

	if prevNum >= 0 {
		prevURL, err = h.getPageURL(id, prevNum)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if nextNum >= 0 {
		nextURL, err = h.getPageURL(id, nextNum)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return pageURL, prevURL, nextURL, nil
}

func maxPageNum(totalItems, pageSize int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}

	return (totalItems - 1) / pageSize
}

func getLastPageNum(totalItems, pageSize int, sortOrder store.SortOrder) int {
	if sortOrder == store.SortDescending {
		return 0
	}

	return maxPageNum(totalItems, pageSize)
}

// actorObjectIRI resolves the IRI of the local actor addressed by the {name}
// path variable, e.g. /u/{name} or /c/{name}.
func actorObjectIRI(cfg *Config, prefix string) getObjectIRIFunc {
	return func(req *http.Request) (*url.URL, error) {
		name := mux.Vars(req)["name"]
		if name == "" {
			return nil, fmt.Errorf("name not provided in path")
		}

		return url.Parse(fmt.Sprintf("%s://%s/%s/%s", cfg.ServiceIRI.Scheme, cfg.ServiceIRI.Host, prefix, name))
	}
}

func serviceObjectIRI(cfg *Config) getObjectIRIFunc {
	return func(*http.Request) (*url.URL, error) {
		return cfg.ServiceIRI, nil
	}
}

// objectIRIFromPath resolves the IRI of the actor that owns the collection by
// stripping the collection suffix from the request path, so that a single
// handler serves /u/{name}/<suffix> and /c/{name}/<suffix> alike.
func objectIRIFromPath(cfg *Config, suffix string) getObjectIRIFunc {
	return func(req *http.Request) (*url.URL, error) {
		path := strings.TrimSuffix(req.URL.Path, "/"+suffix)
		if path == req.URL.Path {
			return nil, fmt.Errorf("invalid path [%s] for collection [%s]", req.URL.Path, suffix)
		}

		return url.Parse(fmt.Sprintf("%s://%s%s", cfg.ServiceIRI.Scheme, cfg.ServiceIRI.Host, path))
	}
}

func idWithSuffix(suffix string) getIDFunc {
	return func(objectIRI *url.URL) (*url.URL, error) {
		return url.Parse(fmt.Sprintf("%s/%s", objectIRI, suffix))
	}
}

func hasReference(activityStore store.Store, refType store.ReferenceType, objectIRI *url.URL) (bool, error) {
	it, err := activityStore.QueryReferences(refType, objectIRI)
	if err != nil {
		return false, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			log.New(loggerModule).Warn("Error closing iterator", log.WithError(err))
		}
	}()

	total, err := it.TotalItems()
	if err != nil {
		return false, err
	}

	return total > 0, nil
}
