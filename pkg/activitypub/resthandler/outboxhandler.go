/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/store/storeutil"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// Outbox implements the REST handler that retrieves the published activities
// of this instance as an ordered collection, newest first.
type Outbox struct {
	*handler

	getObjectIRI getObjectIRIFunc
	getID        getIDFunc
}

// NewOutbox returns a new outbox REST handler.
func NewOutbox(cfg *Config, activityStore store.Store) *Outbox {
	h := &Outbox{
		getObjectIRI: serviceObjectIRI(cfg),
		getID:        idWithSuffix("outbox"),
	}

	h.handler = newHandler(cfg.ServiceIRI.Path+"/outbox", cfg, activityStore, h.handle)

	return h
}

func (h *Outbox) handle(w http.ResponseWriter, req *http.Request) {
	objectIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.writeResponse(w, http.StatusBadRequest, nil)

		return
	}

	id, err := h.getID(objectIRI)
	if err != nil {
		h.logger.Error("Error generating collection ID", logfields.WithObjectIRI(objectIRI),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	if h.isPaging(req) {
		h.handleActivitiesPage(w, req, id)
	} else {
		h.handleActivities(w, id)
	}
}

func (h *Outbox) handleActivities(w http.ResponseWriter, id *url.URL) {
	coll, err := h.getActivities(id)
	if err != nil {
		h.logger.Error("Error retrieving outbox activities", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	collBytes, err := h.marshal(coll)
	if err != nil {
		h.logger.Error("Unable to marshal outbox collection", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	h.writeResponse(w, http.StatusOK, collBytes)
}

func (h *Outbox) handleActivitiesPage(w http.ResponseWriter, req *http.Request, id *url.URL) {
	var page *vocab.OrderedCollectionPageType

	var err error

	pageNum, ok := h.getPageNum(req)
	if ok {
		page, err = h.getPage(id,
			store.WithPageSize(h.PageSize), store.WithPageNum(pageNum),
			store.WithSortOrder(store.SortDescending))
	} else {
		page, err = h.getPage(id,
			store.WithPageSize(h.PageSize), store.WithSortOrder(store.SortDescending))
	}

	if err != nil {
		h.logger.Error("Error retrieving outbox page", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	pageBytes, err := h.marshal(page)
	if err != nil {
		h.logger.Error("Unable to marshal outbox page", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	h.writeResponse(w, http.StatusOK, pageBytes)
}

func (h *Outbox) getActivities(id *url.URL) (*vocab.OrderedCollectionType, error) {
	it, err := h.activityStore.QueryActivities(store.Outbox, store.NewCriteria())
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, err
	}

	firstURL, err := h.getPageURL(id, -1)
	if err != nil {
		return nil, err
	}

	lastURL, err := h.getPageURL(id, getLastPageNum(totalItems, h.PageSize, store.SortDescending))
	if err != nil {
		return nil, err
	}

	return vocab.NewOrderedCollection(nil,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(id),
		vocab.WithFirst(firstURL),
		vocab.WithLast(lastURL),
		vocab.WithTotalItems(totalItems),
	), nil
}

func (h *Outbox) getPage(id *url.URL, opts ...store.QueryOpt) (*vocab.OrderedCollectionPageType, error) {
	it, err := h.activityStore.QueryActivities(store.Outbox, store.NewCriteria(), opts...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	totalItems, err := it.TotalItems()
	if err != nil {
		return nil, err
	}

	options := storeutil.GetQueryOptions(opts...)

	activities, err := storeutil.ReadActivities(it, options.PageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*vocab.ObjectProperty, len(activities))

	for i, activity := range activities {
		items[i] = vocab.NewObjectProperty(vocab.WithActivity(activity))
	}

	pageID, prev, next, err := h.getIDPrevNextURL(id, totalItems, options)
	if err != nil {
		return nil, err
	}

	return vocab.NewOrderedCollectionPage(items,
		vocab.WithContext(vocab.ContextActivityStreams),
		vocab.WithID(pageID),
		vocab.WithPartOf(id),
		vocab.WithPrev(prev),
		vocab.WithNext(next),
		vocab.WithTotalItems(totalItems),
	), nil
}
