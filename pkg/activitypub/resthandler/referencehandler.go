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

// NewFollowers returns a REST handler that retrieves an actor's followers
// collection. The path must end in /followers, e.g. /u/{name}/followers.
func NewFollowers(path string, cfg *Config, activityStore store.Store) *Reference {
	return NewReference(path, store.Follower, store.SortAscending, cfg, activityStore,
		objectIRIFromPath(cfg, "followers"), idWithSuffix("followers"))
}

// NewFollowing returns a REST handler that retrieves the collection of actors
// that the addressed actor is following.
func NewFollowing(path string, cfg *Config, activityStore store.Store) *Reference {
	return NewReference(path, store.Following, store.SortAscending, cfg, activityStore,
		objectIRIFromPath(cfg, "following"), idWithSuffix("following"))
}

// NewFeatured returns a REST handler that retrieves a community's featured
// (pinned) content collection.
func NewFeatured(path string, cfg *Config, activityStore store.Store) *Reference {
	return NewReference(path, store.Featured, store.SortAscending, cfg, activityStore,
		objectIRIFromPath(cfg, "featured"), idWithSuffix("featured"))
}

// NewModerators returns a REST handler that retrieves a community's moderator
// collection.
func NewModerators(path string, cfg *Config, activityStore store.Store) *Reference {
	return NewReference(path, store.Moderator, store.SortAscending, cfg, activityStore,
		objectIRIFromPath(cfg, "moderators"), idWithSuffix("moderators"))
}

// Reference implements a REST handler that retrieves references of a given
// type as an ordered collection of IRIs.
type Reference struct {
	*handler

	refType      store.ReferenceType
	sortOrder    store.SortOrder
	getObjectIRI getObjectIRIFunc
	getID        getIDFunc
}

// NewReference returns a new reference REST handler.
func NewReference(path string, refType store.ReferenceType, sortOrder store.SortOrder,
	cfg *Config, activityStore store.Store, getObjectIRI getObjectIRIFunc, getID getIDFunc) *Reference {
	h := &Reference{
		refType:      refType,
		sortOrder:    sortOrder,
		getObjectIRI: getObjectIRI,
		getID:        getID,
	}

	h.handler = newHandler(path, cfg, activityStore, h.handle)

	return h
}

func (h *Reference) handle(w http.ResponseWriter, req *http.Request) {
	objectIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.logger.Debug("Error resolving object IRI", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

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
		h.handleReferencePage(w, req, objectIRI, id)
	} else {
		h.handleReference(w, objectIRI, id)
	}
}

func (h *Reference) handleReference(w http.ResponseWriter, objectIRI, id *url.URL) {
	coll, err := h.getReference(objectIRI, id)
	if err != nil {
		h.logger.Error("Error retrieving references", logfields.WithObjectIRI(objectIRI),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	collBytes, err := h.marshal(coll)
	if err != nil {
		h.logger.Error("Unable to marshal collection", logfields.WithObjectIRI(objectIRI),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	h.writeResponse(w, http.StatusOK, collBytes)
}

func (h *Reference) handleReferencePage(w http.ResponseWriter, req *http.Request, objectIRI, id *url.URL) {
	var page *vocab.OrderedCollectionPageType

	var err error

	pageNum, ok := h.getPageNum(req)
	if ok {
		page, err = h.getPage(objectIRI, id,
			store.WithPageSize(h.PageSize), store.WithPageNum(pageNum), store.WithSortOrder(h.sortOrder))
	} else {
		page, err = h.getPage(objectIRI, id,
			store.WithPageSize(h.PageSize), store.WithSortOrder(h.sortOrder))
	}

	if err != nil {
		h.logger.Error("Error retrieving page", logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	pageBytes, err := h.marshal(page)
	if err != nil {
		h.logger.Error("Unable to marshal page", logfields.WithObjectIRI(objectIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	h.writeResponse(w, http.StatusOK, pageBytes)
}

func (h *Reference) getReference(objectIRI, id *url.URL) (*vocab.OrderedCollectionType, error) {
	it, err := h.activityStore.QueryReferences(h.refType, objectIRI)
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

	lastURL, err := h.getPageURL(id, getLastPageNum(totalItems, h.PageSize, h.sortOrder))
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

func (h *Reference) getPage(objectIRI, id *url.URL, opts ...store.QueryOpt) (*vocab.OrderedCollectionPageType, error) {
	it, err := h.activityStore.QueryReferences(h.refType, objectIRI, opts...)
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

	refs, err := storeutil.ReadReferences(it, options.PageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*vocab.ObjectProperty, len(refs))

	for i, ref := range refs {
		items[i] = vocab.NewObjectProperty(vocab.WithIRI(ref))
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
