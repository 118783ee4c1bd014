/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"errors"
	"net/http"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
)

// Actor implements the REST handler that retrieves a local actor document.
type Actor struct {
	*handler

	getObjectIRI getObjectIRIFunc
}

// NewUserActor returns a REST handler that retrieves a local user's actor document.
func NewUserActor(cfg *Config, activityStore store.Store) *Actor {
	return newActorHandler("/u/{name}", cfg, activityStore, actorObjectIRI(cfg, "u"))
}

// NewCommunityActor returns a REST handler that retrieves a local community's actor document.
func NewCommunityActor(cfg *Config, activityStore store.Store) *Actor {
	return newActorHandler("/c/{name}", cfg, activityStore, actorObjectIRI(cfg, "c"))
}

// NewServiceActor returns a REST handler that retrieves the instance service actor document.
func NewServiceActor(cfg *Config, activityStore store.Store) *Actor {
	return newActorHandler(cfg.ServiceIRI.Path, cfg, activityStore, serviceObjectIRI(cfg))
}

func newActorHandler(path string, cfg *Config, activityStore store.Store, getObjectIRI getObjectIRIFunc) *Actor {
	h := &Actor{
		getObjectIRI: getObjectIRI,
	}

	h.handler = newHandler(path, cfg, activityStore, h.handle)

	return h
}

func (h *Actor) handle(w http.ResponseWriter, req *http.Request) {
	actorIRI, err := h.getObjectIRI(req)
	if err != nil {
		h.logger.Debug("Error resolving actor IRI", logfields.WithServiceEndpoint(h.endpoint),
			log.WithError(err))

		h.writeResponse(w, http.StatusBadRequest, nil)

		return
	}

	tombstoned, err := hasReference(h.activityStore, store.Tombstone, actorIRI)
	if err != nil {
		h.logger.Error("Error querying tombstone references", logfields.WithActorIRI(actorIRI),
			log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	if tombstoned {
		tombstoneBytes, err := h.marshal(vocab.NewObject(
			vocab.WithContext(vocab.ContextActivityStreams),
			vocab.WithID(actorIRI),
			vocab.WithType(vocab.TypeTombstone),
		))
		if err != nil {
			h.logger.Error("Unable to marshal tombstone", logfields.WithActorIRI(actorIRI),
				log.WithError(err))

			h.writeResponse(w, http.StatusInternalServerError, nil)

			return
		}

		h.writeResponse(w, http.StatusGone, tombstoneBytes)

		return
	}

	actor, err := h.activityStore.GetActor(actorIRI)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeResponse(w, http.StatusNotFound, nil)

			return
		}

		h.logger.Error("Error retrieving actor", logfields.WithActorIRI(actorIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	actorBytes, err := h.marshal(actor)
	if err != nil {
		h.logger.Error("Unable to marshal actor", logfields.WithActorIRI(actorIRI), log.WithError(err))

		h.writeResponse(w, http.StatusInternalServerError, nil)

		return
	}

	h.writeResponse(w, http.StatusOK, actorBytes)
}
