/*
Shoal is a Redfish aggregator service.
Copyright (C) 2025  Matthew Burns

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package api implements the northbound Redfish HTTP surface: a thin
// method/path dispatcher in front of the Core Façade, plus the handful of
// well-known service endpoints (service root, AggregationService, EventService
// ingress, $metadata/Registries/SchemaStore) that do not map directly onto a
// single stored resource.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"sunfish/internal/aggregator"
	"sunfish/pkg/models"
)

// Handler serves the Redfish HTTP API for one aggregator instance.
type Handler struct {
	facade      *aggregator.Facade
	redfishRoot string
	serviceUUID string
}

// New constructs a Handler bound to facade, serving under redfishRoot
// (e.g. "/redfish/v1") and advertising serviceUUID as the service root's
// UUID.
func New(facade *aggregator.Facade, redfishRoot, serviceUUID string) *Handler {
	return &Handler{
		facade:      facade,
		redfishRoot: strings.TrimSuffix(redfishRoot, "/"),
		serviceUUID: serviceUUID,
	}
}

// handleRedfish is the generic CRUD dispatcher: every path under the service
// root that isn't one of the well-known service endpoints wired in router.go
// falls through to here, where the HTTP method names the Core Façade
// operation and the URL path names the resource.
func (h *Handler) handleRedfish(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = h.redfishRoot
	}

	switch r.Method {
	case http.MethodOptions:
		rfWriteAllow(w, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
	case http.MethodGet:
		h.handleGet(w, r, path)
	case http.MethodPost:
		h.handleCreate(w, r, path)
	case http.MethodPut:
		h.handleReplace(w, r, path)
	case http.MethodPatch:
		h.handlePatch(w, r, path)
	case http.MethodDelete:
		h.handleDelete(w, r, path)
	default:
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, path string) {
	obj, err := h.facade.Get(r.Context(), path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	etag := rfWeakETag(path, obj.ODataType())
	rfWriteJSONResponseWithETag(w, r, http.StatusOK, obj, etag)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, path string) {
	payload, err := decodeResource(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.facade.Create(r.Context(), path, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", created.ODataID())
	rfWriteJSONResponseWithETag(w, r, http.StatusOK, created, rfWeakETag(created.ODataID(), created.ODataType()))
}

func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request, path string) {
	payload, err := decodeResource(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	replaced, err := h.facade.Replace(r.Context(), path, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rfWriteJSONResponseWithETag(w, r, http.StatusOK, replaced, rfWeakETag(path, replaced.ODataType()))
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request, path string) {
	partial, err := decodeResource(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	merged, err := h.facade.Patch(r.Context(), path, partial)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rfWriteJSONResponseWithETag(w, r, http.StatusOK, merged, rfWeakETag(path, merged.ODataType()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, path string) {
	if err := h.facade.Delete(r.Context(), path); err != nil {
		h.writeError(w, r, err)
		return
	}
	rfWriteJSONResponse(w, http.StatusOK, deleteConfirmation{ODataID: path, Deleted: true})
}

// deleteConfirmation is the body returned for a successful DELETE; there is
// no empty-body success case on this surface.
type deleteConfirmation struct {
	ODataID string `json:"@odata.id"`
	Deleted bool   `json:"Deleted"`
}

func decodeResource(body io.Reader) (models.Resource, error) {
	var res models.Resource
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		return nil, &invalidJSON{err: err}
	}
	if res == nil {
		res = models.Resource{}
	}
	return res, nil
}

type invalidJSON struct{ err error }

func (e *invalidJSON) Error() string { return "invalid JSON in request body: " + e.err.Error() }

type methodNotAllowed struct{ method string }

func (e *methodNotAllowed) Error() string { return "method not allowed: " + e.method }
