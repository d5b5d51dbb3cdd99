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

package api

import (
	"net/http"

	"sunfish/internal/aggregator"
)

// NewRouter constructs the northbound HTTP handler for one aggregator
// instance, bound to facade and serving under redfishRoot.
func NewRouter(facade *aggregator.Facade, redfishRoot, serviceUUID string) http.Handler {
	h := New(facade, redfishRoot, serviceUUID)
	return newMux(h)
}

// newMux wires the well-known service endpoints ahead of the generic CRUD
// dispatcher, which handles every other path under the service root.
func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	root := h.redfishRoot

	mux.HandleFunc(root, h.handleServiceRoot)
	mux.HandleFunc(root+"/", h.handleRedfish)

	mux.HandleFunc(root+"/$metadata", h.handleMetadata)
	mux.HandleFunc(root+"/Registries", h.handleRegistriesCollection)
	mux.HandleFunc(root+"/SchemaStore", h.handleSchemaStoreRoot)

	mux.HandleFunc(root+"/AggregationService", h.handleAggregationService)
	mux.HandleFunc(root+"/EventService", h.handleEventService)
	mux.HandleFunc(root+"/EventService/Events", h.handleEventsIngress)

	return mux
}
