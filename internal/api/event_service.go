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
	"encoding/json"
	"net/http"

	"sunfish/internal/forwarder"
	"sunfish/pkg/redfish"
)

// handleEventService returns the EventService singleton. Its Subscriptions
// collection and every EventDestination beneath it are ordinary stored
// resources served by the generic CRUD dispatcher.
func (h *Handler) handleEventService(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodGet)
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}

	root := h.redfishRoot
	svc := redfish.EventService{
		ODataContext:   root + "/$metadata#EventService.EventService",
		ODataID:        root + "/EventService",
		ODataType:      "#EventService.v1_7_0.EventService",
		ID:             "EventService",
		Name:           "Event Service",
		ServiceEnabled: true,
		Subscriptions:  redfish.ODataIDRef{ODataID: root + "/EventService/Subscriptions"},
	}
	rfWriteJSONResponse(w, http.StatusOK, svc)
}

// handleEventsIngress accepts an inbound event payload, the action invoked
// by agents to deliver events (and, via the built-in message ids, to drive
// agent registration and the discovery/cleanup pipeline) rather than a
// stored resource in its own right.
func (h *Handler) handleEventsIngress(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodPost)
		return
	}
	if r.Method != http.MethodPost {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}

	var payload redfish.Event
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, r, &invalidJSON{err: err})
		return
	}

	env := forwarder.Envelope{
		ODataType: payload.ODataType,
		Context:   payload.Context,
		Events:    make([]forwarder.Event, 0, len(payload.Events)),
	}
	for _, rec := range payload.Events {
		event := forwarder.Event{
			MessageID:   rec.MessageId,
			MessageArgs: rec.MessageArgs,
		}
		if rec.OriginOfCondition != nil {
			event.OriginOfCondition = &forwarder.OriginRef{ODataID: rec.OriginOfCondition.ODataID}
		}
		env.Events = append(env.Events, event)
	}

	notified, err := h.facade.HandleEvent(r.Context(), env)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if notified == nil {
		notified = []string{}
	}
	rfWriteJSONResponse(w, http.StatusOK, notified)
}
