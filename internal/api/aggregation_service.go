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

	"sunfish/pkg/redfish"
)

// handleAggregationService returns the AggregationService singleton. Its
// AggregationSources collection and every member beneath it are ordinary
// stored resources and are served by the generic CRUD dispatcher; only the
// service document itself is fixed rather than stored.
func (h *Handler) handleAggregationService(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodGet)
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}

	root := h.redfishRoot
	svc := redfish.AggregationService{
		ODataContext:       root + "/$metadata#AggregationService.AggregationService",
		ODataID:            root + "/AggregationService",
		ODataType:          "#AggregationService.v1_0_0.AggregationService",
		ID:                 "AggregationService",
		Name:               "Aggregation Service",
		Description:        "Fabric aggregation and agent registration",
		AggregationSources: redfish.ODataIDRef{ODataID: root + "/AggregationService/AggregationSources"},
	}
	rfWriteJSONResponse(w, http.StatusOK, svc)
}
