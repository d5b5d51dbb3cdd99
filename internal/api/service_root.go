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

// handleServiceRoot returns the Redfish service root. Unlike every other
// resource, the service root is never read from the resource store: its
// navigation links are fixed by the deployment's configuration, not by
// anything an agent can discover or modify.
func (h *Handler) handleServiceRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodGet)
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}

	root := h.redfishRoot
	serviceRoot := redfish.ServiceRoot{
		ODataContext:       root + "/$metadata#ServiceRoot.ServiceRoot",
		ODataID:            root + "/",
		ODataType:          "#ServiceRoot.v1_5_0.ServiceRoot",
		ID:                 "RootService",
		Name:               "Fabric Aggregation Service",
		RedfishVersion:     "1.6.0",
		UUID:               h.serviceUUID,
		Systems:            &redfish.ODataIDRef{ODataID: root + "/Systems"},
		Chassis:            &redfish.ODataIDRef{ODataID: root + "/Chassis"},
		Fabrics:            &redfish.ODataIDRef{ODataID: root + "/Fabrics"},
		Managers:           &redfish.ODataIDRef{ODataID: root + "/Managers"},
		AggregationService: &redfish.ODataIDRef{ODataID: root + "/AggregationService"},
		EventService:       &redfish.ODataIDRef{ODataID: root + "/EventService"},
		Registries:         &redfish.ODataIDRef{ODataID: root + "/Registries"},
		JsonSchemas:        &redfish.ODataIDRef{ODataID: root + "/SchemaStore"},
	}

	rfWriteJSONResponse(w, http.StatusOK, serviceRoot)
}
