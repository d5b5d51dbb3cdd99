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

// handleMetadata serves a minimal static OData $metadata CSDL shell sized to
// the resource types this aggregator actually exposes navigation for.
func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodGet)
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}
	const csdl = `<?xml version="1.0" encoding="UTF-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
	<edmx:DataServices>
		<Schema Namespace="ServiceRoot" xmlns="http://docs.oasis-open.org/odata/ns/edm">
			<EntityType Name="ServiceRoot">
				<Key><PropertyRef Name="Id"/></Key>
				<Property Name="Id" Type="Edm.String" Nullable="false"/>
			</EntityType>
			<EntityContainer Name="ServiceContainer">
				<EntitySet Name="ServiceRoot" EntityType="ServiceRoot.ServiceRoot"/>
			</EntityContainer>
		</Schema>
	</edmx:DataServices>
</edmx:Edmx>`
	data := []byte(csdl)
	etag := rfComputeETag(data)
	if match := r.Header.Get("If-None-Match"); match != "" && rfIfNoneMatchMatches(match, etag) {
		w.Header().Set("ETag", etag)
		w.Header().Set("OData-Version", "4.0")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("OData-Version", "4.0")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleRegistriesCollection lists the message registries this aggregator
// ships: only the Base registry, referenced by MessageId throughout the
// event and error-envelope machinery.
func (h *Handler) handleRegistriesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodGet)
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}
	root := h.redfishRoot
	coll := redfish.Collection{
		ODataContext: root + "/$metadata#MessageRegistryFileCollection.MessageRegistryFileCollection",
		ODataID:      root + "/Registries",
		ODataType:    "#MessageRegistryFileCollection.MessageRegistryFileCollection",
		Name:         "Message Registry File Collection",
		Members:      []redfish.ODataIDRef{{ODataID: root + "/Registries/Base"}},
		MembersCount: 1,
	}
	rfWriteJSONResponse(w, http.StatusOK, coll)
}

// handleSchemaStoreRoot returns an empty SchemaStore collection: this
// aggregator validates payloads against its own error vocabulary rather
// than against published JSON Schemas, so no schema files are shipped.
func (h *Handler) handleSchemaStoreRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rfWriteAllow(w, http.MethodGet)
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, r, &methodNotAllowed{method: r.Method})
		return
	}
	root := h.redfishRoot
	coll := redfish.Collection{
		ODataContext: root + "/$metadata#JsonSchemaFileCollection.JsonSchemaFileCollection",
		ODataID:      root + "/SchemaStore",
		ODataType:    "#JsonSchemaFileCollection.JsonSchemaFileCollection",
		Name:         "JSON Schema File Collection",
	}
	rfWriteJSONResponse(w, http.StatusOK, coll)
}
