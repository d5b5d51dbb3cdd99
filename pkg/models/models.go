// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package models defines the wire types the aggregator stores and forwards:
// raw Redfish resource documents, the ownership stamp the aggregator adds to
// them, and the administrative resources (AggregationSource,
// EventDestination) it manages directly.
package models

import "encoding/json"

// BoundaryComponent classifies how a resource sits relative to the agent
// boundary that discovered it.
type BoundaryComponent string

const (
	// BoundaryOwned marks a resource wholly owned by one agent.
	BoundaryOwned BoundaryComponent = "owned"
	// BoundaryPort marks a resource that sits on the boundary between two
	// agents' fabrics (e.g. a CXL port connecting two switches).
	BoundaryPort BoundaryComponent = "BoundaryPort"
	// BoundaryForeign marks a resource that belongs to a different agent's
	// fabric but is referenced from this one.
	BoundaryForeign BoundaryComponent = "foreign"
	// BoundaryUnknown is used until boundary resolution has run.
	BoundaryUnknown BoundaryComponent = "unknown"
)

// OwnershipStamp is the Oem.Sunfish_RM block the aggregator attaches to
// every resource it ingests from an agent.
type OwnershipStamp struct {
	ManagingAgent     ODataIDRef        `json:"ManagingAgent"`
	BoundaryComponent BoundaryComponent `json:"BoundaryComponent"`
	FabricSharedWith  []ODataIDRef      `json:"FabricSharedWith,omitempty"`
}

// ODataIDRef is a bare reference to another resource by its @odata.id.
type ODataIDRef struct {
	ODataID string `json:"@odata.id"`
}

// Resource is a dynamic Redfish JSON document. Agent-supplied payloads carry
// whatever properties that agent's schema version defines, so the
// aggregator keeps them as a generic map and only reaches into the handful
// of fields its own logic needs (id, type, links, membership, ownership).
type Resource map[string]any

// Clone returns a deep-enough copy for safe mutation: nested maps/slices
// reachable from the top level are copied via a JSON round trip, which is
// adequate since Resource only ever holds JSON-marshalable values.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		out := make(Resource, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Resource
	_ = json.Unmarshal(b, &out)
	return out
}

// ODataID returns the resource's "@odata.id", or "" if absent.
func (r Resource) ODataID() string {
	return stringField(r, "@odata.id")
}

// ODataType returns the resource's "@odata.type", or "" if absent.
func (r Resource) ODataType() string {
	return stringField(r, "@odata.type")
}

// ID returns the resource's "Id" field, or "" if absent.
func (r Resource) ID() string {
	return stringField(r, "Id")
}

// IsCollection reports whether the document looks like a Redfish
// collection: it carries "Members" and "Members@odata.count".
func (r Resource) IsCollection() bool {
	_, hasMembers := r["Members"]
	_, hasCount := r["Members@odata.count"]
	return hasMembers && hasCount
}

// Members returns the @odata.id values listed in "Members", in order.
func (r Resource) Members() []string {
	raw, ok := r["Members"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := entry["@odata.id"].(string); ok {
			out = append(out, id)
		}
	}
	return out
}

// SetMembers rewrites "Members" and "Members@odata.count" from the given
// ordered list of @odata.id values.
func (r Resource) SetMembers(ids []string) {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, map[string]any{"@odata.id": id})
	}
	r["Members"] = members
	r["Members@odata.count"] = len(members)
}

// OwnershipStamp extracts Oem.Sunfish_RM if present.
func (r Resource) OwnershipStamp() (OwnershipStamp, bool) {
	oem, ok := r["Oem"].(map[string]any)
	if !ok {
		return OwnershipStamp{}, false
	}
	raw, ok := oem["Sunfish_RM"]
	if !ok {
		return OwnershipStamp{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return OwnershipStamp{}, false
	}
	var stamp OwnershipStamp
	if err := json.Unmarshal(b, &stamp); err != nil {
		return OwnershipStamp{}, false
	}
	return stamp, true
}

// SetOwnershipStamp writes Oem.Sunfish_RM, creating Oem if absent.
func (r Resource) SetOwnershipStamp(stamp OwnershipStamp) {
	oem, ok := r["Oem"].(map[string]any)
	if !ok {
		oem = map[string]any{}
		r["Oem"] = oem
	}
	b, _ := json.Marshal(stamp)
	var asMap map[string]any
	_ = json.Unmarshal(b, &asMap)
	oem["Sunfish_RM"] = asMap
}

func stringField(r Resource, key string) string {
	v, ok := r[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// AggregationSource describes a registered agent that owns some subtree of
// the aggregated fabric.
type AggregationSource struct {
	ODataID  string `json:"@odata.id"`
	ODataType string `json:"@odata.type"`
	ID       string `json:"Id" db:"id"`
	Name     string `json:"Name" db:"name"`
	HostName string `json:"HostName" db:"hostname"`
	UserName string `json:"UserName,omitempty" db:"username"`
	Password string `json:"Password,omitempty" db:"password"`
	RootPath string `json:"-" db:"root_path"`
}

// ParseAggregationSource extracts an AggregationSource from a generic
// stored Resource document.
func ParseAggregationSource(res Resource) AggregationSource {
	var a AggregationSource
	a.ODataID = res.ODataID()
	a.ODataType = res.ODataType()
	a.ID = res.ID()
	a.Name, _ = res["Name"].(string)
	a.HostName, _ = res["HostName"].(string)
	a.UserName, _ = res["UserName"].(string)
	a.Password, _ = res["Password"].(string)
	return a
}

// EventDestination describes a Redfish event subscription.
type EventDestination struct {
	ODataID              string   `json:"@odata.id"`
	ODataType            string   `json:"@odata.type"`
	ID                   string   `json:"Id" db:"id"`
	Destination          string   `json:"Destination" db:"destination"`
	Context              string   `json:"Context,omitempty" db:"context"`
	Protocol             string   `json:"Protocol,omitempty" db:"protocol"`
	RegistryPrefixes     []string `json:"RegistryPrefixes,omitempty"`
	ExcludeRegistryPfx   []string `json:"ExcludeRegistryPrefixes,omitempty"`
	MessageIds           []string `json:"MessageIds,omitempty"`
	ExcludeMessageIds    []string `json:"ExcludeMessageIds,omitempty"`
	ResourceTypes        []string `json:"ResourceTypes,omitempty"`
	OriginResources      []string `json:"OriginResources,omitempty"`
	SubordinateResources bool     `json:"SubordinateResources,omitempty"`
}

// ParseEventDestination extracts an EventDestination from a generic stored
// or inbound Resource document.
func ParseEventDestination(res Resource) EventDestination {
	var d EventDestination
	d.ODataID = res.ODataID()
	d.ODataType = res.ODataType()
	d.ID = res.ID()
	d.Destination, _ = res["Destination"].(string)
	d.Context, _ = res["Context"].(string)
	d.Protocol, _ = res["Protocol"].(string)
	d.RegistryPrefixes = stringSliceField(res["RegistryPrefixes"])
	d.ExcludeRegistryPfx = stringSliceField(res["ExcludeRegistryPrefixes"])
	d.MessageIds = stringSliceField(res["MessageIds"])
	d.ExcludeMessageIds = stringSliceField(res["ExcludeMessageIds"])
	d.ResourceTypes = stringSliceField(res["ResourceTypes"])
	d.SubordinateResources, _ = res["SubordinateResources"].(bool)
	if links, ok := res["Links"].(map[string]any); ok {
		if refs, ok := links["OriginResources"].([]any); ok {
			for _, r := range refs {
				if m, ok := r.(map[string]any); ok {
					if id, ok := m["@odata.id"].(string); ok {
						d.OriginResources = append(d.OriginResources, id)
					}
				}
			}
		}
	}
	return d
}

func stringSliceField(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
