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

package router

import (
	"context"
	"testing"

	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
)

type fakeStore struct {
	docs map[string]models.Resource
}

func (f *fakeStore) Read(_ context.Context, path string) (models.Resource, error) {
	res, ok := f.docs[path]
	if !ok {
		return nil, &aggerrors.ResourceNotFound{Path: path}
	}
	return res, nil
}

func ownedResource(path, agent string) models.Resource {
	return models.Resource{
		"@odata.id": path,
		"Oem": map[string]any{
			"Sunfish_RM": map[string]any{
				"ManagingAgent": map[string]any{"@odata.id": agent},
			},
		},
	}
}

func TestResolveGetWalksToOwningAncestor(t *testing.T) {
	store := &fakeStore{docs: map[string]models.Resource{
		"/redfish/v1/Systems/1": ownedResource("/redfish/v1/Systems/1", "/redfish/v1/AggregationService/AggregationSources/agent-1"),
		"/redfish/v1/Systems/1/Processors/1": {"@odata.id": "/redfish/v1/Systems/1/Processors/1"},
	}}
	r := New(store, "/redfish/v1")

	agent, ok, err := r.Resolve(context.Background(), "/redfish/v1/Systems/1/Processors/1", VerbGet)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || agent != "/redfish/v1/AggregationService/AggregationSources/agent-1" {
		t.Fatalf("Resolve = (%q, %v), want the owning agent", agent, ok)
	}
}

func TestResolveTopLevelCollectionIsNeverAgentManaged(t *testing.T) {
	store := &fakeStore{docs: map[string]models.Resource{}}
	r := New(store, "/redfish/v1")

	_, ok, err := r.Resolve(context.Background(), "/redfish/v1/Systems", VerbGet)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatalf("a top-level collection should never resolve to an agent")
	}
}

func TestResolveCreateUsesParentOfParent(t *testing.T) {
	store := &fakeStore{docs: map[string]models.Resource{
		"/redfish/v1/Systems/1": ownedResource("/redfish/v1/Systems/1", "/redfish/v1/AggregationService/AggregationSources/agent-1"),
	}}
	r := New(store, "/redfish/v1")

	// Creating under /redfish/v1/Systems/1/Processors: the router starts
	// its walk from that collection's own parent (/redfish/v1/Systems/1),
	// not from the collection path itself.
	agent, ok, err := r.Resolve(context.Background(), "/redfish/v1/Systems/1/Processors", VerbCreate)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || agent != "/redfish/v1/AggregationService/AggregationSources/agent-1" {
		t.Fatalf("Resolve(CREATE) = (%q, %v), want the owning agent", agent, ok)
	}
}

func TestResolveNoOwnershipStampIsLocal(t *testing.T) {
	store := &fakeStore{docs: map[string]models.Resource{
		"/redfish/v1/AggregationService/AggregationSources/1": {"@odata.id": "/redfish/v1/AggregationService/AggregationSources/1"},
	}}
	r := New(store, "/redfish/v1")

	_, ok, err := r.Resolve(context.Background(), "/redfish/v1/AggregationService/AggregationSources/1", VerbPatch)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatalf("a resource with no ownership stamp should resolve as locally managed")
	}
}
