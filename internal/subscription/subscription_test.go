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

package subscription

import (
	"context"
	"testing"

	"sunfish/pkg/models"
)

func TestIndexAndMatchByMessageID(t *testing.T) {
	idx := New()
	dest := models.EventDestination{ID: "sub1", Destination: "https://sub.example/events", MessageIds: []string{"Base.1.0.ResourceCreated"}}
	if err := idx.Index(dest); err != nil {
		t.Fatalf("Index: %v", err)
	}

	matches := idx.Match("Base.1.0.ResourceCreated", "", "")
	if len(matches) != 1 || matches[0] != "sub1" {
		t.Fatalf("Match = %v, want [sub1]", matches)
	}

	if got := idx.Match("Base.1.0.ResourceRemoved", "", ""); len(got) != 0 {
		t.Fatalf("Match for unrelated message id = %v, want none", got)
	}
}

func TestMatchByRegistryPrefix(t *testing.T) {
	idx := New()
	dest := models.EventDestination{ID: "sub1", Destination: "https://sub.example", RegistryPrefixes: []string{"Base"}}
	if err := idx.Index(dest); err != nil {
		t.Fatalf("Index: %v", err)
	}
	matches := idx.Match("Base.1.0.SomeEvent", "", "")
	if len(matches) != 1 || matches[0] != "sub1" {
		t.Fatalf("Match = %v, want [sub1]", matches)
	}
}

func TestExcludeMessageIDWins(t *testing.T) {
	idx := New()
	dest := models.EventDestination{
		ID:                "sub1",
		Destination:       "https://sub.example",
		RegistryPrefixes:  []string{"Base"},
		ExcludeMessageIds: []string{"Base.1.0.Noisy"},
	}
	if err := idx.Index(dest); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got := idx.Match("Base.1.0.Noisy", "", ""); len(got) != 0 {
		t.Fatalf("excluded message id should not match, got %v", got)
	}
	if got := idx.Match("Base.1.0.Other", "", ""); len(got) != 1 {
		t.Fatalf("unrelated message id under the same prefix should still match, got %v", got)
	}
}

func TestMatchByOriginAndSubordinateWildcard(t *testing.T) {
	idx := New()
	dest := models.EventDestination{
		ID:                   "sub1",
		Destination:          "https://sub.example",
		OriginResources:      []string{"/redfish/v1/Systems/1"},
		SubordinateResources: true,
	}
	if err := idx.Index(dest); err != nil {
		t.Fatalf("Index: %v", err)
	}
	matches := idx.Match("Base.1.0.SomeEvent", "", "/redfish/v1/Systems/1/Processors/1")
	if len(matches) != 1 || matches[0] != "sub1" {
		t.Fatalf("Match under subordinate origin = %v, want [sub1]", matches)
	}
	if got := idx.Match("Base.1.0.SomeEvent", "", "/redfish/v1/Chassis/1"); len(got) != 0 {
		t.Fatalf("unrelated origin should not match, got %v", got)
	}
}

func TestValidateRejectsOverlappingIncludeExclude(t *testing.T) {
	dest := models.EventDestination{
		ID:                 "sub1",
		RegistryPrefixes:   []string{"Base"},
		ExcludeRegistryPfx: []string{"Base"},
	}
	if err := Validate(dest); err == nil {
		t.Fatalf("expected Validate to reject a prefix that is both included and excluded")
	}
}

func TestIndexRejectsMissingID(t *testing.T) {
	idx := New()
	err := idx.Index(models.EventDestination{Destination: "https://sub.example"})
	if err == nil {
		t.Fatalf("expected error for subscription without an Id")
	}
	if idx.Count() != 0 {
		t.Fatalf("Count = %d, subscription without an Id should still not be indexed as a usable entry", idx.Count())
	}
}

func TestDeleteRemovesFromEveryBucket(t *testing.T) {
	idx := New()
	dest := models.EventDestination{ID: "sub1", MessageIds: []string{"Base.1.0.Foo"}, RegistryPrefixes: []string{"Base"}}
	if err := idx.Index(dest); err != nil {
		t.Fatalf("Index: %v", err)
	}
	idx.Delete("sub1")
	if idx.Count() != 0 {
		t.Fatalf("Count = %d after delete, want 0", idx.Count())
	}
	if got := idx.Match("Base.1.0.Foo", "", ""); len(got) != 0 {
		t.Fatalf("deleted subscription should not match anymore, got %v", got)
	}
}

func TestFindByContextAndDestination(t *testing.T) {
	idx := New()
	dest := models.EventDestination{ID: "sub1", Destination: "https://sub.example/events", Context: "agent-1"}
	if err := idx.Index(dest); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if id, ok := idx.FindByContext("agent-1"); !ok || id != "sub1" {
		t.Fatalf("FindByContext = (%q, %v), want (sub1, true)", id, ok)
	}
	if id, ok := idx.FindByDestination("https://sub.example/events"); !ok || id != "sub1" {
		t.Fatalf("FindByDestination = (%q, %v), want (sub1, true)", id, ok)
	}
}

func TestRebuildScansEventDestinations(t *testing.T) {
	resources := []models.Resource{
		{"@odata.id": "/redfish/v1/EventService/Subscriptions/sub1", "@odata.type": "#EventDestination.v1_8_0.EventDestination", "Id": "sub1", "Destination": "https://sub.example", "MessageIds": []any{"Base.1.0.Foo"}},
		{"@odata.id": "/redfish/v1/Systems/1", "@odata.type": "#ComputerSystem.v1_0_0.ComputerSystem", "Id": "1"},
	}
	idx := Rebuild(context.Background(), resources)
	if idx.Count() != 1 {
		t.Fatalf("Count = %d, want 1 (only the EventDestination resource)", idx.Count())
	}
	if got := idx.Match("Base.1.0.Foo", "", ""); len(got) != 1 || got[0] != "sub1" {
		t.Fatalf("rebuilt index did not match expected subscriber, got %v", got)
	}
}
