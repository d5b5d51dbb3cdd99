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

package alias

import (
	"context"
	"sync"
	"testing"

	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
)

// memStore is a minimal in-memory Store stand-in, sufficient for exercising
// the registry's persistence round trip without a real resource store.
type memStore struct {
	mu   sync.Mutex
	docs map[string]models.Resource
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]models.Resource{}}
}

func (m *memStore) Read(_ context.Context, path string) (models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.docs[path]
	if !ok {
		return nil, &aggerrors.ResourceNotFound{Path: path}
	}
	return obj, nil
}

func (m *memStore) Write(_ context.Context, obj models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := obj.ODataID()
	if _, ok := m.docs[path]; ok {
		return &aggerrors.AlreadyExists{Path: path}
	}
	m.docs[path] = obj
	return nil
}

func (m *memStore) Replace(_ context.Context, obj models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := obj.ODataID()
	if _, ok := m.docs[path]; !ok {
		return &aggerrors.ResourceNotFound{Path: path}
	}
	m.docs[path] = obj
	return nil
}

func (m *memStore) All(_ context.Context) ([]models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Resource, 0, len(m.docs))
	for _, v := range m.docs {
		out = append(out, v)
	}
	return out, nil
}

func TestRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := reg.Record(ctx, "agent-1", "/redfish/v1/Systems/1", "/redfish/v1/Systems/abc"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	canonical, ok := reg.Lookup("agent-1", "/redfish/v1/Systems/1")
	if !ok || canonical != "/redfish/v1/Systems/abc" {
		t.Fatalf("Lookup = (%q, %v), want (/redfish/v1/Systems/abc, true)", canonical, ok)
	}

	if _, ok := reg.Lookup("agent-1", "/redfish/v1/Systems/unknown"); ok {
		t.Fatalf("Lookup should miss for an unrecorded agent URI")
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.Record(ctx, "agent-1", "/a", "/canon/1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := reg.Record(ctx, "agent-1", "/a", "/canon/1"); err != nil {
		t.Fatalf("Record (repeat): %v", err)
	}
	peers := reg.CanonicalAgentURIs("/canon/1")
	if len(peers) != 1 {
		t.Fatalf("CanonicalAgentURIs = %v, want exactly one entry after idempotent re-record", peers)
	}
}

func TestAgentAliasesAndReverse(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.Record(ctx, "agent-1", "/a", "/canon/1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := reg.Record(ctx, "agent-1", "/b", "/canon/2"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	forward := reg.AgentAliases("agent-1")
	if forward["/a"] != "/canon/1" || forward["/b"] != "/canon/2" {
		t.Fatalf("AgentAliases = %v", forward)
	}

	reverse := reg.ReverseAgentAliases("agent-1")
	if reverse["/canon/1"] != "/a" || reverse["/canon/2"] != "/b" {
		t.Fatalf("ReverseAgentAliases = %v", reverse)
	}
}

func TestBoundaryPortLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	port := BoundaryPort{LocalPortId: "Port1"}
	if err := reg.RecordBoundaryPort(ctx, "agent-1", "/canon/port/1", port); err != nil {
		t.Fatalf("RecordBoundaryPort: %v", err)
	}

	if err := reg.SetPeerPortURI(ctx, "agent-1", "/canon/port/1", "/canon/port/2"); err != nil {
		t.Fatalf("SetPeerPortURI: %v", err)
	}

	all := reg.AllBoundaryPorts()
	if len(all) != 1 || all[0].Port.PeerPortURI != "/canon/port/2" {
		t.Fatalf("AllBoundaryPorts = %+v", all)
	}

	if err := reg.UpdateBoundaryPort(ctx, "agent-1", "/canon/port/1", func(p *BoundaryPort) {
		p.AgentPeerSwitchURI = "/agent/switch/1"
	}); err != nil {
		t.Fatalf("UpdateBoundaryPort: %v", err)
	}
	all = reg.AllBoundaryPorts()
	if all[0].Port.AgentPeerSwitchURI != "/agent/switch/1" {
		t.Fatalf("UpdateBoundaryPort did not apply mutation: %+v", all[0])
	}
}

func TestSetPeerPortURIUnknownAgent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.SetPeerPortURI(ctx, "no-such-agent", "/x", "/y"); err == nil {
		t.Fatalf("expected error for unknown agent")
	}
}

func TestOpenRecoversFromPersistedDocument(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.Record(ctx, "agent-1", "/a", "/canon/1"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	reopened, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	canonical, ok := reopened.Lookup("agent-1", "/a")
	if !ok || canonical != "/canon/1" {
		t.Fatalf("Lookup after reopen = (%q, %v), want (/canon/1, true)", canonical, ok)
	}
}

func TestOpenRebuildsFromOwnershipStampsWhenNothingPersisted(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.docs["/redfish/v1/Systems/1"] = models.Resource{
		"@odata.id": "/redfish/v1/Systems/1",
		"Oem": map[string]any{
			"Sunfish_RM": map[string]any{
				"ManagingAgent": map[string]any{"@odata.id": "/redfish/v1/AggregationService/AggregationSources/agent-1"},
			},
		},
	}

	reg, err := Open(ctx, st, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := reg.doc.SunfishXrefURIs.Aliases["/redfish/v1/Systems/1"]; !ok {
		t.Fatalf("rebuild should have registered the canonical URI found via an ownership stamp")
	}
}
