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

package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sunfish/internal/alias"
	"sunfish/internal/bfs"
	"sunfish/internal/eventhandler"
	"sunfish/internal/forwarder"
	"sunfish/internal/objecthandler"
	"sunfish/internal/router"
	"sunfish/internal/subscription"
	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
)

// fakeStore backs every narrow Store interface the façade and its
// dependents need, so one map can drive a fully-wired Facade in tests.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]models.Resource
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]models.Resource{}}
}

func (f *fakeStore) Read(_ context.Context, path string) (models.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.docs[path]
	if !ok {
		return nil, &aggerrors.ResourceNotFound{Path: path}
	}
	return obj.Clone(), nil
}

func (f *fakeStore) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[path]
	return ok, nil
}

func (f *fakeStore) Write(_ context.Context, obj models.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := obj.ODataID()
	if _, ok := f.docs[path]; ok {
		return &aggerrors.AlreadyExists{Path: path}
	}
	f.docs[path] = obj.Clone()
	return nil
}

func (f *fakeStore) Replace(_ context.Context, obj models.Resource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := obj.ODataID()
	if _, ok := f.docs[path]; !ok {
		return &aggerrors.ResourceNotFound{Path: path}
	}
	f.docs[path] = obj.Clone()
	return nil
}

func (f *fakeStore) Patch(_ context.Context, path string, partial models.Resource) (models.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.docs[path]
	if !ok {
		return nil, &aggerrors.ResourceNotFound{Path: path}
	}
	for k, v := range partial {
		obj[k] = v
	}
	f.docs[path] = obj
	return obj.Clone(), nil
}

func (f *fakeStore) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[path]; !ok {
		return &aggerrors.ResourceNotFound{Path: path}
	}
	delete(f.docs, path)
	return nil
}

func (f *fakeStore) All(_ context.Context) ([]models.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Resource, 0, len(f.docs))
	for _, v := range f.docs {
		out = append(out, v.Clone())
	}
	return out, nil
}

// fakeAgent implements aggregator.AgentForwarder, bfs.AgentFetcher and
// eventhandler.AgentBinder, mirroring the real client's one-type-many-roles
// shape, and records every call it receives.
type fakeAgent struct {
	mu      sync.Mutex
	created []string
	replaced []string
	patched []string
	deleted []string
	failNext error
}

func (a *fakeAgent) Create(_ context.Context, _ models.AggregationSource, path string, _ models.Resource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return err
	}
	a.created = append(a.created, path)
	return nil
}

func (a *fakeAgent) Replace(_ context.Context, _ models.AggregationSource, path string, _ models.Resource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replaced = append(a.replaced, path)
	return nil
}

func (a *fakeAgent) Patch(_ context.Context, _ models.AggregationSource, path string, _ models.Resource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patched = append(a.patched, path)
	return nil
}

func (a *fakeAgent) Delete(_ context.Context, _ models.AggregationSource, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, path)
	return nil
}

func (a *fakeAgent) Get(_ context.Context, _ models.AggregationSource, _ string) (models.Resource, error) {
	return models.Resource{}, nil
}

func (a *fakeAgent) FetchBootstrap(_ context.Context, _, _ string) (models.Resource, error) {
	return models.Resource{}, nil
}

func (a *fakeAgent) BindSubscription(_ context.Context, _, _ string) error {
	return nil
}

func newFacade(t *testing.T, store *fakeStore, agent *fakeAgent) *Facade {
	t.Helper()
	reg, err := alias.Open(context.Background(), store, 64)
	if err != nil {
		t.Fatalf("alias.Open: %v", err)
	}
	rtr := router.New(store, "/redfish/v1")
	ingestor := bfs.New(store, reg, agent)
	objects := objecthandler.New(subscription.New())
	subs := subscription.New()
	fwd := forwarder.New(subs, 5*time.Second)
	events := eventhandler.New(store, ingestor, agent, subs, fwd, "/redfish/v1")
	return New(store, rtr, agent, reg, objects, subs, events, fwd, "/redfish/v1")
}

func TestCreateAssignsIDAndPersistsLocally(t *testing.T) {
	store := newFakeStore()
	store.docs["/redfish/v1/Systems"] = models.Resource{"@odata.id": "/redfish/v1/Systems", "Members": []any{}}
	agent := &fakeAgent{}
	f := newFacade(t, store, agent)

	payload := models.Resource{"@odata.type": "#ComputerSystem.v1_0_0.ComputerSystem", "Name": "sys"}
	created, err := f.Create(context.Background(), "/redfish/v1/Systems", payload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID() == "" {
		t.Fatalf("Create did not assign an Id")
	}
	if _, ok := store.docs[created.ODataID()]; !ok {
		t.Fatalf("created resource was not persisted")
	}
	if len(agent.created) != 0 {
		t.Fatalf("an unmanaged parent collection should never forward Create to an agent, got %v", agent.created)
	}
}

func TestCreateRejectsMissingODataType(t *testing.T) {
	store := newFakeStore()
	f := newFacade(t, store, &fakeAgent{})
	_, err := f.Create(context.Background(), "/redfish/v1/Systems", models.Resource{"Name": "no type"})
	var invalid *aggerrors.InvalidPayload
	if !errorsAs(err, &invalid) {
		t.Fatalf("expected *aggerrors.InvalidPayload, got %v", err)
	}
}

func TestCreateRejectsCollectionPayload(t *testing.T) {
	store := newFakeStore()
	f := newFacade(t, store, &fakeAgent{})
	_, err := f.Create(context.Background(), "/redfish/v1/Systems", models.Resource{"@odata.type": "#ComputerSystemCollection.ComputerSystemCollection"})
	var unsupported *aggerrors.CollectionNotSupported
	if !errorsAs(err, &unsupported) {
		t.Fatalf("expected *aggerrors.CollectionNotSupported, got %v", err)
	}
}

func TestCreateForwardsToManagingAgent(t *testing.T) {
	store := newFakeStore()
	agentID := "/redfish/v1/AggregationService/AggregationSources/agent-1"
	store.docs[agentID] = models.Resource{"@odata.id": agentID, "HostName": "https://agent1.example"}
	// Top-level collections are never agent-managed, so ownership sits on
	// the singleton that contains the target collection.
	system := models.Resource{"@odata.id": "/redfish/v1/Systems/1", "@odata.type": "#ComputerSystem.v1_0_0.ComputerSystem"}
	system.SetOwnershipStamp(models.OwnershipStamp{ManagingAgent: models.ODataIDRef{ODataID: agentID}, BoundaryComponent: models.BoundaryOwned})
	store.docs["/redfish/v1/Systems/1"] = system

	agent := &fakeAgent{}
	f := newFacade(t, store, agent)

	payload := models.Resource{"@odata.type": "#Processor.v1_0_0.Processor", "Name": "cpu"}
	if _, err := f.Create(context.Background(), "/redfish/v1/Systems/1/Processors", payload); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(agent.created) != 1 {
		t.Fatalf("expected Create to be forwarded to the managing agent exactly once, got %v", agent.created)
	}
}

func TestReplacePatchDeleteRoundTrip(t *testing.T) {
	store := newFakeStore()
	store.docs["/redfish/v1/Systems/1"] = models.Resource{"@odata.id": "/redfish/v1/Systems/1", "Name": "sys"}
	agent := &fakeAgent{}
	f := newFacade(t, store, agent)

	replaced, err := f.Replace(context.Background(), "/redfish/v1/Systems/1", models.Resource{"Name": "renamed"})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if replaced["Name"] != "renamed" {
		t.Fatalf("Replace result = %v", replaced)
	}

	patched, err := f.Patch(context.Background(), "/redfish/v1/Systems/1", models.Resource{"PowerState": "On"})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if patched["PowerState"] != "On" || patched["Name"] != "renamed" {
		t.Fatalf("Patch result = %v", patched)
	}

	if err := f.Delete(context.Background(), "/redfish/v1/Systems/1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Read(context.Background(), "/redfish/v1/Systems/1"); err == nil {
		t.Fatalf("expected resource to be removed after Delete")
	}
}

func TestHandleEventFansOutNonBuiltinToSubscribers(t *testing.T) {
	reachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer reachable.Close()

	store := newFakeStore()
	store.docs["/redfish/v1/Systems/1"] = models.Resource{"@odata.id": "/redfish/v1/Systems/1", "@odata.type": "#ComputerSystem.v1_0_0.ComputerSystem"}
	f := newFacade(t, store, &fakeAgent{})
	if err := f.subs.Index(models.EventDestination{ID: "sub1", Destination: reachable.URL, OriginResources: []string{"/redfish/v1/Systems/1"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := f.subs.Index(models.EventDestination{ID: "sub2", Destination: "https://unreachable.invalid", OriginResources: []string{"/redfish/v1/Systems/1"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	env := forwarder.Envelope{Events: []forwarder.Event{{
		MessageID:         "Base.1.0.ResourceUpdated",
		OriginOfCondition: &forwarder.OriginRef{ODataID: "/redfish/v1/Systems/1"},
	}}}
	notified, err := f.HandleEvent(context.Background(), env)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	// sub2's destination never resolves; HandleEvent absorbs that delivery
	// failure and reports only the subscriber actually notified.
	if len(notified) != 1 || notified[0] != "sub1" {
		t.Fatalf("notified = %v, want [sub1]", notified)
	}
}

func errorsAs[T error](err error, target *T) bool {
	v, ok := err.(T)
	if ok {
		*target = v
	}
	return ok
}
