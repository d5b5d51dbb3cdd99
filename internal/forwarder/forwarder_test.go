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

package forwarder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sunfish/internal/subscription"
	"sunfish/pkg/models"
)

func TestForwardDeliversToMatchingSubscriber(t *testing.T) {
	var mu sync.Mutex
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx := subscription.New()
	if err := idx.Index(models.EventDestination{ID: "sub1", Destination: srv.URL, MessageIds: []string{"Base.1.0.ResourceCreated"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	f := New(idx, 5*time.Second)

	env := Envelope{ODataType: "#Event.v1_7_0.Event", Events: []Event{{MessageID: "Base.1.0.ResourceCreated"}}}
	notified := f.Forward(context.Background(), env, "Base.1.0.ResourceCreated", "", "")
	if len(notified) != 1 || notified[0] != "sub1" {
		t.Fatalf("Forward = %v, want [sub1]", notified)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotBody == "" {
		t.Fatalf("subscriber never received a body")
	}
}

func TestForwardDropsFailingSubscriberWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	idx := subscription.New()
	if err := idx.Index(models.EventDestination{ID: "sub1", Destination: srv.URL, MessageIds: []string{"Base.1.0.Foo"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	f := New(idx, 5*time.Second)

	env := Envelope{Events: []Event{{MessageID: "Base.1.0.Foo"}}}
	notified := f.Forward(context.Background(), env, "Base.1.0.Foo", "", "")
	if len(notified) != 0 {
		t.Fatalf("Forward = %v, want no successful deliveries for a failing subscriber", notified)
	}
}

func TestForwardToSubscriberBypassesMatching(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	idx := subscription.New()
	if err := idx.Index(models.EventDestination{ID: "sub1", Destination: srv.URL}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	f := New(idx, 5*time.Second)

	ok := f.ForwardToSubscriber(context.Background(), "sub1", Envelope{Events: []Event{{MessageID: "Whatever"}}})
	if !ok {
		t.Fatalf("ForwardToSubscriber = false, want true")
	}
	if !called {
		t.Fatalf("subscriber was never called")
	}
}

func TestForwardToSubscriberUnknownIDFails(t *testing.T) {
	idx := subscription.New()
	f := New(idx, 5*time.Second)
	if f.ForwardToSubscriber(context.Background(), "no-such-sub", Envelope{}) {
		t.Fatalf("expected ForwardToSubscriber to fail for an unknown subscriber id")
	}
}
