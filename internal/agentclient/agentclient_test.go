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

package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sunfish/pkg/aggerrors"
	"sunfish/pkg/crypto"
	"sunfish/pkg/models"
)

func TestGetDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/redfish/v1/Systems/1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"Id": "1"})
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	source := models.AggregationSource{HostName: srv.URL}
	res, err := c.Get(context.Background(), source, "/redfish/v1/Systems/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.ID() != "1" {
		t.Fatalf("Id = %q, want 1", res.ID())
	}
}

func TestCreateSendsBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	source := models.AggregationSource{HostName: srv.URL, UserName: "admin", Password: "hunter2"}
	err := c.Create(context.Background(), source, "/redfish/v1/Systems", models.Resource{"Id": "2"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if gotUser != "admin" || gotPass != "hunter2" {
		t.Fatalf("BasicAuth = (%q, %q), want (admin, hunter2)", gotUser, gotPass)
	}
	if gotBody["Id"] != "2" {
		t.Fatalf("request body = %v", gotBody)
	}
}

func TestCredentialDecryptsWhenEncrypted(t *testing.T) {
	enc, err := crypto.NewEncryptor("passphrase")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	ciphertext, err := enc.Encrypt("s3cret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(5*time.Second, enc)
	source := models.AggregationSource{HostName: srv.URL, UserName: "admin", Password: ciphertext}
	if err := c.Replace(context.Background(), source, "/redfish/v1/Systems/1", models.Resource{"PowerState": "On"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if gotPass != "s3cret" {
		t.Fatalf("decrypted password = %q, want s3cret", gotPass)
	}
}

func TestNonSuccessStatusReturnsAgentForwardingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("agent exploded"))
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	source := models.AggregationSource{HostName: srv.URL}
	err := c.Delete(context.Background(), source, "/redfish/v1/Systems/1")
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
	var failure *aggerrors.AgentForwardingFailure
	if !asFailure(err, &failure) {
		t.Fatalf("error = %v, want *aggerrors.AgentForwardingFailure", err)
	}
	if failure.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want 500", failure.StatusCode)
	}
}

func TestFetchBootstrapIsUnauthenticated(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, _, ok := r.BasicAuth(); ok {
			t.Errorf("FetchBootstrap should not send credentials")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Id": "ConnectionMethod1"})
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	res, err := c.FetchBootstrap(context.Background(), srv.URL, "/redfish/v1/Oem/Sunfish/BootstrapDiscovery")
	if err != nil {
		t.Fatalf("FetchBootstrap: %v", err)
	}
	if !called {
		t.Fatalf("server was never called")
	}
	if res.ID() != "ConnectionMethod1" {
		t.Fatalf("Id = %q", res.ID())
	}
}

func TestBindSubscriptionPatchesWellKnownSubscription(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	if err := c.BindSubscription(context.Background(), srv.URL, "agent-1"); err != nil {
		t.Fatalf("BindSubscription: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/redfish/v1/EventService/Subscriptions/SunfishServer" {
		t.Fatalf("got %s %s, want PATCH /redfish/v1/EventService/Subscriptions/SunfishServer", gotMethod, gotPath)
	}
}

func asFailure(err error, target **aggerrors.AgentForwardingFailure) bool {
	f, ok := err.(*aggerrors.AgentForwardingFailure)
	if ok {
		*target = f
	}
	return ok
}
