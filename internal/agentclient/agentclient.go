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

// Package agentclient issues southbound requests against the agent that
// owns a resource. It performs no retries: failures are surfaced to the
// caller as a single AgentForwardingFailure, and the caller decides whether
// to retry, fail the northbound request, or absorb the error.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sunfish/internal/metrics"
	"sunfish/pkg/aggerrors"
	"sunfish/pkg/crypto"
	"sunfish/pkg/models"
)

// Client issues GET/POST/PATCH/PUT/DELETE requests against an agent's
// HostName, decrypting stored credentials on demand.
type Client struct {
	hc        *http.Client
	encryptor *crypto.Encryptor // nil if no encryption key is configured
}

// New constructs an agent client with the given per-request timeout. If
// encryptor is nil, AggregationSource.Password is used as plaintext.
func New(timeout time.Duration, encryptor *crypto.Encryptor) *Client {
	return &Client{
		hc:        &http.Client{Timeout: timeout},
		encryptor: encryptor,
	}
}

// Get issues a GET for path against the agent described by source and
// decodes the JSON response into a Resource.
func (c *Client) Get(ctx context.Context, source models.AggregationSource, path string) (models.Resource, error) {
	var res models.Resource
	_, err := c.do(ctx, source, http.MethodGet, path, nil, &res)
	return res, err
}

// Create issues a POST for path with body against the agent.
func (c *Client) Create(ctx context.Context, source models.AggregationSource, path string, body models.Resource) error {
	_, err := c.do(ctx, source, http.MethodPost, path, body, nil)
	return err
}

// Replace issues a PATCH for path with body, per the wire convention that
// REPLACE is carried as PATCH against agents.
func (c *Client) Replace(ctx context.Context, source models.AggregationSource, path string, body models.Resource) error {
	_, err := c.do(ctx, source, http.MethodPatch, path, body, nil)
	return err
}

// Patch issues a PATCH for path with the partial body.
func (c *Client) Patch(ctx context.Context, source models.AggregationSource, path string, body models.Resource) error {
	_, err := c.do(ctx, source, http.MethodPatch, path, body, nil)
	return err
}

// Delete issues a DELETE for path against the agent.
func (c *Client) Delete(ctx context.Context, source models.AggregationSource, path string) error {
	_, err := c.do(ctx, source, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, source models.AggregationSource, method, path string, body models.Resource, out *models.Resource) (int, error) {
	target, err := joinURL(source.HostName, path)
	if err != nil {
		return 0, &aggerrors.AgentForwardingFailure{Operation: method, Reason: "invalid agent endpoint: " + err.Error()}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, &aggerrors.AgentForwardingFailure{Operation: method, Reason: "encode request body: " + err.Error()}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, &aggerrors.AgentForwardingFailure{Operation: method, Reason: "build request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if source.UserName != "" {
		password, err := c.credential(source.Password)
		if err != nil {
			return 0, &aggerrors.AgentForwardingFailure{Operation: method, Reason: "decrypt credential: " + err.Error()}
		}
		req.SetBasicAuth(source.UserName, password)
	}

	slog.Debug("agent request", "method", method, "target", target, "user", source.UserName, "password", crypto.RedactSecret(source.Password))

	start := time.Now()
	resp, err := c.hc.Do(req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAgentRequest(methodToOp(method), -1, duration)
		return 0, &aggerrors.AgentForwardingFailure{Operation: method, Reason: err.Error()}
	}
	defer resp.Body.Close()

	metrics.ObserveAgentRequest(methodToOp(method), resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &aggerrors.AgentForwardingFailure{
			Operation:  method,
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(raw)),
		}
	}

	if out != nil {
		if resp.StatusCode == http.StatusNoContent {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, &aggerrors.AgentForwardingFailure{Operation: method, Reason: "decode response: " + err.Error()}
		}
	}
	return resp.StatusCode, nil
}

// FetchBootstrap issues an unauthenticated GET against hostName+path,
// used to read a ConnectionMethod before an AggregationSource (and hence
// credentials) exist for that agent.
func (c *Client) FetchBootstrap(ctx context.Context, hostName, path string) (models.Resource, error) {
	var res models.Resource
	_, err := c.do(ctx, models.AggregationSource{HostName: hostName}, http.MethodGet, path, nil, &res)
	return res, err
}

// BindSubscription PATCHes the well-known SunfishServer subscription on the
// agent to bind its Context to agentID, per the southbound contract.
func (c *Client) BindSubscription(ctx context.Context, hostName, agentID string) error {
	source := models.AggregationSource{HostName: hostName}
	_, err := c.do(ctx, source, http.MethodPatch, "/redfish/v1/EventService/Subscriptions/SunfishServer", models.Resource{"Context": agentID}, nil)
	return err
}

func (c *Client) credential(stored string) (string, error) {
	if stored == "" || c.encryptor == nil {
		return stored, nil
	}
	if !crypto.IsEncrypted(stored) {
		return stored, nil
	}
	return c.encryptor.Decrypt(stored)
}

func joinURL(hostName, path string) (string, error) {
	base, err := url.Parse(hostName)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(rel).String(), nil
}

func methodToOp(method string) string {
	switch method {
	case http.MethodGet:
		return metrics.OpGet
	case http.MethodPost:
		return metrics.OpCreate
	case http.MethodPut:
		return metrics.OpReplace
	case http.MethodPatch:
		return metrics.OpPatch
	case http.MethodDelete:
		return metrics.OpDelete
	default:
		return strings.ToLower(method)
	}
}

// Marshal encodes a Resource as a JSON string, exposed for callers that
// need to log or replay the payload sent to an agent (e.g. BFS ingestion
// diagnostics).
func Marshal(obj models.Resource) (string, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("agentclient: encode: %w", err)
	}
	return string(b), nil
}
