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

// Package eventhandler implements the Event Handler Table: the dispatch of
// built-in event message ids to their side effects on the resource store,
// the BFS ingestor and the subscription index.
package eventhandler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"sunfish/internal/bfs"
	"sunfish/internal/forwarder"
	"sunfish/internal/subscription"
	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
)

// Store is the subset of the resource store handlers need.
type Store interface {
	Read(ctx context.Context, path string) (models.Resource, error)
	Write(ctx context.Context, obj models.Resource) error
	Remove(ctx context.Context, path string) error
	Patch(ctx context.Context, path string, partial models.Resource) (models.Resource, error)
}

// AgentBinder issues the bootstrap GET and subscription-binding PATCH used
// when a new agent is discovered.
type AgentBinder interface {
	FetchBootstrap(ctx context.Context, hostName, path string) (models.Resource, error)
	BindSubscription(ctx context.Context, hostName, agentID string) error
}

// Table dispatches built-in event message ids to their handlers.
type Table struct {
	store       Store
	ingestor    *bfs.Ingestor
	agents      AgentBinder
	subs        *subscription.Index
	fwd         *forwarder.Forwarder
	redfishRoot string
}

// New constructs the built-in Event Handler Table.
func New(store Store, ingestor *bfs.Ingestor, agents AgentBinder, subs *subscription.Index, fwd *forwarder.Forwarder, redfishRoot string) *Table {
	return &Table{store: store, ingestor: ingestor, agents: agents, subs: subs, fwd: fwd, redfishRoot: strings.TrimSuffix(redfishRoot, "/")}
}

// Dispatch routes one event to its handler by the suffix of MessageId
// (the portion after the last '.'). An unknown id is ignored with a debug
// log, per the design note that handler absence is not an error.
func (t *Table) Dispatch(ctx context.Context, eventContext string, event forwarder.Event) error {
	name := messageName(event.MessageID)
	switch name {
	case "AggregationSourceDiscovered":
		return t.handleAggregationSourceDiscovered(ctx, event)
	case "ResourceCreated":
		return t.handleResourceCreated(ctx, eventContext, event)
	case "ClearResources":
		return t.handleClearResources(ctx, eventContext)
	case "TriggerEvent":
		return t.handleTriggerEvent(ctx, eventContext, event)
	default:
		slog.Debug("eventhandler: no handler registered", "messageId", event.MessageID)
		return nil
	}
}

func (t *Table) handleAggregationSourceDiscovered(ctx context.Context, event forwarder.Event) error {
	if len(event.MessageArgs) < 2 {
		return &aggerrors.PropertyNotFound{Attribute: "MessageArgs"}
	}
	if event.OriginOfCondition == nil || event.OriginOfCondition.ODataID == "" {
		return &aggerrors.PropertyNotFound{Attribute: "OriginOfCondition"}
	}
	protocol := event.MessageArgs[0]
	hostName := event.MessageArgs[1]

	connMethod, err := t.agents.FetchBootstrap(ctx, hostName, event.OriginOfCondition.ODataID)
	if err != nil {
		return err
	}

	agentUUID := uuid.New().String()
	agentID := t.redfishRoot + "/AggregationService/AggregationSources/" + agentUUID
	name, _ := connMethod["Name"].(string)
	if name == "" {
		name = "Agent " + agentUUID
	}

	source := models.Resource{
		"@odata.id":   agentID,
		"@odata.type": "#AggregationSource.v1_3_1.AggregationSource",
		"Id":          agentUUID,
		"Name":        name,
		"HostName":    hostName,
		"Links":       map[string]any{"ResourcesAccessed": []any{}},
	}
	if protocol != "" {
		source["Oem"] = map[string]any{"Sunfish_RM": map[string]any{"Protocol": protocol}}
	}
	if err := t.store.Write(ctx, source); err != nil {
		return err
	}

	if err := t.agents.BindSubscription(ctx, hostName, agentID); err != nil {
		slog.Warn("eventhandler: subscription binding failed", "agent", agentID, "error", err)
	}
	return nil
}

func (t *Table) handleResourceCreated(ctx context.Context, eventContext string, event forwarder.Event) error {
	if eventContext == "" {
		return &aggerrors.PropertyNotFound{Attribute: "Context"}
	}
	if event.OriginOfCondition == nil || event.OriginOfCondition.ODataID == "" {
		return &aggerrors.PropertyNotFound{Attribute: "OriginOfCondition"}
	}
	return t.ingestor.Ingest(ctx, eventContext, event.OriginOfCondition.ODataID)
}

func (t *Table) handleClearResources(ctx context.Context, eventContext string) error {
	if eventContext == "" {
		return &aggerrors.PropertyNotFound{Attribute: "Context"}
	}
	agentRes, err := t.store.Read(ctx, eventContext)
	if err != nil {
		return err
	}
	links, _ := agentRes["Links"].(map[string]any)
	accessedRaw, _ := links["ResourcesAccessed"].([]any)
	for _, a := range accessedRaw {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		path, _ := m["@odata.id"].(string)
		if path == "" {
			continue
		}
		if err := t.store.Remove(ctx, path); err != nil {
			slog.Warn("eventhandler: clear resources: remove failed", "path", path, "error", err)
		}
	}
	_, err = t.store.Patch(ctx, eventContext, models.Resource{"Links": map[string]any{"ResourcesAccessed": []any{}}})
	return err
}

// handleTriggerEvent forwards a manually-triggered event to a single named
// subscriber. When eventContext is the literal "None", the subscriber is
// identified by its Destination (carried as MessageArgs[0]) rather than by
// subscriber id, and the outgoing envelope's Context is recovered from that
// subscriber's own stored Context.
func (t *Table) handleTriggerEvent(ctx context.Context, eventContext string, event forwarder.Event) error {
	var subscriberID string
	var ok bool

	if eventContext == "None" {
		if len(event.MessageArgs) < 1 {
			return &aggerrors.PropertyNotFound{Attribute: "MessageArgs"}
		}
		subscriberID, ok = t.subs.FindByDestination(event.MessageArgs[0])
	} else {
		subscriberID, ok = t.subs.FindByContext(eventContext)
	}
	if !ok {
		return &aggerrors.DestinationError{SubscriberID: subscriberID, Reason: "no matching subscription"}
	}

	dest, _ := t.subs.Destination(subscriberID)
	env := forwarder.Envelope{
		ODataType: "#Event.v1_7_0.Event",
		Context:   dest.Context,
		Events:    []forwarder.Event{event},
	}
	if !t.fwd.ForwardToSubscriber(ctx, subscriberID, env) {
		return &aggerrors.DestinationError{SubscriberID: subscriberID, Reason: "delivery failed"}
	}
	return nil
}

func messageName(messageID string) string {
	parts := strings.Split(messageID, ".")
	return parts[len(parts)-1]
}

// IsBuiltin reports whether messageID names one of the Event Handler
// Table's built-in handlers, used by the Core Façade to distinguish system
// control events (routed here) from general events (fanned out to
// subscribers directly).
func IsBuiltin(messageID string) bool {
	switch messageName(messageID) {
	case "AggregationSourceDiscovered", "ResourceCreated", "ClearResources", "TriggerEvent":
		return true
	default:
		return false
	}
}
