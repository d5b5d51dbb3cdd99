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

// Package aggregator implements the Core Façade: the single entry point
// northbound HTTP handlers call for every resource CRUD operation and every
// inbound event, binding the resource store, alias registry, ownership
// router, agent client, object handler table and event pipeline into one
// write-path algorithm.
package aggregator

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"sunfish/internal/alias"
	"sunfish/internal/eventhandler"
	"sunfish/internal/forwarder"
	"sunfish/internal/objecthandler"
	"sunfish/internal/router"
	"sunfish/internal/subscription"
	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
	"sunfish/pkg/redfish"
)

// Store is the subset of the resource store the façade commits writes to.
type Store interface {
	Read(ctx context.Context, path string) (models.Resource, error)
	Write(ctx context.Context, obj models.Resource) error
	Replace(ctx context.Context, obj models.Resource) error
	Patch(ctx context.Context, path string, partial models.Resource) (models.Resource, error)
	Remove(ctx context.Context, path string) error
}

// AgentForwarder issues the southbound write a CREATE/REPLACE/PATCH/DELETE
// translates into once the Ownership Router names a managing agent.
type AgentForwarder interface {
	Create(ctx context.Context, source models.AggregationSource, path string, body models.Resource) error
	Replace(ctx context.Context, source models.AggregationSource, path string, body models.Resource) error
	Patch(ctx context.Context, source models.AggregationSource, path string, body models.Resource) error
	Delete(ctx context.Context, source models.AggregationSource, path string) error
}

// Facade is the Core Façade. It holds no request state: every call is
// independent. The locks taken while serving one (the resource store's write
// lock, the alias registry's lock and the subscription index's lock) are
// taken inside those components and released before the call returns.
type Facade struct {
	store       Store
	router      *router.Router
	agents      AgentForwarder
	aliases     *alias.Registry
	objects     *objecthandler.Table
	subs        *subscription.Index
	events      *eventhandler.Table
	fwd         *forwarder.Forwarder
	redfishRoot string
}

// New constructs a Core Façade wired to every component it delegates to.
func New(store Store, rtr *router.Router, agents AgentForwarder, aliases *alias.Registry, objects *objecthandler.Table, subs *subscription.Index, events *eventhandler.Table, fwd *forwarder.Forwarder, redfishRoot string) *Facade {
	return &Facade{
		store:       store,
		router:      rtr,
		agents:      agents,
		aliases:     aliases,
		objects:     objects,
		subs:        subs,
		events:      events,
		fwd:         fwd,
		redfishRoot: strings.TrimSuffix(redfishRoot, "/"),
	}
}

// Get reads the resource stored at path, with no agent round trip: the
// resource store is the complete view of the fabric, kept current by the
// discovery walk and event pipeline rather than by on-demand proxying.
func (f *Facade) Get(ctx context.Context, path string) (models.Resource, error) {
	return f.store.Read(ctx, path)
}

// Create assigns a canonical id to payload if it carries neither @odata.id
// nor Id, routes the write to the managing agent (if any) for
// parentCollectionPath, dispatches the object handler hook, and commits the
// result to the resource store.
func (f *Facade) Create(ctx context.Context, parentCollectionPath string, payload models.Resource) (models.Resource, error) {
	odataType := payload.ODataType()
	if odataType == "" {
		return nil, &aggerrors.InvalidPayload{Reason: "missing @odata.type"}
	}
	if strings.Contains(odataType, "Collection") {
		return nil, &aggerrors.CollectionNotSupported{Path: parentCollectionPath}
	}

	id := payload.ID()
	odataID := payload.ODataID()
	if id == "" && odataID == "" {
		id = uuid.New().String()
	}
	if odataID == "" {
		odataID = redfish.Join(parentCollectionPath, id)
	}
	if id != "" {
		payload["Id"] = id
	}
	payload["@odata.id"] = odataID

	agentPath, managed, err := f.router.Resolve(ctx, parentCollectionPath, router.VerbCreate)
	if err != nil {
		return nil, err
	}
	if managed {
		source, err := f.loadSource(ctx, agentPath)
		if err != nil {
			return nil, err
		}
		reverse := f.aliases.ReverseAgentAliases(agentPath)
		agentParent := parentCollectionPath
		if local, ok := reverse[parentCollectionPath]; ok {
			agentParent = local
		}
		outbound := f.translateOutbound(payload, reverse)
		if err := f.agents.Create(ctx, source, agentParent, outbound); err != nil {
			return nil, err
		}
	}

	f.objects.Dispatch(ctx, objecthandler.VerbCreate, payload)
	if err := f.store.Write(ctx, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Replace overwrites the resource at path wholesale, routing the write to
// its managing agent first.
func (f *Facade) Replace(ctx context.Context, path string, payload models.Resource) (models.Resource, error) {
	payload["@odata.id"] = path

	agentPath, managed, err := f.router.Resolve(ctx, path, router.VerbReplace)
	if err != nil {
		return nil, err
	}
	if managed {
		source, err := f.loadSource(ctx, agentPath)
		if err != nil {
			return nil, err
		}
		reverse := f.aliases.ReverseAgentAliases(agentPath)
		agentPathLocal := path
		if local, ok := reverse[path]; ok {
			agentPathLocal = local
		}
		outbound := f.translateOutbound(payload, reverse)
		if err := f.agents.Replace(ctx, source, agentPathLocal, outbound); err != nil {
			return nil, err
		}
	}

	f.objects.Dispatch(ctx, objecthandler.VerbReplace, payload)
	if err := f.store.Replace(ctx, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Patch merges partial into the resource at path, routing the write to its
// managing agent first.
func (f *Facade) Patch(ctx context.Context, path string, partial models.Resource) (models.Resource, error) {
	agentPath, managed, err := f.router.Resolve(ctx, path, router.VerbPatch)
	if err != nil {
		return nil, err
	}
	if managed {
		source, err := f.loadSource(ctx, agentPath)
		if err != nil {
			return nil, err
		}
		reverse := f.aliases.ReverseAgentAliases(agentPath)
		agentPathLocal := path
		if local, ok := reverse[path]; ok {
			agentPathLocal = local
		}
		outbound := f.translateOutbound(partial, reverse)
		if err := f.agents.Patch(ctx, source, agentPathLocal, outbound); err != nil {
			return nil, err
		}
	}

	merged, err := f.store.Patch(ctx, path, partial)
	if err != nil {
		return nil, err
	}
	f.objects.Dispatch(ctx, objecthandler.VerbPatch, merged)
	return merged, nil
}

// Delete routes a deletion to the managing agent first, then removes the
// resource from the store and runs the object handler's delete hook.
func (f *Facade) Delete(ctx context.Context, path string) error {
	agentPath, managed, err := f.router.Resolve(ctx, path, router.VerbDelete)
	if err != nil {
		return err
	}
	if managed {
		source, err := f.loadSource(ctx, agentPath)
		if err != nil {
			return err
		}
		reverse := f.aliases.ReverseAgentAliases(agentPath)
		agentPathLocal := path
		if local, ok := reverse[path]; ok {
			agentPathLocal = local
		}
		if err := f.agents.Delete(ctx, source, agentPathLocal); err != nil {
			return err
		}
	}

	if err := f.store.Remove(ctx, path); err != nil {
		return err
	}
	f.objects.DispatchDelete(f.subs, path)
	return nil
}

// HandleEvent dispatches every event in env to the built-in Event Handler
// Table by MessageId suffix, falling back to the generic Subscription Index
// fan-out for message ids the table has no handler for. It returns the ids
// of every subscriber notified across the whole envelope.
func (f *Facade) HandleEvent(ctx context.Context, env forwarder.Envelope) ([]string, error) {
	var notified []string
	for _, event := range env.Events {
		if eventhandler.IsBuiltin(event.MessageID) {
			if err := f.events.Dispatch(ctx, env.Context, event); err != nil {
				return notified, err
			}
			continue
		}

		origin := ""
		originType := ""
		if event.OriginOfCondition != nil {
			origin = event.OriginOfCondition.ODataID
			if res, err := f.store.Read(ctx, origin); err == nil {
				originType = redfish.TypeToken(res.ODataType())
			}
		}
		single := forwarder.Envelope{ODataType: env.ODataType, Context: env.Context, Events: []forwarder.Event{event}}
		notified = append(notified, f.fwd.Forward(ctx, single, event.MessageID, originType, origin)...)
	}
	return notified, nil
}

func (f *Facade) loadSource(ctx context.Context, agentPath string) (models.AggregationSource, error) {
	res, err := f.store.Read(ctx, agentPath)
	if err != nil {
		return models.AggregationSource{}, err
	}
	return models.ParseAggregationSource(res), nil
}

// translateOutbound returns a deep-enough clone of payload with every
// nested @odata.id reference rewritten from canonical naming to the
// managing agent's own naming, leaving unmapped references untouched.
func (f *Facade) translateOutbound(payload models.Resource, reverse map[string]string) models.Resource {
	if len(reverse) == 0 {
		return payload
	}
	clone := payload.Clone()
	redfish.RewriteIDs(map[string]any(clone), clone.ODataID(), false, func(id string) (string, bool) {
		local, ok := reverse[id]
		return local, ok
	})
	return clone
}
