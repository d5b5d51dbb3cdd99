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

// Package bfs implements the discovery core: the breadth-first ingestor
// that walks an agent's resource graph, the alias-link updater that
// rewrites agent-local references to canonical ones, and the boundary-port
// resolver that stitches CXL fabric links between agents.
package bfs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"sunfish/internal/alias"
	"sunfish/internal/metrics"
	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
)

// Store is the subset of the resource store the ingestor needs.
type Store interface {
	Read(ctx context.Context, path string) (models.Resource, error)
	Exists(ctx context.Context, path string) (bool, error)
	Write(ctx context.Context, obj models.Resource) error
	Replace(ctx context.Context, obj models.Resource) error
	Patch(ctx context.Context, path string, partial models.Resource) (models.Resource, error)
}

// AgentFetcher fetches a resource document from an agent, implemented by
// the agent client against an AggregationSource.
type AgentFetcher interface {
	Get(ctx context.Context, source models.AggregationSource, path string) (models.Resource, error)
}

// Ingestor runs the breadth-first discovery walk against one agent at a
// time, on behalf of the event handlers that trigger it.
type Ingestor struct {
	store   Store
	aliases *alias.Registry
	agents  AgentFetcher
}

// New constructs an Ingestor bound to the given store, alias registry and
// agent client.
func New(store Store, aliases *alias.Registry, agents AgentFetcher) *Ingestor {
	return &Ingestor{store: store, aliases: aliases, agents: agents}
}

// Ingest runs the full breadth-first walk for one agent, starting from
// originPath (the agent-local @odata.id of the resource named in
// OriginOfCondition), then runs the alias-link update and boundary-port
// resolution passes.
func (ing *Ingestor) Ingest(ctx context.Context, agentID, originPath string) error {
	agentRes, err := ing.store.Read(ctx, agentID)
	if err != nil {
		return &aggerrors.PropertyNotFound{Attribute: "AggregationSource " + agentID}
	}
	source := models.ParseAggregationSource(agentRes)

	visited := map[string]bool{}
	queue := []string{originPath}
	visited[originPath] = true

	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]

		gatePending := false
		for _, ancestor := range ancestorPrefixes(id) {
			if !visited[ancestor] {
				visited[ancestor] = true
				queue = append(queue, ancestor)
				gatePending = true
			}
		}
		if gatePending {
			queue = append(queue, id)
			continue
		}

		doc, err := ing.agents.Get(ctx, source, id)
		if err != nil {
			slog.Warn("bfs: fetch failed, skipping subtree", "agent", agentID, "path", id, "error", err)
			continue
		}

		canonical, outcome, err := ing.createInspectedObject(ctx, agentID, source, doc)
		if err != nil {
			slog.Warn("bfs: ingest failed", "agent", agentID, "path", id, "error", err)
			continue
		}
		metrics.IncBFSIngested(outcome)
		if canonical == "" {
			continue // collection, skipped
		}

		for _, ref := range collectReferences(doc) {
			if !visited[ref] {
				visited[ref] = true
				queue = append(queue, ref)
			}
		}
	}

	if err := ing.updateAliasLinks(ctx, agentID); err != nil {
		slog.Warn("bfs: alias-link update failed", "agent", agentID, "error", err)
	}
	ing.resolveBoundaryPorts(ctx)

	return nil
}

// createInspectedObject applies the duplicate/merge/rename resolution rules
// to one fetched document, stamps ownership, persists it, and records it
// against the owning agent's Links.ResourcesAccessed. It returns the
// canonical id the object was stored under, and an outcome label for
// metrics ("created", "renamed", "merged", "duplicate", "skipped").
func (ing *Ingestor) createInspectedObject(ctx context.Context, agentID string, source models.AggregationSource, doc models.Resource) (string, string, error) {
	if strings.Contains(doc.ODataType(), "Collection") {
		return "", "skipped", nil
	}

	agentURI := doc.ODataID()
	canonical, aliased := ing.aliases.Lookup(agentID, agentURI)
	if !aliased {
		canonical = agentURI
	}
	doc["@odata.id"] = canonical
	if id := lastSegment(canonical); id != "" {
		doc["Id"] = id
	}

	existing, err := ing.store.Read(ctx, canonical)
	if err == nil {
		existingStamp, _ := existing.OwnershipStamp()
		if existingStamp.ManagingAgent.ODataID == agentID {
			slog.Warn("bfs: duplicate re-ingest, ignoring", "agent", agentID, "path", canonical)
			return canonical, "duplicate", nil
		}

		if typeToken(doc.ODataType()) == "Fabric" && typeToken(existing.ODataType()) == "Fabric" {
			existingUUID, _ := existing["UUID"].(string)
			newUUID, _ := doc["UUID"].(string)
			if existingUUID != "" && existingUUID == newUUID {
				stamp, _ := existing.OwnershipStamp()
				stamp.FabricSharedWith = appendUnique(stamp.FabricSharedWith, models.ODataIDRef{ODataID: agentID})
				existing.SetOwnershipStamp(stamp)
				if err := ing.store.Replace(ctx, existing); err != nil {
					return "", "", err
				}
				if err := ing.aliases.Record(ctx, agentID, agentURI, canonical); err != nil {
					slog.Warn("bfs: alias record failed", "error", err)
				}
				if err := ing.recordAccessed(ctx, agentID, canonical); err != nil {
					slog.Warn("bfs: record accessed failed", "error", err)
				}
				return canonical, "merged", nil
			}
		}

		renamed, err := ing.renamePath(ctx, agentID, canonical)
		if err != nil {
			return "", "", err
		}
		canonical = renamed
		doc["@odata.id"] = canonical
		if id := lastSegment(canonical); id != "" {
			doc["Id"] = id
		}
		if err := ing.aliases.Record(ctx, agentID, agentURI, canonical); err != nil {
			slog.Warn("bfs: alias record failed", "error", err)
		}
		ing.stampOwnership(doc, agentID)
		ing.classifyBoundaryPort(ctx, agentID, doc)
		if err := ing.store.Write(ctx, doc); err != nil {
			return "", "", err
		}
		if err := ing.recordAccessed(ctx, agentID, canonical); err != nil {
			slog.Warn("bfs: record accessed failed", "error", err)
		}
		return canonical, "renamed", nil
	}

	if err := ing.aliases.Record(ctx, agentID, agentURI, canonical); err != nil {
		slog.Warn("bfs: alias record failed", "error", err)
	}

	ing.stampOwnership(doc, agentID)
	ing.classifyBoundaryPort(ctx, agentID, doc)
	if err := ing.store.Write(ctx, doc); err != nil {
		return "", "", err
	}
	if err := ing.recordAccessed(ctx, agentID, canonical); err != nil {
		slog.Warn("bfs: record accessed failed", "error", err)
	}
	return canonical, "created", nil
}

// renamePath synthesizes a non-colliding canonical path for a resource
// whose default canonical path is already held by a different agent.
func (ing *Ingestor) renamePath(ctx context.Context, agentID, canonical string) (string, error) {
	parent := parentPath(canonical)
	original := lastSegment(canonical)
	shortPrefix := agentID
	if len(shortPrefix) > 4 {
		shortPrefix = shortPrefix[:4]
	}
	candidate := joinPath(parent, fmt.Sprintf("Sunfish_%s_%s", shortPrefix, original))
	exists, err := ing.store.Exists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !exists {
		return candidate, nil
	}
	candidate = joinPath(parent, fmt.Sprintf("Sunfish_%s_%s", agentID, original))
	return candidate, nil
}

func (ing *Ingestor) stampOwnership(doc models.Resource, agentID string) {
	stamp, present := doc.OwnershipStamp()
	if !present {
		stamp = models.OwnershipStamp{BoundaryComponent: models.BoundaryOwned}
	}
	if stamp.BoundaryComponent == "" {
		stamp.BoundaryComponent = models.BoundaryOwned
	}
	if present && stamp.ManagingAgent.ODataID != "" && stamp.ManagingAgent.ODataID != agentID {
		slog.Warn("bfs: overwriting conflicting ownership stamp", "path", doc.ODataID(), "was", stamp.ManagingAgent.ODataID, "now", agentID)
	}
	stamp.ManagingAgent = models.ODataIDRef{ODataID: agentID}
	doc.SetOwnershipStamp(stamp)
}

func (ing *Ingestor) recordAccessed(ctx context.Context, agentID, canonical string) error {
	agentRes, err := ing.store.Read(ctx, agentID)
	if err != nil {
		return err
	}
	links, _ := agentRes["Links"].(map[string]any)
	if links == nil {
		links = map[string]any{}
	}
	accessedRaw, _ := links["ResourcesAccessed"].([]any)
	for _, a := range accessedRaw {
		if m, ok := a.(map[string]any); ok {
			if id, _ := m["@odata.id"].(string); id == canonical {
				return nil
			}
		}
	}
	accessedRaw = append(accessedRaw, map[string]any{"@odata.id": canonical})
	links["ResourcesAccessed"] = accessedRaw
	_, err = ing.store.Patch(ctx, agentID, models.Resource{"Links": links})
	return err
}

// ancestorPrefixes returns the proper ancestor paths of id, at path depths
// 4 through len-1 (segments counted after the leading slash), so callers
// can gate a child fetch on its singleton ancestors already being present.
func ancestorPrefixes(id string) []string {
	segments := strings.Split(strings.Trim(id, "/"), "/")
	if len(segments) <= 4 {
		return nil
	}
	var out []string
	for depth := 4; depth < len(segments); depth++ {
		out = append(out, "/"+strings.Join(segments[:depth], "/"))
	}
	return out
}

// collectReferences walks doc for nested "@odata.id" string values,
// skipping the Oem.Sunfish_RM subtree (wrong namespace for discovery) and
// excluding doc's own top-level id.
func collectReferences(doc models.Resource) []string {
	self := doc.ODataID()
	var out []string
	seen := map[string]bool{}
	var walk func(node any, inOem bool)
	walk = func(node any, inOem bool) {
		switch v := node.(type) {
		case map[string]any:
			for k, val := range v {
				if inOem && k == "Sunfish_RM" {
					continue
				}
				if k == "@odata.id" {
					if id, ok := val.(string); ok && id != self && !seen[id] {
						seen[id] = true
						out = append(out, id)
					}
					continue
				}
				walk(val, k == "Oem")
			}
		case []any:
			for _, item := range v {
				walk(item, false)
			}
		}
	}
	walk(map[string]any(doc), false)
	return out
}

func typeToken(odataType string) string {
	t := strings.TrimPrefix(odataType, "#")
	if idx := strings.Index(t, "."); idx >= 0 {
		return t[:idx]
	}
	return t
}

func lastSegment(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func parentPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return ""
	}
	return trimmed[:idx]
}

func joinPath(base, segment string) string {
	return strings.TrimSuffix(base, "/") + "/" + segment
}

func appendUnique(refs []models.ODataIDRef, ref models.ODataIDRef) []models.ODataIDRef {
	for _, r := range refs {
		if r.ODataID == ref.ODataID {
			return refs
		}
	}
	return append(refs, ref)
}

