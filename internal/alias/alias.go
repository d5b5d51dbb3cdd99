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

// Package alias implements the Alias Registry: a persistent bidirectional
// map of agent-URI <-> canonical-URI, plus a per-agent boundary-port
// registry used by the boundary-link resolver.
package alias

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"sunfish/pkg/models"
)

// persistedPath is the reserved resource-store key the registry's document
// is flushed to, mirroring the single-JSON-document shape used for
// fs_private/URI_aliases.json.
const persistedPath = "/internal/alias-registry"

// BoundaryPort is one entry of an agent's boundary-port table.
type BoundaryPort struct {
	LocalPortId          string `json:"LocalPortId,omitempty"`
	LocalLinkPartnerId   string `json:"LocalLinkPartnerId,omitempty"`
	RemotePortId         string `json:"RemotePortId,omitempty"`
	RemoteLinkPartnerId  string `json:"RemoteLinkPartnerId,omitempty"`
	PeerPortURI          string `json:"PeerPortURI,omitempty"`
	AgentPeerPortURI     string `json:"AgentPeerPortURI,omitempty"`
	AgentPeerSwitchURI   string `json:"AgentPeerSwitchURI,omitempty"`
	AgentPeerEndpointURI string `json:"AgentPeerEndpointURI,omitempty"`
}

type agentEntry struct {
	Aliases       map[string]string       `json:"aliases"`
	BoundaryPorts map[string]*BoundaryPort `json:"boundaryPorts"`
}

// document is the full persisted shape:
// {Agents_xref_URIs: {<agent_id>: {aliases, boundaryPorts}}, Sunfish_xref_URIs: {aliases}}
type document struct {
	AgentsXrefURIs  map[string]*agentEntry `json:"Agents_xref_URIs"`
	SunfishXrefURIs struct {
		Aliases map[string][]string `json:"aliases"`
	} `json:"Sunfish_xref_URIs"`
}

// Store is the subset of the resource store the registry needs to persist
// and recover its document.
type Store interface {
	Read(ctx context.Context, path string) (models.Resource, error)
	Write(ctx context.Context, obj models.Resource) error
	Replace(ctx context.Context, obj models.Resource) error
	All(ctx context.Context) ([]models.Resource, error)
}

// Registry is the in-memory Alias Registry, fronted by a bounded LRU cache
// for hot agent-URI -> canonical-URI lookups and flushed to the resource
// store on every mutation.
type Registry struct {
	mu    sync.Mutex
	store Store
	doc   document
	cache *lru.Cache[string, string] // "agentID\x1f agentURI" -> canonical
}

// Open loads (or initializes) the registry from the resource store. If
// nothing is persisted, it rebuilds by scanning stored resources for
// Oem.Sunfish_RM.ManagingAgent references, per the crash-recovery design.
func Open(ctx context.Context, st Store, cacheSize int) (*Registry, error) {
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("alias: create cache: %w", err)
	}
	r := &Registry{store: st, cache: cache}
	r.doc.AgentsXrefURIs = map[string]*agentEntry{}
	r.doc.SunfishXrefURIs.Aliases = map[string][]string{}

	existing, err := st.Read(ctx, persistedPath)
	if err == nil {
		if raw, ok := existing["document"]; ok {
			b, _ := json.Marshal(raw)
			var doc document
			if jerr := json.Unmarshal(b, &doc); jerr == nil && doc.AgentsXrefURIs != nil {
				r.doc = doc
				return r, nil
			}
		}
	}

	if err := r.rebuildFromStore(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// rebuildFromStore scans every stored resource for Oem.Sunfish_RM and
// re-derives the canonical side of the alias map. Agent-URI sides cannot be
// recovered this way (the agent's own naming is not persisted anywhere
// else), so rebuild only restores the canonical bookkeeping; agent-URI
// aliases are re-learned the next time that agent is re-ingested.
func (r *Registry) rebuildFromStore(ctx context.Context) error {
	resources, err := r.store.All(ctx)
	if err != nil {
		return fmt.Errorf("alias: rebuild: %w", err)
	}
	for _, res := range resources {
		stamp, ok := res.OwnershipStamp()
		if !ok || stamp.ManagingAgent.ODataID == "" {
			continue
		}
		canonical := res.ODataID()
		if canonical == "" {
			continue
		}
		if _, exists := r.doc.SunfishXrefURIs.Aliases[canonical]; !exists {
			r.doc.SunfishXrefURIs.Aliases[canonical] = nil
		}
	}
	return nil
}

// Lookup returns the canonical URI an agent's own URI maps to, if known.
func (r *Registry) Lookup(agentID, agentURI string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(agentID, agentURI)
}

func (r *Registry) lookupLocked(agentID, agentURI string) (string, bool) {
	key := cacheKey(agentID, agentURI)
	if v, ok := r.cache.Get(key); ok {
		return v, true
	}
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		return "", false
	}
	canonical, ok := entry.Aliases[agentURI]
	if ok {
		r.cache.Add(key, canonical)
	}
	return canonical, ok
}

// Record stores a new agent-URI <-> canonical-URI alias and persists the
// document. It is idempotent: recording the same pair twice is a no-op.
func (r *Registry) Record(ctx context.Context, agentID, agentURI, canonicalURI string) error {
	r.mu.Lock()
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		entry = &agentEntry{Aliases: map[string]string{}, BoundaryPorts: map[string]*BoundaryPort{}}
		r.doc.AgentsXrefURIs[agentID] = entry
	}
	if existing, already := entry.Aliases[agentURI]; already && existing == canonicalURI {
		r.mu.Unlock()
		return nil
	}
	entry.Aliases[agentURI] = canonicalURI
	peers := r.doc.SunfishXrefURIs.Aliases[canonicalURI]
	found := false
	for _, p := range peers {
		if p == agentURI {
			found = true
			break
		}
	}
	if !found {
		r.doc.SunfishXrefURIs.Aliases[canonicalURI] = append(peers, agentURI)
	}
	r.cache.Add(cacheKey(agentID, agentURI), canonicalURI)
	r.mu.Unlock()

	return r.flush(ctx)
}

// CanonicalAgentURIs returns every agent-URI recorded against a canonical
// URI, across all agents.
func (r *Registry) CanonicalAgentURIs(canonicalURI string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.doc.SunfishXrefURIs.Aliases[canonicalURI]))
	copy(out, r.doc.SunfishXrefURIs.Aliases[canonicalURI])
	return out
}

// AgentAliases returns a copy of the full agent-URI -> canonical-URI map
// for one agent, used by the alias-link updater to rewrite nested
// references in a single pass without holding the registry lock across the
// rewrite.
func (r *Registry) AgentAliases(agentID string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(entry.Aliases))
	for k, v := range entry.Aliases {
		out[k] = v
	}
	return out
}

// ReverseAgentAliases returns the canonical-URI -> agent-URI map for one
// agent, the inverse of AgentAliases, used to translate an outbound payload
// from canonical naming back to that agent's own naming before forwarding.
func (r *Registry) ReverseAgentAliases(agentID string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(entry.Aliases))
	for agentURI, canonical := range entry.Aliases {
		out[canonical] = agentURI
	}
	return out
}

// RecordBoundaryPort stores (or overwrites) a boundary port entry for an
// agent and persists the document.
func (r *Registry) RecordBoundaryPort(ctx context.Context, agentID, canonicalPortURI string, port BoundaryPort) error {
	r.mu.Lock()
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		entry = &agentEntry{Aliases: map[string]string{}, BoundaryPorts: map[string]*BoundaryPort{}}
		r.doc.AgentsXrefURIs[agentID] = entry
	}
	if entry.BoundaryPorts == nil {
		entry.BoundaryPorts = map[string]*BoundaryPort{}
	}
	p := port
	entry.BoundaryPorts[canonicalPortURI] = &p
	r.mu.Unlock()
	return r.flush(ctx)
}

// BoundaryPortEntry is a boundary port together with the agent and
// canonical URI it was registered under, returned by AllBoundaryPorts.
type BoundaryPortEntry struct {
	AgentID string
	URI     string
	Port    BoundaryPort
}

// AllBoundaryPorts returns every registered boundary port across every
// agent, used by the matcher to find peer candidates.
func (r *Registry) AllBoundaryPorts() []BoundaryPortEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BoundaryPortEntry
	for agentID, entry := range r.doc.AgentsXrefURIs {
		for uri, port := range entry.BoundaryPorts {
			out = append(out, BoundaryPortEntry{AgentID: agentID, URI: uri, Port: *port})
		}
	}
	return out
}

// SetPeerPortURI updates the PeerPortURI field of an already-registered
// boundary port and persists the document.
func (r *Registry) SetPeerPortURI(ctx context.Context, agentID, canonicalPortURI, peerURI string) error {
	r.mu.Lock()
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("alias: unknown agent %s", agentID)
	}
	port, ok := entry.BoundaryPorts[canonicalPortURI]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("alias: unknown boundary port %s for agent %s", canonicalPortURI, agentID)
	}
	port.PeerPortURI = peerURI
	r.mu.Unlock()
	return r.flush(ctx)
}

// UpdateBoundaryPort applies mutate to an already-registered boundary port
// entry and persists the document, used by the boundary-port resolver to
// record redirection details (PeerPortURI, AgentPeerPortURI, ...) after a
// match.
func (r *Registry) UpdateBoundaryPort(ctx context.Context, agentID, canonicalPortURI string, mutate func(*BoundaryPort)) error {
	r.mu.Lock()
	entry, ok := r.doc.AgentsXrefURIs[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("alias: unknown agent %s", agentID)
	}
	port, ok := entry.BoundaryPorts[canonicalPortURI]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("alias: unknown boundary port %s for agent %s", canonicalPortURI, agentID)
	}
	mutate(port)
	r.mu.Unlock()
	return r.flush(ctx)
}

func (r *Registry) flush(ctx context.Context) error {
	r.mu.Lock()
	doc := r.doc
	r.mu.Unlock()

	obj := models.Resource{
		"@odata.id": persistedPath,
		"document":  doc,
	}
	if err := r.store.Replace(ctx, obj); err != nil {
		if err := r.store.Write(ctx, obj); err != nil {
			slog.Warn("alias registry flush failed", "error", err)
			return fmt.Errorf("alias: flush: %w", err)
		}
	}
	return nil
}

func cacheKey(agentID, agentURI string) string {
	var b strings.Builder
	b.WriteString(agentID)
	b.WriteByte('\x1f')
	b.WriteString(agentURI)
	return b.String()
}
