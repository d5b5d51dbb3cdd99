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

package bfs

import (
	"context"
	"log/slog"

	"sunfish/internal/alias"
	"sunfish/pkg/models"
	"sunfish/pkg/redfish"
)

// updateAliasLinks rewrites nested @odata.id references inside every
// resource this agent has touched from the agent's own local naming to the
// aggregator's canonical naming.
func (ing *Ingestor) updateAliasLinks(ctx context.Context, agentID string) error {
	agentRes, err := ing.store.Read(ctx, agentID)
	if err != nil {
		return err
	}
	aliases := ing.aliases.AgentAliases(agentID)
	if len(aliases) == 0 {
		return nil
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
		res, err := ing.store.Read(ctx, path)
		if err != nil {
			continue
		}
		self := res.ODataID()
		changed := rewriteReferences(map[string]any(res), self, aliases, false)
		if changed {
			if err := ing.store.Replace(ctx, res); err != nil {
				slog.Warn("bfs: alias-link rewrite persist failed", "path", path, "error", err)
			}
		}
	}
	return nil
}

// rewriteReferences rewrites nested "@odata.id" values found in node from
// agent-local URIs to canonical URIs, skipping the Oem.Sunfish_RM subtree
// and never touching the top-level self id.
func rewriteReferences(node any, self string, aliases map[string]string, inOem bool) bool {
	return redfish.RewriteIDs(node, self, inOem, func(id string) (string, bool) {
		canonical, ok := aliases[id]
		return canonical, ok
	})
}

// classifyBoundaryPort records a newly-ingested boundary port's CXL link
// details into the alias registry's boundary-port table, if doc qualifies.
func (ing *Ingestor) classifyBoundaryPort(ctx context.Context, agentID string, doc models.Resource) {
	stamp, _ := doc.OwnershipStamp()
	protocol, _ := doc["PortProtocol"].(string)
	portType, _ := doc["PortType"].(string)
	if protocol != "CXL" || stamp.BoundaryComponent != models.BoundaryPort {
		return
	}
	switch portType {
	case "InterswitchPort", "UpstreamPort", "DownstreamPort":
	default:
		return
	}

	port := alias.BoundaryPort{
		LocalPortId:         nestedString(doc, "CXL", "LinkPartnerTransmit", "PortId"),
		LocalLinkPartnerId:  nestedString(doc, "CXL", "LinkPartnerTransmit", "LinkPartnerId"),
		RemotePortId:        nestedString(doc, "CXL", "LinkPartnerReceive", "PortId"),
		RemoteLinkPartnerId: nestedString(doc, "CXL", "LinkPartnerReceive", "LinkPartnerId"),
	}
	if err := ing.aliases.RecordBoundaryPort(ctx, agentID, doc.ODataID(), port); err != nil {
		slog.Warn("bfs: record boundary port failed", "path", doc.ODataID(), "error", err)
	}
}

// resolveBoundaryPorts matches any not-yet-paired boundary ports across all
// agents and rewrites the stored Port objects' Links to point at their
// peers, per the boundary-port redirection rules.
func (ing *Ingestor) resolveBoundaryPorts(ctx context.Context) {
	entries := ing.aliases.AllBoundaryPorts()
	paired := map[int]bool{}
	for i := range entries {
		a := entries[i]
		if a.Port.PeerPortURI != "" || paired[i] {
			continue
		}
		for j := range entries {
			if i == j || paired[j] {
				continue
			}
			b := entries[j]
			if a.AgentID == b.AgentID || b.Port.PeerPortURI != "" {
				continue
			}
			if !portsMatch(a.Port, b.Port) {
				continue
			}
			if err := ing.aliases.UpdateBoundaryPort(ctx, a.AgentID, a.URI, func(p *alias.BoundaryPort) { p.PeerPortURI = b.URI }); err != nil {
				slog.Warn("bfs: set peer port failed", "error", err)
				continue
			}
			if err := ing.aliases.UpdateBoundaryPort(ctx, b.AgentID, b.URI, func(p *alias.BoundaryPort) { p.PeerPortURI = a.URI }); err != nil {
				slog.Warn("bfs: set peer port failed", "error", err)
				continue
			}
			paired[i], paired[j] = true, true
			ing.redirectPort(ctx, a.AgentID, a.URI, b.URI)
			ing.redirectPort(ctx, b.AgentID, b.URI, a.URI)
			break
		}
	}
}

func portsMatch(a, b alias.BoundaryPort) bool {
	forward := a.LocalPortId == b.RemotePortId && a.LocalLinkPartnerId == b.RemoteLinkPartnerId
	backward := b.LocalPortId == a.RemotePortId && b.LocalLinkPartnerId == a.RemoteLinkPartnerId
	return forward || backward
}

// redirectPort rewrites the stored port at localURI's Links to reference
// peerURI, following the cardinality policy: replace a single placeholder
// entry, append into an empty list, or leave a multi-entry list untouched
// (logged as an error). Whatever placeholder value a relation held before
// the overwrite is preserved in the alias registry's boundary-port entry
// (AgentPeerPortURI / AgentPeerSwitchURI / AgentPeerEndpointURI) so the
// agent's original naming for that link survives the redirection.
func (ing *Ingestor) redirectPort(ctx context.Context, agentID, localURI, peerURI string) {
	local, err := ing.store.Read(ctx, localURI)
	if err != nil {
		slog.Warn("bfs: redirect: local port missing", "path", localURI, "error", err)
		return
	}
	portType, _ := local["PortType"].(string)
	links, _ := local["Links"].(map[string]any)
	if links == nil {
		links = map[string]any{}
		local["Links"] = links
	}

	switch portType {
	case "InterswitchPort", "DownstreamPort":
		peerSwitch := parentPath(parentPath(peerURI))
		ing.savePlaceholder(ctx, agentID, localURI, setSingleRef(links, "ConnectedSwitchPorts", peerURI), func(p *alias.BoundaryPort, v string) { p.AgentPeerPortURI = v })
		ing.savePlaceholder(ctx, agentID, localURI, setSingleRef(links, "ConnectedSwitches", peerSwitch), func(p *alias.BoundaryPort, v string) { p.AgentPeerSwitchURI = v })
	case "UpstreamPort":
		ing.savePlaceholder(ctx, agentID, localURI, setSingleRef(links, "ConnectedPorts", peerURI), func(p *alias.BoundaryPort, v string) { p.AgentPeerPortURI = v })
		peerSwitch := parentPath(parentPath(peerURI))
		if switchRes, err := ing.store.Read(ctx, peerSwitch); err == nil {
			if switchLinks, ok := switchRes["Links"].(map[string]any); ok {
				if endpoints, ok := switchLinks["Endpoints"].([]any); ok && len(endpoints) > 0 {
					if ep, ok := endpoints[0].(map[string]any); ok {
						if endpointID, ok := ep["@odata.id"].(string); ok {
							ing.savePlaceholder(ctx, agentID, localURI, setSingleRef(links, "AssociatedEndpoints", endpointID), func(p *alias.BoundaryPort, v string) { p.AgentPeerEndpointURI = v })
						}
					}
				}
			}
		}
	default:
		return
	}

	if err := ing.store.Replace(ctx, local); err != nil {
		slog.Warn("bfs: redirect persist failed", "path", localURI, "error", err)
	}
}

// savePlaceholder persists a pre-overwrite Links placeholder value into the
// boundary port's alias-registry entry via apply, doing nothing if there was
// no placeholder to save (the relation started out empty).
func (ing *Ingestor) savePlaceholder(ctx context.Context, agentID, canonicalPortURI, placeholder string, apply func(*alias.BoundaryPort, string)) {
	if placeholder == "" {
		return
	}
	if err := ing.aliases.UpdateBoundaryPort(ctx, agentID, canonicalPortURI, func(p *alias.BoundaryPort) { apply(p, placeholder) }); err != nil {
		slog.Warn("bfs: save boundary port placeholder failed", "path", canonicalPortURI, "error", err)
	}
}

// setSingleRef applies the cardinality policy for a Links relation: replace
// a lone placeholder entry, append into an empty list, or leave an
// already-multi-valued list untouched. It returns the placeholder's
// @odata.id before the overwrite, or "" if there was none to save.
func setSingleRef(links map[string]any, relation, targetURI string) string {
	existing, _ := links[relation].([]any)
	var previous string
	switch len(existing) {
	case 0:
		links[relation] = []any{map[string]any{"@odata.id": targetURI}}
	case 1:
		if m, ok := existing[0].(map[string]any); ok {
			previous, _ = m["@odata.id"].(string)
		}
		existing[0] = map[string]any{"@odata.id": targetURI}
		links[relation] = existing
	default:
		slog.Error("bfs: cannot redirect multi-valued link relation", "relation", relation, "count", len(existing))
	}
	return previous
}

func nestedString(doc models.Resource, path ...string) string {
	var cur any = map[string]any(doc)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[key]
		if !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return s
}
