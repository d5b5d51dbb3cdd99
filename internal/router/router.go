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

// Package router implements the Ownership Router: given a target path and
// verb, it walks stored ancestors to find the agent that should be asked to
// perform the operation.
package router

import (
	"context"
	"strings"

	"sunfish/pkg/models"
)

// Store is the subset of the resource store the router needs.
type Store interface {
	Read(ctx context.Context, path string) (models.Resource, error)
}

// Verb identifies the HTTP-level operation being routed, distinguishing
// CREATE from the others since CREATE targets the parent-of-parent.
type Verb int

const (
	VerbCreate Verb = iota
	VerbGet
	VerbReplace
	VerbPatch
	VerbDelete
)

// Router resolves the managing agent for a write path.
type Router struct {
	store     Store
	redfishRoot string
}

// New constructs a Router bound to the given store and service root prefix.
func New(store Store, redfishRoot string) *Router {
	return &Router{store: store, redfishRoot: strings.TrimSuffix(redfishRoot, "/")}
}

// Resolve returns the canonical path of the AggregationSource managing the
// given path's ancestor chain, or ok=false if the operation is purely
// local. For CREATE, path should be the parent collection path: the router
// starts its walk from that collection's own parent (the "parent-of-parent"
// singleton entity), since top-level collections are never agent-managed.
func (r *Router) Resolve(ctx context.Context, path string, verb Verb) (agentPath string, ok bool, err error) {
	target := path
	if verb == VerbCreate {
		target = parentPath(path)
	}
	if target == "" || r.isTopLevel(target) {
		return "", false, nil
	}

	for target != "" && !r.isRoot(target) {
		res, rerr := r.store.Read(ctx, target)
		if rerr == nil {
			if stamp, present := res.OwnershipStamp(); present && stamp.ManagingAgent.ODataID != "" {
				return stamp.ManagingAgent.ODataID, true, nil
			}
		}
		next := parentPath(target)
		if next == target {
			break
		}
		target = next
	}
	return "", false, nil
}

// isTopLevel reports whether path is a direct child of the Redfish root
// collection set (e.g. /redfish/v1/Systems), which per the tie-break rule
// is never agent-managed.
func (r *Router) isTopLevel(path string) bool {
	trimmed := strings.TrimSuffix(path, "/")
	parent := parentPath(trimmed)
	return parent == r.redfishRoot
}

func (r *Router) isRoot(path string) bool {
	return path == r.redfishRoot || path == ""
}

func parentPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return ""
	}
	return trimmed[:idx]
}
