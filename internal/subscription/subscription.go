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

// Package subscription maintains the Subscription Index: a set of buckets
// keyed by registry prefix, message id, resource type and origin resource,
// each holding the subscriber ids that should be considered for events
// matching that bucket.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"sunfish/internal/metrics"
	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"
)

// Index is the in-memory Subscription Index, safe for concurrent use. Its
// read lock is held only long enough to snapshot a bucket before fan-out;
// it is never held across an HTTP call to a subscriber.
type Index struct {
	mu sync.RWMutex

	byRegistryPrefix map[string]map[string]bool
	byMessageID      map[string]map[string]bool
	byResourceType   map[string]map[string]bool
	byOrigin         map[string]map[string]bool // includes "<prefix>/*" wildcard keys

	excludeRegistryPrefix map[string]map[string]bool
	excludeMessageID      map[string]map[string]bool

	destinations map[string]models.EventDestination
}

// New returns an empty Subscription Index.
func New() *Index {
	return &Index{
		byRegistryPrefix:      map[string]map[string]bool{},
		byMessageID:           map[string]map[string]bool{},
		byResourceType:        map[string]map[string]bool{},
		byOrigin:              map[string]map[string]bool{},
		excludeRegistryPrefix: map[string]map[string]bool{},
		excludeMessageID:      map[string]map[string]bool{},
		destinations:          map[string]models.EventDestination{},
	}
}

// Rebuild repopulates the index from every EventDestination in resources,
// used at startup to recover index state from the resource store.
func Rebuild(ctx context.Context, resources []models.Resource) *Index {
	idx := New()
	for _, res := range resources {
		if token := typeToken(res.ODataType()); token != "EventDestination" {
			continue
		}
		dest := models.ParseEventDestination(res)
		if err := idx.indexLocked(dest); err != nil { // validation errors on rebuild are logged, not fatal
			slog.Warn("subscription: rebuilt subscription failed validation", "id", dest.ID, "error", err)
		}
	}
	metrics.SetSubscriptionCount(idx.Count())
	return idx
}

// Count returns the number of indexed subscriptions.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.destinations)
}

// Validate checks a subscription against the disjointness rules. It never
// blocks indexing: callers persist the subscription regardless of the
// result and only log the violation.
func Validate(dest models.EventDestination) error {
	prefixSet := toSet(dest.RegistryPrefixes)
	excludePrefixSet := toSet(dest.ExcludeRegistryPfx)
	for p := range prefixSet {
		if excludePrefixSet[p] {
			return &aggerrors.IllegalSubscription{Reason: fmt.Sprintf("registry prefix %q is both included and excluded", p)}
		}
	}
	msgSet := toSet(dest.MessageIds)
	excludeMsgSet := toSet(dest.ExcludeMessageIds)
	for m := range msgSet {
		if excludeMsgSet[m] {
			return &aggerrors.IllegalSubscription{Reason: fmt.Sprintf("message id %q is both included and excluded", m)}
		}
		if excludePrefixSet[messagePrefix(m)] {
			return &aggerrors.IllegalSubscription{Reason: fmt.Sprintf("message id %q has a prefix excluded by ExcludeRegistryPrefixes", m)}
		}
	}
	return nil
}

// Index validates and indexes (or re-indexes) a subscription. Validation
// failures are returned to the caller but do not prevent indexing: the
// subscription is still stored and considered for matching, per the design
// that the validator is a warning gate, not a persistence gate.
func (idx *Index) Index(dest models.EventDestination) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	vErr := idx.indexLocked(dest)
	metrics.SetSubscriptionCount(len(idx.destinations))
	return vErr
}

func (idx *Index) indexLocked(dest models.EventDestination) error {
	if dest.ID == "" {
		return &aggerrors.IllegalSubscription{Reason: "subscription has no Id"}
	}
	idx.removeLocked(dest.ID)
	idx.destinations[dest.ID] = dest

	for _, p := range dest.RegistryPrefixes {
		addTo(idx.byRegistryPrefix, p, dest.ID)
	}
	for _, m := range dest.MessageIds {
		addTo(idx.byMessageID, m, dest.ID)
	}
	for _, p := range dest.ExcludeRegistryPfx {
		addTo(idx.excludeRegistryPrefix, p, dest.ID)
	}
	for _, m := range dest.ExcludeMessageIds {
		addTo(idx.excludeMessageID, m, dest.ID)
	}
	for _, rt := range dest.ResourceTypes {
		addTo(idx.byResourceType, rt, dest.ID)
	}
	for _, origin := range dest.OriginResources {
		key := origin
		if dest.SubordinateResources {
			key = strings.TrimSuffix(origin, "/") + "/*"
		}
		addTo(idx.byOrigin, key, dest.ID)
	}

	return Validate(dest)
}

// Delete removes a subscription from every bucket.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
	metrics.SetSubscriptionCount(len(idx.destinations))
}

func (idx *Index) removeLocked(id string) {
	dest, ok := idx.destinations[id]
	if !ok {
		return
	}
	for _, p := range dest.RegistryPrefixes {
		removeFrom(idx.byRegistryPrefix, p, id)
	}
	for _, m := range dest.MessageIds {
		removeFrom(idx.byMessageID, m, id)
	}
	for _, p := range dest.ExcludeRegistryPfx {
		removeFrom(idx.excludeRegistryPrefix, p, id)
	}
	for _, m := range dest.ExcludeMessageIds {
		removeFrom(idx.excludeMessageID, m, id)
	}
	for _, rt := range dest.ResourceTypes {
		removeFrom(idx.byResourceType, rt, id)
	}
	for _, origin := range dest.OriginResources {
		key := origin
		if dest.SubordinateResources {
			key = strings.TrimSuffix(origin, "/") + "/*"
		}
		removeFrom(idx.byOrigin, key, id)
	}
	delete(idx.destinations, id)
}

// Destination returns the stored EventDestination for a subscriber id.
func (idx *Index) Destination(id string) (models.EventDestination, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	d, ok := idx.destinations[id]
	return d, ok
}

// FindByContext returns the subscriber id whose Context equals ctx.
func (idx *Index) FindByContext(ctx string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, d := range idx.destinations {
		if d.Context == ctx {
			return id, true
		}
	}
	return "", false
}

// FindByDestination returns the subscriber id whose Destination equals
// destination, used by TriggerEvent's Context=="None" resolution path: the
// caller names the subscriber by its Destination URL rather than by id, and
// the handler recovers the subscriber's own Context from here.
func (idx *Index) FindByDestination(destination string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, d := range idx.destinations {
		if d.Destination == destination {
			return id, true
		}
	}
	return "", false
}

// Match computes the subscriber set for one event, following the
// RegistryPrefixes/MessageIds inclusion-minus-exclusion formula, with
// origin-resource and resource-type contributions folded in when an
// originType/origin are known.
func (idx *Index) Match(messageID, originType, origin string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	prefix := messagePrefix(messageID)

	toExclude := unionCopy(idx.excludeRegistryPrefix[prefix], idx.excludeMessageID[messageID])
	toForward := map[string]bool{}
	mergeInto(toForward, idx.byRegistryPrefix[prefix])
	mergeInto(toForward, idx.byMessageID[messageID])

	if origin != "" {
		if originType != "" {
			mergeInto(toForward, idx.byResourceType[originType])
		}
		mergeInto(toForward, idx.byOrigin[origin])
		for key, ids := range idx.byOrigin {
			wildcardPrefix := strings.TrimSuffix(key, "/*")
			if strings.HasSuffix(key, "/*") && strings.HasPrefix(origin, wildcardPrefix) {
				mergeInto(toForward, ids)
			}
		}
	}

	var out []string
	for id := range toForward {
		if !toExclude[id] {
			out = append(out, id)
		}
	}
	return out
}

func addTo(bucket map[string]map[string]bool, key, id string) {
	if bucket[key] == nil {
		bucket[key] = map[string]bool{}
	}
	bucket[key][id] = true
}

func removeFrom(bucket map[string]map[string]bool, key, id string) {
	if set, ok := bucket[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(bucket, key)
		}
	}
}

func mergeInto(dst, src map[string]bool) {
	for k := range src {
		dst[k] = true
	}
}

func unionCopy(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	mergeInto(out, a)
	mergeInto(out, b)
	return out
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func messagePrefix(messageID string) string {
	parts := strings.SplitN(messageID, ".", 2)
	return parts[0]
}

func typeToken(odataType string) string {
	t := strings.TrimPrefix(odataType, "#")
	if idx := strings.Index(t, "."); idx >= 0 {
		return t[:idx]
	}
	return t
}

