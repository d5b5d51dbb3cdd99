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

// Package objecthandler implements the Object Handler Table: per-resource-
// type hooks the Core Façade runs after a CRUD write settles, the only
// built-in one being the Subscription Index upkeep for EventDestination.
package objecthandler

import (
	"context"
	"log/slog"
	"strings"

	"sunfish/internal/subscription"
	"sunfish/pkg/models"
)

// Verb identifies which CRUD operation triggered the hook.
type Verb int

const (
	VerbCreate Verb = iota
	VerbReplace
	VerbPatch
	VerbDelete
)

// Hook is a per-resource-type side effect run after a write settles.
// Absence of a hook for a type is not an error: the core proceeds without
// custom side effects.
type Hook func(ctx context.Context, verb Verb, obj models.Resource)

// Table dispatches by resource type token (the leading segment of
// @odata.type).
type Table struct {
	hooks map[string]Hook
}

// New constructs a Table with the built-in EventDestination hook wired to
// subs, plus any caller-registered hooks.
func New(subs *subscription.Index) *Table {
	t := &Table{hooks: map[string]Hook{}}
	t.Register("EventDestination", eventDestinationHook(subs))
	return t
}

// Register installs (or replaces) the hook for a resource type.
func (t *Table) Register(resourceType string, hook Hook) {
	t.hooks[resourceType] = hook
}

// Dispatch runs the hook registered for obj's resource type, if any.
func (t *Table) Dispatch(ctx context.Context, verb Verb, obj models.Resource) {
	token := typeToken(obj.ODataType())
	hook, ok := t.hooks[token]
	if !ok {
		return
	}
	hook(ctx, verb, obj)
}

// DispatchDelete runs the EventDestination hook's removal path when the
// deleted object's type can no longer be read from a live document; id is
// the deleted path.
func (t *Table) DispatchDelete(subs *subscription.Index, id string) {
	subs.Delete(id)
}

func eventDestinationHook(subs *subscription.Index) Hook {
	return func(ctx context.Context, verb Verb, obj models.Resource) {
		switch verb {
		case VerbCreate, VerbReplace, VerbPatch:
			dest := models.ParseEventDestination(obj)
			if err := subs.Index(dest); err != nil {
				slog.Warn("objecthandler: subscription failed validation, stored anyway", "id", dest.ID, "error", err)
			}
		case VerbDelete:
			subs.Delete(obj.ID())
		}
	}
}

func typeToken(odataType string) string {
	t := strings.TrimPrefix(odataType, "#")
	if idx := strings.Index(t, "."); idx >= 0 {
		return t[:idx]
	}
	return t
}
