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

package redfish

import "strings"

// TypeToken extracts the schema token ("Type") out of an @odata.type value
// of the form "#Namespace.version.Type", e.g. "#Chassis.v1_22_0.Chassis"
// yields "Chassis".
func TypeToken(odataType string) string {
	s := strings.TrimPrefix(odataType, "#")
	parts := strings.Split(s, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Parent returns the @odata.id of the path one segment up from id, or ""
// if id has a single segment (e.g. "/redfish"); Parent("/redfish/v1") is
// "/redfish".
func Parent(id string) string {
	trimmed := strings.TrimSuffix(id, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return ""
	}
	return trimmed[:idx]
}

// Join concatenates a base @odata.id and a relative path segment with
// exactly one separating slash.
func Join(base, segment string) string {
	base = strings.TrimSuffix(base, "/")
	segment = strings.TrimPrefix(segment, "/")
	if segment == "" {
		return base
	}
	return base + "/" + segment
}

// IsDescendant reports whether candidate sits at or below ancestor in the
// URI hierarchy.
func IsDescendant(ancestor, candidate string) bool {
	ancestor = strings.TrimSuffix(ancestor, "/")
	candidate = strings.TrimSuffix(candidate, "/")
	if candidate == ancestor {
		return true
	}
	return strings.HasPrefix(candidate, ancestor+"/")
}

// RewriteIDs recursively rewrites nested "@odata.id" string values found in
// node, skipping the Oem.Sunfish_RM subtree and node's own top-level self
// id, by applying translate to each candidate id. translate returns the
// replacement and whether one applies; a false result leaves the id
// untouched. inOem reports whether node is itself the value of an "Oem"
// key; callers start the walk with false. Reports whether anything changed.
func RewriteIDs(node any, self string, inOem bool, translate func(id string) (string, bool)) bool {
	changed := false
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			if inOem && k == "Sunfish_RM" {
				continue
			}
			if k == "@odata.id" {
				if id, ok := val.(string); ok && id != self {
					if repl, ok := translate(id); ok && repl != id {
						v[k] = repl
						changed = true
					}
				}
				continue
			}
			if RewriteIDs(val, self, k == "Oem", translate) {
				changed = true
			}
		}
	case []any:
		for _, item := range v {
			if RewriteIDs(item, self, false, translate) {
				changed = true
			}
		}
	}
	return changed
}
