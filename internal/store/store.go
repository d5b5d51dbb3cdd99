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

// Package store implements the path-addressed Resource Store: a
// canonical-path-to-JSON-object map with auto-managed collection objects,
// backed by sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"sunfish/pkg/aggerrors"
	"sunfish/pkg/models"

	_ "modernc.org/sqlite"
)

// Store is the Resource Store described in the component design: a
// path-keyed JSON document map with lazily-synthesized collections.
type Store struct {
	conn *sql.DB
	mu   sync.Mutex // serializes the whole write path, per the concurrency model
}

// Open creates or opens the sqlite-backed resource store at dbPath and
// ensures its schema exists.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	s := &Store{conn: conn}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	slog.Info("running resource store migrations")
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS resources (
			path TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			parent TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_parent ON resources(parent)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Read returns the stored object at path.
func (s *Store) Read(ctx context.Context, path string) (models.Resource, error) {
	return s.readLocked(ctx, path)
}

func (s *Store) readLocked(ctx context.Context, path string) (models.Resource, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, `SELECT doc FROM resources WHERE path = ?`, path).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &aggerrors.ResourceNotFound{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var res models.Resource
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return res, nil
}

// Exists reports whether path has a stored object.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM resources WHERE path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", path, err)
	}
	return true, nil
}

// Write creates object at its @odata.id, creating any intermediate
// collection objects and updating the parent collection's
// Members/Members@odata.count. It rejects the write if the object's
// ancestors do not exist, and rejects duplicate @odata.id insertion into a
// collection.
func (s *Store) Write(ctx context.Context, obj models.Resource) error {
	path := obj.ODataID()
	if path == "" {
		return &aggerrors.ActionNotAllowed{Reason: "object has no @odata.id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if exists, err := s.existsLocked(ctx, path); err != nil {
		return err
	} else if exists {
		return &aggerrors.AlreadyExists{Path: path}
	}

	parent := parentPath(path)
	if parent != "" && !isRoot(parent) {
		if err := s.ensureCollectionLocked(ctx, parent); err != nil {
			return err
		}
	}

	if err := s.putLocked(ctx, path, obj, parent); err != nil {
		return err
	}

	if parent != "" && !isRoot(parent) {
		if err := s.addMemberLocked(ctx, parent, path); err != nil {
			return err
		}
	}
	return nil
}

// ensureCollectionLocked lazily creates collectionPath as an empty
// collection if absent, provided the singleton entity that would contain
// it (its own parent) already exists. If that grandparent is itself
// missing, the write is rejected: collections are synthesized on first
// member insert, but arbitrary ancestor chains are not.
func (s *Store) ensureCollectionLocked(ctx context.Context, collectionPath string) error {
	if collectionPath == "" || isRoot(collectionPath) {
		return nil
	}
	exists, err := s.existsLocked(ctx, collectionPath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	grandparent := parentPath(collectionPath)
	if grandparent != "" && !isRoot(grandparent) {
		ok, err := s.existsLocked(ctx, grandparent)
		if err != nil {
			return err
		}
		if !ok {
			return &aggerrors.ActionNotAllowed{Reason: fmt.Sprintf("ancestors of %s do not exist", collectionPath)}
		}
	}
	coll := models.Resource{
		"@odata.id":           collectionPath,
		"@odata.type":         "#Collection.Collection",
		"Name":                lastSegment(collectionPath),
		"Members":             []any{},
		"Members@odata.count": 0,
	}
	return s.putLocked(ctx, collectionPath, coll, grandparent)
}

func (s *Store) addMemberLocked(ctx context.Context, collectionPath, memberPath string) error {
	coll, err := s.readLocked(ctx, collectionPath)
	if err != nil {
		var nf *aggerrors.ResourceNotFound
		if !errors.As(err, &nf) {
			return err
		}
		coll = models.Resource{
			"@odata.id":           collectionPath,
			"@odata.type":         "#Collection.Collection",
			"Name":                lastSegment(collectionPath),
			"Members":             []any{},
			"Members@odata.count": 0,
		}
	}
	members := coll.Members()
	for _, m := range members {
		if m == memberPath {
			return &aggerrors.AlreadyExists{Path: memberPath}
		}
	}
	members = append(members, memberPath)
	coll.SetMembers(members)
	return s.putLocked(ctx, collectionPath, coll, parentPath(collectionPath))
}

func (s *Store) removeMemberLocked(ctx context.Context, collectionPath, memberPath string) error {
	coll, err := s.readLocked(ctx, collectionPath)
	if err != nil {
		return nil // nothing to prune
	}
	members := coll.Members()
	out := members[:0]
	for _, m := range members {
		if m != memberPath {
			out = append(out, m)
		}
	}
	coll.SetMembers(out)
	return s.putLocked(ctx, collectionPath, coll, parentPath(collectionPath))
}

// Replace overwrites the whole object at @odata.id.
func (s *Store) Replace(ctx context.Context, obj models.Resource) error {
	path := obj.ODataID()
	if path == "" {
		return &aggerrors.ActionNotAllowed{Reason: "object has no @odata.id"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.existsLocked(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return &aggerrors.ResourceNotFound{Path: path}
	}
	return s.putLocked(ctx, path, obj, parentPath(path))
}

// Patch deep-merges the top-level keys of partial into the stored object at
// path.
func (s *Store) Patch(ctx context.Context, path string, partial models.Resource) (models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	merged := deepMergeTop(current, partial)
	if err := s.putLocked(ctx, path, merged, parentPath(path)); err != nil {
		return nil, err
	}
	return merged, nil
}

// Remove deletes the object at path, rewrites its containing collection's
// Members/count, and prunes references to path from every other resource's
// Links.
func (s *Store) Remove(ctx context.Context, path string) error {
	if path == "" {
		return &aggerrors.ActionNotAllowed{Reason: "empty path"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.existsLocked(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return &aggerrors.ResourceNotFound{Path: path}
	}

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM resources WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete %s: %w", path, err)
	}

	parent := parentPath(path)
	if parent != "" {
		if err := s.removeMemberLocked(ctx, parent, path); err != nil {
			return err
		}
	}

	return s.pruneLinksLocked(ctx, path)
}

// pruneLinksLocked scans every stored resource for references to removed
// inside any Links.* list or dict and removes them, dropping relation keys
// left empty.
func (s *Store) pruneLinksLocked(ctx context.Context, removed string) error {
	rows, err := s.conn.QueryContext(ctx, `SELECT path, doc FROM resources`)
	if err != nil {
		return fmt.Errorf("store: scan for link prune: %w", err)
	}
	type update struct {
		path string
		doc  models.Resource
	}
	var updates []update
	for rows.Next() {
		var path, doc string
		if err := rows.Scan(&path, &doc); err != nil {
			_ = rows.Close()
			return fmt.Errorf("store: scan row: %w", err)
		}
		var res models.Resource
		if err := json.Unmarshal([]byte(doc), &res); err != nil {
			continue
		}
		links, ok := res["Links"].(map[string]any)
		if !ok {
			continue
		}
		changed := pruneLinksMap(links, removed)
		if changed {
			if len(links) == 0 {
				delete(res, "Links")
			} else {
				res["Links"] = links
			}
			updates = append(updates, update{path: path, doc: res})
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, u := range updates {
		if err := s.putLocked(ctx, u.path, u.doc, parentPath(u.path)); err != nil {
			return err
		}
	}
	return nil
}

// pruneLinksMap removes entries referencing removed from a Links map,
// handling both single-reference ({@odata.id}) and list-of-reference
// relation values, and deletes relation keys left empty.
func pruneLinksMap(links map[string]any, removed string) bool {
	changed := false
	for key, val := range links {
		switch v := val.(type) {
		case map[string]any:
			if id, _ := v["@odata.id"].(string); id == removed {
				delete(links, key)
				changed = true
			}
		case []any:
			out := v[:0]
			for _, item := range v {
				entry, ok := item.(map[string]any)
				if ok {
					if id, _ := entry["@odata.id"].(string); id == removed {
						changed = true
						continue
					}
				}
				out = append(out, item)
			}
			if len(out) == 0 {
				delete(links, key)
				changed = true
			} else {
				links[key] = out
			}
		}
	}
	return changed
}

func (s *Store) existsLocked(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM resources WHERE path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) putLocked(ctx context.Context, path string, obj models.Resource, parent string) error {
	doc, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO resources (path, doc, parent, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET doc = excluded.doc, parent = excluded.parent, updated_at = CURRENT_TIMESTAMP
	`, path, string(doc), parent)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", path, err)
	}
	return nil
}

// All returns every stored resource; used for alias-registry crash
// recovery and subscription-index rebuild-on-start.
func (s *Store) All(ctx context.Context) ([]models.Resource, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT doc FROM resources`)
	if err != nil {
		return nil, fmt.Errorf("store: scan all: %w", err)
	}
	defer rows.Close()

	var out []models.Resource
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var res models.Resource
		if err := json.Unmarshal([]byte(doc), &res); err != nil {
			continue
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func deepMergeTop(base, overlay models.Resource) models.Resource {
	merged := base.Clone()
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func parentPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return ""
	}
	return trimmed[:idx]
}

func isRoot(path string) bool {
	return path == "" || path == "/redfish/v1" || path == "/redfish"
}

func lastSegment(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}
