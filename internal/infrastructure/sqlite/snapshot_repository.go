package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/discovery/manifest"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/provider"
)

// ErrNoSnapshot is returned when no snapshot matches a lookup.
var ErrNoSnapshot = errors.New("no discovery snapshot")

const snapshotColumns = `id, guid, library, version, created_at`

// SnapshotStore saves and reads discovery snapshots.
type SnapshotStore struct {
	db *sql.DB
}

func newSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists every category and class of m as a new snapshot.
func (s *SnapshotStore) Save(ctx context.Context, m *manifest.Manifest) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	model := SnapshotModel{
		GUID:      uuid.New().String(),
		Library:   m.Library,
		Version:   m.Version,
		CreatedAt: time.Now().Unix(),
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (guid, library, version, created_at) VALUES (?, ?, ?, ?)`,
		model.GUID, model.Library, model.Version, model.CreatedAt,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	model.ID, err = result.LastInsertId()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get last insert id: %w", err)
	}

	classes := 0
	for _, pname := range sortedKeys(m.Providers) {
		modules := m.Providers[pname]
		for _, cname := range sortedKeys(modules) {
			def := modules[cname]
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO snapshot_categories (snapshot_id, provider, name, module) VALUES (?, ?, ?, ?)`,
				model.ID, pname, cname, def.Module,
			); err != nil {
				return Snapshot{}, fmt.Errorf("failed to insert category %s/%s: %w", pname, cname, err)
			}

			rows := make([]ClassModel, 0, len(def.Classes)+len(def.Aliases))
			for _, name := range def.Classes {
				rows = append(rows, ClassModel{SnapshotID: model.ID, Provider: pname, Category: cname, Name: name})
			}
			for _, alias := range sortedKeys(def.Aliases) {
				rows = append(rows, ClassModel{
					SnapshotID: model.ID, Provider: pname, Category: cname, Name: alias,
					AliasOf: sql.NullString{String: def.Aliases[alias], Valid: true},
				})
			}
			for _, row := range rows {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO snapshot_classes (snapshot_id, provider, category, name, alias_of) VALUES (?, ?, ?, ?, ?)`,
					row.SnapshotID, row.Provider, row.Category, row.Name, row.AliasOf,
				); err != nil {
					return Snapshot{}, fmt.Errorf("failed to insert class %s/%s.%s: %w", pname, cname, row.Name, err)
				}
			}
			classes += len(rows)
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	log.Info(log.CatDB, "Saved discovery snapshot",
		"guid", model.GUID, "library", model.Library, "version", model.Version, "classes", classes)
	return model.toSnapshot(), nil
}

// Latest returns the most recently saved snapshot.
func (s *SnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY id DESC LIMIT 1`)
	model, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	return model.toSnapshot(), nil
}

// FindByGUID returns the snapshot with the given GUID.
func (s *SnapshotStore) FindByGUID(ctx context.Context, guid string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE guid = ?`, guid)
	model, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoSnapshot, guid)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to find snapshot by guid: %w", err)
	}
	return model.toSnapshot(), nil
}

// List returns every snapshot, newest first.
func (s *SnapshotStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		model, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, model.toSnapshot())
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep snapshots and returns how many were removed.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	if n > 0 {
		log.Info(log.CatDB, "Pruned discovery snapshots", "removed", n, "kept", keep)
	}
	return n, nil
}

// Manifest rebuilds the manifest that produced snap.
func (s *SnapshotStore) Manifest(ctx context.Context, snap Snapshot) (*manifest.Manifest, error) {
	m := &manifest.Manifest{
		Library:   snap.Library,
		Version:   snap.Version,
		Providers: make(map[string]map[string]manifest.ModuleDef),
	}
	in := s.Introspector(snap)
	for _, p := range provider.All() {
		categories, err := in.Categories(ctx, p)
		if errors.Is(err, ErrNoSnapshot) {
			continue
		}
		if err != nil {
			return nil, err
		}
		modules := make(map[string]manifest.ModuleDef, len(categories))
		for _, c := range categories {
			classes, err := in.Classes(ctx, p, c)
			if err != nil {
				return nil, err
			}
			def := manifest.ModuleDef{Module: c.Module}
			for _, class := range classes {
				if class.AliasOf == "" {
					def.Classes = append(def.Classes, class.Name)
					continue
				}
				if def.Aliases == nil {
					def.Aliases = make(map[string]string)
				}
				def.Aliases[class.Name] = class.AliasOf
			}
			modules[c.Name] = def
		}
		m.Providers[p.String()] = modules
	}
	return m, nil
}

// Introspector serves snap as a discovery source. It stays pinned to snap.
func (s *SnapshotStore) Introspector(snap Snapshot) discovery.Introspector {
	return s.introspector(snap, false)
}

// LatestIntrospector serves the most recent snapshot and moves to whatever
// snapshot is latest on every Reload.
func (s *SnapshotStore) LatestIntrospector(ctx context.Context) (*SnapshotIntrospector, error) {
	snap, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.introspector(snap, true), nil
}

func (s *SnapshotStore) introspector(snap Snapshot, follow bool) *SnapshotIntrospector {
	i := &SnapshotIntrospector{store: s, follow: follow}
	i.snapshot.Store(&snap)
	return i
}

// SnapshotIntrospector reads classes from one stored snapshot.
type SnapshotIntrospector struct {
	store    *SnapshotStore
	snapshot atomic.Pointer[Snapshot]
	follow   bool
}

// Snapshot returns the snapshot currently served.
func (i *SnapshotIntrospector) Snapshot() Snapshot {
	return *i.snapshot.Load()
}

// Reload switches to the latest snapshot when the introspector follows it.
func (i *SnapshotIntrospector) Reload(ctx context.Context) error {
	if !i.follow {
		return nil
	}
	snap, err := i.store.Latest(ctx)
	if err != nil {
		return err
	}
	if prev := i.snapshot.Swap(&snap); prev.ID != snap.ID {
		log.Info(log.CatDB, "Switched to newer snapshot", "from", prev.GUID, "to", snap.GUID, "version", snap.Version)
	}
	return nil
}

func (i *SnapshotIntrospector) Categories(ctx context.Context, p provider.Provider) ([]discovery.Category, error) {
	snap := i.snapshot.Load()
	rows, err := i.store.db.QueryContext(ctx,
		`SELECT name, module FROM snapshot_categories WHERE snapshot_id = ? AND provider = ? ORDER BY name`,
		snap.ID, p.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []discovery.Category
	for rows.Next() {
		var c discovery.Category
		if err := rows.Scan(&c.Name, &c.Module); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: snapshot %s has no provider %s", ErrNoSnapshot, snap.GUID, p)
	}
	return out, nil
}

func (i *SnapshotIntrospector) Classes(ctx context.Context, p provider.Provider, c discovery.Category) ([]discovery.Class, error) {
	snap := i.snapshot.Load()
	rows, err := i.store.db.QueryContext(ctx,
		`SELECT name, alias_of FROM snapshot_classes
		 WHERE snapshot_id = ? AND provider = ? AND category = ? ORDER BY rowid`,
		snap.ID, p.String(), c.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []discovery.Class
	for rows.Next() {
		var (
			name    string
			aliasOf sql.NullString
		)
		if err := rows.Scan(&name, &aliasOf); err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		out = append(out, discovery.Class{
			Name:     name,
			Module:   c.Module,
			Category: c.Name,
			AliasOf:  aliasOf.String,
		})
	}
	return out, rows.Err()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
