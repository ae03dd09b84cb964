package sqlite

import (
	"database/sql"
	"time"
)

// Snapshot describes one persisted class index.
type Snapshot struct {
	ID        int64
	GUID      string
	Library   string
	Version   string
	CreatedAt time.Time
}

// SnapshotModel is the database row for the snapshots table.
type SnapshotModel struct {
	ID        int64
	GUID      string
	Library   string
	Version   string
	CreatedAt int64 // Unix timestamp
}

// ClassModel is the database row for the snapshot_classes table.
type ClassModel struct {
	SnapshotID int64
	Provider   string
	Category   string
	Name       string
	AliasOf    sql.NullString
}

func (m *SnapshotModel) toSnapshot() Snapshot {
	return Snapshot{
		ID:        m.ID,
		GUID:      m.GUID,
		Library:   m.Library,
		Version:   m.Version,
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
}

func scanSnapshot(scanner interface{ Scan(...any) error }) (*SnapshotModel, error) {
	var m SnapshotModel
	err := scanner.Scan(&m.ID, &m.GUID, &m.Library, &m.Version, &m.CreatedAt)
	return &m, err
}
