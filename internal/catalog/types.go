package catalog

import (
	"database/sql"
	"time"

	"github.com/worldlens/worldlens/internal/keys"
)

// Export is one snapshot of a store's classified keys.
type Export struct {
	ID        string    `json:"id"`
	StorePath string    `json:"store_path"`
	LevelName string    `json:"level_name"`
	Engine    string    `json:"engine"`
	KeyCount  int       `json:"key_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is one classified key as stored in the catalog. Coordinate fields
// are nil for kinds that do not carry them.
type Entry struct {
	ID            int64  `json:"id"`
	ExportID      string `json:"export_id"`
	Position      int    `json:"position"`
	Kind          string `json:"kind"`
	Label         string `json:"label"`
	KeyHex        string `json:"key_hex"`
	Dimension     *int64 `json:"dimension,omitempty"`
	X             *int64 `json:"x,omitempty"`
	Z             *int64 `json:"z,omitempty"`
	Subtype       string `json:"subtype,omitempty"`
	SubchunkIndex *int64 `json:"subchunk_index,omitempty"`
	ActorID       *int64 `json:"actor_id,omitempty"`
	VillageUUID   string `json:"village_uuid,omitempty"`
	ValueSize     *int64 `json:"value_size,omitempty"`
}

// ExportOptions controls what Export records.
type ExportOptions struct {
	// WithValueSizes reads every value to record its length.
	WithValueSizes bool
}

// Filters narrows a Query. Zero values match everything.
type Filters struct {
	ExportID  string
	StorePath string
	Kind      string
	Subtype   string
	Dimension *int64
	Page      int
	PageSize  int
}

// entryFromRecord fills the decoded columns of an Entry.
func entryFromRecord(pos int, r keys.Record) *Entry {
	e := &Entry{
		Position: pos,
		Kind:     r.Kind().String(),
		Label:    keys.Label(r),
		KeyHex:   keys.Hex(r.Raw()),
	}

	switch v := r.(type) {
	case keys.Chunk:
		e.Dimension = ptr(int64(v.Dimension))
		e.X = ptr(int64(v.X))
		e.Z = ptr(int64(v.Z))
		e.Subtype = v.Subtype.String()
		if v.HasSubchunk {
			e.SubchunkIndex = ptr(int64(v.SubchunkIndex))
		}
	case keys.ActorDigest:
		e.Dimension = ptr(int64(v.Dimension))
		e.X = ptr(int64(v.X))
		e.Z = ptr(int64(v.Z))
	case keys.Actor:
		e.ActorID = ptr(v.ID)
	case keys.Village:
		e.Subtype = v.Subtype.String()
		e.VillageUUID = v.UUID
	case keys.Named:
		e.Subtype = v.Name
	}
	return e
}

func ptr[T any](v T) *T { return &v }

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return ptr(n.Int64)
}
