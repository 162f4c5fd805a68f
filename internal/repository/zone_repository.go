package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// ZoneRepo reads zones from MySQL.
type ZoneRepo struct {
	db *sql.DB
}

// NewZoneRepo constructs a ZoneRepo with the given DB handle.
func NewZoneRepo(db *sql.DB) *ZoneRepo { return &ZoneRepo{db: db} }

// Zone retrieves a zone by id.
func (r *ZoneRepo) Zone(ctx context.Context, id int64) (model.Zone, error) {
	const q = `SELECT id, name, kind, total_floors, created_at FROM zones WHERE id = ?`
	var z model.Zone
	var kind string
	err := r.db.QueryRowContext(ctx, q, id).Scan(&z.ID, &z.Name, &kind, &z.TotalFloors, &z.CreatedAt)
	if err != nil {
		return model.Zone{}, translate(err, "zone", id)
	}
	z.Kind = model.ZoneKind(kind)
	return z, nil
}

// GateRepo reads gates from MySQL.
type GateRepo struct {
	db *sql.DB
}

// NewGateRepo constructs a GateRepo with the given DB handle.
func NewGateRepo(db *sql.DB) *GateRepo { return &GateRepo{db: db} }

// Gates lists the gates of a zone ordered by id.
func (r *GateRepo) Gates(ctx context.Context, zoneID int64) ([]model.Gate, error) {
	const q = `SELECT id, zone_id, name, x_coord, y_coord FROM gates WHERE zone_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, zoneID)
	if err != nil {
		return nil, translate(err, "zone", zoneID)
	}
	defer rows.Close()

	var result []model.Gate
	for rows.Next() {
		var g model.Gate
		if err := rows.Scan(&g.ID, &g.ZoneID, &g.Name, &g.X, &g.Y); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "zone", zoneID)
	}
	return result, nil
}

// DBCatalog combines the MySQL zone and gate repositories into a Catalog.
type DBCatalog struct {
	*ZoneRepo
	*GateRepo
}

var _ Catalog = DBCatalog{}

// NewDBCatalog builds a Catalog backed by db.
func NewDBCatalog(db *sql.DB) DBCatalog {
	return DBCatalog{ZoneRepo: NewZoneRepo(db), GateRepo: NewGateRepo(db)}
}
