package repository // repository defines data access for spots

import (
	"context"      // context allows query cancellation and timeouts
	"database/sql" // sql provides DB primitives
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

const spotColumns = `id, zone_id, floor_level, spot_number, status, x_coord, y_coord, width, height, rotation,
	reserved_by, reserved_at, version, updated_at`

// SpotRepo is the MySQL implementation of SpotStore.
type SpotRepo struct {
	db *sql.DB
}

var _ SpotStore = (*SpotRepo)(nil)

// NewSpotRepo constructs a SpotRepo with the given DB handle.
func NewSpotRepo(db *sql.DB) *SpotRepo {
	return &SpotRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpot(sc rowScanner) (model.Spot, error) {
	var (
		s          model.Spot
		status     int
		reservedBy sql.NullString
		reservedAt sql.NullTime
	)
	if err := sc.Scan(&s.ID, &s.ZoneID, &s.FloorLevel, &s.SpotNumber, &status, &s.X, &s.Y, &s.Width, &s.Height,
		&s.Rotation, &reservedBy, &reservedAt, &s.Version, &s.UpdatedAt); err != nil {
		return model.Spot{}, err
	}
	st, err := model.ParseSpotStatus(status)
	if err != nil {
		return model.Spot{}, err
	}
	s.Status = st
	if reservedBy.Valid {
		v := reservedBy.String
		s.ReservedBy = &v
	}
	if reservedAt.Valid {
		v := reservedAt.Time.UTC()
		s.ReservedAt = &v
	}
	return s, nil
}

func (r *SpotRepo) query(ctx context.Context, q string, args ...any) ([]model.Spot, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Unavailable("registry", err)
	}
	defer rows.Close()

	var result []model.Spot
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("registry", err)
	}
	return result, nil
}

// Get retrieves a spot by its id.
func (r *SpotRepo) Get(ctx context.Context, id int64) (model.Spot, error) {
	q := `SELECT ` + spotColumns + ` FROM spots WHERE id = ?`
	s, err := scanSpot(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Spot{}, translate(err, "spot", id)
	}
	return s, nil
}

// ListByZone retrieves all spots of a zone ordered by floor then number.
func (r *SpotRepo) ListByZone(ctx context.Context, zoneID int64) ([]model.Spot, error) {
	q := `SELECT ` + spotColumns + ` FROM spots WHERE zone_id = ? ORDER BY floor_level, spot_number`
	return r.query(ctx, q, zoneID)
}

// ListByFloor retrieves the spots of one floor.
func (r *SpotRepo) ListByFloor(ctx context.Context, zoneID int64, floor int) ([]model.Spot, error) {
	q := `SELECT ` + spotColumns + ` FROM spots WHERE zone_id = ? AND floor_level = ? ORDER BY spot_number`
	return r.query(ctx, q, zoneID, floor)
}

// ListReserved retrieves every spot whose reservation window is running.
func (r *SpotRepo) ListReserved(ctx context.Context) ([]model.Spot, error) {
	q := `SELECT ` + spotColumns + ` FROM spots WHERE status = ? ORDER BY reserved_at`
	return r.query(ctx, q, int(model.StatusReserved))
}

// ActiveClaim returns the spot held by userID, or nil.
func (r *SpotRepo) ActiveClaim(ctx context.Context, userID string) (*model.Spot, error) {
	q := `SELECT ` + spotColumns + ` FROM spots WHERE reserved_by = ? AND status IN (?, ?) LIMIT 1`
	s, err := scanSpot(r.db.QueryRowContext(ctx, q, userID, int(model.StatusReserved), int(model.StatusOccupied)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Unavailable("registry", err)
	}
	return &s, nil
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

// CompareAndSwap updates the mutable columns of a spot in one conditional
// statement.  The exclusive-claim guard uses a derived table with LIMIT so
// MySQL materialises it instead of rejecting the self-reference; the
// unique index on active_holder backs it up under concurrent writers.
func (r *SpotRepo) CompareAndSwap(ctx context.Context, next model.Spot, expect int64, g Guard) (model.Spot, error) {
	q := `UPDATE spots
	      SET status = ?, reserved_by = ?, reserved_at = ?, x_coord = ?, y_coord = ?, version = ?, updated_at = ?
	      WHERE id = ? AND version = ?`
	args := []any{int(next.Status), nullString(next.ReservedBy), nullTime(next.ReservedAt), next.X, next.Y,
		next.Version, next.UpdatedAt.UTC(), next.ID, expect}
	if g.ExclusiveClaimFor != "" {
		q += ` AND NOT EXISTS (SELECT 1 FROM (SELECT id FROM spots WHERE reserved_by = ? AND status IN (1, 2) AND id <> ? LIMIT 1) AS claims)`
		args = append(args, g.ExclusiveClaimFor, next.ID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return model.Spot{}, apperr.Conflict(next.ID, "user already holds another spot")
		}
		return model.Spot{}, apperr.Unavailable("registry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Spot{}, apperr.Conflict(next.ID, "spot was modified concurrently")
	}
	return next, nil
}

// Insert creates a spot.  On success the spot's ID is populated.
func (r *SpotRepo) Insert(ctx context.Context, s model.Spot) (model.Spot, error) {
	if s.Version == 0 {
		s.Version = 1
	}
	const q = `INSERT INTO spots (zone_id, floor_level, spot_number, status, x_coord, y_coord, width, height, rotation,
	           reserved_by, reserved_at, version, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.ZoneID, s.FloorLevel, s.SpotNumber, int(s.Status), s.X, s.Y, s.Width,
		s.Height, s.Rotation, nullString(s.ReservedBy), nullTime(s.ReservedAt), s.Version, s.UpdatedAt.UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return model.Spot{}, apperr.Conflict(0, fmt.Sprintf("spot number %q already exists on floor %d", s.SpotNumber, s.FloorLevel))
		}
		return model.Spot{}, apperr.Unavailable("registry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Spot{}, apperr.Unavailable("registry", err)
	}
	s.ID = id
	return s, nil
}

// Delete removes a spot and returns the row that was removed.
func (r *SpotRepo) Delete(ctx context.Context, id int64) (model.Spot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Spot{}, apperr.Unavailable("registry", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	q := `SELECT ` + spotColumns + ` FROM spots WHERE id = ? FOR UPDATE`
	before, err := scanSpot(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return model.Spot{}, translate(err, "spot", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spots WHERE id = ?`, id); err != nil {
		return model.Spot{}, apperr.Unavailable("registry", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Spot{}, apperr.Unavailable("registry", err)
	}
	committed = true
	return before, nil
}

func floorPlaceholders(floors []int) (string, []any) {
	marks := make([]string, len(floors))
	args := make([]any, len(floors))
	for i, f := range floors {
		marks[i] = "?"
		args[i] = f
	}
	return strings.Join(marks, ", "), args
}

func (r *SpotRepo) queryTx(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]model.Spot, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.Spot
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ReplaceFloors removes every spot on the given floors and bulk inserts the
// replacements inside one transaction.  A failure before commit rolls the
// whole batch back.  A failed commit leaves the outcome unknown and is
// reported as a PartialFailureError.
func (r *SpotRepo) ReplaceFloors(ctx context.Context, zoneID int64, floors []int, spots []model.Spot) (ReplaceResult, error) {
	if len(floors) == 0 {
		return ReplaceResult{}, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ReplaceResult{}, apperr.Unavailable("registry", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	marks, floorArgs := floorPlaceholders(floors)
	args := append([]any{zoneID}, floorArgs...)

	deleted, err := r.queryTx(ctx, tx,
		`SELECT `+spotColumns+` FROM spots WHERE zone_id = ? AND floor_level IN (`+marks+`) FOR UPDATE`, args...)
	if err != nil {
		return ReplaceResult{}, apperr.Unavailable("registry", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spots WHERE zone_id = ? AND floor_level IN (`+marks+`)`, args...); err != nil {
		return ReplaceResult{}, apperr.Unavailable("registry", err)
	}

	if len(spots) > 0 {
		query := `INSERT INTO spots (zone_id, floor_level, spot_number, status, x_coord, y_coord, width, height, rotation, version, updated_at) VALUES `
		ins := make([]any, 0, len(spots)*11)
		for i, s := range spots {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			ins = append(ins, zoneID, s.FloorLevel, s.SpotNumber, int(model.StatusAvailable), s.X, s.Y, s.Width,
				s.Height, s.Rotation, 1, s.UpdatedAt.UTC())
		}
		res, err := tx.ExecContext(ctx, query, ins...)
		if err != nil {
			if isDuplicateKey(err) {
				return ReplaceResult{}, apperr.Conflict(0, "duplicate spot number in replicated layout")
			}
			return ReplaceResult{}, apperr.Unavailable("registry", err)
		}
		if n, _ := res.RowsAffected(); n != int64(len(spots)) {
			return ReplaceResult{}, apperr.Unavailable("registry",
				fmt.Errorf("inserted %d of %d spots", n, len(spots)))
		}
	}

	created, err := r.queryTx(ctx, tx,
		`SELECT `+spotColumns+` FROM spots WHERE zone_id = ? AND floor_level IN (`+marks+`) ORDER BY floor_level, spot_number`, args...)
	if err != nil {
		return ReplaceResult{}, apperr.Unavailable("registry", err)
	}

	if err := tx.Commit(); err != nil {
		return ReplaceResult{}, &apperr.PartialFailureError{ZoneID: zoneID, Floors: floors, Stage: "commit", Err: err}
	}
	committed = true
	return ReplaceResult{Deleted: deleted, Created: created}, nil
}
