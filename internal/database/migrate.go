package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Migration is one versioned schema step.  A step may hold several
// statements; MySQL commits DDL implicitly, so each statement is applied
// on its own and the step is recorded once all of them succeed.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations is the schema of the service in application order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "zones_and_gates",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS zones (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				name VARCHAR(120) NOT NULL,
				kind ENUM('building','outdoor') NOT NULL,
				total_floors INT NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS gates (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				zone_id BIGINT UNSIGNED NOT NULL,
				name VARCHAR(120) NOT NULL,
				x_coord DOUBLE NOT NULL,
				y_coord DOUBLE NOT NULL,
				CONSTRAINT fk_gates_zone FOREIGN KEY (zone_id) REFERENCES zones(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		Version: 2,
		Name:    "spots",
		Statements: []string{
			// reserved_at keeps microseconds: it is the token that matches an
			// expiry timer to the reservation that armed it.
			`CREATE TABLE IF NOT EXISTS spots (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
				zone_id BIGINT UNSIGNED NOT NULL,
				floor_level INT NOT NULL DEFAULT 0,
				spot_number VARCHAR(64) NOT NULL,
				status TINYINT NOT NULL DEFAULT 0,
				x_coord DOUBLE NOT NULL,
				y_coord DOUBLE NOT NULL,
				width DOUBLE NOT NULL DEFAULT 0,
				height DOUBLE NOT NULL DEFAULT 0,
				rotation DOUBLE NOT NULL DEFAULT 0,
				reserved_by VARCHAR(64) NULL,
				reserved_at DATETIME(6) NULL,
				version BIGINT UNSIGNED NOT NULL DEFAULT 1,
				updated_at DATETIME(6) NOT NULL,
				active_holder VARCHAR(64) AS (IF(status IN (1, 2), reserved_by, NULL)) STORED,
				CONSTRAINT fk_spots_zone FOREIGN KEY (zone_id) REFERENCES zones(id) ON DELETE CASCADE,
				CONSTRAINT chk_spots_status CHECK (status IN (0, 1, 2)),
				UNIQUE KEY uq_spots_number (zone_id, floor_level, spot_number),
				UNIQUE KEY uq_spots_active_holder (active_holder),
				KEY idx_spots_holder (reserved_by, status),
				KEY idx_spots_status (status, reserved_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INT NOT NULL PRIMARY KEY,
	name VARCHAR(120) NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// Migrate applies every migration not yet recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}
		for i, stmt := range m.Statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s) statement %d: %w", m.Version, m.Name, i+1, err)
			}
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		log.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

// SeedDemo inserts a three-floor building with one gate if the zones table
// is empty.  It is meant for local development only.
func SeedDemo(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zones`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	res, err := db.ExecContext(ctx, `INSERT INTO zones (name, kind, total_floors) VALUES (?, 'building', 3)`, "Demo Garage")
	if err != nil {
		return err
	}
	zoneID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO gates (zone_id, name, x_coord, y_coord) VALUES (?, ?, 50, 50)`, zoneID, "Main")
	return err
}
