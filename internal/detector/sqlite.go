package detector

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS detector_samples (
	detector  TEXT    NOT NULL,
	time      REAL    NOT NULL,
	field     TEXT    NOT NULL,
	component INTEGER NOT NULL,
	value     REAL    NOT NULL,
	PRIMARY KEY (detector, time, field, component)
);
CREATE TABLE IF NOT EXISTS detectors (
	name TEXT PRIMARY KEY,
	x    REAL NOT NULL,
	y    REAL NOT NULL
);`

// SQLiteSink stores every sample as one row per field component.
type SQLiteSink struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create detector schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(d Detector, recs []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO detectors (name, x, y) VALUES (?, ?, ?)`,
		d.Name, d.Location.X, d.Location.Y); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO detector_samples (detector, time, field, component, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		for _, f := range d.Fields {
			for c, v := range r.Values[f] {
				if _, err := stmt.Exec(d.Name, r.Time, f, c, v); err != nil {
					tx.Rollback()
					return err
				}
			}
		}
	}
	return tx.Commit()
}

// Query returns one component of one field for a detector in time order.
func (s *SQLiteSink) Query(detector, field string, component int) ([]float64, []float64, error) {
	rows, err := s.db.Query(`SELECT time, value FROM detector_samples
		WHERE detector = ? AND field = ? AND component = ? ORDER BY time`, detector, field, component)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var times, values []float64
	for rows.Next() {
		var t, v float64
		if err := rows.Scan(&t, &v); err != nil {
			return nil, nil, err
		}
		times = append(times, t)
		values = append(values, v)
	}
	return times, values, rows.Err()
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
