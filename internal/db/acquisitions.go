package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

// ErrAcquisitionNotFound is returned when no acquisition has the given id.
var ErrAcquisitionNotFound = errors.New("acquisition not found")

// Acquisition is one persisted recording session.
type Acquisition struct {
	ID            string     `json:"id"`
	BasePath      string     `json:"base_path"`
	DeviceKind    string     `json:"device_kind"`
	DeviceName    string     `json:"device_name"`
	DeviceAddress string     `json:"device_address"`
	Activity      string     `json:"activity"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	CorrectData   bool       `json:"correct_data"`
	Error         string     `json:"error,omitempty"`
	RRCount       int        `json:"rr_count"`
}

// CreateAcquisition inserts a, assigning an ID when it has none.
func (db *DB) CreateAcquisition(a *Acquisition) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO acquisitions (
			acquisition_id, base_path, device_kind, device_name, device_address,
			activity, started_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BasePath, a.DeviceKind, a.DeviceName, a.DeviceAddress,
		a.Activity, a.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert acquisition: %w", err)
	}
	return nil
}

// FinishAcquisition records the end of an acquisition.
func (db *DB) FinishAcquisition(id string, endedAt time.Time, correctData bool, errMsg string) error {
	res, err := db.Exec(`
		UPDATE acquisitions
		SET ended_unix_nanos = ?, correct_data = ?, error = ?
		WHERE acquisition_id = ?`,
		endedAt.UnixNano(), correctData, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("finish acquisition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAcquisitionNotFound, id)
	}
	return nil
}

const acquisitionColumns = `
	a.acquisition_id, a.base_path, a.device_kind, a.device_name, a.device_address,
	a.activity, a.started_unix_nanos, a.ended_unix_nanos, a.correct_data, a.error,
	(SELECT COUNT(*) FROM rr_values r WHERE r.acquisition_id = a.acquisition_id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAcquisition(row rowScanner) (Acquisition, error) {
	var (
		a       Acquisition
		started int64
		ended   sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.BasePath, &a.DeviceKind, &a.DeviceName, &a.DeviceAddress,
		&a.Activity, &started, &ended, &a.CorrectData, &a.Error, &a.RRCount)
	if err != nil {
		return a, err
	}
	a.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		a.EndedAt = &t
	}
	return a, nil
}

// GetAcquisition returns the acquisition with the given id.
func (db *DB) GetAcquisition(id string) (Acquisition, error) {
	row := db.QueryRow(`SELECT `+acquisitionColumns+` FROM acquisitions a WHERE a.acquisition_id = ?`, id)
	a, err := scanAcquisition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("%w: %s", ErrAcquisitionNotFound, id)
	}
	return a, err
}

// RecentAcquisitions returns up to limit acquisitions, newest first.
func (db *DB) RecentAcquisitions(limit int) ([]Acquisition, error) {
	rows, err := db.Query(`SELECT `+acquisitionColumns+`
		FROM acquisitions a
		ORDER BY a.started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Acquisition
	for rows.Next() {
		a, err := scanAcquisition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcquisitionRR returns the RR values of an acquisition in arrival order.
func (db *DB) AcquisitionRR(id string) ([]int, error) {
	rows, err := db.Query(`SELECT rr_ms FROM rr_values WHERE acquisition_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AcquisitionTags returns the tags of an acquisition in arrival order.
func (db *DB) AcquisitionTags(id string) ([]sink.Tag, error) {
	rows, err := db.Query(`SELECT name, begin_s, end_s FROM tags WHERE acquisition_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sink.Tag
	for rows.Next() {
		var t sink.Tag
		if err := rows.Scan(&t.Name, &t.Begin, &t.End); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AcquisitionWriter is a sink.Sink that stores RR values and tags under one
// acquisition row.
type AcquisitionWriter struct {
	db *DB
	id string

	mu     sync.Mutex
	rrSeq  int
	tagSeq int
	closed bool
}

// NewAcquisitionWriter returns a writer for the already created acquisition id.
func NewAcquisitionWriter(db *DB, id string) *AcquisitionWriter {
	return &AcquisitionWriter{db: db, id: id}
}

// ID is the acquisition the writer appends to.
func (w *AcquisitionWriter) ID() string { return w.id }

func (w *AcquisitionWriter) WriteRRValue(ms int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return sink.ErrClosed
	}
	if _, err := w.db.Exec(`INSERT INTO rr_values (acquisition_id, seq, rr_ms) VALUES (?, ?, ?)`,
		w.id, w.rrSeq, ms); err != nil {
		return fmt.Errorf("insert rr value: %w", err)
	}
	w.rrSeq++
	return nil
}

func (w *AcquisitionWriter) WriteTagValue(name string, begin, end float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return sink.ErrClosed
	}
	if _, err := w.db.Exec(`INSERT INTO tags (acquisition_id, seq, name, begin_s, end_s) VALUES (?, ?, ?, ?, ?)`,
		w.id, w.tagSeq, name, begin, end); err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	w.tagSeq++
	return nil
}

// Close stops further writes. The acquisition row itself is finalized by
// FinishAcquisition.
func (w *AcquisitionWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return sink.ErrClosed
	}
	w.closed = true
	return nil
}
