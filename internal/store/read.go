package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lazyjit/internal/link"
	"github.com/roach88/lazyjit/internal/orc"
)

// Run is a stored run header.
type Run struct {
	ID     string
	Config string
	// Events is the number of events recorded for the run.
	Events int
}

// ReadRuns returns every run ordered by id.
func (s *Store) ReadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.config, COUNT(e.seq)
		FROM runs r
		LEFT JOIN events e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Config, &r.Events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadEvents returns every event of run ordered by seq.
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadEvents(ctx context.Context, run string) ([]orc.Event, error) {
	return s.queryEvents(ctx, `
		SELECT seq, kind, library, unit_key, symbols
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, run)
}

// ReadUnitEvents returns the events of one unit within run ordered by seq.
func (s *Store) ReadUnitEvents(ctx context.Context, run string, key orc.ModuleKey) ([]orc.Event, error) {
	return s.queryEvents(ctx, `
		SELECT seq, kind, library, unit_key, symbols
		FROM events
		WHERE run_id = ? AND unit_key = ?
		ORDER BY seq ASC
	`, run, string(key))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]orc.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []orc.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (orc.Event, error) {
	var (
		ev      orc.Event
		kind    string
		key     string
		symbols string
	)
	if err := rows.Scan(&ev.Seq, &kind, &ev.Library, &key, &symbols); err != nil {
		return orc.Event{}, fmt.Errorf("scan event: %w", err)
	}
	names, err := unmarshalSymbols(symbols)
	if err != nil {
		return orc.Event{}, fmt.Errorf("event %d: %w", ev.Seq, err)
	}
	ev.Kind = orc.EventKind(kind)
	ev.Key = orc.ModuleKey(key)
	ev.Symbols = names
	return ev, nil
}

// LastSeq returns the highest seq stored for run, or 0 if it has none.
// Used to resume a run's clock with orc.NewClockAt.
func (s *Store) LastSeq(ctx context.Context, run string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE run_id = ?`, run).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// ReadImages returns the images linked in run ordered by unit key.
func (s *Store) ReadImages(ctx context.Context, run string) ([]link.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_key, library, sections, symbols
		FROM images
		WHERE run_id = ?
		ORDER BY unit_key COLLATE BINARY ASC
	`, run)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	images := []link.Image{}
	for rows.Next() {
		var key, lib, sections, symbols string
		if err := rows.Scan(&key, &lib, &sections, &symbols); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img := link.Image{Key: orc.ModuleKey(key), Library: lib}
		if img.Sections, err = unmarshalAddresses(sections); err != nil {
			return nil, fmt.Errorf("image %s: %w", key, err)
		}
		if img.Symbols, err = unmarshalAddresses(symbols); err != nil {
			return nil, fmt.Errorf("image %s: %w", key, err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}
