package store

import (
	"context"
	"fmt"

	"github.com/roach88/lazyjit/internal/canon"
	"github.com/roach88/lazyjit/internal/link"
	"github.com/roach88/lazyjit/internal/orc"
)

// WriteRun registers a run. config is stored as canonical JSON; nil is
// stored as an empty object. Writing the same run twice is a no-op.
func (s *Store) WriteRun(ctx context.Context, id string, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}
	cfgJSON, err := canon.Marshal(config)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, config)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(cfgJSON))
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteEvent appends ev to run. The run must exist.
// Uses ON CONFLICT DO NOTHING: an event with a seq already stored for the
// run is silently ignored.
func (s *Store) WriteEvent(ctx context.Context, run string, ev orc.Event) error {
	symbols, err := marshalSymbols(ev.Symbols)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, kind, library, unit_key, symbols)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		run,
		ev.Seq,
		string(ev.Kind),
		ev.Library,
		string(ev.Key),
		symbols,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// WriteImage records where a linked object's symbols were placed.
func (s *Store) WriteImage(ctx context.Context, run string, img link.Image) error {
	sections, err := marshalAddresses(img.Sections)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	symbols, err := marshalAddresses(img.Symbols)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO images (run_id, unit_key, library, sections, symbols)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, run, string(img.Key), img.Library, sections, symbols)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
