package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"prayerbot/internal/prayer"
	logx "prayerbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// persistedEvent is the schema-stable JSON shape for one schedule row.
type persistedEvent struct {
	Name   string `json:"name"`
	Start  string `json:"start"`
	Jamaat string `json:"jamaat,omitempty"`
}

func (s *sqliteStore) UpsertSchedule(ctx context.Context, table prayer.Table) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	events := table.Events()
	pe := make([]persistedEvent, 0, len(events))
	for _, e := range events {
		p := persistedEvent{Name: string(e.Name), Start: e.Start.Format(time.RFC3339)}
		if e.HasJamaat() {
			p.Jamaat = e.Jamaat.Format(time.RFC3339)
		}
		pe = append(pe, p)
	}
	b, err := json.Marshal(pe)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(day, events, fetched_at) VALUES(?,?,?)
		 ON CONFLICT(day) DO UPDATE SET events=excluded.events, fetched_at=excluded.fetched_at`,
		table.Day(), string(b), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, day string, loc *time.Location) (prayer.Table, error) {
	if s == nil || s.db == nil {
		return prayer.Table{}, ErrDisabled
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT events FROM schedules WHERE day = ?`, day).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prayer.Table{}, fmt.Errorf("%w: %s", ErrNotFound, day)
	}
	if err != nil {
		return prayer.Table{}, err
	}

	var pe []persistedEvent
	if err := json.Unmarshal([]byte(raw), &pe); err != nil {
		return prayer.Table{}, fmt.Errorf("corrupt schedule for %s: %w", day, err)
	}

	dayTime, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return prayer.Table{}, err
	}

	events := make([]prayer.Event, 0, len(pe))
	for _, p := range pe {
		name, ok := prayer.Canonical(p.Name)
		if !ok {
			continue
		}
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return prayer.Table{}, fmt.Errorf("corrupt schedule for %s: %w", day, err)
		}
		ev := prayer.Event{Name: name, Start: start.In(loc)}
		if p.Jamaat != "" {
			jamaat, err := time.Parse(time.RFC3339, p.Jamaat)
			if err != nil {
				return prayer.Table{}, fmt.Errorf("corrupt schedule for %s: %w", day, err)
			}
			ev.Jamaat = jamaat.In(loc)
		}
		events = append(events, ev)
	}

	return prayer.Restore(dayTime, loc, events)
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, added_at) VALUES(?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		chatID, time.Now().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) RemoveSubscriber(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) IsSubscriber(ctx context.Context, chatID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE chat_id = ?`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) Subscribers(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LogUsage(ctx context.Context, command string, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage(at, command, chat_id) VALUES(?,?,?)`,
		time.Now().Format(time.RFC3339Nano), command, chatID,
	)
	return err
}
