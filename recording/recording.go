// Package recording persists the driver's command/event traffic to a
// SQLite database for offline analysis of RPU interactions. It attaches
// to a device through the hal hook points and batches rows in memory,
// flushing on demand and at process exit.
package recording

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	// SQLite driver registration.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/JordanYates/nrf-wifi/hal"
)

// CommandRecord is one posted command fragment.
type CommandRecord struct {
	MsgID  string
	Addr   uint32
	Len    int
	TimeMS int64
}

// EventRecord is one delivered event.
type EventRecord struct {
	MsgID  string
	Len    int
	TimeMS int64
}

// A Recorder stores driver traffic records.
type Recorder interface {
	InsertCommand(rec CommandRecord)
	InsertEvent(rec EventRecord)

	// Flush writes all buffered records to the database.
	Flush()

	Close() error
}

// New creates a SQLite-backed Recorder. An empty path picks a unique
// database name in the working directory. The recorder flushes at
// process exit.
func New(path string) (Recorder, error) {
	if path == "" {
		path = "rpu_trace_" + xid.New().String()
	}

	db, err := sql.Open("sqlite3", path+".sqlite3")
	if err != nil {
		return nil, fmt.Errorf("recording: opening database: %w", err)
	}

	r := &sqliteRecorder{db: db, batchSize: 4096}

	if err := r.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	atexit.Register(func() { r.Flush() })

	return r, nil
}

type sqliteRecorder struct {
	db        *sql.DB
	batchSize int

	mu       sync.Mutex
	commands []CommandRecord
	events   []EventRecord
}

func (r *sqliteRecorder) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commands (
			msg_id TEXT, addr INTEGER, len INTEGER, time_ms INTEGER)`,
		`CREATE TABLE IF NOT EXISTS events (
			msg_id TEXT, len INTEGER, time_ms INTEGER)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("recording: creating tables: %w", err)
		}
	}

	return nil
}

func (r *sqliteRecorder) InsertCommand(rec CommandRecord) {
	r.mu.Lock()
	r.commands = append(r.commands, rec)
	full := len(r.commands) >= r.batchSize
	r.mu.Unlock()

	if full {
		r.Flush()
	}
}

func (r *sqliteRecorder) InsertEvent(rec EventRecord) {
	r.mu.Lock()
	r.events = append(r.events, rec)
	full := len(r.events) >= r.batchSize
	r.mu.Unlock()

	if full {
		r.Flush()
	}
}

func (r *sqliteRecorder) Flush() {
	r.mu.Lock()
	commands := r.commands
	events := r.events
	r.commands = nil
	r.events = nil
	r.mu.Unlock()

	if len(commands) == 0 && len(events) == 0 {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		log.Printf("recording: begin flush: %v", err)
		return
	}

	for _, c := range commands {
		_, err = tx.Exec(
			`INSERT INTO commands (msg_id, addr, len, time_ms) VALUES (?, ?, ?, ?)`,
			c.MsgID, c.Addr, c.Len, c.TimeMS)
		if err != nil {
			break
		}
	}

	if err == nil {
		for _, e := range events {
			_, err = tx.Exec(
				`INSERT INTO events (msg_id, len, time_ms) VALUES (?, ?, ?)`,
				e.MsgID, e.Len, e.TimeMS)
			if err != nil {
				break
			}
		}
	}

	if err != nil {
		log.Printf("recording: flush: %v", err)
		tx.Rollback()
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("recording: commit flush: %v", err)
	}
}

func (r *sqliteRecorder) Close() error {
	r.Flush()
	return r.db.Close()
}

// A Tracer is the hal hook that feeds a Recorder.
type Tracer struct {
	rec Recorder
}

// NewTracer creates a Tracer writing into rec. Attach it with
// DeviceCtx.AcceptHook.
func NewTracer(rec Recorder) *Tracer {
	return &Tracer{rec: rec}
}

// Func records command postings and event deliveries.
func (t *Tracer) Func(ctx hal.HookCtx) {
	now := time.Now().UnixMilli()

	switch ctx.Pos {
	case hal.HookPosCmdPost:
		t.rec.InsertCommand(CommandRecord{
			MsgID:  ctx.Msg.ID,
			Addr:   ctx.Addr,
			Len:    len(ctx.Msg.Data),
			TimeMS: now,
		})
	case hal.HookPosEventDeliver:
		t.rec.InsertEvent(EventRecord{
			MsgID:  ctx.Msg.ID,
			Len:    len(ctx.Msg.Data),
			TimeMS: now,
		})
	}
}
