package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/logic"
)

// timeLayout is fixed width so text comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Entry is one recorded cycle transition.
type Entry struct {
	ID              string    `json:"id"`
	OccurredAt      time.Time `json:"occurred_at"`
	Type            string    `json:"type"`
	CycleID         string    `json:"cycle_id"`
	Trigger         string    `json:"trigger"`
	DurationSeconds int64     `json:"duration_seconds"`
	ElapsedSeconds  *int64    `json:"elapsed_seconds,omitempty"`
}

// Filter narrows List. Zero values are ignored; From and To are inclusive.
type Filter struct {
	From  time.Time
	To    time.Time
	Type  string
	Limit int
}

// Repo reads and writes cycle_events.
type Repo struct {
	db *sql.DB
}

// NewRepo wraps an open database.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// FromEvent converts a cycle transition to an Entry.
func FromEvent(ev logic.Event) Entry {
	e := Entry{
		OccurredAt:      ev.Timestamp,
		Type:            string(ev.Type),
		CycleID:         ev.CycleID,
		Trigger:         ev.Trigger,
		DurationSeconds: int64(ev.Duration / time.Second),
	}
	if ev.Type != logic.EventCycleStart {
		elapsed := int64(ev.Elapsed.Round(time.Second) / time.Second)
		e.ElapsedSeconds = &elapsed
	}
	return e
}

// Append inserts e. A missing ID or timestamp is filled in.
func (r *Repo) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	var elapsed sql.NullInt64
	if e.ElapsedSeconds != nil {
		elapsed = sql.NullInt64{Int64: *e.ElapsedSeconds, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycle_events (id, occurred_at, type, cycle_id, trigger_source, duration_s, elapsed_s)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.OccurredAt.UTC().Format(timeLayout),
		strings.ToUpper(strings.TrimSpace(e.Type)),
		e.CycleID,
		e.Trigger,
		e.DurationSeconds,
		elapsed,
	)
	if err != nil {
		return fmt.Errorf("insert cycle event: %w", err)
	}
	return nil
}

// List returns entries matching f, oldest first.
func (r *Repo) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	if typ := strings.ToUpper(strings.TrimSpace(f.Type)); typ != "" {
		conds = append(conds, "type = ?")
		args = append(args, typ)
	}

	q := `SELECT id, occurred_at, type, cycle_id, trigger_source, duration_s, elapsed_s FROM cycle_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycle events: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 16)
	for rows.Next() {
		var (
			e       Entry
			at      string
			elapsed sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &at, &e.Type, &e.CycleID, &e.Trigger, &e.DurationSeconds, &elapsed); err != nil {
			return nil, fmt.Errorf("scan cycle event: %w", err)
		}
		if e.OccurredAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", at, err)
		}
		if elapsed.Valid {
			v := elapsed.Int64
			e.ElapsedSeconds = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Recorder appends every cycle transition to the repository. It
// satisfies cycle.Listener.
type Recorder struct {
	repo    *Repo
	log     *logger.Logger
	timeout time.Duration
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo *Repo, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{repo: repo, log: log, timeout: 5 * time.Second}
}

// OnEvent records ev, logging any failure.
func (r *Recorder) OnEvent(ev logic.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.repo.Append(ctx, FromEvent(ev)); err != nil {
		r.log.Errorw("history_append_failed", "event", ev.Type, "cycle_id", ev.CycleID, "error", err)
	}
}
