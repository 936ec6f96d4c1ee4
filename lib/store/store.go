package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"deadline/lib/filters"
	"deadline/lib/logger"
	"deadline/lib/types"
)

//go:embed schema.sql
var Schema string

var ErrNotFound = errors.New("not found")

// Gateway is everything the pipelines and the API need from persistence.
type Gateway interface {
	GetEvent(ctx context.Context, idOrSlug string) (*types.Event, error)
	GetEventDetails(ctx context.Context, eventID int64) (*types.EventDetails, error)
	UpsertEventDetails(ctx context.Context, eventID int64, details *types.EventDetails) error
	InsertUpdates(ctx context.Context, updates []types.EventUpdate) error
	UpdateEvent(ctx context.Context, eventID int64, patch types.EventPatch) error
	ApplyUpdates(ctx context.Context, batch types.UpdateBatch) error
	ListUpdates(ctx context.Context, eventID int64) ([]types.EventUpdate, error)
	ListEventIDs(ctx context.Context) ([]int64, error)
}

// PgxIface is satisfied by *pgxpool.Pool and by pgxmock pools.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Postgres struct {
	db     PgxIface
	logger *logger.Logger
}

func NewPostgres(db PgxIface, log *logger.Logger) *Postgres {
	return &Postgres{db: db, logger: log}
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, Schema)
	return err
}

const selectEvent = `
	SELECT event_id, COALESCE(slug, ''), COALESCE(title, ''), query, COALESCE(status, ''),
		COALESCE(last_updated, incident_date::timestamptz, created_at), incident_date::timestamptz
	FROM events
	WHERE `

// GetEvent looks the event up by numeric id, or by slug otherwise.
func (p *Postgres) GetEvent(ctx context.Context, idOrSlug string) (*types.Event, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)

	var row pgx.Row
	if id, err := strconv.ParseInt(idOrSlug, 10, 64); err == nil {
		row = p.db.QueryRow(ctx, selectEvent+"event_id = $1", id)
	} else {
		row = p.db.QueryRow(ctx, selectEvent+"slug = $1", idOrSlug)
	}

	var e types.Event
	err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.Query, &e.Status, &e.LastUpdated, &e.IncidentDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %q: %w", idOrSlug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", idOrSlug, err)
	}
	e.LastUpdated = e.LastUpdated.UTC()
	return &e, nil
}

const selectDetails = `
	SELECT event_id, COALESCE(title, ''), COALESCE(location, ''), details, accused, victims, timeline,
		sources, images, created_at, updated_at
	FROM event_details
	WHERE event_id = $1`

// GetEventDetails returns (nil, nil) when the event has no details yet.
func (p *Postgres) GetEventDetails(ctx context.Context, eventID int64) (*types.EventDetails, error) {
	var d types.EventDetails
	var details, accused, victims, timeline, sources, images []byte
	err := p.db.QueryRow(ctx, selectDetails, eventID).Scan(
		&d.EventID, &d.Title, &d.Location, &details, &accused, &victims, &timeline,
		&sources, &images, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get details for event %d: %w", eventID, err)
	}

	p.decodeColumn(eventID, "details", details, &d.Details)
	p.decodeColumn(eventID, "accused", accused, &d.Accused)
	p.decodeColumn(eventID, "victims", victims, &d.Victims)
	p.decodeColumn(eventID, "timeline", timeline, &d.Timeline)
	p.decodeColumn(eventID, "sources", sources, &d.Sources)
	p.decodeColumn(eventID, "images", images, &d.Images)
	d.EnsureDefaults()
	return &d, nil
}

// decodeColumn accepts both structured JSON and the older rows where the
// value was written as a JSON-encoded string.
func (p *Postgres) decodeColumn(eventID int64, name string, raw []byte, v any) {
	if types.IsNullOrEmpty(raw) {
		return
	}
	if err := types.DecodeField(raw, v); err != nil {
		p.logger.Warning("Could not decode %s for event %d, using empty default: %v", name, eventID, err)
	}
}

func marshalColumns(values ...any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

const upsertDetails = `
	INSERT INTO event_details (event_id, title, location, details, accused, victims, timeline, sources, images)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (event_id) DO UPDATE SET
		title = EXCLUDED.title,
		location = EXCLUDED.location,
		details = EXCLUDED.details,
		accused = EXCLUDED.accused,
		victims = EXCLUDED.victims,
		timeline = EXCLUDED.timeline,
		sources = EXCLUDED.sources,
		images = EXCLUDED.images,
		updated_at = now()`

func (p *Postgres) UpsertEventDetails(ctx context.Context, eventID int64, details *types.EventDetails) error {
	rec := *details
	rec.EnsureDefaults()
	cols, err := marshalColumns(rec.Details, rec.Accused, rec.Victims, rec.Timeline, rec.Sources, rec.Images)
	if err != nil {
		return fmt.Errorf("encode details for event %d: %w", eventID, err)
	}
	args := append([]any{eventID, rec.Title, rec.Location}, cols...)
	if _, err := p.db.Exec(ctx, upsertDetails, args...); err != nil {
		return fmt.Errorf("upsert details for event %d: %w", eventID, err)
	}
	p.logger.Info("Saved details for event %d (%d sources, %d images)", eventID, len(rec.Sources), len(rec.Images))
	return nil
}

const insertUpdate = `
	INSERT INTO event_updates (update_id, event_id, title, description, update_date)
	VALUES ($1, $2, $3, $4, $5)`

func insertUpdates(ctx context.Context, q execer, updates []types.EventUpdate) error {
	for _, u := range updates {
		id := u.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := q.Exec(ctx, insertUpdate, id, u.EventID, u.Title, u.Description, u.UpdateDate.UTC()); err != nil {
			return fmt.Errorf("insert update %q for event %d: %w", u.Title, u.EventID, err)
		}
	}
	return nil
}

func (p *Postgres) InsertUpdates(ctx context.Context, updates []types.EventUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertUpdates(ctx, tx, updates); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateEvent applies the set fields of patch. last_updated never moves back.
func (p *Postgres) UpdateEvent(ctx context.Context, eventID int64, patch types.EventPatch) error {
	args := []any{eventID}
	var sets []string
	if patch.LastUpdated != nil {
		args = append(args, patch.LastUpdated.UTC())
		sets = append(sets, fmt.Sprintf("last_updated = GREATEST(last_updated, $%d)", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	tag, err := p.db.Exec(ctx, "UPDATE events SET "+strings.Join(sets, ", ")+" WHERE event_id = $1", args...)
	if err != nil {
		return fmt.Errorf("update event %d: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
	}
	return nil
}

const advanceEvent = `
	UPDATE events
	SET last_updated = GREATEST(last_updated, $2), status = COALESCE(NULLIF($3, ''), status)
	WHERE event_id = $1`

const selectSourcesForUpdate = `SELECT sources FROM event_details WHERE event_id = $1 FOR UPDATE`

const mergeSources = `
	INSERT INTO event_details (event_id, sources)
	VALUES ($1, $2)
	ON CONFLICT (event_id) DO UPDATE SET sources = EXCLUDED.sources, updated_at = now()`

// ApplyUpdates persists one update detector run in a single transaction:
// the new rows, the advanced frontier and status, and the merged sources.
func (p *Postgres) ApplyUpdates(ctx context.Context, batch types.UpdateBatch) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertUpdates(ctx, tx, batch.Updates); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, advanceEvent, batch.EventID, batch.LastUpdated.UTC(), batch.Status)
	if err != nil {
		return fmt.Errorf("advance event %d: %w", batch.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", batch.EventID, ErrNotFound)
	}

	if len(batch.Sources) > 0 {
		var raw []byte
		err := tx.QueryRow(ctx, selectSourcesForUpdate, batch.EventID).Scan(&raw)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read sources for event %d: %w", batch.EventID, err)
		}
		var existing []string
		p.decodeColumn(batch.EventID, "sources", raw, &existing)

		merged, err := json.Marshal(filters.DedupeStrings(existing, batch.Sources))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, mergeSources, batch.EventID, string(merged)); err != nil {
			return fmt.Errorf("merge sources for event %d: %w", batch.EventID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit updates for event %d: %w", batch.EventID, err)
	}
	p.logger.Info("Applied %d updates to event %d", len(batch.Updates), batch.EventID)
	return nil
}

func (p *Postgres) ListUpdates(ctx context.Context, eventID int64) ([]types.EventUpdate, error) {
	rows, err := p.db.Query(ctx, `
		SELECT update_id::text, event_id, title, description, update_date
		FROM event_updates
		WHERE event_id = $1
		ORDER BY update_date DESC, created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list updates for event %d: %w", eventID, err)
	}
	defer rows.Close()

	updates := []types.EventUpdate{}
	for rows.Next() {
		var u types.EventUpdate
		if err := rows.Scan(&u.ID, &u.EventID, &u.Title, &u.Description, &u.UpdateDate); err != nil {
			return nil, err
		}
		u.UpdateDate = u.UpdateDate.UTC()
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func (p *Postgres) ListEventIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.db.Query(ctx, `SELECT event_id FROM events ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
