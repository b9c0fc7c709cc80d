package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sablesec/strikepoint/internal/activity"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/journeys"
	"github.com/sablesec/strikepoint/internal/telemetry"
)

// Postgres implements the store interfaces on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var (
	_ collectors.Store      = (*Postgres)(nil)
	_ telemetry.SampleStore = (*Postgres)(nil)
	_ JourneyStore          = (*Postgres)(nil)
	_ activity.Log          = (*Postgres)(nil)
)

const collectorColumns = `id, tenant_id, name, hostname, ip_address, status,
	enrollment_token_hash, enrollment_token_expires_at, last_seen_at, registered_at, metadata`

func (p *Postgres) CreateCollector(ctx context.Context, c *collectors.Collector) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if c.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO collectors (id, tenant_id, name, hostname, ip_address, status,
			enrollment_token_hash, enrollment_token_expires_at, last_seen_at, registered_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.TenantID, c.Name, c.Hostname, c.IPAddress, c.Status,
		c.EnrollmentTokenHash, c.EnrollmentTokenExpiresAt, c.LastSeenAt, c.RegisteredAt, metadata)
	if err != nil {
		return fmt.Errorf("insert collector: %w", err)
	}
	return nil
}

func (p *Postgres) GetCollector(ctx context.Context, id string) (*collectors.Collector, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+collectorColumns+` FROM collectors WHERE id = $1`, id)
	return scanCollector(row)
}

func (p *Postgres) GetCollectorByTokenHash(ctx context.Context, hash string) (*collectors.Collector, error) {
	if hash == "" {
		return nil, collectors.ErrCollectorNotFound
	}
	row := p.pool.QueryRow(ctx,
		`SELECT `+collectorColumns+` FROM collectors WHERE enrollment_token_hash = $1`, hash)
	return scanCollector(row)
}

func (p *Postgres) ListCollectors(ctx context.Context, tenantID string) ([]*collectors.Collector, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+collectorColumns+` FROM collectors WHERE tenant_id = $1 ORDER BY registered_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("query collectors: %w", err)
	}
	defer rows.Close()

	var list []*collectors.Collector
	for rows.Next() {
		c, err := scanCollector(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (p *Postgres) UpdateCollectorStatus(ctx context.Context, id string, status collectors.Status) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE collectors SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update collector status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return collectors.ErrCollectorNotFound
	}
	return nil
}

func (p *Postgres) UpdateCollectorLastSeen(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE collectors SET last_seen_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update collector last_seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return collectors.ErrCollectorNotFound
	}
	return nil
}

func (p *Postgres) ReplaceEnrollmentToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE collectors
		SET enrollment_token_hash = $2,
			enrollment_token_expires_at = $3,
			status = $4
		WHERE id = $1`,
		id, hash, expiresAt, collectors.StatusEnrolling)
	if err != nil {
		return fmt.Errorf("replace enrollment token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return collectors.ErrCollectorNotFound
	}
	return nil
}

func (p *Postgres) ConsumeEnrollmentToken(ctx context.Context, hash string) (*collectors.Collector, error) {
	if hash == "" {
		return nil, collectors.ErrCollectorNotFound
	}
	row := p.pool.QueryRow(ctx, `
		UPDATE collectors
		SET enrollment_token_hash = '',
			enrollment_token_expires_at = NULL,
			status = $2
		WHERE enrollment_token_hash = $1
		RETURNING `+collectorColumns,
		hash, collectors.StatusOnline)
	return scanCollector(row)
}

func (p *Postgres) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE collectors
		SET status = $1
		WHERE status = $2 AND (last_seen_at IS NULL OR last_seen_at < $3)`,
		collectors.StatusOffline, collectors.StatusOnline, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale collectors offline: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanCollector(row pgx.Row) (*collectors.Collector, error) {
	var c collectors.Collector
	var metadata []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Hostname, &c.IPAddress, &c.Status,
		&c.EnrollmentTokenHash, &c.EnrollmentTokenExpiresAt, &c.LastSeenAt, &c.RegisteredAt, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, collectors.ErrCollectorNotFound
		}
		return nil, fmt.Errorf("scan collector: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &c, nil
}

func (p *Postgres) AppendSample(ctx context.Context, s *telemetry.Sample) error {
	network, err := json.Marshal(s.Network)
	if err != nil {
		return fmt.Errorf("marshal network: %w", err)
	}
	var processes []byte
	if len(s.Processes) > 0 {
		processes, err = json.Marshal(s.Processes)
		if err != nil {
			return fmt.Errorf("marshal processes: %w", err)
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO telemetry_samples (collector_id, cpu_usage, memory_usage, disk_usage, network, processes, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.CollectorID, s.CPUUsage, s.MemoryUsage, s.DiskUsage, network, processes, s.Timestamp)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (p *Postgres) LatestSample(ctx context.Context, collectorID string) (*telemetry.Sample, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT collector_id, cpu_usage, memory_usage, disk_usage, network, processes, sampled_at
		FROM telemetry_samples
		WHERE collector_id = $1
		ORDER BY sampled_at DESC
		LIMIT 1`, collectorID)
	return scanSample(row)
}

func (p *Postgres) ListSamples(ctx context.Context, collectorID string, since time.Time, limit int) ([]*telemetry.Sample, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := p.pool.Query(ctx, `
		SELECT collector_id, cpu_usage, memory_usage, disk_usage, network, processes, sampled_at
		FROM telemetry_samples
		WHERE collector_id = $1 AND sampled_at >= $2
		ORDER BY sampled_at ASC
		LIMIT $3`, collectorID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var list []*telemetry.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanSample(row pgx.Row) (*telemetry.Sample, error) {
	var s telemetry.Sample
	var network, processes []byte
	err := row.Scan(&s.CollectorID, &s.CPUUsage, &s.MemoryUsage, &s.DiskUsage, &network, &processes, &s.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, telemetry.ErrNoSamples
		}
		return nil, fmt.Errorf("scan sample: %w", err)
	}
	if len(network) > 0 {
		if err := json.Unmarshal(network, &s.Network); err != nil {
			return nil, fmt.Errorf("unmarshal network: %w", err)
		}
	}
	if len(processes) > 0 {
		if err := json.Unmarshal(processes, &s.Processes); err != nil {
			return nil, fmt.Errorf("unmarshal processes: %w", err)
		}
	}
	return &s, nil
}

const journeyColumns = `id, tenant_id, type, status, config, collector_id, results, created_at, started_at, completed_at`

var terminalStatuses = []string{
	string(journeys.StatusCompleted),
	string(journeys.StatusFailed),
	string(journeys.StatusCancelled),
}

func (p *Postgres) CreateJourney(ctx context.Context, j *journeys.Journey) error {
	config, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var collectorID *string
	if j.CollectorID != "" {
		collectorID = &j.CollectorID
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO journeys (id, tenant_id, type, status, config, collector_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.TenantID, j.Type, j.Status, config, collectorID, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert journey: %w", err)
	}
	return nil
}

func (p *Postgres) GetJourney(ctx context.Context, id string) (*journeys.Journey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+journeyColumns+` FROM journeys WHERE id = $1`, id)
	return scanJourney(row)
}

func (p *Postgres) ListJourneys(ctx context.Context, tenantID string) ([]*journeys.Journey, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+journeyColumns+` FROM journeys WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("query journeys: %w", err)
	}
	defer rows.Close()

	var list []*journeys.Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func (p *Postgres) SetJourneyStarted(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE journeys
		SET status = $2, started_at = $3
		WHERE id = $1 AND status <> ALL($4)`,
		id, journeys.StatusRunning, at, terminalStatuses)
	if err != nil {
		return fmt.Errorf("mark journey started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.journeyWriteConflict(ctx, id)
	}
	return nil
}

func (p *Postgres) UpdateJourneyStatus(ctx context.Context, id string, status journeys.Status, results *journeys.Results) error {
	var resultsJSON []byte
	if results != nil {
		var err error
		resultsJSON, err = json.Marshal(results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
	}

	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE journeys
		SET status = $2,
			results = COALESCE($3, results),
			completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status <> ALL($5)`,
		id, status, resultsJSON, completedAt, terminalStatuses)
	if err != nil {
		return fmt.Errorf("update journey status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.journeyWriteConflict(ctx, id)
	}
	return nil
}

// journeyWriteConflict distinguishes a missing journey from a terminal one
// after a guarded update matched zero rows.
func (p *Postgres) journeyWriteConflict(ctx context.Context, id string) error {
	var status journeys.Status
	err := p.pool.QueryRow(ctx, `SELECT status FROM journeys WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check journey status: %w", err)
	}
	if status.Terminal() {
		return ErrJourneyTerminal
	}
	return fmt.Errorf("journey %s update matched no rows", id)
}

func scanJourney(row pgx.Row) (*journeys.Journey, error) {
	var j journeys.Journey
	var config, results []byte
	var collectorID *string
	err := row.Scan(&j.ID, &j.TenantID, &j.Type, &j.Status, &config, &collectorID,
		&results, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan journey: %w", err)
	}
	if err := json.Unmarshal(config, &j.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	if collectorID != nil {
		j.CollectorID = *collectorID
	}
	return &j, nil
}

func (p *Postgres) Append(ctx context.Context, e activity.Event) error {
	var fields []byte
	if len(e.Fields) > 0 {
		var err error
		fields, err = json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("marshal event fields: %w", err)
		}
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO activity_events (tenant_id, kind, message, fields, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.TenantID, e.Kind, e.Message, fields, e.At)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}
