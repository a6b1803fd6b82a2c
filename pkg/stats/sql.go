package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-sql-driver/mysql"
)

// ErrNoDatabase is returned by database-only operations when the SQL backend
// is not active.
var ErrNoDatabase = errors.New("database storage is not active")

const (
	statKeyTotal    = "total_calls"
	statKeyDaily    = "daily_calls"
	statKeyHourly   = "hourly_calls"
	statKeyWeekly   = "weekly_calls"
	statKeyMonthly  = "monthly_calls"
	statKeyMetadata = "metadata"
)

// stateMetadata is the watermark row stored alongside the counter rows.
type stateMetadata struct {
	LastUpdated      time.Time `json:"last_updated"`
	LastResetDate    string    `json:"last_reset_date"`
	LastWeeklyReset  string    `json:"last_weekly_reset"`
	LastMonthlyReset string    `json:"last_monthly_reset"`
}

// SQLConfig carries the connection parameters recognized from the
// environment.
type SQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	PoolSize int
}

// Configured reports whether the parameters point at a deliberately
// configured database. A bare localhost/root/no-password setup is the
// driver's default and is treated as "no database".
func (c SQLConfig) Configured() bool {
	if c.Host == "" || c.Database == "" {
		return false
	}
	isLocal := c.Host == "localhost" || c.Host == "127.0.0.1"
	isDefaultUser := c.User == "" || c.User == "root"
	if isLocal && isDefaultUser && c.Password == "" {
		return false
	}
	return true
}

// DSN builds the go-sql-driver connection string.
func (c SQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	port := c.Port
	if port <= 0 {
		port = 3306
	}
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// SQLBackend stores one row per logical counter field in a key-value table
// and appends proxied calls to an event log used for analytics.
type SQLBackend struct {
	db *sql.DB
}

// NewSQLBackend opens the pool, verifies connectivity, and creates the
// schema. The caller falls back to file storage when this fails.
func NewSQLBackend(ctx context.Context, cfg SQLConfig) (*SQLBackend, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = 10
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &SQLBackend{db: db}
	if err := b.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS api_stats (
			stat_key   VARCHAR(64) NOT NULL,
			stat_value LONGTEXT    NOT NULL,
			updated_at TIMESTAMP   NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_api_stats_key (stat_key)
		)`,
		`CREATE TABLE IF NOT EXISTS call_events (
			id          BIGINT       NOT NULL AUTO_INCREMENT,
			request_id  VARCHAR(64)  NOT NULL DEFAULT '',
			endpoint    VARCHAR(255) NOT NULL DEFAULT '',
			method      VARCHAR(16)  NOT NULL DEFAULT '',
			status_code INT          NOT NULL DEFAULT 0,
			latency_ms  BIGINT       NOT NULL DEFAULT 0,
			client_ip   VARCHAR(64)  NOT NULL DEFAULT '',
			user_agent  VARCHAR(512) NOT NULL DEFAULT '',
			created_at  TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_call_events_endpoint (endpoint),
			KEY idx_call_events_created_at (created_at),
			KEY idx_call_events_status (status_code)
		)`,
	}
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLBackend) Kind() string { return "database" }

// Close releases the connection pool.
func (b *SQLBackend) Close() error { return b.db.Close() }

// Ping reports current connectivity, surfaced by the storage-info endpoint.
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Load reconstructs the counter state from the key-value rows, defaulting
// any missing row to empty.
func (b *SQLBackend) Load() (*CounterState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state := NewCounterState()
	found := false

	var total uint64
	if ok, err := b.loadValue(ctx, statKeyTotal, &total); err != nil {
		return nil, err
	} else if ok {
		state.TotalCalls = total
		found = true
	}
	for key, dst := range map[string]*map[string]uint64{
		statKeyDaily:   &state.DailyCalls,
		statKeyHourly:  &state.HourlyCalls,
		statKeyWeekly:  &state.WeeklyCalls,
		statKeyMonthly: &state.MonthlyCalls,
	} {
		if ok, err := b.loadValue(ctx, key, dst); err != nil {
			return nil, err
		} else if ok {
			found = true
		}
	}
	var meta stateMetadata
	if ok, err := b.loadValue(ctx, statKeyMetadata, &meta); err != nil {
		return nil, err
	} else if ok {
		state.LastUpdated = meta.LastUpdated
		state.LastResetDate = meta.LastResetDate
		state.LastWeeklyReset = meta.LastWeeklyReset
		state.LastMonthlyReset = meta.LastMonthlyReset
		found = true
	}

	if !found {
		return nil, nil
	}
	state.normalize()
	return state, nil
}

func (b *SQLBackend) loadValue(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, `SELECT stat_value FROM api_stats WHERE stat_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn("stat row malformed, ignoring", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// Save upserts all six rows inside one transaction so a crash cannot leave
// the snapshot inconsistent across fields.
func (b *SQLBackend) Save(state *CounterState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows := []struct {
		key   string
		value any
	}{
		{statKeyTotal, state.TotalCalls},
		{statKeyDaily, state.DailyCalls},
		{statKeyHourly, state.HourlyCalls},
		{statKeyWeekly, state.WeeklyCalls},
		{statKeyMonthly, state.MonthlyCalls},
		{statKeyMetadata, stateMetadata{
			LastUpdated:      state.LastUpdated,
			LastResetDate:    state.LastResetDate,
			LastWeeklyReset:  state.LastWeeklyReset,
			LastMonthlyReset: state.LastMonthlyReset,
		}},
	}
	for _, row := range rows {
		raw, err := json.Marshal(row.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", row.key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO api_stats (stat_key, stat_value) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE stat_value = VALUES(stat_value)`,
			row.key, string(raw))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", row.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LogEvent appends one immutable row to the event log.
func (b *SQLBackend) LogEvent(ctx context.Context, evt CallEvent) error {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO call_events (request_id, endpoint, method, status_code, latency_ms, client_ip, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.RequestID, evt.Endpoint, evt.Method, evt.StatusCode, evt.LatencyMS, evt.ClientIP, evt.UserAgent, ts.UTC())
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}
	return nil
}

// EndpointCount is one row of the top-endpoints aggregate.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

// HourActivity is the number of calls in one hour bucket of the trailing
// day.
type HourActivity struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

// LatencyStats summarizes response times over the analytics window.
type LatencyStats struct {
	MinMS int64   `json:"min_ms"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS int64   `json:"max_ms"`
}

// Analytics is the trailing-24h aggregate view served by /stats/analytics.
type Analytics struct {
	WindowHours    int              `json:"window_hours"`
	TotalEvents    int64            `json:"total_events"`
	TopEndpoints   []EndpointCount  `json:"top_endpoints"`
	StatusCodes    map[string]int64 `json:"status_codes"`
	Latency        LatencyStats     `json:"latency"`
	HourlyActivity []HourActivity   `json:"hourly_activity"`
}

// Analytics aggregates the event log over the trailing 24 hours.
func (b *SQLBackend) Analytics(ctx context.Context) (*Analytics, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	out := &Analytics{
		WindowHours: 24,
		StatusCodes: map[string]int64{},
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT endpoint, COUNT(*) AS c FROM call_events
		 WHERE created_at >= ? GROUP BY endpoint ORDER BY c DESC LIMIT 10`, since)
	if err != nil {
		return nil, fmt.Errorf("top endpoints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ec EndpointCount
		if err := rows.Scan(&ec.Endpoint, &ec.Count); err != nil {
			return nil, err
		}
		out.TopEndpoints = append(out.TopEndpoints, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statusRows, err := b.db.QueryContext(ctx,
		`SELECT status_code, COUNT(*) FROM call_events
		 WHERE created_at >= ? GROUP BY status_code`, since)
	if err != nil {
		return nil, fmt.Errorf("status histogram: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var code int
		var count int64
		if err := statusRows.Scan(&code, &count); err != nil {
			return nil, err
		}
		out.StatusCodes[fmt.Sprintf("%d", code)] = count
		out.TotalEvents += count
	}
	if err := statusRows.Err(); err != nil {
		return nil, err
	}

	var minMS, maxMS sql.NullInt64
	var avgMS sql.NullFloat64
	err = b.db.QueryRowContext(ctx,
		`SELECT MIN(latency_ms), AVG(latency_ms), MAX(latency_ms) FROM call_events
		 WHERE created_at >= ?`, since).Scan(&minMS, &avgMS, &maxMS)
	if err != nil {
		return nil, fmt.Errorf("latency stats: %w", err)
	}
	out.Latency = LatencyStats{MinMS: minMS.Int64, AvgMS: avgMS.Float64, MaxMS: maxMS.Int64}

	hourRows, err := b.db.QueryContext(ctx,
		`SELECT DATE_FORMAT(created_at, '%Y-%m-%d %H:00') AS h, COUNT(*) FROM call_events
		 WHERE created_at >= ? GROUP BY h ORDER BY h`, since)
	if err != nil {
		return nil, fmt.Errorf("hourly activity: %w", err)
	}
	defer hourRows.Close()
	for hourRows.Next() {
		var ha HourActivity
		if err := hourRows.Scan(&ha.Hour, &ha.Count); err != nil {
			return nil, err
		}
		out.HourlyActivity = append(out.HourlyActivity, ha)
	}
	if err := hourRows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// RecentEvents streams the newest rows of the event log, newest first, for
// the compressed export endpoint.
func (b *SQLBackend) RecentEvents(ctx context.Context, limit int) ([]CallEvent, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT request_id, endpoint, method, status_code, latency_ms, client_ip, user_agent, created_at
		 FROM call_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	out := make([]CallEvent, 0, limit)
	for rows.Next() {
		var evt CallEvent
		if err := rows.Scan(&evt.RequestID, &evt.Endpoint, &evt.Method, &evt.StatusCode,
			&evt.LatencyMS, &evt.ClientIP, &evt.UserAgent, &evt.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
