package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_records (
		symbol             TEXT PRIMARY KEY,
		last_analysis_time BIGINT,
		last_price         DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_rvol          DOUBLE PRECISION NOT NULL DEFAULT 0,
		analysis_count     INTEGER NOT NULL DEFAULT 0,
		last_result        TEXT,
		mute_until         BIGINT,
		mute_reason        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS observations (
		symbol            TEXT PRIMARY KEY,
		added_time        BIGINT NOT NULL,
		last_checked_time BIGINT NOT NULL,
		reason            TEXT NOT NULL,
		check_count       INTEGER NOT NULL,
		seq               BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id                 TEXT PRIMARY KEY,
		symbol             TEXT NOT NULL,
		direction          TEXT NOT NULL,
		created_at         BIGINT NOT NULL,
		status             TEXT NOT NULL,
		entry_price        DOUBLE PRECISION NOT NULL,
		stop_loss          DOUBLE PRECISION NOT NULL,
		tp1                DOUBLE PRECISION NOT NULL,
		tp2                DOUBLE PRECISION,
		tp3                DOUBLE PRECISION,
		confluence_score   TEXT NOT NULL DEFAULT '',
		confidence_percent INTEGER NOT NULL DEFAULT 0,
		confidence_label   TEXT NOT NULL DEFAULT '',
		trigger_reason     TEXT NOT NULL DEFAULT '',
		leverage           DOUBLE PRECISION NOT NULL DEFAULT 0,
		position_size      DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_checked_at    BIGINT,
		history            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol_direction ON signals (symbol, direction, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals (status)`,
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// SQLStore persists the documents in sqlite or postgres through sqlx.
type SQLStore struct {
	db       *sqlx.DB
	postgres bool
	limit    int
}

// OpenSQLite opens (creating if needed) a sqlite database file.
func OpenSQLite(ctx context.Context, path string, observationLimit int) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers, which makes every transaction below atomic per record.
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, false, observationLimit)
}

// OpenPostgres connects with lib/pq.
func OpenPostgres(ctx context.Context, dsn string, observationLimit int) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSQLStore(ctx, db, true, observationLimit)
}

func newSQLStore(ctx context.Context, db *sqlx.DB, postgres bool, limit int) (*SQLStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &SQLStore{db: db, postgres: postgres, limit: limit}, nil
}

func (s *SQLStore) Analysis() repository.AnalysisMemory      { return sqlAnalysis{s} }
func (s *SQLStore) Observations() repository.ObservationList { return sqlObservations{s} }
func (s *SQLStore) Signals() repository.SignalStore          { return sqlSignals{s} }

// DB exposes the pool for health checks.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// inTx runs fn in a transaction. On postgres the named advisory lock is held
// until commit so concurrent writers of the same record queue up.
func (s *SQLStore) inTx(ctx context.Context, lockName string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if s.postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockName); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("advisory lock: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type analysisRow struct {
	Symbol           string         `db:"symbol"`
	LastAnalysisTime sql.NullInt64  `db:"last_analysis_time"`
	LastPrice        float64        `db:"last_price"`
	LastRVOL         float64        `db:"last_rvol"`
	AnalysisCount    int            `db:"analysis_count"`
	LastResult       sql.NullString `db:"last_result"`
	MuteUntil        sql.NullInt64  `db:"mute_until"`
	MuteReason       string         `db:"mute_reason"`
}

func (r analysisRow) model() (*models.AnalysisRecord, error) {
	rec := &models.AnalysisRecord{
		Symbol:           r.Symbol,
		LastAnalysisTime: fromNullNanos(r.LastAnalysisTime),
		LastPrice:        r.LastPrice,
		LastRVOL:         r.LastRVOL,
		AnalysisCount:    r.AnalysisCount,
		MuteUntil:        fromNullNanos(r.MuteUntil),
		MuteReason:       models.MuteReason(r.MuteReason),
	}
	if r.LastResult.Valid && r.LastResult.String != "" {
		var res models.AnalysisResult
		if err := json.Unmarshal([]byte(r.LastResult.String), &res); err != nil {
			return nil, fmt.Errorf("decode last_result for %s: %w", r.Symbol, err)
		}
		rec.LastResult = &res
	}
	return rec, nil
}

func newAnalysisRow(rec *models.AnalysisRecord) (analysisRow, error) {
	row := analysisRow{
		Symbol:           rec.Symbol,
		LastAnalysisTime: toNullNanos(rec.LastAnalysisTime),
		LastPrice:        rec.LastPrice,
		LastRVOL:         rec.LastRVOL,
		AnalysisCount:    rec.AnalysisCount,
		MuteUntil:        toNullNanos(rec.MuteUntil),
		MuteReason:       string(rec.MuteReason),
	}
	if rec.LastResult != nil {
		b, err := json.Marshal(rec.LastResult)
		if err != nil {
			return row, err
		}
		row.LastResult = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

const analysisColumns = `symbol, last_analysis_time, last_price, last_rvol, analysis_count, last_result, mute_until, mute_reason`

type sqlAnalysis struct{ s *SQLStore }

func (a sqlAnalysis) Get(ctx context.Context, symbol string) (*models.AnalysisRecord, error) {
	return getAnalysis(ctx, a.s.db, symbol)
}

func getAnalysis(ctx context.Context, q queryer, symbol string) (*models.AnalysisRecord, error) {
	var row analysisRow
	query := q.Rebind(`SELECT ` + analysisColumns + ` FROM analysis_records WHERE symbol = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get analysis %s: %w", symbol, err)
	}
	return row.model()
}

func (a sqlAnalysis) List(ctx context.Context) ([]models.AnalysisRecord, error) {
	var rows []analysisRow
	if err := a.s.db.SelectContext(ctx, &rows, `SELECT `+analysisColumns+` FROM analysis_records ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("list analysis: %w", err)
	}
	out := make([]models.AnalysisRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (a sqlAnalysis) Update(ctx context.Context, symbol string, fn func(*models.AnalysisRecord) (*models.AnalysisRecord, error)) (*models.AnalysisRecord, error) {
	var result *models.AnalysisRecord
	err := a.s.inTx(ctx, "analysis:"+symbol, func(tx *sqlx.Tx) error {
		cur, err := getAnalysis(ctx, tx, symbol)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			return fmt.Errorf("update %s: nil record", symbol)
		}
		next = next.Clone()
		next.Symbol = symbol
		row, err := newAnalysisRow(next)
		if err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO analysis_records (`+analysisColumns+`)
			VALUES (:symbol, :last_analysis_time, :last_price, :last_rvol, :analysis_count, :last_result, :mute_until, :mute_reason)
			ON CONFLICT (symbol) DO UPDATE SET
				last_analysis_time = excluded.last_analysis_time,
				last_price = excluded.last_price,
				last_rvol = excluded.last_rvol,
				analysis_count = excluded.analysis_count,
				last_result = excluded.last_result,
				mute_until = excluded.mute_until,
				mute_reason = excluded.mute_reason`, row)
		if err != nil {
			return fmt.Errorf("upsert analysis %s: %w", symbol, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type observationRow struct {
	Symbol          string `db:"symbol"`
	AddedTime       int64  `db:"added_time"`
	LastCheckedTime int64  `db:"last_checked_time"`
	Reason          string `db:"reason"`
	CheckCount      int    `db:"check_count"`
	Seq             int64  `db:"seq"`
}

func (r observationRow) model() models.ObservationEntry {
	return models.ObservationEntry{
		Symbol:          r.Symbol,
		AddedTime:       time.Unix(0, r.AddedTime).UTC(),
		LastCheckedTime: time.Unix(0, r.LastCheckedTime).UTC(),
		Reason:          r.Reason,
		CheckCount:      r.CheckCount,
	}
}

type sqlObservations struct{ s *SQLStore }

func (o sqlObservations) Touch(ctx context.Context, symbol, reason string, at time.Time) (*models.ObservationEntry, error) {
	var entry models.ObservationEntry
	err := o.s.inTx(ctx, "observations", func(tx *sqlx.Tx) error {
		row := observationRow{Symbol: symbol, AddedTime: at.UnixNano()}
		err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT symbol, added_time, last_checked_time, reason, check_count, seq FROM observations WHERE symbol = ?`), symbol)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get observation %s: %w", symbol, err)
		}
		var seq int64
		if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) + 1 FROM observations`); err != nil {
			return fmt.Errorf("next observation seq: %w", err)
		}
		row.Reason = reason
		row.LastCheckedTime = at.UnixNano()
		row.CheckCount++
		row.Seq = seq

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO observations (symbol, added_time, last_checked_time, reason, check_count, seq)
			VALUES (:symbol, :added_time, :last_checked_time, :reason, :check_count, :seq)
			ON CONFLICT (symbol) DO UPDATE SET
				last_checked_time = excluded.last_checked_time,
				reason = excluded.reason,
				check_count = excluded.check_count,
				seq = excluded.seq`, row); err != nil {
			return fmt.Errorf("upsert observation %s: %w", symbol, err)
		}
		if o.s.limit > 0 {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				DELETE FROM observations WHERE symbol NOT IN (
					SELECT symbol FROM observations ORDER BY seq DESC LIMIT ?
				)`), o.s.limit); err != nil {
				return fmt.Errorf("evict observations: %w", err)
			}
		}
		entry = row.model()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (o sqlObservations) List(ctx context.Context) ([]models.ObservationEntry, error) {
	var rows []observationRow
	if err := o.s.db.SelectContext(ctx, &rows, `SELECT symbol, added_time, last_checked_time, reason, check_count, seq FROM observations ORDER BY seq DESC`); err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	out := make([]models.ObservationEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

type signalRow struct {
	ID                string          `db:"id"`
	Symbol            string          `db:"symbol"`
	Direction         string          `db:"direction"`
	CreatedAt         int64           `db:"created_at"`
	Status            string          `db:"status"`
	EntryPrice        float64         `db:"entry_price"`
	StopLoss          float64         `db:"stop_loss"`
	TakeProfit1       float64         `db:"tp1"`
	TakeProfit2       sql.NullFloat64 `db:"tp2"`
	TakeProfit3       sql.NullFloat64 `db:"tp3"`
	ConfluenceScore   string          `db:"confluence_score"`
	ConfidencePercent int             `db:"confidence_percent"`
	ConfidenceLabel   string          `db:"confidence_label"`
	TriggerReason     string          `db:"trigger_reason"`
	Leverage          float64         `db:"leverage"`
	PositionSize      float64         `db:"position_size"`
	LastCheckedAt     sql.NullInt64   `db:"last_checked_at"`
	History           string          `db:"history"`
}

const signalColumns = `id, symbol, direction, created_at, status, entry_price, stop_loss, tp1, tp2, tp3,
	confluence_score, confidence_percent, confidence_label, trigger_reason, leverage, position_size,
	last_checked_at, history`

func newSignalRow(s *models.Signal) (signalRow, error) {
	history := s.History
	if history == nil {
		history = []models.HistoryEvent{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return signalRow{}, fmt.Errorf("encode history: %w", err)
	}
	return signalRow{
		ID:                s.ID,
		Symbol:            s.Symbol,
		Direction:         string(s.Direction),
		CreatedAt:         s.CreatedAt.UnixNano(),
		Status:            string(s.Status),
		EntryPrice:        s.EntryPrice,
		StopLoss:          s.StopLoss,
		TakeProfit1:       s.TakeProfit1,
		TakeProfit2:       toNullFloat(s.TakeProfit2),
		TakeProfit3:       toNullFloat(s.TakeProfit3),
		ConfluenceScore:   s.ConfluenceScore,
		ConfidencePercent: s.ConfidencePercent,
		ConfidenceLabel:   s.ConfidenceLabel,
		TriggerReason:     s.TriggerReason,
		Leverage:          s.Leverage,
		PositionSize:      s.PositionSize,
		LastCheckedAt:     toNullNanos(s.LastCheckedAt),
		History:           string(b),
	}, nil
}

func (r signalRow) model() (*models.Signal, error) {
	s := &models.Signal{
		ID:                r.ID,
		Symbol:            r.Symbol,
		Direction:         models.Direction(r.Direction),
		CreatedAt:         time.Unix(0, r.CreatedAt).UTC(),
		Status:            models.SignalStatus(r.Status),
		EntryPrice:        r.EntryPrice,
		StopLoss:          r.StopLoss,
		TakeProfit1:       r.TakeProfit1,
		TakeProfit2:       fromNullFloat(r.TakeProfit2),
		TakeProfit3:       fromNullFloat(r.TakeProfit3),
		ConfluenceScore:   r.ConfluenceScore,
		ConfidencePercent: r.ConfidencePercent,
		ConfidenceLabel:   r.ConfidenceLabel,
		TriggerReason:     r.TriggerReason,
		Leverage:          r.Leverage,
		PositionSize:      r.PositionSize,
		LastCheckedAt:     fromNullNanos(r.LastCheckedAt),
	}
	if err := json.Unmarshal([]byte(r.History), &s.History); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", r.ID, err)
	}
	return s, nil
}

type sqlSignals struct{ s *SQLStore }

func (q sqlSignals) Create(ctx context.Context, sig *models.Signal) error {
	row, err := newSignalRow(sig)
	if err != nil {
		return err
	}
	_, err = q.s.db.NamedExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES (:id, :symbol, :direction, :created_at, :status, :entry_price, :stop_loss, :tp1, :tp2, :tp3,
			:confluence_score, :confidence_percent, :confidence_label, :trigger_reason, :leverage, :position_size,
			:last_checked_at, :history)`, row)
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	return nil
}

func (q sqlSignals) Get(ctx context.Context, id string) (*models.Signal, error) {
	return getSignal(ctx, q.s.db, id)
}

func getSignal(ctx context.Context, db queryer, id string) (*models.Signal, error) {
	var row signalRow
	query := db.Rebind(`SELECT ` + signalColumns + ` FROM signals WHERE id = ?`)
	if err := sqlx.GetContext(ctx, db, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	return row.model()
}

func (q sqlSignals) List(ctx context.Context, f models.SignalFilter) ([]models.Signal, error) {
	var where []string
	var args []interface{}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if f.Before != nil {
		where = append(where, "created_at < ?")
		args = append(args, f.Before.UnixNano())
	}

	query := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []signalRow
	if err := q.s.db.SelectContext(ctx, &rows, q.s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	out := make([]models.Signal, 0, len(rows))
	for _, row := range rows {
		s, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (q sqlSignals) Update(ctx context.Context, id string, fn func(*models.Signal) error) (*models.Signal, error) {
	var result *models.Signal
	err := q.s.inTx(ctx, "signal:"+id, func(tx *sqlx.Tx) error {
		cur, err := getSignal(ctx, tx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if !models.SameImmutable(cur, next) {
			return repository.ErrImmutableField
		}
		row, err := newSignalRow(next)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `
			UPDATE signals SET status = :status, last_checked_at = :last_checked_at, history = :history
			WHERE id = :id`, row); err != nil {
			return fmt.Errorf("update signal %s: %w", id, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (q sqlSignals) Stats(ctx context.Context) (models.SignalStats, error) {
	var row struct {
		Total  int `db:"total"`
		Wins   int `db:"wins"`
		Losses int `db:"losses"`
		Active int `db:"active"`
	}
	err := q.s.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status LIKE 'HitTP%' THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(CASE WHEN status = 'HitSL' THEN 1 ELSE 0 END), 0) AS losses,
			COALESCE(SUM(CASE WHEN status = 'Active' THEN 1 ELSE 0 END), 0) AS active
		FROM signals`)
	if err != nil {
		return models.SignalStats{}, fmt.Errorf("signal stats: %w", err)
	}
	return models.SignalStats{
		Total:   row.Total,
		Wins:    row.Wins,
		Losses:  row.Losses,
		Active:  row.Active,
		WinRate: models.WinRate(row.Wins, row.Losses),
	}, nil
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func toNullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
