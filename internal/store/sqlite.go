package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes. Times are stored as
// Unix seconds so range queries compare numerically.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Learned parameters and other opaque state
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Candles table for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, timeframe, timestamp)
	);

	-- Issued predictions, kept for outcome learning
	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence REAL NOT NULL,
		created_at INTEGER NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_symbol ON predictions(symbol);
	CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Blob Methods
// ============================================================================

// LoadBlob returns the stored bytes for key, or ok=false when absent.
func (s *SQLiteStore) LoadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load blob %s: %v: %w", key, err, apperrors.ErrDatabaseError)
	}
	return data, true, nil
}

// SaveBlob stores data under key, replacing any previous value.
func (s *SQLiteStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, key, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save blob %s: %v: %w", key, err, apperrors.ErrDatabaseError)
	}
	return nil
}

// ============================================================================
// Candles Methods
// ============================================================================

func candleSyncKey(symbol string, tf models.Timeframe) string {
	return "candles:" + candleKey(symbol, tf)
}

// SaveCandles upserts candles and records the fetch time.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, string(tf), c.Timestamp.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.setLastSync(ctx, candleSyncKey(symbol, tf), time.Now())
}

// GetCandles returns candles in [from, to] ordered by time. A zero from
// means no lower bound.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	lower := int64(0)
	if !from.IsZero() {
		lower = from.Unix()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, string(tf), lower, to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns when candles were last saved for the pair, or
// the zero time if never.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol string, tf models.Timeframe) (time.Time, error) {
	return s.lastSync(ctx, candleSyncKey(symbol, tf))
}

// ============================================================================
// Prediction Methods
// ============================================================================

// SavePrediction inserts or replaces a prediction by ID.
func (s *SQLiteStore) SavePrediction(ctx context.Context, p *models.Prediction) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	resolved := 0
	if p.Resolved() {
		resolved = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO predictions (id, symbol, direction, confidence, created_at, resolved, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Symbol, string(p.Direction), p.Confidence, p.CreatedAt.Unix(), resolved, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// GetPredictions returns predictions matching the filter, newest first.
func (s *SQLiteStore) GetPredictions(ctx context.Context, filter PredictionFilter) ([]models.Prediction, error) {
	query := "SELECT payload FROM predictions WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.StartDate.Unix())
	}
	if !filter.EndDate.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.EndDate.Unix())
	}
	if filter.Unresolved {
		query += " AND resolved = 0"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []models.Prediction
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		var p models.Prediction
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("prediction row: %v: %w", err, apperrors.ErrPersistenceCorrupt)
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

// ============================================================================
// Sync Methods
// ============================================================================

// lastSync returns the last sync time for a data type.
func (s *SQLiteStore) lastSync(ctx context.Context, dataType string) (time.Time, error) {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	var unix int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sync status: %w", err)
	}
	t := time.Unix(unix, 0)

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return t, nil
}

// setLastSync sets the last sync time for a data type.
func (s *SQLiteStore) setLastSync(ctx context.Context, dataType string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_status (data_type, last_sync) VALUES (?, ?)
	`, dataType, t.Unix())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = time.Unix(t.Unix(), 0)
	s.mu.Unlock()

	return nil
}
