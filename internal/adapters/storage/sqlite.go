// Package storage persiste el estado del trader en SQLite (pure Go, sin CGo).
package storage

// sqlite.go — tres tablas pequeñas:
//   - `costs`: una fila por instrumento con el coste medio. UPSERT en cada
//     fill; es lo único imprescindible para sobrevivir un reinicio.
//   - `trades`: log append-only de fills confirmados. Nunca se actualiza.
//   - `streaks`: racha de pérdidas por lado, para el cooldown de entradas.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS costs (
    token_id       TEXT PRIMARY KEY,
    side           TEXT NOT NULL,
    avg_cost_cents REAL NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    ts               DATETIME NOT NULL,
    token_id         TEXT NOT NULL,
    side             TEXT NOT NULL,
    action           TEXT NOT NULL,
    filled_cents     REAL NOT NULL,
    filled_size      REAL NOT NULL,
    realized_cents   REAL NOT NULL DEFAULT 0,
    cost_basis_cents REAL NOT NULL DEFAULT 0,
    reason           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS streaks (
    side               TEXT PRIMARY KEY,
    consecutive_losses INTEGER NOT NULL DEFAULT 0,
    cooldown_until     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trades_ts    ON trades(ts DESC);
CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token_id, id DESC);
`

// tsLayout es el formato de los timestamps del log de trades. Se guardan
// como texto UTC en un formato que DATE() entiende, para poder agrupar por
// día en SQL.
const tsLayout = "2006-01-02 15:04:05"

// SQLiteStorage implementa ports.LedgerStorage.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica
// el schema. Usa ":memory:" en tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveCost hace upsert del coste medio de un instrumento.
func (s *SQLiteStorage) SaveCost(ctx context.Context, tokenID string, side domain.Side, avgCostCents float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO costs (token_id, side, avg_cost_cents, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET
			side = excluded.side,
			avg_cost_cents = excluded.avg_cost_cents,
			updated_at = excluded.updated_at`,
		tokenID, string(side), avgCostCents, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.SaveCost: %w", err)
	}
	return nil
}

// DeleteCost elimina el coste persistido de un instrumento cerrado.
func (s *SQLiteStorage) DeleteCost(ctx context.Context, tokenID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM costs WHERE token_id = ?`, tokenID); err != nil {
		return fmt.Errorf("storage.DeleteCost: %w", err)
	}
	return nil
}

// LoadCosts devuelve el mapa instrumento → coste medio guardado.
func (s *SQLiteStorage) LoadCosts(ctx context.Context) (map[string]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token_id, side, avg_cost_cents FROM costs`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadCosts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Position)
	for rows.Next() {
		var (
			pos  domain.Position
			side string
		)
		if err := rows.Scan(&pos.TokenID, &side, &pos.AvgCostCents); err != nil {
			return nil, fmt.Errorf("storage.LoadCosts: scan: %w", err)
		}
		pos.Side = domain.Side(side)
		out[pos.TokenID] = pos
	}
	return out, rows.Err()
}

// AppendTrade añade un fill al log. Nunca actualiza filas existentes.
func (s *SQLiteStorage) AppendTrade(ctx context.Context, tr domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(ts, token_id, side, action, filled_cents, filled_size,
			 realized_cents, cost_basis_cents, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Timestamp.UTC().Format(tsLayout), tr.TokenID, string(tr.Side), string(tr.Action),
		tr.FilledCents, tr.FilledSize, tr.RealizedCents, tr.CostBasisCents,
		string(tr.Reason))
	if err != nil {
		return fmt.Errorf("storage.AppendTrade: %w", err)
	}
	return nil
}

// GetTrades devuelve los últimos `limit` trades, el más reciente primero.
func (s *SQLiteStorage) GetTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, token_id, side, action, filled_cents, filled_size,
		       realized_cents, cost_basis_cents, reason
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.GetTrades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			tr                       domain.TradeRecord
			ts, side, action, reason string
		)
		if err := rows.Scan(&tr.ID, &ts, &tr.TokenID, &side, &action,
			&tr.FilledCents, &tr.FilledSize, &tr.RealizedCents,
			&tr.CostBasisCents, &reason); err != nil {
			return nil, fmt.Errorf("storage.GetTrades: scan: %w", err)
		}
		tr.Timestamp, _ = time.Parse(tsLayout, ts)
		tr.Side = domain.Side(side)
		tr.Action = domain.Action(action)
		tr.Reason = domain.Reason(reason)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// LastTradePrice devuelve el precio del último fill para un instrumento.
// Es la mejor estimación de coste al reconciliar un balance huérfano.
func (s *SQLiteStorage) LastTradePrice(ctx context.Context, tokenID string) (float64, bool, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `
		SELECT filled_cents FROM trades
		WHERE token_id = ? ORDER BY id DESC LIMIT 1`, tokenID).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage.LastTradePrice: %w", err)
	}
	return price, true, nil
}

// GetStats agrega el log de trades para el reporte por tick.
func (s *SQLiteStorage) GetStats(ctx context.Context) (domain.TradeStats, error) {
	var st domain.TradeStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN action = 'SELL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SELL' AND realized_cents > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SELL' AND realized_cents < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SELL' THEN realized_cents * filled_size ELSE 0 END), 0)
		FROM trades`).Scan(&st.TotalTrades, &st.Sells, &st.Wins, &st.Losses, &st.RealizedCents)
	if err != nil {
		return st, fmt.Errorf("storage.GetStats: %w", err)
	}
	if st.Sells > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Sells) * 100
	}
	return st, nil
}

// GetDailies agrega el log por día, el más antiguo primero. Se deriva del
// log en vez de mantener una tabla aparte: una fila por sesión sin otro
// write path que mantener.
func (s *SQLiteStorage) GetDailies(ctx context.Context) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			DATE(ts),
			COUNT(*),
			COALESCE(SUM(CASE WHEN action = 'SELL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SELL' AND realized_cents > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SELL' AND realized_cents < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'SELL' THEN realized_cents * filled_size ELSE 0 END), 0)
		FROM trades
		GROUP BY DATE(ts)
		ORDER BY DATE(ts) ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailies: %w", err)
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var (
			d       domain.DailySummary
			dateStr string
		)
		if err := rows.Scan(&dateStr, &d.Trades, &d.Sells, &d.Wins, &d.Losses,
			&d.RealizedCents); err != nil {
			return nil, fmt.Errorf("storage.GetDailies: scan: %w", err)
		}
		d.Date, _ = time.Parse("2006-01-02", dateStr)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveStreak hace upsert de la racha de pérdidas de un lado.
func (s *SQLiteStorage) SaveStreak(ctx context.Context, ls domain.LossStreak) error {
	var until any
	if !ls.CooldownUntil.IsZero() {
		until = ls.CooldownUntil.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streaks (side, consecutive_losses, cooldown_until)
		VALUES (?, ?, ?)
		ON CONFLICT(side) DO UPDATE SET
			consecutive_losses = excluded.consecutive_losses,
			cooldown_until = excluded.cooldown_until`,
		string(ls.Side), ls.ConsecutiveLosses, until)
	if err != nil {
		return fmt.Errorf("storage.SaveStreak: %w", err)
	}
	return nil
}

// LoadStreaks devuelve las rachas guardadas por lado.
func (s *SQLiteStorage) LoadStreaks(ctx context.Context) (map[domain.Side]domain.LossStreak, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT side, consecutive_losses, cooldown_until FROM streaks`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadStreaks: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Side]domain.LossStreak)
	for rows.Next() {
		var (
			side  string
			ls    domain.LossStreak
			until sql.NullTime
		)
		if err := rows.Scan(&side, &ls.ConsecutiveLosses, &until); err != nil {
			return nil, fmt.Errorf("storage.LoadStreaks: scan: %w", err)
		}
		ls.Side = domain.Side(side)
		if until.Valid {
			ls.CooldownUntil = until.Time
		}
		out[ls.Side] = ls
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos limpiamente.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
