package storage

// sqlite.go: store de documentos sobre SQLite.
//
// Cada trade se guarda entero como JSON en `doc`; las columnas sueltas solo
// existen para indexar las consultas del ledger (uid, estado, fecha).
// El documento de totales vive en su propia tabla con id "TOTAL".

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/cardbot/internal/domain"
	"github.com/alejandrodnm/cardbot/internal/ports"
	_ "modernc.org/sqlite"
)

// ErrNotFound es ports.ErrNotFound, reexportado para los callers del paquete.
var ErrNotFound = ports.ErrNotFound

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id          TEXT PRIMARY KEY,
    uid         TEXT    NOT NULL,
    account     TEXT    NOT NULL,
    status_id   INTEGER NOT NULL DEFAULT 0,
    create_ns   INTEGER NOT NULL,
    doc         TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_uid    ON trades(uid, create_ns DESC);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status_id, create_ns);

CREATE TABLE IF NOT EXISTS totals (
    id  TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);
`

// SQLiteStore implementa ports.TradeStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// InsertTrade guarda un trade nuevo. Un id repetido es un error.
func (s *SQLiteStore) InsertTrade(ctx context.Context, t domain.Trade) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage.InsertTrade: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, uid, account, status_id, create_ns, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UID, t.Account, t.StatusID, t.CreateDate.UnixNano(), string(doc),
	); err != nil {
		return fmt.Errorf("storage.InsertTrade: %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTrade reescribe el documento del trade. ErrNotFound si no existe.
func (s *SQLiteStore) UpdateTrade(ctx context.Context, t domain.Trade) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage.UpdateTrade: marshal: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET uid = ?, account = ?, status_id = ?, create_ns = ?, doc = ? WHERE id = ?`,
		t.UID, t.Account, t.StatusID, t.CreateDate.UnixNano(), string(doc), t.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateTrade: %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateTrade: %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// FindTradeByUID devuelve el trade más reciente de la carta.
func (s *SQLiteStore) FindTradeByUID(ctx context.Context, uid string) (domain.Trade, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM trades WHERE uid = ? ORDER BY create_ns DESC, id DESC LIMIT 1`, uid,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, ErrNotFound
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.FindTradeByUID: %s: %w", uid, err)
	}
	var t domain.Trade
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return domain.Trade{}, fmt.Errorf("storage.FindTradeByUID: decode: %w", err)
	}
	return t, nil
}

// FindActiveTrades pagina los trades activos por fecha de creación.
func (s *SQLiteStore) FindActiveTrades(ctx context.Context, skip, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = -1 // sin límite en SQLite
	}
	trades, err := s.queryTrades(ctx,
		`SELECT doc FROM trades WHERE status_id = ? ORDER BY create_ns, id LIMIT ? OFFSET ?`,
		domain.StatusIDActive, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.FindActiveTrades: %w", err)
	}
	return trades, nil
}

// FindFinishedTrades devuelve todos los trades vendidos.
func (s *SQLiteStore) FindFinishedTrades(ctx context.Context) ([]domain.Trade, error) {
	trades, err := s.queryTrades(ctx,
		`SELECT doc FROM trades WHERE status_id = ? ORDER BY create_ns, id`, domain.StatusIDFinished,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.FindFinishedTrades: %w", err)
	}
	return trades, nil
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t domain.Trade
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadTotals devuelve el documento TOTAL, o uno vacío si todavía no existe.
func (s *SQLiteStore) LoadTotals(ctx context.Context) (domain.Totals, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM totals WHERE id = ?`, domain.TotalsID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Totals{ID: domain.TotalsID}, nil
	}
	if err != nil {
		return domain.Totals{}, fmt.Errorf("storage.LoadTotals: %w", err)
	}
	var t domain.Totals
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return domain.Totals{}, fmt.Errorf("storage.LoadTotals: decode: %w", err)
	}
	return t, nil
}

// SaveTotals hace upsert del documento TOTAL.
func (s *SQLiteStore) SaveTotals(ctx context.Context, t domain.Totals) error {
	t.ID = domain.TotalsID
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage.SaveTotals: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO totals (id, doc) VALUES (?, ?)`, t.ID, string(doc),
	); err != nil {
		return fmt.Errorf("storage.SaveTotals: %w", err)
	}
	return nil
}

// Close cierra la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
