package service

import (
	"context"
	"fmt"
	"time"

	"dca_bot/internal/models"
	"dca_bot/pkg/db"

	"go.uber.org/zap"
)

// Event — строка журнала position_events.
type Event struct {
	Account   string
	Symbol    string
	Side      models.PosSide
	Action    string
	Price     float64
	Size      float64
	AvgPrice  float64
	DcaCount  int
	Details   string
	CreatedAt time.Time
}

const createEvents = `
CREATE TABLE IF NOT EXISTS position_events (
    id         BIGSERIAL PRIMARY KEY,
    account    TEXT             NOT NULL,
    symbol     TEXT             NOT NULL,
    side       TEXT             NOT NULL,
    action     TEXT             NOT NULL,
    price      DOUBLE PRECISION NOT NULL DEFAULT 0,
    size       DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
    dca_count  INTEGER          NOT NULL DEFAULT 0,
    details    TEXT             NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS position_events_pos_idx ON position_events (account, symbol, side, created_at)`

const insertEvent = `
INSERT INTO position_events (account, symbol, side, action, price, size, avg_price, dca_count, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Journal — append-only журнал сделок. Ошибки только логируются.
type Journal struct {
	tx  db.TxManager
	log *zap.Logger
	now func() time.Time
}

func NewJournal(tx db.TxManager, log *zap.Logger) *Journal {
	return &Journal{tx: tx, log: log.Named("journal"), now: time.Now}
}

func (j *Journal) Enabled() bool { return j != nil && j.tx != nil }

// EnsureSchema создаёт таблицу журнала, если её нет.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if !j.Enabled() {
		return nil
	}
	return j.tx.Write(ctx, func(ctx context.Context, q db.Querier) error {
		if _, err := q.Exec(ctx, createEvents); err != nil {
			return fmt.Errorf("create position_events: %w", err)
		}
		return nil
	})
}

func (j *Journal) Record(ctx context.Context, e Event) {
	if !j.Enabled() {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now().UTC()
	}

	err := j.tx.Write(ctx, func(ctx context.Context, q db.Querier) error {
		_, err := q.Exec(ctx, insertEvent,
			e.Account, e.Symbol, string(e.Side), e.Action,
			e.Price, e.Size, e.AvgPrice, e.DcaCount, e.Details, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert position event: %w", err)
		}
		return nil
	})
	if err != nil {
		j.log.Warn("[JOURNAL] record failed",
			zap.String("account", e.Account),
			zap.String("symbol", e.Symbol),
			zap.String("action", e.Action),
			zap.Error(err),
		)
	}
}
