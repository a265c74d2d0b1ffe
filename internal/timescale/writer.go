// Package timescale streams hedge evaluation history into TimescaleDB for
// offline analysis. Writes are queued and best-effort; a full queue drops the
// snapshot rather than stalling the monitor loop.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bn-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Evaluation struct {
	Time           time.Time
	Asset          string
	Symbol         string
	SpotTotal      float64
	FuturesSize    float64
	Ratio          float64
	HasRatio       bool
	Classification string
	MarkPrice      float64
	TargetRatio    float64
}

type RebalanceOrder struct {
	Time     time.Time
	Symbol   string
	Side     string
	Quantity float64
	Status   string
	Detail   string
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	evaluations chan Evaluation
	orders      chan RebalanceOrder
	started     atomic.Bool
	dropEval    atomic.Uint64
	dropOrder   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		evaluations: make(chan Evaluation, queueSize),
		orders:      make(chan RebalanceOrder, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueEvaluation(eval Evaluation) {
	if w == nil {
		return
	}
	select {
	case w.evaluations <- eval:
		return
	default:
		if w.dropEval.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale evaluation queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(order RebalanceOrder) {
	if w == nil {
		return
	}
	select {
	case w.orders <- order:
		return
	default:
		if w.dropOrder.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale order queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case eval := <-w.evaluations:
			w.writeEvaluation(ctx, eval)
		case order := <-w.orders:
			w.writeOrder(ctx, order)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		symbol TEXT NOT NULL,
		spot_total DOUBLE PRECISION NOT NULL,
		futures_size DOUBLE PRECISION NOT NULL,
		ratio DOUBLE PRECISION NOT NULL,
		has_ratio BOOLEAN NOT NULL,
		classification TEXT NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL,
		target_ratio DOUBLE PRECISION NOT NULL
	)`, w.table("hedge_evaluations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("rebalance_orders"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("hedge_evaluations"))); err != nil && w.log != nil {
		w.log.Warn("timescale hedge_evaluations hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("rebalance_orders"))); err != nil && w.log != nil {
		w.log.Warn("timescale rebalance_orders hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeEvaluation(ctx context.Context, eval Evaluation) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, symbol, spot_total, futures_size, ratio, has_ratio, classification, mark_price, target_ratio
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("hedge_evaluations"))
	if _, err := w.db.ExecContext(ctx, query,
		eval.Time,
		eval.Asset,
		eval.Symbol,
		eval.SpotTotal,
		eval.FuturesSize,
		eval.Ratio,
		eval.HasRatio,
		eval.Classification,
		eval.MarkPrice,
		eval.TargetRatio,
	); err != nil && w.log != nil {
		w.log.Warn("timescale evaluation insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, order RebalanceOrder) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, side, quantity, status, detail
	) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("rebalance_orders"))
	if _, err := w.db.ExecContext(ctx, query,
		order.Time,
		order.Symbol,
		order.Side,
		order.Quantity,
		order.Status,
		order.Detail,
	); err != nil && w.log != nil {
		w.log.Warn("timescale order insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
