// Package exec submits corrective orders. Placement is idempotent per client
// order id so a crashed run never doubles an order on restart.
package exec

import (
	"context"
	"errors"
	"sync"

	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/state"

	"go.uber.org/zap"
)

const dryRunOrderID = "dry-run"

type RestClient interface {
	PlaceFuturesOrder(ctx context.Context, order hedge.Order, clientOrderID string) (string, error)
}

type Executor struct {
	rest   RestClient
	store  state.Store
	dryRun bool
	log    *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(rest RestClient, store state.Store, dryRun bool, log *zap.Logger) *Executor {
	return &Executor{
		rest:   rest,
		store:  store,
		dryRun: dryRun,
		log:    log,
		cache:  make(map[string]string),
	}
}

func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Place submits the order, short-circuiting in dry-run mode. A client order
// id that already produced an exchange order id is returned from cache
// instead of being resubmitted.
func (e *Executor) Place(ctx context.Context, order hedge.Order, clientOrderID string) (string, error) {
	if e.dryRun {
		e.log.Info("dry run, order not submitted",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.Float64("quantity", order.Quantity),
			zap.String("reason", order.Reason),
		)
		return dryRunOrderID, nil
	}
	if clientOrderID == "" {
		return e.place(ctx, order, "")
	}
	cacheKey := "cloid:" + clientOrderID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	orderID, err := e.place(ctx, order, clientOrderID)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, nil
}

func (e *Executor) place(ctx context.Context, order hedge.Order, clientOrderID string) (string, error) {
	if e.rest == nil {
		return "", errors.New("rest client is required")
	}
	orderID, err := e.rest.PlaceFuturesOrder(ctx, order, clientOrderID)
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id in exchange response")
	}
	return orderID, nil
}
