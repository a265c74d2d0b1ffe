package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/alerts"
	"bn-hedge-bot/internal/bnc"
	"bn-hedge-bot/internal/bnc/rest"
	"bn-hedge-bot/internal/bnc/ws"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/exec"
	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/market"
	"bn-hedge-bot/internal/metrics"
	"bn-hedge-bot/internal/risk"
	"bn-hedge-bot/internal/state"
	"bn-hedge-bot/internal/state/sqlite"
	"bn-hedge-bot/internal/timescale"
	"bn-hedge-bot/internal/validate"

	"go.uber.org/zap"
)

// Snapshotter is the read surface the monitor loop needs from the exchange.
type Snapshotter interface {
	Snapshot(ctx context.Context, assets []string, quote string) ([]hedge.AssetPosition, error)
	Position(ctx context.Context, asset, quote string) (hedge.AssetPosition, error)
	TradingRules(ctx context.Context, symbol string) (hedge.TradingRules, error)
	DailyRealizedPnL(ctx context.Context) (float64, error)
}

// OrderPlacer submits corrective orders.
type OrderPlacer interface {
	Place(ctx context.Context, order hedge.Order, clientOrderID string) (string, error)
	DryRun() bool
}

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	rest     *rest.Client
	marks    *market.Cache
	account  Snapshotter
	executor OrderPlacer
	notifier alerts.Notifier
	risk     *risk.Engine
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	writer   *timescale.Writer

	policy      hedge.Policy
	bounds      hedge.Bounds
	validateCfg validate.Config
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("BINANCE_API_KEY is required")
	}
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	if apiSecret == "" {
		return nil, errors.New("BINANCE_API_SECRET is required")
	}

	restClient := rest.New(cfg.REST, apiKey, apiSecret, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	marks := market.New(restClient, wsClient, log)
	adapter := account.New(restClient, log)
	executor := exec.New(exec.NewBinanceClient(restClient), store, cfg.Monitor.DryRun, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	restClient.SetResyncHook(func() { m.ClockResyncs.Inc() })

	var notifier alerts.Notifier = alerts.Noop{}
	if cfg.Telegram.Enabled {
		notifier = alerts.NewTelegram(cfg.Telegram, log)
	}

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	riskEngine := risk.NewEngine(risk.Config{
		MaxDailyLossUSD:     cfg.Risk.MaxDailyLossUSD,
		MaxPositionSizeUSD:  cfg.Risk.MaxPositionSizeUSD,
		MaxTotalExposureUSD: cfg.Risk.MaxTotalExposureUSD,
		MaxConcurrentTrades: cfg.Risk.MaxConcurrentTrades,
		MaxLeverage:         cfg.Risk.MaxLeverage,
		VolatilityThreshold: cfg.Risk.VolatilityThreshold,
		LiquidityThreshold:  cfg.Risk.LiquidityThreshold,
		EmergencyStop:       cfg.Risk.EmergencyStop,
		AlertWindow:         cfg.Risk.AlertWindow,
		AlertHistoryLimit:   cfg.Risk.AlertHistoryLimit,
	}, log)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		rest:     restClient,
		marks:    marks,
		account:  adapter,
		executor: executor,
		notifier: notifier,
		risk:     riskEngine,
		metrics:  m,
		prom:     prom,
		writer:   writer,
		policy: hedge.Policy{
			MinRatio:    cfg.Hedge.MinRatio,
			MaxRatio:    cfg.Hedge.MaxRatio,
			TargetRatio: cfg.Hedge.TargetRatio,
		},
		bounds: hedge.Bounds{
			MinUSD: cfg.Hedge.MinOrderUSD,
			MaxUSD: cfg.Hedge.MaxOrderUSD,
		},
		validateCfg: validate.Config{
			MaxAttempts:  cfg.Validation.MaxAttempts,
			PollInterval: cfg.Validation.PollInterval,
			MaxWait:      cfg.Validation.MaxWait,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.rest.SyncClock(ctx); err != nil {
		return fmt.Errorf("initial clock sync: %w", err)
	}

	if err := a.marks.Refresh(ctx); err != nil {
		a.log.Warn("mark price refresh failed", zap.Error(err))
	}
	if err := a.marks.Start(ctx); err != nil {
		a.log.Warn("mark price stream start failed", zap.Error(err))
	}
	a.writer.Start(ctx)
	defer a.writer.Close()
	if a.prom != nil {
		a.serveMetrics(ctx)
	}

	a.log.Info("monitor started",
		zap.Strings("assets", a.cfg.Hedge.Assets),
		zap.Bool("dry_run", a.executor.DryRun()),
		zap.Duration("interval", a.cfg.Monitor.Interval),
	)

	ticker := time.NewTicker(a.cfg.Monitor.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				a.log.Warn("monitor tick failed", zap.Error(err))
			}
		}
	}
}

func (a *App) tick(ctx context.Context) error {
	snapshot, err := a.account.Snapshot(ctx, a.cfg.Hedge.Assets, a.cfg.Hedge.QuoteAsset)
	if err != nil {
		return err
	}
	dailyPnL, err := a.account.DailyRealizedPnL(ctx)
	if err != nil {
		a.log.Warn("daily pnl fetch failed", zap.Error(err))
		dailyPnL = 0
	}
	acct := accountState(snapshot, dailyPnL)

	for _, pos := range snapshot {
		pos = a.withLiveMark(pos)
		eval := hedge.Evaluate(pos, a.policy)
		a.metrics.Evaluations.Inc()
		a.enqueueEvaluation(eval, pos)
		if eval.Classification == hedge.Balanced {
			continue
		}
		a.metrics.Imbalances.Inc()
		a.log.Info("imbalance detected",
			zap.String("asset", eval.Asset),
			zap.String("classification", string(eval.Classification)),
			zap.Float64("spot_total", eval.SpotTotal),
			zap.Float64("futures_size", eval.FuturesSize),
			zap.Float64("ratio", eval.Ratio),
		)
		if eval.Classification == hedge.NakedFutures {
			if _, raised := a.risk.Raise("NAKED_FUTURES", eval.Asset, eval.FuturesSize, risk.ActionReduceExposure); raised {
				a.notify(ctx, fmt.Sprintf("<b>NAKED FUTURES</b> %s: futures %.8f with zero spot backing", eval.Symbol, eval.FuturesSize))
			}
		}
		a.rebalance(ctx, pos, eval, acct)
	}

	if alert, ok := a.risk.CheckScore(acct, a.portfolioVolatility(snapshot)); ok {
		a.notify(ctx, fmt.Sprintf("<b>RISK SCORE %.0f</b> action %s (exposure %.2f, daily pnl %.2f)",
			alert.Value, alert.Action, acct.CurrentExposureUSD, acct.DailyPnLUSD))
	}
	return nil
}

func (a *App) rebalance(ctx context.Context, pos hedge.AssetPosition, eval hedge.Evaluation, acct risk.AccountState) {
	rules, err := a.account.TradingRules(ctx, pos.Symbol)
	if err != nil {
		a.log.Warn("trading rules unavailable", zap.String("symbol", pos.Symbol), zap.Error(err))
		a.journal(ctx, eval, hedge.Order{Symbol: pos.Symbol}, "REJECTED", err.Error())
		return
	}
	order, err := hedge.PlanRebalance(pos, a.policy, rules, a.bounds)
	if err != nil {
		a.metrics.PlansRejected.Inc()
		a.journal(ctx, eval, hedge.Order{Symbol: pos.Symbol}, "REJECTED", err.Error())
		if errors.Is(err, bnc.ErrRuleViolation) {
			a.notify(ctx, fmt.Sprintf("<b>CANNOT REBALANCE</b> %s", alerts.EscapeHTML(err.Error())))
		} else {
			a.log.Info("no rebalance planned", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
		return
	}
	a.metrics.OrdersPlanned.Inc()

	vol, hasVol := a.marks.Volatility(pos.Symbol)
	decision := a.risk.EvaluateTradeRisk(risk.TradeRequest{
		InvestmentUSD: order.Quantity * pos.MarkPrice,
		Leverage:      1,
		Volatility:    vol,
		HasVolatility: hasVol,
	}, acct)
	if !decision.Approved {
		a.metrics.RiskRejections.Inc()
		detail := strings.Join(decision.Warnings, "; ")
		a.journal(ctx, eval, order, "RISK_REJECTED", detail)
		a.notify(ctx, fmt.Sprintf("<b>RISK %s</b> %s %s %.8f rejected: %s",
			decision.Level, order.Symbol, order.Side, order.Quantity, alerts.EscapeHTML(detail)))
		return
	}

	clientOrderID := fmt.Sprintf("rebal-%s-%s", order.Symbol, time.Now().UTC().Format("20060102T150405Z"))
	orderID, err := a.executor.Place(ctx, order, clientOrderID)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		a.journal(ctx, eval, order, "FAILED", err.Error())
		a.notify(ctx, fmt.Sprintf("<b>ORDER FAILED</b> %s %s %.8f: %s", order.Symbol, order.Side, order.Quantity, alerts.EscapeHTML(err.Error())))
		return
	}
	a.metrics.OrdersPlaced.Inc()
	a.enqueueOrder(order, "PLACED", orderID)
	if a.executor.DryRun() {
		a.journal(ctx, eval, order, "DRY_RUN", orderID)
		return
	}
	a.journal(ctx, eval, order, "PLACED", orderID)

	result, err := validate.Run(ctx, a.validateCfg, a.policy, func(ctx context.Context) (hedge.AssetPosition, error) {
		return a.account.Position(ctx, pos.Asset, a.cfg.Hedge.QuoteAsset)
	})
	switch {
	case err == nil && result.Status == validate.StatusBalanced:
		a.journal(ctx, eval, order, "BALANCED", fmt.Sprintf("ratio %.4f after %d polls", result.LastEval.Ratio, result.Attempts))
		a.log.Info("rebalance validated",
			zap.String("symbol", order.Symbol),
			zap.Float64("ratio", result.LastEval.Ratio),
			zap.Int("attempts", result.Attempts),
		)
	case errors.Is(err, bnc.ErrImbalanceTimeout):
		a.metrics.ValidationTimeouts.Inc()
		a.journal(ctx, eval, order, "TIMED_OUT", err.Error())
		a.notify(ctx, fmt.Sprintf("<b>POSITION STILL IMBALANCED</b> %s", alerts.EscapeHTML(err.Error())))
	case err != nil:
		a.log.Warn("validation poll failed", zap.String("symbol", order.Symbol), zap.Error(err))
	}
}

// portfolioVolatility is the worst realized volatility across the snapshot
// symbols; zero when no symbol has accumulated a measurement yet.
func (a *App) portfolioVolatility(snapshot []hedge.AssetPosition) float64 {
	var worst float64
	for _, pos := range snapshot {
		if vol, ok := a.marks.Volatility(pos.Symbol); ok && vol > worst {
			worst = vol
		}
	}
	return worst
}

func (a *App) withLiveMark(pos hedge.AssetPosition) hedge.AssetPosition {
	if mark, ok := a.marks.Mark(pos.Symbol); ok && mark.Price > 0 {
		pos.MarkPrice = mark.Price
	}
	return pos
}

func (a *App) notify(ctx context.Context, message string) {
	if err := a.notifier.Notify(ctx, message); err != nil {
		a.log.Warn("notification send failed", zap.Error(err))
		return
	}
	a.metrics.AlertsSent.Inc()
}

func (a *App) journal(ctx context.Context, eval hedge.Evaluation, order hedge.Order, status, detail string) {
	record := state.RebalanceRecord{
		Asset:          eval.Asset,
		Symbol:         eval.Symbol,
		Classification: string(eval.Classification),
		Side:           string(order.Side),
		Quantity:       order.Quantity,
		RatioBefore:    eval.Ratio,
		Status:         status,
		Detail:         detail,
		AtMS:           time.Now().UnixMilli(),
	}
	if err := state.AppendRebalance(ctx, a.store, record); err != nil {
		a.log.Warn("journal append failed", zap.Error(err))
	}
}

func (a *App) enqueueEvaluation(eval hedge.Evaluation, pos hedge.AssetPosition) {
	if a.writer == nil {
		return
	}
	a.writer.EnqueueEvaluation(timescale.Evaluation{
		Time:           time.Now().UTC(),
		Asset:          eval.Asset,
		Symbol:         eval.Symbol,
		SpotTotal:      eval.SpotTotal,
		FuturesSize:    eval.FuturesSize,
		Ratio:          eval.Ratio,
		HasRatio:       eval.HasRatio,
		Classification: string(eval.Classification),
		MarkPrice:      pos.MarkPrice,
		TargetRatio:    a.policy.TargetRatio,
	})
}

func (a *App) enqueueOrder(order hedge.Order, status, detail string) {
	if a.writer == nil {
		return
	}
	a.writer.EnqueueOrder(timescale.RebalanceOrder{
		Time:     time.Now().UTC(),
		Symbol:   order.Symbol,
		Side:     string(order.Side),
		Quantity: order.Quantity,
		Status:   status,
		Detail:   detail,
	})
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server ended", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func accountState(snapshot []hedge.AssetPosition, dailyPnL float64) risk.AccountState {
	var exposure float64
	open := 0
	for _, pos := range snapshot {
		if pos.FuturesAmt == 0 {
			continue
		}
		open++
		if pos.MarkPrice > 0 {
			exposure += abs(pos.FuturesAmt) * pos.MarkPrice
		}
	}
	return risk.AccountState{
		CurrentExposureUSD: exposure,
		OpenPositions:      open,
		DailyPnLUSD:        dailyPnL,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
