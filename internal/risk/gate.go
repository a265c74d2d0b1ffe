// Package risk is the pre-trade approval gate and scored alerting engine.
// All state (emergency stop, alert history) lives on the Engine, passed in
// explicitly; there are no package-level globals.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelLow     Level = "LOW"
	LevelMedium  Level = "MEDIUM"
	LevelHigh    Level = "HIGH"
	LevelExtreme Level = "EXTREME"
)

func severity(level Level) int {
	switch level {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelExtreme:
		return 3
	default:
		return 0
	}
}

type Action string

const (
	ActionStopTrading    Action = "STOP_TRADING"
	ActionReduceExposure Action = "REDUCE_EXPOSURE"
)

type Config struct {
	MaxDailyLossUSD     float64
	MaxPositionSizeUSD  float64
	MaxTotalExposureUSD float64
	MaxConcurrentTrades int
	MaxLeverage         float64
	VolatilityThreshold float64
	LiquidityThreshold  float64
	EmergencyStop       bool
	AlertWindow         time.Duration
	AlertHistoryLimit   int
}

// TradeRequest carries the proposed trade and its market measurements.
// Volatility and liquidity are optional inputs; a request without a
// measurement leaves the matching rule out of the decision instead of
// being judged against a zero reading.
type TradeRequest struct {
	InvestmentUSD float64
	Leverage      float64
	Volatility    float64
	HasVolatility bool
	Liquidity     float64
	HasLiquidity  bool
}

// AccountState is the live exposure context a decision is made against.
type AccountState struct {
	CurrentExposureUSD float64
	OpenPositions      int
	DailyPnLUSD        float64
}

type Decision struct {
	Approved                bool
	Level                   Level
	Warnings                []string
	MaxAllowedInvestmentUSD float64
}

type Alert struct {
	Type   string
	Metric string
	Value  float64
	Action Action
	At     time.Time
}

type Engine struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu            sync.Mutex
	emergencyStop bool
	alerts        []Alert
}

func NewEngine(cfg Config, log *zap.Logger) *Engine {
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = 5 * time.Minute
	}
	if cfg.AlertHistoryLimit <= 0 {
		cfg.AlertHistoryLimit = 50
	}
	return &Engine{
		cfg:           cfg,
		log:           log,
		now:           time.Now,
		emergencyStop: cfg.EmergencyStop,
	}
}

func (e *Engine) SetEmergencyStop(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergencyStop = on
}

// EvaluateTradeRisk applies the gate rules in order. Any failing rule can
// reject or downgrade; the most severe level observed wins.
func (e *Engine) EvaluateTradeRisk(req TradeRequest, acct AccountState) Decision {
	e.mu.Lock()
	stopped := e.emergencyStop
	e.mu.Unlock()

	decision := Decision{Approved: true, Level: LevelLow, MaxAllowedInvestmentUSD: req.InvestmentUSD}
	reject := func(level Level, warning string) {
		decision.Approved = false
		escalate(&decision, level)
		decision.Warnings = append(decision.Warnings, warning)
	}
	warn := func(level Level, warning string) {
		escalate(&decision, level)
		decision.Warnings = append(decision.Warnings, warning)
	}

	if stopped {
		reject(LevelExtreme, "emergency stop active")
	}
	if e.cfg.MaxDailyLossUSD > 0 && acct.DailyPnLUSD < -e.cfg.MaxDailyLossUSD {
		reject(LevelExtreme, fmt.Sprintf("daily pnl %.2f below loss limit -%.2f", acct.DailyPnLUSD, e.cfg.MaxDailyLossUSD))
	}

	allowed := req.InvestmentUSD
	if e.cfg.MaxPositionSizeUSD > 0 {
		allowed = math.Min(allowed, e.cfg.MaxPositionSizeUSD)
	}
	if e.cfg.MaxTotalExposureUSD > 0 {
		allowed = math.Min(allowed, e.cfg.MaxTotalExposureUSD-acct.CurrentExposureUSD)
	}
	if allowed <= 0 {
		reject(LevelHigh, fmt.Sprintf("exposure %.2f leaves no headroom under cap %.2f", acct.CurrentExposureUSD, e.cfg.MaxTotalExposureUSD))
		allowed = 0
	}
	decision.MaxAllowedInvestmentUSD = allowed

	if e.cfg.MaxLeverage > 0 && req.Leverage > e.cfg.MaxLeverage {
		reject(LevelHigh, fmt.Sprintf("leverage %.1f exceeds max %.1f", req.Leverage, e.cfg.MaxLeverage))
	}
	if e.cfg.MaxConcurrentTrades > 0 && acct.OpenPositions >= e.cfg.MaxConcurrentTrades {
		reject(LevelMedium, fmt.Sprintf("open positions %d at limit %d", acct.OpenPositions, e.cfg.MaxConcurrentTrades))
	}
	if e.cfg.VolatilityThreshold > 0 && req.HasVolatility && req.Volatility > e.cfg.VolatilityThreshold {
		if req.Volatility > 1.5*e.cfg.VolatilityThreshold {
			reject(LevelHigh, fmt.Sprintf("volatility %.4f above 1.5x threshold %.4f", req.Volatility, e.cfg.VolatilityThreshold))
		} else {
			warn(LevelMedium, fmt.Sprintf("volatility %.4f above threshold %.4f", req.Volatility, e.cfg.VolatilityThreshold))
		}
	}
	if e.cfg.LiquidityThreshold > 0 && req.HasLiquidity && req.Liquidity < e.cfg.LiquidityThreshold {
		if req.Liquidity < 0.5*e.cfg.LiquidityThreshold {
			reject(LevelExtreme, fmt.Sprintf("liquidity %.2f below 0.5x threshold %.2f", req.Liquidity, e.cfg.LiquidityThreshold))
		} else {
			warn(LevelHigh, fmt.Sprintf("liquidity %.2f below threshold %.2f", req.Liquidity, e.cfg.LiquidityThreshold))
		}
	}
	return decision
}

func escalate(decision *Decision, level Level) {
	if severity(level) > severity(decision.Level) {
		decision.Level = level
	}
}
