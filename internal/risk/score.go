package risk

import (
	"math"

	"go.uber.org/zap"
)

const (
	exposureWeight   = 30
	lossWeight       = 25
	positionsWeight  = 20
	volatilityWeight = 25

	alertScoreThreshold = 80
)

// Score computes the running 0-100 risk score from weighted, individually
// capped contributions.
func (e *Engine) Score(acct AccountState, volatility float64) float64 {
	var score float64
	if e.cfg.MaxTotalExposureUSD > 0 {
		score += cappedRatio(acct.CurrentExposureUSD, e.cfg.MaxTotalExposureUSD) * exposureWeight
	}
	if e.cfg.MaxDailyLossUSD > 0 {
		score += cappedRatio(math.Max(0, -acct.DailyPnLUSD), e.cfg.MaxDailyLossUSD) * lossWeight
	}
	if e.cfg.MaxConcurrentTrades > 0 {
		score += cappedRatio(float64(acct.OpenPositions), float64(e.cfg.MaxConcurrentTrades)) * positionsWeight
	}
	if e.cfg.VolatilityThreshold > 0 {
		score += cappedRatio(volatility, e.cfg.VolatilityThreshold) * volatilityWeight
	}
	return math.Min(score, 100)
}

// CheckScore raises an alert when the score crosses the action threshold.
// The automatic action is STOP_TRADING past the daily-loss hard limit and
// REDUCE_EXPOSURE otherwise.
func (e *Engine) CheckScore(acct AccountState, volatility float64) (Alert, bool) {
	score := e.Score(acct, volatility)
	if score <= alertScoreThreshold {
		return Alert{}, false
	}
	action := ActionReduceExposure
	if e.cfg.MaxDailyLossUSD > 0 && acct.DailyPnLUSD <= -e.cfg.MaxDailyLossUSD {
		action = ActionStopTrading
	}
	return e.Raise("RISK_SCORE", "score", score, action)
}

// Raise records an alert unless an identical type/metric fired within the
// dedup window. History is capped; the oldest entry is evicted first.
func (e *Engine) Raise(alertType, metric string, value float64, action Action) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for i := len(e.alerts) - 1; i >= 0; i-- {
		prev := e.alerts[i]
		if now.Sub(prev.At) > e.cfg.AlertWindow {
			break
		}
		if prev.Type == alertType && prev.Metric == metric {
			return Alert{}, false
		}
	}
	alert := Alert{Type: alertType, Metric: metric, Value: value, Action: action, At: now}
	e.alerts = append(e.alerts, alert)
	if len(e.alerts) > e.cfg.AlertHistoryLimit {
		e.alerts = e.alerts[len(e.alerts)-e.cfg.AlertHistoryLimit:]
	}
	if e.log != nil {
		e.log.Warn("risk alert raised",
			zap.String("type", alertType),
			zap.String("metric", metric),
			zap.Float64("value", value),
			zap.String("action", string(action)),
		)
	}
	return alert, true
}

// Alerts returns a copy of the alert history, oldest first.
func (e *Engine) Alerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Alert(nil), e.alerts...)
}

func cappedRatio(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	ratio := value / limit
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}
