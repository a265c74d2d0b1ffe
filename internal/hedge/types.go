package hedge

type Classification string

const (
	Balanced     Classification = "BALANCED"
	UnderHedged  Classification = "UNDER_HEDGED"
	OverHedged   Classification = "OVER_HEDGED"
	NoHedge      Classification = "NO_HEDGE"
	NakedFutures Classification = "NAKED_FUTURES"
)

// AssetPosition is a live snapshot of one asset's spot holding and its paired
// futures position. Constructed per evaluation, never persisted.
type AssetPosition struct {
	Asset         string
	Symbol        string
	SpotFree      float64
	SpotLocked    float64
	FuturesAmt    float64 // signed; short hedges are negative
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

func (p AssetPosition) SpotTotal() float64 {
	return p.SpotFree + p.SpotLocked
}

// Policy is the classification band. Bounds are inclusive.
type Policy struct {
	MinRatio    float64
	MaxRatio    float64
	TargetRatio float64
}

func DefaultPolicy() Policy {
	return Policy{MinRatio: 0.90, MaxRatio: 1.10, TargetRatio: 0.95}
}

type Evaluation struct {
	Asset          string
	Symbol         string
	SpotTotal      float64
	FuturesSize    float64 // absolute futures position size
	Ratio          float64
	HasRatio       bool // ratio is defined only when spot total > 0
	Classification Classification
}

// TradingRules are the exchange filters for one futures symbol. Fetched from
// exchange metadata, cached per run, never mutated.
type TradingRules struct {
	Symbol      string
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Order is a single corrective futures order. The planner emits at most one
// per asset and never batches assets together.
type Order struct {
	Symbol   string
	Side     Side
	Quantity float64
	Reason   string
}

// Bounds are operator-configured notional limits on corrective orders,
// independent of the exchange filters.
type Bounds struct {
	MinUSD float64
	MaxUSD float64
}
