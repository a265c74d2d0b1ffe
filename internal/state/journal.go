package state

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

const KindRebalance = "rebalance"

// RebalanceRecord is one journaled rebalance attempt, from planning through
// validation. Encoded with msgpack into the journal payload column.
type RebalanceRecord struct {
	Asset          string  `msgpack:"asset"`
	Symbol         string  `msgpack:"symbol"`
	Classification string  `msgpack:"classification"`
	Side           string  `msgpack:"side"`
	Quantity       float64 `msgpack:"quantity"`
	RatioBefore    float64 `msgpack:"ratio_before"`
	RatioAfter     float64 `msgpack:"ratio_after"`
	Status         string  `msgpack:"status"`
	Detail         string  `msgpack:"detail"`
	AtMS           int64   `msgpack:"at_ms"`
}

func AppendRebalance(ctx context.Context, store Store, record RebalanceRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(record)
	if err != nil {
		return err
	}
	return store.Append(ctx, KindRebalance, payload)
}

// Rebalances loads up to limit journaled attempts, oldest first.
func Rebalances(ctx context.Context, store Store, limit int) ([]RebalanceRecord, error) {
	if store == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payloads, err := store.List(ctx, KindRebalance, limit)
	if err != nil {
		return nil, err
	}
	records := make([]RebalanceRecord, 0, len(payloads))
	for _, payload := range payloads {
		var record RebalanceRecord
		if err := msgpack.Unmarshal(payload, &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
