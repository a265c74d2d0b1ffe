package exec

import (
	"context"
	"errors"
	"testing"

	"bn-hedge-bot/internal/hedge"

	"go.uber.org/zap"
)

type fakeRest struct {
	calls   int
	orderID string
	err     error
	lastCID string
}

func (f *fakeRest) PlaceFuturesOrder(_ context.Context, _ hedge.Order, clientOrderID string) (string, error) {
	f.calls++
	f.lastCID = clientOrderID
	return f.orderID, f.err
}

type fakeStore struct {
	kv map[string]string
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := f.kv[key]
	return value, ok, nil
}

func (f *fakeStore) Set(_ context.Context, key, value string) error {
	f.kv[key] = value
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.kv, key)
	return nil
}

func (f *fakeStore) Append(_ context.Context, _ string, _ []byte) error { return nil }

func (f *fakeStore) List(_ context.Context, _ string, _ int) ([][]byte, error) { return nil, nil }

func (f *fakeStore) Close() error { return nil }

func testOrder() hedge.Order {
	return hedge.Order{Symbol: "BTCUSDT", Side: hedge.Sell, Quantity: 0.5}
}

func TestPlaceDryRunSkipsExchange(t *testing.T) {
	rest := &fakeRest{orderID: "111"}
	executor := New(rest, nil, true, zap.NewNop())
	orderID, err := executor.Place(context.Background(), testOrder(), "cid-1")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if orderID != dryRunOrderID {
		t.Fatalf("expected dry-run order id, got %q", orderID)
	}
	if rest.calls != 0 {
		t.Fatalf("dry run must not hit the exchange, got %d calls", rest.calls)
	}
}

func TestPlaceSubmitsAndCaches(t *testing.T) {
	rest := &fakeRest{orderID: "111"}
	store := &fakeStore{kv: make(map[string]string)}
	executor := New(rest, store, false, zap.NewNop())

	orderID, err := executor.Place(context.Background(), testOrder(), "cid-1")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if orderID != "111" || rest.calls != 1 {
		t.Fatalf("expected one submission, got id=%q calls=%d", orderID, rest.calls)
	}
	if rest.lastCID != "cid-1" {
		t.Fatalf("expected client order id forwarded, got %q", rest.lastCID)
	}

	again, err := executor.Place(context.Background(), testOrder(), "cid-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again != "111" || rest.calls != 1 {
		t.Fatalf("same client order id must not resubmit, got id=%q calls=%d", again, rest.calls)
	}
}

func TestPlaceRecoversFromStore(t *testing.T) {
	rest := &fakeRest{orderID: "222"}
	store := &fakeStore{kv: map[string]string{"cloid:cid-1": "111"}}
	executor := New(rest, store, false, zap.NewNop())

	orderID, err := executor.Place(context.Background(), testOrder(), "cid-1")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if orderID != "111" {
		t.Fatalf("expected persisted order id, got %q", orderID)
	}
	if rest.calls != 0 {
		t.Fatalf("persisted client order id must not resubmit, got %d calls", rest.calls)
	}
}

func TestPlacePropagatesExchangeError(t *testing.T) {
	restErr := errors.New("rejected")
	rest := &fakeRest{err: restErr}
	executor := New(rest, &fakeStore{kv: make(map[string]string)}, false, zap.NewNop())
	if _, err := executor.Place(context.Background(), testOrder(), "cid-1"); !errors.Is(err, restErr) {
		t.Fatalf("expected exchange error, got %v", err)
	}
	if _, ok := executor.cache["cloid:cid-1"]; ok {
		t.Fatal("failed placement must not be cached")
	}
}

func TestPlaceWithoutClientOrderID(t *testing.T) {
	rest := &fakeRest{orderID: "333"}
	executor := New(rest, nil, false, zap.NewNop())
	orderID, err := executor.Place(context.Background(), testOrder(), "")
	if err != nil || orderID != "333" {
		t.Fatalf("place: id=%q err=%v", orderID, err)
	}
	if _, err := executor.Place(context.Background(), testOrder(), ""); err != nil {
		t.Fatalf("second place: %v", err)
	}
	if rest.calls != 2 {
		t.Fatalf("no client order id means no idempotency, got %d calls", rest.calls)
	}
}

func TestPlaceRejectsEmptyExchangeID(t *testing.T) {
	executor := New(&fakeRest{orderID: ""}, nil, false, zap.NewNop())
	if _, err := executor.Place(context.Background(), testOrder(), "cid"); err == nil {
		t.Fatal("expected error for empty exchange order id")
	}
}
