package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopflow/shopflow/event"
	outboxmem "github.com/shopflow/shopflow/outbox/memory"
	"github.com/shopflow/shopflow/saga"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestStore() *Store {
	store := NewStore(outboxmem.NewStore())
	store.SeedUser(saga.User{ID: 1, Email: "ada@example.com", CustomerID: "cus_1", Address: "1 Main St"})
	store.SeedProduct(saga.Product{ID: 1, Name: "widget", Price: money("10.00")})
	store.SeedProduct(saga.Product{ID: 2, Name: "gadget", Price: money("5.00")})
	return store
}

func createRequest(t *testing.T, store *Store) int64 {
	t.Helper()
	var id int64
	err := store.Execute(context.Background(), func(ctx context.Context, tx saga.Tx) error {
		req := saga.Request{UserID: 1, TotalPrice: money("25.00"), Status: saga.StatusPending}
		items := []saga.Item{
			{ProductID: 1, Quantity: 2, Price: money("10.00")},
			{ProductID: 2, Quantity: 1, Price: money("5.00")},
		}
		if err := tx.CreateRequest(ctx, &req, items); err != nil {
			return err
		}
		env, err := event.New(event.TypeRequestCreated, req.ID, time.Now(), event.RequestCreated{UserID: 1, TotalPrice: req.TotalPrice})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, env); err != nil {
			return err
		}
		id = req.ID
		return nil
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return id
}

func TestExecuteCommitsMutationAndOutboxTogether(t *testing.T) {
	store := newTestStore()
	id := createRequest(t, store)

	req, ok := store.RequestByID(id)
	if !ok || req.Status != saga.StatusPending {
		t.Fatalf("expected pending request, got %+v (ok=%v)", req, ok)
	}

	records := store.Outbox().All()
	if len(records) != 1 {
		t.Fatalf("expected exactly one outbox record, got %d", len(records))
	}
	if records[0].RequestID != id || records[0].EventType != event.TypeRequestCreated {
		t.Fatalf("unexpected outbox record: %+v", records[0])
	}
}

func TestExecuteRollsBackEverythingOnError(t *testing.T) {
	store := newTestStore()
	boom := errors.New("boom")

	err := store.Execute(context.Background(), func(ctx context.Context, tx saga.Tx) error {
		req := saga.Request{UserID: 1, TotalPrice: money("10.00"), Status: saga.StatusPending}
		if err := tx.CreateRequest(ctx, &req, []saga.Item{{ProductID: 1, Quantity: 1, Price: money("10.00")}}); err != nil {
			return err
		}
		env, err := event.New(event.TypeRequestCreated, req.ID, time.Now(), event.RequestCreated{UserID: 1})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, env); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, ok := store.RequestByID(1); ok {
		t.Fatalf("request committed despite error")
	}
	if records := store.Outbox().All(); len(records) != 0 {
		t.Fatalf("outbox record committed despite error: %v", records)
	}
}

func TestApplyAdvancesStatusOnce(t *testing.T) {
	store := newTestStore()
	id := createRequest(t, store)

	var acts int
	step := func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
		acts++
		return nil
	}

	applied, err := saga.Apply(context.Background(), store, id, event.TypeRequestCreated, step)
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}

	// Duplicate delivery: the target status is already reached.
	applied, err = saga.Apply(context.Background(), store, id, event.TypeRequestCreated, step)
	if err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if applied {
		t.Fatalf("duplicate delivery must be absorbed")
	}
	if acts != 1 {
		t.Fatalf("act ran %d times, want 1", acts)
	}

	req, _ := store.RequestByID(id)
	if req.Status != saga.StatusInvoiced {
		t.Fatalf("expected invoiced, got %s", req.Status)
	}
}

func TestApplyAbsorbsOutOfOrderEvent(t *testing.T) {
	store := newTestStore()
	id := createRequest(t, store)

	// SHIPPING_CREATED arrives while the request is still pending.
	applied, err := saga.Apply(context.Background(), store, id, event.TypeShippingCreated,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			t.Fatal("act must not run out of order")
			return nil
		})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied {
		t.Fatalf("out-of-order delivery must be a no-op")
	}

	req, _ := store.RequestByID(id)
	if req.Status != saga.StatusPending {
		t.Fatalf("status changed by out-of-order event: %s", req.Status)
	}
}

func TestApplyActFailureRollsBack(t *testing.T) {
	store := newTestStore()
	id := createRequest(t, store)
	boom := errors.New("boom")

	_, err := saga.Apply(context.Background(), store, id, event.TypeRequestCreated,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			env, err := event.New(event.TypeInvoiceGenerated, req.ID, time.Now(), event.InvoiceGenerated{InvoiceID: 1})
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, env); err != nil {
				return err
			}
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	req, _ := store.RequestByID(id)
	if req.Status != saga.StatusPending {
		t.Fatalf("status advanced despite act failure: %s", req.Status)
	}
	if records := store.Outbox().All(); len(records) != 1 {
		t.Fatalf("expected only the intake record, got %d", len(records))
	}
}

func TestFail(t *testing.T) {
	store := newTestStore()
	id := createRequest(t, store)

	if err := saga.Fail(context.Background(), store, id); err != nil {
		t.Fatalf("fail: %v", err)
	}
	req, _ := store.RequestByID(id)
	if req.Status != saga.StatusFailed {
		t.Fatalf("expected failed, got %s", req.Status)
	}

	// Failed is terminal: later events are absorbed.
	applied, err := saga.Apply(context.Background(), store, id, event.TypeRequestCreated,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			t.Fatal("act must not run on a failed request")
			return nil
		})
	if err != nil || applied {
		t.Fatalf("failed request accepted an effect: applied=%v err=%v", applied, err)
	}
}

func TestProductsMissingID(t *testing.T) {
	store := newTestStore()

	err := store.Execute(context.Background(), func(ctx context.Context, tx saga.Tx) error {
		_, err := tx.Products(ctx, []int64{1, 99})
		return err
	})
	if !errors.Is(err, saga.ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}
