package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/delivery"
)

func testDelivery() delivery.Data {
	return delivery.Data{
		TorreEntrega:       "2",
		PisoEntrega:        8,
		ApartamentoEntrega: "802",
		TelefonoContacto:   "3001234567",
	}
}

func testItems() []cart.Item {
	return []cart.Item{
		{ID: "leche", Nombre: "Leche", PrecioCents: 1000, Cantidad: 2},
		{ID: "pan", Nombre: "Pan", PrecioCents: 500, Cantidad: 1},
	}
}

func newService() *Service {
	return NewService(NewMemoryStore(), nil, zerolog.Nop())
}

func TestCreateComputesTotal(t *testing.T) {
	svc := newService()
	o, err := svc.Create(context.Background(), CreateRequest{
		UserID:           "u1",
		Productos:        testItems(),
		Delivery:         testDelivery(),
		PaymentReference: "SC-1",
		PaymentStatus:    PaymentApproved,
		PaymentMethod:    MethodNequi,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.TotalCents != 2500 {
		t.Fatalf("expected total 2500, got %d", o.TotalCents)
	}
	if o.Status != StatusReceived {
		t.Fatalf("expected RECIBIDO, got %s", o.Status)
	}
}

func TestCreateIdempotentByReference(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	req := CreateRequest{
		UserID:           "u1",
		Productos:        testItems(),
		Delivery:         testDelivery(),
		PaymentReference: "SC-dup",
		PaymentStatus:    PaymentApproved,
		PaymentMethod:    MethodCard,
	}

	first, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same reference must map to one order: %s vs %s", first.ID, second.ID)
	}

	all, _ := svc.List(ctx, 0)
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 order, got %d", len(all))
	}
}

func TestCreateRejectsInvalidDelivery(t *testing.T) {
	svc := newService()
	d := testDelivery()
	d.PisoEntrega = 31
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID:           "u1",
		Productos:        testItems(),
		Delivery:         d,
		PaymentReference: "SC-2",
		PaymentStatus:    PaymentApproved,
		PaymentMethod:    MethodPSE,
	})
	if err == nil {
		t.Fatal("piso 31 must be rejected")
	}
}

func TestCreateRejectsEmptyCart(t *testing.T) {
	svc := newService()
	_, err := svc.Create(context.Background(), CreateRequest{
		UserID:           "u1",
		Delivery:         testDelivery(),
		PaymentReference: "SC-3",
		PaymentStatus:    PaymentApproved,
		PaymentMethod:    MethodCard,
	})
	if err == nil {
		t.Fatal("empty cart must be rejected")
	}
}

func TestCreateCash(t *testing.T) {
	svc := newService()
	o, err := svc.CreateCash(context.Background(), "u1", testItems(), testDelivery(), "SC-CASH-1")
	if err != nil {
		t.Fatalf("cash create: %v", err)
	}
	if o.PaymentMethod != MethodCash {
		t.Fatalf("expected EFECTIVO, got %s", o.PaymentMethod)
	}
	if o.PaymentStatus != PaymentPendingCash {
		t.Fatalf("expected PENDIENTE_EFECTIVO, got %s", o.PaymentStatus)
	}
}

func TestRecentWindow(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Recent(ctx, "u1", 10*time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any order, got %v", err)
	}

	svc.Create(ctx, CreateRequest{
		UserID:           "u1",
		Productos:        testItems(),
		Delivery:         testDelivery(),
		PaymentReference: "SC-recent",
		PaymentStatus:    PaymentApproved,
		PaymentMethod:    MethodNequi,
	})

	o, err := svc.Recent(ctx, "u1", 10*time.Minute)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if o.PaymentReference != "SC-recent" {
		t.Fatalf("unexpected order %+v", o)
	}

	if _, err := svc.Recent(ctx, "u2", 10*time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user should see nothing, got %v", err)
	}
}

func TestUpdateStatusValidation(t *testing.T) {
	svc := newService()
	o, _ := svc.Create(context.Background(), CreateRequest{
		UserID:           "u1",
		Productos:        testItems(),
		Delivery:         testDelivery(),
		PaymentReference: "SC-status",
		PaymentStatus:    PaymentApproved,
		PaymentMethod:    MethodCard,
	})

	if err := svc.UpdateStatus(context.Background(), o.ID, "VOLANDO"); err == nil {
		t.Fatal("unknown status must be rejected")
	}
	if err := svc.UpdateStatus(context.Background(), o.ID, StatusDelivering); err != nil {
		t.Fatalf("valid status rejected: %v", err)
	}
	got, _ := svc.GetByID(context.Background(), o.ID)
	if got.Status != StatusDelivering {
		t.Fatalf("status not persisted, got %s", got.Status)
	}
}
