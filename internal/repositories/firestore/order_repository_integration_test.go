//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/gestao-oficina/api/internal/domain"
	pconfig "github.com/gestao-oficina/api/internal/platform/config"
	pfirestore "github.com/gestao-oficina/api/internal/platform/firestore"
	"github.com/gestao-oficina/api/internal/repositories"
	firestoreRepo "github.com/gestao-oficina/api/internal/repositories/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := startEmulatorProvider(t)

	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("order repository: %v", err)
	}
	inventory, err := firestoreRepo.NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("inventory repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	seedPart := func(t *testing.T, tenantID, partID string, qty int) {
		t.Helper()
		if _, err := inventory.Put(ctx, tenantID, domain.InventoryItem{
			ID:             partID,
			Name:           "part " + partID,
			QuantityOnHand: qty,
			SalePrice:      2500,
		}); err != nil {
			t.Fatalf("seed part %s: %v", partID, err)
		}
	}

	t.Run("CreateDecrementsStockAndRecordsMovements", func(t *testing.T) {
		const tenantID = "workshop-create"
		seedPart(t, tenantID, "part-a", 10)
		seedPart(t, tenantID, "part-b", 5)

		created, err := orders.Create(ctx, tenantID, domain.WorkOrder{
			OrderNumber: "OS-2025-000001",
			ClientID:    "client-1",
			VehicleID:   "vehicle-1",
			Status:      domain.OrderStatusReceived,
			Priority:    domain.PriorityNormal,
			Parts: []domain.PartLine{
				{PartID: "part-a", Name: "part part-a", Quantity: 2, UnitPrice: 2500},
				{PartID: "part-b", Name: "part part-b", Quantity: 5, UnitPrice: 1000},
			},
			Services: []domain.ServiceLine{{Description: "labour", Value: 5000}},
			Financial: domain.Financial{
				PartsTotal:      10000,
				ServicesTotal:   5000,
				Total:           15000,
				RemainingAmount: 15000,
				PaymentStatus:   domain.PaymentStatusPending,
			},
			CreatedAt: now,
		}, "user-1")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if created.ID == "" || created.Version != 1 || created.Status != domain.OrderStatusReceived {
			t.Fatalf("unexpected created order %+v", created)
		}

		for _, check := range []struct {
			partID        string
			before, after int
		}{
			{partID: "part-a", before: 10, after: 8},
			{partID: "part-b", before: 5, after: 0},
		} {
			item, err := inventory.FindByID(ctx, tenantID, check.partID)
			if err != nil {
				t.Fatalf("find %s: %v", check.partID, err)
			}
			if item.QuantityOnHand != check.after {
				t.Fatalf("%s on hand = %d, want %d", check.partID, item.QuantityOnHand, check.after)
			}

			movements, err := inventory.ListMovements(ctx, tenantID, check.partID, 10)
			if err != nil {
				t.Fatalf("movements %s: %v", check.partID, err)
			}
			if len(movements) != 1 {
				t.Fatalf("expected 1 movement for %s, got %d", check.partID, len(movements))
			}
			mov := movements[0]
			if mov.Type != domain.MovementOut || mov.QuantityBefore != check.before || mov.QuantityAfter != check.after {
				t.Fatalf("unexpected movement %+v", mov)
			}
			if mov.QuantityBefore-mov.QuantityAfter != mov.Quantity {
				t.Fatalf("movement arithmetic broken: %+v", mov)
			}
			if mov.ReferenceType != domain.MovementReferenceOrder || mov.ReferenceID != created.ID {
				t.Fatalf("movement not linked to order: %+v", mov)
			}
		}

		history, err := orders.ListHistory(ctx, tenantID, created.ID, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 1 || history[0].Seq != 1 || history[0].Type != domain.HistoryEntryCreated {
			t.Fatalf("unexpected history %+v", history)
		}
	})

	t.Run("CreateInsufficientStockAbortsEverything", func(t *testing.T) {
		const tenantID = "workshop-abort"
		seedPart(t, tenantID, "part-a", 3)
		seedPart(t, tenantID, "part-b", 1)

		_, err := orders.Create(ctx, tenantID, domain.WorkOrder{
			OrderNumber: "OS-2025-000002",
			ClientID:    "client-1",
			VehicleID:   "vehicle-1",
			Parts: []domain.PartLine{
				{PartID: "part-a", Quantity: 2, UnitPrice: 2500},
				{PartID: "part-b", Quantity: 2, UnitPrice: 1000},
			},
			CreatedAt: now,
		}, "user-1")
		var invErr *repositories.InventoryError
		if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		if invErr.PartID != "part-b" {
			t.Fatalf("expected part-b to be named, got %s", invErr.PartID)
		}

		item, err := inventory.FindByID(ctx, tenantID, "part-a")
		if err != nil {
			t.Fatalf("find part-a: %v", err)
		}
		if item.QuantityOnHand != 3 {
			t.Fatalf("part-a was decremented to %d by an aborted create", item.QuantityOnHand)
		}
		movements, err := inventory.ListMovements(ctx, tenantID, "part-a", 10)
		if err != nil {
			t.Fatalf("movements: %v", err)
		}
		if len(movements) != 0 {
			t.Fatalf("aborted create left %d movements", len(movements))
		}
		listed, err := orders.List(ctx, tenantID, repositories.OrderListFilter{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(listed) != 0 {
			t.Fatalf("aborted create left %d orders", len(listed))
		}
	})

	t.Run("OverpaymentLeavesPaidAmountUnchanged", func(t *testing.T) {
		const tenantID = "workshop-payment"
		created, err := orders.Create(ctx, tenantID, domain.WorkOrder{
			OrderNumber: "OS-2025-000003",
			ClientID:    "client-1",
			VehicleID:   "vehicle-1",
			Services:    []domain.ServiceLine{{Description: "labour", Value: 10000}},
			Financial: domain.Financial{
				ServicesTotal:   10000,
				Total:           10000,
				RemainingAmount: 10000,
				PaymentStatus:   domain.PaymentStatusPending,
			},
			CreatedAt: now,
		}, "user-1")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		paid, err := orders.RegisterPayment(ctx, tenantID, created.ID, repositories.PaymentRequest{
			Amount: 4000,
			Method: "pix",
			Actor:  "user-1",
			Now:    now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("payment failed: %v", err)
		}
		if paid.Financial.PaidAmount != 4000 || paid.Financial.RemainingAmount != 6000 {
			t.Fatalf("unexpected balance %+v", paid.Financial)
		}
		if paid.Financial.PaymentStatus != domain.PaymentStatusPartial || paid.Version != 2 {
			t.Fatalf("unexpected order %+v", paid)
		}

		_, err = orders.RegisterPayment(ctx, tenantID, created.ID, repositories.PaymentRequest{
			Amount: 7000,
			Actor:  "user-1",
			Now:    now.Add(2 * time.Hour),
		})
		var orderErr *repositories.OrderError
		if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorOverpayment {
			t.Fatalf("expected overpayment error, got %v", err)
		}

		reread, err := orders.FindByID(ctx, tenantID, created.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if reread.Financial.PaidAmount != 4000 || reread.Version != 2 {
			t.Fatalf("rejected payment mutated the order: %+v", reread)
		}
	})

	t.Run("ChecklistGateBlocksFinalization", func(t *testing.T) {
		const tenantID = "workshop-checklist"
		created, err := orders.Create(ctx, tenantID, domain.WorkOrder{
			OrderNumber: "OS-2025-000004",
			ClientID:    "client-1",
			VehicleID:   "vehicle-1",
			Checklist: domain.ChecklistSummary{
				Items:           []string{"brakes", "suspension"},
				ProgressPercent: 80,
			},
			CreatedAt: now,
		}, "user-1")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		started, err := orders.ChangeStatus(ctx, tenantID, created.ID, repositories.StatusChangeRequest{
			NewStatus: domain.OrderStatusInProgress,
			Actor:     "user-1",
			Now:       now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if started.Status != domain.OrderStatusInProgress || started.StartedAt == nil {
			t.Fatalf("unexpected order %+v", started)
		}

		_, err = orders.ChangeStatus(ctx, tenantID, created.ID, repositories.StatusChangeRequest{
			NewStatus: domain.OrderStatusFinalized,
			Actor:     "user-1",
			Now:       now.Add(2 * time.Hour),
		})
		var orderErr *repositories.OrderError
		if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorChecklistIncomplete {
			t.Fatalf("expected checklist error, got %v", err)
		}
		if orderErr.ChecklistPercent != 80 {
			t.Fatalf("expected 80%% in error, got %d", orderErr.ChecklistPercent)
		}

		reread, err := orders.FindByID(ctx, tenantID, created.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if reread.Status != domain.OrderStatusInProgress || reread.Version != 2 {
			t.Fatalf("blocked finalize mutated the order: %+v", reread)
		}

		done := domain.ChecklistSummary{Items: []string{"brakes", "suspension"}, ProgressPercent: 100}
		if _, err := orders.Update(ctx, tenantID, created.ID, repositories.OrderUpdateRequest{
			Patch:           repositories.OrderPatch{Checklist: &done},
			ExpectedVersion: 2,
			Actor:           "user-1",
			Now:             now.Add(3 * time.Hour),
		}); err != nil {
			t.Fatalf("checklist update failed: %v", err)
		}

		finalized, err := orders.ChangeStatus(ctx, tenantID, created.ID, repositories.StatusChangeRequest{
			NewStatus: domain.OrderStatusFinalized,
			Actor:     "user-1",
			Now:       now.Add(4 * time.Hour),
		})
		if err != nil {
			t.Fatalf("finalize failed after completing checklist: %v", err)
		}
		if finalized.Status != domain.OrderStatusFinalized || finalized.FinalizedAt == nil || finalized.Version != 4 {
			t.Fatalf("unexpected order %+v", finalized)
		}
	})

	t.Run("StaleExpectedVersionConflicts", func(t *testing.T) {
		const tenantID = "workshop-version"
		created, err := orders.Create(ctx, tenantID, domain.WorkOrder{
			OrderNumber: "OS-2025-000005",
			ClientID:    "client-1",
			VehicleID:   "vehicle-1",
			CreatedAt:   now,
		}, "user-1")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		firstNotes := "first writer wins"
		updated, err := orders.Update(ctx, tenantID, created.ID, repositories.OrderUpdateRequest{
			Patch:           repositories.OrderPatch{Notes: &firstNotes},
			ExpectedVersion: 1,
			Actor:           "user-1",
			Now:             now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if updated.Version != 2 {
			t.Fatalf("expected version 2, got %d", updated.Version)
		}

		staleNotes := "stale writer"
		_, err = orders.Update(ctx, tenantID, created.ID, repositories.OrderUpdateRequest{
			Patch:           repositories.OrderPatch{Notes: &staleNotes},
			ExpectedVersion: 1,
			Actor:           "user-2",
			Now:             now.Add(2 * time.Hour),
		})
		var orderErr *repositories.OrderError
		if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorVersionConflict {
			t.Fatalf("expected version conflict, got %v", err)
		}

		reread, err := orders.FindByID(ctx, tenantID, created.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if reread.Version != 2 || reread.Notes != firstNotes {
			t.Fatalf("stale update mutated the order: %+v", reread)
		}

		history, err := orders.ListHistory(ctx, tenantID, created.ID, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 2 || history[1].Seq != 2 {
			t.Fatalf("unexpected history %+v", history)
		}
	})
}

// Emulator harness ------------------------------------------------------------

func startEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
