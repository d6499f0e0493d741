//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/lumen-studio/booking/internal/domain"
	pconfig "github.com/lumen-studio/booking/internal/platform/config"
	pfirestore "github.com/lumen-studio/booking/internal/platform/firestore"
	"github.com/lumen-studio/booking/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestContractRepositoryIntegration(t *testing.T) {
	provider := emulatorProvider(t, "contracts-test")
	repo, err := NewContractRepository(provider)
	if err != nil {
		t.Fatalf("new contract repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created := time.Date(2025, time.May, 10, 14, 0, 0, 0, time.UTC)
	contract := domain.Contract{
		ID:            "ctr_01",
		SessionID:     "sess_01",
		Client:        domain.ClientInfo{Name: "Ana", Email: "Ana@Example.com"},
		EventType:     domain.CategoryPortrait,
		PaymentMethod: domain.PaymentMethodPix,
		TotalAmount:   45000,
		Pricing:       domain.PricingBreakdown{Currency: domain.CurrencyBRL, Total: 45000, Deposit: 8000, Remaining: 37000},
		Services: []domain.ContractService{{
			ItemID: "p1", Category: domain.CategoryPortrait, Name: "Ensaio", UnitPrice: 40000, Quantity: 1, LineTotal: 40000,
			Slot: domain.EventSlot{Date: "2025-06-01", Time: "10:00", Location: "Parque"},
		}},
		StoreItems: []domain.ContractStoreItem{{ItemID: "s1", Name: "Álbum", UnitPrice: 5000, Quantity: 1, LineTotal: 5000}},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := repo.Insert(ctx, contract); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = repo.Insert(ctx, contract)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	got, err := repo.Get(ctx, "ctr_01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Client.Email != "ana@example.com" || got.Services[0].Slot.Location != "Parque" || got.Pricing.Remaining != 37000 {
		t.Fatalf("unexpected round trip: %+v", got)
	}

	yes := true
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := repo.UpdateStatus(ctx, "ctr_01", repositories.ContractStatusPatch{DepositPaid: &yes}, created.Add(time.Hour)); err != nil {
			t.Errorf("update deposit: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := repo.UpdateChecklist(ctx, "ctr_01", map[string]bool{"album_delivered": true}, created.Add(time.Hour)); err != nil {
			t.Errorf("update checklist: %v", err)
		}
	}()
	wg.Wait()

	updated, err := repo.Get(ctx, "ctr_01")
	if err != nil {
		t.Fatalf("get updated: %v", err)
	}
	if !updated.Status.DepositPaid || !updated.Checklist["album_delivered"] {
		t.Fatalf("expected both concurrent updates to land, got %+v", updated)
	}

	if err := repo.SetPDFURL(ctx, "ctr_01", "gs://bucket/contracts/ctr_01.pdf", created.Add(2*time.Hour)); err != nil {
		t.Fatalf("set pdf url: %v", err)
	}
	if err := repo.SetPDFURL(ctx, "missing", "gs://x", created); err == nil {
		t.Fatalf("expected error setting pdf url on missing contract")
	}

	page, err := repo.List(ctx, repositories.ContractListFilter{ClientEmail: "ANA@example.com", Pagination: domain.Pagination{PageSize: 10}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].PDFURL == "" {
		t.Fatalf("unexpected list page: %+v", page)
	}

	order := domain.Order{ID: "ord_01", ContractID: "ctr_01", Items: contract.StoreItems, Total: 5000, CreatedAt: created, UpdatedAt: created}
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := orders.UpdatePaymentFlags(ctx, "ord_01", &yes, nil, created.Add(time.Hour)); err != nil {
		t.Fatalf("update order flags: %v", err)
	}
	list, err := orders.ListByContract(ctx, "ctr_01")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(list) != 1 || !list[0].DepositPaid || list[0].Paid {
		t.Fatalf("unexpected orders: %+v", list)
	}
}

func TestSettingsRepositoryMissingDocumentIntegration(t *testing.T) {
	provider := emulatorProvider(t, "settings-test")
	repo, err := NewSettingsRepository(provider)
	if err != nil {
		t.Fatalf("new settings repository: %v", err)
	}
	settings, err := repo.GetStudioSettings(context.Background())
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.PaymentsEnabled != nil || settings.DefaultTravelCost != nil {
		t.Fatalf("expected empty settings, got %+v", settings)
	}
}

func emulatorProvider(t *testing.T, project string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
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

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
