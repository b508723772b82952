//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
	pconfig "github.com/campus-brew/api/internal/platform/config"
	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dayStart := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:      "ord_test_1",
		Number:  "001",
		UserID:  "u_test",
		Channel: domain.ChannelOnline,
		Type:    domain.OrderTypePickUp,
		Status:  domain.OrderStatusWaiting,
		TotalPrice: decimal.RequireFromString("420"),
		Lines: []domain.OrderLine{
			{
				ID:           "line_test_1",
				ItemTypeID:   "latte",
				ItemTypeName: "Latte",
				UnitPrice:    decimal.RequireFromString("210"),
				Amount:       2,
			},
		},
		CreatedAt: dayStart.Add(90 * time.Minute),
		UpdatedAt: dayStart.Add(90 * time.Minute),
	}

	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.Insert(ctx, order); err == nil {
		t.Fatalf("expected conflict on duplicate insert")
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict error, got %v", err)
		}
	}

	loaded, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !loaded.TotalPrice.Equal(order.TotalPrice) {
		t.Fatalf("expected total %s got %s", order.TotalPrice, loaded.TotalPrice)
	}
	if len(loaded.Lines) != 1 || loaded.Lines[0].Amount != 2 {
		t.Fatalf("unexpected lines: %+v", loaded.Lines)
	}

	byNumber, err := repo.FindByNumber(ctx, "001", dayStart)
	if err != nil {
		t.Fatalf("find by number: %v", err)
	}
	if byNumber.ID != order.ID {
		t.Fatalf("expected %s got %s", order.ID, byNumber.ID)
	}

	// Yesterday's window must not see today's order.
	if _, err := repo.FindByNumber(ctx, "001", dayStart.Add(24*time.Hour)); err == nil {
		t.Fatalf("expected not found outside window")
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("expected not found error, got %v", err)
		}
	}

	waiting := []domain.OrderStatus{domain.OrderStatusWaiting}
	listed, err := repo.List(ctx, repositories.OrderListFilter{
		UserID: "u_test",
		Status: waiting,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 order, got %d", len(listed))
	}

	done := dayStart.Add(2 * time.Hour)
	loaded.Status = domain.OrderStatusDone
	loaded.Paid = true
	loaded.DoneAt = &done
	loaded.PaidAt = &done
	loaded.UpdatedAt = done
	if err := repo.Update(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find after update: %v", err)
	}
	if updated.Status != domain.OrderStatusDone || !updated.Paid {
		t.Fatalf("expected done+paid, got %+v", updated)
	}
	if updated.DoneAt == nil || !updated.DoneAt.Equal(done) {
		t.Fatalf("expected doneAt %s, got %v", done, updated.DoneAt)
	}

	if err := repo.Delete(ctx, order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, order.ID); err == nil {
		t.Fatalf("expected not found after delete")
	}
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
		firestoreEmulatorImage,
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

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
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

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
