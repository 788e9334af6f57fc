//go:build integration

package suppression_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/mailqueue/internal/suppression"
)

var redisAddr string

// TestMain starts a shared Redis container for the integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}
	redisAddr = fmt.Sprintf("%s:%s", host, port.Port())

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func newRedisList(t *testing.T) *suppression.Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { client.Close() })
	return suppression.NewRedis(client, "test:"+t.Name())
}

func TestRedis_AddContainsRemove(t *testing.T) {
	ctx := context.Background()
	l := newRedisList(t)

	if err := l.Add(ctx, "spam@example.com"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ok, err := l.Contains(ctx, "spam@example.com")
	if err != nil || !ok {
		t.Fatalf("Contains = %v, %v; want true", ok, err)
	}
	if ok, _ := l.Contains(ctx, "Spam@example.com"); ok {
		t.Error("address comparison must be exact")
	}

	removed, err := l.Remove(ctx, "spam@example.com")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v; want true", removed, err)
	}
	if ok, _ := l.Contains(ctx, "spam@example.com"); ok {
		t.Error("address still suppressed after Remove")
	}
}

func TestRedis_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newRedisList(t)

	if err := l.Add(ctx, "a@example.com"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, _ := l.List(ctx)
	time.Sleep(5 * time.Millisecond)
	if err := l.Add(ctx, "a@example.com"); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	after, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(after))
	}
	if !after[0].WhenAdded.Equal(before[0].WhenAdded) {
		t.Errorf("WhenAdded changed from %v to %v", before[0].WhenAdded, after[0].WhenAdded)
	}
}
