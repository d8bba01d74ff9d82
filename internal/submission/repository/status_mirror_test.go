package repository_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gavel/internal/common/cache"
	"gavel/internal/message"
	"gavel/internal/submission/repository"
)

func newMirror(t *testing.T) (*repository.StatusMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewStatusMirror(cache.NewRedisWithClient(client)), mr
}

func TestStatusMirrorRoundTrip(t *testing.T) {
	t.Parallel()
	mirror, _ := newMirror(t)
	ctx := context.Background()

	if err := mirror.Set(ctx, 12, message.StatusRunning); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	status, ok, err := mirror.Get(ctx, 12)
	if err != nil || !ok || status != message.StatusRunning {
		t.Fatalf("expected mirrored RUNNING, got %v %v %v", status, ok, err)
	}

	if _, ok, err := mirror.Get(ctx, 13); err != nil || ok {
		t.Fatalf("unknown id must be a miss, got ok=%v err=%v", ok, err)
	}
}

func TestStatusMirrorIgnoresCorruptValue(t *testing.T) {
	t.Parallel()
	mirror, mr := newMirror(t)

	mr.Set("submission:status:30", "garbage")
	if _, ok, err := mirror.Get(context.Background(), 30); err != nil || ok {
		t.Fatalf("corrupt literal must read as a miss, got ok=%v err=%v", ok, err)
	}
}

func TestStatusMirrorGetBatch(t *testing.T) {
	t.Parallel()
	mirror, _ := newMirror(t)
	ctx := context.Background()

	if err := mirror.Set(ctx, 1, message.StatusPassed); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := mirror.Set(ctx, 3, message.StatusRunning); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	statuses, err := mirror.GetBatch(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("batch get failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected two hits, got %v", statuses)
	}
	if statuses[1] != message.StatusPassed || statuses[3] != message.StatusRunning {
		t.Fatalf("unexpected batch result: %v", statuses)
	}
	if _, ok := statuses[2]; ok {
		t.Fatalf("miss must be absent from the result")
	}
}
