package task

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "OpenEA-Agent/internal/errors"
)

func TestRedisQueueConfigDefaults(t *testing.T) {
	cfg := RedisQueueConfig{Address: "localhost:6379"}.withDefaults()
	if cfg.Queue != DefaultRedisQueue || cfg.BlockWait != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := NewRedisQueue(context.Background(), RedisQueueConfig{}); !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRabbitMQQueueRequiresURL(t *testing.T) {
	if _, err := NewRabbitMQQueue(RabbitMQConfig{}); !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestMemoryQueueRejectsPublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Publish(ctx, "a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued item, got %d", q.Len())
	}

	full, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(full, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("full queue should block until deadline, got %v", err)
	}

	_ = q.Close()
	if err := q.Publish(ctx, "c"); !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
}
