package report

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestPublishAndFetch(t *testing.T) {
	srv := miniredis.RunT(t)

	pub, err := New(srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	ctx := context.Background()
	if err := pub.Publish(ctx, "run-1", 3, 10); err != nil {
		t.Fatal(err)
	}

	got, ok, err := pub.Fetch(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected progress to exist")
	}
	if got.Processed != 3 || got.Total != 10 {
		t.Errorf("progress = %+v, want 3/10", got)
	}

	if _, ok, _ := pub.Fetch(ctx, "run-2"); ok {
		t.Error("unexpected progress for unknown run")
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var pub *Publisher
	ctx := context.Background()
	if err := pub.Publish(ctx, "run", 1, 2); err != nil {
		t.Errorf("nil publish returned %v", err)
	}
	if _, ok, err := pub.Fetch(ctx, "run"); ok || err != nil {
		t.Errorf("nil fetch returned ok=%v err=%v", ok, err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("nil close returned %v", err)
	}
}

func TestNewConnectFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	if _, err := New(addr); err == nil {
		t.Fatal("expected connection error")
	}
}
