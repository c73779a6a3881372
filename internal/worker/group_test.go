package worker

import (
	"context"
	"errors"
	"testing"
)

func TestGroupWaitReturnsFirstError(t *testing.T) {
	t.Parallel()
	gr, _ := NewGroup(context.Background())
	boom := errors.New("boom")
	gr.Go(func(ctx context.Context) error { return boom })
	gr.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := gr.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
}

func TestGroupCancelsSiblingsOnFailure(t *testing.T) {
	t.Parallel()
	gr, ctx := NewGroup(context.Background())
	boom := errors.New("boom")
	started := make(chan struct{})
	gr.Go(func(ctx context.Context) error {
		close(started)
		return boom
	})
	gr.Go(func(ctx context.Context) error {
		<-started
		<-ctx.Done()
		return nil
	})

	if err := gr.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
	if ctx.Err() == nil {
		t.Fatal("expected the shared context to be cancelled after a sibling failed")
	}
}
