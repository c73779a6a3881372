package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group starts the demuxer/decoder/post-processor (and, for
// ImageSequenceReader, the per-image pool) workers that make up one reader's
// pipeline and stops all of them together the moment any one fails, mirroring
// how cmd/prism/main.go wires its components onto a single
// errgroup.WithContext-derived context so a component failure tears down its
// siblings instead of leaking them.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroup derives a Group (and its shared context) from parent.
func NewGroup(parent context.Context) (*Group, context.Context) {
	g, ctx := errgroup.WithContext(parent)
	return &Group{g: g, ctx: ctx}, ctx
}

// Go starts fn in its own goroutine. The first non-nil error returned by any
// fn cancels the Group's context, which every worker's Run(ctx) observes on
// its next poll.
func (gr *Group) Go(fn func(ctx context.Context) error) {
	gr.g.Go(func() error {
		return fn(gr.ctx)
	})
}

// Wait blocks until every started fn has returned, then returns the first
// non-nil error, if any (context.Canceled from a sibling's failure is not
// itself surfaced as the Group's error — errgroup only reports fn's own
// return value).
func (gr *Group) Wait() error {
	return gr.g.Wait()
}
