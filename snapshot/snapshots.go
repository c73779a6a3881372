package snapshot

import (
	"context"

	"github.com/zsiec/mediacore/media"
)

// Snap is one entry in a GetSnapshots result: the snapshot index, its ideal
// presentation time in media milliseconds, the frame (nil if Source is
// SourceNone), and which tier of the §4.6 fallback chain produced it.
type Snap struct {
	Index  int32
	TS     int64
	Frame  *media.Frame
	Source SnapSource
}

// GetSnapshots implements spec §6's get_snapshots-shaped read for one
// viewer: it (re)positions viewerID's window at startMS, then resolves
// every index in the window through the §4.6 fallback chain. When wait is
// true, it blocks until every index has resolved to something other than
// SourceNone (spec §8 scenario 4: "get_snapshots(0.0) blocks until the
// first 20 are populated"); when false, a single pass is returned
// immediately, which may contain SourceNone entries for indices whose
// decode hasn't caught up yet.
func (g *Generator) GetSnapshots(ctx context.Context, viewerID string, startMS int64, wait bool) ([]Snap, error) {
	if !g.isStarted() {
		return nil, ErrNotStarted
	}
	g.SetWindow(viewerID, startMS)

	for {
		snaps, complete := g.resolveWindow(viewerID)
		if complete || !wait {
			return snaps, nil
		}
		select {
		case <-ctx.Done():
			return snaps, ctx.Err()
		default:
			g.loop.Sleep(ctx)
		}
	}
}

// resolveWindow resolves every index in viewerID's current window and
// reports whether all of them produced a non-None snapshot.
func (g *Generator) resolveWindow(viewerID string) ([]Snap, bool) {
	v, ok := g.viewers.get(viewerID)
	if !ok {
		return nil, false
	}
	viewStart, viewEnd := v.viewRange()

	out := make([]Snap, 0, viewEnd-viewStart)
	complete := true
	for idx := viewStart; idx < viewEnd; idx++ {
		s := g.resolveIndex(idx)
		if s.Source == SourceNone {
			complete = false
		}
		out = append(out, s)
	}
	return out, complete
}

// resolveIndex applies the three-step fallback chain from spec §4.6 to a
// single snapshot index.
func (g *Generator) resolveIndex(idx int32) Snap {
	ts := g.timeCodec.PTSToMTS(g.idealPTS(idx))

	if f, ok := g.store.Get(idx); ok {
		return Snap{Index: idx, TS: ts, Frame: f, Source: SourceDecoded}
	}

	if g.opts.OverviewProvider != nil {
		if f, ok := g.opts.OverviewProvider.Preview(ts); ok {
			return Snap{Index: idx, TS: ts, Frame: f, Source: SourceOverview}
		}
	}

	lo, hi := g.owningTaskRange(idx)
	if lo < hi {
		if f, _, ok := g.store.NearestWithin(lo, hi, idx); ok {
			return Snap{Index: idx, TS: ts, Frame: f, Source: SourceNearest}
		}
	}

	return Snap{Index: idx, TS: ts, Source: SourceNone}
}

// owningTaskRange returns the index span of whichever live task currently
// covers idx, so the "nearest in the same task" fallback step only
// considers candidates that share a GOP with idx, per spec §4.6's wording.
func (g *Generator) owningTaskRange(idx int32) (int32, int32) {
	for _, t := range g.sched.Tasks() {
		if t.Snapshot && idx >= t.SSIndexFirst && idx < t.SSIndexSecond {
			return t.SSIndexFirst, t.SSIndexSecond
		}
	}
	return 0, 0
}
