package snapshot

import (
	"log/slog"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// Default tuning constants. DefaultWindowSnapCount matches spec §8 scenario
// 4 ("Configure 20 snapshots over the whole duration"); DefaultCacheFactor
// is the multiplier in original_source/Snapshot.cpp's cache-size formula
// (SPEC_FULL.md §4.1 supplement), picked so the cache comfortably covers
// one extra window's worth of prefetch on either side without the task list
// growing unbounded on a very wide viewer window.
const (
	DefaultWindowSnapCount = 20
	DefaultCacheFactor     = 1.5
)

// SnapSource reports which tier of the §4.6 fallback chain produced a Snap.
type SnapSource int

const (
	// SourceNone means no snapshot could be produced for this index yet.
	SourceNone SnapSource = iota
	// SourceDecoded means the index's own GOP was decoded and converted.
	SourceDecoded
	// SourceOverview means an OverviewProvider supplied a coarser preview.
	SourceOverview
	// SourceNearest means the nearest already-decoded snapshot in the same
	// task stood in for an index whose own candidate hasn't arrived yet.
	SourceNearest
)

// OverviewProvider supplies a coarser, already-available preview frame for
// a point in time when the generator's own decode for that index hasn't
// completed yet (spec §4.6, fallback step 1). Out of scope for this module
// per spec §1 ("out of scope: ... Parser front-end"); Options.OverviewProvider
// is nil unless a caller wires one in.
type OverviewProvider interface {
	Preview(tsMS int64) (*media.Frame, bool)
}

// Options configures a Generator at construction.
type Options struct {
	// StreamIndex selects which demuxed stream this generator decodes.
	StreamIndex int
	// SeekPoints seeds the seek-point table, same contract as
	// videoreader.Options.SeekPoints.
	SeekPoints []int64
	// SnapIntervalPTS is the cadence between snapshot indices in the
	// adapter's PTS domain — the "ss frame rate", independent of the
	// source's own frame rate (spec §4.6).
	SnapIntervalPTS int64

	// WindowSnapCount is the number of consecutive snapshot indices a
	// viewer's visible window covers. Defaults to DefaultWindowSnapCount.
	WindowSnapCount int
	// DefaultCacheFactor seeds newly-created viewers' cache factor; each
	// viewer can override it afterward via SetCacheFactor.
	DefaultCacheFactor float64

	// Converter performs pixel conversion for each decoded candidate; nil
	// uses postproc.NewStdConverter() (wired by the generator's caller, the
	// same default videoreader.Options uses).
	Converter codec.PixelConverter
	// Rotation/FilterGraph mirror videoreader.Options: display-matrix
	// rotation applies the same way regardless of which pipeline is
	// converting a decoded frame into an output matrix.
	Rotation     int
	FilterGraph  codec.FilterGraph
	FrameRate    codec.Rational
	NativeFormat codec.PixelFormat

	// OverviewProvider backs fallback step 1 of GetSnapshots' resolution
	// chain (spec §4.6).
	OverviewProvider OverviewProvider

	PacketQueueSize  int
	DecodedQueueSize int

	// Loop overrides the polling interval shared by every worker in this
	// generator's pipeline.
	Loop worker.Loop
	Log  *slog.Logger
}

func (o Options) windowSnapCount() int32 {
	if o.WindowSnapCount > 0 {
		return int32(o.WindowSnapCount)
	}
	return DefaultWindowSnapCount
}

func (o Options) defaultCacheFactor() float64 {
	if o.DefaultCacheFactor > 0 {
		return o.DefaultCacheFactor
	}
	return DefaultCacheFactor
}

func (o Options) packetQueueSize() int {
	if o.PacketQueueSize > 0 {
		return o.PacketQueueSize
	}
	return media.PacketQueueSize
}

func (o Options) decodedQueueSize() int {
	if o.DecodedQueueSize > 0 {
		return o.DecodedQueueSize
	}
	return media.DecodedQueueSize
}
