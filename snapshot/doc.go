// Package snapshot implements the SnapshotGenerator pipeline (spec §4.6):
// for one or more viewers, it maintains a uniformly-spaced set of decoded
// preview frames ("snapshots") over each viewer's visible time window, at a
// configurable cadence independent of the source frame rate.
//
// It reuses the demuxer and decoder workers unchanged (internal/demuxer,
// internal/decoder already implement the snapshot candidate-dispatch mode
// described in spec §4.3) and the same internal/scheduler task list, keyed
// here by snapshot-index range instead of seek-point range (spec §4.1's
// ReconcileByIndexRange). The piece unique to this pipeline is the
// Mat-updater worker (§2's pipeline table) and the per-index Store with its
// three-step fallback chain (§4.6) that lets a viewer see a progressively
// populated timeline instead of blocking on a full decode of every index.
package snapshot
