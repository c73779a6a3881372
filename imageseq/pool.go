package imageseq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/reisenx"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/worker"
)

// OpenedFile is one file-decoder worker's open decode session: a
// DemuxSource/CodecContext pair plus the native frame size, so a worker can
// detect a dimension change across consecutive files in the sequence. It
// carries no codec identifier; a worker opens a fresh session for every new
// file index, so a codec change is followed without being detected.
type OpenedFile struct {
	Demux         codec.DemuxSource
	Codec         codec.CodecContext
	Width, Height int
	Close         func() error
}

// FileOpener opens one image path into a decode session. Tests substitute a
// fake; the zero-value Options uses defaultFileOpener, which opens path via
// internal/reisenx the same way videoreader and snapshot open containers.
type FileOpener func(path string) (OpenedFile, error)

// defaultFileOpener opens path with reisenx.OpenAdapter and starts its
// decode session, mirroring videoreader.Open's reisenx wiring.
func defaultFileOpener(path string) (OpenedFile, error) {
	a, err := reisenx.OpenAdapter(path)
	if err != nil {
		return OpenedFile{}, err
	}
	if err := a.Container.OpenDecode(); err != nil {
		a.Container.Close()
		return OpenedFile{}, err
	}
	return OpenedFile{
		Demux:  a.Demux,
		Codec:  a.Codec,
		Width:  a.Container.Width(),
		Height: a.Container.Height(),
		Close:  a.Close,
	}, nil
}

// fileWorker is one slot in the ImageSequenceReader's decode pool: it
// claims index-keyed tasks from the shared scheduler, opens (or reuses) the
// corresponding file, and decodes its single frame into the task's decoded
// queue for the shared post-processor to pick up. Distinct files hand off
// sequentially within one worker (one open session at a time); distinct
// workers run concurrently over distinct files, which is the whole point of
// the pool.
type fileWorker struct {
	id      int
	files   []string
	sched   *scheduler.Scheduler
	open    FileOpener
	idle    time.Duration
	loop    worker.Loop
	log     *slog.Logger

	mu       sync.Mutex
	cur      *OpenedFile
	curIndex int64
	haveCur  bool
	lastUsed time.Time
}

func newFileWorker(id int, files []string, sched *scheduler.Scheduler, open FileOpener, idle time.Duration, loop worker.Loop, log *slog.Logger) *fileWorker {
	return &fileWorker{
		id:    id,
		files: files,
		sched: sched,
		open:  open,
		idle:  idle,
		loop:  loop,
		log:   log.With("component", "imageseq.filedecoder", "worker", id),
	}
}

// Run drives the worker's poll loop until ctx is cancelled, releasing any
// open file on the way out.
func (w *fileWorker) Run(ctx context.Context) error {
	err := w.loop.Run(ctx, w.tick)
	w.mu.Lock()
	w.releaseLocked()
	w.mu.Unlock()
	return err
}

func (w *fileWorker) tick(ctx context.Context) error {
	task := w.sched.FindNextDecodeTask()
	if task == nil {
		w.checkIdle()
		w.loop.Sleep(ctx)
		return nil
	}

	if task.Cancelled() {
		w.loop.Sleep(ctx)
		return nil
	}

	if task.RedoRequested() {
		if !task.TryClaimRedo() {
			w.loop.Sleep(ctx)
			return nil
		}
		task.SetDecoderEOF(false)
		w.decodeTask(ctx, task)
		return nil
	}

	if !task.TryClaimDecode() {
		w.loop.Sleep(ctx)
		return nil
	}

	w.decodeTask(ctx, task)
	return nil
}

// decodeTask opens task's file (reusing the worker's current session when
// it already matches) and runs the trivial one-frame send_packet/
// receive_frame sequence: a single packet, then a null packet to drain it,
// mirroring internal/decoder.Worker's task-boundary flush without the
// surrounding multi-packet GOP machinery a one-frame task doesn't need.
func (w *fileWorker) decodeTask(ctx context.Context, task *gop.Task) {
	index := task.SeekPTSFirst
	of, err := w.ensureOpen(index)
	if err != nil {
		w.log.Warn("open failed, abandoning frame", "index", index, "error", err)
		task.SetDecoderEOF(true)
		return
	}

	p, err := of.Demux.ReadPacket()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			w.log.Warn("read_packet failed, abandoning frame", "index", index, "error", err)
		}
		task.SetDecoderEOF(true)
		return
	}

	if err := of.Codec.SendPacket(ctx, p); err != nil {
		w.log.Warn("send_packet failed, abandoning frame", "index", index, "error", err)
		task.SetDecoderEOF(true)
		return
	}
	of.Codec.SendPacket(ctx, codec.Packet{Null: true})

	f, err := of.Codec.ReceiveFrame(ctx)
	if err != nil {
		w.log.Warn("receive_frame produced no frame", "index", index, "error", err)
		task.SetDecoderEOF(true)
		return
	}

	task.Decoded.Push(f)
	task.SetDecoderEOF(true)
}

// ensureOpen opens the file for index if the worker's current session isn't
// already that file, closing the prior session first. A frame-size change
// between consecutive files is logged as a warning, never a hard error. The
// codec is not compared: the new file always gets a fresh session, so a
// codec change is followed automatically but not logged.
func (w *fileWorker) ensureOpen(index int64) (OpenedFile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.haveCur && w.curIndex == index {
		w.lastUsed = time.Now()
		return *w.cur, nil
	}

	path, err := w.pathFor(index)
	if err != nil {
		return OpenedFile{}, err
	}

	prev := w.cur
	of, err := w.open(path)
	if err != nil {
		return OpenedFile{}, err
	}
	if prev != nil && (prev.Width != of.Width || prev.Height != of.Height) {
		w.log.Warn("frame size changed between images in sequence",
			"previous_width", prev.Width, "previous_height", prev.Height,
			"width", of.Width, "height", of.Height, "index", index)
	}
	if prev != nil {
		if err := prev.Close(); err != nil {
			w.log.Warn("close previous file failed", "error", err)
		}
	}

	w.cur = &of
	w.curIndex = index
	w.haveCur = true
	w.lastUsed = time.Now()
	return of, nil
}

func (w *fileWorker) pathFor(index int64) (string, error) {
	if index < 0 || index >= int64(len(w.files)) {
		return "", errOutOfRange
	}
	return w.files[index], nil
}

// checkIdle releases the worker's open file once it has sat unused past the
// configured idle timeout, the resource-release watchdog SPEC_FULL.md
// §4.7 adds (grounded on original_source/ImageSequenceReader.cpp's
// TryReleaseResources).
func (w *fileWorker) checkIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.haveCur {
		return
	}
	if time.Since(w.lastUsed) < w.idle {
		return
	}
	w.releaseLocked()
}

func (w *fileWorker) releaseLocked() {
	if w.cur == nil {
		return
	}
	if err := w.cur.Close(); err != nil {
		w.log.Warn("idle release close failed", "error", err)
	}
	w.cur = nil
	w.haveCur = false
}

var errOutOfRange = errors.New("imageseq: frame index out of range")
