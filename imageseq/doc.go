// Package imageseq implements the ImageSequenceReader pipeline (spec
// §4.7): N numbered image files read as a sequence of frames at a
// configured frame rate. Each file is its own trivial one-frame
// GopDecodeTask — the frame index doubles as the task's PTS — so the
// task scheduler, post-processor, and read API are the same machinery
// videoreader uses, generalized to an index-keyed cache range instead
// of a PTS-keyed one. The one piece with no videoreader analogue is the
// decode leg: instead of a single demuxer/decoder pair reading one
// seekable container, a bounded pool of independent file-decoder
// workers each open, decode, and (after an idle period) release their
// own single-image decode session in parallel.
package imageseq
