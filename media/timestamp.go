package media

// TimeBase is a stream's native tick rate expressed as seconds-per-tick,
// Num/Den (e.g. {Num: 1, Den: 90000} for a 90kHz PTS clock).
type TimeBase struct {
	Num int64
	Den int64
}

// TimeCodec converts between stream PTS (integer ticks in TimeBase units)
// and media time (integer milliseconds), anchored at a stream start PTS.
// It is the single conversion primitive every pipeline stage uses to
// reconcile the two coordinate systems: PTS for decode-order bookkeeping,
// MTS for anything a client passes in or observes.
type TimeCodec struct {
	Base  TimeBase
	Start int64
}

// PTSToMTS converts a stream PTS to media time in milliseconds, rounding to
// the nearest millisecond. Used for anything surfaced to a client: frame
// identity, display position.
func (c TimeCodec) PTSToMTS(pts int64) int64 {
	if c.Base.Num == 0 || c.Base.Den == 0 {
		return 0
	}
	return roundDiv((pts-c.Start)*c.Base.Num*1000, c.Base.Den)
}

// MTSToPTS converts media time in milliseconds to a stream PTS, rounding
// toward negative infinity. Used for seek targets: landing slightly before
// the requested position is safe (the reader will advance), landing after
// it is not.
func (c TimeCodec) MTSToPTS(mts int64) int64 {
	if c.Base.Num == 0 || c.Base.Den == 0 {
		return c.Start
	}
	return floorDiv(mts*c.Base.Den, c.Base.Num*1000) + c.Start
}

// DurationPTSToMS converts a PTS-domain duration (no start-time offset) to
// milliseconds, rounding to nearest.
func (c TimeCodec) DurationPTSToMS(durPTS int64) int64 {
	if c.Base.Num == 0 || c.Base.Den == 0 {
		return 0
	}
	return roundDiv(durPTS*c.Base.Num*1000, c.Base.Den)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if r := a % b; r != 0 && (r < 0) != (b < 0) {
		q--
	}
	return q
}

func roundDiv(a, b int64) int64 {
	if b < 0 {
		a, b = -a, -b
	}
	if a >= 0 {
		return (a + b/2) / b
	}
	return -((-a + b/2) / b)
}
