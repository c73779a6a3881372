package probe

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Reporter prints colored status lines for the scripted demo runs, the
// same role five82-reel's TerminalReporter plays for encode progress:
// fixed color roles, no structured log fields, meant to be read by a
// person watching the terminal.
type Reporter struct {
	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	dim    *color.Color
}

// NewReporter builds a Reporter with the demo's fixed color roles.
func NewReporter() *Reporter {
	return &Reporter{
		cyan:   color.New(color.FgCyan, color.Bold),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
		dim:    color.New(color.Faint),
	}
}

// Section prints a section header, e.g. "VIDEOREADER".
func (r *Reporter) Section(name string) {
	fmt.Println()
	_, _ = r.cyan.Println(name)
}

// Frame reports one successfully read frame.
func (r *Reporter) Frame(index int, pts int64, eof bool) {
	status := r.green.Sprint("ok")
	if eof {
		status = r.yellow.Sprint("eof")
	}
	fmt.Printf("  frame %-4d pts=%-10d %s\n", index, pts, status)
}

// Snapshot reports one resolved snapshot entry.
func (r *Reporter) Snapshot(index int32, source string, tsMS int64) {
	fmt.Printf("  snap  %-4d ts=%-10dms source=%s\n", index, tsMS, source)
}

// Seek reports a seek event (spec §4.4's seeking-flash window).
func (r *Reporter) Seek(posMS int64) {
	fmt.Printf("  %s seek to %dms\n", r.dim.Sprint("›"), posMS)
}

// RedoWarning reports a redo-decode request being serviced (spec §3's
// redo_decoding flag).
func (r *Reporter) RedoWarning(detail string) {
	_, _ = r.yellow.Printf("  redo-decode: %s\n", detail)
}

// Error reports a fatal error to stderr.
func (r *Reporter) Error(err error) {
	_, _ = fmt.Fprintln(os.Stderr)
	_, _ = r.red.Fprintf(os.Stderr, "ERROR: %v\n", err)
}

// Done prints a final success line.
func (r *Reporter) Done(message string) {
	fmt.Println()
	fmt.Printf("%s %s\n", r.green.Add(color.Bold).Sprint("✓"), message)
}
