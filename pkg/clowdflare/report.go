package clowdflare

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiPurple = "\x1b[35m"
	ansiCyan   = "\x1b[36m"
)

// Reporter writes progress lines to Err and the hosts which are not behind
// Cloudflare to Out. It is safe for concurrent use, and each line is written
// with a single call to the underlying writer.
type Reporter struct {
	Out   io.Writer
	Err   io.Writer
	Color bool

	mu sync.Mutex
}

// NewReporter creates a reporter for stdout and stderr. The color mode is one
// of auto, always, or never.
func NewReporter(mode string, noColor bool) (*Reporter, error) {
	r := &Reporter{
		Out: os.Stdout,
		Err: os.Stderr,
	}
	switch mode {
	case "", "auto":
		fd := os.Stderr.Fd()
		r.Color = !noColor && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	case "always":
		r.Color = true
	case "never":
		r.Color = false
	default:
		return nil, fmt.Errorf("unknown color mode %q", mode)
	}
	if r.Color {
		r.Err = colorable.NewColorable(os.Stderr)
	}
	return r, nil
}

func (r *Reporter) line(w io.Writer, color, format string, a ...any) {
	s := fmt.Sprintf(format, a...)
	if r.Color && color != "" {
		s = color + s + ansiReset
	}
	s += "\n"

	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(w, s)
}

func (r *Reporter) TotalHosts(n, workers int) {
	r.line(r.Err, ansiYellow, "total hosts: %d; working processes: %d", n, workers)
}

func (r *Reporter) Check(host string, addr netip.Addr, p netip.Prefix, match bool) {
	res := "PASS"
	if match {
		res = "FAIL"
	}
	r.line(r.Err, ansiCyan, "check %s (%s) in cloudflare subnet %s: %s", host, addr, p, res)
}

func (r *Reporter) DetectedCloudflare(host string) {
	r.line(r.Err, ansiPurple, "detected cloudflare: %s", host)
}

func (r *Reporter) AddressNotFound(host string) {
	r.line(r.Err, ansiPurple, "host ip address not found: %s", host)
}

func (r *Reporter) SkipHost(host string) {
	r.line(r.Err, ansiPurple, "skip host: %s", host)
}

// Host writes a host which is not behind Cloudflare to Out.
func (r *Reporter) Host(host string) {
	r.line(r.Out, "", "%s", host)
}

func (r *Reporter) Finished() {
	r.line(r.Err, ansiYellow, "Finished!")
}

func (r *Reporter) Interrupted() {
	r.line(r.Err, ansiYellow, "Program interrupted by user...")
}

func (r *Reporter) NotModified(url string) {
	r.line(r.Err, ansiPurple, "skip download: resource %s is not modified", url)
}

func (r *Reporter) Retrieved(url, path string) {
	r.line(r.Err, ansiGreen, "url %s retrieved as %s", url, path)
}

func (r *Reporter) Error(err error) {
	r.line(r.Err, ansiRed, "%v", err)
}
