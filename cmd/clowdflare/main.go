// Command clowdflare checks whether hosts are behind Cloudflare, printing the
// ones which aren't.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/mattn/go-isatty"
	_ "github.com/mattn/go-sqlite3"
	"github.com/r2northstar/clowdflare/pkg/clowdflare"
	"github.com/spf13/pflag"
	"golang.org/x/mod/semver"
)

// set with -ldflags "-X main.version=v1.2.3"
var version string

var opt struct {
	Hosts   []string
	List    string
	EnvFile string
	NoColor bool
	Version bool
	Help    bool
}

func init() {
	pflag.StringSliceVarP(&opt.Hosts, "host", "H", nil, "Host to check (repeatable, comma-separated)")
	pflag.StringVarP(&opt.List, "list", "l", "", "File containing hosts to check, one per line (- for stdin)")
	pflag.IntP("proc", "p", 0, "Number of hosts to check in parallel (default: number of CPUs minus one, at least 2)")
	pflag.BoolP("force-download", "F", false, "Download the range lists even if they were not modified")
	pflag.BoolP("skip-download", "S", false, "Only use the cached range lists")
	pflag.String("cache-dir", "", "Directory to cache the range lists in")
	pflag.StringSlice("dns-server", nil, "DNS server to query instead of the system resolver (repeatable)")
	pflag.Duration("timeout", 0, "DNS resolution timeout per host (default 10s)")
	pflag.String("family", "", "Address families to check (any, 4, 6)")
	pflag.Bool("full-trace", false, "Check every address against every block")
	pflag.String("results", "", "Result storage (none, sqlite3:PATH)")
	pflag.String("ip2location", "", "IP2Location database for annotating results with countries")
	pflag.String("metrics", "", "Write Prometheus metrics to this file after the run (- for stderr)")
	pflag.String("har", "", "Write the range list requests to this HAR file")
	pflag.String("log-level", "", "Minimum log level (trace, debug, info, warn, error)")
	pflag.String("color", "", "Colorize output (auto, always, never)")
	pflag.StringVar(&opt.EnvFile, "env-file", "", "Read configuration from this env file in addition to the environment")
	pflag.BoolVar(&opt.NoColor, "no-color", false, "Same as --color=never")
	pflag.BoolVarP(&opt.Version, "version", "V", false, "Show the version and exit")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if opt.Help {
		fmt.Printf("usage: %s [options] [host...]\n\noptions:\n%s\nnote: CLOWDFLARE_* environment variables are overridden by options\n", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(0)
	}

	if opt.Version {
		fmt.Printf("clowdflare %s\n", getVersion())
		os.Exit(0)
	}

	e := os.Environ()
	if opt.EnvFile != "" {
		if x, err := readEnv(opt.EnvFile); err == nil {
			e = append(e, x...)
		} else {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(2)
		}
	}

	var c clowdflare.Config
	if err := c.UnmarshalEnv(e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(2)
	}
	if err := setFlags(&c); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse options: %v\n", err)
		os.Exit(2)
	}
	if opt.NoColor {
		c.Color = "never"
	}

	hosts, err := readHosts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if len(hosts) == 0 {
		fmt.Fprintf(os.Stderr, "error: no hosts provided (see --help)\n")
		os.Exit(2)
	}

	a, err := clowdflare.New(&c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.Run(ctx, hosts)
	if cerr := a.Close(); cerr != nil {
		a.Logger.Error().Err(cerr).Msg("failed to clean up")
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.Reporter.Interrupted()
			os.Exit(130)
		}
		a.Reporter.Error(fmt.Errorf("error: %w", err))
		os.Exit(1)
	}
	if s.Interrupted {
		os.Exit(130)
	}
}

// setFlags overrides config fields with the options which were explicitly
// set.
func setFlags(c *clowdflare.Config) error {
	var err error
	pflag.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		val := f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			val = strings.Join(sv.GetSlice(), ",")
		}
		_, err = c.SetFlag(f.Name, val)
	})
	return err
}

// readHosts collects the hosts from the arguments, options, and the host list,
// then validates them.
func readHosts() ([]string, error) {
	return collectHosts(append(append([]string{}, opt.Hosts...), pflag.Args()...), opt.List, os.Stdin)
}

// collectHosts adds the hosts from the host list to hs. If no host list is
// provided, stdin is used unless it is a terminal.
func collectHosts(hs []string, list string, stdin *os.File) ([]string, error) {
	var r io.Reader
	switch list {
	case "-":
		r = stdin
	case "":
		if fd := stdin.Fd(); !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
			r = stdin
		}
	default:
		f, err := os.Open(list)
		if err != nil {
			return nil, fmt.Errorf("read host list: %w", err)
		}
		defer f.Close()
		r = f
	}
	if r != nil {
		x, err := clowdflare.ReadHosts(r)
		if err != nil {
			return nil, fmt.Errorf("read host list: %w", err)
		}
		hs = append(hs, x...)
	}
	return clowdflare.NormalizeHosts(hs)
}

func getVersion() string {
	v := version
	if v == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			v = bi.Main.Version
		}
	}
	v = "v" + strings.TrimPrefix(v, "v")
	if c := semver.Canonical(v); semver.IsValid(c) {
		return c + semver.Build(v)
	}
	return "(devel)"
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
