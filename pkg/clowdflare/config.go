// Package clowdflare checks whether hosts are behind Cloudflare.
package clowdflare

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/r2northstar/clowdflare/pkg/cloudflare"
	"github.com/rs/zerolog"
)

// Config contains the configuration for clowdflare. The env struct tag contains
// the environment variable name and the default value if missing, or empty (if
// not ?=). All string arrays are comma-separated. The flag struct tag contains
// the name of the command-line flag which overrides it.
type Config struct {
	// The directory to cache the range lists in. If empty, clowdflare is used
	// under the user cache directory (e.g., ~/.cache/clowdflare).
	CacheDir string `env:"CLOWDFLARE_CACHE_DIR" flag:"cache-dir"`

	// The URL of the IPv4 range list.
	IPv4URL string `env:"CLOWDFLARE_IPV4_URL=https://www.cloudflare.com/ips-v4/"`

	// The URL of the IPv6 range list.
	IPv6URL string `env:"CLOWDFLARE_IPV6_URL=https://www.cloudflare.com/ips-v6/"`

	// The user agent to use for downloading the range lists.
	UserAgent string `env:"CLOWDFLARE_USER_AGENT"`

	// Always download the range lists, even if they weren't modified.
	ForceDownload bool `env:"CLOWDFLARE_FORCE_DOWNLOAD" flag:"force-download"`

	// Never download the range lists, and only use the cache.
	SkipDownload bool `env:"CLOWDFLARE_SKIP_DOWNLOAD" flag:"skip-download"`

	// The timeout for each range list request.
	HTTPTimeout time.Duration `env:"CLOWDFLARE_HTTP_TIMEOUT=30s"`

	// The maximum number of hosts to check in parallel. If zero or negative,
	// one less than the number of CPUs (but at least 2) is used.
	Proc int `env:"CLOWDFLARE_PROC" flag:"proc"`

	// The DNS servers (host[:port]) to query. If not provided, the system
	// resolver is used.
	DNSServers []string `env:"CLOWDFLARE_DNS_SERVERS" flag:"dns-server"`

	// The DNS resolution timeout for each host.
	Timeout time.Duration `env:"CLOWDFLARE_TIMEOUT=10s" flag:"timeout"`

	// The address families to check (any, 4, 6).
	Family string `env:"CLOWDFLARE_FAMILY?=any" flag:"family"`

	// Check every address against every block instead of stopping at the
	// first match.
	FullTrace bool `env:"CLOWDFLARE_FULL_TRACE" flag:"full-trace"`

	// The storage to use for check results:
	//  - none
	//  - sqlite3:/path/to/results.db
	Results string `env:"CLOWDFLARE_RESULTS=none" flag:"results"`

	// The path to an IP2Location database used to annotate resolved
	// addresses with their country. Optional.
	IP2Location string `env:"CLOWDFLARE_IP2LOCATION" flag:"ip2location"`

	// Write metrics in the Prometheus text format to this file after the run
	// ("-" for stderr).
	Metrics string `env:"CLOWDFLARE_METRICS" flag:"metrics"`

	// Write the range list requests to a HAR file.
	HAR string `env:"CLOWDFLARE_HAR" flag:"har"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"CLOWDFLARE_LOG_LEVEL=info" flag:"log-level"`

	// Whether to use pretty logs on stderr.
	LogPretty bool `env:"CLOWDFLARE_LOG_PRETTY=true"`

	// The log file to output to, if provided.
	LogFile string `env:"CLOWDFLARE_LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"CLOWDFLARE_LOG_FILE_LEVEL=debug"`

	// Whether to colorize output (auto, always, never). If NO_COLOR is set,
	// auto is the same as never.
	Color string `env:"CLOWDFLARE_COLOR=auto" flag:"color"`

	// For NO_COLOR.
	NoColor string `env:"NO_COLOR"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "CLOWDFLARE_") || strings.HasPrefix(e, "NO_COLOR=") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		// get the default value, and check if it can be explicitly set to an
		// empty value
		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			// if the value is non-empty or we are allowed to set it to an empty
			// value, set it, otherwise simply keep the default
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		if err := setField(cv.FieldByName(ctf.Name), val); err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}

// SetFlag sets the field with the provided flag tag from its string value,
// returning false if no field has the tag.
func (c *Config) SetFlag(name, val string) (bool, error) {
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		if ctf.Tag.Get("flag") == name {
			if err := setField(cv.FieldByName(ctf.Name), val); err != nil {
				return true, fmt.Errorf("flag --%s: %w", name, err)
			}
			return true, nil
		}
	}
	return false, nil
}

func setField(cvf reflect.Value, val string) error {
	switch cvf.Interface().(type) {
	case string:
		cvf.SetString(val)
	case int, int8, int16, int32, int64:
		if val == "" {
			cvf.SetInt(0)
		} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			cvf.SetInt(v)
		} else {
			return fmt.Errorf("(%T): parse %q: %w", cvf.Interface(), val, err)
		}
	case bool:
		if val == "" {
			cvf.SetBool(false)
		} else if v, err := strconv.ParseBool(val); err == nil {
			cvf.SetBool(v)
		} else {
			return fmt.Errorf("(%T): parse %q: %w", cvf.Interface(), val, err)
		}
	case []string:
		if val == "" {
			cvf.Set(reflect.ValueOf([]string{}))
		} else {
			cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
		}
	case zerolog.Level:
		if v, err := zerolog.ParseLevel(val); err == nil {
			cvf.Set(reflect.ValueOf(v))
		} else {
			return fmt.Errorf("(%T): parse %q: %w", cvf.Interface(), val, err)
		}
	case time.Duration:
		if v, err := time.ParseDuration(val); err == nil {
			cvf.Set(reflect.ValueOf(v))
		} else {
			return fmt.Errorf("(%T): parse %q: %w", cvf.Interface(), val, err)
		}
	default:
		return fmt.Errorf("unhandled type %T", cvf.Interface())
	}
	return nil
}

// Workers returns the number of workers to use for n hosts.
func (c *Config) Workers(n int) int {
	w := c.Proc
	if w <= 0 {
		if w = runtime.NumCPU() - 1; w < 2 {
			w = 2
		}
	}
	if w > n {
		w = n
	}
	return w
}

// CachePaths returns the cache file paths for the IPv4 and IPv6 lists.
func (c *Config) CachePaths() (v4, v6 string, err error) {
	d := c.CacheDir
	if d == "" {
		x, err := os.UserCacheDir()
		if err != nil {
			return "", "", fmt.Errorf("get user cache dir: %w", err)
		}
		d = filepath.Join(x, "clowdflare")
	}
	if d, err = filepath.Abs(d); err != nil {
		return "", "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(d, "ips-v4"), filepath.Join(d, "ips-v6"), nil
}

// Sources returns the range list URLs and cache paths for each family.
func (c *Config) Sources() ([]Source, error) {
	v4, v6, err := c.CachePaths()
	if err != nil {
		return nil, err
	}
	return []Source{
		{cloudflare.IPv4, c.IPv4URL, v4},
		{cloudflare.IPv6, c.IPv6URL, v6},
	}, nil
}

// Source is a range list location.
type Source struct {
	Family cloudflare.Family
	URL    string
	Path   string
}
