package clowdflare

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/r2northstar/clowdflare/pkg/cloudflare"
	"github.com/rs/zerolog"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IPv4URL != "https://www.cloudflare.com/ips-v4/" || c.IPv6URL != "https://www.cloudflare.com/ips-v6/" {
		t.Errorf("incorrect default urls %q, %q", c.IPv4URL, c.IPv6URL)
	}
	if c.Timeout != 10*time.Second {
		t.Errorf("incorrect default timeout %s", c.Timeout)
	}
	if c.HTTPTimeout != 30*time.Second {
		t.Errorf("incorrect default http timeout %s", c.HTTPTimeout)
	}
	if c.Family != "any" {
		t.Errorf("incorrect default family %q", c.Family)
	}
	if c.Results != "none" {
		t.Errorf("incorrect default results %q", c.Results)
	}
	if c.LogLevel != zerolog.InfoLevel || c.LogFileLevel != zerolog.DebugLevel {
		t.Errorf("incorrect default log levels %s, %s", c.LogLevel, c.LogFileLevel)
	}
	if !c.LogPretty {
		t.Errorf("expected pretty logs by default")
	}
	if c.Proc != 0 || c.DNSServers == nil || len(c.DNSServers) != 0 {
		t.Errorf("incorrect defaults %d, %#v", c.Proc, c.DNSServers)
	}
}

func TestConfigEnv(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv([]string{
		"PATH=/usr/bin",
		"CLOWDFLARE_PROC=4",
		"CLOWDFLARE_DNS_SERVERS=1.1.1.1,8.8.8.8:53",
		"CLOWDFLARE_TIMEOUT=2s",
		"CLOWDFLARE_FAMILY=",
		"CLOWDFLARE_RESULTS=",
		"CLOWDFLARE_LOG_LEVEL=warn",
		"NO_COLOR=1",
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Proc != 4 {
		t.Errorf("incorrect proc %d", c.Proc)
	}
	if !reflect.DeepEqual(c.DNSServers, []string{"1.1.1.1", "8.8.8.8:53"}) {
		t.Errorf("incorrect dns servers %q", c.DNSServers)
	}
	if c.Timeout != 2*time.Second {
		t.Errorf("incorrect timeout %s", c.Timeout)
	}
	if c.Family != "" {
		t.Errorf("expected family to be explicitly emptied, got %q", c.Family)
	}
	if c.Results != "none" {
		t.Errorf("expected empty results to use the default, got %q", c.Results)
	}
	if c.LogLevel != zerolog.WarnLevel {
		t.Errorf("incorrect log level %s", c.LogLevel)
	}
	if c.NoColor != "1" {
		t.Errorf("incorrect NO_COLOR %q", c.NoColor)
	}

	if err := c.UnmarshalEnv([]string{"CLOWDFLARE_PROC=8"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Proc != 8 || c.Timeout != 2*time.Second {
		t.Errorf("incremental unmarshal changed other fields: %d, %s", c.Proc, c.Timeout)
	}
}

func TestConfigEnvInvalid(t *testing.T) {
	for _, e := range []string{
		"CLOWDFLARE_BOGUS=1",
		"CLOWDFLARE_PROC=a",
		"CLOWDFLARE_TIMEOUT=10",
		"CLOWDFLARE_FULL_TRACE=maybe",
		"CLOWDFLARE_LOG_LEVEL=loud",
	} {
		t.Run(e, func(t *testing.T) {
			var c Config
			if err := c.UnmarshalEnv([]string{e}, false); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestConfigSetFlag(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, val := range map[string]string{
		"proc":           "6",
		"dns-server":     "9.9.9.9",
		"timeout":        "1.5s",
		"full-trace":     "true",
		"force-download": "true",
		"family":         "6",
		"log-level":      "debug",
	} {
		if ok, err := c.SetFlag(name, val); err != nil || !ok {
			t.Errorf("set %s: ok=%t err=%v", name, ok, err)
		}
	}
	if c.Proc != 6 || !c.FullTrace || !c.ForceDownload || c.Family != "6" || c.Timeout != 1500*time.Millisecond || c.LogLevel != zerolog.DebugLevel {
		t.Errorf("flags not set: %+v", c)
	}
	if !reflect.DeepEqual(c.DNSServers, []string{"9.9.9.9"}) {
		t.Errorf("incorrect dns servers %q", c.DNSServers)
	}

	if ok, err := c.SetFlag("host", "example.com"); ok || err != nil {
		t.Errorf("expected unknown flag to be ignored, got ok=%t err=%v", ok, err)
	}
	if ok, err := c.SetFlag("proc", "many"); !ok || err == nil {
		t.Errorf("expected invalid value to fail, got ok=%t err=%v", ok, err)
	}
}

func TestConfigWorkers(t *testing.T) {
	for _, x := range []struct {
		Proc, Hosts, Exp int
	}{
		{4, 2, 2},
		{4, 10, 4},
		{1, 10, 1},
	} {
		if w := (&Config{Proc: x.Proc}).Workers(x.Hosts); w != x.Exp {
			t.Errorf("proc=%d hosts=%d: expected %d workers, got %d", x.Proc, x.Hosts, x.Exp, w)
		}
	}
	if w := (&Config{}).Workers(1000); w < 2 {
		t.Errorf("expected at least 2 default workers, got %d", w)
	}
}

func TestConfigSources(t *testing.T) {
	d := t.TempDir()
	c := Config{
		CacheDir: d,
		IPv4URL:  "https://example.com/4",
		IPv6URL:  "https://example.com/6",
	}
	srcs, err := c.Sources()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp := []Source{
		{cloudflare.IPv4, "https://example.com/4", filepath.Join(d, "ips-v4")},
		{cloudflare.IPv6, "https://example.com/6", filepath.Join(d, "ips-v6")},
	}; !reflect.DeepEqual(srcs, exp) {
		t.Errorf("expected %+v, got %+v", exp, srcs)
	}
}
