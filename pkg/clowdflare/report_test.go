package clowdflare

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
)

func TestReporter(t *testing.T) {
	r, out, stderr := testReporter()

	r.TotalHosts(2, 2)
	r.Check("www.goodfirms.co", netip.MustParseAddr("188.114.98.224"), netip.MustParsePrefix("173.245.48.0/20"), false)
	r.Check("www.goodfirms.co", netip.MustParseAddr("188.114.98.224"), netip.MustParsePrefix("188.114.96.0/20"), true)
	r.DetectedCloudflare("www.goodfirms.co")
	r.SkipHost("www.goodfirms.co")
	r.AddressNotFound("nonexistent.invalid")
	r.Host("example.com")
	r.NotModified("https://www.cloudflare.com/ips-v4/")
	r.Retrieved("https://www.cloudflare.com/ips-v6/", "/tmp/ips-v6")
	r.Error(errors.New("something failed"))
	r.Finished()
	r.Interrupted()

	if exp := strings.Join([]string{
		"total hosts: 2; working processes: 2",
		"check www.goodfirms.co (188.114.98.224) in cloudflare subnet 173.245.48.0/20: PASS",
		"check www.goodfirms.co (188.114.98.224) in cloudflare subnet 188.114.96.0/20: FAIL",
		"detected cloudflare: www.goodfirms.co",
		"skip host: www.goodfirms.co",
		"host ip address not found: nonexistent.invalid",
		"skip download: resource https://www.cloudflare.com/ips-v4/ is not modified",
		"url https://www.cloudflare.com/ips-v6/ retrieved as /tmp/ips-v6",
		"something failed",
		"Finished!",
		"Program interrupted by user...",
	}, "\n") + "\n"; stderr.String() != exp {
		t.Errorf("incorrect stderr:\n%s\nexpected:\n%s", stderr.String(), exp)
	}
	if exp := "example.com\n"; out.String() != exp {
		t.Errorf("incorrect stdout %q, expected %q", out.String(), exp)
	}
}

func TestReporterColor(t *testing.T) {
	r, out, stderr := testReporter()
	r.Color = true

	r.Finished()
	r.Error(errors.New("failed"))
	r.Host("example.com")

	if exp := ansiYellow + "Finished!" + ansiReset + "\n" + ansiRed + "failed" + ansiReset + "\n"; stderr.String() != exp {
		t.Errorf("incorrect stderr %q, expected %q", stderr.String(), exp)
	}
	if exp := "example.com\n"; out.String() != exp {
		t.Errorf("expected stdout to never be colorized, got %q", out.String())
	}
}

func TestNewReporter(t *testing.T) {
	for _, c := range []struct {
		Mode    string
		NoColor bool
		Color   bool
	}{
		{"always", false, true},
		{"always", true, true},
		{"never", false, false},
	} {
		r, err := NewReporter(c.Mode, c.NoColor)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.Mode, err)
		}
		if r.Color != c.Color {
			t.Errorf("%s (no_color=%t): expected color=%t", c.Mode, c.NoColor, c.Color)
		}
	}
	if _, err := NewReporter("rainbow", false); err == nil {
		t.Errorf("expected error for unknown mode")
	}
	if r, err := NewReporter("auto", true); err != nil || r.Color {
		t.Errorf("expected NO_COLOR to disable auto color")
	}
}
