package clowdflare

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	for _, c := range []struct {
		In  string
		Out string
	}{
		{"www.goodfirms.co", "www.goodfirms.co"},
		{"  Example.COM ", "example.com"},
		{"example.com.", "example.com"},
		{"_dmarc.example.com", "_dmarc.example.com"},
		{"bücher.example", "xn--bcher-kva.example"},
		{"localhost", "localhost"},
		{"1.1.1.1", "1.1.1.1"},
		{"2606:4700::1111", "2606:4700::1111"},
		{"[2606:4700::1111]", "2606:4700::1111"},
		{"::ffff:1.1.1.1", "::ffff:1.1.1.1"},
	} {
		t.Run(c.In, func(t *testing.T) {
			out, err := NormalizeHost(c.In)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != c.Out {
				t.Errorf("expected %q, got %q", c.Out, out)
			}
		})
	}
}

func TestNormalizeHostInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"exa mple.com",
		"https://example.com",
		"example.com/path",
		"example..com",
		".example.com",
		"-example.com",
		"example-.com",
		strings.Repeat("a", 64) + ".com",
		strings.Repeat("a.", 127) + "com",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizeHost(in)
			var ie *InvalidInputError
			if !errors.As(err, &ie) {
				t.Fatalf("expected invalid input error, got %v", err)
			}
			if ie.Input != in {
				t.Errorf("incorrect input %q", ie.Input)
			}
		})
	}
}

func TestNormalizeHosts(t *testing.T) {
	hs, err := NormalizeHosts([]string{"example.com", "EXAMPLE.com", "www.goodfirms.co", "example.com."})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp := []string{"example.com", "www.goodfirms.co"}; !reflect.DeepEqual(hs, exp) {
		t.Errorf("expected %q, got %q", exp, hs)
	}
	if _, err := NormalizeHosts([]string{"example.com", "bad host"}); err == nil {
		t.Errorf("expected error")
	}
}

func TestReadHosts(t *testing.T) {
	hs, err := ReadHosts(strings.NewReader("# hosts\nexample.com\n\n  www.goodfirms.co  \r\n#skip.example.com\nlast.example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp := []string{"example.com", "www.goodfirms.co", "last.example.com"}; !reflect.DeepEqual(hs, exp) {
		t.Errorf("expected %q, got %q", exp, hs)
	}
}
