package cloudflare

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// DefaultUserAgent is sent with range list requests if Fetcher.UserAgent is
// empty. The Cloudflare website rejects some non-browser user agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// maxListSize limits the size of a downloaded range list.
const maxListSize = 1 << 20

// DownloadError is returned when a range list could not be downloaded.
type DownloadError struct {
	URL string
	Err error
}

func (err *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", err.URL, err.Err)
}

func (err *DownloadError) Unwrap() error {
	return err.Err
}

// CacheParseError is returned when a cached range list exists but could not be
// parsed.
type CacheParseError struct {
	Path string
	Err  error
}

func (err *CacheParseError) Error() string {
	return fmt.Sprintf("parse cache %s: %v", err.Path, err.Err)
}

func (err *CacheParseError) Unwrap() error {
	return err.Err
}

// ErrNoCache is returned by Fetcher.Fetch in offline mode if there is no usable
// cache.
var ErrNoCache = errors.New("no cached range list")

// Status describes where a Resource came from.
type Status int

const (
	StatusDownloaded  Status = iota // downloaded and written to the cache
	StatusNotModified               // server returned 304, loaded from the cache
	StatusCached                    // loaded from the cache without a request
	StatusStale                     // download failed, loaded from the cache
)

func (s Status) String() string {
	switch s {
	case StatusDownloaded:
		return "downloaded"
	case StatusNotModified:
		return "not_modified"
	case StatusCached:
		return "cached"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Resource is a loaded range list.
type Resource struct {
	Ranges RangeSet
	Path   string
	Status Status

	// CacheErr is set if the cache existed but could not be used.
	CacheErr error

	// DownloadErr is set if Status is StatusStale.
	DownloadErr error
}

// cacheMeta is stored alongside a cached range list.
type cacheMeta struct {
	URL          string    `json:"url"`
	LastModified string    `json:"last_modified,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	Fetched      time.Time `json:"fetched"`
	SHA256       string    `json:"sha256"`
}

// Fetcher downloads range lists, caching them on disk. Only one Fetch should be
// running for a given cache path at a time.
type Fetcher struct {
	// HTTP client to use. If not provided, [net/http.DefaultClient] will be
	// used.
	Client *http.Client

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// Force skips the conditional request headers.
	Force bool

	// Offline only loads the cache.
	Offline bool

	Logger zerolog.Logger
}

// Fetch loads the range list for fam from url, using the cache at path.
//
// If the cache exists and is valid, a conditional request is made, and the
// cache is used if the server reports it as not modified. If the download
// fails and the cache is valid, the cache is used and the download error is
// stored in the resource. Otherwise, a *DownloadError is returned.
func (f *Fetcher) Fetch(ctx context.Context, fam Family, url, path string) (*Resource, error) {
	res := &Resource{
		Path: path,
	}

	cached, meta, err := readCache(fam, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			res.CacheErr = &CacheParseError{path, err}
			f.Logger.Warn().Err(res.CacheErr).Str("path", path).Msg("ignoring invalid cache")
		}
		cached = nil
	}

	if f.Offline {
		if cached == nil {
			if res.CacheErr != nil {
				return res, fmt.Errorf("%w: %v", ErrNoCache, res.CacheErr)
			}
			return res, fmt.Errorf("%w: %s", ErrNoCache, path)
		}
		res.Ranges = RangeSet{fam, url, cached}
		res.Status = StatusCached
		return res, nil
	}

	body, hdr, notModified, err := f.download(ctx, url, cached != nil && !f.Force, meta, path)
	if err == nil && notModified {
		if cached != nil {
			res.Ranges = RangeSet{fam, url, cached}
			res.Status = StatusNotModified
			return res, nil
		}
		err = fmt.Errorf("unexpected not modified response")
	}

	var ps []netip.Prefix
	if err == nil {
		if ps, err = ParseRanges(bytes.NewReader(body), fam); err != nil {
			err = fmt.Errorf("invalid range list: %w", err)
		}
	}
	if err != nil {
		err = &DownloadError{url, err}
		if cached != nil {
			f.Logger.Warn().Err(err).Str("path", path).Msg("using stale cache")
			res.Ranges = RangeSet{fam, url, cached}
			res.Status = StatusStale
			res.DownloadErr = err
			return res, nil
		}
		return res, err
	}

	if err := writeCache(path, body, cacheMeta{
		URL:          url,
		LastModified: hdr.Get("Last-Modified"),
		ETag:         hdr.Get("ETag"),
		Fetched:      time.Now().UTC(),
	}); err != nil {
		f.Logger.Warn().Err(err).Str("path", path).Msg("failed to write cache")
	}

	res.Ranges = RangeSet{fam, url, ps}
	res.Status = StatusDownloaded
	return res, nil
}

func (f *Fetcher) download(ctx context.Context, url string, conditional bool, meta *cacheMeta, path string) (body []byte, hdr http.Header, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, false, err
	}

	if ua := f.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	if conditional {
		if meta != nil && meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta != nil && meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		} else if st, err := os.Stat(path); err == nil {
			req.Header.Set("If-Modified-Since", st.ModTime().UTC().Format(http.TimeFormat))
		}
	}

	cl := f.Client
	if cl == nil {
		cl = http.DefaultClient
	}

	f.Logger.Debug().
		Str("url", url).
		Bool("conditional", conditional).
		Str("if_modified_since", req.Header.Get("If-Modified-Since")).
		Str("if_none_match", req.Header.Get("If-None-Match")).
		Msg("requesting range list")

	resp, err := cl.Do(req)
	if err != nil {
		return nil, nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.Header, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header, false, fmt.Errorf("response status %d (%s)", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, resp.Header, false, fmt.Errorf("decompress response: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	buf, err := io.ReadAll(io.LimitReader(r, maxListSize+1))
	if err != nil {
		return nil, resp.Header, false, fmt.Errorf("read response: %w", err)
	}
	if len(buf) > maxListSize {
		return nil, resp.Header, false, fmt.Errorf("response too large")
	}
	return buf, resp.Header, false, nil
}

func metaPath(path string) string {
	return path + ".json"
}

// readCache reads and parses the cached list at path. The metadata is nil if
// it is missing or doesn't match the list.
func readCache(fam Family, path string) ([]netip.Prefix, *cacheMeta, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	ps, err := ParseRanges(bytes.NewReader(buf), fam)
	if err != nil {
		return nil, nil, err
	}

	var meta *cacheMeta
	if mb, err := os.ReadFile(metaPath(path)); err == nil {
		var m cacheMeta
		if err := json.Unmarshal(mb, &m); err == nil && m.SHA256 == sha256hex(buf) {
			meta = &m
		}
	}
	return ps, meta, nil
}

// writeCache atomically replaces the cached list and metadata at path.
func writeCache(path string, buf []byte, meta cacheMeta) error {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	meta.SHA256 = sha256hex(buf)
	mb, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := writeFileAtomic(path, buf); err != nil {
		return err
	}
	if err := writeFileAtomic(metaPath(path), mb); err != nil {
		return err
	}
	return nil
}

func writeFileAtomic(name string, buf []byte) error {
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(f.Name(), name); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func sha256hex(buf []byte) string {
	h := sha256.Sum256(buf)
	return hex.EncodeToString(h[:])
}
