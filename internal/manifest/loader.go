// Package manifest loads HLS playlists and DASH MPDs and normalizes them
// into a media.Manifest.
package manifest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// ErrUnknownFormat is returned for documents that are neither an HLS
// playlist nor a DASH MPD.
var ErrUnknownFormat = errors.New("unknown manifest format")

// Format identifies a manifest flavor.
type Format string

// Manifest formats.
const (
	FormatHLS  Format = "hls"
	FormatDASH Format = "dash"
)

// FetchFunc returns the body of a document.
type FetchFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Loader fetches manifests over HTTP or from the local filesystem and
// parses them.
type Loader struct {
	client  *httpclient.Client
	policy  httpclient.RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRetryPolicy sets the policy used for manifest requests.
func WithRetryPolicy(p httpclient.RetryPolicy) LoaderOption {
	return func(l *Loader) { l.policy = p }
}

// WithTimeout bounds each manifest request.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithClock replaces the wall clock used for live DASH timing.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// NewLoader creates a loader. client may be nil for file-only use.
func NewLoader(client *httpclient.Client, opts ...LoaderOption) *Loader {
	l := &Loader{
		client: client,
		policy: httpclient.DefaultRetryPolicy(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load fetches and parses the manifest at rawURL.
func (l *Loader) Load(ctx context.Context, rawURL string) (*media.Manifest, error) {
	m, _, err := l.LoadFormat(ctx, rawURL)
	return m, err
}

// LoadFormat is Load, also reporting the detected manifest format.
func (l *Loader) LoadFormat(ctx context.Context, rawURL string) (*media.Manifest, Format, error) {
	data, err := l.Fetch(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	format, err := DetectFormat(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", rawURL, err)
	}
	// segments of a local manifest resolve to file:// urls
	if path, ok := localPath(rawURL); ok {
		if abs, err := filepath.Abs(path); err == nil {
			rawURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
		}
	}
	m, err := l.Parse(ctx, rawURL, data)
	return m, format, err
}

// Parse parses an already fetched manifest.
func (l *Loader) Parse(ctx context.Context, rawURL string, data []byte) (*media.Manifest, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rawURL, err)
	}
	start := time.Now()
	var m *media.Manifest
	switch format {
	case FormatHLS:
		m, err = ParseHLS(ctx, l.Fetch, rawURL, data)
	case FormatDASH:
		m, err = ParseDASH(rawURL, data, l.now())
	}
	if err != nil {
		return nil, err
	}
	l.logger.Debug("manifest parsed",
		slog.String("url", rawURL),
		slog.String("format", string(format)),
		slog.Int("periods", len(m.Periods)),
		slog.Bool("live", m.Live),
		slog.Duration("elapsed", time.Since(start)))
	return m, nil
}

// Fetch returns the decompressed body of rawURL.
func (l *Loader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	path, isFile := localPath(rawURL)
	if isFile {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		data = b
	} else {
		if l.client == nil {
			return nil, fmt.Errorf("fetching %s: no http client configured", rawURL)
		}
		if l.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}
		res, err := l.client.Fetch(ctx, rawURL, "", l.policy)
		if err != nil {
			return nil, fmt.Errorf("fetching manifest %s: %w", rawURL, err)
		}
		data = res.Body
	}
	return Decompress(data)
}

// localPath reports whether rawURL designates a local file.
func localPath(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, true
	}
	switch u.Scheme {
	case "http", "https":
		return "", false
	case "file":
		return u.Path, true
	}
	return filepath.Clean(rawURL), true
}

// Decompress detects gzip, bzip2 and xz data by magic bytes and returns
// the decompressed bytes. Other data is returned as is.
func Decompress(data []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(data))
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		bzr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		defer bzr.Close()
		reader = bzr

	case len(header) >= 6 && bytes.Equal(header, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr

	default:
		return data, nil
	}

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing manifest: %w", err)
	}
	return out, nil
}

// DetectFormat tells HLS playlists from DASH MPDs.
func DetectFormat(data []byte) (Format, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	switch {
	case bytes.HasPrefix(trimmed, []byte("#EXTM3U")):
		return FormatHLS, nil
	case bytes.HasPrefix(trimmed, []byte("<")) && bytes.Contains(trimmed, []byte("<MPD")):
		return FormatDASH, nil
	}
	return "", ErrUnknownFormat
}

// resolve resolves ref against base.
func resolve(base, ref string) (string, error) {
	if ref == "" {
		return base, nil
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if r.IsAbs() || base == "" {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
