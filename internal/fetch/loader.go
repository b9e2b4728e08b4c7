package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// LoadResult is a downloaded segment payload.
type LoadResult struct {
	Data     []byte
	Duration time.Duration
	Size     int64
}

// Loader downloads the bytes of a segment.
type Loader interface {
	Load(ctx context.Context, seg media.Segment, policy httpclient.RetryPolicy) (*LoadResult, error)
}

// HTTPLoader loads segments over HTTP through the resilient client, and
// from the local filesystem for file:// URLs.
type HTTPLoader struct {
	client *httpclient.Client
}

// NewHTTPLoader creates a loader using client.
func NewHTTPLoader(client *httpclient.Client) *HTTPLoader {
	return &HTTPLoader{client: client}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, seg media.Segment, policy httpclient.RetryPolicy) (*LoadResult, error) {
	u, err := url.Parse(seg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid segment url %q: %w", seg.URL, err)
	}
	if u.Scheme == "file" {
		return loadFile(u.Path, seg.Range)
	}

	byteRange := ""
	if seg.Range != nil {
		byteRange = seg.Range.Header()
	}
	res, err := l.client.Fetch(ctx, seg.URL, byteRange, policy)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Data: res.Body, Duration: res.Duration, Size: res.Size}, nil
}

func loadFile(path string, rng *media.ByteRange) (*LoadResult, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		if rng.Start >= int64(len(data)) {
			return nil, fmt.Errorf("byte range %s outside %s", rng.Header(), path)
		}
		end := min(rng.End+1, int64(len(data)))
		data = data[rng.Start:end]
	}
	return &LoadResult{Data: data, Duration: time.Since(start), Size: int64(len(data))}, nil
}
