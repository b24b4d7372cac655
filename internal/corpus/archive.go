package corpus

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// DefaultLocation is the lichess monthly archive of rated standard games.
const DefaultLocation = "https://database.lichess.org/standard/lichess_db_standard_rated_{year}-{month}.pgn.zst"

// Location expands the {year} and {month} placeholders of a path or URL
// template.
func Location(template string, year, month int) string {
	r := strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", year),
		"{month}", fmt.Sprintf("%02d", month),
	)
	return r.Replace(template)
}

// Open returns the decompressed PGN stream behind a local path or an
// http(s) URL. Compression is picked from the suffix: .zst, .bz2 or none.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	var raw io.ReadCloser
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		// the archive is already compressed; ask for the bytes as-is.
		req.Header.Set("Accept-Encoding", "identity")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", location, err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("download %s: %s", location, resp.Status)
		}
		raw = resp.Body
	} else {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open corpus: %w", err)
		}
		raw = f
	}

	switch {
	case strings.HasSuffix(location, ".zst"):
		dec, err := zstd.NewReader(raw)
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &stackedReader{Reader: dec, close: func() error {
			dec.Close()
			return raw.Close()
		}}, nil
	case strings.HasSuffix(location, ".bz2"):
		return &stackedReader{Reader: bzip2.NewReader(raw), close: raw.Close}, nil
	default:
		return raw, nil
	}
}

type stackedReader struct {
	io.Reader
	close func() error
}

func (r *stackedReader) Close() error {
	return r.close()
}
