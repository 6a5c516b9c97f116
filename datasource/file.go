package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"

	"pkt.systems/relsdk/internal/pathutil"
)

func openFile(u *url.URL) (fetched, error) {
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		return fetched{}, fmt.Errorf("datasource: file url with remote host %q", u.Host)
	}
	p, err := pathutil.ExpandUserAndEnv(p)
	if err != nil {
		return fetched{}, fmt.Errorf("datasource: expand %q: %w", u.Path, err)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fetched{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return fetched{}, fmt.Errorf("datasource: open %s: %w", p, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fetched{}, fmt.Errorf("datasource: stat %s: %w", p, err)
	}
	if info.IsDir() {
		f.Close()
		return fetched{}, fmt.Errorf("datasource: %s is a directory", p)
	}
	return fetched{body: f, size: info.Size()}, nil
}

func openHTTP(ctx context.Context, u *url.URL, opts Options) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fetched{}, fmt.Errorf("datasource: build request: %w", err)
	}
	resp, err := httpClient(opts).Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("datasource: get %s: %w", redact(u), err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return fetched{}, fmt.Errorf("%w: %s", ErrNotFound, redact(u))
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return fetched{}, fmt.Errorf("datasource: get %s: %s", redact(u), resp.Status)
	}
	return fetched{body: resp.Body, contentType: resp.Header.Get("Content-Type"), size: resp.ContentLength}, nil
}
