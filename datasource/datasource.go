// Package datasource fetches external data for LoadData transactions.
//
// Open accepts local paths, file://, http(s)://, s3://host[:port]/bucket/key
// (any S3-compatible endpoint), aws://bucket/key?region=R and
// azure://account/container/blob URLs. The payload is read into memory up to
// Options.MaxBytes and returned with its inferred content type, ready to be
// sent inline:
//
//	obj, err := datasource.Open(ctx, "s3://minio:9000/data/people.csv", datasource.Options{})
//	if err != nil { ... }
//	_, err = cli.LoadData(ctx, "db", "people", obj.LoadData())
package datasource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"pkt.systems/pslog"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/internal/logutil"
)

// DefaultMaxBytes caps how much data Open reads when Options.MaxBytes is zero.
const DefaultMaxBytes int64 = 64 << 20

const (
	// ContentTypeJSON marks JSON documents.
	ContentTypeJSON = "application/json"
	// ContentTypeCSV marks CSV documents.
	ContentTypeCSV = "text/csv"
)

var (
	// ErrNotFound reports a missing object or file.
	ErrNotFound = errors.New("datasource: object not found")
	// ErrTooLarge reports an object exceeding Options.MaxBytes.
	ErrTooLarge = errors.New("datasource: object exceeds size limit")
	// ErrUnsupportedScheme reports a URL scheme Open cannot read.
	ErrUnsupportedScheme = errors.New("datasource: unsupported scheme")
)

// Options tune Open. The zero value is usable.
type Options struct {
	// MaxBytes caps the payload size. Zero means DefaultMaxBytes.
	MaxBytes int64
	// ContentType overrides inference.
	ContentType string
	// HTTPClient is used for http(s) sources and as transport for object
	// stores. Nil means a client with default transport settings.
	HTTPClient *http.Client
	// Logger receives datasource.open entries.
	Logger pslog.Base

	// S3Credentials replaces the env/file/IAM credentials chain for s3://.
	S3Credentials *credentials.Credentials
	// S3Region is sent to s3:// endpoints that need one.
	S3Region string
	// S3Insecure talks plain HTTP to s3:// endpoints.
	S3Insecure bool

	// AWSEndpoint points aws:// at an S3-compatible endpoint and switches to
	// path-style addressing.
	AWSEndpoint string

	// AzureAccountKey authenticates azure:// with a shared key.
	AzureAccountKey string
	// AzureSASToken authenticates azure:// with a SAS token.
	AzureSASToken string
	// AzureEndpoint overrides https://<account>.blob.core.windows.net.
	AzureEndpoint string
}

// Object is a fetched payload.
type Object struct {
	// URL is the source, with credentials removed.
	URL         string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (o *Object) Size() int64 {
	if o == nil {
		return 0
	}
	return int64(len(o.Data))
}

// LoadData returns the inline LoadData value for o.
func (o *Object) LoadData(key ...string) api.LoadData {
	return api.LoadData{ContentType: o.ContentType, Data: string(o.Data), Key: key}
}

type fetched struct {
	body        io.ReadCloser
	contentType string
	size        int64
}

// Open reads the object named by rawURL.
func Open(ctx context.Context, rawURL string, opts Options) (*Object, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("datasource: empty url")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	logger := logutil.WithSubsystem(opts.Logger, "datasource")

	var (
		src fetched
		err error
		u   *url.URL
	)
	if !strings.Contains(rawURL, "://") {
		u = &url.URL{Scheme: "file", Path: rawURL}
	} else if u, err = url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("datasource: parse %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		src, err = openFile(u)
	case "http", "https":
		src, err = openHTTP(ctx, u, opts)
	case "s3":
		src, err = openS3(ctx, u, opts)
	case "aws":
		src, err = openAWS(ctx, u, opts)
	case "azure":
		src, err = openAzure(ctx, u, opts)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}
	redacted := redact(u)
	if err != nil {
		logger.Warn("datasource.open.error", "url", redacted, "error", err)
		return nil, err
	}
	defer src.body.Close()
	if src.size > opts.MaxBytes {
		return nil, fmt.Errorf("%w: %s is %s, limit %s", ErrTooLarge, redacted,
			humanize.IBytes(uint64(src.size)), humanize.IBytes(uint64(opts.MaxBytes)))
	}
	data, err := io.ReadAll(io.LimitReader(src.body, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("datasource: read %s: %w", redacted, err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, redacted, humanize.IBytes(uint64(opts.MaxBytes)))
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = inferContentType(u.Path, src.contentType, data)
	}
	if contentType == "" {
		return nil, fmt.Errorf("datasource: cannot infer content type of %s", redacted)
	}
	logger.Debug("datasource.open", "url", redacted, "content_type", contentType, "size", humanize.IBytes(uint64(len(data))))
	return &Object{URL: redacted, ContentType: contentType, Data: data}, nil
}

// inferContentType prefers the extension, then store metadata, then the
// first non-blank byte of the payload.
func inferContentType(p, meta string, data []byte) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".jsonl", ".ndjson":
		return ContentTypeJSON
	case ".csv":
		return ContentTypeCSV
	}
	meta = strings.ToLower(strings.TrimSpace(meta))
	switch {
	case strings.HasPrefix(meta, ContentTypeJSON), strings.HasSuffix(strings.SplitN(meta, ";", 2)[0], "+json"):
		return ContentTypeJSON
	case strings.HasPrefix(meta, ContentTypeCSV):
		return ContentTypeCSV
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return ContentTypeJSON
	}
	if bytes.ContainsRune(trimmed, ',') {
		return ContentTypeCSV
	}
	return ""
}

func redact(u *url.URL) string {
	clone := *u
	if clone.User != nil {
		clone.User = url.User(clone.User.Username())
	}
	q := clone.Query()
	for _, k := range []string{"sig", "se", "sv", "token", "secret"} {
		if q.Has(k) {
			q.Set(k, "redacted")
		}
	}
	clone.RawQuery = q.Encode()
	if clone.Scheme == "file" {
		return clone.Path
	}
	return clone.String()
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	return base.Clone()
}

func httpClient(opts Options) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	return &http.Client{Transport: defaultTransport()}
}

// splitObjectPath splits "/bucket/key/with/slashes".
func splitObjectPath(p string) (string, string, error) {
	p = strings.TrimPrefix(p, "/")
	bucket, key, ok := strings.Cut(p, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("datasource: expected /<bucket>/<key>, got %q", "/"+p)
	}
	return bucket, key, nil
}
