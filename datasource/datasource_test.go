package datasource

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "people.csv")
	if err := os.WriteFile(p, []byte("name,age\nada,36\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx := context.Background()
	for _, raw := range []string{p, "file://" + p} {
		obj, err := Open(ctx, raw, Options{})
		if err != nil {
			t.Fatalf("open %s: %v", raw, err)
		}
		if obj.ContentType != ContentTypeCSV || obj.Size() != 16 {
			t.Fatalf("unexpected object %+v", obj)
		}
		ld := obj.LoadData("name")
		if ld.Data != "name,age\nada,36\n" || ld.ContentType != ContentTypeCSV || len(ld.Key) != 1 {
			t.Fatalf("unexpected load data %+v", ld)
		}
	}
	if _, err := Open(ctx, filepath.Join(dir, "missing.json"), Options{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Open(ctx, p, Options{MaxBytes: 4}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := Open(ctx, "gopher://host/x", Options{}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestOpenHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"a":1}`))
		case "/stream":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.(http.Flusher).Flush()
			_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	obj, err := Open(ctx, srv.URL+"/doc", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if obj.ContentType != ContentTypeJSON || string(obj.Data) != `{"a":1}` {
		t.Fatalf("unexpected object %+v", obj)
	}
	if _, err := Open(ctx, srv.URL+"/nope", Options{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Open(ctx, srv.URL+"/stream", Options{MaxBytes: 10}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge for streamed body, got %v", err)
	}
	if _, err := Open(ctx, srv.URL+"/stream", Options{}); err == nil || !strings.Contains(err.Error(), "content type") {
		t.Fatalf("expected content type error, got %v", err)
	}
}

func setupFakeS3(t *testing.T) (endpoint string, bucket string) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	t.Cleanup(server.Close)
	bucket = "relsdk-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	endpoint = strings.TrimPrefix(server.URL, "http://")
	seed, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4("test", "test", ""),
		Secure:       false,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	put := func(key, contentType, body string) {
		_, err := seed.PutObject(context.Background(), bucket, key, strings.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	put("data/people.csv", "text/csv", "name,age\nada,36\n")
	put("data/blob", "application/json", `[1,2,3]`)
	return endpoint, bucket
}

func TestOpenS3(t *testing.T) {
	endpoint, bucket := setupFakeS3(t)
	ctx := context.Background()
	opts := Options{S3Credentials: credentials.NewStaticV4("test", "test", ""), S3Region: "us-east-1"}

	obj, err := Open(ctx, "s3://"+endpoint+"/"+bucket+"/data/people.csv?insecure=true", opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if obj.ContentType != ContentTypeCSV || string(obj.Data) != "name,age\nada,36\n" {
		t.Fatalf("unexpected object %+v", obj)
	}
	obj, err = Open(ctx, "s3://"+endpoint+"/"+bucket+"/data/blob?insecure=true", opts)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	if obj.ContentType != ContentTypeJSON {
		t.Fatalf("expected metadata content type, got %q", obj.ContentType)
	}
	if _, err := Open(ctx, "s3://"+endpoint+"/"+bucket+"/data/missing.csv?insecure=true", opts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Open(ctx, "s3://"+endpoint+"/"+bucket, opts); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestOpenAWS(t *testing.T) {
	endpoint, bucket := setupFakeS3(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	ctx := context.Background()
	opts := Options{AWSEndpoint: "http://" + endpoint}

	obj, err := Open(ctx, "aws://"+bucket+"/data/people.csv?region=us-east-1", opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(obj.Data) != "name,age\nada,36\n" {
		t.Fatalf("unexpected data %q", obj.Data)
	}
	if _, err := Open(ctx, "aws://"+bucket+"/data/missing.csv?region=us-east-1", opts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenAzureValidation(t *testing.T) {
	u, _ := url.Parse("azure://acct/container/dir/blob.json")
	loc, err := parseAzure(u)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.account != "acct" || loc.container != "container" || loc.blob != "dir/blob.json" {
		t.Fatalf("unexpected location %+v", loc)
	}
	if _, err := Open(context.Background(), "azure://acct/container/blob.json", Options{}); err == nil || !strings.Contains(err.Error(), "SAS") {
		t.Fatalf("expected credential error, got %v", err)
	}
	if _, err := Open(context.Background(), "azure://acct/container", Options{AzureSASToken: "sv=1"}); err == nil {
		t.Fatal("expected path error")
	}
}

func TestInferContentType(t *testing.T) {
	cases := []struct {
		path, meta, data, want string
	}{
		{"a.json", "", "", ContentTypeJSON},
		{"a.CSV", "", "", ContentTypeCSV},
		{"a", "application/vnd.api+json", "", ContentTypeJSON},
		{"a", "text/csv; header=present", "", ContentTypeCSV},
		{"a", "", "  {\"x\":1}", ContentTypeJSON},
		{"a", "", "x,y\n1,2", ContentTypeCSV},
		{"a", "", "plain", ""},
	}
	for _, tc := range cases {
		if got := inferContentType(tc.path, tc.meta, []byte(tc.data)); got != tc.want {
			t.Fatalf("infer(%q,%q,%q) = %q, want %q", tc.path, tc.meta, tc.data, got, tc.want)
		}
	}
}

func TestRedact(t *testing.T) {
	u, _ := url.Parse("https://user:pw@host/x?sig=abc&keep=1")
	got := redact(u)
	if strings.Contains(got, "pw") || strings.Contains(got, "abc") || !strings.Contains(got, "keep=1") {
		t.Fatalf("unexpected redaction %q", got)
	}
}
