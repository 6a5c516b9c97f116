package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// openS3 reads s3://host[:port]/bucket/key from any S3-compatible store.
// Query parameters region and insecure override the matching Options.
func openS3(ctx context.Context, u *url.URL, opts Options) (fetched, error) {
	if u.Host == "" {
		return fetched{}, fmt.Errorf("datasource: s3 url needs an endpoint host")
	}
	bucket, key, err := splitObjectPath(u.Path)
	if err != nil {
		return fetched{}, err
	}
	q := u.Query()
	region := opts.S3Region
	if v := q.Get("region"); v != "" {
		region = v
	}
	insecure := opts.S3Insecure
	if v := q.Get("insecure"); v != "" {
		if insecure, err = strconv.ParseBool(v); err != nil {
			return fetched{}, fmt.Errorf("datasource: insecure=%q: %w", v, err)
		}
	}
	creds := opts.S3Credentials
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	var transport http.RoundTripper = defaultTransport()
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		transport = opts.HTTPClient.Transport
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:        creds,
		Secure:       !insecure,
		Region:       region,
		Transport:    transport,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return fetched{}, fmt.Errorf("datasource: s3 client: %w", err)
	}
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fetched{}, s3Error(bucket, key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return fetched{}, s3Error(bucket, key, err)
	}
	return fetched{body: obj, contentType: info.ContentType, size: info.Size}, nil
}

func s3Error(bucket, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%w: s3 %s/%s", ErrNotFound, bucket, key)
	}
	return fmt.Errorf("datasource: s3 get %s/%s: %w", bucket, key, err)
}
