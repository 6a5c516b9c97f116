package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
)

// openAWS reads aws://bucket/key through the AWS SDK default credential
// chain. The region query parameter is required unless the environment
// supplies one.
func openAWS(ctx context.Context, u *url.URL, opts Options) (fetched, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return fetched{}, fmt.Errorf("datasource: expected aws://<bucket>/<key>, got %q", redact(u))
	}
	q := u.Query()
	endpoint := opts.AWSEndpoint
	if v := q.Get("endpoint"); v != "" {
		endpoint = v
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient(opts)),
	}
	if region := q.Get("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fetched{}, fmt.Errorf("datasource: aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return fetched{}, fmt.Errorf("datasource: aws region is required")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		if endpoint != "" {
			if !strings.Contains(endpoint, "://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fetched{}, awsError(bucket, key, err)
	}
	return fetched{body: out.Body, contentType: aws.ToString(out.ContentType), size: aws.ToInt64(out.ContentLength)}, nil
}

func awsError(bucket, key string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: aws %s/%s", ErrNotFound, bucket, key)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: aws %s/%s", ErrNotFound, bucket, key)
		}
		return fmt.Errorf("datasource: aws get %s/%s: %s: %w", bucket, key, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("datasource: aws get %s/%s: %w", bucket, key, err)
}
