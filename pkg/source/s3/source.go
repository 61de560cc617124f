package s3

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/golumen/pkg/source"
)

// Source implements source.Source for AWS S3 and S3-compatible storage.
//
// Object keys are exposed as entry paths unchanged; the basename of the
// key becomes the entry name.
type Source struct {
	client     *s3.Client
	bucket     string
	maxEntries int
}

var _ source.Source = (*Source)(nil)

// New creates a new S3 source with the given configuration.
//
// The source uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &source.SourceError{
			Op:     "New",
			Source: source.SourceS3,
			Bucket: cfg.Bucket,
			Err:    err,
		}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &Source{
		client:     client,
		bucket:     cfg.Bucket,
		maxEntries: maxEntries,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set. Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

func (s *Source) Type() source.SourceType { return source.SourceS3 }

// List returns a page of entries with the given prefix.
func (s *Source) List(ctx context.Context, opts source.ListOptions) (*source.ListResult, error) {
	maxEntries := clampMaxEntries(opts.MaxEntries, s.maxEntries)

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(maxEntries)),
	}

	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}

	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, s.wrapError("List", "", err)
	}

	entries := make([]source.Entry, 0, len(output.Contents))
	for _, obj := range output.Contents {
		key := aws.ToString(obj.Key)
		entries = append(entries, source.Entry{
			Path:  key,
			Name:  path.Base(key),
			Size:  aws.ToInt64(obj.Size),
			MTime: aws.ToTime(obj.LastModified),
		})
	}

	result := &source.ListResult{
		Entries:     entries,
		IsTruncated: aws.ToBool(output.IsTruncated),
	}

	if output.NextContinuationToken != nil {
		result.ContinuationToken = *output.NextContinuationToken
	}

	return result, nil
}

// Stat returns the entry for a single object key.
func (s *Source) Stat(ctx context.Context, p string) (*source.Entry, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	}

	output, err := s.client.HeadObject(ctx, input)
	if err != nil {
		return nil, s.wrapError("Stat", p, err)
	}

	return &source.Entry{
		Path:  p,
		Name:  path.Base(p),
		Size:  aws.ToInt64(output.ContentLength),
		MTime: aws.ToTime(output.LastModified),
	}, nil
}

// Close releases any resources held by the source.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (s *Source) Close() error {
	return nil
}

// wrapError converts S3 errors to source errors with appropriate sentinel errors.
func (s *Source) wrapError(op, p string, err error) error {
	wrapped := &source.SourceError{
		Op:     op,
		Source: source.SourceS3,
		Bucket: s.bucket,
		Path:   p,
		Err:    err,
	}

	// Check for specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = source.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = source.ErrBucketNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = source.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = source.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = source.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = source.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = source.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = source.ErrUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		wrapped.Err = source.ErrNotFound
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = source.ErrBucketNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = source.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = source.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = source.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = source.ErrUnavailable
	}

	return wrapped
}

// clampMaxEntries applies defaults and limits to page size values.
func clampMaxEntries(requested, sourceDefault int) int {
	if requested <= 0 {
		requested = sourceDefault
	}
	if requested > MaxAllowedEntries {
		return MaxAllowedEntries
	}
	return requested
}

// resolveRegion applies the fallback default after SDK config loading.
//
// The sdkRegion parameter already incorporates explicit config, environment,
// and profile resolution. Only AWS S3 (no custom endpoint) gets a default;
// S3-compatible stores may not need a region at all.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
