package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/healthlake-io/ingestlake/internal/ingesterr"
	"github.com/healthlake-io/ingestlake/internal/retry"
)

// s3API is the subset of *s3.Client this adapter depends on, so tests can
// substitute a fake without spinning up real AWS infrastructure.
type s3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Adapter implements Adapter against a versioned S3 bucket. Every call
// waits on a token-bucket rate limiter before hitting the API, then
// retries transient failures with exponential backoff.
type S3Adapter struct {
	client   s3API
	bucket   string
	limiter  *rate.Limiter
	retryCfg retry.Config
}

var _ Adapter = (*S3Adapter)(nil)

// NewS3Adapter builds an S3Adapter from the ambient AWS configuration,
// resolving region and credentials the standard SDK way (env, shared config,
// instance profile) so the engine never hand-rolls credential plumbing.
func NewS3Adapter(ctx context.Context, cfg *Config) (*S3Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ingesterr.New(ingesterr.KindConfiguration, "objectstore.NewS3Adapter", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindConfiguration, "objectstore.NewS3Adapter", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = retryAttempts

	return &S3Adapter{
		client:   s3.NewFromConfig(awsCfg),
		bucket:   cfg.Bucket,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)),
		retryCfg: retryCfg,
	}, nil
}

// List enumerates every object under prefix, following ListObjectsV2
// continuation tokens until the result set is exhausted.
func (a *S3Adapter) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	var out []ObjectMeta

	var continuationToken *string

	for {
		var resp *s3.ListObjectsV2Output

		err := a.call(ctx, func(ctx context.Context) error {
			r, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(a.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuationToken,
			})
			if err != nil {
				return classifyError("objectstore.List", err)
			}

			resp = r

			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range resp.Contents {
			out = append(out, ObjectMeta{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         trimQuotes(aws.ToString(obj.ETag)),
			})
		}

		if !aws.ToBool(resp.IsTruncated) {
			break
		}

		continuationToken = resp.NextContinuationToken
	}

	return out, nil
}

// Head returns metadata for a single object, including its current version
// id so OpenStream can pin a specific version later.
func (a *S3Adapter) Head(ctx context.Context, key string) (ObjectMeta, error) {
	var resp *s3.HeadObjectOutput

	err := a.call(ctx, func(ctx context.Context) error {
		r, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classifyError("objectstore.Head", err)
		}

		resp = r

		return nil
	})
	if err != nil {
		return ObjectMeta{}, err
	}

	return ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		LastModified: aws.ToTime(resp.LastModified),
		ETag:         trimQuotes(aws.ToString(resp.ETag)),
		VersionID:    aws.ToString(resp.VersionId),
	}, nil
}

// OpenStream opens the object's current version for streaming read. The
// version id is pinned via a Head call first so a concurrent overwrite
// between Head and Get can never silently change the bytes read.
func (a *S3Adapter) OpenStream(ctx context.Context, key string) (io.ReadCloser, error) {
	meta, err := a.Head(ctx, key)
	if err != nil {
		return nil, err
	}

	var resp *s3.GetObjectOutput

	err = a.call(ctx, func(ctx context.Context) error {
		r, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket:    aws.String(a.bucket),
			Key:       aws.String(key),
			VersionId: aws.String(meta.VersionID),
		})
		if err != nil {
			return classifyError("objectstore.OpenStream", err)
		}

		resp = r

		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// call paces a request through the rate limiter and retries it with
// exponential backoff while the classified error is transient.
func (a *S3Adapter) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	return retry.Do(ctx, a.retryCfg, fn)
}

// Exists reports whether key is present, treating NotFound as a clean false
// rather than an error.
func (a *S3Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	return false, err
}

// classifyError maps an AWS SDK error into the engine's ingesterr taxonomy:
// throttling and connectivity failures are transient and retryable, missing
// objects and access errors are terminal.
func classifyError(operation string, err error) error {
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return ingesterr.New(ingesterr.KindObjectStoreTerminal, operation, ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return ingesterr.New(ingesterr.KindObjectStoreTerminal, operation, ErrNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return ingesterr.New(ingesterr.KindObjectStoreTerminal, operation, err)
		case "Throttling", "ThrottlingException", "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable":
			return ingesterr.New(ingesterr.KindObjectStoreTransient, operation, err)
		default:
			return ingesterr.New(ingesterr.KindObjectStoreTerminal, operation, err)
		}
	}

	return ingesterr.New(ingesterr.KindObjectStoreTransient, operation, fmt.Errorf("unclassified object store error: %w", err))
}

// trimQuotes strips the surrounding double quotes S3 wraps ETags in.
func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}

	return s
}
