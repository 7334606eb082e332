package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/healthlake-io/ingestlake/internal/retry"
)

type fakeS3API struct {
	headCalls int
	headErrs  []error
	headResp  *s3.HeadObjectOutput
}

func (f *fakeS3API) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{}, nil
}

func (f *fakeS3API) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	idx := f.headCalls
	f.headCalls++

	if idx < len(f.headErrs) && f.headErrs[idx] != nil {
		return nil, f.headErrs[idx]
	}

	return f.headResp, nil
}

func (f *fakeS3API) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{}, nil
}

func newTestAdapter(client s3API) *S3Adapter {
	return &S3Adapter{
		client:  client,
		bucket:  "landing",
		limiter: rate.NewLimiter(rate.Inf, 1),
		retryCfg: retry.Config{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

func TestS3AdapterHeadRetriesTransientThrottling(t *testing.T) {
	t.Parallel()

	fake := &fakeS3API{
		headErrs: []error{&smithyThrottleError{}},
		headResp: &s3.HeadObjectOutput{ContentLength: aws.Int64(42)},
	}

	adapter := newTestAdapter(fake)

	meta, err := adapter.Head(context.Background(), "landing/a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(42), meta.Size)
	assert.Equal(t, 2, fake.headCalls)
}

func TestS3AdapterHeadStopsOnTerminalNotFound(t *testing.T) {
	t.Parallel()

	fake := &fakeS3API{
		headErrs: []error{&types.NoSuchKey{}},
	}

	adapter := newTestAdapter(fake)

	_, err := adapter.Head(context.Background(), "landing/missing.csv")
	require.Error(t, err)
	assert.Equal(t, 1, fake.headCalls)
}

// smithyThrottleError implements smithy.APIError with a retryable code, so
// classifyError maps it to ingesterr.KindObjectStoreTransient.
type smithyThrottleError struct{}

func (e *smithyThrottleError) Error() string               { return "throttled" }
func (e *smithyThrottleError) ErrorCode() string            { return "Throttling" }
func (e *smithyThrottleError) ErrorMessage() string         { return "throttled" }
func (e *smithyThrottleError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*smithyThrottleError)(nil)
