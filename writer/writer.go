// Package writer writes decoded tracking records to DynamoDB in batches.
package writer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/time/rate"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/itemimage"
)

// MaxBatchSize is the BatchWriteItem request limit.
const MaxBatchSize = 25

// Writer writes batches of operations.
type Writer interface {
	WriteBatch(ctx context.Context, ops []itemimage.Operation) error
	Flush(ctx context.Context) error
}

// Option configures a DynamoDBWriter.
type Option func(*DynamoDBWriter)

// WithLimiter caps write throughput. Each put consumes one token.
func WithLimiter(l *rate.Limiter) Option {
	return func(w *DynamoDBWriter) { w.limiter = l }
}

// WithThrottleHook registers fn to be called on every throttled attempt.
func WithThrottleHook(fn func()) Option {
	return func(w *DynamoDBWriter) { w.onThrottle = fn }
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(w *DynamoDBWriter) { w.baseDelay = d }
}

// DynamoDBWriter batches puts and retries with exponential backoff.
type DynamoDBWriter struct {
	client     aws.DynamoDBClient
	tableName  string
	batchSize  int // Maximum number of operations per batch (<=25)
	limiter    *rate.Limiter
	onThrottle func()
	baseDelay  time.Duration
}

// NewDynamoDBWriter creates a writer. batchSize is clamped to 1..25.
func NewDynamoDBWriter(client aws.DynamoDBClient, tableName string, batchSize int, opts ...Option) *DynamoDBWriter {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	w := &DynamoDBWriter{
		client:    client,
		tableName: tableName,
		batchSize: batchSize,
		baseDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// isThrottlingError reports whether DynamoDB rejected the request for capacity.
// ProvisionedThroughputExceededException and RequestLimitExceeded both clear
// once capacity refills, so they are retried until the context ends.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func (w *DynamoDBWriter) backoffWait(ctx context.Context, attempt int) bool {
	maxDelay := 30 * time.Second

	delay := w.baseDelay * time.Duration(1<<uint(min(attempt, 16)))
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay)))
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// wait takes n tokens from the limiter, in chunks no larger than its burst.
func (w *DynamoDBWriter) wait(ctx context.Context, n int) error {
	if w.limiter == nil {
		return nil
	}
	burst := max(w.limiter.Burst(), 1)
	for n > 0 {
		k := min(n, burst)
		if err := w.limiter.WaitN(ctx, k); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		n -= k
	}
	return nil
}

func (w *DynamoDBWriter) throttled() {
	if w.onThrottle != nil {
		w.onThrottle()
	}
}

// WriteBatch splits ops into BatchWriteItem calls of at most batchSize puts.
// A docId repeated inside one call keeps its last occurrence, since
// DynamoDB rejects duplicate keys in a single request.
func (w *DynamoDBWriter) WriteBatch(ctx context.Context, ops []itemimage.Operation) error {
	for i := 0; i < len(ops); i += w.batchSize {
		end := min(i+w.batchSize, len(ops))
		requests := dedupe(ops[i:end])

		if err := w.wait(ctx, len(requests)); err != nil {
			return err
		}
		if err := w.write(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(batch []itemimage.Operation) []types.WriteRequest {
	index := make(map[string]int, len(batch))
	requests := make([]types.WriteRequest, 0, len(batch))
	for _, op := range batch {
		req := types.WriteRequest{PutRequest: &types.PutRequest{Item: op.Item}}
		if at, seen := index[op.DocID]; seen {
			requests[at] = req
			continue
		}
		index[op.DocID] = len(requests)
		requests = append(requests, req)
	}
	return requests
}

func (w *DynamoDBWriter) write(ctx context.Context, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			w.tableName: requests,
		},
	}

	// Throttling errors retry until the context is cancelled.
	// Other errors fail after maxRetries attempts.
	const maxRetries = 5
	attempt := 0
	for {
		output, err := w.client.BatchWriteItem(ctx, input)
		if err != nil {
			if isThrottlingError(err) {
				w.throttled()
				if !w.backoffWait(ctx, attempt) {
					return ctx.Err()
				}
				attempt++
				continue
			}
			if attempt < maxRetries {
				if !w.backoffWait(ctx, attempt) {
					return ctx.Err()
				}
				attempt++
				continue
			}
			return fmt.Errorf("failed to write batch after %d retries: %w", maxRetries, err)
		}

		// Unprocessed items mean partial throttling
		if len(output.UnprocessedItems) > 0 {
			w.throttled()
			input.RequestItems = output.UnprocessedItems
			if !w.backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		return nil
	}
}

// Flush is a no-op since batches are written immediately.
func (w *DynamoDBWriter) Flush(ctx context.Context) error {
	return nil
}
