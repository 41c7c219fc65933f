// Package handler provides generic, type-safe job handler registration on
// top of the jobs.Dispatcher's untyped Handler interface.
package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/arcana-labs/jobcore/internal/jobs"
)

// Func is a handler expressed in terms of a concrete payload type T instead
// of the raw json.RawMessage the dispatcher works with.
type Func[T any] func(ctx context.Context, job *jobs.Job, payload T) jobs.Result

// Register unmarshals each job's payload into T before calling fn, and binds
// the wrapped handler into dispatcher under jobType. A payload that fails to
// unmarshal becomes a non-retryable PayloadInvalid failure.
func Register[T any](dispatcher *jobs.Dispatcher, logger *zap.Logger, jobType string, fn Func[T]) {
	var zero T
	dispatcher.RegisterHandler(jobType, jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		var payload T
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return jobs.Failure(fmt.Errorf("unmarshal payload: %w", err), false, "PayloadInvalid")
		}
		return fn(ctx, job, payload)
	}))
	logger.Info("registered job handler", zap.String("jobType", jobType), zap.String("payloadType", fmt.Sprintf("%T", zero)))
}
