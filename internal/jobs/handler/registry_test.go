package handler

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/arcana-labs/jobcore/internal/jobs"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegister_DecodesTypedPayload(t *testing.T) {
	queue := jobs.NewQueue(10)
	store := jobs.NewMemoryStatusStore()
	dispatcher := jobs.NewDispatcher(store, queue, jobs.NewDeduplicator(), nil, zap.NewNop())

	var received emailPayload
	Register(dispatcher, zap.NewNop(), "email", Func[emailPayload](func(ctx context.Context, job *jobs.Job, payload emailPayload) jobs.Result {
		received = payload
		return jobs.Success(nil)
	}))

	h, ok := dispatcher.Resolve("email")
	if !ok {
		t.Fatal("handler not registered")
	}

	job, _ := jobs.New("email", emailPayload{To: "a@b.com", Subject: "hi"})
	result := h.Execute(context.Background(), job)

	if !result.Succeeded() {
		t.Fatalf("Execute() result = %+v, want success", result)
	}
	if received.To != "a@b.com" || received.Subject != "hi" {
		t.Errorf("received payload = %+v, want To=a@b.com Subject=hi", received)
	}
}

func TestRegister_InvalidPayloadIsNonRetryable(t *testing.T) {
	queue := jobs.NewQueue(10)
	store := jobs.NewMemoryStatusStore()
	dispatcher := jobs.NewDispatcher(store, queue, jobs.NewDeduplicator(), nil, zap.NewNop())

	Register(dispatcher, zap.NewNop(), "email", Func[emailPayload](func(ctx context.Context, job *jobs.Job, payload emailPayload) jobs.Result {
		return jobs.Success(nil)
	}))

	h, _ := dispatcher.Resolve("email")
	job, _ := jobs.New("other-type", map[string]string{"unused": "x"})
	job.Payload = []byte("not json")

	result := h.Execute(context.Background(), job)
	if result.Succeeded() {
		t.Fatal("expected failure for malformed payload")
	}
	if result.Retryable() {
		t.Error("malformed payload should not be retryable")
	}
	if result.ErrorType() != "PayloadInvalid" {
		t.Errorf("ErrorType() = %q, want PayloadInvalid", result.ErrorType())
	}
}
