// Package monitortest has an in-memory monitor for tests
package monitortest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/stephenafamo/janus/monitor"
)

var _ monitor.Monitor = &Recorder{}

// Recorder keeps every captured message and error
type Recorder struct {
	mu       sync.Mutex
	Messages []string
	Errors   []error
	Tags     []map[string]string
}

func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return next
}

func (r *Recorder) StartSpan(ctx context.Context, name string) (context.Context, monitor.Span) {
	return ctx, span{}
}

func (r *Recorder) CaptureMessage(msg string, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

func (r *Recorder) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Tags = append(r.Tags, tags)
}

func (r *Recorder) Recover(ctx context.Context, cause interface{}) {}

func (r *Recorder) Flush(timeout time.Duration) {}

func (r *Recorder) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Errors)
}

type span struct{}

func (span) SetTag(key, value string) {}
func (span) Finish()                  {}
