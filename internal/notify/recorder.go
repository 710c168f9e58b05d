package notify

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher for tests. It keeps every intent in
// publication order and can be scripted to fail.
type Recorder struct {
	mu      sync.Mutex
	intents []Intent
	failErr error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records the intent, or returns the scripted error without
// recording anything.
func (r *Recorder) Publish(ctx context.Context, intent Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.intents = append(r.intents, intent)
	return nil
}

// FailWith makes every subsequent Publish return err. Pass nil to
// restore normal recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

// Intents returns a copy of everything recorded so far.
func (r *Recorder) Intents() []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Intent, len(r.intents))
	copy(out, r.intents)
	return out
}

// Kinds returns the recorded intent kinds in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.intents))
	for i, intent := range r.intents {
		out[i] = intent.Kind
	}
	return out
}
