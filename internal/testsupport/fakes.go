package testsupport

import (
	"context"
	"sync"

	"archivist/internal/notifications"
	"archivist/internal/sink"
)

// FakeSink returns scripted results per path. Unscripted paths get Default.
type FakeSink struct {
	mu      sync.Mutex
	scripts map[string][]sink.Result
	calls   map[string]int
	Default sink.Result
}

var _ sink.Sink = (*FakeSink)(nil)

// NewFakeSink returns a sink that archives everything on the first attempt.
func NewFakeSink() *FakeSink {
	return &FakeSink{
		scripts: make(map[string][]sink.Result),
		calls:   make(map[string]int),
		Default: sink.Archived("fake"),
	}
}

// Script queues results for path. The last result repeats once the queue
// is drained.
func (f *FakeSink) Script(path string, results ...sink.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[path] = append(f.scripts[path], results...)
}

// Name implements sink.Sink.
func (f *FakeSink) Name() string { return "fake" }

// Archive implements sink.Sink.
func (f *FakeSink) Archive(ctx context.Context, path string) (sink.Result, error) {
	if err := ctx.Err(); err != nil {
		return sink.Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	queue := f.scripts[path]
	if len(queue) == 0 {
		return f.Default, nil
	}
	result := queue[0]
	if len(queue) > 1 {
		f.scripts[path] = queue[1:]
	}
	return result, nil
}

// Status implements sink.Sink without consuming the script.
func (f *FakeSink) Status(_ context.Context, path string) (sink.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if queue := f.scripts[path]; len(queue) > 0 {
		return queue[0], nil
	}
	return f.Default, nil
}

// Calls returns how many times Archive was invoked for path.
func (f *FakeSink) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// TotalCalls returns the number of Archive invocations.
func (f *FakeSink) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// RecordingNotifier keeps every message it is asked to send.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []notifications.Message
	// Err is returned from every Send after recording the message.
	Err error
}

var _ notifications.Notifier = (*RecordingNotifier)(nil)

// Send implements notifications.Notifier.
func (n *RecordingNotifier) Send(_ context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.Err
}

// Messages returns a copy of the recorded messages.
func (n *RecordingNotifier) Messages() []notifications.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Message(nil), n.messages...)
}

// Subjects returns the subject of every recorded message.
func (n *RecordingNotifier) Subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, msg := range n.messages {
		out = append(out, msg.Subject)
	}
	return out
}
