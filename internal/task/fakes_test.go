package task

import (
	"context"
	"sync"
	"sync/atomic"
)

type fakeSource struct {
	data      any
	fetchErr  error
	formatErr error
	panicMsg  string

	fetches atomic.Int32
}

func (s *fakeSource) Fetch(ctx context.Context) (any, error) {
	s.fetches.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.data, s.fetchErr
}

func (s *fakeSource) Format(data any) (string, string, error) {
	if s.formatErr != nil {
		return "", "", s.formatErr
	}
	return "title", "body: " + data.(string), nil
}

type message struct {
	title string
	body  string
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	panic bool
	sent  []message
}

func (n *fakeNotifier) Send(ctx context.Context, title, body string) error {
	if n.panic {
		panic("boom")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, message{title: title, body: body})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
