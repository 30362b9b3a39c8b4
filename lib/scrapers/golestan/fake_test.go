package golestan

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// fakeTransport scripts portal behavior for tests and records every
// request it sees.
type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	handler  func(req Request) (Response, error)
}

func (f *fakeTransport) Exchange(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fakeTransport) recorded() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request{}, f.requests...)
}

func (f *fakeTransport) countPosts(path string) int {
	n := 0
	for _, req := range f.recorded() {
		if req.Method == "POST" && req.Path == path {
			n++
		}
	}
	return n
}

// portalPage renders a minimal portal form page carrying the hidden
// state plus the named controls.
func portalPage(body string, controls ...string) []byte {
	var b bytes.Buffer
	b.WriteString(`<html><body><form method="post">`)
	fmt.Fprintf(&b, `<input type="hidden" name="%s" value="vs-token" />`, fieldViewState)
	fmt.Fprintf(&b, `<input type="hidden" name="%s" value="vsg-token" />`, fieldViewStateGenerator)
	fmt.Fprintf(&b, `<input type="hidden" name="%s" value="ev-token" />`, fieldEventValidation)
	for _, control := range controls {
		fmt.Fprintf(&b, `<input type="text" name="%s" />`, control)
	}
	b.WriteString(body)
	b.WriteString(`</form></body></html>`)
	return b.Bytes()
}

// stubSolver answers with a fixed guess.
type stubSolver struct {
	guess string
	ok    bool
	calls int
}

func (s *stubSolver) Solve(ctx context.Context, image []byte) (string, bool) {
	s.calls++
	return s.guess, s.ok
}

// fastAuthOptions keeps retry sleeps out of test runtime.
func fastAuthOptions() AuthOptions {
	return AuthOptions{RefreshDelay: 1}
}

func fastNavigateOptions() NavigateOptions {
	return NavigateOptions{PollInterval: 1, RetryDelay: 1}
}

func fastExportOptions() ExportOptions {
	return ExportOptions{RetryDelay: 1}
}
