package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/mrlokans/circulation/internal/monitor"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	return p.err
}

type fakeMonitor struct {
	mu    sync.Mutex
	state monitor.State
	stats monitor.Stats
}

func (m *fakeMonitor) State() monitor.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMonitor) Stats() monitor.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *fakeMonitor) RunID() string {
	return "run-test"
}

func httptestRequest(handler http.Handler, method, url string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	handler.ServeHTTP(w, req)
	return w
}
