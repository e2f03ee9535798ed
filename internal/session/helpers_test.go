package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/rentsession/internal/fakeapi"
	"github.com/dropDatabas3/rentsession/internal/kv"
	"github.com/stretchr/testify/require"
)

// eventLog junta eventos del bus para assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(k EventKind, a Audience) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == k && e.Audience == a {
			n++
		}
	}
	return n
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type harness struct {
	srv    *fakeapi.Server
	sc     *Context
	client *Client
	events *eventLog
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	srv := fakeapi.New()
	t.Cleanup(srv.Close)

	sc := NewContext(NewStore(kv.NewMemory()), NewBus())
	ev := &eventLog{}
	sc.Bus().Subscribe(ev.handle)

	opts.BaseURL = srv.URL
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	c, err := NewClient(sc, opts)
	require.NoError(t, err)
	return &harness{srv: srv, sc: sc, client: c, events: ev}
}

// seed emite tokens reales en el fake y los guarda sin pasar por el bus.
func (h *harness) seed(t *testing.T, a Audience) Credential {
	t.Helper()
	access, refresh := h.srv.Issue(backendAudience(a))
	cred := Credential{Audience: a, AccessToken: access, RefreshToken: refresh}
	h.sc.Store().Set(context.Background(), cred)
	return cred
}

func backendAudience(a Audience) string {
	switch a {
	case AudienceAdmin:
		return fakeapi.Admin
	case AudienceEmployee:
		return fakeapi.Employee
	}
	return fakeapi.User
}
