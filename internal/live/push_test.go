package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a Sink that collects payloads.
type recorder struct {
	mu   sync.Mutex
	got  [][]byte
	seen chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 16)}
}

func (r *recorder) sink(raw []byte) error {
	r.mu.Lock()
	r.got = append(r.got, append([]byte(nil), raw...))
	r.mu.Unlock()
	r.seen <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for payload %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got
}

func TestWSClientForwardsTextFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"targets": []}`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"targets": [{"ticker": "AAPL"}]}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	c := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), rec.sink, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Sync(ctx) }()

	got := rec.wait(t, 2)
	if string(got[0]) != `{"targets": []}` {
		t.Errorf("payload[0] = %s", got[0])
	}
	if !strings.Contains(string(got[1]), "AAPL") {
		t.Errorf("payload[1] = %s, want the AAPL frame", got[1])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sync() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
}

func TestWSClientDialFailure(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/none", newRecorder().sink, discardLogger())
	if err := c.Sync(context.Background()); err == nil {
		t.Fatal("Sync() should fail when nothing is listening")
	}
}

// fakeSource is an in-memory PayloadSource.
type fakeSource struct {
	mu      sync.Mutex
	current []byte
	subs    map[int]chan []byte
	next    int
	ready   chan struct{}
}

func newFakeSource(initial string) *fakeSource {
	return &fakeSource{current: []byte(initial), subs: make(map[int]chan []byte), ready: make(chan struct{}, 1)}
}

func (f *fakeSource) Payload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) Subscribe(buf int) (int, <-chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan []byte, buf)
	f.subs[id] = ch
	f.ready <- struct{}{}
	return id, ch
}

func (f *fakeSource) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

func (f *fakeSource) publish(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = []byte(raw)
	for _, ch := range f.subs {
		ch <- []byte(raw)
	}
}

func TestGRPCPushRoundTrip(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	source := newFakeSource(`{"targets": [{"ticker": "AAPL", "price": 190.12, "score": 82}], "logs": []}`)
	NewServer(source, discardLogger()).RegisterGRPC(gs)
	go gs.Serve(lis)
	defer gs.Stop()

	rec := newRecorder()
	c := NewGRPCClient("passthrough:///bufnet", rec.sink, discardLogger(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Sync(ctx) }()

	got := rec.wait(t, 1)
	var first struct {
		Targets []struct {
			Ticker string  `json:"ticker"`
			Price  float64 `json:"price"`
		} `json:"targets"`
	}
	if err := json.Unmarshal(got[0], &first); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(first.Targets) != 1 || first.Targets[0].Ticker != "AAPL" || first.Targets[0].Price != 190.12 {
		t.Errorf("first payload = %s", got[0])
	}

	select {
	case <-source.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server never subscribed")
	}
	source.publish(`{"targets": [], "logs": []}`)
	got = rec.wait(t, 1)
	var second map[string][]any
	if err := json.Unmarshal(got[1], &second); err != nil {
		t.Fatalf("second payload is not JSON: %v", err)
	}
	if targets, ok := second["targets"]; !ok || len(targets) != 0 {
		t.Errorf("second payload = %s, want empty targets", got[1])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sync() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return after cancel")
	}
}
