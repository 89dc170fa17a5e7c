package test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"opbridge/bridge"
	"opbridge/codec"
	berr "opbridge/errors"
	"opbridge/executor"
	"opbridge/middleware"
	"opbridge/normalize"
	"opbridge/transport"
)

// Canvas is the test-side host object graph: named nodes with an opacity,
// mutated one operation at a time.
type Canvas struct {
	mu      sync.Mutex
	opacity map[string]float64
	log     []string // Operation order, for the sequencing check
}

func NewCanvas() *Canvas {
	return &Canvas{opacity: make(map[string]float64)}
}

type SetOpacityArgs struct {
	ID      string  `json:"id"`
	Opacity float64 `json:"opacity"`
}

type SetOpacityReply struct {
	ID string `json:"id"`
}

func (c *Canvas) SetOpacity(args *SetOpacityArgs, reply *SetOpacityReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if args.ID == "" {
		return errors.New("node id must not be empty")
	}
	c.opacity[args.ID] = args.Opacity
	c.log = append(c.log, args.ID)
	reply.ID = args.ID
	return nil
}

type GetOpacityArgs struct {
	ID string `json:"id"`
}

type GetOpacityReply struct {
	Opacity float64 `json:"opacity"`
}

func (c *Canvas) GetOpacity(args *GetOpacityArgs, reply *GetOpacityReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.opacity[args.ID]
	if !ok {
		return errors.New("node " + args.ID + " not found")
	}
	reply.Opacity = v
	return nil
}

// freeAddr reserves a loopback port and releases it for the executor to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startExecutor(t *testing.T, canvas *Canvas, mws ...middleware.Middleware) string {
	t.Helper()
	exec := executor.New(nil)
	if err := exec.Register(canvas); err != nil {
		t.Fatal(err)
	}
	for _, mw := range mws {
		exec.Use(mw)
	}

	addr := freeAddr(t)
	go func() {
		if err := exec.Serve("tcp", addr, addr, "test", nil); err != nil {
			t.Errorf("executor serve: %v", err)
		}
	}()
	t.Cleanup(func() { exec.Shutdown(2 * time.Second) })
	return addr
}

func connectBridge(t *testing.T, addr string, ct codec.CodecType) *bridge.Bridge {
	t.Helper()
	ch := transport.NewTCPChannel(addr, nil)
	b := bridge.New(ch, ct, nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := ch.Connect(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("could not connect to executor within 2s")
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() { ch.Close() })
	return b
}

func TestEndToEndSingleCall(t *testing.T) {
	addr := startExecutor(t, NewCanvas())
	b := connectBridge(t, addr, codec.CodecTypeJSON)

	result, err := b.Invoke(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": "n1", "opacity": 0.5},
		bridge.Options{BulkKeys: normalize.NewKeySet("id", "opacity"), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	raw := result.(json.RawMessage)
	var reply SetOpacityReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.ID != "n1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestEndToEndBulkOrdering(t *testing.T) {
	canvas := NewCanvas()
	addr := startExecutor(t, canvas)
	b := connectBridge(t, addr, codec.CodecTypeJSON)

	ids := []any{"n1", "n2", "n3", "n4", "n5"}
	result, err := b.Invoke(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": ids, "opacity": []any{0.2, 0.8}},
		bridge.Options{BulkKeys: normalize.NewKeySet("id", "opacity"), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	summary, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		TotalItems   int `json:"totalItems"`
		SuccessCount int `json:"successCount"`
	}
	if err := json.Unmarshal(summary, &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalItems != 5 || got.SuccessCount != 5 {
		t.Fatalf("summary: %s", summary)
	}

	// The executor saw the items in index order
	canvas.mu.Lock()
	order := strings.Join(canvas.log, ",")
	cycled := canvas.opacity["n3"]
	canvas.mu.Unlock()
	if order != "n1,n2,n3,n4,n5" {
		t.Fatalf("operation order: %s", order)
	}
	if cycled != 0.2 {
		t.Fatalf("opacity array should cycle: n3 got %v", cycled)
	}
}

func TestEndToEndRemoteErrorAndFailFast(t *testing.T) {
	canvas := NewCanvas()
	addr := startExecutor(t, canvas)
	b := connectBridge(t, addr, codec.CodecTypeJSON)

	// "" fails inside the operation; with fail-fast the third id is never set
	_, err := b.Invoke(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": []any{"n1", "", "n3"}, "opacity": 1.0},
		bridge.Options{BulkKeys: normalize.NewKeySet("id"), FailFast: true, Timeout: 2 * time.Second})
	if err == nil {
		t.Fatal("expect fail-fast error")
	}
	var remote *berr.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect RemoteError, got %v", err)
	}
	if remote.Message != "node id must not be empty" {
		t.Fatalf("executor message not carried verbatim: %q", remote.Message)
	}

	canvas.mu.Lock()
	_, n3set := canvas.opacity["n3"]
	canvas.mu.Unlock()
	if n3set {
		t.Fatal("fail-fast dispatched the item after the failure")
	}
}

func TestEndToEndUnknownKind(t *testing.T) {
	addr := startExecutor(t, NewCanvas())
	b := connectBridge(t, addr, codec.CodecTypeJSON)

	_, err := b.Call(context.Background(), "Canvas.NoSuchOp", nil, 2*time.Second)
	var remote *berr.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect RemoteError for unknown kind, got %v", err)
	}
}

func TestEndToEndBinaryCodec(t *testing.T) {
	addr := startExecutor(t, NewCanvas())
	b := connectBridge(t, addr, codec.CodecTypeBinary)

	result, err := b.Invoke(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": "bin-1", "opacity": 0.9},
		bridge.Options{BulkKeys: normalize.NewKeySet("id"), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	var reply SetOpacityReply
	if err := json.Unmarshal(result.(json.RawMessage), &reply); err != nil {
		t.Fatal(err)
	}
	if reply.ID != "bin-1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestEndToEndWithMiddleware(t *testing.T) {
	addr := startExecutor(t, NewCanvas(),
		middleware.Logging(nil),
		middleware.Timeout(2*time.Second))
	b := connectBridge(t, addr, codec.CodecTypeJSON)

	if _, err := b.Call(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": "mw-1", "opacity": 0.1}, 2*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestEndToEndWebsocket(t *testing.T) {
	exec := executor.New(nil)
	if err := exec.Register(NewCanvas()); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exec.WSHandler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch := transport.NewWSChannel(url, nil)
	b := bridge.New(ch, codec.CodecTypeJSON, nil)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	result, err := b.Invoke(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": []any{"w1", "w2"}, "opacity": 0.3},
		bridge.Options{BulkKeys: normalize.NewKeySet("id"), Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		SuccessCount int `json:"successCount"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.SuccessCount != 2 {
		t.Fatalf("summary: %s", raw)
	}
}

func TestEndToEndConcurrentDirectCalls(t *testing.T) {
	canvas := NewCanvas()
	addr := startExecutor(t, canvas)
	b := connectBridge(t, addr, codec.CodecTypeJSON)

	if _, err := b.Call(context.Background(), "Canvas.SetOpacity",
		map[string]any{"id": "shared", "opacity": 0.5}, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			raw, err := b.Call(context.Background(), "Canvas.GetOpacity",
				map[string]any{"id": "shared"}, 2*time.Second)
			if err != nil {
				errs[idx] = err
				return
			}
			var reply GetOpacityReply
			if err := json.Unmarshal(raw, &reply); err != nil {
				errs[idx] = err
				return
			}
			if reply.Opacity != 0.5 {
				errs[idx] = errors.New("wrong opacity")
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
