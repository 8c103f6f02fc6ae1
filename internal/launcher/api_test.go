package launcher

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestDispatchAPIServesUntilCancelled(t *testing.T) {
	f := newFixture(t)
	ready := make(chan net.Addr, 1)
	f.d.env.Ready = func(addr net.Addr) { ready <- addr }
	f.d.env.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- f.d.Dispatch(ctx, Invocation{Mode: ModeAPI, Options: mustOptions(t, "modelid=777")})
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Dispatch() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("api did not start listening")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("GET /health = %d %s", resp.StatusCode, body)
	}

	resp, err = http.Post("http://"+addr.String()+"/api/v1/runs", "application/json", strings.NewReader(`{"args":{"seed":1}}`))
	if err != nil {
		t.Fatalf("POST /api/v1/runs error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/v1/runs status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("api did not stop after cancel")
	}

	f.runner.mu.Lock()
	defer f.runner.mu.Unlock()
	if len(f.runner.reqs) != 1 || f.runner.reqs[0].ModelID != "777" {
		t.Fatalf("runner requests = %+v; want one run with model 777", f.runner.reqs)
	}
}
