package notify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}
}

func TestSendPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string
	var receivedTitle string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			receivedTitle = r.Header.Get("Title")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return respond(http.StatusOK), nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/deforum", "runpresets finished", "3 ok, 0 failed"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/deforum"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedTitle, "runpresets finished"; got != want {
		t.Fatalf("title = %q; want %q", got, want)
	}
	if got, want := receivedBody, "3 ok, 0 failed"; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorOnNon2xx(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return respond(http.StatusBadGateway), nil
		}),
	}
	if err := Send(context.Background(), client, "http://example.com/deforum", "", "x"); err == nil {
		t.Fatal("Send() = nil; want status error")
	}
}

func TestNotifierLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return respond(http.StatusInternalServerError), nil
		}),
	}

	New(logger, client, "http://example.com/deforum").Notify(context.Background(), "t", "m")
	if !strings.Contains(buf.String(), "notification failed") {
		t.Fatalf("failure not logged: %q", buf.String())
	}
}

func TestNotifierDisabled(t *testing.T) {
	called := false
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			called = true
			return respond(http.StatusOK), nil
		}),
	}

	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), "t", "m")
	n := New(nil, client, "  ")
	if n.Enabled() {
		t.Fatal("Enabled() = true for blank endpoint")
	}
	n.Notify(context.Background(), "t", "m")
	if called {
		t.Fatal("disabled notifier sent a request")
	}
}
