package api

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func dialWS(t *testing.T, svc Service) net.Conn {
	t.Helper()
	srv := httptest.NewServer(NewServer(nil, svc))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	if err != nil {
		t.Fatalf("ws.Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readAll collects text messages until the server closes the connection.
func readAll(t *testing.T, conn net.Conn) ([]string, wsutil.ClosedError) {
	t.Helper()
	var msgs []string
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) {
				t.Fatalf("ReadServerText() error = %v; want close frame", err)
			}
			return msgs, closed
		}
		msgs = append(msgs, string(data))
	}
}

func TestWebSocketStreamsImagesThenVideoPath(t *testing.T) {
	svc := &stubService{images: 2, video: "/out/job.mp4"}
	conn := dialWS(t, svc)

	if err := wsutil.WriteClientText(conn, []byte(`{"prompts":{"0":"a delorean"},"max_frames":2,"model_id":"42"}`)); err != nil {
		t.Fatalf("WriteClientText() error = %v", err)
	}

	msgs, closed := readAll(t, conn)
	want := []string{"image", "image", "/out/job.mp4"}
	if strings.Join(msgs, ",") != strings.Join(want, ",") {
		t.Fatalf("messages = %v; want %v", msgs, want)
	}
	if closed.Code != ws.StatusNormalClosure {
		t.Fatalf("close code = %d; want %d", closed.Code, ws.StatusNormalClosure)
	}
	if svc.ran.ModelID != "42" {
		t.Fatalf("model id = %q; want 42", svc.ran.ModelID)
	}
	if _, ok := svc.ran.Args["model_id"]; ok {
		t.Fatal("model_id forwarded as a pipeline argument")
	}
	if svc.ran.Args["max_frames"] != float64(2) {
		t.Fatalf("args = %v", svc.ran.Args)
	}
}

func TestWebSocketNoVideoPath(t *testing.T) {
	conn := dialWS(t, &stubService{images: 1})
	if err := wsutil.WriteClientText(conn, []byte(`{}`)); err != nil {
		t.Fatalf("WriteClientText() error = %v", err)
	}
	msgs, _ := readAll(t, conn)
	if len(msgs) != 1 || msgs[0] != "image" {
		t.Fatalf("messages = %v; want [image]", msgs)
	}
}

func TestWebSocketSkipsFramesWithoutImage(t *testing.T) {
	conn := dialWS(t, &stubService{images: 1, empty: 2, video: "/out/job.mp4"})
	if err := wsutil.WriteClientText(conn, []byte(`{}`)); err != nil {
		t.Fatalf("WriteClientText() error = %v", err)
	}
	msgs, _ := readAll(t, conn)
	want := []string{"image", "/out/job.mp4"}
	if strings.Join(msgs, ",") != strings.Join(want, ",") {
		t.Fatalf("messages = %v; want %v", msgs, want)
	}
}

func TestWebSocketRejectsNonObject(t *testing.T) {
	conn := dialWS(t, &stubService{})
	if err := wsutil.WriteClientText(conn, []byte(`[1,2]`)); err != nil {
		t.Fatalf("WriteClientText() error = %v", err)
	}
	msgs, closed := readAll(t, conn)
	if len(msgs) != 0 || closed.Code != ws.StatusUnsupportedData {
		t.Fatalf("messages = %v, close = %d; want none and %d", msgs, closed.Code, ws.StatusUnsupportedData)
	}
}

func TestWebSocketRunFailureCloses(t *testing.T) {
	conn := dialWS(t, &stubService{runErr: errors.New("pipeline failed")})
	if err := wsutil.WriteClientText(conn, []byte(`{"seed":1}`)); err != nil {
		t.Fatalf("WriteClientText() error = %v", err)
	}
	_, closed := readAll(t, conn)
	if closed.Code != ws.StatusInternalServerError {
		t.Fatalf("close code = %d; want %d", closed.Code, ws.StatusInternalServerError)
	}
}
