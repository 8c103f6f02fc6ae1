package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/dgnsrekt/deforum_launcher/internal/runs"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsHandler accepts one JSON object of pipeline arguments, runs the pipeline
// while sending the text "image" per frame that carries an image, then sends the video
// path (when there is one) and closes. The optional "pipeline" and
// "model_id" keys select the run and are not forwarded as arguments.
func wsHandler(logger *slog.Logger, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		msg, err := wsutil.ReadClientText(conn)
		if err != nil {
			logger.Warn("websocket read failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		var data map[string]any
		if err := json.Unmarshal(msg, &data); err != nil || data == nil {
			logger.Warn("websocket payload is not a JSON object", "remote", r.RemoteAddr, "error", err)
			closeWith(logger, conn, ws.StatusUnsupportedData, "expected a JSON object")
			return
		}
		in := runs.StartInput{Args: data}
		if v, ok := data["pipeline"].(string); ok {
			in.Pipeline = v
			delete(data, "pipeline")
		}
		if v, ok := data["model_id"].(string); ok {
			in.ModelID = v
			delete(data, "model_id")
		}

		var mu sync.Mutex
		send := func(text string) {
			mu.Lock()
			defer mu.Unlock()
			if err := wsutil.WriteServerText(conn, []byte(text)); err != nil {
				logger.Debug("websocket write failed", "error", err)
			}
		}

		rec, err := svc.Run(r.Context(), in, func(evt pipeline.ImageEvent) {
			logger.Info("deforum callback", "frame", evt.Frame)
			if evt.Image == "" && evt.Path == "" {
				return
			}
			send("image")
		})
		if err != nil {
			logger.Error("websocket run failed", "run_id", rec.ID, "error", err)
			closeWith(logger, conn, ws.StatusInternalServerError, "pipeline run failed")
			return
		}
		if rec.VideoPath != "" {
			send(rec.VideoPath)
		}
		closeWith(logger, conn, ws.StatusNormalClosure, "")
	}
}

func closeWith(logger *slog.Logger, conn io.Writer, code ws.StatusCode, reason string) {
	body := ws.NewCloseFrameBody(code, reason)
	if err := wsutil.WriteServerMessage(conn, ws.OpClose, body); err != nil {
		logger.Debug("websocket close failed", "error", err)
	}
}
