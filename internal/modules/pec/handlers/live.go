package handlers

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/quasar/internal/modules/pec"
)

// requestReadTimeout bounds how long the client may take to send the
// request frame after connecting.
const requestReadTimeout = 30 * time.Second

// liveMessage is one frame of the live estimation stream.
type liveMessage struct {
	Type      string                 `json:"type"`
	Completed int                    `json:"completed,omitempty"`
	Total     int                    `json:"total,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// HandleEstimateLive handles GET /api/pec/estimate/live. The client opens a
// websocket, sends one request frame in the POST body format, and receives
// progress frames until the closing result frame.
func (h *Handler) HandleEstimateLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "estimation aborted")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var body estimateRequest
	readCtx, cancelRead := context.WithTimeout(ctx, requestReadTimeout)
	err = wsjson.Read(readCtx, conn, &body)
	cancelRead()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read estimation request frame")
		return
	}

	req, err := body.toRequest()
	if err != nil {
		wsjson.Write(ctx, conn, liveMessage{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	// Progress arrives from executor workers; drop updates rather than
	// block them when the stream falls behind.
	progress := make(chan [2]int, 64)
	req.Progress = func(completed, total int) {
		select {
		case progress <- [2]int{completed, total}:
		default:
		}
	}

	type outcome struct {
		result *pec.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h.service.Estimate(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-progress:
			if err := wsjson.Write(ctx, conn, liveMessage{Type: "progress", Completed: p[0], Total: p[1]}); err != nil {
				// Client gone: cancel the run and wait it out.
				cancel()
				<-done
				return
			}
		case out := <-done:
			h.flushProgress(ctx, conn, progress)
			if out.err != nil {
				h.log.Error().Err(out.err).Msg("Live estimation failed")
				wsjson.Write(ctx, conn, liveMessage{Type: "error", Error: out.err.Error()})
				conn.Close(websocket.StatusInternalError, "estimation failed")
				return
			}
			if err := wsjson.Write(ctx, conn, liveMessage{Type: "result", Data: resultPayload(out.result)}); err != nil {
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// flushProgress writes any frames still buffered once the run has finished;
// every progress send happens before the outcome is delivered.
func (h *Handler) flushProgress(ctx context.Context, conn *websocket.Conn, progress <-chan [2]int) {
	for {
		select {
		case p := <-progress:
			if err := wsjson.Write(ctx, conn, liveMessage{Type: "progress", Completed: p[0], Total: p[1]}); err != nil {
				return
			}
		default:
			return
		}
	}
}
