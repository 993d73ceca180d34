package broadcast

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
)

// EndpointHeader names the publishing endpoint on relay POSTs.
const EndpointHeader = "X-Broadcast-Endpoint"

// maxMessageSize bounds a single published message. File texts travel as
// message payloads, so this is generous.
const maxMessageSize = 64 << 20

const keepAliveInterval = 15 * time.Second

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Relay exposes Hub channels over HTTP so endpoints in other processes can
// join them.
//
//	GET  /channels/{id}/events?endpoint=<id>   server-sent events, one per message
//	POST /channels/{id}/messages               publish the request body
type Relay struct {
	hub *Hub
	log *zap.Logger
}

// NewRelay creates a relay over hub.
func NewRelay(hub *Hub) *Relay {
	return &Relay{
		hub: hub,
		log: logging.Named("relay"),
	}
}

// Handler returns the relay routes.
func (rl *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /channels/{id}/events", rl.handleEvents)
	mux.HandleFunc("POST /channels/{id}/messages", rl.handlePublish)
	return mux
}

func (rl *Relay) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	channelID := r.PathValue("id")
	endpointID := r.URL.Query().Get("endpoint")
	if endpointID == "" {
		endpointID = uuid.NewString()
	}

	ep := rl.hub.JoinWithID(channelID, endpointID)
	defer ep.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": joined %s\n\n", endpointID)
	flusher.Flush()

	rl.log.Debug("endpoint joined",
		zap.String("channel", channelID),
		zap.String("endpoint", endpointID))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			rl.log.Debug("endpoint left",
				zap.String("channel", channelID),
				zap.String("endpoint", endpointID))
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case data, ok := <-ep.Messages():
			if !ok {
				// Replaced by a newer connection with the same endpoint id.
				return
			}
			writeEvent(w, data)
			flusher.Flush()
		}
	}
}

func (rl *Relay) handlePublish(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		sendError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(data) > maxMessageSize {
		sendError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}
	if len(data) == 0 {
		sendError(w, http.StatusBadRequest, "empty message")
		return
	}

	rl.hub.PublishAs(channelID, r.Header.Get(EndpointHeader), data)
	w.WriteHeader(http.StatusAccepted)
}

// writeEvent frames data as a single SSE message event. Embedded newlines
// become separate data lines, which readers join back with "\n".
func writeEvent(w io.Writer, data []byte) {
	fmt.Fprint(w, "event: message\n")
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error: message,
		Code:  code,
	})
}
