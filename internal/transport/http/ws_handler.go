package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"assessment-sync/internal/app"
	"assessment-sync/internal/domain"
)

// WSHandler streams a subject's progress board and accepts progress updates
// over the same socket.
type WSHandler struct {
	service  *app.ProgressService
	auth     *Authenticator
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ProgressService, auth *Authenticator, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		auth:    auth,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and wires the socket to the subject's feed.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subjectId")
	if subjectID == "" {
		http.Error(w, "missing subjectId", http.StatusBadRequest)
		return
	}
	userID, err := h.auth.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if claimed := r.URL.Query().Get("userId"); claimed != "" && claimed != userID {
		http.Error(w, "user mismatch", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel, err := h.service.Subscribe(r.Context(), subjectID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case board, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "board", Payload: board}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "progress":
			var snap domain.ProgressSnapshot
			if err := json.Unmarshal(inbound.Payload, &snap); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid progress payload"}}
				continue
			}
			if snap.SubjectID != subjectID {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "snapshot is for another subject"}}
				continue
			}
			ack, err := h.service.UpdateProgress(r.Context(), userID, snap)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "ack", Payload: ack}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
