package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coderoom/internal/exec"
	"coderoom/internal/metrics"
	"coderoom/internal/models"
	"coderoom/internal/session"
	"coderoom/internal/utils"
)

// runner is the remote code-execution dependency (swapped out in tests).
type runner interface {
	Compile(ctx context.Context, req models.CompileRequest) (json.RawMessage, error)
}

type Handlers struct {
	log        *utils.Logger
	coord      *session.Coordinator
	runner     runner
	authSecret []byte
}

func NewHandlers(log *utils.Logger, coord *session.Coordinator, runner runner, authSecret []byte) *Handlers {
	return &Handlers{
		log:        log,
		coord:      coord,
		runner:     runner,
		authSecret: authSecret,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) ListLanguages(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSON(w, http.StatusOK, exec.Languages())
}

// NewRoomID mints an opaque room token for clients that want one generated
// server-side. Room IDs remain caller-supplied and are never validated.
func (h *Handlers) NewRoomID(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSON(w, http.StatusOK, models.RoomIDResponse{RoomID: uuid.New().String()})
}

// MintToken issues a signed room access token. Only available when the
// server runs with an auth secret.
func (h *Handlers) MintToken(w http.ResponseWriter, r *http.Request) {
	if len(h.authSecret) == 0 {
		http.Error(w, "token auth disabled", http.StatusNotFound)
		return
	}
	var req models.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := utils.GenerateRoomToken(req.RoomID, req.Username, h.authSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Compile forwards the payload to the remote execution service and relays
// the raw response. Failures become one generic message; never retried,
// never fatal to any session.
func (h *Handlers) Compile(w http.ResponseWriter, r *http.Request) {
	var req models.CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	raw, err := h.runner.Compile(r.Context(), req)
	if err != nil {
		metrics.ExecRequests.WithLabelValues("error").Inc()
		h.log.Error("compile failed", "language", req.Language, "error", err.Error())
		utils.WriteJSON(w, http.StatusInternalServerError, models.CompileError{Error: "failed to compile code"})
		return
	}
	metrics.ExecRequests.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

/*** Session WebSocket: join / code-change / code-sync relay ***/

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Handlers) SessionWS(w http.ResponseWriter, r *http.Request) {
	if len(h.authSecret) > 0 {
		if _, err := utils.ValidateRoomToken(r.URL.Query().Get("token"), h.authSecret); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := session.NewClient(uuid.New().String(), conn)
	metrics.ConnectionsActive.Inc()
	defer func() {
		h.coord.Disconnect(client)
		metrics.ConnectionsActive.Dec()
		metrics.RoomsActive.Set(float64(h.coord.Hub().Count()))
	}()

	for {
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case models.EventJoin:
			var req models.JoinRequest
			decode(frame.Data, &req)
			if req.RoomID == "" {
				client.Send(errFrame("missing_room"))
				continue
			}
			h.coord.Join(client, req.RoomID, req.Username)
			metrics.RoomsActive.Set(float64(h.coord.Hub().Count()))
			metrics.FramesRelayed.WithLabelValues(models.EventJoined).Inc()

		case models.EventCodeChange:
			var cc models.CodeChange
			decode(frame.Data, &cc)
			if err := h.coord.Change(cc.RoomID, cc.Code, client); err != nil {
				h.log.Warn("change for unknown room", "room", cc.RoomID, "conn", client.ID)
				continue
			}
			metrics.FramesRelayed.WithLabelValues(models.EventCodeChange).Inc()

		case models.EventCodeSync:
			var cs models.CodeSync
			decode(frame.Data, &cs)
			h.coord.SyncTo(cs.SocketID, cs.Code)
			metrics.FramesRelayed.WithLabelValues(models.EventCodeSync).Inc()

		default:
			client.Send(errFrame("unknown_type"))
		}
	}
}

func decode(in any, out any) { b, _ := json.Marshal(in); _ = json.Unmarshal(b, out) }

func errFrame(msg string) models.WSFrame { return models.WSFrame{Type: models.EventError, Data: msg} }
