package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"coderoom/internal/models"
	"coderoom/internal/session"
	"coderoom/internal/utils"
)

type mockRunner struct {
	compileFn func(context.Context, models.CompileRequest) (json.RawMessage, error)
}

func (m *mockRunner) Compile(ctx context.Context, req models.CompileRequest) (json.RawMessage, error) {
	if m.compileFn != nil {
		return m.compileFn(ctx, req)
	}
	return json.RawMessage(`{}`), nil
}

func newTestHandlers(r runner, secret []byte) *Handlers {
	logger := utils.NewLogger()
	coord := session.NewCoordinator(logger, session.NewRegistry(), session.NewHub())
	return NewHandlers(logger, coord, r, secret)
}

func newTestServer(t *testing.T, h *Handlers) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/api/v1/healthz", h.Health)
	router.Get("/api/v1/languages", h.ListLanguages)
	router.Get("/api/v1/rooms/new", h.NewRoomID)
	router.Post("/api/v1/token", h.MintToken)
	router.Post("/api/v1/compile", h.Compile)
	router.Get("/ws", h.SessionWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.WSFrame {
	t.Helper()
	var frame models.WSFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func decodeInto(t *testing.T, data any, out any) {
	t.Helper()
	b, _ := json.Marshal(data)
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))

	resp, err := http.Get(server.URL + "/api/v1/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListLanguages(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))

	resp, err := http.Get(server.URL + "/api/v1/languages")
	if err != nil {
		t.Fatalf("languages request failed: %v", err)
	}
	defer resp.Body.Close()

	var langs []string
	if err := json.NewDecoder(resp.Body).Decode(&langs); err != nil {
		t.Fatalf("decode languages: %v", err)
	}
	if len(langs) == 0 {
		t.Fatalf("expected languages, got none")
	}
	found := false
	for _, l := range langs {
		if l == "python3" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected python3 in %v", langs)
	}
}

func TestNewRoomID(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))

	resp, err := http.Get(server.URL + "/api/v1/rooms/new")
	if err != nil {
		t.Fatalf("rooms/new request failed: %v", err)
	}
	defer resp.Body.Close()

	var out models.RoomIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode room id: %v", err)
	}
	if out.RoomID == "" {
		t.Fatalf("expected non-empty room id")
	}
}

func TestMintTokenDisabled(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))

	resp, err := http.Post(server.URL+"/api/v1/token", "application/json",
		bytes.NewBufferString(`{"roomId":"r1","username":"alice"}`))
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when auth disabled, got %d", resp.StatusCode)
	}
}

func TestMintTokenEnabled(t *testing.T) {
	secret := []byte("test-secret")
	server := newTestServer(t, newTestHandlers(&mockRunner{}, secret))

	resp, err := http.Post(server.URL+"/api/v1/token", "application/json",
		bytes.NewBufferString(`{"roomId":"r1","username":"alice"}`))
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	roomID, err := utils.ValidateRoomToken(out["token"], secret)
	if err != nil || roomID != "r1" {
		t.Fatalf("expected valid token for r1, got room=%q err=%v", roomID, err)
	}
}

func TestCompileForwardsResult(t *testing.T) {
	runner := &mockRunner{
		compileFn: func(_ context.Context, req models.CompileRequest) (json.RawMessage, error) {
			if req.Language != "python3" || req.Code != "print(1)" {
				t.Fatalf("unexpected request: %#v", req)
			}
			return json.RawMessage(`{"output":"1\n","statusCode":200}`), nil
		},
	}
	server := newTestServer(t, newTestHandlers(runner, nil))

	resp, err := http.Post(server.URL+"/api/v1/compile", "application/json",
		bytes.NewBufferString(`{"code":"print(1)","language":"python3"}`))
	if err != nil {
		t.Fatalf("compile request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out models.CompileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Output != "1\n" {
		t.Fatalf("expected raw relay of the service response, got %#v", out)
	}
}

func TestCompileFailureIsGeneric(t *testing.T) {
	runner := &mockRunner{
		compileFn: func(context.Context, models.CompileRequest) (json.RawMessage, error) {
			return nil, errors.New("credentials rejected")
		},
	}
	server := newTestServer(t, newTestHandlers(runner, nil))

	resp, err := http.Post(server.URL+"/api/v1/compile", "application/json",
		bytes.NewBufferString(`{"code":"x","language":"python3"}`))
	if err != nil {
		t.Fatalf("compile request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	var out models.CompileError
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if out.Error != "failed to compile code" {
		t.Fatalf("expected generic failure string, got %q", out.Error)
	}
	if strings.Contains(out.Error, "credentials") {
		t.Fatalf("internal error leaked to client: %q", out.Error)
	}
}

func TestCompileBadBody(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))

	resp, err := http.Post(server.URL+"/api/v1/compile", "application/json",
		bytes.NewBufferString(`{`))
	if err != nil {
		t.Fatalf("compile request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// TestSessionWSScenario walks the full room lifecycle: Alice joins and types,
// Bob joins and converges through a targeted sync, Alice's next edit reaches
// Bob (and only Bob), and Bob's departure is announced to Alice.
func TestSessionWSScenario(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))

	alice := dialWS(t, server, "")
	if err := alice.WriteJSON(models.WSFrame{
		Type: models.EventJoin,
		Data: models.JoinRequest{RoomID: "R1", Username: "Alice"},
	}); err != nil {
		t.Fatalf("alice join: %v", err)
	}

	frame := readFrame(t, alice)
	if frame.Type != models.EventJoined {
		t.Fatalf("expected joined, got %#v", frame)
	}
	var aliceJoined models.JoinedEvent
	decodeInto(t, frame.Data, &aliceJoined)
	if aliceJoined.Username != "Alice" || len(aliceJoined.Clients) != 1 {
		t.Fatalf("alice's own joined payload must include herself: %#v", aliceJoined)
	}
	aliceID := aliceJoined.SocketID

	// Bob joins after Alice has been editing.
	bob := dialWS(t, server, "")
	if err := bob.WriteJSON(models.WSFrame{
		Type: models.EventJoin,
		Data: models.JoinRequest{RoomID: "R1", Username: "Bob"},
	}); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	frame = readFrame(t, alice)
	var bobJoined models.JoinedEvent
	decodeInto(t, frame.Data, &bobJoined)
	if frame.Type != models.EventJoined || bobJoined.Username != "Bob" {
		t.Fatalf("expected bob's join broadcast at alice, got %#v", frame)
	}
	if len(bobJoined.Clients) != 2 {
		t.Fatalf("expected two-member snapshot, got %#v", bobJoined.Clients)
	}

	frame = readFrame(t, bob)
	var bobOwnJoined models.JoinedEvent
	decodeInto(t, frame.Data, &bobOwnJoined)
	if bobOwnJoined.SocketID == aliceID || len(bobOwnJoined.Clients) != 2 {
		t.Fatalf("bob's joined payload must name bob and carry the snapshot: %#v", bobOwnJoined)
	}

	// Alice syncs the newcomer; Bob converges without having typed anything.
	if err := alice.WriteJSON(models.WSFrame{
		Type: models.EventCodeSync,
		Data: models.CodeSync{SocketID: bobJoined.SocketID, Code: "print(1)"},
	}); err != nil {
		t.Fatalf("alice sync: %v", err)
	}
	frame = readFrame(t, bob)
	var sync models.CodeChange
	decodeInto(t, frame.Data, &sync)
	if frame.Type != models.EventCodeChange || sync.Code != "print(1)" {
		t.Fatalf("expected targeted sync at bob, got %#v", frame)
	}

	// Alice edits; Bob receives, Alice hears nothing back.
	if err := alice.WriteJSON(models.WSFrame{
		Type: models.EventCodeChange,
		Data: models.CodeChange{RoomID: "R1", Code: "print(2)"},
	}); err != nil {
		t.Fatalf("alice change: %v", err)
	}
	frame = readFrame(t, bob)
	var change models.CodeChange
	decodeInto(t, frame.Data, &change)
	if frame.Type != models.EventCodeChange || change.Code != "print(2)" {
		t.Fatalf("expected change relay at bob, got %#v", frame)
	}

	// Bob leaves; Alice gets exactly one departure notice naming him.
	bob.Close()
	frame = readFrame(t, alice)
	if frame.Type != models.EventDisconnected {
		t.Fatalf("alice received %#v before the departure notice: change echoed back?", frame)
	}
	var left models.DisconnectedEvent
	decodeInto(t, frame.Data, &left)
	if left.Username != "Bob" || left.SocketID != bobJoined.SocketID {
		t.Fatalf("unexpected departure notice: %#v", left)
	}
}

func TestSessionWSMissingRoom(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))
	conn := dialWS(t, server, "")

	if err := conn.WriteJSON(models.WSFrame{
		Type: models.EventJoin,
		Data: models.JoinRequest{Username: "alice"},
	}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != models.EventError || frame.Data != "missing_room" {
		t.Fatalf("expected missing_room error, got %#v", frame)
	}
}

func TestSessionWSUnknownType(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))
	conn := dialWS(t, server, "")

	if err := conn.WriteJSON(models.WSFrame{Type: "bogus"}); err != nil {
		t.Fatalf("send bogus: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != models.EventError || frame.Data != "unknown_type" {
		t.Fatalf("expected unknown_type error, got %#v", frame)
	}
}

func TestSessionWSChangeUnknownRoomTolerated(t *testing.T) {
	server := newTestServer(t, newTestHandlers(&mockRunner{}, nil))
	conn := dialWS(t, server, "")

	if err := conn.WriteJSON(models.WSFrame{
		Type: models.EventCodeChange,
		Data: models.CodeChange{RoomID: "ghost", Code: "x"},
	}); err != nil {
		t.Fatalf("send change: %v", err)
	}

	// Connection must stay usable after the dropped relay.
	if err := conn.WriteJSON(models.WSFrame{
		Type: models.EventJoin,
		Data: models.JoinRequest{RoomID: "r1", Username: "alice"},
	}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != models.EventJoined {
		t.Fatalf("expected joined after tolerated error, got %#v", frame)
	}
}

func TestSessionWSTokenGate(t *testing.T) {
	secret := []byte("test-secret")
	server := newTestServer(t, newTestHandlers(&mockRunner{}, secret))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("expected dial without token to fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %#v", resp)
	}

	token, err := utils.GenerateRoomToken("r1", "alice", secret)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	conn := dialWS(t, server, "?token="+token)
	if err := conn.WriteJSON(models.WSFrame{
		Type: models.EventJoin,
		Data: models.JoinRequest{RoomID: "r1", Username: "alice"},
	}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	frame := readFrame(t, conn)
	if frame.Type != models.EventJoined {
		t.Fatalf("expected joined with valid token, got %#v", frame)
	}
}
