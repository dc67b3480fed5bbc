package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/socialchat/internal/auth"
	"github.com/Tyrowin/socialchat/internal/broadcast"
	"github.com/Tyrowin/socialchat/internal/chat"
	"github.com/Tyrowin/socialchat/internal/metrics"
	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/server"
	"github.com/Tyrowin/socialchat/internal/session"
	"github.com/Tyrowin/socialchat/internal/store/memory"
	"github.com/Tyrowin/socialchat/internal/worker"
)

const (
	testOriginURL = "http://localhost:8080"
	testInstance  = "test-instance"
	readTimeout   = 2 * time.Second
)

type stackOptions struct {
	origins []string
	limits  server.Limits
}

// testStack is a fully wired single-process chat server.
type testStack struct {
	URL       string
	WSURL     string
	Hub       *server.Hub
	Pool      *worker.Pool
	Directory *session.Directory
	Users     *memory.Users
	Metrics   *metrics.Metrics
}

func newTestStack(t *testing.T, customize func(*stackOptions)) *testStack {
	t.Helper()

	opts := stackOptions{
		origins: []string{testOriginURL},
		limits:  server.Limits{MaxMessageSize: 4096, RateLimitBurst: 100, RefillInterval: time.Second},
	}
	if customize != nil {
		customize(&opts)
	}

	logger := zaptest.NewLogger(t)
	m := metrics.New()
	details := session.ServerDetails{InstanceID: testInstance}

	hub := server.NewHub(server.WithLogger(logger), server.WithMetrics(m))
	go hub.Run()

	directory := session.NewDirectory(nil, session.WithInstanceID(testInstance), session.WithLogger(logger))
	users := memory.NewUsers()
	groups := memory.NewGroups()
	messages := memory.NewMessages()

	broadcaster := broadcast.New(testInstance, directory, hub, groups,
		broadcast.WithLogger(logger), broadcast.WithMetrics(m))
	chatService := chat.NewService(users, groups, messages, broadcaster,
		chat.WithLogger(logger), chat.WithMetrics(m))
	authService := auth.NewService(auth.Config{
		RequirePassword: true,
		SessionTTL:      time.Hour,
		BcryptCost:      bcrypt.MinCost,
		Server:          details,
	}, users, directory, broadcaster, chatService, auth.WithLogger(logger), auth.WithMetrics(m))

	pool := worker.New(4, 64, worker.WithLogger(logger))
	m.RegisterQueueDepth(func() float64 { return float64(pool.Queued()) })

	dispatcher := server.NewDispatcher(details, server.Services{
		Directory: directory,
		Auth:      authService,
		Chat:      chatService,
		Sender:    broadcaster,
		Pool:      pool,
	}, server.WithLogger(logger), server.WithMetrics(m))

	handler := server.NewHandler(hub, dispatcher, server.HandlerConfig{
		AllowedOrigins: opts.origins,
		Limits:         opts.limits,
	}, server.WithLogger(logger))

	ts := httptest.NewServer(server.SetupRoutes(handler, m.Handler()))
	t.Cleanup(ts.Close)
	t.Cleanup(pool.Close)
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	return &testStack{
		URL:       ts.URL,
		WSURL:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat",
		Hub:       hub,
		Pool:      pool,
		Directory: directory,
		Users:     users,
		Metrics:   m,
	}
}

func newOriginHeader(origin string) http.Header {
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return headers
}

// connect dials url with the test origin and fails the test on error.
func connect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	return connectWithHeader(t, url, newOriginHeader(testOriginURL))
}

func connectWithHeader(t *testing.T, url string, headers http.Header) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, payload any) {
	t.Helper()

	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sendRaw(t, conn, frame)
}

func sendRaw(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
}

// receive reads the next envelope within readTimeout.
func receive(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return env
}

// receiveType reads envelopes until one of type typ arrives.
func receiveType(t *testing.T, conn *websocket.Conn, typ protocol.MessageType) protocol.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		if env := receive(t, conn); env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s message received", typ)
	return protocol.Envelope{}
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload %s: %v", env.Type, env.Payload, err)
	}
	return v
}

// expectNoMessage asserts that nothing arrives on conn within timeout.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", msg)
	}
}

// signup registers username on conn and returns the response.
func signup(t *testing.T, conn *websocket.Conn, username string) protocol.AuthenticateResponse {
	t.Helper()

	send(t, conn, protocol.TypeSignup, protocol.SignupRequest{
		Username: username,
		Name:     strings.ToUpper(username[:1]) + username[1:],
		Password: "correct-horse",
	})
	env := receiveType(t, conn, protocol.TypeSignup)
	resp := decode[protocol.AuthenticateResponse](t, env)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("signup %s failed: %s", username, env.Payload)
	}
	return resp
}

func login(t *testing.T, conn *websocket.Conn, username string) protocol.AuthenticateResponse {
	t.Helper()

	send(t, conn, protocol.TypeAuthenticate, protocol.AuthenticateRequest{Username: username, Password: "correct-horse"})
	env := receiveType(t, conn, protocol.TypeAuthenticate)
	resp := decode[protocol.AuthenticateResponse](t, env)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("login %s failed: %s", username, env.Payload)
	}
	return resp
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
