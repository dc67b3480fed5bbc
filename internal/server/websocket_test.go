package server_test

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/socialchat/internal/domain"
	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/server"
)

// TestHealthEndpointIntegration verifies the health check through the full router.
func TestHealthEndpointIntegration(t *testing.T) {
	stack := newTestStack(t, nil)

	resp, err := http.Get(stack.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Expected content type text/plain, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "SocialChat server is running!" {
		t.Errorf("unexpected body %q", body)
	}
}

// TestMetricsEndpoint verifies the Prometheus exposition is mounted.
func TestMetricsEndpoint(t *testing.T) {
	stack := newTestStack(t, nil)
	connect(t, stack.WSURL)

	eventually(t, "connection to register", func() bool { return stack.Hub.Len() == 1 })

	resp, err := http.Get(stack.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"socialchat_connections_total 1", "socialchat_active_connections 1", "socialchat_worker_queued_tasks"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

// TestWebSocketHandlerMethodValidation checks that only GET reaches the upgrader.
func TestWebSocketHandlerMethodValidation(t *testing.T) {
	stack := newTestStack(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req, err := http.NewRequest(method, stack.URL+"/chat", http.NoBody)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s /chat: %v", method, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s /chat: status %d, want %d", method, resp.StatusCode, http.StatusMethodNotAllowed)
		}
	}
}

// TestWebSocketOriginValidation covers allowed, disallowed and missing origins.
func TestWebSocketOriginValidation(t *testing.T) {
	dial := func(url, origin string) (int, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
		conn, resp, err := dialer.Dial(url, newOriginHeader(origin))
		status := 0
		if resp != nil {
			status = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		if conn != nil {
			_ = conn.Close()
		}
		return status, err
	}

	t.Run("configured origins", func(t *testing.T) {
		stack := newTestStack(t, nil)

		tests := []struct {
			origin string
			allow  bool
		}{
			{testOriginURL, true},
			{"HTTP://LOCALHOST:8080", true},
			{"http://evil.example", false},
			{"not a url", false},
			{"", false},
		}
		for _, tt := range tests {
			status, err := dial(stack.WSURL, tt.origin)
			if tt.allow && err != nil {
				t.Errorf("origin %q should be accepted: %v", tt.origin, err)
			}
			if !tt.allow && (err == nil || status != http.StatusForbidden) {
				t.Errorf("origin %q should be rejected with 403, got status %d err %v", tt.origin, status, err)
			}
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		stack := newTestStack(t, func(o *stackOptions) { o.origins = []string{"*"} })

		for _, origin := range []string{"", "http://anything.example"} {
			if _, err := dial(stack.WSURL, origin); err != nil {
				t.Errorf("origin %q should be accepted with *: %v", origin, err)
			}
		}
	})
}

// TestCORSHeaders verifies preflight handling on plain HTTP routes.
func TestCORSHeaders(t *testing.T) {
	stack := newTestStack(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, stack.URL+"/metrics", http.NoBody)
	req.Header.Set("Origin", testOriginURL)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testOriginURL {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// TestInvalidRequestKeepsConnectionOpen sends broken frames and expects
// INVALID_REQUEST answers without losing the connection.
func TestInvalidRequestKeepsConnectionOpen(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := connect(t, stack.WSURL)

	frames := []string{
		`{"type":"BOGUS","payload":{}}`,
		`{"payload":{}}`,
		`{not json`,
		`{"type":"AUTHENTICATE","payload":"oops"}`,
	}
	for _, frame := range frames {
		sendRaw(t, conn, []byte(frame))
		env := receive(t, conn)
		if env.Type != protocol.TypeInvalidRequest {
			t.Fatalf("frame %s: got %s, want INVALID_REQUEST", frame, env.Type)
		}
		if p := decode[protocol.ErrorPayload](t, env); p.Status != protocol.StatusInvalidRequest || p.Message == "" {
			t.Errorf("frame %s: unexpected payload %+v", frame, p)
		}
	}

	send(t, conn, protocol.TypePing, nil)
	env := receive(t, conn)
	if env.Type != protocol.TypePing || decode[protocol.StatusPayload](t, env).Status != protocol.StatusSuccess {
		t.Fatalf("PING after invalid requests: %s %s", env.Type, env.Payload)
	}
}

// TestServerOnlyTypesAreDropped checks that known outbound-only types are
// ignored rather than rejected.
func TestServerOnlyTypesAreDropped(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := connect(t, stack.WSURL)

	send(t, conn, protocol.TypeNewContactRegistered, nil)
	expectNoMessage(t, conn, 200*time.Millisecond)
}

// TestChatRequiresAuthentication rejects chat operations on a pending session.
func TestChatRequiresAuthentication(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := connect(t, stack.WSURL)

	requests := []struct {
		typ     protocol.MessageType
		payload any
	}{
		{protocol.TypeContactsList, nil},
		{protocol.TypeChatHistory, protocol.ChatHistoryRequest{DestinationID: "someone"}},
		{protocol.TypeUserMessage, protocol.ChatMessageRequest{DestinationID: domain.AllUsersGroupID, DestinationType: domain.ContactAllUsersGroup, Content: "hi"}},
	}
	for _, r := range requests {
		send(t, conn, r.typ, r.payload)
		env := receive(t, conn)
		if env.Type != protocol.TypeNotAuthenticated {
			t.Fatalf("%s before login: got %s, want NOT_AUTHENTICATED", r.typ, env.Type)
		}
		if p := decode[protocol.ErrorPayload](t, env); p.Status != protocol.StatusNotAuthenticated {
			t.Errorf("%s before login: status %s", r.typ, p.Status)
		}
	}
}

// TestSignupAnnouncesNewContact verifies the new user is announced to every
// other session but not to itself.
func TestSignupAnnouncesNewContact(t *testing.T) {
	stack := newTestStack(t, nil)
	alice := connect(t, stack.WSURL)
	bob := connect(t, stack.WSURL)

	signup(t, alice, "alice")
	resp := signup(t, bob, "bob")

	if resp.Token == "" || resp.User.ID == "" || resp.User.Name != "Bob" {
		t.Errorf("unexpected signup response %+v", resp)
	}

	env := receiveType(t, alice, protocol.TypeNewContactRegistered)
	contacts := decode[[]domain.Contact](t, env)
	if len(contacts) != 1 || contacts[0].ID != resp.User.ID || contacts[0].ContactType != domain.ContactUser {
		t.Errorf("unexpected announcement %+v", contacts)
	}
	expectNoMessage(t, bob, 200*time.Millisecond)
}

// TestSignupDuplicateUsername expects USERNAME_IN_USE on the second signup.
func TestSignupDuplicateUsername(t *testing.T) {
	stack := newTestStack(t, nil)
	first := connect(t, stack.WSURL)
	second := connect(t, stack.WSURL)

	signup(t, first, "carol")

	send(t, second, protocol.TypeSignup, protocol.SignupRequest{Username: "carol", Name: "Carol", Password: "correct-horse"})
	env := receiveType(t, second, protocol.TypeSignup)
	if p := decode[protocol.ErrorPayload](t, env); p.Status != protocol.StatusUsernameInUse {
		t.Errorf("status = %s, want USERNAME_IN_USE", p.Status)
	}
}

// TestDirectMessageRoundTrip sends a direct message and reads it back from
// both parties and from the history.
func TestDirectMessageRoundTrip(t *testing.T) {
	stack := newTestStack(t, nil)
	alice := connect(t, stack.WSURL)
	bob := connect(t, stack.WSURL)

	a := signup(t, alice, "alice")
	b := signup(t, bob, "bob")
	receiveType(t, alice, protocol.TypeNewContactRegistered)

	send(t, alice, protocol.TypeUserMessage, protocol.ChatMessageRequest{
		DestinationID:   b.User.ID,
		DestinationType: domain.ContactUser,
		Content:         "hello bob",
	})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		env := receiveType(t, conn, protocol.TypeUserMessage)
		msg := decode[domain.ChatMessage](t, env)
		if msg.From != a.User.ID || msg.DestinationID != b.User.ID || msg.Content != "hello bob" {
			t.Errorf("%s received %+v", name, msg)
		}
		if msg.ID == "" || msg.MimeType != "text/plain" || msg.Date.IsZero() {
			t.Errorf("%s received an unstamped message %+v", name, msg)
		}
	}

	send(t, bob, protocol.TypeChatHistory, protocol.ChatHistoryRequest{DestinationID: a.User.ID})
	history := decode[protocol.ChatHistoryResponse](t, receiveType(t, bob, protocol.TypeChatHistory))
	if history.DestinationID != a.User.ID || len(history.ChatHistory) != 1 || history.ChatHistory[0].Content != "hello bob" {
		t.Errorf("unexpected history %+v", history)
	}
}

// TestAllUsersGroupMessage reaches every authenticated connection.
func TestAllUsersGroupMessage(t *testing.T) {
	stack := newTestStack(t, nil)
	conns := []*websocket.Conn{connect(t, stack.WSURL), connect(t, stack.WSURL), connect(t, stack.WSURL)}
	for i, name := range []string{"ann", "ben", "cat"} {
		signup(t, conns[i], name)
	}

	send(t, conns[0], protocol.TypeUserMessage, protocol.ChatMessageRequest{
		DestinationID:   domain.AllUsersGroupID,
		DestinationType: domain.ContactAllUsersGroup,
		Content:         "hi all",
	})

	for i, conn := range conns {
		msg := decode[domain.ChatMessage](t, receiveType(t, conn, protocol.TypeUserMessage))
		if msg.Content != "hi all" || msg.DestinationID != domain.AllUsersGroupID {
			t.Errorf("client %d received %+v", i, msg)
		}
	}
}

// TestContactsList lists other users and the all users group.
func TestContactsList(t *testing.T) {
	stack := newTestStack(t, nil)
	alice := connect(t, stack.WSURL)
	bob := connect(t, stack.WSURL)

	a := signup(t, alice, "alice")
	b := signup(t, bob, "bob")

	send(t, bob, protocol.TypeContactsList, nil)
	contacts := decode[[]domain.Contact](t, receiveType(t, bob, protocol.TypeContactsList))

	var sawAlice, sawGroup bool
	for _, c := range contacts {
		switch {
		case c.ID == b.User.ID:
			t.Error("contacts list must not include the requesting user")
		case c.ID == a.User.ID && c.ContactType == domain.ContactUser:
			sawAlice = true
		case c.ID == domain.AllUsersGroupID && c.ContactType == domain.ContactAllUsersGroup:
			sawGroup = true
		}
	}
	if !sawAlice || !sawGroup {
		t.Errorf("contacts = %+v", contacts)
	}
}

// TestReauthenticateOnConnect resumes a session with a token given at
// connect time, both as query parameter and as bearer token.
func TestReauthenticateOnConnect(t *testing.T) {
	stack := newTestStack(t, nil)
	first := connect(t, stack.WSURL)
	a := signup(t, first, "alice")

	t.Run("query parameter", func(t *testing.T) {
		conn := connect(t, stack.WSURL+"?token="+a.Token)
		resp := decode[protocol.AuthenticateResponse](t, receiveType(t, conn, protocol.TypeReauthenticate))
		if resp.Status != protocol.StatusSuccess || resp.Token != a.Token || resp.User.ID != a.User.ID {
			t.Errorf("unexpected reauthentication %+v", resp)
		}
	})

	t.Run("bearer token", func(t *testing.T) {
		headers := newOriginHeader(testOriginURL)
		headers.Set("Authorization", "Bearer "+a.Token)
		conn := connectWithHeader(t, stack.WSURL, headers)
		resp := decode[protocol.AuthenticateResponse](t, receiveType(t, conn, protocol.TypeReauthenticate))
		if resp.Token != a.Token {
			t.Errorf("unexpected reauthentication %+v", resp)
		}

		send(t, conn, protocol.TypeContactsList, nil)
		receiveType(t, conn, protocol.TypeContactsList)
	})

	t.Run("unknown token", func(t *testing.T) {
		conn := connect(t, stack.WSURL+"?token=bogus")
		env := receiveType(t, conn, protocol.TypeNotAuthenticated)
		if p := decode[protocol.ErrorPayload](t, env); p.Status != protocol.StatusNotAuthenticated {
			t.Errorf("status = %s", p.Status)
		}

		send(t, conn, protocol.TypePing, nil)
		receiveType(t, conn, protocol.TypePing)
	})
}

// TestReauthenticateAfterReconnect closes the connection that signed up and
// reconnects with its token; after LOGOFF the token is refused.
func TestReauthenticateAfterReconnect(t *testing.T) {
	stack := newTestStack(t, nil)
	first := connect(t, stack.WSURL)
	a := signup(t, first, "alice")

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	eventually(t, "closed connection to leave the directory", func() bool {
		return len(stack.Directory.FindActiveByUser(t.Context(), a.User.ID)) == 0
	})

	second := connect(t, stack.WSURL+"?token="+a.Token)
	resp := decode[protocol.AuthenticateResponse](t, receiveType(t, second, protocol.TypeReauthenticate))
	if resp.Status != protocol.StatusSuccess || resp.Token != a.Token || resp.User.ID != a.User.ID {
		t.Fatalf("unexpected reauthentication %+v", resp)
	}
	send(t, second, protocol.TypeContactsList, nil)
	receiveType(t, second, protocol.TypeContactsList)

	send(t, second, protocol.TypeLogoff, nil)
	receiveType(t, second, protocol.TypeLogoff)

	third := connect(t, stack.WSURL+"?token="+a.Token)
	env := receiveType(t, third, protocol.TypeNotAuthenticated)
	if p := decode[protocol.ErrorPayload](t, env); p.Status != protocol.StatusNotAuthenticated {
		t.Errorf("status after logoff = %s, want NOT_AUTHENTICATED", p.Status)
	}
}

// TestLogoffReturnsToConnectedState verifies a logged off connection can
// log in again.
func TestLogoffReturnsToConnectedState(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := connect(t, stack.WSURL)
	a := signup(t, conn, "alice")

	send(t, conn, protocol.TypeLogoff, nil)
	env := receiveType(t, conn, protocol.TypeLogoff)
	if p := decode[protocol.StatusPayload](t, env); p.Status != protocol.StatusSuccess {
		t.Errorf("LOGOFF status = %s", p.Status)
	}
	if got := stack.Directory.FindActiveByUser(t.Context(), a.User.ID); len(got) != 0 {
		t.Errorf("sessions after logoff = %+v", got)
	}

	send(t, conn, protocol.TypeContactsList, nil)
	receiveType(t, conn, protocol.TypeNotAuthenticated)

	login(t, conn, "alice")
	send(t, conn, protocol.TypeContactsList, nil)
	receiveType(t, conn, protocol.TypeContactsList)
}

// TestMultiDeviceDelivery delivers a direct message to every session of
// the recipient.
func TestMultiDeviceDelivery(t *testing.T) {
	stack := newTestStack(t, nil)
	phone := connect(t, stack.WSURL)
	laptop := connect(t, stack.WSURL)
	sender := connect(t, stack.WSURL)

	a := signup(t, phone, "alice")
	login(t, laptop, "alice")
	signup(t, sender, "bob")

	send(t, sender, protocol.TypeUserMessage, protocol.ChatMessageRequest{
		DestinationID:   a.User.ID,
		DestinationType: domain.ContactUser,
		Content:         "ping both",
	})

	for _, conn := range []*websocket.Conn{phone, laptop, sender} {
		msg := decode[domain.ChatMessage](t, receiveType(t, conn, protocol.TypeUserMessage))
		if msg.Content != "ping both" {
			t.Errorf("received %+v", msg)
		}
	}
}

// TestDisconnectRemovesSession checks the directory forgets closed connections.
func TestDisconnectRemovesSession(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := connect(t, stack.WSURL)
	a := signup(t, conn, "alice")

	if got := stack.Directory.FindActiveByUser(t.Context(), a.User.ID); len(got) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(got))
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	eventually(t, "session removal", func() bool {
		return len(stack.Directory.FindActiveByUser(t.Context(), a.User.ID)) == 0 && stack.Hub.Len() == 0
	})
}

// TestWebSocketRateLimiting drops frames beyond the burst.
func TestWebSocketRateLimiting(t *testing.T) {
	stack := newTestStack(t, func(o *stackOptions) {
		o.limits = server.Limits{MaxMessageSize: 4096, RateLimitBurst: 2, RefillInterval: time.Minute}
	})
	conn := connect(t, stack.WSURL)

	for i := 0; i < 5; i++ {
		send(t, conn, protocol.TypePing, nil)
	}
	receiveType(t, conn, protocol.TypePing)
	receiveType(t, conn, protocol.TypePing)
	expectNoMessage(t, conn, 300*time.Millisecond)
}

// TestWebSocketMessageSizeLimit closes connections that send oversized frames.
func TestWebSocketMessageSizeLimit(t *testing.T) {
	stack := newTestStack(t, func(o *stackOptions) {
		o.limits = server.Limits{MaxMessageSize: 64, RateLimitBurst: 10, RefillInterval: time.Second}
	})
	conn := connect(t, stack.WSURL)

	sendRaw(t, conn, []byte(`{"type":"PING","payload":{"padding":"`+strings.Repeat("x", 128)+`"}}`))

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed after an oversized frame")
	}
	eventually(t, "client removal", func() bool { return stack.Hub.Len() == 0 })
}
