package server_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/socialchat/internal/protocol"
	"github.com/Tyrowin/socialchat/internal/server"
)

// TestHubUnknownConnection verifies Deliver and Disconnect on ids the hub
// does not own.
func TestHubUnknownConnection(t *testing.T) {
	hub := server.NewHub()
	go hub.Run()
	defer func() { _ = hub.Shutdown(time.Second) }()

	if err := hub.Deliver("missing", []byte("x")); !errors.Is(err, server.ErrUnknownConnection) {
		t.Errorf("Deliver error = %v, want ErrUnknownConnection", err)
	}
	hub.Disconnect("missing")
	if hub.Len() != 0 {
		t.Errorf("Len = %d", hub.Len())
	}
}

// TestHubRegisterAfterShutdown rejects registrations once the hub stopped.
func TestHubRegisterAfterShutdown(t *testing.T) {
	hub := server.NewHub()
	go hub.Run()

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	client := server.NewClient(nil, hub, server.ConnectionContext{ConnectionID: "c1"}, nil, server.Limits{})
	if err := hub.Register(client); !errors.Is(err, server.ErrHubClosed) {
		t.Errorf("Register error = %v, want ErrHubClosed", err)
	}
}

// TestHubDisconnectClosesClient drops a live connection from the server side.
func TestHubDisconnectClosesClient(t *testing.T) {
	stack := newTestStack(t, nil)
	conn := connect(t, stack.WSURL)
	a := signup(t, conn, "alice")

	sessions := stack.Directory.FindActiveByUser(t.Context(), a.User.ID)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	stack.Hub.Disconnect(sessions[0].ConnectionID)

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
	eventually(t, "session removal", func() bool {
		return len(stack.Directory.FindActiveByUser(t.Context(), a.User.ID)) == 0
	})
}

// TestGracefulShutdownWithClients verifies that active client connections
// are closed and their pumps finish during hub shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	stack := newTestStack(t, nil)

	const numClients = 5
	clients := make([]*websocket.Conn, numClients)
	for i := range clients {
		clients[i] = connect(t, stack.WSURL)
	}
	eventually(t, "clients to register", func() bool { return stack.Hub.Len() == numClients })

	if err := stack.Hub.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	var wg sync.WaitGroup
	for i, conn := range clients {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Errorf("client %d still connected after shutdown", i)
			}
		}(i, conn)
	}
	wg.Wait()

	if stack.Hub.Len() != 0 {
		t.Errorf("Len after shutdown = %d", stack.Hub.Len())
	}
}

// TestConcurrentClients exercises many connections pinging at once.
func TestConcurrentClients(t *testing.T) {
	stack := newTestStack(t, nil)

	const numClients = 10
	var wg sync.WaitGroup
	for i := 0; i < numClients; i++ {
		conn := connect(t, stack.WSURL)
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				frame, _ := protocol.Encode(protocol.TypePing, nil)
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
				var env protocol.Envelope
				if err := conn.ReadJSON(&env); err != nil || env.Type != protocol.TypePing {
					t.Errorf("ping reply = %s, %v", env.Type, err)
					return
				}
			}
		}(conn)
	}
	wg.Wait()
}
