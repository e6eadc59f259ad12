package web

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/session"
	"github.com/wonny/magicformula/pkg/logger"
)

func dialHub(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_GreetingAndBroadcast(t *testing.T) {
	env := newTestEnv(t, session.Authenticated)
	conn := dialHub(t, env)

	ev := readEvent(t, conn)
	assert.Equal(t, "session", ev["type"])
	assert.Equal(t, "authenticated", ev["session"].(map[string]interface{})["state"])
	assert.Equal(t, "view", readEvent(t, conn)["type"])

	env.hub.Broadcast(Event{Type: "view", View: map[string]int{"n": 1}})
	ev = readEvent(t, conn)
	assert.Equal(t, float64(1), ev["view"].(map[string]interface{})["n"])
}

func TestHub_CloseDropsClients(t *testing.T) {
	env := newTestEnv(t, session.Unauthenticated)
	conn := dialHub(t, env)
	readEvent(t, conn)

	env.hub.Close()
	assert.Zero(t, env.hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestBridge(t *testing.T) {
	env := newTestEnv(t, session.Unauthenticated)
	conn := dialHub(t, env)
	readEvent(t, conn) // greeting

	detach := Bridge(env.hub, env.session, env.fetch, env.board, logger.Nop())
	defer detach()

	// signing in pushes the session and triggers a reload
	env.session.set(session.Snapshot{State: session.Authenticated, Credential: "tok", Seq: 2})
	assert.Equal(t, "session", readEvent(t, conn)["type"])

	assert.Eventually(t, func() bool {
		env.backend.mu.Lock()
		defer env.backend.mu.Unlock()
		return env.backend.loads == 1
	}, 2*time.Second, 10*time.Millisecond)

	// fetch status changes arrive as view events
	ev := readEvent(t, conn)
	assert.Equal(t, "view", ev["type"])

	env.fetch.Wait()
	env.fetch.Reset()
	assert.Eventually(t, func() bool {
		return env.fetch.Status().Outcome == fetch.Idle
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_DetachCancelsReload(t *testing.T) {
	env := newTestEnv(t, session.Unauthenticated)
	env.backend.mu.Lock()
	env.backend.hang = true
	env.backend.mu.Unlock()

	detach := Bridge(env.hub, env.session, env.fetch, env.board, logger.Nop())
	env.session.set(session.Snapshot{State: session.Authenticated, Credential: "tok", Seq: 2})

	assert.Eventually(t, func() bool {
		env.backend.mu.Lock()
		defer env.backend.mu.Unlock()
		return env.backend.loads == 1
	}, 2*time.Second, 10*time.Millisecond)

	detach()

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	assert.ErrorIs(t, env.backend.hangErr, context.Canceled)
}
