package web

import (
	"context"
	"sync"

	"github.com/wonny/magicformula/internal/fetch"
	"github.com/wonny/magicformula/internal/session"
	"github.com/wonny/magicformula/pkg/logger"
)

// SessionSource publishes session snapshots
type SessionSource interface {
	Subscribe(fn session.Listener) func()
}

// FetchSource publishes fetch status changes
type FetchSource interface {
	Subscribe(fn func(fetch.Status)) func()
}

// Bridge pushes controller changes to the hub and starts the board when
// the session becomes authenticated. It returns a func that detaches it,
// cancels a reload still running and waits for it.
func Bridge(hub *Hub, sessions SessionSource, fetches FetchSource, board Board, log *logger.Logger) func() {
	log = log.Component("bridge")

	ctx, cancel := context.WithCancel(context.Background())
	var reloads sync.WaitGroup

	var mu sync.Mutex
	wasAuthenticated := false
	detached := false

	stopSession := sessions.Subscribe(func(s session.Snapshot) {
		resp := newSessionResponse(s)
		hub.Broadcast(Event{Type: "session", Session: &resp})

		mu.Lock()
		becameAuthenticated := s.Authenticated() && !wasAuthenticated
		wasAuthenticated = s.Authenticated()
		if !becameAuthenticated || detached {
			mu.Unlock()
			return
		}
		reloads.Add(1)
		mu.Unlock()

		go func() {
			defer reloads.Done()
			res := board.Start(ctx)
			log.WithField("outcome", res.Outcome).Debug("Dashboard started after sign-in")
		}()
	})

	stopFetch := fetches.Subscribe(func(fetch.Status) {
		hub.Broadcast(Event{Type: "view", View: board.View()})
	})

	return func() {
		stopSession()
		stopFetch()

		mu.Lock()
		detached = true
		mu.Unlock()

		cancel()
		reloads.Wait()
	}
}

// Greeting returns the events a newly connected browser receives
func Greeting(sess Session, board Board) func() []Event {
	return func() []Event {
		resp := newSessionResponse(sess.Snapshot())
		events := []Event{{Type: "session", Session: &resp}}
		if sess.Snapshot().Authenticated() {
			events = append(events, Event{Type: "view", View: board.View()})
		}
		return events
	}
}
