package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cocomeza/alcontruccionessrl/auth"
)

const sessionEventQueueSize = 8

type sessionEventMsg struct {
	Kind    string `json:"kind"`
	Email   string `json:"email"`
	Current bool   `json:"current"`
}

// watchSession streams the session events of the signed in admin as
// server-sent events until the request ends or its own session is signed
// out. Other tabs use it to follow sign-out elsewhere.
func watchSession(s *Server, w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	u, err := s.identity.CurrentUser(r.Context(), token)
	if err != nil {
		RespondWithError("No active session.", http.StatusUnauthorized, w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError("Streaming unsupported.", http.StatusInternalServerError, w)
		return
	}

	events := make(chan auth.Event, sessionEventQueueSize)
	unsubscribe := s.broker.Subscribe(func(e auth.Event) {
		if e.Email != u.Email {
			return
		}
		select {
		case events <- e:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			msg := sessionEventMsg{Kind: e.Kind.String(), Email: e.Email, Current: e.Token == token}
			b, _ := json.Marshal(&msg)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, b)
			flusher.Flush()
			if e.Kind == auth.EventSignedOut && msg.Current {
				return
			}
		}
	}
}
