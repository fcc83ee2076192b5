package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"userdir.org/internal/auth"
)

const keepAliveInterval = 25 * time.Second

// handleEvents streams directory mutations as Server-Sent Events.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request, actor auth.AuthenticatedIdentity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ch, err := a.dir.Subscribe(r.Context(), actor)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// the server write timeout does not apply to a stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + event.Type + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			_ = rc.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			_ = rc.Flush()
		}
	}
}
