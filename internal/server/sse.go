package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mgx-dev/mgx/internal/broadcast"
)

// writeSSE streams a subscription to the client as Server-Sent Events. Each
// envelope becomes one data frame; the event name carries the event type so
// EventSource listeners can filter without parsing.
func writeSSE(w http.ResponseWriter, r *http.Request, sub *broadcast.Subscription) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			if ctx.Err() == nil {
				// Broadcaster closed, not the client leaving.
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
			}
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
		flusher.Flush()
	}
}
