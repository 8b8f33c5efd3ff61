package router

import (
	"encoding/json"
	"net/http"
)

// sseWriter emits Server-Sent Events frames of the exact shape spec.md
// §4.5/§4.6 require: "event: <name>\ndata: <json>\n\n", flushed
// immediately after every complete event so no frame is ever buffered
// across the blank-line boundary. Grounded on the teacher's
// models/manager.go progressResponseWriter, which wraps a ResponseWriter +
// Flusher pair the same way; this type is specialized to JSON event
// frames instead of raw progress bytes since pull is this router's only
// producer of them.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter returns nil if w does not support flushing, since the
// streaming contract cannot be honored without it.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &sseWriter{w: w, flusher: flusher}
}

// prepare sets the response headers SSE clients expect and flushes them
// immediately so the client sees a response has started even before the
// first event arrives.
func (s *sseWriter) prepare() {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// writeEvent encodes payload as the data line of an SSE frame named event,
// then flushes. Encoding errors are swallowed since there is no error
// envelope to report them through once streaming has begun; they are not
// expected given the caller-controlled payload types.
func (s *sseWriter) writeEvent(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.w.Write([]byte("event: " + event + "\n"))
	s.w.Write([]byte("data: "))
	s.w.Write(data)
	s.w.Write([]byte("\n\n"))
	s.flusher.Flush()
}
