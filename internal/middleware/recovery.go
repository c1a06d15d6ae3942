package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// ErrorResponse is the JSON body written for a recovered panic
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Recovery creates panic recovery middleware. A panic is always logged; the
// client gets a JSON 500 unless a response has already started or the
// connection was hijacked for a WebSocket.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				// Let deliberate aborts propagate
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("stack", string(debug.Stack())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("upgraded", rw.hijacked),
				)

				if rw.Committed() {
					return
				}
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(ErrorResponse{Status: "error", Error: "internal server error"})
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
