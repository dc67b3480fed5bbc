package server

import "net/http"

// SetupRoutes configures the HTTP routes: health check, the WebSocket
// endpoint under /chat and /ws, and the metrics exposition when metrics is
// non-nil. Every route is wrapped with the handler's CORS policy.
func SetupRoutes(h *Handler, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/chat", h.WebSocketHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return h.origins.cors(mux)
}
