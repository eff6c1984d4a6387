package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ops-realtime/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades a request carrying tenantId and userId query
// parameters. With a verifier, the presented token must belong to that
// same user and tenant.
func ServeWS(hub *Hub, verifier auth.Verifier, w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	query := r.URL.Query()
	tenantID := query.Get("tenantId")
	userID := query.Get("userId")

	if tenantID == "" || userID == "" {
		slog.Warn("[WS] Missing identity", "from", remoteAddr)
		http.Error(w, "tenantId and userId required", http.StatusBadRequest)
		return
	}

	if verifier != nil {
		token := auth.ExtractTokenFromRequest(r)
		if token == "" {
			slog.Warn("[WS] No token provided", "from", remoteAddr, "user", userID)
			http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
			return
		}
		id, err := verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Warn("[WS] Token validation failed", "from", remoteAddr, "error", err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
		if id.UserID != userID || id.TenantID != tenantID {
			slog.Warn("[WS] Token does not match requested identity", "from", remoteAddr,
				"user", userID, "tokenUser", id.UserID, "tenant", tenantID, "tokenTenant", id.TenantID)
			http.Error(w, "Unauthorized: identity mismatch", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "user", userID, "tenant", tenantID, "error", err)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		tenantID: tenantID,
		userID:   userID,
		channels: make(map[string]bool),
	}
	if hub.messageRate > 0 {
		client.limiter = rate.NewLimiter(hub.messageRate, hub.messageBurst)
	}

	slog.Info("[WS] Connection upgraded", "connection", client.id, "user", userID, "tenant", tenantID)

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
