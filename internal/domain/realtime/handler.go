// Package realtime streams settlement events to connected clients over WebSocket.
package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/jwt"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

type Handler struct {
	jwt        *jwt.Service
	subscriber Subscriber
	upgrader   websocket.Upgrader
}

func NewHandler(jwtService *jwt.Service, subscriber Subscriber, allowedOrigins []string) *Handler {
	return &Handler{
		jwt:        jwtService,
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// ServeWS handles GET /ws?token=<access token>
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		response.Unauthorized(w, "Missing token")
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Unauthorized(w, "Invalid token")
		return
	}
	role := actor.Role(claims.Role)
	if !role.Valid() || claims.Suspended {
		response.Forbidden(w, "Streaming not allowed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.subscriber.Subscribe(ctx, channelsFor(claims.UserID, role == actor.RoleAdmin)...)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("user_id", claims.UserID.String()).Msg("Event subscription failed")
		response.InternalError(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		sub.Close()
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	log.Debug().Str("user_id", claims.UserID.String()).Str("role", claims.Role).Msg("Event stream opened")

	go h.reader(conn, cancel)
	go h.writer(ctx, conn, sub, cancel)
}

// reader drains client frames so pongs and close frames are processed.
// Clients have nothing to send on this stream.
func (h *Handler) reader(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Handler) writer(ctx context.Context, conn *websocket.Conn, sub Subscription, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		sub.Close()
		conn.Close()
	}()

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case payload, ok := <-msgs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
