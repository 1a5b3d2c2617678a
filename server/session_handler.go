package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"musicsquare/core/auth"
	"musicsquare/logger"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
)

// AuthMiddleware 校验 JWT。浏览器的 WebSocket 无法设置请求头，允许通过 ?token= 传递
func (s *Server) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}
			token = parts[1]
		}
		if token == "" {
			writeError(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		userID, claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionWSHandler 播放会话的 WebSocket 连接。会话在断线后保留，重连即恢复
func (s *Server) SessionWSHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[Server] websocket upgrade failed", logger.ErrorField(err), logger.Int64("user", userID))
		return
	}

	client := s.hub.NewClient(userID, conn)
	s.hub.Register(client)
	logger.Info("[Server] session connected",
		logger.Int64("user", userID),
		logger.String("conn", client.ID))

	// 会话生命周期长于单次连接，不使用请求的 context
	ctx := context.Background()
	entry := s.sessions.Acquire(ctx, userID)
	entry.Remote.StateChanged(entry.Session.Snapshot())

	go client.WritePump()
	client.ReadPump(ctx, s.sessions.HandleMessage)

	logger.Info("[Server] session disconnected", logger.Int64("user", userID), logger.String("conn", client.ID))
}

// SessionStateHandler GET /api/session
func (s *Server) SessionStateHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	entry, ok := s.sessions.Get(userID)
	if !ok {
		writeError(w, "会话不存在", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"connected": s.hub.Connected(userID),
		"state":     entry.Session.Snapshot(),
	})
}

// LogoutHandler DELETE /api/session，销毁会话并断开连接
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"dropped": s.sessions.Drop(userID),
	})
}
