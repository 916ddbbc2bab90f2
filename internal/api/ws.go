package api

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// handleAlertStream pushes the user's events until the client disconnects
func (s *Server) handleAlertStream(conn *websocket.Conn) {
	uid, _ := conn.Locals(localUserID).(string)
	if s.hub == nil {
		_ = conn.WriteJSON(map[string]string{"error": "realtime stream disabled"})
		_ = conn.Close()
		return
	}

	client := s.hub.Register(uid, conn)
	s.logger.Debug("Realtime client connected", zap.String("user_id", uid))
	defer s.hub.Unregister(client)

	// the read loop only detects close; clients send nothing meaningful
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
