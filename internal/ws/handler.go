package ws

import (
	"net/http"

	"github.com/pliu/murmur/internal/auth"
	"github.com/pliu/murmur/internal/metrics"
	"github.com/pliu/murmur/internal/protocol"
)

// ServeWs upgrades the request and authenticates the session with the
// credential carried by the handshake. A failed authentication is reported
// with a single auth_failed frame before the connection closes.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(hub, conn)
	if !hub.track(s) {
		conn.Close()
		return
	}
	s.setState(StateAuthenticating)
	go s.writePump()

	user, err := hub.authenticate(auth.TokenFromRequest(r))
	if err != nil {
		metrics.AuthFailures.Inc()
		s.log.Info().Err(err).Msg("websocket authentication failed")
		s.terminate(protocol.AuthFailed{Reason: protocol.Reason(err)})
		return
	}

	if !hub.activate(s, user) {
		s.close()
		return
	}
	s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("session active")
	go s.readPump()
}
