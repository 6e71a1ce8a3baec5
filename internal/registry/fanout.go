package registry

import (
	"encoding/json"
	"fmt"

	"github.com/NizariMohamed/chatting/pkg/log"
)

// Encode marshals a frame once so it can be sent to many connections.
func Encode(event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// SendTo delivers data to every live connection of userID and returns how
// many accepted it. Individual failures are logged and skipped.
func (r *Registry) SendTo(userID string, data []byte) int {
	return sendAll(r.ConnectionsFor(userID), data)
}

// Broadcast delivers data to every live connection.
func (r *Registry) Broadcast(data []byte) int {
	return sendAll(r.All(), data)
}

// PushTo encodes event and delivers it to userID's live connections.
func (r *Registry) PushTo(userID string, event any) int {
	data, err := Encode(event)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("dropping unencodable frame")
		return 0
	}
	return r.SendTo(userID, data)
}

func sendAll(conns []Conn, data []byte) int {
	sent := 0
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			l := log.L()
			l.Debug().Err(err).
				Str(log.FieldConnID, c.ID()).
				Str(log.FieldUserID, c.UserID()).
				Msg("push to connection failed")
			continue
		}
		sent++
	}
	return sent
}
