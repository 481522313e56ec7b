package handler

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pingup-app/eventd/internal/api/response"
	"github.com/pingup-app/eventd/internal/live"
)

type Live struct {
	registry *live.Registry
}

func NewLive(registry *live.Registry) *Live {
	return &Live{registry: registry}
}

// focusMsg is a control message sent by the client when it opens or leaves
// a conversation view.
type focusMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Connect upgrades to WebSocket and registers the connection as the user's
// live channel. A second connection for the same user supersedes the first.
func (h *Live) Connect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		response.WriteError(w, http.StatusBadRequest, "missing user ID")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Origin differs from Host when proxied through the frontend.
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	conn := live.NewWSConn(ws)
	h.registry.Open(userID, conn)
	defer h.registry.Close(userID, conn)

	ctx := r.Context()
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg focusMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "focus" {
			h.registry.SetFocus(userID, msg.ConversationID)
		}
	}
}
