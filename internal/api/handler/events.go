package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pingup-app/eventd/internal/api/request"
	"github.com/pingup-app/eventd/internal/api/response"
	"github.com/pingup-app/eventd/internal/model"
)

// Dispatcher fans an event out to the workflows it triggers.
type Dispatcher interface {
	OnEvent(ctx context.Context, ev model.Event) error
}

// Publisher attempts inline delivery of a chat message to its recipient.
type Publisher interface {
	PublishMessage(ctx context.Context, msg model.Message)
}

type Events struct {
	dispatcher Dispatcher
	publisher  Publisher
}

func NewEvents(dispatcher Dispatcher, publisher Publisher) *Events {
	return &Events{dispatcher: dispatcher, publisher: publisher}
}

// Publish ingests one event. Chat messages are additionally pushed over the
// live channel before the event reaches the scheduler.
func (h *Events) Publish(w http.ResponseWriter, r *http.Request) {
	var req request.PublishEvent
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name == model.EventMessageCreated {
		var msg model.Message
		if err := json.Unmarshal(req.Data, &msg); err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid message payload: "+err.Error())
			return
		}
		if msg.ToUserID == "" {
			response.WriteError(w, http.StatusBadRequest, "message payload missing to_user_id")
			return
		}
		h.publisher.PublishMessage(r.Context(), msg)
	}

	if err := h.dispatcher.OnEvent(r.Context(), model.Event{Name: req.Name, Data: req.Data}); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("event", req.Name).Msg("event dispatch failed")
		response.WriteError(w, http.StatusInternalServerError, "failed to enqueue event")
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
