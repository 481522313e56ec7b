package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingup-app/eventd/internal/model"
)

type fakeDispatcher struct {
	events []model.Event
	err    error
}

func (d *fakeDispatcher) OnEvent(_ context.Context, ev model.Event) error {
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, ev)
	return nil
}

type fakePublisher struct {
	published []model.Message
}

func (p *fakePublisher) PublishMessage(_ context.Context, msg model.Message) {
	p.published = append(p.published, msg)
}

func TestEventsPublish_DispatchesEvent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	publisher := &fakePublisher{}
	h := NewEvents(dispatcher, publisher)

	rec := httptest.NewRecorder()
	h.Publish(rec, newRequest(http.MethodPost, "/api/v1/events", map[string]any{
		"name": "story.created",
		"data": map[string]string{"story_id": "s1"},
	}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, "story.created", dispatcher.events[0].Name)
	assert.JSONEq(t, `{"story_id":"s1"}`, string(dispatcher.events[0].Data))
	assert.Empty(t, publisher.published)
}

func TestEventsPublish_MessageCreatedAlsoPushesLive(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	publisher := &fakePublisher{}
	h := NewEvents(dispatcher, publisher)

	rec := httptest.NewRecorder()
	h.Publish(rec, newRequest(http.MethodPost, "/api/v1/events", map[string]any{
		"name": "message.created",
		"data": map[string]any{
			"id":              "m1",
			"conversation_id": "c1",
			"from_user_id":    "u1",
			"to_user_id":      "u2",
			"text":            "hello",
		},
	}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "u2", publisher.published[0].ToUserID)
	assert.Equal(t, "hello", publisher.published[0].Text)
	// The event still reaches the scheduler after the live push.
	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, "message.created", dispatcher.events[0].Name)
}

func TestEventsPublish_MissingName(t *testing.T) {
	h := NewEvents(&fakeDispatcher{}, &fakePublisher{})

	rec := httptest.NewRecorder()
	h.Publish(rec, newRequest(http.MethodPost, "/api/v1/events", map[string]any{
		"data": map[string]string{"story_id": "s1"},
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

func TestEventsPublish_InvalidJSON(t *testing.T) {
	h := NewEvents(&fakeDispatcher{}, &fakePublisher{})

	rec := httptest.NewRecorder()
	h.Publish(rec, newRequestRaw(http.MethodPost, "/api/v1/events", "{not json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsPublish_MessageMissingRecipient(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	h := NewEvents(dispatcher, &fakePublisher{})

	rec := httptest.NewRecorder()
	h.Publish(rec, newRequest(http.MethodPost, "/api/v1/events", map[string]any{
		"name": "message.created",
		"data": map[string]string{"text": "hello"},
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, dispatcher.events)
}

func TestEventsPublish_DispatchFailure(t *testing.T) {
	h := NewEvents(&fakeDispatcher{err: assert.AnError}, &fakePublisher{})

	rec := httptest.NewRecorder()
	h.Publish(rec, newRequest(http.MethodPost, "/api/v1/events", map[string]any{
		"name": "user.created",
	}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
