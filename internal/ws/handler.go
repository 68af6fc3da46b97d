// Package ws is the socket boundary: it authenticates connections, upgrades
// them, and dispatches protocol messages to the editing and teleprompter
// engines. Engine errors are mapped to error events; nothing that arrives
// over a socket can crash the process.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ScriptGlance/realtime/internal/editing"
	"github.com/ScriptGlance/realtime/internal/protocol"
	"github.com/ScriptGlance/realtime/internal/room"
	"github.com/ScriptGlance/realtime/internal/teleprompter"
)

const messageTimeout = 10 * time.Second

// Authenticator resolves a verified user identity from the request. The
// actual credential machinery is an external collaborator.
type Authenticator interface {
	Authenticate(r *http.Request) (userID int64, err error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (int64, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(r *http.Request) (int64, error) {
	return f(r)
}

// Handler serves the /ws endpoint.
type Handler struct {
	hub          *room.Hub
	editing      *editing.Engine
	teleprompter *teleprompter.Engine
	auth         Authenticator
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewHandler wires the socket boundary.
func NewHandler(hub *room.Hub, ed *editing.Engine, tp *teleprompter.Engine, auth Authenticator, log zerolog.Logger) *Handler {
	return &Handler{
		hub:          hub,
		editing:      ed,
		teleprompter: tp,
		auth:         auth,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// connState tracks which rooms this connection subscribed to, so disconnect
// cleanup knows what to unwind.
type connState struct {
	editing      map[int64]bool
	teleprompter map[int64]bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		// No verified identity: the connection is refused outright.
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := room.NewClient(conn, userID, h.log)
	h.hub.Register(client)
	state := &connState{
		editing:      make(map[int64]bool),
		teleprompter: make(map[int64]bool),
	}

	go client.WritePump()
	client.ReadPump(
		func(raw []byte) { h.dispatch(client, state, raw) },
		func() { h.disconnect(client, state) },
	)
}

func (h *Handler) dispatch(c *room.Client, state *connState, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	var env protocol.Envelope
	if err := protocol.Decode(raw, &env); err != nil {
		h.reply(c, protocol.NewError("malformed message"))
		return
	}

	var err error
	switch env.Event {
	case protocol.EventSubscribeText:
		var req protocol.SubscribeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.subscribeText(ctx, c, state, req.PresentationID)
		}
	case protocol.EventTextOperations:
		var req protocol.TextOperationsRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.editing.SubmitOperations(ctx, c.UserID, req)
		}
	case protocol.EventCursorPositionChange:
		var req protocol.CursorPositionRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.editing.CursorPositionChange(ctx, c.UserID, c.ID, req)
		}
	case protocol.EventSubscribeTeleprompter:
		var req protocol.SubscribeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.subscribeTeleprompter(ctx, c, state, req.PresentationID)
		}
	case protocol.EventStartPresentation:
		var req protocol.SubscribeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.Start(ctx, c.UserID, req.PresentationID)
		}
	case protocol.EventStopPresentation:
		var req protocol.SubscribeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.Stop(ctx, c.UserID, req.PresentationID)
		}
	case protocol.EventReadingPosition:
		var req protocol.ReadingPositionRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.AdvanceReadingPosition(ctx, c.UserID, req.PresentationID, req.Position)
		}
	case protocol.EventRequestConfirmation:
		var req protocol.SubscribeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.RequestReadingConfirmation(ctx, c.UserID, req.PresentationID)
		}
	case protocol.EventConfirmReading:
		var req protocol.SubscribeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.ConfirmReading(ctx, c.UserID, req.PresentationID)
		}
	case protocol.EventChangeReader:
		var req protocol.ChangeReaderRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.ChangeCurrentReader(ctx, c.UserID, req.PresentationID,
				req.NewReaderUserID, req.FromStartPosition)
		}
	case protocol.EventChangeRecordingMode:
		var req protocol.ChangeRecordingModeRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.ChangeRecordingMode(ctx, c.UserID, req.PresentationID, req.IsActive)
		}
	case protocol.EventRecordedVideosCount:
		var req protocol.RecordedVideosCountRequest
		if err = protocol.Decode(raw, &req); err == nil {
			err = h.teleprompter.RecordedVideosCount(ctx, c.UserID, req.PresentationID,
				req.NotUploadedVideosInPresentation)
		}
	default:
		h.reply(c, protocol.NewError("unknown event"))
		return
	}

	if err != nil {
		h.replyError(c, env.Event, err)
	}
}

// subscribeText joins the room before the engine call so the connection
// receives everything broadcast during its own subscription, and unwinds the
// membership if the engine rejects it.
func (h *Handler) subscribeText(ctx context.Context, c *room.Client, state *connState, presentationID int64) error {
	key := editing.RoomKey(presentationID)
	h.hub.Join(key, c)
	if err := h.editing.Subscribe(ctx, c.UserID, c.ID, presentationID); err != nil {
		h.hub.Leave(key, c)
		return err
	}
	state.editing[presentationID] = true
	return nil
}

func (h *Handler) subscribeTeleprompter(ctx context.Context, c *room.Client, state *connState, presentationID int64) error {
	key := teleprompter.RoomKey(presentationID)
	h.hub.Join(key, c)
	if err := h.teleprompter.Join(ctx, c.UserID, c.ID, presentationID); err != nil {
		h.hub.Leave(key, c)
		return err
	}
	state.teleprompter[presentationID] = true
	return nil
}

func (h *Handler) disconnect(c *room.Client, state *connState) {
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	for presentationID := range state.teleprompter {
		if err := h.teleprompter.Leave(ctx, c.UserID, c.ID, presentationID); err != nil {
			h.log.Error().Err(err).Int64("presentation_id", presentationID).
				Msg("teleprompter leave on disconnect failed")
		}
	}
	for presentationID := range state.editing {
		h.editing.Unsubscribe(c.UserID, c.ID, presentationID)
	}
	h.hub.Unregister(c)
}

func (h *Handler) replyError(c *room.Client, event string, err error) {
	switch {
	case errors.Is(err, protocol.ErrUnauthorized),
		errors.Is(err, protocol.ErrInvalidOperation),
		errors.Is(err, protocol.ErrConflict),
		errors.Is(err, protocol.ErrNotFound):
		h.reply(c, protocol.NewError(err.Error()))
	default:
		// Unexpected failure: log it, drop the message, keep the connection.
		h.log.Error().Err(err).Str("event", event).Int64("user_id", c.UserID).
			Msg("message handling failed")
		h.reply(c, protocol.NewError("internal error"))
	}
}

func (h *Handler) reply(c *room.Client, payload any) {
	h.hub.SendToConn(c.ID, payload)
}
