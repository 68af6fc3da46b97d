// Package protocol defines the JSON socket messages exchanged with clients
// and the error taxonomy shared by the editing and teleprompter engines.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/ScriptGlance/realtime/internal/ot"
)

// Error categories. Engines return these (wrapped); the socket layer maps
// them to error events and never crashes the serving process.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
)

// Client-to-server event names.
const (
	EventSubscribeText        = "subscribe_text"
	EventTextOperations       = "text_operations"
	EventCursorPositionChange = "cursor_position_change"

	EventSubscribeTeleprompter = "subscribe_teleprompter"
	EventStartPresentation     = "start_presentation"
	EventStopPresentation      = "stop_presentation"
	EventReadingPosition       = "reading_position"
	EventRequestConfirmation   = "request_reading_confirmation"
	EventConfirmReading        = "confirm_reading"
	EventChangeReader          = "change_reader"
	EventChangeRecordingMode   = "change_recording_mode"
	EventRecordedVideosCount   = "recorded_videos_count"
)

// Server-to-client event names.
const (
	EventEditingPresence       = "editing_presence"
	EventTeleprompterPresence  = "teleprompter_presence"
	EventOwnerChanged          = "owner_changed"
	EventPresentationStarted   = "presentation_started"
	EventPresentationStopped   = "presentation_stopped"
	EventRecordingModeChanged  = "recording_mode_changed"
	EventVideosCountChange     = "recorded_videos_count_change"
	EventReassignRequired      = "part_reassign_required"
	EventReassignCancelled     = "part_reassign_cancelled"
	EventWaitingForUser        = "waiting_for_user"
	EventConfirmationRequired  = "part_reading_confirmation_required"
	EventConfirmationCancelled = "part_reading_confirmation_cancelled"
	EventError                 = "error"
)

// Reassignment reasons carried by part_reassign_required.
const (
	ReasonMissingAssignee       = "missing_assignee"
	ReasonAssigneeNotResponding = "assignee_not_responding"
)

// Presence event types.
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// Envelope is the outer shape of every client message: an event name plus the
// raw payload, decoded a second time by the handler for that event.
type Envelope struct {
	Event string `json:"event"`
}

// SubscribeRequest subscribes the connection to a presentation's editing or
// teleprompter room.
type SubscribeRequest struct {
	PresentationID int64 `json:"presentationId"`
}

// TextOperationsRequest submits an operation sequence against one field of
// one part. Target selects the field ("name" or "text").
type TextOperationsRequest struct {
	PartID      int64          `json:"partId"`
	BaseVersion int            `json:"baseVersion"`
	Operations  []ot.Operation `json:"operations"`
	Target      string         `json:"target"`
}

// TextOperationsEvent echoes an accepted operation sequence to the room,
// author included, carrying the authoritative version.
type TextOperationsEvent struct {
	Event          string         `json:"event"`
	PartID         int64          `json:"partId"`
	Operations     []ot.Operation `json:"operations"`
	Target         string         `json:"target"`
	UserID         int64          `json:"userId"`
	AppliedVersion int            `json:"appliedVersion"`
}

// CursorPositionRequest reports the sender's cursor/selection inside a part.
type CursorPositionRequest struct {
	PartID                  int64  `json:"part_id"`
	CursorPosition          int    `json:"cursor_position"`
	SelectionAnchorPosition *int   `json:"selection_anchor_position,omitempty"`
	Target                  string `json:"target"`
}

// CursorPositionEvent relays a cursor change to the rest of the room.
type CursorPositionEvent struct {
	Event                   string `json:"event"`
	UserID                  int64  `json:"user_id"`
	PartID                  int64  `json:"part_id"`
	CursorPosition          int    `json:"cursor_position"`
	SelectionAnchorPosition *int   `json:"selection_anchor_position,omitempty"`
	Target                  string `json:"target"`
}

// PresenceEvent announces a join or leave inside a room.
type PresenceEvent struct {
	Event  string `json:"event"`
	UserID int64  `json:"user_id"`
	Type   string `json:"type"`
}

// ReadingPositionRequest advances the active reader's position.
type ReadingPositionRequest struct {
	PresentationID int64 `json:"presentationId"`
	Position       int   `json:"position"`
}

// ReadingPositionEvent broadcasts the authoritative reading position.
type ReadingPositionEvent struct {
	Event    string `json:"event"`
	PartID   int64  `json:"partId"`
	Position int    `json:"position"`
}

// OwnerChangedEvent announces the session owner.
type OwnerChangedEvent struct {
	Event          string `json:"event"`
	NewOwnerUserID int64  `json:"newOwnerUserId"`
}

// PresentationLifecycleEvent announces start/stop of a rehearsal.
type PresentationLifecycleEvent struct {
	Event          string `json:"event"`
	PresentationID int64  `json:"presentationId"`
}

// ChangeReaderRequest reassigns the current part to another participant.
type ChangeReaderRequest struct {
	PresentationID    int64 `json:"presentationId"`
	NewReaderUserID   int64 `json:"newReaderUserId"`
	FromStartPosition bool  `json:"fromStartPosition"`
}

// ChangeRecordingModeRequest toggles the sender's local recording mode.
type ChangeRecordingModeRequest struct {
	PresentationID int64 `json:"presentationId"`
	IsActive       bool  `json:"isActive"`
}

// RecordingModeChangedEvent is broadcast when a participant toggles recording.
type RecordingModeChangedEvent struct {
	Event    string `json:"event"`
	UserID   int64  `json:"userId"`
	IsActive bool   `json:"isActive"`
}

// RecordedVideosCountRequest reports how many recorded videos the sender has
// not uploaded yet.
type RecordedVideosCountRequest struct {
	PresentationID                  int64 `json:"presentationId"`
	NotUploadedVideosInPresentation int   `json:"notUploadedVideosInPresentation"`
}

// VideosCountChangeEvent relays a participant's pending-upload count to the
// session owner only.
type VideosCountChangeEvent struct {
	Event  string `json:"event"`
	UserID int64  `json:"userId"`
	Count  int    `json:"count"`
}

// ReassignRequiredEvent asks the owner to reassign the current part.
type ReassignRequiredEvent struct {
	Event  string `json:"event"`
	UserID int64  `json:"userId"`
	PartID int64  `json:"partId"`
	Reason string `json:"reason"`
}

// WaitingForUserEvent tells the room the rehearsal is blocked on a reader.
type WaitingForUserEvent struct {
	Event  string `json:"event"`
	UserID int64  `json:"userId"`
}

// ConfirmationRequiredEvent challenges a reader to confirm they will read.
type ConfirmationRequiredEvent struct {
	Event                       string `json:"event"`
	PartID                      int64  `json:"partId"`
	TimeToConfirmSeconds        int    `json:"timeToConfirmSeconds"`
	CanContinueFromLastPosition bool   `json:"canContinueFromLastPosition"`
}

// SimpleEvent carries an event name and nothing else.
type SimpleEvent struct {
	Event string `json:"event"`
}

// ErrorEvent reports a rejected message back to its sender.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// NewError builds an error event payload.
func NewError(message string) ErrorEvent {
	return ErrorEvent{Event: EventError, Message: message}
}

// Decode unmarshals a raw client message into dst.
func Decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Join(ErrInvalidOperation, err)
	}
	return nil
}
