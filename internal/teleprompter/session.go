// Package teleprompter orchestrates a presentation's rehearsal protocol:
// joining, reading-position tracking, owner control, reader-availability
// detection and the confirmation handshake that keeps the turn from being
// lost when a reader disappears.
package teleprompter

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReadingPosition identifies where the active reader is.
type ReadingPosition struct {
	PartID     int64 `json:"partId"`
	CharOffset int   `json:"charOffset"`
}

// PartStructureItem is the session-local projection of one part, snapshotted
// when the session is created or started. Later edits to a part's length do
// not change it inside a running session.
type PartStructureItem struct {
	PartID         int64 `json:"partId"`
	TextLength     int   `json:"textLength"`
	AssigneeUserID int64 `json:"assigneeUserId"`
}

// VideoCount tracks one participant's recorded-but-not-uploaded videos.
type VideoCount struct {
	UserID int64 `json:"userId"`
	Count  int   `json:"count"`
}

// ActiveSession is the persisted state of one presentation's rehearsal. It is
// stored as a single JSON blob in the shared key/value store and exclusively
// owned by the engine orchestrating that presentation.
type ActiveSession struct {
	PresentationID               int64
	CurrentReadingPosition       ReadingPosition
	Structure                    []PartStructureItem
	CurrentOwnerUserID           int64
	UserRecordedVideos           []VideoCount
	CurrentPresentationStartDate *time.Time
	MissingUserID                *int64
	AwaitingConfirmationUserID   *int64
	ConfirmationRequestSentTime  *time.Time
}

// IsRunning reports whether the rehearsal has been started and not stopped.
func (s *ActiveSession) IsRunning() bool {
	return s.CurrentPresentationStartDate != nil
}

// CurrentPartIndex locates the active reading position in the structure
// snapshot. Returns -1 when the position points at an unknown part.
func (s *ActiveSession) CurrentPartIndex() int {
	for i, item := range s.Structure {
		if item.PartID == s.CurrentReadingPosition.PartID {
			return i
		}
	}
	return -1
}

// CurrentPart returns the active part item and whether it is the final one.
func (s *ActiveSession) CurrentPart() (item PartStructureItem, last bool, ok bool) {
	i := s.CurrentPartIndex()
	if i < 0 {
		return PartStructureItem{}, false, false
	}
	return s.Structure[i], i == len(s.Structure)-1, true
}

// ResetPosition moves the reading position back to the first part at offset 0.
func (s *ActiveSession) ResetPosition() {
	if len(s.Structure) > 0 {
		s.CurrentReadingPosition = ReadingPosition{PartID: s.Structure[0].PartID}
	} else {
		s.CurrentReadingPosition = ReadingPosition{}
	}
}

// ClearConfirmation drops a pending confirmation challenge, if any.
func (s *ActiveSession) ClearConfirmation() {
	s.AwaitingConfirmationUserID = nil
	s.ConfirmationRequestSentTime = nil
}

// SetVideoCount upserts one participant's recorded-video counter.
func (s *ActiveSession) SetVideoCount(userID int64, count int) {
	for i := range s.UserRecordedVideos {
		if s.UserRecordedVideos[i].UserID == userID {
			s.UserRecordedVideos[i].Count = count
			return
		}
	}
	s.UserRecordedVideos = append(s.UserRecordedVideos, VideoCount{UserID: userID, Count: count})
}

// sessionJSON is the explicit wire form of ActiveSession. Dates cross the
// key/value store as RFC 3339 strings and are reparsed on every read, so no
// code ever sees a half-typed timestamp.
type sessionJSON struct {
	PresentationID               int64               `json:"presentationId"`
	CurrentReadingPosition       ReadingPosition     `json:"currentReadingPosition"`
	Structure                    []PartStructureItem `json:"structure"`
	CurrentOwnerUserID           int64               `json:"currentOwnerUserId"`
	UserRecordedVideos           []VideoCount        `json:"userRecordedVideos"`
	CurrentPresentationStartDate *string             `json:"currentPresentationStartDate,omitempty"`
	MissingUserID                *int64              `json:"missingUserId,omitempty"`
	AwaitingConfirmationUserID   *int64              `json:"awaitingConfirmationUserId,omitempty"`
	ConfirmationRequestSentTime  *string             `json:"confirmationRequestSentTime,omitempty"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarshalJSON implements the explicit serialization boundary.
func (s *ActiveSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{
		PresentationID:               s.PresentationID,
		CurrentReadingPosition:       s.CurrentReadingPosition,
		Structure:                    s.Structure,
		CurrentOwnerUserID:           s.CurrentOwnerUserID,
		UserRecordedVideos:           s.UserRecordedVideos,
		CurrentPresentationStartDate: formatTime(s.CurrentPresentationStartDate),
		MissingUserID:                s.MissingUserID,
		AwaitingConfirmationUserID:   s.AwaitingConfirmationUserID,
		ConfirmationRequestSentTime:  formatTime(s.ConfirmationRequestSentTime),
	})
}

// UnmarshalJSON reparses stored timestamps into typed values.
func (s *ActiveSession) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := parseTime(raw.CurrentPresentationStartDate)
	if err != nil {
		return fmt.Errorf("parse start date: %w", err)
	}
	sent, err := parseTime(raw.ConfirmationRequestSentTime)
	if err != nil {
		return fmt.Errorf("parse confirmation time: %w", err)
	}
	*s = ActiveSession{
		PresentationID:               raw.PresentationID,
		CurrentReadingPosition:       raw.CurrentReadingPosition,
		Structure:                    raw.Structure,
		CurrentOwnerUserID:           raw.CurrentOwnerUserID,
		UserRecordedVideos:           raw.UserRecordedVideos,
		CurrentPresentationStartDate: start,
		MissingUserID:                raw.MissingUserID,
		AwaitingConfirmationUserID:   raw.AwaitingConfirmationUserID,
		ConfirmationRequestSentTime:  sent,
	}
	return nil
}

// JoinedUser is process-local per-participant state. It is never persisted:
// a process restart empties the joined sets, which is exactly what the
// orphaned-session sweep relies on.
type JoinedUser struct {
	UserID        int64
	RecordingMode bool
}
