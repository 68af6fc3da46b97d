package teleprompter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timestamps cross the key/value store as RFC 3339 strings; a stored session
// must come back with typed, comparable times.
func TestSessionTimestampsSurviveStorage(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	sent := start.Add(45 * time.Second)
	missing := int64(3)
	awaiting := int64(4)

	sess := &ActiveSession{
		PresentationID:               7,
		CurrentReadingPosition:       ReadingPosition{PartID: 2, CharOffset: 11},
		Structure:                    []PartStructureItem{{PartID: 2, TextLength: 40, AssigneeUserID: 3}},
		CurrentOwnerUserID:           1,
		UserRecordedVideos:           []VideoCount{{UserID: 3, Count: 2}},
		CurrentPresentationStartDate: &start,
		MissingUserID:                &missing,
		AwaitingConfirmationUserID:   &awaiting,
		ConfirmationRequestSentTime:  &sent,
	}

	raw, err := sess.MarshalJSON()
	require.NoError(t, err)

	var got ActiveSession
	require.NoError(t, got.UnmarshalJSON(raw))

	assert.True(t, got.CurrentPresentationStartDate.Equal(start))
	assert.True(t, got.ConfirmationRequestSentTime.Equal(sent))
	assert.Equal(t, sess.CurrentReadingPosition, got.CurrentReadingPosition)
	assert.Equal(t, sess.Structure, got.Structure)
	assert.Equal(t, *sess.MissingUserID, *got.MissingUserID)
	assert.Equal(t, *sess.AwaitingConfirmationUserID, *got.AwaitingConfirmationUserID)
}

func TestSessionAbsentFieldsStayAbsent(t *testing.T) {
	sess := &ActiveSession{PresentationID: 7, CurrentOwnerUserID: 1}
	raw, err := sess.MarshalJSON()
	require.NoError(t, err)

	var got ActiveSession
	require.NoError(t, got.UnmarshalJSON(raw))
	assert.Nil(t, got.CurrentPresentationStartDate)
	assert.Nil(t, got.MissingUserID)
	assert.Nil(t, got.AwaitingConfirmationUserID)
	assert.Nil(t, got.ConfirmationRequestSentTime)
	assert.False(t, got.IsRunning())
}

func TestCurrentPart(t *testing.T) {
	sess := &ActiveSession{
		Structure: []PartStructureItem{
			{PartID: 1, TextLength: 5},
			{PartID: 2, TextLength: 3},
		},
	}
	sess.ResetPosition()

	item, last, ok := sess.CurrentPart()
	require.True(t, ok)
	assert.False(t, last)
	assert.Equal(t, int64(1), item.PartID)

	sess.CurrentReadingPosition = ReadingPosition{PartID: 2}
	item, last, ok = sess.CurrentPart()
	require.True(t, ok)
	assert.True(t, last)
	assert.Equal(t, int64(2), item.PartID)

	sess.CurrentReadingPosition = ReadingPosition{PartID: 9}
	_, _, ok = sess.CurrentPart()
	assert.False(t, ok)
}
