package teleprompter

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ScriptGlance/realtime/internal/content"
	"github.com/ScriptGlance/realtime/internal/protocol"
	"github.com/ScriptGlance/realtime/internal/room"
	"github.com/ScriptGlance/realtime/internal/storage"
)

// Flusher commits a presentation's buffered edits to durable storage; wired
// to the editing engine so a finished rehearsal commits immediately.
type Flusher interface {
	FlushDocument(ctx context.Context, presentationID int64) error
}

// Engine drives the rehearsal state machine for every presentation in this
// process. Per-presentation work is serialized behind a keyed lock; the
// joined sets are process-local by design.
type Engine struct {
	snapshots     *SnapshotStore
	sender        room.Sender
	parts         storage.Parts
	presentations storage.Presentations
	access        storage.Access
	rehearsals    storage.Rehearsals
	content       *content.Store
	flusher       Flusher
	locks         *room.KeyedMutex
	confirmWindow time.Duration
	log           zerolog.Logger

	mu     sync.Mutex
	joined map[int64]map[int64]*JoinedUser

	now      func() time.Time
	schedule func(d time.Duration, f func())
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Snapshots     *SnapshotStore
	Sender        room.Sender
	Parts         storage.Parts
	Presentations storage.Presentations
	Access        storage.Access
	Rehearsals    storage.Rehearsals
	Content       *content.Store
	Flusher       Flusher
	ConfirmWindow time.Duration
	Log           zerolog.Logger
}

// New wires a teleprompter engine.
func New(d Deps) *Engine {
	return &Engine{
		snapshots:     d.Snapshots,
		sender:        d.Sender,
		parts:         d.Parts,
		presentations: d.Presentations,
		access:        d.Access,
		rehearsals:    d.Rehearsals,
		content:       d.Content,
		flusher:       d.Flusher,
		locks:         room.NewKeyedMutex(),
		confirmWindow: d.ConfirmWindow,
		log:           d.Log,
		joined:        make(map[int64]map[int64]*JoinedUser),
		now:           time.Now,
		schedule:      func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// RoomKey names the socket room for a presentation's rehearsal traffic.
func RoomKey(presentationID int64) string {
	return fmt.Sprintf("teleprompter:%d", presentationID)
}

// IsLive reports whether the presentation has an unterminated (running)
// rehearsal session. The content flusher uses this to defer committing text
// edited mid-rehearsal.
func (e *Engine) IsLive(ctx context.Context, presentationID int64) (bool, error) {
	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return false, err
	}
	return sess != nil && sess.IsRunning(), nil
}

// Join adds a participant to the rehearsal. The first join assembles the
// session; a rejoining active reader gets its pending reassignment cancelled
// and a fresh confirmation challenge.
func (e *Engine) Join(ctx context.Context, userID int64, connID string, presentationID int64) error {
	ok, err := e.access.IsParticipant(ctx, userID, presentationID)
	if err != nil {
		return fmt.Errorf("authorize join: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d has no access to presentation %d: %w",
			userID, presentationID, protocol.ErrUnauthorized)
	}

	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	e.addJoined(presentationID, userID)
	e.sender.BroadcastExcept(RoomKey(presentationID), connID, protocol.PresenceEvent{
		Event:  protocol.EventTeleprompterPresence,
		UserID: userID,
		Type:   protocol.PresenceJoined,
	})

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess, err = e.assemble(ctx, presentationID)
		if err != nil {
			return err
		}
		e.sender.Broadcast(RoomKey(presentationID), protocol.OwnerChangedEvent{
			Event:          protocol.EventOwnerChanged,
			NewOwnerUserID: sess.CurrentOwnerUserID,
		})
		e.log.Info().Int64("presentation_id", presentationID).Int64("owner", sess.CurrentOwnerUserID).
			Msg("session assembled")
		return nil
	}

	// The active reader reconnected: supersede any pending reassignment and
	// challenge them directly.
	if item, _, ok := sess.CurrentPart(); ok && item.AssigneeUserID == userID {
		e.cancelConfirmation(sess)
		if sess.MissingUserID != nil && *sess.MissingUserID == userID {
			sess.MissingUserID = nil
			e.sender.SendToUser(RoomKey(presentationID), sess.CurrentOwnerUserID, protocol.SimpleEvent{
				Event: protocol.EventReassignCancelled,
			})
		}
		if sess.IsRunning() {
			if err := e.challenge(ctx, sess, userID); err != nil {
				return err
			}
		}
		return e.snapshots.Save(ctx, sess)
	}
	return nil
}

// Leave removes a participant. The last leave tears the session down; a
// leaving active reader triggers the availability check.
func (e *Engine) Leave(ctx context.Context, userID int64, connID string, presentationID int64) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	if !e.removeJoined(presentationID, userID) {
		// Disconnect cleanup for a user we never tracked.
		return nil
	}
	e.sender.BroadcastExcept(RoomKey(presentationID), connID, protocol.PresenceEvent{
		Event:  protocol.EventTeleprompterPresence,
		UserID: userID,
		Type:   protocol.PresenceLeft,
	})

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	if len(e.joinedUsers(presentationID)) == 0 {
		return e.teardown(ctx, sess)
	}

	if item, _, ok := sess.CurrentPart(); ok && item.AssigneeUserID == userID {
		if err := e.checkReaderAvailability(ctx, sess, false); err != nil {
			return err
		}
		return e.snapshots.Save(ctx, sess)
	}
	return nil
}

// Start begins the rehearsal: structure is re-derived from current state,
// the start timestamp set, and the first reader's availability checked.
func (e *Engine) Start(ctx context.Context, userID int64, presentationID int64) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("presentation %d has no assembled session: %w",
			presentationID, protocol.ErrConflict)
	}
	if sess.CurrentOwnerUserID != userID {
		return fmt.Errorf("only the owner starts the rehearsal: %w", protocol.ErrUnauthorized)
	}
	if sess.IsRunning() {
		return fmt.Errorf("rehearsal already running: %w", protocol.ErrConflict)
	}

	structure, err := e.buildStructure(ctx, presentationID)
	if err != nil {
		return err
	}
	sess.Structure = structure
	sess.ResetPosition()
	sess.MissingUserID = nil
	sess.ClearConfirmation()
	now := e.now()
	sess.CurrentPresentationStartDate = &now

	if err := e.rehearsals.RecordStart(ctx, presentationID, now); err != nil {
		e.log.Error().Err(err).Int64("presentation_id", presentationID).
			Msg("record rehearsal start failed")
	}
	if err := e.snapshots.Save(ctx, sess); err != nil {
		return err
	}

	e.sender.Broadcast(RoomKey(presentationID), protocol.PresentationLifecycleEvent{
		Event:          protocol.EventPresentationStarted,
		PresentationID: presentationID,
	})
	e.broadcastPosition(sess)

	// The part-one reader might not be connected at all.
	if err := e.checkReaderAvailability(ctx, sess, false); err != nil {
		return err
	}
	return e.snapshots.Save(ctx, sess)
}

// Stop ends a running rehearsal but keeps the session assembled while users
// remain joined.
func (e *Engine) Stop(ctx context.Context, userID int64, presentationID int64) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("presentation %d has no session: %w", presentationID, protocol.ErrConflict)
	}
	if sess.CurrentOwnerUserID != userID {
		return fmt.Errorf("only the owner stops the rehearsal: %w", protocol.ErrUnauthorized)
	}
	return e.stopLocked(ctx, sess)
}

// AdvanceReadingPosition moves the active reader forward, auto-advancing
// across part boundaries and stopping the rehearsal after the final
// character of the final part.
func (e *Engine) AdvanceReadingPosition(ctx context.Context, userID int64, presentationID int64, newOffset int) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.IsRunning() {
		return fmt.Errorf("no running rehearsal: %w", protocol.ErrConflict)
	}
	item, last, ok := sess.CurrentPart()
	if !ok {
		return fmt.Errorf("reading position points at unknown part: %w", protocol.ErrConflict)
	}
	if item.AssigneeUserID != userID {
		return fmt.Errorf("user %d is not the current reader: %w", userID, protocol.ErrInvalidOperation)
	}
	if newOffset < 0 || newOffset > item.TextLength {
		return fmt.Errorf("offset %d outside part text length %d: %w",
			newOffset, item.TextLength, protocol.ErrInvalidOperation)
	}

	// The challenged reader advancing is the confirmation we were waiting for.
	if sess.AwaitingConfirmationUserID != nil && *sess.AwaitingConfirmationUserID == userID {
		sess.ClearConfirmation()
		sess.MissingUserID = nil
	}

	partChanged := false
	switch {
	case last && newOffset >= item.TextLength:
		// One past the final character of the final part: the rehearsal is
		// complete.
		return e.stopLocked(ctx, sess)
	case !last && newOffset >= item.TextLength-1:
		i := sess.CurrentPartIndex()
		sess.CurrentReadingPosition = ReadingPosition{PartID: sess.Structure[i+1].PartID}
		partChanged = true
	default:
		sess.CurrentReadingPosition.CharOffset = newOffset
	}

	if partChanged {
		if err := e.checkReaderAvailability(ctx, sess, false); err != nil {
			return err
		}
	}
	if err := e.snapshots.Save(ctx, sess); err != nil {
		return err
	}
	e.broadcastPosition(sess)
	return nil
}

// RequestReadingConfirmation challenges a reader to confirm they will read
// the current part. Only valid while running, with no still-valid pending
// confirmation and no different, still-connected legitimate assignee.
func (e *Engine) RequestReadingConfirmation(ctx context.Context, userID int64, presentationID int64) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.IsRunning() {
		return fmt.Errorf("no running rehearsal: %w", protocol.ErrConflict)
	}
	if err := e.challenge(ctx, sess, userID); err != nil {
		return err
	}
	return e.snapshots.Save(ctx, sess)
}

// ConfirmReading resolves a pending confirmation challenge.
func (e *Engine) ConfirmReading(ctx context.Context, userID int64, presentationID int64) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil || sess.AwaitingConfirmationUserID == nil || *sess.AwaitingConfirmationUserID != userID {
		return fmt.Errorf("no confirmation pending for user %d: %w", userID, protocol.ErrConflict)
	}
	sess.ClearConfirmation()
	sess.MissingUserID = nil
	if err := e.snapshots.Save(ctx, sess); err != nil {
		return err
	}
	e.sender.SendToUser(RoomKey(presentationID), sess.CurrentOwnerUserID, protocol.SimpleEvent{
		Event: protocol.EventReassignCancelled,
	})
	return nil
}

// ChangeCurrentReader reassigns the current part inside the session snapshot.
// Durable part assignment is a separate concern outside this engine.
func (e *Engine) ChangeCurrentReader(ctx context.Context, byUserID, presentationID, newReaderID int64, fromStart bool) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("presentation %d has no session: %w", presentationID, protocol.ErrConflict)
	}
	if sess.CurrentOwnerUserID != byUserID {
		return fmt.Errorf("only the owner reassigns readers: %w", protocol.ErrUnauthorized)
	}
	i := sess.CurrentPartIndex()
	if i < 0 {
		return fmt.Errorf("reading position points at unknown part: %w", protocol.ErrConflict)
	}

	e.cancelConfirmation(sess)
	sess.MissingUserID = nil
	sess.Structure[i].AssigneeUserID = newReaderID
	if fromStart {
		sess.CurrentReadingPosition.CharOffset = 0
	}

	if err := e.checkReaderAvailability(ctx, sess, false); err != nil {
		return err
	}
	if err := e.snapshots.Save(ctx, sess); err != nil {
		return err
	}
	e.broadcastPosition(sess)
	return nil
}

// ChangeRecordingMode toggles a participant's local recording state. The
// live reader cannot toggle while their part is active.
func (e *Engine) ChangeRecordingMode(ctx context.Context, userID int64, presentationID int64, active bool) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess != nil && sess.IsRunning() {
		if item, _, ok := sess.CurrentPart(); ok && item.AssigneeUserID == userID {
			return fmt.Errorf("cannot change recording mode while reading: %w",
				protocol.ErrInvalidOperation)
		}
	}

	e.mu.Lock()
	ju, ok := e.joined[presentationID][userID]
	if ok {
		ju.RecordingMode = active
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("user %d not joined: %w", userID, protocol.ErrInvalidOperation)
	}

	e.sender.Broadcast(RoomKey(presentationID), protocol.RecordingModeChangedEvent{
		Event:    protocol.EventRecordingModeChanged,
		UserID:   userID,
		IsActive: active,
	})
	return nil
}

// RecordedVideosCount relays a participant's pending-upload counter to the
// owner only.
func (e *Engine) RecordedVideosCount(ctx context.Context, userID int64, presentationID int64, count int) error {
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("presentation %d has no session: %w", presentationID, protocol.ErrConflict)
	}
	sess.SetVideoCount(userID, count)
	if err := e.snapshots.Save(ctx, sess); err != nil {
		return err
	}
	e.sender.SendToUser(RoomKey(presentationID), sess.CurrentOwnerUserID, protocol.VideosCountChangeEvent{
		Event:  protocol.EventVideosCountChange,
		UserID: userID,
		Count:  count,
	})
	return nil
}

// SweepOrphans finalizes sessions left behind by a previous process
// lifetime. Joined sets are process-local, so any persisted session at boot
// cannot have live participants.
func (e *Engine) SweepOrphans(ctx context.Context) error {
	sessions, err := e.snapshots.All(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.IsRunning() {
			if err := e.rehearsals.RecordEnd(ctx, sess.PresentationID, e.now()); err != nil {
				e.log.Error().Err(err).Int64("presentation_id", sess.PresentationID).
					Msg("finalize orphaned rehearsal failed")
			}
		}
		if err := e.snapshots.Delete(ctx, sess.PresentationID); err != nil {
			e.log.Error().Err(err).Int64("presentation_id", sess.PresentationID).
				Msg("delete orphaned session failed")
			continue
		}
		e.log.Info().Int64("presentation_id", sess.PresentationID).Msg("orphaned session cleaned up")
	}
	return nil
}

////////////////////////////////////////
// internals (callers hold the presentation lock)

func (e *Engine) assemble(ctx context.Context, presentationID int64) (*ActiveSession, error) {
	structure, err := e.buildStructure(ctx, presentationID)
	if err != nil {
		return nil, err
	}
	pres, err := e.presentations.ByID(ctx, presentationID)
	if err != nil {
		return nil, err
	}

	owner := pres.OwnerUserID
	if !e.isJoined(presentationID, owner) {
		users := e.joinedUsers(presentationID)
		if len(users) > 0 {
			owner = users[0]
		}
	}

	sess := &ActiveSession{
		PresentationID:     presentationID,
		Structure:          structure,
		CurrentOwnerUserID: owner,
	}
	sess.ResetPosition()
	if err := e.snapshots.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// buildStructure snapshots the part list: text length from the possibly
// cached text, assignee from durable structure.
func (e *Engine) buildStructure(ctx context.Context, presentationID int64) ([]PartStructureItem, error) {
	parts, err := e.parts.ByPresentation(ctx, presentationID)
	if err != nil {
		return nil, err
	}
	items := make([]PartStructureItem, 0, len(parts))
	for _, p := range parts {
		snap, err := e.content.Read(ctx, content.Key{PartID: p.ID, Field: storage.FieldText})
		if err != nil {
			return nil, err
		}
		items = append(items, PartStructureItem{
			PartID:         p.ID,
			TextLength:     utf8.RuneCountInString(snap.Content),
			AssigneeUserID: p.AssigneeUserID,
		})
	}
	return items, nil
}

func (e *Engine) stopLocked(ctx context.Context, sess *ActiveSession) error {
	presentationID := sess.PresentationID
	if sess.IsRunning() {
		if err := e.rehearsals.RecordEnd(ctx, presentationID, e.now()); err != nil {
			e.log.Error().Err(err).Int64("presentation_id", presentationID).
				Msg("record rehearsal end failed")
		}
	}
	sess.CurrentPresentationStartDate = nil
	sess.MissingUserID = nil
	e.cancelConfirmation(sess)
	sess.ResetPosition()

	var err error
	if len(e.joinedUsers(presentationID)) == 0 {
		err = e.snapshots.Delete(ctx, presentationID)
	} else {
		err = e.snapshots.Save(ctx, sess)
	}
	if err != nil {
		return err
	}

	e.sender.Broadcast(RoomKey(presentationID), protocol.PresentationLifecycleEvent{
		Event:          protocol.EventPresentationStopped,
		PresentationID: presentationID,
	})

	// Rehearsal over: text is no longer provisional, commit it now.
	if err := e.flusher.FlushDocument(ctx, presentationID); err != nil {
		e.log.Error().Err(err).Int64("presentation_id", presentationID).
			Msg("post-rehearsal flush failed")
	}
	return nil
}

func (e *Engine) teardown(ctx context.Context, sess *ActiveSession) error {
	return e.stopLocked(ctx, sess)
}

// checkReaderAvailability records the current assignee as missing and asks
// the owner to reassign when the assignee is unreachable. timedOut selects
// the not-responding reason over plain missing.
func (e *Engine) checkReaderAvailability(ctx context.Context, sess *ActiveSession, timedOut bool) error {
	if !sess.IsRunning() {
		return nil
	}
	item, _, ok := sess.CurrentPart()
	if !ok {
		return nil
	}
	assignee := item.AssigneeUserID
	roomKey := RoomKey(sess.PresentationID)

	if e.isJoined(sess.PresentationID, assignee) {
		if sess.MissingUserID != nil && *sess.MissingUserID == assignee {
			sess.MissingUserID = nil
			e.sender.SendToUser(roomKey, sess.CurrentOwnerUserID, protocol.SimpleEvent{
				Event: protocol.EventReassignCancelled,
			})
		}
		return nil
	}

	// A still-valid pending confirmation for this reader covers the gap.
	if sess.AwaitingConfirmationUserID != nil && *sess.AwaitingConfirmationUserID == assignee &&
		sess.ConfirmationRequestSentTime != nil &&
		e.now().Before(sess.ConfirmationRequestSentTime.Add(e.confirmWindow)) {
		return nil
	}

	e.cancelConfirmation(sess)
	sess.MissingUserID = &assignee

	reason := protocol.ReasonMissingAssignee
	if timedOut {
		reason = protocol.ReasonAssigneeNotResponding
	}
	e.sender.SendToUser(roomKey, sess.CurrentOwnerUserID, protocol.ReassignRequiredEvent{
		Event:  protocol.EventReassignRequired,
		UserID: assignee,
		PartID: item.PartID,
		Reason: reason,
	})
	e.sender.Broadcast(roomKey, protocol.WaitingForUserEvent{
		Event:  protocol.EventWaitingForUser,
		UserID: assignee,
	})
	e.log.Info().Int64("presentation_id", sess.PresentationID).Int64("user_id", assignee).
		Str("reason", reason).Msg("reader unavailable")
	return nil
}

// challenge records a confirmation request for userID and schedules its
// timeout. The timer is cancelled implicitly: at fire time a different or
// cleared challenge makes it a no-op.
func (e *Engine) challenge(ctx context.Context, sess *ActiveSession, userID int64) error {
	item, _, ok := sess.CurrentPart()
	if !ok {
		return fmt.Errorf("reading position points at unknown part: %w", protocol.ErrConflict)
	}
	if item.AssigneeUserID != userID && e.isJoined(sess.PresentationID, item.AssigneeUserID) {
		return fmt.Errorf("part %d already has a connected reader: %w",
			item.PartID, protocol.ErrConflict)
	}
	if sess.AwaitingConfirmationUserID != nil && sess.ConfirmationRequestSentTime != nil &&
		e.now().Before(sess.ConfirmationRequestSentTime.Add(e.confirmWindow)) {
		return fmt.Errorf("a confirmation request is already outstanding: %w", protocol.ErrConflict)
	}

	now := e.now()
	sess.AwaitingConfirmationUserID = &userID
	sess.ConfirmationRequestSentTime = &now
	sess.MissingUserID = nil

	e.sender.SendToUser(RoomKey(sess.PresentationID), userID, protocol.ConfirmationRequiredEvent{
		Event:                       protocol.EventConfirmationRequired,
		PartID:                      item.PartID,
		TimeToConfirmSeconds:        int(e.confirmWindow.Seconds()),
		CanContinueFromLastPosition: sess.CurrentReadingPosition.CharOffset > 0,
	})

	presentationID := sess.PresentationID
	sentAt := now
	e.schedule(e.confirmWindow, func() {
		e.confirmationTimedOut(presentationID, userID, sentAt)
	})
	return nil
}

// confirmationTimedOut fires after the confirmation window. Stale timers
// detect themselves by comparing the recorded challenge and do nothing.
func (e *Engine) confirmationTimedOut(presentationID, userID int64, sentAt time.Time) {
	ctx := context.Background()
	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	sess, err := e.snapshots.Load(ctx, presentationID)
	if err != nil {
		e.log.Error().Err(err).Int64("presentation_id", presentationID).
			Msg("load session for confirmation timeout")
		return
	}
	if sess == nil || !sess.IsRunning() {
		return
	}
	if sess.AwaitingConfirmationUserID == nil || *sess.AwaitingConfirmationUserID != userID {
		return
	}
	if sess.ConfirmationRequestSentTime == nil || !sess.ConfirmationRequestSentTime.Equal(sentAt) {
		return
	}

	sess.ClearConfirmation()
	if err := e.checkReaderAvailability(ctx, sess, true); err != nil {
		e.log.Error().Err(err).Int64("presentation_id", presentationID).
			Msg("availability check after timeout")
	}
	if err := e.snapshots.Save(ctx, sess); err != nil {
		e.log.Error().Err(err).Int64("presentation_id", presentationID).
			Msg("save session after confirmation timeout")
	}
}

func (e *Engine) cancelConfirmation(sess *ActiveSession) {
	if sess.AwaitingConfirmationUserID == nil {
		return
	}
	e.sender.SendToUser(RoomKey(sess.PresentationID), *sess.AwaitingConfirmationUserID,
		protocol.SimpleEvent{Event: protocol.EventConfirmationCancelled})
	sess.ClearConfirmation()
}

func (e *Engine) broadcastPosition(sess *ActiveSession) {
	e.sender.Broadcast(RoomKey(sess.PresentationID), protocol.ReadingPositionEvent{
		Event:    protocol.EventReadingPosition,
		PartID:   sess.CurrentReadingPosition.PartID,
		Position: sess.CurrentReadingPosition.CharOffset,
	})
}

func (e *Engine) addJoined(presentationID, userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	users, ok := e.joined[presentationID]
	if !ok {
		users = make(map[int64]*JoinedUser)
		e.joined[presentationID] = users
	}
	if _, ok := users[userID]; !ok {
		users[userID] = &JoinedUser{UserID: userID}
	}
}

func (e *Engine) removeJoined(presentationID, userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	users, ok := e.joined[presentationID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(e.joined, presentationID)
	}
	return true
}

func (e *Engine) isJoined(presentationID, userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.joined[presentationID][userID]
	return ok
}

func (e *Engine) joinedUsers(presentationID int64) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := e.joined[presentationID]
	out := make([]int64, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}
