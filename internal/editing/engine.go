// Package editing orchestrates the live-editing protocol for one process:
// subscriptions, serialized operation application, cursor relay and flushing
// of buffered edits to durable storage.
package editing

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ScriptGlance/realtime/internal/content"
	"github.com/ScriptGlance/realtime/internal/ot"
	"github.com/ScriptGlance/realtime/internal/presence"
	"github.com/ScriptGlance/realtime/internal/protocol"
	"github.com/ScriptGlance/realtime/internal/room"
	"github.com/ScriptGlance/realtime/internal/storage"
)

// historyLimit bounds how many applied sequences are kept per field for
// rebasing stale submissions. Anything older forces a client resync.
const historyLimit = 64

type appliedOps struct {
	version int
	ops     []ot.Operation
}

// Engine is the canonical editing protocol engine. All mutation for one
// presentation is serialized behind a per-presentation lock.
type Engine struct {
	content  *content.Store
	presence presence.Registry
	sender   room.Sender
	access   storage.Access
	parts    storage.Parts
	locks    *room.KeyedMutex
	log      zerolog.Logger

	histMu  sync.Mutex
	history map[content.Key][]appliedOps
}

// New wires an editing engine.
func New(store *content.Store, reg presence.Registry, sender room.Sender, access storage.Access, parts storage.Parts, log zerolog.Logger) *Engine {
	return &Engine{
		content:  store,
		presence: reg,
		sender:   sender,
		access:   access,
		parts:    parts,
		locks:    room.NewKeyedMutex(),
		history:  make(map[content.Key][]appliedOps),
		log:      log,
	}
}

// RoomKey names the socket room for a presentation's editing traffic.
func RoomKey(presentationID int64) string {
	return fmt.Sprintf("editing:%d", presentationID)
}

// Subscribe checks authorization, records presence and announces the join to
// the rest of the room.
func (e *Engine) Subscribe(ctx context.Context, userID int64, connID string, presentationID int64) error {
	ok, err := e.access.IsParticipant(ctx, userID, presentationID)
	if err != nil {
		return fmt.Errorf("authorize subscribe: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d has no access to presentation %d: %w",
			userID, presentationID, protocol.ErrUnauthorized)
	}
	e.presence.Join(presentationID, userID)
	e.sender.BroadcastExcept(RoomKey(presentationID), connID, protocol.PresenceEvent{
		Event:  protocol.EventEditingPresence,
		UserID: userID,
		Type:   protocol.PresenceJoined,
	})
	e.log.Debug().Int64("presentation_id", presentationID).Int64("user_id", userID).
		Msg("subscribed to editing")
	return nil
}

// Unsubscribe removes presence and announces the leave. Unknown users are a
// no-op; this runs from disconnect cleanup.
func (e *Engine) Unsubscribe(userID int64, connID string, presentationID int64) {
	if !e.presence.IsJoined(presentationID, userID) {
		return
	}
	e.presence.Leave(presentationID, userID)
	e.sender.BroadcastExcept(RoomKey(presentationID), connID, protocol.PresenceEvent{
		Event:  protocol.EventEditingPresence,
		UserID: userID,
		Type:   protocol.PresenceLeft,
	})
}

// SubmitOperations applies an operation sequence to one field. Submissions
// based on a stale version are rebased against every sequence applied since;
// a base older than the retained history is rejected so the client resyncs.
// The accepted sequence is echoed to the whole room, author included, with
// the authoritative version.
func (e *Engine) SubmitOperations(ctx context.Context, userID int64, req protocol.TextOperationsRequest) error {
	if req.Target != storage.FieldName && req.Target != storage.FieldText {
		return fmt.Errorf("unknown target %q: %w", req.Target, protocol.ErrInvalidOperation)
	}
	if err := ot.Validate(req.Operations); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidOperation, err)
	}

	presentationID, err := e.parts.PresentationOf(ctx, req.PartID)
	if err != nil {
		return err
	}
	if !e.presence.IsJoined(presentationID, userID) {
		return fmt.Errorf("not subscribed to presentation %d: %w",
			presentationID, protocol.ErrUnauthorized)
	}

	unlock := e.locks.Lock(RoomKey(presentationID))
	defer unlock()

	key := content.Key{PartID: req.PartID, Field: req.Target}
	snap, err := e.content.Read(ctx, key)
	if err != nil {
		return err
	}

	ops := req.Operations
	switch {
	case req.BaseVersion > snap.Version:
		return fmt.Errorf("base version %d ahead of current %d: %w",
			req.BaseVersion, snap.Version, protocol.ErrConflict)
	case req.BaseVersion < snap.Version:
		ops, err = e.rebase(key, ops, req.BaseVersion, snap.Version)
		if err != nil {
			return err
		}
	}

	applied, err := ot.Apply(snap.Content, ops)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidOperation, err)
	}

	newVersion := snap.Version + 1
	if err := e.content.Write(ctx, key, applied, newVersion); err != nil {
		return err
	}
	e.recordApplied(key, newVersion, ops)

	e.sender.Broadcast(RoomKey(presentationID), protocol.TextOperationsEvent{
		Event:          protocol.EventTextOperations,
		PartID:         req.PartID,
		Operations:     ops,
		Target:         req.Target,
		UserID:         userID,
		AppliedVersion: newVersion,
	})
	return nil
}

// CursorPositionChange validates the sender is subscribed before storing and
// relaying the cursor; unsubscribed senders get an explicit error.
func (e *Engine) CursorPositionChange(ctx context.Context, userID int64, connID string, req protocol.CursorPositionRequest) error {
	presentationID, err := e.parts.PresentationOf(ctx, req.PartID)
	if err != nil {
		return err
	}
	if !e.presence.IsJoined(presentationID, userID) {
		return fmt.Errorf("not subscribed to presentation %d: %w",
			presentationID, protocol.ErrUnauthorized)
	}
	e.presence.SetCursor(presentationID, userID, presence.Cursor{
		PartID:                  req.PartID,
		Position:                req.CursorPosition,
		SelectionAnchorPosition: req.SelectionAnchorPosition,
		Target:                  req.Target,
	})
	e.sender.BroadcastExcept(RoomKey(presentationID), connID, protocol.CursorPositionEvent{
		Event:                   protocol.EventCursorPositionChange,
		UserID:                  userID,
		PartID:                  req.PartID,
		CursorPosition:          req.CursorPosition,
		SelectionAnchorPosition: req.SelectionAnchorPosition,
		Target:                  req.Target,
	})
	return nil
}

// FlushDocument opportunistically flushes every field of a presentation's
// parts, used when a rehearsal just stopped rather than waiting for the next
// periodic pass.
func (e *Engine) FlushDocument(ctx context.Context, presentationID int64) error {
	parts, err := e.parts.ByPresentation(ctx, presentationID)
	if err != nil {
		return fmt.Errorf("list parts for flush: %w", err)
	}
	for _, part := range parts {
		for _, field := range []string{storage.FieldName, storage.FieldText} {
			key := content.Key{PartID: part.ID, Field: field}
			if err := e.content.Flush(ctx, key); err != nil {
				e.log.Error().Err(err).Int64("part_id", part.ID).Str("field", field).
					Msg("document flush failed")
			}
		}
	}
	return nil
}

func (e *Engine) rebase(key content.Key, ops []ot.Operation, baseVersion, current int) ([]ot.Operation, error) {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	entries := e.history[key]
	need := current - baseVersion
	if need > len(entries) {
		return nil, fmt.Errorf("base version %d too old, resync required: %w",
			baseVersion, protocol.ErrConflict)
	}
	for _, entry := range entries[len(entries)-need:] {
		ops = ot.Transform(ops, entry.ops)
	}
	return ops, nil
}

func (e *Engine) recordApplied(key content.Key, version int, ops []ot.Operation) {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	entries := append(e.history[key], appliedOps{version: version, ops: ops})
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	e.history[key] = entries
}
