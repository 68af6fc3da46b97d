// Package presence tracks which users are connected to which document and
// their last-known cursor positions. The registry is process-local; a
// multi-process deployment would swap in an implementation backed by the
// shared store.
package presence

import "sync"

// Cursor is a user's last reported cursor/selection inside a part.
type Cursor struct {
	PartID                  int64
	Position                int
	SelectionAnchorPosition *int
	Target                  string
}

// Registry tracks per-document connected users and cursors.
type Registry interface {
	Join(documentID, userID int64)
	Leave(documentID, userID int64)
	SetCursor(documentID, userID int64, c Cursor)
	Cursor(documentID, userID int64) (Cursor, bool)
	Connected(documentID int64) []int64
	IsJoined(documentID, userID int64) bool
}

type entry struct {
	cursor    Cursor
	hasCursor bool
}

type memoryRegistry struct {
	mu   sync.RWMutex
	docs map[int64]map[int64]*entry
}

// NewMemoryRegistry returns the in-process Registry implementation.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{docs: make(map[int64]map[int64]*entry)}
}

func (r *memoryRegistry) Join(documentID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.docs[documentID]
	if !ok {
		users = make(map[int64]*entry)
		r.docs[documentID] = users
	}
	if _, ok := users[userID]; !ok {
		users[userID] = &entry{}
	}
}

func (r *memoryRegistry) Leave(documentID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.docs[documentID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.docs, documentID)
	}
}

func (r *memoryRegistry) SetCursor(documentID, userID int64, c Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.docs[documentID]
	if !ok {
		return
	}
	e, ok := users[userID]
	if !ok {
		return
	}
	e.cursor = c
	e.hasCursor = true
}

func (r *memoryRegistry) Cursor(documentID, userID int64) (Cursor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.docs[documentID][userID]; ok && e.hasCursor {
		return e.cursor, true
	}
	return Cursor{}, false
}

func (r *memoryRegistry) Connected(documentID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := r.docs[documentID]
	out := make([]int64, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	return out
}

func (r *memoryRegistry) IsJoined(documentID, userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.docs[documentID][userID]
	return ok
}
