// Package storage holds the durable-store contracts consumed by the realtime
// engines, plus their Postgres implementation. The engines only ever need
// narrow find/save calls; everything else about persistence lives outside
// this process.
package storage

import (
	"context"
	"time"
)

// Field names of a part that can be edited collaboratively.
const (
	FieldName = "name"
	FieldText = "text"
)

// Part is one named, ordered section of a presentation.
type Part struct {
	ID             int64
	PresentationID int64
	Order          int
	Name           string
	Text           string
	AssigneeUserID int64
}

// Presentation carries the structure-level facts the engines need.
type Presentation struct {
	ID          int64
	OwnerUserID int64
	Name        string
}

// Parts reads and writes presentation parts.
type Parts interface {
	// ByPresentation returns the presentation's parts in reading order.
	ByPresentation(ctx context.Context, presentationID int64) ([]Part, error)
	// Field returns the durable value of one editable field.
	Field(ctx context.Context, partID int64, field string) (string, error)
	// SaveField durably persists one editable field.
	SaveField(ctx context.Context, partID int64, field string, content string) error
	// PresentationOf resolves the presentation a part belongs to.
	PresentationOf(ctx context.Context, partID int64) (int64, error)
}

// Presentations reads presentation records.
type Presentations interface {
	ByID(ctx context.Context, presentationID int64) (Presentation, error)
}

// Access answers authorization questions for the engines. The actual
// authentication/authorization machinery is an external collaborator.
type Access interface {
	IsParticipant(ctx context.Context, userID, presentationID int64) (bool, error)
}

// Rehearsals persists start/end timestamps of rehearsal runs.
type Rehearsals interface {
	RecordStart(ctx context.Context, presentationID int64, at time.Time) error
	RecordEnd(ctx context.Context, presentationID int64, at time.Time) error
}
