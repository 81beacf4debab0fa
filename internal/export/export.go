package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linkrace/linkrace/internal/race"
	"github.com/linkrace/linkrace/internal/room"
	"github.com/linkrace/linkrace/internal/session"
)

const SchemaVersion = "1"

var ErrBadSchema = errors.New("unsupported schema version")

// Document is the flat exported race file.
type Document struct {
	SchemaVersion string    `json:"schema_version"`
	ExportedAt    time.Time `json:"exported_at"`
	Race          Race      `json:"race"`
}

// Race is the session-like snapshot inside a document. Both local
// sessions and room states flatten into it.
type Race struct {
	ID          string      `json:"id"`
	Title       string      `json:"title,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Start       string      `json:"start_article"`
	Destination string      `json:"destination_article"`
	Rules       race.Rules  `json:"rules"`
	Runs        []*race.Run `json:"runs"`
}

func FromSession(s session.Session) Race {
	return Race{
		ID:          s.ID,
		Title:       s.Title,
		CreatedAt:   s.CreatedAt,
		Start:       s.Start,
		Destination: s.Destination,
		Rules:       s.Rules,
		Runs:        s.Runs,
	}
}

func FromRoom(s room.State) Race {
	return Race{
		ID:          s.Code,
		Title:       s.Title,
		CreatedAt:   s.CreatedAt,
		Start:       s.Start,
		Destination: s.Destination,
		Rules:       s.Rules,
		Runs:        s.Runs,
	}
}

func Marshal(r Race, now time.Time) ([]byte, error) {
	return json.Marshal(Document{
		SchemaVersion: SchemaVersion,
		ExportedAt:    now,
		Race:          r,
	})
}

func Unmarshal(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	if doc.SchemaVersion != SchemaVersion {
		return Document{}, fmt.Errorf("%w: %q", ErrBadSchema, doc.SchemaVersion)
	}
	return doc, nil
}
