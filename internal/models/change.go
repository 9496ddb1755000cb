package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeOp is the kind of row change a notification describes.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// ChangeEvent is a per-row change notification. For deletes Row carries the
// removed row. ActorID is nil when the writer could not be attributed.
type ChangeEvent struct {
	Operation ChangeOp        `json:"operation"`
	Relation  Relation        `json:"relation"`
	Row       json.RawMessage `json:"row"`
	ActorID   *uint           `json:"actor_id,omitempty"`
	At        time.Time       `json:"at"`
}

// DecodeRow unmarshals the row payload into dest.
func (e ChangeEvent) DecodeRow(dest any) error {
	if len(e.Row) == 0 {
		return fmt.Errorf("%s %s event has no row", e.Relation, e.Operation)
	}
	return json.Unmarshal(e.Row, dest)
}

// NewChangeEvent marshals row into a change event.
func NewChangeEvent(rel Relation, op ChangeOp, row any, actorID *uint) (ChangeEvent, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshal %s row: %w", rel, err)
	}
	return ChangeEvent{
		Operation: op,
		Relation:  rel,
		Row:       raw,
		ActorID:   cloneID(actorID),
		At:        time.Now().UTC(),
	}, nil
}
