package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AckStore keeps one acknowledgement per transmission id in the journal
// database.
type AckStore struct {
	DB *sql.DB
}

func (s *AckStore) Lookup(ctx context.Context, transmissionID string) (Acknowledgement, bool, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT ack_json FROM transmissions WHERE id=?`, transmissionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Acknowledgement{}, false, nil
	}
	if err != nil {
		return Acknowledgement{}, false, fmt.Errorf("lookup transmission: %w", err)
	}
	var ack Acknowledgement
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		return Acknowledgement{}, false, fmt.Errorf("decode stored ack: %w", err)
	}
	return ack, true, nil
}

// Save records ack for t. A second save for the same id keeps the first.
func (s *AckStore) Save(ctx context.Context, t Transmission, ack Acknowledgement) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO transmissions(id,received_at,interaction_id,ack_id,ack_code,ack_json) VALUES (?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		t.ID, ack.CreatedAt.Format(time.RFC3339Nano), t.InteractionID, ack.ID, string(ack.TypeCode), string(data))
	if err != nil {
		return fmt.Errorf("save ack: %w", err)
	}
	return nil
}
