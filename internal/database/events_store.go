package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SuspicionEvent is a persisted row from suspicion.frame, returned by
// RecentSuspicion; no backend REST route exposes it (spec.md treats
// persistence as an implementation detail; this grounds the backend's
// durable event history in SQLite the way the teacher persisted its camera
// events).
type SuspicionEvent struct {
	ID             string
	CameraID       string
	SuspicionScore float64
	Timestamp      time.Time
}

// RecordingStatusEvent is a persisted row from recording.status.
type RecordingStatusEvent struct {
	ID        string
	CameraID  string
	Recording bool
	Timestamp time.Time
}

// EventStore persists the backend's event history, adapted from
// internal/events.Service's repository pattern onto guardcar's domain.
type EventStore struct {
	db *DB
}

// NewEventStore creates an EventStore backed by db.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// RecordSuspicion inserts a suspicion-score event.
func (s *EventStore) RecordSuspicion(ctx context.Context, cameraID string, score float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suspicion_events (id, camera_id, suspicion_score, timestamp)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), cameraID, score, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("database: record suspicion event: %w", err)
	}
	return nil
}

// RecordRecordingStatus inserts a recording-state-change event.
func (s *EventStore) RecordRecordingStatus(ctx context.Context, cameraID string, recording bool) error {
	rec := 0
	if recording {
		rec = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recording_status_events (id, camera_id, recording, timestamp)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), cameraID, rec, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("database: record recording status event: %w", err)
	}
	return nil
}

// RecentSuspicion returns the most recent suspicion events for a camera,
// newest first.
func (s *EventStore) RecentSuspicion(ctx context.Context, cameraID string, limit int) ([]SuspicionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, camera_id, suspicion_score, timestamp
		FROM suspicion_events
		WHERE camera_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("database: query suspicion events: %w", err)
	}
	defer rows.Close()

	var out []SuspicionEvent
	for rows.Next() {
		var e SuspicionEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.CameraID, &e.SuspicionScore, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveProviderRegistration upserts a provider's persisted registration row,
// storing the cert in the AES-GCM-sealed form config.RuntimeConfig uses.
// The edge and backend processes do not call it; they keep registrations
// only in the runtime JSON config, so this table is not kept in step with it.
func (s *EventStore) SaveProviderRegistration(ctx context.Context, name, connectionIP, sealedCertDER string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_registrations (name, connection_ip, server_cert_der, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET connection_ip = excluded.connection_ip, server_cert_der = excluded.server_cert_der
	`, name, connectionIP, sealedCertDER, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("database: save provider registration: %w", err)
	}
	return nil
}

// DeleteProviderRegistration removes a provider's persisted row.
func (s *EventStore) DeleteProviderRegistration(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_registrations WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("database: delete provider registration: %w", err)
	}
	return nil
}

// ProviderRegistrationRow is a row from provider_registrations.
type ProviderRegistrationRow struct {
	Name          string
	ConnectionIP  string
	SealedCertDER string
}

// ListProviderRegistrations returns all persisted provider rows. The edge
// process seeds its provider registry from the runtime JSON config, not
// from this table.
func (s *EventStore) ListProviderRegistrations(ctx context.Context) ([]ProviderRegistrationRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, connection_ip, server_cert_der FROM provider_registrations`)
	if err != nil {
		return nil, fmt.Errorf("database: list provider registrations: %w", err)
	}
	defer rows.Close()

	var out []ProviderRegistrationRow
	for rows.Next() {
		var r ProviderRegistrationRow
		if err := rows.Scan(&r.Name, &r.ConnectionIP, &r.SealedCertDER); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
