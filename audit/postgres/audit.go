// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"time"

	"github.com/absmach/uasc/audit"
	"github.com/absmach/uasc/errors"
	"github.com/jmoiron/sqlx"
)

var (
	errSave     = errors.New("failed to save audit record")
	errRetrieve = errors.New("failed to retrieve audit records")
)

type repository struct {
	db *sqlx.DB
}

// NewRepository returns an audit.Repository backed by db, whose
// secure_channel_audit table Migration creates.
func NewRepository(db *sqlx.DB) audit.Repository {
	return &repository{db: db}
}

func (r *repository) Save(ctx context.Context, rec audit.Record) error {
	q := `INSERT INTO secure_channel_audit
		(channel_id, token_id, operation, transport_id, policy_uri, lifetime_ms, occurred_at)
		VALUES (:channel_id, :token_id, :operation, :transport_id, :policy_uri, :lifetime_ms, :occurred_at)`

	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}

	_, err := r.db.NamedExecContext(ctx, q, toDBRecord(rec))
	if err != nil {
		return errors.Wrap(errSave, err)
	}
	return nil
}

func (r *repository) RetrieveByChannel(ctx context.Context, channelID uint32) ([]audit.Record, error) {
	q := `SELECT channel_id, token_id, operation, transport_id, policy_uri, lifetime_ms, occurred_at
		FROM secure_channel_audit WHERE channel_id = $1 ORDER BY occurred_at ASC`

	rows, err := r.db.QueryxContext(ctx, q, channelID)
	if err != nil {
		return nil, errors.Wrap(errRetrieve, err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var dbr dbRecord
		if err := rows.StructScan(&dbr); err != nil {
			return nil, errors.Wrap(errRetrieve, err)
		}
		out = append(out, dbr.toRecord())
	}
	return out, nil
}

type dbRecord struct {
	ChannelID   int64     `db:"channel_id"`
	TokenID     int64     `db:"token_id"`
	Operation   string    `db:"operation"`
	TransportID string    `db:"transport_id"`
	PolicyURI   string    `db:"policy_uri"`
	LifetimeMs  int64     `db:"lifetime_ms"`
	OccurredAt  time.Time `db:"occurred_at"`
}

func toDBRecord(r audit.Record) dbRecord {
	return dbRecord{
		ChannelID:   int64(r.ChannelID),
		TokenID:     int64(r.TokenID),
		Operation:   string(r.Operation),
		TransportID: r.TransportID,
		PolicyURI:   r.PolicyURI,
		LifetimeMs:  r.Lifetime.Milliseconds(),
		OccurredAt:  r.OccurredAt,
	}
}

func (dbr dbRecord) toRecord() audit.Record {
	return audit.Record{
		ChannelID:   uint32(dbr.ChannelID),
		TokenID:     uint32(dbr.TokenID),
		Operation:   audit.Operation(dbr.Operation),
		TransportID: dbr.TransportID,
		PolicyURI:   dbr.PolicyURI,
		Lifetime:    time.Duration(dbr.LifetimeMs) * time.Millisecond,
		OccurredAt:  dbr.OccurredAt,
	}
}
