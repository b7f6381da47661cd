package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/local/forumcast/internal/errs"
)

// UpsertChannel creates or updates a Channel by its natural key (chat_id).
// adminCheckAt, when nil, does not clobber an existing value (spec §4.1:
// "upsert with merged admin_check_at (NULL does not clobber existing)").
func (s *Store) UpsertChannel(ctx context.Context, chatID int64, title string, isStandby bool, adminCheckAt *time.Time) (Channel, error) {
	err := s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO channels (chat_id, title, is_standby, in_use, admin_check_at, last_seen_at, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(chat_id) DO UPDATE SET
				title = excluded.title,
				is_standby = excluded.is_standby,
				admin_check_at = COALESCE(excluded.admin_check_at, channels.admin_check_at),
				last_seen_at = CURRENT_TIMESTAMP,
				updated_at = CURRENT_TIMESTAMP
		`, chatID, title, boolToInt(isStandby), adminCheckAt)
		return err
	})
	if err != nil {
		return Channel{}, err
	}
	return s.ChannelByChatID(ctx, chatID)
}

// ChannelByChatID reads a Channel by its provider chat id.
func (s *Store) ChannelByChatID(ctx context.Context, chatID int64) (Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, title, is_standby, in_use, access_hash, consumed_at, admin_check_at, last_seen_at, created_at, updated_at
		FROM channels WHERE chat_id = ?
	`, chatID)
	return scanChannel(row)
}

func scanChannel(row *sql.Row) (Channel, error) {
	var c Channel
	var isStandby, inUse int
	err := row.Scan(&c.ID, &c.ChatID, &c.Title, &isStandby, &inUse, &c.AccessHash, &c.ConsumedAt, &c.AdminCheckAt, &c.LastSeenAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, errs.New(errs.Precondition, "ChannelByChatID", fmt.Errorf("channel not found"))
	}
	c.IsStandby = isStandby != 0
	c.InUse = inUse != 0
	return c, err
}

// ListChannels returns every tracked channel.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx, `
		SELECT id, chat_id, title, is_standby, in_use, access_hash, consumed_at, admin_check_at, last_seen_at, created_at, updated_at
		FROM channels ORDER BY id
	`)
}

// ListStandbyChannels returns channels available for consumption, FIFO by
// insertion order (spec §4.4).
func (s *Store) ListStandbyChannels(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx, `
		SELECT id, chat_id, title, is_standby, in_use, access_hash, consumed_at, admin_check_at, last_seen_at, created_at, updated_at
		FROM channels WHERE is_standby = 1 AND in_use = 0 ORDER BY id ASC
	`)
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		var isStandby, inUse int
		if err := rows.Scan(&c.ID, &c.ChatID, &c.Title, &isStandby, &inUse, &c.AccessHash, &c.ConsumedAt, &c.AdminCheckAt, &c.LastSeenAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.IsStandby = isStandby != 0
		c.InUse = inUse != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetChannelAccessHash records the access hash gotd/td needs to address a
// channel as a raw InputChannel once it's outside the client's in-process
// peer cache (e.g. after a restart). It upserts on chat_id without touching
// standby/in-use bookkeeping, since a channel can be observed (and need its
// hash remembered) well before or after it's ever admitted as standby.
func (s *Store) SetChannelAccessHash(ctx context.Context, chatID, accessHash int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO channels (chat_id, access_hash, is_standby, in_use, created_at, updated_at)
			VALUES (?, ?, 0, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(chat_id) DO UPDATE SET
				access_hash = excluded.access_hash,
				updated_at = CURRENT_TIMESTAMP
		`, chatID, accessHash)
		return err
	})
}

// ChannelAccessHash returns the access hash previously recorded for chatID,
// and whether one has ever been observed.
func (s *Store) ChannelAccessHash(ctx context.Context, chatID int64) (int64, bool, error) {
	var hash int64
	err := s.db.QueryRowContext(ctx, `SELECT access_hash FROM channels WHERE chat_id = ?`, chatID).Scan(&hash)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return hash, hash != 0, nil
}

// ConsumeStandbyChannel returns the oldest available standby and atomically
// flips it to in_use, inside the store's write critical section so two
// recoveries can never claim the same channel (spec §4.4, §5).
func (s *Store) ConsumeStandbyChannel(ctx context.Context) (Channel, bool, error) {
	var (
		ch    Channel
		found bool
	)
	err := s.withWrite(func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, chat_id, title, is_standby, in_use, access_hash, consumed_at, admin_check_at, last_seen_at, created_at, updated_at
			FROM channels WHERE is_standby = 1 AND in_use = 0 ORDER BY id ASC LIMIT 1
		`)
		c, err := scanChannel(row)
		if err != nil {
			if errs.Is(err, errs.Precondition) {
				return nil
			}
			return err
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE channels SET is_standby = 0, in_use = 1, consumed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, c.ID); err != nil {
			return err
		}
		c.IsStandby = false
		c.InUse = true
		now := time.Now().UTC()
		c.ConsumedAt = &now
		ch = c
		found = true
		return nil
	})
	return ch, found, err
}

// ClearStandbyChannels removes every channel not currently in use (clears
// the standby pool and wipes tracked-but-unavailable rows, spec §4.1).
func (s *Store) ClearStandbyChannels(ctx context.Context) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE in_use = 0`)
		return err
	})
}

// DeleteChannel removes a channel row by id.
func (s *Store) DeleteChannel(ctx context.Context, id int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
		return err
	})
}

// MarkChannelLastSeen stamps last_seen_at = now for a channel.
func (s *Store) MarkChannelLastSeen(ctx context.Context, chatID int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE channels SET last_seen_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ?
		`, chatID)
		return err
	})
}
