package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/local/forumcast/internal/errs"
)

// UpsertSourceGroup creates or updates a SourceGroup by its natural key
// (chat_id).
func (s *Store) UpsertSourceGroup(ctx context.Context, chatID int64, title string) (SourceGroup, error) {
	var sg SourceGroup
	err := s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO source_groups (chat_id, title, enabled, created_at, updated_at)
			VALUES (?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title, updated_at = CURRENT_TIMESTAMP
		`, chatID, title)
		return err
	})
	if err != nil {
		return sg, err
	}
	return s.SourceGroupByChatID(ctx, chatID)
}

// SourceGroupByChatID reads a SourceGroup by its provider chat id.
func (s *Store) SourceGroupByChatID(ctx context.Context, chatID int64) (SourceGroup, error) {
	var sg SourceGroup
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, title, enabled, created_at, updated_at FROM source_groups WHERE chat_id = ?
	`, chatID).Scan(&sg.ID, &sg.ChatID, &sg.Title, &enabled, &sg.CreatedAt, &sg.UpdatedAt)
	if err == sql.ErrNoRows {
		return sg, errs.New(errs.Precondition, "SourceGroupByChatID", fmt.Errorf("source group %d not found", chatID))
	}
	sg.Enabled = enabled != 0
	return sg, err
}

// SourceGroupByID reads a SourceGroup by its row id, used by the recovery
// worker which only carries the row id on a RecoveryJob.
func (s *Store) SourceGroupByID(ctx context.Context, id int64) (SourceGroup, error) {
	var sg SourceGroup
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, title, enabled, created_at, updated_at FROM source_groups WHERE id = ?
	`, id).Scan(&sg.ID, &sg.ChatID, &sg.Title, &enabled, &sg.CreatedAt, &sg.UpdatedAt)
	if err == sql.ErrNoRows {
		return sg, errs.New(errs.Precondition, "SourceGroupByID", fmt.Errorf("source group %d not found", id))
	}
	sg.Enabled = enabled != 0
	return sg, err
}

// ListSourceGroups returns every tracked source group.
func (s *Store) ListSourceGroups(ctx context.Context) ([]SourceGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, title, enabled, created_at, updated_at FROM source_groups ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceGroup
	for rows.Next() {
		var sg SourceGroup
		var enabled int
		if err := rows.Scan(&sg.ID, &sg.ChatID, &sg.Title, &enabled, &sg.CreatedAt, &sg.UpdatedAt); err != nil {
			return nil, err
		}
		sg.Enabled = enabled != 0
		out = append(out, sg)
	}
	return out, rows.Err()
}

// SetSourceGroupEnabled flips the enabled flag for a source group.
func (s *Store) SetSourceGroupEnabled(ctx context.Context, sourceGroupID int64, enabled bool) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE source_groups SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, boolToInt(enabled), sourceGroupID)
		return err
	})
}

// UpsertTopic creates or updates a Topic by its natural key
// (source_group_id, topic_id). New topics are disabled by default (spec §3).
func (s *Store) UpsertTopic(ctx context.Context, sourceGroupID, topicID int64, title string) (Topic, error) {
	err := s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO topics (source_group_id, topic_id, title, enabled, created_at, updated_at)
			VALUES (?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(source_group_id, topic_id) DO UPDATE SET title = excluded.title, updated_at = CURRENT_TIMESTAMP
		`, sourceGroupID, topicID, title)
		return err
	})
	if err != nil {
		return Topic{}, err
	}
	return s.TopicByNaturalKey(ctx, sourceGroupID, topicID)
}

// TopicByNaturalKey reads a Topic by (source_group_id, topic_id).
func (s *Store) TopicByNaturalKey(ctx context.Context, sourceGroupID, topicID int64) (Topic, error) {
	var t Topic
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_group_id, topic_id, title, enabled, created_at, updated_at
		FROM topics WHERE source_group_id = ? AND topic_id = ?
	`, sourceGroupID, topicID).Scan(&t.ID, &t.SourceGroupID, &t.TopicID, &t.Title, &enabled, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, errs.New(errs.Precondition, "TopicByNaturalKey", fmt.Errorf("topic (%d,%d) not found", sourceGroupID, topicID))
	}
	t.Enabled = enabled != 0
	return t, err
}

// ListTopics returns all topics for a source group.
func (s *Store) ListTopics(ctx context.Context, sourceGroupID int64) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_group_id, topic_id, title, enabled, created_at, updated_at
		FROM topics WHERE source_group_id = ? ORDER BY id
	`, sourceGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		var enabled int
		if err := rows.Scan(&t.ID, &t.SourceGroupID, &t.TopicID, &t.Title, &enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTopicEnabled flips the enabled flag for a topic (operator opt-in, spec
// §3).
func (s *Store) SetTopicEnabled(ctx context.Context, topicID int64, enabled bool) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE topics SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, boolToInt(enabled), topicID)
		return err
	})
}

// DeleteSourceGroup cascade-deletes a source group and its topics, refusing
// when any job in {running, stopping} references it (spec §3, §4.1).
// Channels whose remaining active bindings drop to zero are released back to
// tracked-but-unavailable.
func (s *Store) DeleteSourceGroup(ctx context.Context, sourceGroupID int64) (DeleteReport, error) {
	var report DeleteReport
	err := s.withWrite(func() error {
		var blocking int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM recovery_jobs WHERE source_group_id = ? AND status IN ('running', 'stopping')
		`, sourceGroupID).Scan(&blocking); err != nil {
			return err
		}
		if blocking > 0 {
			return errs.New(errs.Precondition, "DeleteSourceGroup", fmt.Errorf("source group %d has %d job(s) running or stopping", sourceGroupID, blocking))
		}

		rows, err := s.db.QueryContext(ctx, `SELECT channel_chat_id FROM topic_bindings WHERE source_group_id = ? AND active = 1`, sourceGroupID)
		if err != nil {
			return err
		}
		var channelIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			channelIDs = append(channelIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := s.db.ExecContext(ctx, `DELETE FROM topic_bindings WHERE source_group_id = ?`, sourceGroupID)
		if err != nil {
			return err
		}
		deactivated, _ := res.RowsAffected()
		report.BindingsDeactivated = int(deactivated)

		res, err = s.db.ExecContext(ctx, `DELETE FROM topics WHERE source_group_id = ?`, sourceGroupID)
		if err != nil {
			return err
		}
		deleted, _ := res.RowsAffected()
		report.TopicsDeleted = int(deleted)

		res, err = s.db.ExecContext(ctx, `DELETE FROM banned_channels WHERE source_group_id = ?`, sourceGroupID)
		if err != nil {
			return err
		}
		purged, _ := res.RowsAffected()
		report.BannedChannelsPurged = int(purged)

		for _, chatID := range channelIDs {
			var stillActive int
			if err := s.db.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM topic_bindings WHERE channel_chat_id = ? AND active = 1
			`, chatID).Scan(&stillActive); err != nil {
				return err
			}
			if stillActive == 0 {
				if _, err := s.db.ExecContext(ctx, `
					UPDATE channels SET in_use = 0, is_standby = 0, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ?
				`, chatID); err != nil {
					return err
				}
				report.ChannelsReleased++
			}
		}

		_, err = s.db.ExecContext(ctx, `DELETE FROM source_groups WHERE id = ?`, sourceGroupID)
		return err
	})
	return report, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
