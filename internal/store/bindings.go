package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/local/forumcast/internal/errs"
)

// UpsertBinding links (sourceGroupID, topicID) to channelChatID, forcing the
// target Channel to in_use=1, is_standby=0 (spec §3 TopicBinding invariant).
func (s *Store) UpsertBinding(ctx context.Context, sourceGroupID, topicID, channelChatID int64) (TopicBinding, error) {
	err := s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO topic_bindings (source_group_id, topic_id, channel_chat_id, active, created_at, updated_at)
			VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(source_group_id, topic_id) DO UPDATE SET
				channel_chat_id = excluded.channel_chat_id,
				active = 1,
				updated_at = CURRENT_TIMESTAMP
		`, sourceGroupID, topicID, channelChatID)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO channels (chat_id, in_use, is_standby, created_at, updated_at)
			VALUES (?, 1, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(chat_id) DO UPDATE SET in_use = 1, is_standby = 0, updated_at = CURRENT_TIMESTAMP
		`, channelChatID)
		return err
	})
	if err != nil {
		return TopicBinding{}, err
	}
	return s.BindingByTopic(ctx, sourceGroupID, topicID)
}

// BindingByTopic reads the binding row for (sourceGroupID, topicID).
func (s *Store) BindingByTopic(ctx context.Context, sourceGroupID, topicID int64) (TopicBinding, error) {
	var b TopicBinding
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_group_id, topic_id, channel_chat_id, active, created_at, updated_at
		FROM topic_bindings WHERE source_group_id = ? AND topic_id = ?
	`, sourceGroupID, topicID).Scan(&b.ID, &b.SourceGroupID, &b.TopicID, &b.ChannelChatID, &active, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, errs.New(errs.Precondition, "BindingByTopic", fmt.Errorf("no binding for topic"))
	}
	b.Active = active != 0
	return b, err
}

// ActiveBindingByTopic returns the binding for (sourceGroupID, topicID) only
// if it is active; used by the live listener's routing lookup.
func (s *Store) ActiveBindingByTopic(ctx context.Context, sourceGroupID, topicID int64) (TopicBinding, bool, error) {
	b, err := s.BindingByTopic(ctx, sourceGroupID, topicID)
	if errs.Is(err, errs.Precondition) {
		return TopicBinding{}, false, nil
	}
	if err != nil {
		return TopicBinding{}, false, err
	}
	return b, b.Active, nil
}

// SetBindingActive flips the active flag for a binding.
func (s *Store) SetBindingActive(ctx context.Context, id int64, active bool) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE topic_bindings SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, boolToInt(active), id)
		return err
	})
}

// DetachAllByChannel deactivates any binding still pointing at channelChatID,
// used before rebinding a recovered topic to a freshly consumed standby
// (spec §4.7 step 2: "detach any lingering bindings on the old channel").
func (s *Store) DetachAllByChannel(ctx context.Context, channelChatID int64) (int, error) {
	var affected int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE topic_bindings SET active = 0, updated_at = CURRENT_TIMESTAMP
			WHERE channel_chat_id = ? AND active = 1
		`, channelChatID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// ListBoundTopics lists every binding joined with source/topic/channel
// titles, for the control panel's read-only listing.
func (s *Store) ListBoundTopics(ctx context.Context) ([]BoundTopic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.source_group_id, b.topic_id, b.channel_chat_id, b.active, b.created_at, b.updated_at,
		       sg.title, t.title, c.title, sg.enabled, t.enabled
		FROM topic_bindings b
		JOIN source_groups sg ON sg.id = b.source_group_id
		JOIN topics t ON t.source_group_id = b.source_group_id AND t.topic_id = b.topic_id
		LEFT JOIN channels c ON c.chat_id = b.channel_chat_id
		ORDER BY b.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BoundTopic
	for rows.Next() {
		var bt BoundTopic
		var active, sgEnabled, tEnabled int
		var channelTitle sql.NullString
		if err := rows.Scan(&bt.ID, &bt.SourceGroupID, &bt.TopicID, &bt.ChannelChatID, &active, &bt.CreatedAt, &bt.UpdatedAt,
			&bt.SourceGroupTitle, &bt.TopicTitle, &channelTitle, &sgEnabled, &tEnabled); err != nil {
			return nil, err
		}
		bt.Active = active != 0
		bt.SourceEnabled = sgEnabled != 0
		bt.TopicEnabled = tEnabled != 0
		bt.ChannelTitle = channelTitle.String
		out = append(out, bt)
	}
	return out, rows.Err()
}

// ActiveBindingForScan is an active binding augmented with the enabled flags
// the monitor needs to skip disabled groups/topics without extra queries
// (spec §4.5).
type ActiveBindingForScan struct {
	TopicBinding
	SourceEnabled bool
	TopicEnabled  bool
}

// ListActiveBindingsForScan returns every active binding joined with its
// source/topic enabled flags, for the periodic monitor sweep.
func (s *Store) ListActiveBindingsForScan(ctx context.Context) ([]ActiveBindingForScan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.source_group_id, b.topic_id, b.channel_chat_id, b.active, b.created_at, b.updated_at,
		       sg.enabled, t.enabled
		FROM topic_bindings b
		JOIN source_groups sg ON sg.id = b.source_group_id
		JOIN topics t ON t.source_group_id = b.source_group_id AND t.topic_id = b.topic_id
		WHERE b.active = 1
		ORDER BY b.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActiveBindingForScan
	for rows.Next() {
		var a ActiveBindingForScan
		var active, sgEnabled, tEnabled int
		if err := rows.Scan(&a.ID, &a.SourceGroupID, &a.TopicID, &a.ChannelChatID, &active, &a.CreatedAt, &a.UpdatedAt,
			&sgEnabled, &tEnabled); err != nil {
			return nil, err
		}
		a.Active = active != 0
		a.SourceEnabled = sgEnabled != 0
		a.TopicEnabled = tEnabled != 0
		out = append(out, a)
	}
	return out, rows.Err()
}
