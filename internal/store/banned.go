package store

import (
	"context"
)

// AddOrRefreshBannedChannel records a BannedChannel keyed logically by
// (sourceGroupID, topicID, channelChatID): the latest row wins and older
// dupes collapse (spec §3).
func (s *Store) AddOrRefreshBannedChannel(ctx context.Context, sourceGroupID, topicID, channelChatID int64, reason string) error {
	return s.withWrite(func() error {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM banned_channels WHERE source_group_id = ? AND topic_id = ? AND channel_chat_id = ?
		`, sourceGroupID, topicID, channelChatID); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO banned_channels (source_group_id, topic_id, channel_chat_id, reason, detected_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, sourceGroupID, topicID, channelChatID, reason)
		return err
	})
}

// ListRecentBannedChannels returns the most recent 300 banned channels
// joined with source/topic titles.
func (s *Store) ListRecentBannedChannels(ctx context.Context) ([]BannedChannelView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.source_group_id, b.topic_id, b.channel_chat_id, b.reason, b.detected_at,
		       sg.title, t.title
		FROM banned_channels b
		JOIN source_groups sg ON sg.id = b.source_group_id
		JOIN topics t ON t.source_group_id = b.source_group_id AND t.topic_id = b.topic_id
		ORDER BY b.detected_at DESC
		LIMIT 300
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BannedChannelView
	for rows.Next() {
		var v BannedChannelView
		if err := rows.Scan(&v.ID, &v.SourceGroupID, &v.TopicID, &v.ChannelChatID, &v.Reason, &v.DetectedAt,
			&v.SourceGroupTitle, &v.TopicTitle); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RemoveBannedChannel removes the ban for a (source, topic, channel) triple,
// called once a recovery completes successfully (spec §4.7 step 4).
func (s *Store) RemoveBannedChannel(ctx context.Context, sourceGroupID, topicID, channelChatID int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM banned_channels WHERE source_group_id = ? AND topic_id = ? AND channel_chat_id = ?
		`, sourceGroupID, topicID, channelChatID)
		return err
	})
}

// ClearBannedChannels removes every banned-channel row.
func (s *Store) ClearBannedChannels(ctx context.Context) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM banned_channels`)
		return err
	})
}
