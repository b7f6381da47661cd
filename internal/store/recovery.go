package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/local/forumcast/internal/errs"
)

const maxErrorLen = 500

// Enqueue inserts a pending RecoveryJob for (sourceGroupID, topicID), unless
// one already exists in {pending, running} — idempotent against that set
// (spec §3, §4.1, §8 scenario 1).
func (s *Store) Enqueue(ctx context.Context, sourceGroupID, topicID, oldChannelChatID int64, reason string) (int64, error) {
	var id int64
	err := s.withWrite(func() error {
		existing, err := s.findNonTerminal(ctx, sourceGroupID, topicID, JobPending, JobRunning)
		if err != nil {
			return err
		}
		if existing != 0 {
			id = existing
			return nil
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO recovery_jobs (source_group_id, topic_id, old_channel_chat_id, reason, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, sourceGroupID, topicID, oldChannelChatID, reason)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// EnqueueManual inserts a pending RecoveryJob pre-assigned to channelChatID,
// unless one already exists in {pending, running, stopping} (spec §3, §9
// open question (b): the current behaviour is refusal, not queue-behind).
func (s *Store) EnqueueManual(ctx context.Context, sourceGroupID, topicID, channelChatID int64, reason string) (int64, error) {
	var id int64
	err := s.withWrite(func() error {
		existing, err := s.findNonTerminal(ctx, sourceGroupID, topicID, JobPending, JobRunning, JobStopping)
		if err != nil {
			return err
		}
		if existing != 0 {
			return errs.New(errs.Precondition, "EnqueueManual", fmt.Errorf("job %d already in flight for this topic", existing))
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO recovery_jobs (source_group_id, topic_id, old_channel_chat_id, new_channel_chat_id, reason, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, sourceGroupID, topicID, channelChatID, channelChatID, reason)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *Store) findNonTerminal(ctx context.Context, sourceGroupID, topicID int64, statuses ...JobStatus) (int64, error) {
	placeholders := ""
	args := []any{sourceGroupID, topicID}
	for i, st := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(st))
	}
	var id int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id FROM recovery_jobs
		WHERE source_group_id = ? AND topic_id = ? AND status IN (%s)
		ORDER BY id LIMIT 1
	`, placeholders), args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// ClaimNext atomically selects the oldest pending job, transitions it to
// running, and returns it.
func (s *Store) ClaimNext(ctx context.Context) (RecoveryJob, bool, error) {
	var (
		job   RecoveryJob
		found bool
	)
	err := s.withWrite(func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id FROM recovery_jobs WHERE status = 'pending' ORDER BY id ASC LIMIT 1
		`)
		var id int64
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		j, err := s.transitionToRunning(ctx, id)
		if err != nil {
			return err
		}
		job, found = j, true
		return nil
	})
	return job, found, err
}

// ClaimByID claims a specific job, refusing when it is done or already
// running.
func (s *Store) ClaimByID(ctx context.Context, id int64) (RecoveryJob, error) {
	var job RecoveryJob
	err := s.withWrite(func() error {
		current, err := s.jobByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == JobDone || current.Status == JobRunning {
			return errs.New(errs.Precondition, "ClaimByID", fmt.Errorf("job %d is %s", id, current.Status))
		}
		j, err := s.transitionToRunning(ctx, id)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

func (s *Store) transitionToRunning(ctx context.Context, id int64) (RecoveryJob, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE recovery_jobs SET status = 'running', updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id); err != nil {
		return RecoveryJob{}, err
	}
	return s.jobByID(ctx, id)
}

// Requeue forbids requeuing a done job; on restart=true it zeroes
// retry_count and last_cloned_message_id (spec §3, §4.1).
func (s *Store) Requeue(ctx context.Context, id int64, restart bool) error {
	return s.withWrite(func() error {
		current, err := s.jobByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == JobDone {
			return errs.New(errs.Precondition, "Requeue", fmt.Errorf("job %d is done", id))
		}
		if restart {
			_, err := s.db.ExecContext(ctx, `
				UPDATE recovery_jobs SET status = 'pending', retry_count = 0, last_cloned_message_id = 0, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, id)
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE recovery_jobs SET status = 'pending', updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, id)
		return err
	})
}

// Stop transitions a job toward termination cooperatively: pending->stopped
// immediately, running->stopping cooperatively, stopping is a no-op,
// terminal states reject (spec §4.1, §5).
func (s *Store) Stop(ctx context.Context, id int64) error {
	return s.withWrite(func() error {
		current, err := s.jobByID(ctx, id)
		if err != nil {
			return err
		}
		switch current.Status {
		case JobPending:
			_, err := s.db.ExecContext(ctx, `UPDATE recovery_jobs SET status = 'stopped', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
			return err
		case JobRunning:
			_, err := s.db.ExecContext(ctx, `UPDATE recovery_jobs SET status = 'stopping', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
			return err
		case JobStopping:
			return nil
		default:
			return errs.New(errs.Precondition, "Stop", fmt.Errorf("job %d is terminal (%s)", id, current.Status))
		}
	})
}

// MarkAssignedChannel records the standby channel a recovery consumed.
func (s *Store) MarkAssignedChannel(ctx context.Context, id, newChannelChatID int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE recovery_jobs SET new_channel_chat_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, newChannelChatID, id)
		return err
	})
}

// UpdateProgress persists the checkpoint and never lowers it: a value at or
// below the stored one leaves the row unchanged (spec §5: progressHook calls
// are monotonic within a job).
func (s *Store) UpdateProgress(ctx context.Context, id, lastClonedMessageID int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE recovery_jobs SET last_cloned_message_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND last_cloned_message_id < ?
		`, lastClonedMessageID, id, lastClonedMessageID)
		return err
	})
}

// MarkDone transitions a job to done, recording the final channel and
// checkpoint.
func (s *Store) MarkDone(ctx context.Context, id, newChannelChatID, lastClonedMessageID int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE recovery_jobs SET status = 'done', new_channel_chat_id = ?, last_cloned_message_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, newChannelChatID, lastClonedMessageID, id)
		return err
	})
}

// MarkStopped transitions a job to stopped, preserving its checkpoint.
func (s *Store) MarkStopped(ctx context.Context, id int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE recovery_jobs SET status = 'stopped', updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, id)
		return err
	})
}

// DeleteJob removes a completed job row (spec §4.7 step 4).
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM recovery_jobs WHERE id = ?`, id)
		return err
	})
}

// MarkFailed re-queues to pending with an incremented retry count while
// retryCount+1 < maxRetry, otherwise parks the job as failed (spec §4.1,
// §7, §8 scenario 3). lastError is truncated to 500 characters.
func (s *Store) MarkFailed(ctx context.Context, id int64, lastError string, maxRetry int) (RecoveryJob, error) {
	if len(lastError) > maxErrorLen {
		lastError = lastError[:maxErrorLen]
	}
	var job RecoveryJob
	err := s.withWrite(func() error {
		current, err := s.jobByID(ctx, id)
		if err != nil {
			return err
		}
		nextRetry := current.RetryCount + 1
		if nextRetry < maxRetry {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE recovery_jobs SET status = 'pending', retry_count = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, nextRetry, lastError, id); err != nil {
				return err
			}
		} else {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE recovery_jobs SET status = 'failed', retry_count = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, nextRetry, lastError, id); err != nil {
				return err
			}
		}
		job, err = s.jobByID(ctx, id)
		return err
	})
	return job, err
}

// IsStopRequested reports true when the job's status is stopping/stopped, or
// the row is missing entirely (spec §4.1).
func (s *Store) IsStopRequested(ctx context.Context, id int64) (bool, error) {
	job, err := s.jobByID(ctx, id)
	if errs.Is(err, errs.Precondition) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return job.Status == JobStopping || job.Status == JobStopped, nil
}

// ResetRunning bulk-transitions running -> pending, preserving checkpoints,
// used on process start to recover from an unclean shutdown (spec §4.1,
// §4.8).
func (s *Store) ResetRunning(ctx context.Context) (int, error) {
	var affected int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE recovery_jobs SET status = 'pending', updated_at = CURRENT_TIMESTAMP WHERE status = 'running'
		`)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// JobByID reads a job row by id.
func (s *Store) JobByID(ctx context.Context, id int64) (RecoveryJob, error) {
	return s.jobByID(ctx, id)
}

func (s *Store) jobByID(ctx context.Context, id int64) (RecoveryJob, error) {
	var j RecoveryJob
	var newChannel sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_group_id, topic_id, old_channel_chat_id, new_channel_chat_id, reason, status,
		       retry_count, last_cloned_message_id, last_error, created_at, updated_at
		FROM recovery_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.SourceGroupID, &j.TopicID, &j.OldChannelChatID, &newChannel, &j.Reason, &j.Status,
		&j.RetryCount, &j.LastClonedMessageID, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, errs.New(errs.Precondition, "jobByID", fmt.Errorf("job %d not found", id))
	}
	if err != nil {
		return j, err
	}
	if newChannel.Valid {
		j.NewChannelChatID = &newChannel.Int64
	}
	return j, nil
}
