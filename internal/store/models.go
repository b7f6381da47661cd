package store

import "time"

// SourceGroup is a supergroup/forum the reader account can see (spec §3).
type SourceGroup struct {
	ID        int64
	ChatID    int64
	Title     string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Topic is a thread inside a forum-enabled SourceGroup, unique on
// (SourceGroupID, TopicID). Disabled by default until an operator opts in.
type Topic struct {
	ID            int64
	SourceGroupID int64
	TopicID       int64
	Title         string
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Channel is a broadcast channel tracked by forumcast, either an available
// standby, a bound target, or tracked-but-unavailable (spec §3).
type Channel struct {
	ID           int64
	ChatID       int64
	Title        string
	IsStandby    bool
	InUse        bool
	AccessHash   int64
	ConsumedAt   *time.Time
	AdminCheckAt *time.Time
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TopicBinding links a (SourceGroup, Topic) to a target channel. At most one
// binding is active per topic.
type TopicBinding struct {
	ID            int64
	SourceGroupID int64
	TopicID       int64
	ChannelChatID int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BoundTopic is a TopicBinding joined with its source/topic/channel titles,
// used by list operations the control panel reads.
type BoundTopic struct {
	TopicBinding
	SourceGroupTitle string
	TopicTitle       string
	ChannelTitle     string
	SourceEnabled    bool
	TopicEnabled     bool
}

// BannedChannel records a target channel detected as lost for a given topic.
type BannedChannel struct {
	ID            int64
	SourceGroupID int64
	TopicID       int64
	ChannelChatID int64
	Reason        string
	DetectedAt    time.Time
}

// BannedChannelView is a BannedChannel joined with its source/topic titles.
type BannedChannelView struct {
	BannedChannel
	SourceGroupTitle string
	TopicTitle       string
}

// JobStatus is the recovery job state machine (spec §3, §9): born pending,
// lives through running, terminates in done/failed/stopped, with stopping as
// the cooperative mid-flight marker.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobStopping JobStatus = "stopping"
	JobStopped  JobStatus = "stopped"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
)

// nonTerminalStatuses is the set a (source, topic) may have at most one
// member of at any time (spec §3 RecoveryJob invariant).
var nonTerminalStatuses = []JobStatus{JobPending, JobRunning, JobStopping}

// RecoveryJob is a durable work unit replacing a lost target channel.
type RecoveryJob struct {
	ID                  int64
	SourceGroupID       int64
	TopicID             int64
	OldChannelChatID    int64
	NewChannelChatID    *int64
	Reason              string
	Status              JobStatus
	RetryCount          int
	LastClonedMessageID int64
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Setting is a single key/value row used for cross-restart cursors.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// DeleteReport summarizes the effect of a cascade delete (spec §4.1).
type DeleteReport struct {
	TopicsDeleted        int
	BindingsDeactivated  int
	ChannelsReleased     int
	BannedChannelsPurged int
}
