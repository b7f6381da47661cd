package gateway

import (
	"log"

	"github.com/local/forumcast/internal/config"
	"github.com/local/forumcast/internal/store"
)

var _ accessHashStore = (*store.Store)(nil)

// Gateway holds the two logical upstream sessions — reader (operator
// account) and writer (bot identity) — behind the capability-tagged API
// the rest of the orchestration core calls through (spec §4.2).
type Gateway struct {
	Reader *Session
	Writer *Session

	notifyChatID int64
	log          *log.Logger
}

// New builds a Gateway from configuration without connecting either
// session; callers invoke EnsureConnected (or let the first operation do
// it lazily) once the process is ready to talk upstream. st, when non-nil,
// backs both sessions' access-hash cache (spec §4.1's channels.access_hash
// column) so channels they address stay reachable across a restart; pass
// nil for short-lived commands that never open the durable store.
func New(cfg config.Config, st *store.Store, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	readerPath := config.ReaderSessionPath(cfg)
	writerPath := config.WriterSessionPath(cfg)

	var hashes accessHashStore
	if st != nil {
		hashes = st
	}

	return &Gateway{
		Reader:       newSession(roleReader, cfg.APIID, cfg.APIHash, "", readerPath, hashes, logger),
		Writer:       newSession(roleWriter, cfg.APIID, cfg.APIHash, cfg.BotToken, writerPath, hashes, logger),
		notifyChatID: cfg.NotifyChatID,
		log:          logger,
	}
}

// ReaderAuthorized and WriterAuthorized report whether the respective
// session currently holds a usable login, without forcing a connection.
func (g *Gateway) ReaderAuthorized() bool { return g.sessionAuthorizedNoBlock(g.Reader) }
func (g *Gateway) WriterAuthorized() bool { return g.sessionAuthorizedNoBlock(g.Writer) }

func (g *Gateway) sessionAuthorizedNoBlock(s *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.api != nil
}

// Close disconnects both sessions.
func (g *Gateway) Close() {
	g.Reader.Close()
	g.Writer.Close()
}
