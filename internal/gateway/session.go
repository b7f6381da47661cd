// Package gateway wraps the two upstream Telegram client sessions
// (reader and writer) behind a small capability-tagged API: entity
// resolution, history iteration, sending, and rate-limit absorption.
// It is the only package that imports github.com/gotd/td directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/errs"
)

// role distinguishes the two logical sessions a Gateway holds.
type role string

const (
	roleReader role = "reader"
	roleWriter role = "writer"
)

// accessHashStore persists the access hash gotd/td needs to address a
// channel as a raw InputChannel, independent of its own in-process peer
// cache, so it's still resolvable after a restart or once it ages out of
// that cache (spec §4.1's channels.access_hash column).
type accessHashStore interface {
	SetChannelAccessHash(ctx context.Context, chatID, accessHash int64) error
	ChannelAccessHash(ctx context.Context, chatID int64) (int64, bool, error)
}

// Session owns one upstream client connection and its on-disk session
// store. Reader sessions authenticate interactively (QR or phone code);
// the writer session authenticates as a bot via BOT_TOKEN.
type Session struct {
	role        role
	appID       int
	appHash     string
	botToken    string // empty for the reader
	sessionPath string
	hashes      accessHashStore // nil disables persistence; in-memory cache still applies
	log         *log.Logger

	mu            sync.Mutex
	client        *telegram.Client
	api           *tg.Client
	connected     bool
	cancelRun     context.CancelFunc
	runDone       chan struct{}
	updateHandler telegram.UpdateHandler

	hashMu       sync.Mutex
	accessHashes map[int64]int64
}

// SetUpdateHandler registers the callback invoked for every raw update the
// session receives. It must be called before the first ensureConnected
// (LiveListener wires this in once, at startup, spec §4.6).
func (s *Session) SetUpdateHandler(h telegram.UpdateHandler) {
	s.mu.Lock()
	s.updateHandler = h
	s.mu.Unlock()
}

func newSession(r role, appID int, appHash, botToken, sessionPath string, hashes accessHashStore, logger *log.Logger) *Session {
	return &Session{
		role:        r,
		appID:       appID,
		appHash:     appHash,
		botToken:    botToken,
		sessionPath: sessionPath,
		hashes:      hashes,
		log:         logger,
	}
}

// cachedAccessHash returns a previously-remembered access hash for the
// in-process lifetime of this session, avoiding a store round-trip for
// every raw API call that needs one.
func (s *Session) cachedAccessHash(internalID int64) (int64, bool) {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	hash, ok := s.accessHashes[internalID]
	return hash, ok
}

// rememberAccessHash records a non-zero access hash observed for internalID
// via a dialog listing, a username resolve, or a getFullChannel response —
// the only three places gotd/td ever hands one back (spec §4.1/§4.2).
func (s *Session) rememberAccessHash(ctx context.Context, internalID, accessHash int64) {
	if accessHash == 0 {
		return
	}
	s.hashMu.Lock()
	if s.accessHashes == nil {
		s.accessHashes = make(map[int64]int64)
	}
	s.accessHashes[internalID] = accessHash
	s.hashMu.Unlock()

	if s.hashes == nil {
		return
	}
	if err := s.hashes.SetChannelAccessHash(ctx, channelChatID(internalID), accessHash); err != nil {
		s.log.Printf("[gateway:%s] persist access hash for channel %d: %v", s.role, internalID, err)
	}
}

// isAuthorized reports whether the session currently holds a usable
// authorization, without forcing a connection attempt.
func (s *Session) isAuthorized(ctx context.Context) bool {
	s.mu.Lock()
	api := s.api
	connected := s.connected
	s.mu.Unlock()
	if !connected || api == nil {
		return false
	}
	_, err := api.UpdatesGetState(ctx)
	return err == nil
}

// ensureConnected brings up the underlying client if it is not already
// running, tolerating a corrupt session store by rebuilding it in place
// (spec §4.2, §9 "session-storage self-heal"). The *Session itself is kept
// across rebuilds so callers holding a reference to it keep working.
func (s *Session) ensureConnected(ctx context.Context) (*tg.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected && s.api != nil {
		return s.api, nil
	}

	api, err := s.start(ctx)
	if err != nil && errs.Is(err, errs.SessionCorrupt) {
		s.log.Printf("[gateway:%s] session store corrupt, rebuilding: %v", s.role, err)
		if rmErr := s.deleteSessionFiles(); rmErr != nil {
			return nil, errs.New(errs.SessionCorrupt, "ensureConnected", rmErr)
		}
		api, err = s.start(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.api = api
	s.connected = true
	return api, nil
}

// start launches the telegram.Client's connection loop in a background
// goroutine and blocks until the initial handshake (and, for the writer,
// the bot login) completes or fails.
func (s *Session) start(ctx context.Context) (*tg.Client, error) {
	if err := os.MkdirAll(filepath.Dir(s.sessionPath), 0o700); err != nil {
		return nil, errs.New(errs.UpstreamFailure, "session.start", err)
	}

	client := telegram.NewClient(s.appID, s.appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: s.sessionPath},
		UpdateHandler:  s.updateHandler,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			if err := s.authenticate(ctx, client); err != nil {
				ready <- err
				return err
			}
			ready <- nil
			<-ctx.Done()
			return nil
		})
		if err != nil && runCtx.Err() == nil {
			s.log.Printf("[gateway:%s] connection loop exited: %v", s.role, err)
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return nil, classifyUpstreamErr("session.start", err)
		}
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	case <-time.After(60 * time.Second):
		cancel()
		<-done
		return nil, errs.New(errs.UpstreamFailure, "session.start", errors.New("timed out waiting for connection"))
	}

	s.cancelRun = cancel
	s.runDone = done
	s.client = client
	return tg.NewClient(client), nil
}

// authenticate ensures the connection is logged in. The writer logs in
// with its bot token on every fresh connection (idempotent once
// authorized); the reader relies on a prior interactive login (see
// login.go) — if none exists, ensureConnected returns an error and the
// caller must run the onboarding flow.
func (s *Session) authenticate(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return err
	}
	if status.Authorized {
		return nil
	}
	if s.botToken != "" {
		_, err := client.Auth().Bot(ctx, s.botToken)
		return err
	}
	return errors.New("reader session not authorized: run the onboarding login flow first")
}

// Close cancels the session's connection loop and waits for it to exit.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancelRun
	done := s.runDone
	s.connected = false
	s.api = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// deleteSessionFiles removes the session file and its sidecars (journal,
// wal, shm) so the next start() call rebuilds from scratch.
func (s *Session) deleteSessionFiles() error {
	candidates := []string{
		s.sessionPath,
		s.sessionPath + "-journal",
		s.sessionPath + "-wal",
		s.sessionPath + "-shm",
	}
	var firstErr error
	for _, path := range candidates {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func classifyUpstreamErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var fwErr *floodWaitError
	if errors.As(err, &fwErr) {
		return errs.New(errs.FloodWait, op, err)
	}
	text := err.Error()
	kind := errs.ClassifyText(text)
	if kind == errs.UpstreamFailure && looksLikeSessionCorrupt(text) {
		kind = errs.SessionCorrupt
	}
	return errs.New(kind, op, err)
}

func looksLikeSessionCorrupt(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no such table") ||
		strings.Contains(lower, "file is not a database") ||
		strings.Contains(lower, "malformed")
}
