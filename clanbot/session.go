package clanbot

import (
	"fmt"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const msgNotYourPrompt = "This prompt isn't for you!"

// SessionState is the lifecycle state of an interactive session.
// Open is the only non-terminal state.
type SessionState int32

const (
	SessionOpen SessionState = iota
	SessionCompleted
	SessionExpired
	SessionCancelled
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionCompleted:
		return "completed"
	case SessionExpired:
		return "expired"
	case SessionCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// SessionPurpose identifies which flow a session belongs to
type SessionPurpose string

const (
	PurposeMenu         SessionPurpose = "menu"
	PurposeCreate       SessionPurpose = "create"
	PurposeRename       SessionPurpose = "rename"
	PurposeColor        SessionPurpose = "color"
	PurposeTextChannel  SessionPurpose = "text_channel"
	PurposeVoiceChannel SessionPurpose = "voice_channel"
	PurposeIcon         SessionPurpose = "icon"
	PurposeTransfer     SessionPurpose = "transfer"
	PurposeDelete       SessionPurpose = "delete"
	PurposeLeave        SessionPurpose = "leave"
	PurposeInvite       SessionPurpose = "invite"
)

// SessionEndFunc is called exactly once, when a session leaves Open
type SessionEndFunc func(s *Session, state SessionState)

// SessionOptions describes a new session
type SessionOptions struct {
	// UserID is the only user whose input the session accepts
	UserID  string
	GuildID string

	// OwnerID binds the session to a clan. Sessions bound to a clan are
	// cancelled when the clan is deleted or changes owner.
	OwnerID string

	Purpose SessionPurpose

	// Scope further distinguishes sessions with the same user and
	// purpose which may be open at the same time (ex: invites to
	// different clans)
	Scope string

	Timeout time.Duration
	Data    any
	OnEnd   SessionEndFunc
}

type sessionKey struct {
	userID  string
	purpose SessionPurpose
	scope   string
}

// Session is a time-boxed interactive exchange
type Session struct {
	ID        string
	UserID    string
	GuildID   string
	OwnerID   string
	Purpose   SessionPurpose
	Scope     string
	Data      any
	CreatedAt time.Time
	ExpiresAt time.Time

	state   atomic.Int32
	once    sync.Once
	timer   *time.Timer
	onEnd   SessionEndFunc
	manager *SessionManager
}

func (s *Session) key() sessionKey {
	return sessionKey{userID: s.UserID, purpose: s.Purpose, scope: s.Scope}
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Authorized reports whether userID may interact with the session
func (s *Session) Authorized(userID string) bool {
	return s.UserID == userID
}

// Complete ends the session successfully. It returns false if the session
// already ended, in which case the caller must not act on it.
func (s *Session) Complete() bool {
	return s.end(SessionCompleted)
}

// Cancel ends the session without completing it
func (s *Session) Cancel() bool {
	return s.end(SessionCancelled)
}

func (s *Session) expire() bool {
	return s.end(SessionExpired)
}

func (s *Session) end(state SessionState) bool {
	if !s.state.CompareAndSwap(int32(SessionOpen), int32(state)) {
		return false
	}
	s.cleanup(state)
	return true
}

// cleanup runs at most once, however many paths race to end the session
func (s *Session) cleanup(state SessionState) {
	s.once.Do(
		func() {
			// remove takes the manager lock Open holds while setting timer
			if s.manager != nil {
				s.manager.remove(s, state)
			}
			if s.timer != nil {
				s.timer.Stop()
			}
			if s.onEnd != nil {
				s.onEnd(s, state)
			}
		},
	)
}

func (s *Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID),
		slog.String("purpose", string(s.Purpose)),
		slog.String("user_id", s.UserID),
		slog.String("guild_id", s.GuildID),
		slog.String("owner_id", s.OwnerID),
		slog.String("state", s.State().String()),
	)
}

type cooldownEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// SessionManager tracks open sessions by ID and by (user, purpose, scope),
// and holds the per-user button cooldowns.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	byKey     map[sessionKey]*Session
	cooldowns map[string]*cooldownEntry
	cooldown  time.Duration
	logger    *slog.Logger
	metrics   *metrics
}

// NewSessionManager returns a SessionManager using the given per-user
// cooldown. A cooldown of zero disables it.
func NewSessionManager(cooldown time.Duration, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:  map[string]*Session{},
		byKey:     map[sessionKey]*Session{},
		cooldowns: map[string]*cooldownEntry{},
		cooldown:  cooldown,
		logger:    logger.With(loggerNameKey, "sessions"),
	}
}

// Open starts a new session. An open session with the same user, purpose
// and scope is cancelled first.
func (m *SessionManager) Open(opts SessionOptions) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    opts.UserID,
		GuildID:   opts.GuildID,
		OwnerID:   opts.OwnerID,
		Purpose:   opts.Purpose,
		Scope:     opts.Scope,
		Data:      opts.Data,
		CreatedAt: now,
		ExpiresAt: now.Add(opts.Timeout),
		onEnd:     opts.OnEnd,
		manager:   m,
	}

	m.mu.Lock()
	previous := m.byKey[s.key()]
	m.sessions[s.ID] = s
	m.byKey[s.key()] = s
	s.timer = time.AfterFunc(
		opts.Timeout, func() {
			if s.expire() {
				m.logger.Debug("session expired", "session", s)
			}
		},
	)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.sessionsOpen.Inc()
	}
	if previous != nil {
		previous.Cancel()
	}
	m.logger.Debug("session opened", "session", s)
	return s
}

func (m *SessionManager) remove(s *Session, state SessionState) {
	m.mu.Lock()
	if current, ok := m.sessions[s.ID]; ok && current == s {
		delete(m.sessions, s.ID)
	}
	if current, ok := m.byKey[s.key()]; ok && current == s {
		delete(m.byKey, s.key())
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.sessionsOpen.Dec()
		m.metrics.sessionsEnded.WithLabelValues(string(s.Purpose), state.String()).Inc()
	}
}

// Get returns the open session with the given ID
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.State() != SessionOpen {
		return nil, false
	}
	return s, true
}

// Claim returns the open session with the given ID, if userID may act on
// it. A missing session means it expired (or was replaced or cancelled),
// which is reported as a timeout.
func (m *SessionManager) Claim(id string, userID string) (*Session, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, timeoutError("claim session")
	}
	if !s.Authorized(userID) {
		return nil, preconditionError("claim session", msgNotYourPrompt)
	}
	return s, nil
}

// Find returns the open session for the given user, purpose and scope
func (m *SessionManager) Find(userID string, purpose SessionPurpose, scope string) (
	*Session,
	bool,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[sessionKey{userID: userID, purpose: purpose, scope: scope}]
	if !ok || s.State() != SessionOpen {
		return nil, false
	}
	return s, true
}

// InvalidateClan cancels every open session bound to the given clan,
// returning the number cancelled
func (m *SessionManager) InvalidateClan(guildID string, ownerID string) int {
	m.mu.Lock()
	var matched []*Session
	for _, s := range m.sessions {
		if s.OwnerID != "" && s.GuildID == guildID && s.OwnerID == ownerID {
			matched = append(matched, s)
		}
	}
	m.mu.Unlock()

	var cancelled int
	for _, s := range matched {
		if s.Cancel() {
			cancelled++
		}
	}
	if cancelled > 0 {
		m.logger.Info(
			"cancelled sessions for invalidated clan",
			"guild_id", guildID,
			"owner_id", ownerID,
			"count", cancelled,
		)
	}
	return cancelled
}

// Len returns the number of open sessions
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CancelAll cancels every open session. Used on shutdown.
func (m *SessionManager) CancelAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Cancel()
	}
}

// CooldownAllow reports whether the user may press another menu button.
// If not, it also returns the time the cooldown ends. Entries remove
// themselves once their cooldown has passed.
func (m *SessionManager) CooldownAllow(userID string) (bool, time.Time) {
	if m.cooldown <= 0 {
		return true, time.Time{}
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cooldowns[userID]
	if !ok {
		entry = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(m.cooldown), 1)}
		m.cooldowns[userID] = entry
	}

	r := entry.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, now.Add(delay)
	}

	entry.last = now
	time.AfterFunc(
		m.cooldown, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			current, exists := m.cooldowns[userID]
			if exists && current == entry && entry.last.Equal(now) {
				delete(m.cooldowns, userID)
			}
		},
	)
	return true, time.Time{}
}
