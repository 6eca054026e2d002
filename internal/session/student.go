package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"classboard/internal/cache"
	"classboard/internal/config"
	"classboard/internal/notify"
	"classboard/internal/permission"
	"classboard/internal/storage"
	"classboard/internal/transport"
	"classboard/pkg/types"
)

// Student owns one student-side session: identity, the lifecycle state
// machine, and the dispatch of inbound events into the cache, read
// tracker, and permission gate. All mutations are serialized through the
// single event-loop goroutine plus the command surface guarded by mu.
type Student struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	cache    *cache.MessageCache
	reads    *cache.ReadTracker
	gate     *permission.Gate
	notifier notify.Notifier

	mu          sync.Mutex
	state       State
	ch          *transport.Channel
	attempt     string
	identity    types.Identity
	teacherName string
	wasKicked   bool
}

// NewStudent wires a student session over its collaborators.
func NewStudent(cfg *config.Config, store *storage.Store, msgCache *cache.MessageCache, reads *cache.ReadTracker, gate *permission.Gate, notifier notify.Notifier, log *slog.Logger) *Student {
	if log == nil {
		log = slog.Default()
	}
	return &Student{
		cfg:      cfg,
		log:      log,
		store:    store,
		cache:    msgCache,
		reads:    reads,
		gate:     gate,
		notifier: notifier,
	}
}

// joinOutcome carries the handshake result out of the event loop.
type joinOutcome struct {
	result JoinResult
	err    error
}

// Connect validates the identity, dials the channel, and performs the join
// handshake. On success the session enters connected and immediately
// requests message history; on a server rejection it returns to
// disconnected with the reason surfaced, and no automatic retry happens.
func (s *Student) Connect(ctx context.Context, identity types.Identity) (JoinResult, error) {
	identity.Role = types.RoleStudent
	if err := identity.Validate(); err != nil {
		return JoinResult{}, err
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return JoinResult{}, ErrAlreadyConnected
	}
	s.state = StateJoining
	s.identity = identity
	attempt := uuid.NewString()
	s.attempt = attempt
	s.wasKicked = false
	s.mu.Unlock()

	ch, err := transport.Dial(ctx, s.cfg.Server.URL, s.cfg.Transport, s.log)
	if err != nil {
		s.abandonAttempt(attempt)
		return JoinResult{}, fmt.Errorf("dial server: %w", err)
	}

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	joinCh := make(chan joinOutcome, 1)
	go s.loop(ch, attempt, joinCh)

	if err := ch.Send(types.StudentJoin{
		TeacherCode: identity.TeacherCode,
		StudentName: identity.StudentName,
	}); err != nil {
		_ = ch.Close()
		s.abandonAttempt(attempt)
		return JoinResult{}, fmt.Errorf("send join: %w", err)
	}

	select {
	case outcome := <-joinCh:
		return outcome.result, outcome.err
	case <-ctx.Done():
		_ = ch.Close()
		s.abandonAttempt(attempt)
		return JoinResult{}, ctx.Err()
	}
}

// abandonAttempt rolls the state machine back to disconnected, unless a
// newer attempt has already taken over.
func (s *Student) abandonAttempt(attempt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == attempt {
		s.state = StateDisconnected
	}
}

// loop is the single consumer of inbound events for one transport. When
// the transport drops, the session falls back to disconnected and the
// permission gate returns to its unknown default-deny state.
func (s *Student) loop(ch *transport.Channel, attempt string, joinCh chan joinOutcome) {
	for ev := range ch.Inbound() {
		s.handle(ev, ch, attempt, joinCh)
	}

	s.mu.Lock()
	stale := s.attempt != attempt
	wasConnected := s.state == StateConnected
	kicked := s.wasKicked
	if !stale {
		s.state = StateDisconnected
		s.ch = nil
	}
	s.mu.Unlock()
	if stale {
		return
	}

	s.gate.Reset()
	select {
	case joinCh <- joinOutcome{err: ErrTransportClosed}:
	default:
	}
	if wasConnected && !kicked {
		s.notifier.Notice(notify.LevelError, "서버와 연결이 끊어졌습니다")
	}
}

// handle dispatches one inbound event. The type switch covers the closed
// event union; teacher-only events reaching a student session are logged
// and dropped.
func (s *Student) handle(ev types.Inbound, ch *transport.Channel, attempt string, joinCh chan joinOutcome) {
	switch ev := ev.(type) {
	case *types.StudentJoinSuccess:
		s.handleJoinSuccess(ev, ch, attempt, joinCh)

	case *types.StudentJoinError:
		if s.currentAttempt() != attempt {
			return // stale response to a superseded join
		}
		s.abandonAttempt(attempt)
		_ = ch.Close()
		select {
		case joinCh <- joinOutcome{result: JoinResult{Reason: ev.Error}, err: ErrJoinRejected}:
		default:
		}

	case *types.MessageHistory:
		batch := make([]types.Message, 0, len(ev.Messages))
		for _, rec := range ev.Messages {
			batch = append(batch, types.Message{
				ID:        rec.ID,
				Sender:    rec.Sender,
				Body:      rec.Message,
				Timestamp: rec.Timestamp,
				Direction: types.DirectionToStudent,
			})
		}
		if err := s.cache.MergeHistory(batch); err != nil {
			s.notifier.Notice(notify.LevelError, "failed to store message history: "+err.Error())
			return
		}
		if len(batch) > 0 {
			s.notifier.Notice(notify.LevelInfo, fmt.Sprintf("이전 메시지 %d개를 불러왔습니다", len(batch)))
		}

	case *types.ReceiveMessage:
		msg := types.Message{
			ID:         ev.MessageID,
			Sender:     ev.Sender,
			Body:       ev.Message,
			Timestamp:  ev.Timestamp,
			Direction:  types.DirectionToStudent,
			ReceivedAt: time.Now(),
		}
		stored, err := s.cache.ReceiveLive(msg)
		if err != nil {
			s.notifier.Notice(notify.LevelError, "failed to store message: "+err.Error())
			return
		}
		s.reads.HandleLive(stored)

	case *types.MessageDeleted:
		if _, err := s.cache.Remove(ev.MessageID); err != nil {
			s.log.Error("failed to apply server deletion", "error", err)
		}

	case *types.DeleteResult:
		if ev.Status != "success" {
			// The local removal already happened; the entry is not
			// resurrected, the user is only told.
			text := ev.Message
			if text == "" {
				text = "삭제에 실패했습니다"
			}
			s.notifier.Notice(notify.LevelWarning, text)
		}

	case *types.ReceiveStatus:
		s.gate.Apply(ev.Allow)

	case *types.Kicked:
		// A kicked client must not silently remain connected in its own
		// view: force the local transport closed.
		s.mu.Lock()
		s.wasKicked = true
		s.mu.Unlock()
		s.notifier.Notice(notify.LevelWarning, "교사에 의해 연결이 종료되었습니다")
		_ = ch.Close()

	case *types.StudentMessageSent:
		s.notifier.Notice(notify.LevelSuccess, "메시지가 전송되었습니다")

	case *types.StudentMessageError:
		s.notifier.Notice(notify.LevelWarning, ev.Message)

	case *types.MessageSent, *types.DeleteResultTeacher, *types.StudentConnected,
		*types.StudentDisconnected, *types.StudentListUpdate, *types.NewMessageFromStudent,
		*types.TeacherMessages, *types.SentMessages, *types.KickResult:
		s.log.Debug("ignoring teacher-side event", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Student) handleJoinSuccess(ev *types.StudentJoinSuccess, ch *transport.Channel, attempt string, joinCh chan joinOutcome) {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return // stale response to a superseded join
	}
	s.state = StateConnected
	s.teacherName = ev.TeacherName
	identity := s.identity
	identity.TeacherName = ev.TeacherName
	s.identity = identity
	s.mu.Unlock()

	s.gate.Apply(ev.AllowMessages)

	if err := s.store.SaveDocument(storage.DocSession, identity); err != nil {
		s.log.Error("failed to persist session identity", "error", err)
	}

	// A connected session always has its history request outstanding or
	// satisfied.
	if err := ch.Send(types.GetMessageHistory{
		TeacherCode: identity.TeacherCode,
		StudentName: identity.StudentName,
	}); err != nil {
		s.log.Error("failed to request history", "error", err)
	}

	select {
	case joinCh <- joinOutcome{result: JoinResult{OK: true, TeacherName: ev.TeacherName}}:
	default:
	}
}

func (s *Student) currentAttempt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// SendReply submits a student-to-teacher message. The permission gate is
// the sole precondition beyond connectivity and is checked locally: when
// replies are disallowed the send is rejected without a network call.
func (s *Student) SendReply(body string) error {
	if err := types.ValidateBody(body); err != nil {
		return err
	}

	s.mu.Lock()
	ch := s.ch
	connected := s.state == StateConnected
	identity := s.identity
	s.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	if !s.gate.Allowed() {
		return ErrRepliesNotAllowed
	}

	return ch.Send(types.SendMessage{
		SenderType:  types.RoleStudent,
		TeacherCode: identity.TeacherCode,
		StudentName: identity.StudentName,
		Message:     body,
	})
}

// DeleteMessage hides a message: the local cache drops it immediately and
// the server is asked to record the hide. A later rejection surfaces a
// notice but does not restore the entry.
func (s *Student) DeleteMessage(id types.ID) error {
	if _, err := s.cache.Remove(id); err != nil {
		return err
	}

	s.mu.Lock()
	ch := s.ch
	connected := s.state == StateConnected
	identity := s.identity
	s.mu.Unlock()

	if !connected || ch == nil {
		return nil // local hide only; nothing to corroborate while offline
	}
	return ch.Send(types.DeleteMessage{
		TeacherCode: identity.TeacherCode,
		StudentName: identity.StudentName,
		MessageID:   id,
	})
}

// RequestHistory re-fetches the server-side backlog (the "refresh"
// control). A reconnect issues a fresh request rather than cancelling a
// pending one.
func (s *Student) RequestHistory() error {
	s.mu.Lock()
	ch := s.ch
	connected := s.state == StateConnected
	identity := s.identity
	s.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.Send(types.GetMessageHistory{
		TeacherCode: identity.TeacherCode,
		StudentName: identity.StudentName,
	})
}

// ClearMessages empties the local cache in one persisted step. The caller
// is responsible for user confirmation.
func (s *Student) ClearMessages() error {
	return s.cache.Clear()
}

// SetForeground reports surface visibility to the read tracker.
func (s *Student) SetForeground(foreground bool) {
	s.reads.SetForeground(foreground, s.State() == StateConnected)
}

// Disconnect closes the transport and returns the session to
// disconnected.
func (s *Student) Disconnect() {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
}

// State returns the current lifecycle state.
func (s *Student) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TeacherName returns the teacher's display name from the join reply.
func (s *Student) TeacherName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teacherName
}

// RepliesAllowed reports the permission gate value.
func (s *Student) RepliesAllowed() bool {
	return s.gate.Allowed()
}

// LoadStoredIdentity restores the identity persisted by a previous
// session, if any.
func LoadStoredIdentity(store *storage.Store) (types.Identity, bool, error) {
	var identity types.Identity
	ok, err := store.LoadDocument(storage.DocSession, &identity)
	return identity, ok, err
}
