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
	"classboard/internal/roster"
	"classboard/internal/storage"
	"classboard/internal/transport"
	"classboard/pkg/types"
)

// pendingSend is one outbound message awaiting its server ack. The display
// names are captured at send time because the roster may change before the
// ack arrives.
type pendingSend struct {
	body  string
	names []string
	all   bool
}

// Teacher owns one teacher-side session: the roster of connected students,
// the inbox of student replies, the sent-message log, and the reply
// permission toggle. Like the student session, all mutations funnel through
// the event-loop goroutine plus the mu-guarded command surface.
type Teacher struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	inbox    *cache.MessageCache
	reads    *cache.ReadTracker
	roster   *roster.Roster
	sentLog  *SentLog
	gate     *permission.Gate
	notifier notify.Notifier

	mu        sync.Mutex
	state     State
	ch        *transport.Channel
	attempt   string
	identity  types.Identity
	wasKicked bool
	// Acks carry no correlation id, so sends are matched to message_sent
	// replies in FIFO order, same as the wire guarantees per connection.
	pending []pendingSend
}

// NewTeacher wires a teacher session over its collaborators.
func NewTeacher(cfg *config.Config, store *storage.Store, inbox *cache.MessageCache, reads *cache.ReadTracker, r *roster.Roster, sentLog *SentLog, gate *permission.Gate, notifier notify.Notifier, log *slog.Logger) *Teacher {
	if log == nil {
		log = slog.Default()
	}
	return &Teacher{
		cfg:      cfg,
		log:      log,
		store:    store,
		inbox:    inbox,
		reads:    reads,
		roster:   r,
		sentLog:  sentLog,
		gate:     gate,
		notifier: notifier,
	}
}

// Connect validates the identity, dials the channel, and performs the join
// handshake. The server answers a teacher join with the current student
// list followed by the receive toggle state; the first receive_status
// completes the handshake. On success the session immediately requests the
// student-message and sent-message backlogs.
func (t *Teacher) Connect(ctx context.Context, identity types.Identity) (JoinResult, error) {
	identity.Role = types.RoleTeacher
	if err := identity.Validate(); err != nil {
		return JoinResult{}, err
	}

	t.mu.Lock()
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return JoinResult{}, ErrAlreadyConnected
	}
	t.state = StateJoining
	t.identity = identity
	attempt := uuid.NewString()
	t.attempt = attempt
	t.wasKicked = false
	t.pending = nil
	t.mu.Unlock()

	ch, err := transport.Dial(ctx, t.cfg.Server.URL, t.cfg.Transport, t.log)
	if err != nil {
		t.abandonAttempt(attempt)
		return JoinResult{}, fmt.Errorf("dial server: %w", err)
	}

	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()

	joinCh := make(chan joinOutcome, 1)
	go t.loop(ch, attempt, joinCh)

	if err := ch.Send(types.TeacherJoin{
		TeacherCode: identity.TeacherCode,
		TeacherName: identity.TeacherName,
	}); err != nil {
		_ = ch.Close()
		t.abandonAttempt(attempt)
		return JoinResult{}, fmt.Errorf("send join: %w", err)
	}

	select {
	case outcome := <-joinCh:
		return outcome.result, outcome.err
	case <-ctx.Done():
		_ = ch.Close()
		t.abandonAttempt(attempt)
		return JoinResult{}, ctx.Err()
	}
}

func (t *Teacher) abandonAttempt(attempt string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempt == attempt {
		t.state = StateDisconnected
	}
}

func (t *Teacher) loop(ch *transport.Channel, attempt string, joinCh chan joinOutcome) {
	for ev := range ch.Inbound() {
		t.handle(ev, ch, attempt, joinCh)
	}

	t.mu.Lock()
	stale := t.attempt != attempt
	wasConnected := t.state == StateConnected
	if !stale {
		t.state = StateDisconnected
		t.ch = nil
		t.pending = nil
	}
	t.mu.Unlock()
	if stale {
		return
	}

	t.gate.Reset()
	select {
	case joinCh <- joinOutcome{err: ErrTransportClosed}:
	default:
	}
	if wasConnected {
		t.notifier.Notice(notify.LevelError, "서버와 연결이 끊어졌습니다")
	}
}

// handle dispatches one inbound event. Student-only events reaching a
// teacher session are logged and dropped.
func (t *Teacher) handle(ev types.Inbound, ch *transport.Channel, attempt string, joinCh chan joinOutcome) {
	switch ev := ev.(type) {
	case *types.StudentListUpdate:
		t.roster.Replace(ev.Students)

	case *types.ReceiveStatus:
		t.gate.Apply(ev.Allow)
		t.completeJoin(ch, attempt, joinCh)

	case *types.StudentConnected:
		t.roster.ApplyConnected(ev.RosterEntry)
		t.notifier.Notice(notify.LevelInfo, fmt.Sprintf("%s 학생이 접속했습니다", ev.StudentName))

	case *types.StudentDisconnected:
		if entry, ok := t.roster.ApplyDisconnected(ev.SocketID); ok {
			t.notifier.Notice(notify.LevelInfo, fmt.Sprintf("%s 학생의 연결이 끊어졌습니다", entry.StudentName))
		}

	case *types.NewMessageFromStudent:
		msg := types.Message{
			ID:         ev.ID,
			Sender:     ev.StudentName,
			Body:       ev.Message,
			Timestamp:  ev.Timestamp,
			Direction:  types.DirectionToTeacher,
			ReceivedAt: time.Now(),
		}
		stored, err := t.inbox.ReceiveLive(msg)
		if err != nil {
			t.notifier.Notice(notify.LevelError, "failed to store message: "+err.Error())
			return
		}
		t.reads.HandleLive(stored)

	case *types.TeacherMessages:
		batch := make([]types.Message, 0, len(ev.Messages))
		for _, rec := range ev.Messages {
			batch = append(batch, types.Message{
				ID:        rec.ID,
				Sender:    rec.StudentName,
				Body:      rec.Message,
				Timestamp: rec.Timestamp,
				Direction: types.DirectionToTeacher,
			})
		}
		if err := t.inbox.MergeHistory(batch); err != nil {
			t.notifier.Notice(notify.LevelError, "failed to store message history: "+err.Error())
		}

	case *types.SentMessages:
		if err := t.sentLog.Replace(ev.Messages); err != nil {
			t.notifier.Notice(notify.LevelError, "failed to store sent messages: "+err.Error())
		}

	case *types.MessageSent:
		t.handleMessageSent(ev)

	case *types.DeleteResultTeacher:
		if ev.Status == "success" {
			if _, err := t.sentLog.Remove(ev.MessageID); err != nil {
				t.log.Error("failed to drop sent-log entry", "error", err)
				return
			}
			t.notifier.Notice(notify.LevelSuccess, "메시지가 삭제되었습니다")
			return
		}
		text := ev.Message
		if text == "" {
			text = "삭제에 실패했습니다"
		}
		t.notifier.Notice(notify.LevelWarning, text)

	case *types.KickResult:
		if ev.Status == "success" {
			t.notifier.Notice(notify.LevelInfo, fmt.Sprintf("%s 학생을 퇴장시켰습니다", ev.StudentName))
			return
		}
		text := ev.Message
		if text == "" {
			text = "퇴장 처리에 실패했습니다"
		}
		t.notifier.Notice(notify.LevelWarning, text)

	case *types.Kicked:
		t.mu.Lock()
		t.wasKicked = true
		t.mu.Unlock()
		_ = ch.Close()

	case *types.StudentJoinSuccess, *types.StudentJoinError, *types.MessageHistory,
		*types.ReceiveMessage, *types.MessageDeleted, *types.DeleteResult,
		*types.StudentMessageSent, *types.StudentMessageError:
		t.log.Debug("ignoring student-side event", "event", fmt.Sprintf("%T", ev))
	}
}

// completeJoin promotes a joining session to connected on the first
// receive_status and kicks off the backlog requests. Subsequent toggles
// only update the gate.
func (t *Teacher) completeJoin(ch *transport.Channel, attempt string, joinCh chan joinOutcome) {
	t.mu.Lock()
	if t.attempt != attempt || t.state != StateJoining {
		t.mu.Unlock()
		return
	}
	t.state = StateConnected
	identity := t.identity
	t.mu.Unlock()

	if err := t.store.SaveDocument(storage.DocSession, identity); err != nil {
		t.log.Error("failed to persist session identity", "error", err)
	}

	if err := ch.Send(types.GetTeacherMessages{}); err != nil {
		t.log.Error("failed to request student messages", "error", err)
	}
	if err := ch.Send(types.GetSentMessages{}); err != nil {
		t.log.Error("failed to request sent messages", "error", err)
	}

	select {
	case joinCh <- joinOutcome{result: JoinResult{OK: true, Roster: t.roster.Entries()}}:
	default:
	}
}

// handleMessageSent matches a server ack to the oldest unacknowledged send
// and records the labeled sent-log entry.
func (t *Teacher) handleMessageSent(ev *types.MessageSent) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		t.log.Warn("message ack without pending send", "message_id", ev.MessageID.String())
		return
	}
	sent := t.pending[0]
	t.pending = t.pending[1:]
	t.mu.Unlock()

	if ev.Status != "success" {
		t.notifier.Notice(notify.LevelWarning, "메시지 전송에 실패했습니다")
		return
	}

	label := roster.FormatLabel(sent.names, sent.all)
	entry := types.SentMessage{
		ID:         ev.MessageID,
		Label:      label,
		Recipients: sent.names,
		All:        sent.all,
		Body:       sent.body,
		Timestamp:  types.NewTimestamp(time.Now()),
	}
	if err := t.sentLog.Prepend(entry); err != nil {
		t.notifier.Notice(notify.LevelError, "failed to store sent message: "+err.Error())
		return
	}
	t.notifier.Notice(notify.LevelSuccess, fmt.Sprintf("%s에게 메시지를 전송했습니다", label))
}

// Send resolves the recipient selection against the current roster and
// transmits the message. The resolved display names ride along in the
// pending queue so the sent-log entry can be labeled when the ack arrives.
func (t *Teacher) Send(sel roster.Selection, body string) error {
	if err := types.ValidateBody(body); err != nil {
		return err
	}

	t.mu.Lock()
	ch := t.ch
	connected := t.state == StateConnected
	identity := t.identity
	t.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}

	res, err := roster.Resolve(t.roster, sel)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.pending = append(t.pending, pendingSend{body: body, names: res.DisplayNames, all: res.All})
	t.mu.Unlock()

	if err := ch.Send(types.SendMessage{
		SenderType:  types.RoleTeacher,
		TeacherCode: identity.TeacherCode,
		Message:     body,
		Recipients:  res.WireRecipients,
	}); err != nil {
		t.mu.Lock()
		if n := len(t.pending); n > 0 {
			t.pending = t.pending[:n-1]
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

// DeleteSent asks the server to delete a sent message everywhere. The local
// sent-log entry stays until the server confirms, because the delete also
// retracts the message from student caches and may be refused.
func (t *Teacher) DeleteSent(id types.ID) error {
	t.mu.Lock()
	ch := t.ch
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.Send(types.DeleteMessageTeacher{MessageID: id})
}

// ToggleReceive asks the server to flip whether students may send replies.
// The local gate updates when the echoed receive_status arrives.
func (t *Teacher) ToggleReceive() error {
	t.mu.Lock()
	ch := t.ch
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.Send(types.TeacherToggleReceive{Allow: !t.gate.Allowed()})
}

// Kick forcibly disconnects one student.
func (t *Teacher) Kick(socketID string) error {
	t.mu.Lock()
	ch := t.ch
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.Send(types.KickStudent{StudentSocketID: socketID})
}

// RequestInbox re-fetches the student-message backlog.
func (t *Teacher) RequestInbox() error {
	t.mu.Lock()
	ch := t.ch
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.Send(types.GetTeacherMessages{})
}

// RequestSentMessages re-fetches the sent-message backlog.
func (t *Teacher) RequestSentMessages() error {
	t.mu.Lock()
	ch := t.ch
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	return ch.Send(types.GetSentMessages{})
}

// Roster returns the current roster entries sorted by student name.
func (t *Teacher) Roster() []types.RosterEntry {
	return t.roster.Entries()
}

// Inbox returns the cached student messages, newest first.
func (t *Teacher) Inbox() []types.Message {
	return t.inbox.Messages()
}

// SentLog returns the sent-message log, newest first.
func (t *Teacher) SentLog() []types.SentMessage {
	return t.sentLog.Entries()
}

// ReceiveEnabled reports whether student replies are currently allowed.
func (t *Teacher) ReceiveEnabled() bool {
	return t.gate.Allowed()
}

// SetForeground reports surface visibility to the read tracker.
func (t *Teacher) SetForeground(foreground bool) {
	t.reads.SetForeground(foreground, t.State() == StateConnected)
}

// Disconnect closes the transport and returns the session to disconnected.
func (t *Teacher) Disconnect() {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
}

// State returns the current lifecycle state.
func (t *Teacher) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
