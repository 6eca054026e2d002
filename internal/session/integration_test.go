package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"classboard/internal/cache"
	"classboard/internal/config"
	"classboard/internal/devserver"
	"classboard/internal/notify"
	"classboard/internal/permission"
	"classboard/internal/roster"
	"classboard/internal/schedule"
	"classboard/internal/storage"
	"classboard/pkg/types"
)

const (
	testCode        = "123456"
	testTeacherName = "Kim"
)

type quietNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *quietNotifier) Notice(_ notify.Level, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func (n *quietNotifier) MessageArrived(types.Message, bool) {}

func (n *quietNotifier) UnreadChanged(int) {}

func (n *quietNotifier) hasNotice(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, text := range n.notices {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.URL = url
	cfg.Storage.Path = filepath.Join(t.TempDir(), "client.db")
	// Long enough that nothing flips to read mid-assertion.
	cfg.Read.AutoReadDelay = time.Hour
	return cfg
}

func startServer(t *testing.T) string {
	t.Helper()
	srv := devserver.New(config.DefaultConfig(), nil)
	srv.RegisterTeacher(testCode, testTeacherName)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

type studentHarness struct {
	student  *Student
	cache    *cache.MessageCache
	notifier *quietNotifier
}

func newStudentHarness(t *testing.T, url string) *studentHarness {
	t.Helper()
	cfg := testConfig(t, url)
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	msgCache, err := cache.NewMessageCache(store, storage.DocMessages, cfg.Cache.HistoryPolicy)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	sched := schedule.NewScheduler()
	t.Cleanup(sched.Stop)
	notifier := &quietNotifier{}
	reads := cache.NewReadTracker(msgCache, sched, notifier, cfg.Read.AutoReadDelay, cfg.Read.ForegroundDebounce)

	student := NewStudent(cfg, store, msgCache, reads, permission.NewGate(), notifier, nil)
	t.Cleanup(student.Disconnect)
	return &studentHarness{student: student, cache: msgCache, notifier: notifier}
}

type teacherHarness struct {
	teacher  *Teacher
	inbox    *cache.MessageCache
	roster   *roster.Roster
	sentLog  *SentLog
	notifier *quietNotifier
}

func newTeacherHarness(t *testing.T, url string) *teacherHarness {
	t.Helper()
	cfg := testConfig(t, url)
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	inbox, err := cache.NewMessageCache(store, storage.DocTeacherInbox, cfg.Cache.HistoryPolicy)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	sentLog, err := NewSentLog(store, storage.DocSentMessages, cfg.Cache.SentLogLimit)
	if err != nil {
		t.Fatalf("new sent log: %v", err)
	}
	sched := schedule.NewScheduler()
	t.Cleanup(sched.Stop)
	notifier := &quietNotifier{}
	reads := cache.NewReadTracker(inbox, sched, notifier, cfg.Read.AutoReadDelay, cfg.Read.ForegroundDebounce)
	r := roster.NewRoster()

	teacher := NewTeacher(cfg, store, inbox, reads, r, sentLog, permission.NewGate(), notifier, nil)
	t.Cleanup(teacher.Disconnect)
	return &teacherHarness{teacher: teacher, inbox: inbox, roster: r, sentLog: sentLog, notifier: notifier}
}

func connectStudent(t *testing.T, h *studentHarness, name string) JoinResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := h.student.Connect(ctx, types.Identity{TeacherCode: testCode, StudentName: name})
	if err != nil {
		t.Fatalf("student connect: %v", err)
	}
	return result
}

func connectTeacher(t *testing.T, h *teacherHarness) JoinResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := h.teacher.Connect(ctx, types.Identity{TeacherCode: testCode, TeacherName: testTeacherName})
	if err != nil {
		t.Fatalf("teacher connect: %v", err)
	}
	return result
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStudentJoin_LoadsHistoryAsRead(t *testing.T) {
	url := startServer(t)

	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)
	for _, body := range []string{"first", "second"} {
		if err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectAll}, body); err != nil {
			t.Fatalf("teacher send: %v", err)
		}
	}
	waitFor(t, "teacher acks", func() bool { return len(teacher.sentLog.Entries()) == 2 })

	student := newStudentHarness(t, url)
	result := connectStudent(t, student, "Lee")
	if !result.OK || result.TeacherName != testTeacherName {
		t.Fatalf("unexpected join result: %+v", result)
	}

	waitFor(t, "history", func() bool { return student.cache.Len() == 2 })
	if student.cache.UnreadCount() != 0 {
		t.Errorf("history messages must load read, unread=%d", student.cache.UnreadCount())
	}
	if !student.notifier.hasNotice("이전 메시지 2개") {
		t.Error("expected a loaded-history notice")
	}
}

func TestStudentJoin_RejectedForUnknownCode(t *testing.T) {
	srv := devserver.New(config.DefaultConfig(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	student := newStudentHarness(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := student.student.Connect(ctx, types.Identity{TeacherCode: testCode, StudentName: "Lee"})
	if !errors.Is(err, ErrJoinRejected) {
		t.Fatalf("expected ErrJoinRejected, got %v", err)
	}
	if result.Reason == "" {
		t.Error("expected a rejection reason")
	}
	if student.student.State() != StateDisconnected {
		t.Errorf("rejected session should be disconnected, state=%s", student.student.State())
	}
}

func TestStudentJoin_InvalidIdentityNeverDials(t *testing.T) {
	student := newStudentHarness(t, "ws://127.0.0.1:1/ws")
	_, err := student.student.Connect(context.Background(), types.Identity{TeacherCode: "12", StudentName: "Lee"})
	if !errors.Is(err, types.ErrInvalidTeacherCode) {
		t.Errorf("expected ErrInvalidTeacherCode, got %v", err)
	}
}

func TestTeacherSend_DeliversLiveUnread(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 1 })

	if err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectAll}, "pop quiz"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "delivery", func() bool { return student.cache.Len() == 1 })
	msg := student.cache.Messages()[0]
	if msg.IsRead || msg.IsFromHistory {
		t.Errorf("live message flags wrong: %+v", msg)
	}
	if msg.Sender != testTeacherName || msg.Body != "pop quiz" {
		t.Errorf("unexpected message: %+v", msg)
	}

	waitFor(t, "sent log", func() bool { return len(teacher.sentLog.Entries()) == 1 })
	entry := teacher.sentLog.Entries()[0]
	if entry.Label != "전체 학생" && entry.Label != "Lee 외 0명" {
		t.Errorf("unexpected sent label %q", entry.Label)
	}
	if entry.Body != "pop quiz" {
		t.Errorf("unexpected sent body %q", entry.Body)
	}
}

func TestTeacherSend_SubsetOnlyReachesTargets(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	lee := newStudentHarness(t, url)
	connectStudent(t, lee, "Lee")
	park := newStudentHarness(t, url)
	connectStudent(t, park, "Park")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 2 })

	var target string
	for _, e := range teacher.roster.Entries() {
		if e.StudentName == "Lee" {
			target = e.SocketID
		}
	}
	if target == "" {
		t.Fatal("Lee not found in roster")
	}

	err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectSubset, SocketIDs: []string{target}}, "just for Lee")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "delivery", func() bool { return lee.cache.Len() == 1 })
	time.Sleep(100 * time.Millisecond)
	if park.cache.Len() != 0 {
		t.Errorf("non-target received the message: %d", park.cache.Len())
	}

	waitFor(t, "sent log", func() bool { return len(teacher.sentLog.Entries()) == 1 })
	if got := teacher.sentLog.Entries()[0].Label; got != "Lee" {
		t.Errorf("expected label Lee, got %q", got)
	}
}

func TestTeacherSend_EmptySelectionNeverTransmits(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectNone}, "to nobody")
	if !errors.Is(err, roster.ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if len(teacher.sentLog.Entries()) != 0 {
		t.Error("rejected selection must not reach the sent log")
	}
}

func TestLateJoiner_DoesNotReceiveLivePush(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	early := newStudentHarness(t, url)
	connectStudent(t, early, "Lee")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 1 })

	if err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectAll}, "before Park"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery", func() bool { return early.cache.Len() == 1 })

	// Park joins after the send: no retroactive push, but the history
	// request replays the broadcast as a read record.
	late := newStudentHarness(t, url)
	connectStudent(t, late, "Park")
	waitFor(t, "late history", func() bool { return late.cache.Len() == 1 })
	if late.cache.UnreadCount() != 0 {
		t.Errorf("history replay must not create unread, got %d", late.cache.UnreadCount())
	}
	if early.cache.UnreadCount() != 1 {
		t.Errorf("live recipient should still hold 1 unread, got %d", early.cache.UnreadCount())
	}
}

func TestStudentReply_GatedByPermission(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 1 })

	// Replies start disallowed; the rejection is local.
	if err := student.student.SendReply("premature"); !errors.Is(err, ErrRepliesNotAllowed) {
		t.Fatalf("expected ErrRepliesNotAllowed, got %v", err)
	}

	if err := teacher.teacher.ToggleReceive(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	waitFor(t, "gate broadcast", func() bool { return student.student.RepliesAllowed() })

	if err := student.student.SendReply("question"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	waitFor(t, "teacher inbox", func() bool { return teacher.inbox.Len() == 1 })
	msg := teacher.inbox.Messages()[0]
	if msg.Sender != "Lee" || msg.Body != "question" || msg.IsRead {
		t.Errorf("unexpected inbox message: %+v", msg)
	}
}

func TestStudentDelete_LocalAndServerHide(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 1 })

	if err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectAll}, "delete me"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery", func() bool { return student.cache.Len() == 1 })

	id := student.cache.Messages()[0].ID
	if err := student.student.DeleteMessage(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if student.cache.Len() != 0 {
		t.Fatal("local removal should be immediate")
	}

	// A refresh must not resurrect the hidden message.
	if err := student.student.RequestHistory(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if student.cache.Len() != 0 {
		t.Error("hidden message came back on refresh")
	}
}

func TestStudentDelete_RejectionNotifiesWithoutRestore(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")

	// The server knows no message under this id and rejects the delete.
	if err := student.student.DeleteMessage("9999"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "rejection notice", func() bool {
		return student.notifier.hasNotice("메시지를 찾을 수 없습니다")
	})
	if student.cache.Len() != 0 {
		t.Errorf("rejection must not create or restore entries, len=%d", student.cache.Len())
	}
}

func TestTeacherDelete_RetractsFromStudents(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 1 })

	if err := teacher.teacher.Send(roster.Selection{Mode: roster.SelectAll}, "retract me"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery", func() bool { return student.cache.Len() == 1 })
	waitFor(t, "sent log", func() bool { return len(teacher.sentLog.Entries()) == 1 })

	id := teacher.sentLog.Entries()[0].ID
	if err := teacher.teacher.DeleteSent(id); err != nil {
		t.Fatalf("delete sent: %v", err)
	}
	waitFor(t, "retraction", func() bool { return student.cache.Len() == 0 })
	waitFor(t, "sent log removal", func() bool { return len(teacher.sentLog.Entries()) == 0 })
}

func TestKick_ForcesStudentDisconnect(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")
	waitFor(t, "roster", func() bool { return teacher.roster.OnlineCount() == 1 })

	socketID := teacher.roster.Entries()[0].SocketID
	if err := teacher.teacher.Kick(socketID); err != nil {
		t.Fatalf("kick: %v", err)
	}

	waitFor(t, "student disconnect", func() bool {
		return student.student.State() == StateDisconnected
	})
	if !student.notifier.hasNotice("교사에 의해 연결이 종료되었습니다") {
		t.Error("expected a kick notice")
	}
	waitFor(t, "roster update", func() bool { return teacher.roster.OnlineCount() == 0 })
}

func TestReconnect_SameNameReplacesRosterEntry(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	first := newStudentHarness(t, url)
	connectStudent(t, first, "Lee")
	waitFor(t, "first join", func() bool { return teacher.roster.OnlineCount() == 1 })
	firstSocket := teacher.roster.Entries()[0].SocketID

	second := newStudentHarness(t, url)
	connectStudent(t, second, "Lee")
	waitFor(t, "replacement", func() bool {
		entries := teacher.roster.Entries()
		return len(entries) == 1 && entries[0].SocketID != firstSocket
	})
}

func TestConnect_SecondConnectWhileConnectedFails(t *testing.T) {
	url := startServer(t)
	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")

	_, err := student.student.Connect(context.Background(), types.Identity{TeacherCode: testCode, StudentName: "Lee"})
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestDisconnect_ResetsGateAndState(t *testing.T) {
	url := startServer(t)
	teacher := newTeacherHarness(t, url)
	connectTeacher(t, teacher)

	student := newStudentHarness(t, url)
	connectStudent(t, student, "Lee")
	if err := teacher.teacher.ToggleReceive(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	waitFor(t, "gate", func() bool { return student.student.RepliesAllowed() })

	student.student.Disconnect()
	waitFor(t, "disconnect", func() bool { return student.student.State() == StateDisconnected })
	if student.student.RepliesAllowed() {
		t.Error("gate must return to default-deny after disconnect")
	}
}
