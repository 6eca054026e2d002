// Package devserver is an in-memory realtime server implementing the full
// classroom protocol. It exists so the clients can be exercised end to end
// without the production deployment; integration tests run against it.
package devserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classboard/internal/config"
	"classboard/pkg/types"
)

const historyLimit = 50

// teacherAccount is one registered teacher. Registration stands in for the
// production login flow.
type teacherAccount struct {
	code  string
	name  string
	allow bool
}

// teacherMessage is one teacher-to-student message. Recipient names are
// stored so history can be addressed by name across student reconnects.
type teacherMessage struct {
	id             types.ID
	teacherCode    string
	sender         string
	recipientNames []string
	all            bool
	body           string
	timestamp      types.Timestamp
}

// studentMessage is one student-to-teacher message.
type studentMessage struct {
	id          types.ID
	teacherCode string
	studentName string
	body        string
	timestamp   types.Timestamp
}

// client is one connected websocket. Writes are serialized through the send
// channel; the writer goroutine owns the connection's write side.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	role   types.Role
	code   string
	name   string
}

func (c *client) push(ev types.Inbound) {
	frame, err := types.EncodeInbound(ev)
	if err != nil {
		c.log.Error("failed to encode event", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("dropping frame for slow client", "socket_id", c.id)
	}
}

// shutdown closes the send channel; the writer drains it and then closes
// the connection, so queued frames still go out.
func (c *client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
}

func (c *client) identify(role types.Role, code, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.code = code
	c.name = name
}

func (c *client) identity() (types.Role, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.code, c.name
}

// Server is the in-memory protocol server. One instance hosts any number of
// teacher rooms, keyed by teacher code.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu           sync.Mutex
	teachers     map[string]*teacherAccount
	teacherConns map[string]*client // active teacher socket by code
	students     map[string]*client // by socket id
	nextID       int64
	messages     []teacherMessage
	studentMsgs  []studentMessage
	hidden       map[string]map[types.ID]bool // per-student hidden message ids
}

// New creates an empty server.
func New(cfg *config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		teachers:     make(map[string]*teacherAccount),
		teacherConns: make(map[string]*client),
		students:     make(map[string]*client),
		hidden:       make(map[string]map[types.ID]bool),
	}
}

// RegisterTeacher provisions a teacher account the way the production login
// flow would.
func (s *Server) RegisterTeacher(code, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teachers[code] = &teacherAccount{code: code, name: name}
}

// Handler returns the HTTP surface: the websocket endpoint plus a health
// probe.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("dev server listening", "addr", s.cfg.Server.Addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.cfg.Transport.WriteBuffer),
		log:  s.log,
	}
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) writePump(c *client) {
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.Transport.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := types.DecodeOutbound(data)
		if err != nil {
			s.log.Warn("dropping undecodable frame", "socket_id", c.id, "error", err)
			continue
		}
		s.dispatch(c, ev)
	}
}

func (s *Server) dispatch(c *client, ev types.Outbound) {
	switch ev := ev.(type) {
	case *types.StudentJoin:
		s.handleStudentJoin(c, ev)
	case *types.TeacherJoin:
		s.handleTeacherJoin(c, ev)
	case *types.GetMessageHistory:
		s.handleGetHistory(c, ev)
	case *types.SendMessage:
		s.handleSendMessage(c, ev)
	case *types.DeleteMessage:
		s.handleDeleteMessage(c, ev)
	case *types.DeleteMessageTeacher:
		s.handleDeleteMessageTeacher(c, ev)
	case *types.TeacherToggleReceive:
		s.handleToggleReceive(c, ev)
	case *types.GetTeacherMessages:
		s.handleGetTeacherMessages(c)
	case *types.GetSentMessages:
		s.handleGetSentMessages(c)
	case *types.KickStudent:
		s.handleKickStudent(c, ev)
	}
}

func studentKey(code, name string) string { return code + "\x00" + name }

func (s *Server) handleStudentJoin(c *client, ev *types.StudentJoin) {
	s.mu.Lock()
	account, ok := s.teachers[ev.TeacherCode]
	if !ok {
		s.mu.Unlock()
		c.push(&types.StudentJoinError{Error: "존재하지 않는 교사 코드입니다"})
		return
	}

	// A reconnect arrives under a new socket id; the previous entry for the
	// same name is displaced rather than duplicated.
	var evicted []*client
	for sid, prev := range s.students {
		_, prevCode, prevName := prev.identity()
		if prevCode == ev.TeacherCode && prevName == ev.StudentName {
			delete(s.students, sid)
			evicted = append(evicted, prev)
		}
	}

	c.identify(types.RoleStudent, ev.TeacherCode, ev.StudentName)
	s.students[c.id] = c
	teacher := s.teacherConns[ev.TeacherCode]
	allow := account.allow
	entry := types.RosterEntry{
		SocketID:    c.id,
		StudentName: ev.StudentName,
		TeacherCode: ev.TeacherCode,
		IsOnline:    true,
		LastSeen:    types.NewTimestamp(time.Now()),
	}
	s.mu.Unlock()

	for _, prev := range evicted {
		prev.shutdown()
	}

	c.push(&types.StudentJoinSuccess{
		Status:        "success",
		StudentInfo:   &entry,
		TeacherName:   account.name,
		AllowMessages: allow,
	})
	if teacher != nil {
		teacher.push(&types.StudentConnected{RosterEntry: entry})
	}
}

func (s *Server) handleTeacherJoin(c *client, ev *types.TeacherJoin) {
	s.mu.Lock()
	account, ok := s.teachers[ev.TeacherCode]
	if !ok {
		// Joining an unregistered code provisions it; the dev server has no
		// login flow to fail against.
		account = &teacherAccount{code: ev.TeacherCode, name: ev.TeacherName}
		s.teachers[ev.TeacherCode] = account
	}
	if ev.TeacherName != "" {
		account.name = ev.TeacherName
	}
	c.identify(types.RoleTeacher, ev.TeacherCode, account.name)
	s.teacherConns[ev.TeacherCode] = c
	roster := s.rosterLocked(ev.TeacherCode)
	allow := account.allow
	s.mu.Unlock()

	c.push(&types.StudentListUpdate{Students: roster})
	c.push(&types.ReceiveStatus{Allow: allow})
}

func (s *Server) rosterLocked(code string) []types.RosterEntry {
	out := []types.RosterEntry{}
	for sid, st := range s.students {
		_, stCode, stName := st.identity()
		if stCode != code {
			continue
		}
		out = append(out, types.RosterEntry{
			SocketID:    sid,
			StudentName: stName,
			TeacherCode: stCode,
			IsOnline:    true,
		})
	}
	return out
}

func (s *Server) handleGetHistory(c *client, ev *types.GetMessageHistory) {
	s.mu.Lock()
	hidden := s.hidden[studentKey(ev.TeacherCode, ev.StudentName)]
	records := []types.HistoryMessage{}
	// Newest first, bounded like the production backlog query.
	for i := len(s.messages) - 1; i >= 0 && len(records) < historyLimit; i-- {
		m := s.messages[i]
		if m.teacherCode != ev.TeacherCode || !m.addressedTo(ev.StudentName) {
			continue
		}
		if hidden[m.id] {
			continue
		}
		records = append(records, types.HistoryMessage{
			ID:        m.id,
			Sender:    m.sender,
			Message:   m.body,
			Timestamp: m.timestamp,
		})
	}
	s.mu.Unlock()

	c.push(&types.MessageHistory{Messages: records})
}

func (m *teacherMessage) addressedTo(studentName string) bool {
	if m.all {
		return true
	}
	for _, name := range m.recipientNames {
		if name == studentName {
			return true
		}
	}
	return false
}

func (s *Server) handleSendMessage(c *client, ev *types.SendMessage) {
	if ev.SenderType == types.RoleStudent {
		s.handleStudentSend(c, ev)
		return
	}

	s.mu.Lock()
	account, ok := s.teachers[ev.TeacherCode]
	if !ok {
		s.mu.Unlock()
		c.push(&types.MessageSent{Status: "error"})
		return
	}

	all := len(ev.Recipients) == 1 && ev.Recipients[0] == "all"
	var targets []*client
	var names []string
	if all {
		for _, st := range s.students {
			_, stCode, stName := st.identity()
			if stCode == ev.TeacherCode {
				targets = append(targets, st)
				names = append(names, stName)
			}
		}
	} else {
		for _, sid := range ev.Recipients {
			st, ok := s.students[sid]
			if !ok {
				continue
			}
			_, _, stName := st.identity()
			targets = append(targets, st)
			names = append(names, stName)
		}
	}

	s.nextID++
	msg := teacherMessage{
		id:             types.IDFromInt(s.nextID),
		teacherCode:    ev.TeacherCode,
		sender:         account.name,
		recipientNames: names,
		all:            all,
		body:           ev.Message,
		timestamp:      types.NewTimestamp(time.Now()),
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	out := &types.ReceiveMessage{
		MessageID: msg.id,
		Sender:    msg.sender,
		Message:   msg.body,
		Timestamp: msg.timestamp,
	}
	for _, st := range targets {
		st.push(out)
	}
	c.push(&types.MessageSent{Status: "success", MessageID: msg.id})
}

func (s *Server) handleStudentSend(c *client, ev *types.SendMessage) {
	s.mu.Lock()
	account, ok := s.teachers[ev.TeacherCode]
	if !ok || !account.allow {
		s.mu.Unlock()
		c.push(&types.StudentMessageError{Message: "교사가 메시지 수신을 허용하지 않았습니다"})
		return
	}

	s.nextID++
	msg := studentMessage{
		id:          types.IDFromInt(s.nextID),
		teacherCode: ev.TeacherCode,
		studentName: ev.StudentName,
		body:        ev.Message,
		timestamp:   types.NewTimestamp(time.Now()),
	}
	s.studentMsgs = append(s.studentMsgs, msg)
	teacher := s.teacherConns[ev.TeacherCode]
	s.mu.Unlock()

	if teacher != nil {
		teacher.push(&types.NewMessageFromStudent{
			ID:          msg.id,
			StudentName: msg.studentName,
			Message:     msg.body,
			Timestamp:   msg.timestamp,
		})
	}
	c.push(&types.StudentMessageSent{Status: "success", MessageID: msg.id})
}

// handleDeleteMessage hides one message for one student. The message itself
// stays so other recipients keep it.
func (s *Server) handleDeleteMessage(c *client, ev *types.DeleteMessage) {
	key := studentKey(ev.TeacherCode, ev.StudentName)
	s.mu.Lock()
	found := false
	for i := range s.messages {
		if s.messages[i].id == ev.MessageID {
			found = true
			break
		}
	}
	if found {
		if s.hidden[key] == nil {
			s.hidden[key] = make(map[types.ID]bool)
		}
		s.hidden[key][ev.MessageID] = true
	}
	s.mu.Unlock()

	if !found {
		c.push(&types.DeleteResult{Status: "error", MessageID: ev.MessageID, Message: "메시지를 찾을 수 없습니다"})
		return
	}
	c.push(&types.DeleteResult{Status: "success", MessageID: ev.MessageID})
}

// handleDeleteMessageTeacher removes a sent message globally and retracts
// it from every connected recipient.
func (s *Server) handleDeleteMessageTeacher(c *client, ev *types.DeleteMessageTeacher) {
	_, code, _ := c.identity()

	s.mu.Lock()
	idx := -1
	for i := range s.messages {
		if s.messages[i].id == ev.MessageID && s.messages[i].teacherCode == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		c.push(&types.DeleteResultTeacher{Status: "error", MessageID: ev.MessageID, Message: "메시지를 찾을 수 없습니다"})
		return
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	var targets []*client
	for _, st := range s.students {
		_, stCode, _ := st.identity()
		if stCode == code {
			targets = append(targets, st)
		}
	}
	s.mu.Unlock()

	for _, st := range targets {
		st.push(&types.MessageDeleted{MessageID: ev.MessageID})
	}
	c.push(&types.DeleteResultTeacher{Status: "success", MessageID: ev.MessageID})
}

func (s *Server) handleToggleReceive(c *client, ev *types.TeacherToggleReceive) {
	_, code, _ := c.identity()

	s.mu.Lock()
	account, ok := s.teachers[code]
	if !ok {
		s.mu.Unlock()
		return
	}
	account.allow = ev.Allow
	var targets []*client
	for _, st := range s.students {
		_, stCode, _ := st.identity()
		if stCode == code {
			targets = append(targets, st)
		}
	}
	s.mu.Unlock()

	status := &types.ReceiveStatus{Allow: ev.Allow}
	c.push(status)
	for _, st := range targets {
		st.push(status)
	}
}

func (s *Server) handleGetTeacherMessages(c *client) {
	_, code, _ := c.identity()

	s.mu.Lock()
	records := []types.StudentMessageRecord{}
	for i := len(s.studentMsgs) - 1; i >= 0; i-- {
		m := s.studentMsgs[i]
		if m.teacherCode != code {
			continue
		}
		records = append(records, types.StudentMessageRecord{
			ID:          m.id,
			StudentName: m.studentName,
			Message:     m.body,
			Timestamp:   m.timestamp,
		})
	}
	s.mu.Unlock()

	c.push(&types.TeacherMessages{Messages: records})
}

func (s *Server) handleGetSentMessages(c *client) {
	_, code, _ := c.identity()

	s.mu.Lock()
	records := []types.SentMessageRecord{}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.teacherCode != code {
			continue
		}
		recipient := "all"
		if !m.all {
			recipient = strings.Join(m.recipientNames, ",")
		}
		records = append(records, types.SentMessageRecord{
			ID:        m.id,
			Recipient: recipient,
			Message:   m.body,
			Timestamp: m.timestamp,
		})
	}
	s.mu.Unlock()

	c.push(&types.SentMessages{Messages: records})
}

func (s *Server) handleKickStudent(c *client, ev *types.KickStudent) {
	s.mu.Lock()
	st, ok := s.students[ev.StudentSocketID]
	if ok {
		delete(s.students, ev.StudentSocketID)
	}
	s.mu.Unlock()

	if !ok {
		c.push(&types.KickResult{Status: "error", Message: "학생을 찾을 수 없습니다"})
		return
	}
	_, code, name := st.identity()
	st.push(&types.Kicked{Reason: "교사에 의해 연결이 종료되었습니다"})
	st.shutdown()
	c.push(&types.KickResult{Status: "success", StudentName: name})
	c.push(&types.StudentDisconnected{RosterEntry: types.RosterEntry{
		SocketID:    ev.StudentSocketID,
		StudentName: name,
		TeacherCode: code,
	}})
}

// dropClient tears a departed connection out of the server state and tells
// the teacher when a student vanishes.
func (s *Server) dropClient(c *client) {
	c.shutdown()
	role, code, name := c.identity()

	s.mu.Lock()
	var teacher *client
	switch role {
	case types.RoleStudent:
		if _, ok := s.students[c.id]; ok {
			delete(s.students, c.id)
			teacher = s.teacherConns[code]
		}
	case types.RoleTeacher:
		if s.teacherConns[code] == c {
			delete(s.teacherConns, code)
		}
	}
	s.mu.Unlock()

	if teacher != nil {
		teacher.push(&types.StudentDisconnected{RosterEntry: types.RosterEntry{
			SocketID:    c.id,
			StudentName: name,
			TeacherCode: code,
		}})
	}
}
