package types

import (
	"encoding/json"
	"fmt"
)

// Envelope frames one named event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a client-to-server event.
type Outbound interface {
	EventName() string
}

// Inbound is a server-to-client event. The set is closed so session
// dispatch can be checked exhaustively at compile time.
type Inbound interface {
	inbound()
}

// Client to server.

type TeacherJoin struct {
	TeacherCode string `json:"teacher_code"`
	TeacherName string `json:"teacher_name"`
}

func (TeacherJoin) EventName() string { return "teacher_join" }

type StudentJoin struct {
	TeacherCode string `json:"teacher_code"`
	StudentName string `json:"student_name"`
}

func (StudentJoin) EventName() string { return "student_join" }

type GetMessageHistory struct {
	TeacherCode string `json:"teacher_code"`
	StudentName string `json:"student_name"`
}

func (GetMessageHistory) EventName() string { return "get_message_history" }

// SendMessage submits an outbound message. Recipients is either the single
// sentinel "all" or an explicit socket-id list; student senders omit it.
type SendMessage struct {
	SenderType  Role     `json:"sender_type"`
	TeacherCode string   `json:"teacher_code"`
	Message     string   `json:"message"`
	Recipients  []string `json:"recipients,omitempty"`
	StudentName string   `json:"student_name,omitempty"`
}

func (SendMessage) EventName() string { return "send_message" }

type DeleteMessage struct {
	TeacherCode string `json:"teacher_code"`
	StudentName string `json:"student_name"`
	MessageID   ID     `json:"message_id"`
}

func (DeleteMessage) EventName() string { return "delete_message" }

type DeleteMessageTeacher struct {
	MessageID ID `json:"message_id"`
}

func (DeleteMessageTeacher) EventName() string { return "delete_message_teacher" }

type TeacherToggleReceive struct {
	Allow bool `json:"allow"`
}

func (TeacherToggleReceive) EventName() string { return "teacher_toggle_receive" }

type GetTeacherMessages struct{}

func (GetTeacherMessages) EventName() string { return "get_teacher_messages" }

type GetSentMessages struct{}

func (GetSentMessages) EventName() string { return "get_sent_messages" }

type KickStudent struct {
	StudentSocketID string `json:"student_socket_id"`
}

func (KickStudent) EventName() string { return "kick_student" }

// Server to client.

type StudentJoinSuccess struct {
	Status        string       `json:"status"`
	StudentInfo   *RosterEntry `json:"student_info,omitempty"`
	TeacherName   string       `json:"teacher_name"`
	AllowMessages bool         `json:"allow_messages"`
}

func (StudentJoinSuccess) inbound() {}

type StudentJoinError struct {
	Error string `json:"error"`
}

func (StudentJoinError) inbound() {}

// HistoryMessage is one record in a history reply.
type HistoryMessage struct {
	ID        ID        `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

type MessageHistory struct {
	Messages []HistoryMessage `json:"messages"`
}

func (MessageHistory) inbound() {}

type ReceiveMessage struct {
	MessageID ID        `json:"message_id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

func (ReceiveMessage) inbound() {}

type MessageSent struct {
	Status    string `json:"status"`
	MessageID ID     `json:"message_id"`
}

func (MessageSent) inbound() {}

type DeleteResult struct {
	Status    string `json:"status"`
	MessageID ID     `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (DeleteResult) inbound() {}

type DeleteResultTeacher struct {
	Status    string `json:"status"`
	MessageID ID     `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (DeleteResultTeacher) inbound() {}

type MessageDeleted struct {
	MessageID ID `json:"message_id"`
}

func (MessageDeleted) inbound() {}

type StudentConnected struct {
	RosterEntry
}

func (StudentConnected) inbound() {}

type StudentDisconnected struct {
	RosterEntry
}

func (StudentDisconnected) inbound() {}

type StudentListUpdate struct {
	Students []RosterEntry
}

func (StudentListUpdate) inbound() {}

// MarshalJSON emits the bare array the wire protocol uses.
func (u StudentListUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Students)
}

// UnmarshalJSON reads the bare array form.
func (u *StudentListUpdate) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &u.Students)
}

type Kicked struct {
	Reason string `json:"reason"`
}

func (Kicked) inbound() {}

type ReceiveStatus struct {
	Allow bool `json:"allow"`
}

func (ReceiveStatus) inbound() {}

type NewMessageFromStudent struct {
	ID          ID        `json:"id"`
	StudentName string    `json:"student_name"`
	Message     string    `json:"message"`
	Timestamp   Timestamp `json:"timestamp"`
}

func (NewMessageFromStudent) inbound() {}

// StudentMessageRecord is one student-to-teacher record in a batch reply.
type StudentMessageRecord struct {
	ID          ID        `json:"id"`
	StudentName string    `json:"student_name"`
	Message     string    `json:"message"`
	Timestamp   Timestamp `json:"timestamp"`
}

type TeacherMessages struct {
	Messages []StudentMessageRecord `json:"messages"`
}

func (TeacherMessages) inbound() {}

// SentMessageRecord is one teacher-sent record in a batch reply. Recipient
// is the stored recipient string ("all" or comma-joined names).
type SentMessageRecord struct {
	ID        ID        `json:"id"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

type SentMessages struct {
	Messages []SentMessageRecord `json:"messages"`
}

func (SentMessages) inbound() {}

type KickResult struct {
	Status      string `json:"status"`
	StudentName string `json:"student_name,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (KickResult) inbound() {}

type StudentMessageSent struct {
	Status    string `json:"status"`
	MessageID ID     `json:"message_id"`
}

func (StudentMessageSent) inbound() {}

type StudentMessageError struct {
	Message string `json:"message"`
}

func (StudentMessageError) inbound() {}

// Inbound event names.
const (
	EventStudentJoinSuccess    = "student_join_success"
	EventStudentJoinError      = "student_join_error"
	EventMessageHistory        = "message_history"
	EventReceiveMessage        = "receive_message"
	EventMessageSent           = "message_sent"
	EventDeleteResult          = "delete_result"
	EventDeleteResultTeacher   = "delete_result_teacher"
	EventMessageDeleted        = "message_deleted"
	EventStudentConnected      = "student_connected"
	EventStudentDisconnected   = "student_disconnected"
	EventStudentListUpdate     = "student_list_update"
	EventKicked                = "kicked"
	EventReceiveStatus         = "receive_status"
	EventNewMessageFromStudent = "new_message_from_student"
	EventTeacherMessages       = "teacher_messages"
	EventSentMessages          = "sent_messages"
	EventKickResult            = "kick_result"
	EventStudentMessageSent    = "student_message_sent"
	EventStudentMessageError   = "student_message_error"
)

// EncodeOutbound frames an outbound event for the wire.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// EncodeInbound frames a server-to-client event for the wire. The event
// name is derived from the concrete type, keeping name and payload paired
// in one place.
func EncodeInbound(ev Inbound) ([]byte, error) {
	name, err := inboundEventName(ev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

func inboundEventName(ev Inbound) (string, error) {
	switch ev.(type) {
	case StudentJoinSuccess, *StudentJoinSuccess:
		return EventStudentJoinSuccess, nil
	case StudentJoinError, *StudentJoinError:
		return EventStudentJoinError, nil
	case MessageHistory, *MessageHistory:
		return EventMessageHistory, nil
	case ReceiveMessage, *ReceiveMessage:
		return EventReceiveMessage, nil
	case MessageSent, *MessageSent:
		return EventMessageSent, nil
	case DeleteResult, *DeleteResult:
		return EventDeleteResult, nil
	case DeleteResultTeacher, *DeleteResultTeacher:
		return EventDeleteResultTeacher, nil
	case MessageDeleted, *MessageDeleted:
		return EventMessageDeleted, nil
	case StudentConnected, *StudentConnected:
		return EventStudentConnected, nil
	case StudentDisconnected, *StudentDisconnected:
		return EventStudentDisconnected, nil
	case StudentListUpdate, *StudentListUpdate:
		return EventStudentListUpdate, nil
	case Kicked, *Kicked:
		return EventKicked, nil
	case ReceiveStatus, *ReceiveStatus:
		return EventReceiveStatus, nil
	case NewMessageFromStudent, *NewMessageFromStudent:
		return EventNewMessageFromStudent, nil
	case TeacherMessages, *TeacherMessages:
		return EventTeacherMessages, nil
	case SentMessages, *SentMessages:
		return EventSentMessages, nil
	case KickResult, *KickResult:
		return EventKickResult, nil
	case StudentMessageSent, *StudentMessageSent:
		return EventStudentMessageSent, nil
	case StudentMessageError, *StudentMessageError:
		return EventStudentMessageError, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// DecodeInbound parses a framed server-to-client event into its concrete
// type. Unknown event names return ErrUnknownEvent so transports can skip
// them without tearing the channel down.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}

	decode := func(into Inbound) (Inbound, error) {
		if len(env.Data) == 0 {
			return into, nil
		}
		if err := json.Unmarshal(env.Data, into); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return into, nil
	}

	switch env.Event {
	case EventStudentJoinSuccess:
		return decode(&StudentJoinSuccess{})
	case EventStudentJoinError:
		return decode(&StudentJoinError{})
	case EventMessageHistory:
		return decode(&MessageHistory{})
	case EventReceiveMessage:
		return decode(&ReceiveMessage{})
	case EventMessageSent:
		return decode(&MessageSent{})
	case EventDeleteResult:
		return decode(&DeleteResult{})
	case EventDeleteResultTeacher:
		return decode(&DeleteResultTeacher{})
	case EventMessageDeleted:
		return decode(&MessageDeleted{})
	case EventStudentConnected:
		return decode(&StudentConnected{})
	case EventStudentDisconnected:
		return decode(&StudentDisconnected{})
	case EventStudentListUpdate:
		return decode(&StudentListUpdate{})
	case EventKicked:
		return decode(&Kicked{})
	case EventReceiveStatus:
		return decode(&ReceiveStatus{})
	case EventNewMessageFromStudent:
		return decode(&NewMessageFromStudent{})
	case EventTeacherMessages:
		return decode(&TeacherMessages{})
	case EventSentMessages:
		return decode(&SentMessages{})
	case EventKickResult:
		return decode(&KickResult{})
	case EventStudentMessageSent:
		return decode(&StudentMessageSent{})
	case EventStudentMessageError:
		return decode(&StudentMessageError{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// DecodeOutbound parses a framed client-to-server event. Used by the
// server side of the protocol.
func DecodeOutbound(frame []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}

	var into Outbound
	switch env.Event {
	case TeacherJoin{}.EventName():
		into = &TeacherJoin{}
	case StudentJoin{}.EventName():
		into = &StudentJoin{}
	case GetMessageHistory{}.EventName():
		into = &GetMessageHistory{}
	case SendMessage{}.EventName():
		into = &SendMessage{}
	case DeleteMessage{}.EventName():
		into = &DeleteMessage{}
	case DeleteMessageTeacher{}.EventName():
		into = &DeleteMessageTeacher{}
	case TeacherToggleReceive{}.EventName():
		into = &TeacherToggleReceive{}
	case GetTeacherMessages{}.EventName():
		into = &GetTeacherMessages{}
	case GetSentMessages{}.EventName():
		into = &GetSentMessages{}
	case KickStudent{}.EventName():
		into = &KickStudent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, into); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
	}
	return into, nil
}
