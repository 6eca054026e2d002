package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role identifies which side of the channel a session speaks for.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Direction records which way a message travelled.
type Direction string

const (
	DirectionToStudent Direction = "to_student"
	DirectionToTeacher Direction = "to_teacher"
)

// Identity holds the credentials a session joins with. Teacher sessions
// carry a code/name pair authenticated by an external login flow; student
// sessions carry the teacher's code plus the student's display name.
type Identity struct {
	Role        Role   `json:"role"`
	TeacherCode string `json:"teacher_code"`
	TeacherName string `json:"teacher_name,omitempty"`
	StudentName string `json:"student_name,omitempty"`
}

// ID is a message identifier. Servers assign integer ids; clients generate
// string fallback ids before acknowledgment. The wire carries either form,
// so unmarshaling accepts a JSON number or string.
type ID string

// IsZero reports whether no id has been assigned.
func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

// MarshalJSON emits the id as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a string, a number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid message id %s: %w", trimmed, err)
	}
	*id = ID(n.String())
	return nil
}

// IDFromInt converts a server-assigned numeric id.
func IDFromInt(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// wireTimeLayout is the wall-clock format the server emits.
const wireTimeLayout = "2006-01-02 15:04:05"

// Timestamp is a server-assigned creation time, authoritative for ordering.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates to the wire precision so round-tripped values
// compare equal.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Second)}
}

// MarshalJSON emits the wire wall-clock format.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(ts.Format(wireTimeLayout))
}

// UnmarshalJSON accepts the wire format or RFC3339.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(wireTimeLayout, s); err == nil {
		ts.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	ts.Time = t.Truncate(time.Second)
	return nil
}

// Message is one chat message, shared shape for both directions.
// IsRead and ReceivedAt are client-local and never sent to the server.
type Message struct {
	ID            ID        `json:"id"`
	LocalID       bool      `json:"local_id,omitempty"`
	Sender        string    `json:"sender"`
	Body          string    `json:"body"`
	Timestamp     Timestamp `json:"timestamp"`
	Direction     Direction `json:"direction"`
	IsRead        bool      `json:"is_read"`
	IsFromHistory bool      `json:"is_from_history"`
	ReceivedAt    time.Time `json:"received_at"`
}

// DedupKey is the uniqueness key for the message cache: the server id when
// one is present, otherwise (body, timestamp).
func (m *Message) DedupKey() string {
	if !m.ID.IsZero() && !m.LocalID {
		return "id:" + m.ID.String()
	}
	return "bt:" + m.Body + "\x00" + m.Timestamp.Format(wireTimeLayout)
}

// SameContent reports whether two messages carry the same body at the same
// server timestamp. A history record matching a fallback-id entry this way
// supersedes the fallback id.
func (m *Message) SameContent(other *Message) bool {
	return m.Body == other.Body && m.Timestamp.Equal(other.Timestamp.Time)
}

// RosterEntry is one connected (or recently connected) student, keyed by
// socket id. Student names are not unique across reconnects.
type RosterEntry struct {
	SocketID    string    `json:"socket_id"`
	StudentName string    `json:"student_name"`
	ClassNumber string    `json:"class_number,omitempty"`
	StudentID   string    `json:"student_id,omitempty"`
	TeacherCode string    `json:"teacher_code,omitempty"`
	IsOnline    bool      `json:"is_online"`
	LastSeen    Timestamp `json:"last_seen,omitzero"`
}

// SentMessage is one entry in the teacher's sent-log. The label is computed
// client-side from the display names captured at send time; the server
// acknowledgment carries only the assigned id.
type SentMessage struct {
	ID         ID        `json:"id"`
	Label      string    `json:"label"`
	Recipients []string  `json:"recipients"`
	All        bool      `json:"all"`
	Body       string    `json:"body"`
	Timestamp  Timestamp `json:"timestamp"`
}
