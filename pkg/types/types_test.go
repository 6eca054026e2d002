package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestID_UnmarshalAcceptsNumberStringAndNull(t *testing.T) {
	cases := []struct {
		in   string
		want ID
	}{
		{`42`, ID("42")},
		{`"abc-123"`, ID("abc-123")},
		{`null`, ID("")},
	}
	for _, c := range cases {
		var id ID
		if err := json.Unmarshal([]byte(c.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", c.in, err)
		}
		if id != c.want {
			t.Errorf("unmarshal %s: expected %q, got %q", c.in, c.want, id)
		}
	}
}

func TestID_UnmarshalRejectsGarbage(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Error("expected error for object-valued id")
	}
}

func TestTimestamp_WireFormatRoundTrip(t *testing.T) {
	ts := NewTimestamp(time.Date(2026, 3, 14, 9, 26, 53, 500, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2026-03-14 09:26:53"` {
		t.Errorf("unexpected wire form %s", data)
	}

	var back Timestamp
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(ts.Time) {
		t.Errorf("round trip changed value: %v != %v", back, ts)
	}
}

func TestTimestamp_AcceptsRFC3339(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2026-03-14T09:26:53Z"`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("expected %v, got %v", want, ts.Time)
	}
}

func TestTimestamp_EmptyStringIsZero(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`""`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !ts.IsZero() {
		t.Error("expected zero timestamp")
	}
}

func TestMessage_DedupKeyPrefersServerID(t *testing.T) {
	ts := NewTimestamp(time.Now())
	withID := Message{ID: "7", Body: "hello", Timestamp: ts}
	withoutID := Message{Body: "hello", Timestamp: ts}
	fallback := Message{ID: "local-uuid", LocalID: true, Body: "hello", Timestamp: ts}

	if withID.DedupKey() == withoutID.DedupKey() {
		t.Error("server-id key should differ from content key")
	}
	if withoutID.DedupKey() != fallback.DedupKey() {
		t.Error("fallback-id entries should key by content")
	}
	if !fallback.SameContent(&withID) {
		t.Error("same body and timestamp should match as content")
	}
}

func TestIdentity_Validate(t *testing.T) {
	cases := []struct {
		name    string
		id      Identity
		wantErr bool
	}{
		{"valid student", Identity{Role: RoleStudent, TeacherCode: "123456", StudentName: "Lee"}, false},
		{"valid teacher", Identity{Role: RoleTeacher, TeacherCode: "123456", TeacherName: "Kim"}, false},
		{"short code", Identity{Role: RoleStudent, TeacherCode: "123", StudentName: "Lee"}, true},
		{"alpha code", Identity{Role: RoleStudent, TeacherCode: "12345a", StudentName: "Lee"}, true},
		{"missing student name", Identity{Role: RoleStudent, TeacherCode: "123456"}, true},
		{"missing teacher name", Identity{Role: RoleTeacher, TeacherCode: "123456"}, true},
		{"missing role", Identity{TeacherCode: "123456", StudentName: "Lee"}, true},
	}
	for _, c := range cases {
		err := c.id.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
	}
}
