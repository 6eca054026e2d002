package types

import (
	"regexp"
	"strings"
)

// Teacher codes are exactly six digits, assigned at registration.
var teacherCodeRegex = regexp.MustCompile(`^\d{6}$`)

// IsValidTeacherCode checks the 6-digit numeric code format.
func IsValidTeacherCode(code string) bool {
	return teacherCodeRegex.MatchString(code)
}

// Validate checks an identity before any join is transmitted. Validation
// failures never reach the server.
func (id *Identity) Validate() error {
	if !IsValidTeacherCode(id.TeacherCode) {
		return ErrInvalidTeacherCode
	}
	switch id.Role {
	case RoleTeacher:
		if strings.TrimSpace(id.TeacherName) == "" {
			return ErrEmptyName
		}
	case RoleStudent:
		if strings.TrimSpace(id.StudentName) == "" {
			return ErrEmptyName
		}
	default:
		return ErrInvalidRole
	}
	return nil
}

// ValidateBody checks an outbound message body.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	return nil
}
