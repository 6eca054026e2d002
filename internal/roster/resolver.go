package roster

import "fmt"

// RecipientAll is the wire sentinel for "all currently online students".
const RecipientAll = "all"

// SelectionMode is the UI-level recipient choice.
type SelectionMode int

const (
	SelectNone SelectionMode = iota
	SelectAll
	SelectSubset
)

// Selection is the recipient choice as made in the UI.
type Selection struct {
	Mode      SelectionMode
	SocketIDs []string
}

// Resolution is a wire-ready recipient descriptor plus the display names
// captured for labeling the sent-log entry once the server acknowledges.
type Resolution struct {
	WireRecipients []string
	DisplayNames   []string
	All            bool
}

// Resolve turns a selection into a wire descriptor against the current
// roster. Subset ids that have gone offline between selection and send are
// silently dropped; a selection that resolves to zero recipients is a
// validation error and nothing is transmitted.
func Resolve(r *Roster, sel Selection) (Resolution, error) {
	switch sel.Mode {
	case SelectAll:
		names := make([]string, 0, r.OnlineCount())
		for _, e := range r.Online() {
			names = append(names, e.StudentName)
		}
		return Resolution{
			WireRecipients: []string{RecipientAll},
			DisplayNames:   names,
			All:            true,
		}, nil

	case SelectSubset:
		ids := make([]string, 0, len(sel.SocketIDs))
		names := make([]string, 0, len(sel.SocketIDs))
		for _, sid := range sel.SocketIDs {
			entry, ok := r.Get(sid)
			if !ok || !entry.IsOnline {
				continue
			}
			ids = append(ids, sid)
			names = append(names, entry.StudentName)
		}
		if len(ids) == 0 {
			return Resolution{}, ErrNoRecipients
		}
		return Resolution{WireRecipients: ids, DisplayNames: names}, nil

	case SelectNone:
		return Resolution{}, ErrNoRecipients

	default:
		return Resolution{}, fmt.Errorf("%w: mode %d", ErrInvalidSelection, sel.Mode)
	}
}

// FormatLabel renders the recipient label for a sent-log entry from the
// names captured at send time: one name alone, "<first> 외 N명" for
// several, "전체 학생" for the all sentinel when no names resolved.
func FormatLabel(names []string, all bool) string {
	if len(names) == 0 {
		if all {
			return "전체 학생"
		}
		return "수신자 없음"
	}
	if len(names) == 1 && !all {
		return names[0]
	}
	if len(names) == 1 {
		return fmt.Sprintf("%s 외 0명", names[0])
	}
	return fmt.Sprintf("%s 외 %d명", names[0], len(names)-1)
}
