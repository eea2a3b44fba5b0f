package notifier

import (
	"fmt"
	"regexp"
	"strings"

	"remindd/internal/reminder"
)

var (
	phoneRe    = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	phoneStrip = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// NormalizePhone strips common separators and checks the result is an
// E.164-style number.
func NormalizePhone(raw string) (string, error) {
	p := phoneStrip.Replace(strings.TrimSpace(raw))
	if !phoneRe.MatchString(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return p, nil
}

// FormatMessage renders the reminder text sent to the recipient.
func FormatMessage(ev reminder.Event) string {
	loc := strings.TrimSpace(ev.Location)
	if loc == "" {
		loc = "Not specified"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder: %s is starting in 15 minutes!\n", ev.Title)
	fmt.Fprintf(&b, "Date: %s\n", formatDate(ev.Date))
	fmt.Fprintf(&b, "Time: %s\n", ev.Time)
	fmt.Fprintf(&b, "Location: %s\n", loc)
	fmt.Fprintf(&b, "Type: %s\n", ev.Type)
	fmt.Fprintf(&b, "Description: %s", ev.Description)
	return b.String()
}

// formatDate renders M/D/YYYY.
func formatDate(d reminder.Date) string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d/%d/%d", int(d.Month), d.Day, d.Year)
}
