package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mendhq/mendbot/pkg/profile"
)

const (
	defaultDurationDays    = 30
	defaultReminderMinutes = 15
)

// FileSender delivers a generated file to the user's chat. Wired to the
// active channel at startup.
type FileSender func(channel, chatID, filename string, content []byte, caption string) error

// MedicationICSTool builds an importable ICS calendar with one
// recurring event per dose time, then pushes the file to the channel.
type MedicationICSTool struct {
	profiles *profile.Store
	send     FileSender
	mu       sync.RWMutex
}

func NewMedicationICSTool(profiles *profile.Store) *MedicationICSTool {
	return &MedicationICSTool{profiles: profiles}
}

func (t *MedicationICSTool) SetFileSender(send FileSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send = send
}

func (t *MedicationICSTool) Name() string {
	return "medication_ics"
}

func (t *MedicationICSTool) Description() string {
	return "Generate an ICS calendar file of medication reminders the user can import into any calendar app. Creates recurring daily events for each dose time with a built-in alert. Use when the user asks for a calendar file or exportable schedule."
}

func (t *MedicationICSTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"user_id": map[string]interface{}{
				"type": "string",
			},
			"medication_name": map[string]interface{}{
				"type":        "string",
				"description": "Medication the events are for",
			},
			"times": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Dose times in HH:MM, in the user's timezone",
			},
			"duration_days": map[string]interface{}{
				"type":        "integer",
				"description": "How many days of events to create (default 30)",
			},
			"dosage": map[string]interface{}{
				"type":        "string",
				"description": "Dosage text to include in the event description",
			},
		},
		"required": []string{"user_id", "medication_name", "times"},
	}
}

func (t *MedicationICSTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	userID, _ := args["user_id"].(string)
	medication, _ := args["medication_name"].(string)
	if userID == "" || medication == "" {
		return "", fmt.Errorf("user_id and medication_name are required")
	}

	times, err := stringSliceArg(args, "times")
	if err != nil {
		return "", err
	}
	if len(times) == 0 {
		return "", fmt.Errorf("at least one dose time is required")
	}

	days := defaultDurationDays
	if v, ok := numberArg(args, "duration_days"); ok {
		days = int(v)
	}
	dosage, _ := args["dosage"].(string)

	loc := time.UTC
	if p, err := t.profiles.Get(userID); err == nil && p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}

	ics, events, err := buildMedicationICS(medication, dosage, times, days, loc, time.Now())
	if err != nil {
		return "", err
	}

	t.mu.RLock()
	send := t.send
	t.mu.RUnlock()

	cc := CallContextFrom(ctx)
	if send != nil && cc.Channel != "" && cc.ChatID != "" {
		filename := fmt.Sprintf("medication_reminders_%s.ics", time.Now().Format("20060102_150405"))
		caption := fmt.Sprintf("Calendar file for %s — import it into any calendar app.", medication)
		if err := send(cc.Channel, cc.ChatID, filename, []byte(ics), caption); err != nil {
			return "", fmt.Errorf("send calendar file: %w", err)
		}
		return fmt.Sprintf(`{"status":"success","message":"ICS file with %d reminder events sent to the chat"}`, events), nil
	}

	// No file channel available (CLI use); hand the content back instead.
	return ics, nil
}

func stringSliceArg(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

// buildMedicationICS renders the calendar text. Dose times are
// interpreted in loc; DTSTART/DTEND are emitted in UTC.
func buildMedicationICS(medication, dosage string, doseTimes []string, days int, loc *time.Location, now time.Time) (string, int, error) {
	if days <= 0 {
		days = defaultDurationDays
	}

	var b strings.Builder
	writeICSLine(&b, "BEGIN:VCALENDAR")
	writeICSLine(&b, "VERSION:2.0")
	writeICSLine(&b, "PRODID:-//mendbot//medication reminders//EN")
	writeICSLine(&b, "CALSCALE:GREGORIAN")

	description := "Time to take your medication."
	if dosage != "" {
		description = "Dosage: " + dosage
	}

	events := 0
	start := now.In(loc)
	for day := 0; day < days; day++ {
		date := start.AddDate(0, 0, day)
		for _, doseTime := range doseTimes {
			parsed, err := time.Parse("15:04", strings.TrimSpace(doseTime))
			if err != nil {
				return "", 0, fmt.Errorf("bad dose time %q (want HH:MM): %w", doseTime, err)
			}

			eventStart := time.Date(date.Year(), date.Month(), date.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc)
			if eventStart.Before(now) {
				continue
			}
			eventEnd := eventStart.Add(15 * time.Minute)

			writeICSLine(&b, "BEGIN:VEVENT")
			writeICSLine(&b, "UID:"+uuid.NewString()+"@mendbot")
			writeICSLine(&b, "DTSTAMP:"+now.UTC().Format("20060102T150405Z"))
			writeICSLine(&b, "DTSTART:"+eventStart.UTC().Format("20060102T150405Z"))
			writeICSLine(&b, "DTEND:"+eventEnd.UTC().Format("20060102T150405Z"))
			writeICSLine(&b, "SUMMARY:Take "+escapeICSText(medication))
			writeICSLine(&b, "DESCRIPTION:"+escapeICSText(description))
			writeICSLine(&b, "BEGIN:VALARM")
			writeICSLine(&b, "ACTION:DISPLAY")
			writeICSLine(&b, "DESCRIPTION:"+escapeICSText("Take "+medication))
			writeICSLine(&b, fmt.Sprintf("TRIGGER:-PT%dM", defaultReminderMinutes))
			writeICSLine(&b, "END:VALARM")
			writeICSLine(&b, "END:VEVENT")
			events++
		}
	}

	writeICSLine(&b, "END:VCALENDAR")
	if events == 0 {
		return "", 0, fmt.Errorf("no future events to create")
	}
	return b.String(), events, nil
}

// writeICSLine terminates lines with CRLF as RFC 5545 requires.
func writeICSLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\r\n")
}

func escapeICSText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}
