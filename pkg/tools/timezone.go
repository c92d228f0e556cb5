package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/mendhq/mendbot/pkg/profile"
)

// timezoneAliases maps the abbreviations and city names people actually
// type to IANA zone names. Lookup is case-insensitive.
var timezoneAliases = map[string]string{
	"est": "America/New_York", "edt": "America/New_York", "eastern": "America/New_York", "et": "America/New_York",
	"cst": "America/Chicago", "cdt": "America/Chicago", "central": "America/Chicago", "ct": "America/Chicago",
	"mst": "America/Denver", "mdt": "America/Denver", "mountain": "America/Denver", "mt": "America/Denver",
	"pst": "America/Los_Angeles", "pdt": "America/Los_Angeles", "pacific": "America/Los_Angeles", "pt": "America/Los_Angeles",
	"akst": "America/Anchorage", "hst": "Pacific/Honolulu",
	"gmt": "Europe/London", "bst": "Europe/London", "utc": "UTC",
	"cet": "Europe/Paris", "eet": "Europe/Kyiv",
	"jst": "Asia/Tokyo", "ist": "Asia/Kolkata", "sgt": "Asia/Singapore",
	"aest": "Australia/Sydney", "aedt": "Australia/Sydney", "nzst": "Pacific/Auckland",
	"new york": "America/New_York", "boston": "America/New_York", "miami": "America/New_York",
	"chicago": "America/Chicago", "houston": "America/Chicago",
	"denver": "America/Denver", "phoenix": "America/Denver",
	"los angeles": "America/Los_Angeles", "san francisco": "America/Los_Angeles", "seattle": "America/Los_Angeles",
	"london": "Europe/London", "paris": "Europe/Paris", "berlin": "Europe/Berlin",
	"madrid": "Europe/Madrid", "rome": "Europe/Rome", "amsterdam": "Europe/Amsterdam", "moscow": "Europe/Moscow",
	"tokyo": "Asia/Tokyo", "seoul": "Asia/Seoul", "beijing": "Asia/Shanghai", "shanghai": "Asia/Shanghai",
	"hong kong": "Asia/Hong_Kong", "singapore": "Asia/Singapore", "bangkok": "Asia/Bangkok",
	"mumbai": "Asia/Kolkata", "delhi": "Asia/Kolkata",
	"sydney": "Australia/Sydney", "auckland": "Pacific/Auckland",
}

// ResolveTimezone turns free-text like "pst" or "Singapore" into an
// IANA zone name. Exact IANA names pass through when the zone loads.
func ResolveTimezone(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}

	if mapped, ok := timezoneAliases[strings.ToLower(trimmed)]; ok {
		return mapped, true
	}

	if _, err := time.LoadLocation(trimmed); err == nil {
		return trimmed, true
	}
	return "", false
}

// TimezoneTool resolves and stores the user's timezone so reminder
// times land at the right local hour.
type TimezoneTool struct {
	store *profile.Store
}

func NewTimezoneTool(store *profile.Store) *TimezoneTool {
	return &TimezoneTool{store: store}
}

func (t *TimezoneTool) Name() string {
	return "timezone"
}

func (t *TimezoneTool) Description() string {
	return "Resolve a timezone from free text ('pst', 'Singapore', 'Europe/Paris') and optionally save it to the user's profile. Always resolve and save the timezone before scheduling medication reminders."
}

func (t *TimezoneTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"resolve", "set"},
				"description": "'resolve' only looks up the zone; 'set' also saves it to the profile",
			},
			"user_id": map[string]interface{}{
				"type": "string",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Timezone text as the user wrote it",
			},
		},
		"required": []string{"action", "text"},
	}
}

func (t *TimezoneTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, _ := args["action"].(string)
	text, _ := args["text"].(string)

	zone, ok := ResolveTimezone(text)
	if !ok {
		return "", fmt.Errorf("could not resolve timezone from %q", text)
	}

	if action == "set" {
		userID, _ := args["user_id"].(string)
		if userID == "" {
			return "", fmt.Errorf("user_id is required for set")
		}
		p, err := t.store.Get(userID)
		if err != nil {
			return "", fmt.Errorf("load profile: %w", err)
		}
		p.Timezone = zone
		if err := t.store.Save(p); err != nil {
			return "", fmt.Errorf("save profile: %w", err)
		}
	}

	data, err := json.Marshal(map[string]string{
		"status":   "success",
		"timezone": zone,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
