package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mendhq/mendbot/pkg/profile"
)

// ProfileTool lets the agent read and update the durable user profile.
type ProfileTool struct {
	store *profile.Store
}

func NewProfileTool(store *profile.Store) *ProfileTool {
	return &ProfileTool{store: store}
}

func (t *ProfileTool) Name() string {
	return "profile"
}

func (t *ProfileTool) Description() string {
	return "Read or update the user's profile: display name, language, timezone, and free-form care notes. Use 'get' before assuming anything about the user; use 'update' when the user shares lasting facts about themselves."
}

func (t *ProfileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"get", "update", "add_note"},
				"description": "What to do with the profile",
			},
			"user_id": map[string]interface{}{
				"type":        "string",
				"description": "User identifier",
			},
			"name": map[string]interface{}{
				"type": "string",
			},
			"language": map[string]interface{}{
				"type": "string",
			},
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name, e.g. Asia/Singapore",
			},
			"note": map[string]interface{}{
				"type":        "string",
				"description": "Care note to append (for add_note)",
			},
		},
		"required": []string{"action", "user_id"},
	}
}

func (t *ProfileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, _ := args["action"].(string)
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}

	p, err := t.store.Get(userID)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}

	switch action {
	case "get":
		data, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case "update":
		if name, ok := args["name"].(string); ok && name != "" {
			p.Name = name
		}
		if lang, ok := args["language"].(string); ok && lang != "" {
			p.Language = lang
		}
		if tz, ok := args["timezone"].(string); ok && tz != "" {
			zone, ok := ResolveTimezone(tz)
			if !ok {
				return "", fmt.Errorf("could not resolve timezone from %q", tz)
			}
			p.Timezone = zone
		}
		if err := t.store.Save(p); err != nil {
			return "", fmt.Errorf("save profile: %w", err)
		}
		return `{"status":"success","message":"profile updated"}`, nil

	case "add_note":
		note, _ := args["note"].(string)
		if note == "" {
			return "", fmt.Errorf("note is required for add_note")
		}
		p.Notes = append(p.Notes, note)
		if err := t.store.Save(p); err != nil {
			return "", fmt.Errorf("save profile: %w", err)
		}
		return `{"status":"success","message":"note saved"}`, nil

	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}
