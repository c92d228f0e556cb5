package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mendhq/mendbot/pkg/reminder"
)

// ReminderTool exposes the reminder scheduler to the agent so it can
// turn "remind me to take my pills at 9am" into stored jobs.
type ReminderTool struct {
	service *reminder.Service
}

func NewReminderTool(service *reminder.Service) *ReminderTool {
	return &ReminderTool{service: service}
}

func (t *ReminderTool) Name() string {
	return "reminder"
}

func (t *ReminderTool) Description() string {
	return "Schedule medication reminders. Use 'at_seconds' for one-time reminders (e.g. 'remind me in 10 minutes' -> at_seconds=600). Use 'every_seconds' for fixed intervals. Use 'cron_expr' for daily dose times (e.g. '0 9 * * *' for 9am daily). When the user asks to be reminded, you MUST call this tool."
}

func (t *ReminderTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "list", "remove"},
				"description": "Action to perform",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Short reminder name, usually the medication (required for add)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The reminder text delivered when it fires (required for add)",
			},
			"at_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "One-time reminder: seconds from now",
			},
			"every_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Recurring interval in seconds",
			},
			"cron_expr": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression for recurring dose times",
			},
			"job_id": map[string]interface{}{
				"type":        "string",
				"description": "Job ID (for remove)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ReminderTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, ok := args["action"].(string)
	if !ok {
		return "", fmt.Errorf("action is required")
	}

	switch action {
	case "add":
		return t.addJob(ctx, args)
	case "list":
		return t.listJobs()
	case "remove":
		return t.removeJob(args)
	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}

func (t *ReminderTool) addJob(ctx context.Context, args map[string]interface{}) (string, error) {
	message, _ := args["message"].(string)
	if message == "" {
		return "", fmt.Errorf("message is required for add")
	}
	name, _ := args["name"].(string)
	if name == "" {
		name = message
	}

	schedule, err := scheduleFromArgs(args)
	if err != nil {
		return "", err
	}

	cc := CallContextFrom(ctx)
	job, err := t.service.AddJob(name, schedule, reminder.Payload{
		Message: message,
		Deliver: true,
		Channel: cc.Channel,
		To:      cc.ChatID,
	})
	if err != nil {
		return "", fmt.Errorf("add reminder: %w", err)
	}

	data, err := json.Marshal(map[string]interface{}{
		"status": "success",
		"job_id": job.ID,
		"name":   job.Name,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func scheduleFromArgs(args map[string]interface{}) (reminder.Schedule, error) {
	if v, ok := numberArg(args, "at_seconds"); ok {
		at := time.Now().Add(time.Duration(v) * time.Second).UnixMilli()
		return reminder.Schedule{Kind: "at", AtMS: &at}, nil
	}
	if v, ok := numberArg(args, "every_seconds"); ok {
		every := v * 1000
		return reminder.Schedule{Kind: "every", EveryMS: &every}, nil
	}
	if expr, ok := args["cron_expr"].(string); ok && expr != "" {
		return reminder.Schedule{Kind: "cron", Expr: expr}, nil
	}
	return reminder.Schedule{}, fmt.Errorf("one of at_seconds, every_seconds or cron_expr is required")
}

// numberArg reads an integer argument that JSON decoding may have
// produced as float64.
func numberArg(args map[string]interface{}, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int64(v), true
		}
	case int:
		if v > 0 {
			return int64(v), true
		}
	case int64:
		if v > 0 {
			return v, true
		}
	}
	return 0, false
}

func (t *ReminderTool) listJobs() (string, error) {
	jobs := t.service.ListJobs(false)

	type jobInfo struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	infos := make([]jobInfo, 0, len(jobs))
	for _, job := range jobs {
		infos = append(infos, jobInfo{
			ID:      job.ID,
			Name:    job.Name,
			Kind:    job.Schedule.Kind,
			Message: job.Payload.Message,
		})
	}

	data, err := json.Marshal(map[string]interface{}{
		"status":    "success",
		"reminders": infos,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *ReminderTool) removeJob(args map[string]interface{}) (string, error) {
	jobID, _ := args["job_id"].(string)
	if jobID == "" {
		return "", fmt.Errorf("job_id is required for remove")
	}
	if !t.service.RemoveJob(jobID) {
		return "", fmt.Errorf("no reminder with id %s", jobID)
	}
	return `{"status":"success","message":"reminder removed"}`, nil
}
