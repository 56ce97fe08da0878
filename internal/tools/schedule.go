package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/ema/internal/agenda"
	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/pkg/models"
)

// ActorMessageJob is the agenda handler name for scheduled messages
// that re-enter an actor through the server registry.
const ActorMessageJob = "actor_message"

// ActorMessageData is the payload of an actor_message job.
type ActorMessageData struct {
	UserID         int64  `json:"user_id"`
	ActorID        int64  `json:"actor_id"`
	ConversationID int64  `json:"conversation_id"`
	Text           string `json:"text"`
}

// ScheduleTaskTool lets the model schedule a future message to itself:
// when the job fires, the text is delivered to the same actor as a
// fresh input.
type ScheduleTaskTool struct {
	scheduler *agenda.Scheduler
	now       func() time.Time
}

// NewScheduleTask builds the schedule_task tool.
func NewScheduleTask(scheduler *agenda.Scheduler) *ScheduleTaskTool {
	return &ScheduleTaskTool{scheduler: scheduler, now: time.Now}
}

func (t *ScheduleTaskTool) Name() string { return "schedule_task" }

func (t *ScheduleTaskTool) Description() string {
	return "Schedule a message to yourself for later, either once after a delay or repeatedly on an interval. Use it for reminders and check-ins."
}

func (t *ScheduleTaskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {"type": "string", "description": "The message you will receive when the task fires"},
    "delay_seconds": {"type": "integer", "minimum": 1, "description": "Seconds from now until the first firing"},
    "interval": {"type": "string", "description": "Optional repeat interval: a Go duration like \"24h\" or a cron expression like \"0 9 * * *\""}
  },
  "required": ["text", "delay_seconds"],
  "additionalProperties": false
}`)
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, args json.RawMessage, tc agent.ToolContext) (models.ToolResult, error) {
	var input struct {
		Text         string `json:"text"`
		DelaySeconds int64  `json:"delay_seconds"`
		Interval     string `json:"interval"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if trimmed(input.Text) == "" {
		return models.ToolResult{Success: false, Error: "text is required"}, nil
	}
	if input.DelaySeconds <= 0 {
		return models.ToolResult{Success: false, Error: "delay_seconds must be positive"}, nil
	}

	data, err := json.Marshal(ActorMessageData{
		UserID:         tc.UserID,
		ActorID:        tc.ActorID,
		ConversationID: tc.ConversationID,
		Text:           input.Text,
	})
	if err != nil {
		return models.ToolResult{}, err
	}
	spec := agenda.Spec{
		Name:  ActorMessageJob,
		RunAt: t.now().Add(time.Duration(input.DelaySeconds) * time.Second),
		Data:  data,
	}

	var id string
	if input.Interval != "" {
		spec.Interval = input.Interval
		// One recurring self-message per conversation and text.
		unique, err := json.Marshal(map[string]any{
			"conversation_id": tc.ConversationID,
			"text":            input.Text,
		})
		if err != nil {
			return models.ToolResult{}, err
		}
		spec.Unique = unique
		id, err = t.scheduler.ScheduleEvery(ctx, spec)
		if err != nil {
			return models.ToolResult{Success: false, Error: fmt.Sprintf("schedule failed: %v", err)}, nil
		}
	} else {
		id, err = t.scheduler.Schedule(ctx, spec)
		if err != nil {
			return models.ToolResult{}, fmt.Errorf("schedule task: %w", err)
		}
	}
	return models.ToolResult{Success: true, Content: fmt.Sprintf("Scheduled (job %s).", id)}, nil
}
