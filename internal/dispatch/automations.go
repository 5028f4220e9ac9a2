package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"go.uber.org/zap"
)

// AutomationInput what a built-in automation sees.
type AutomationInput struct {
	Trigger models.Trigger
	Fire    models.FireContext
	Params  map[string]string
	Vars    map[string]string
}

// Automation a built-in handler; the string is its output.
type Automation func(ctx context.Context, d *Dispatcher, in AutomationInput) (string, error)

var errNoCollaborator = errors.New("collaborator not configured")

func builtinAutomations() map[string]Automation {
	return map[string]Automation{
		"record_visit":        recordVisit,
		"arrival_briefing":    arrivalBriefing,
		"departure_checklist": departureChecklist,
		"log_only":            logOnly,
	}
}

func recordVisit(ctx context.Context, d *Dispatcher, in AutomationInput) (string, error) {
	if d.memory == nil {
		return "", fmt.Errorf("memory store: %w", errNoCollaborator)
	}
	content := Render("{event} {name} at {time}", in.Vars)
	if in.Fire.DwellMinutes != nil {
		content = Render("{event} {name} at {time} ({dwell_minutes} min)", in.Vars)
	}
	return d.memory.Store(ctx, Memory{
		UserID:     in.Fire.UserID,
		Content:    content,
		Type:       "episodic",
		Importance: 3,
		Metadata:   d.metadata(in.Trigger, in.Fire),
	})
}

func arrivalBriefing(ctx context.Context, d *Dispatcher, in AutomationInput) (string, error) {
	if d.chat == nil {
		return "", fmt.Errorf("chat assistant: %w", errNoCollaborator)
	}
	prompt := Render("I just arrived at {name} ({time}). Give me a short briefing of anything relevant here.", in.Vars)
	return d.chat.Converse(ctx, in.Fire.UserID, prompt, in.Params["system_prompt"])
}

func departureChecklist(ctx context.Context, d *Dispatcher, in AutomationInput) (string, error) {
	if d.chat == nil {
		return "", fmt.Errorf("chat assistant: %w", errNoCollaborator)
	}
	prompt := Render("I am leaving {name} ({time}). Give me a short checklist of things not to forget.", in.Vars)
	return d.chat.Converse(ctx, in.Fire.UserID, prompt, in.Params["system_prompt"])
}

func logOnly(_ context.Context, d *Dispatcher, in AutomationInput) (string, error) {
	d.logger.Info("Automation fired",
		zap.String("trigger_id", in.Trigger.ID),
		zap.String("entity", in.Fire.EntityName),
		zap.String("transition", string(in.Fire.Transition)),
	)
	return "logged", nil
}
