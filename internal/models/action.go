package models

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ActionKind discriminator of the Action union.
type ActionKind string

const (
	ActionMessage    ActionKind = "message"
	ActionAutomation ActionKind = "automation"
	ActionWebhook    ActionKind = "webhook"
	ActionTool       ActionKind = "tool"
	ActionReminder   ActionKind = "reminder"
)

// Action is one of MessageAction, AutomationAction, WebhookAction, ToolAction or
// ReminderAction. The set is closed: Accept forces every ActionVisitor to handle each kind.
type Action interface {
	Kind() ActionKind
	Validate() error
	Accept(v ActionVisitor)
}

// ActionVisitor has one method per action kind.
type ActionVisitor interface {
	VisitMessage(a *MessageAction)
	VisitAutomation(a *AutomationAction)
	VisitWebhook(a *WebhookAction)
	VisitTool(a *ToolAction)
	VisitReminder(a *ReminderAction)
}

// MessageAction renders a template and stores it as a memory, or hands it to the assistant.
type MessageAction struct {
	Template   string `json:"template"`
	UseAI      bool   `json:"use_ai"`
	Importance int    `json:"importance,omitempty"`
}

// AutomationAction runs a built-in handler by id.
type AutomationAction struct {
	AutomationID string            `json:"automation_id"`
	Params       map[string]string `json:"params,omitempty"`
}

// WebhookAction POSTs the event envelope to a user URL.
type WebhookAction struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ToolAction runs a named tool through the tool runner.
type ToolAction struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
}

// ReminderAction schedules a delayed reminder.
type ReminderAction struct {
	Message      string `json:"message"`
	DelayMinutes int    `json:"delay_minutes"`
}

func (*MessageAction) Kind() ActionKind    { return ActionMessage }
func (*AutomationAction) Kind() ActionKind { return ActionAutomation }
func (*WebhookAction) Kind() ActionKind    { return ActionWebhook }
func (*ToolAction) Kind() ActionKind       { return ActionTool }
func (*ReminderAction) Kind() ActionKind   { return ActionReminder }

func (a *MessageAction) Accept(v ActionVisitor)    { v.VisitMessage(a) }
func (a *AutomationAction) Accept(v ActionVisitor) { v.VisitAutomation(a) }
func (a *WebhookAction) Accept(v ActionVisitor)    { v.VisitWebhook(a) }
func (a *ToolAction) Accept(v ActionVisitor)       { v.VisitTool(a) }
func (a *ReminderAction) Accept(v ActionVisitor)   { v.VisitReminder(a) }

func (a *MessageAction) Validate() error {
	if a.Importance < 0 || a.Importance > 10 {
		return fmt.Errorf("message importance must be between 0 and 10")
	}
	return nil
}

func (a *AutomationAction) Validate() error {
	if a.AutomationID == "" {
		return fmt.Errorf("automation_id is required")
	}
	return nil
}

func (a *WebhookAction) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook url %q must be an absolute http(s) url", a.URL)
	}
	return nil
}

func (a *ToolAction) Validate() error {
	if a.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	return nil
}

func (a *ReminderAction) Validate() error {
	if a.DelayMinutes < 0 {
		return fmt.Errorf("reminder delay_minutes must not be negative")
	}
	return nil
}

type actionEnvelope struct {
	Kind    ActionKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalAction encodes an action as {"kind": ..., "payload": {...}}.
func MarshalAction(a Action) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s action: %w", a.Kind(), err)
	}
	return json.Marshal(actionEnvelope{Kind: a.Kind(), Payload: payload})
}

// UnmarshalAction decodes the tagged JSON form produced by MarshalAction.
func UnmarshalAction(raw []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}

	var a Action
	switch env.Kind {
	case ActionMessage:
		a = &MessageAction{}
	case ActionAutomation:
		a = &AutomationAction{}
	case ActionWebhook:
		a = &WebhookAction{}
	case ActionTool:
		a = &ToolAction{}
	case ActionReminder:
		a = &ReminderAction{}
	default:
		return nil, fmt.Errorf("unknown action kind %q", env.Kind)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
		}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
