// Package dispatch executes trigger actions against the assistant collaborators
// and records every attempt in the audit log.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dsiemon2/OpenSentinel-sub008/internal/apperror"
	"github.com/dsiemon2/OpenSentinel-sub008/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Failure codes carried on Result.Code.
const (
	CodeUnknownAutomation = "UNKNOWN_AUTOMATION"
	CodeToolNotAllowed    = "TOOL_NOT_ALLOWED"
	CodeWebhookStatus     = "WEBHOOK_STATUS"
	CodeWebhookFailed     = "WEBHOOK_FAILED"
	CodeCollaborator      = "COLLABORATOR_ERROR"
	CodeNotConfigured     = "NOT_CONFIGURED"
	CodeInvalidAction     = "INVALID_ACTION"
	CodePanic             = "PANIC"
)

// AuditAction the audit log action name for trigger fires.
const AuditAction = "trigger.fire"

// Result outcome of one dispatch.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Output  string `json:"output,omitempty"`
}

func ok(output string) Result { return Result{Success: true, Output: output} }

func fail(code string, err error) Result {
	return Result{Code: code, Error: err.Error()}
}

// Options collaborators and settings of a Dispatcher. Any collaborator may be nil;
// actions that need a missing one fail with NOT_CONFIGURED.
type Options struct {
	Memory       MemoryStore
	Chat         ChatAssistant
	Audit        AuditLog
	Tasks        TaskScheduler
	Tools        ToolRunner
	AllowedTools []string
	// HTTPClient used for webhooks; a client with WebhookTimeout is built when nil.
	HTTPClient     *resty.Client
	WebhookTimeout time.Duration
	Location       *time.Location
	SystemPrompt   string
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	memory       MemoryStore
	chat         ChatAssistant
	audit        AuditLog
	tasks        TaskScheduler
	tools        ToolRunner
	allowedTools map[string]struct{}
	webhook      *resty.Client
	automations  map[string]Automation
	loc          *time.Location
	systemPrompt string
	logger       *zap.Logger
}

// New creates a Dispatcher.
func New(opts Options, logger *zap.Logger) *Dispatcher {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.WebhookTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = resty.New().
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	allowed := make(map[string]struct{}, len(opts.AllowedTools))
	for _, name := range opts.AllowedTools {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = struct{}{}
		}
	}

	return &Dispatcher{
		memory:       opts.Memory,
		chat:         opts.Chat,
		audit:        opts.Audit,
		tasks:        opts.Tasks,
		tools:        opts.Tools,
		allowedTools: allowed,
		webhook:      client,
		automations:  builtinAutomations(),
		loc:          loc,
		systemPrompt: opts.SystemPrompt,
		logger:       logger,
	}
}

// AutomationIDs known automation ids, sorted.
func (d *Dispatcher) AutomationIDs() []string {
	ids := make([]string, 0, len(d.automations))
	for id := range d.automations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch runs the trigger's action once. It never panics and never returns
// an error: failures are reported on the Result and in the audit log.
func (d *Dispatcher) Dispatch(ctx context.Context, t models.Trigger, fc models.FireContext) (res Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = fail(CodePanic, apperror.Dispatch("dispatch", fmt.Errorf("panic: %v", r)))
		}
		d.record(ctx, t, fc, res)
		d.logResult(t, fc, res, time.Since(started))
	}()

	if t.Action == nil {
		return fail(CodeInvalidAction, apperror.Dispatch("dispatch", fmt.Errorf("trigger %s has no action", t.ID)))
	}
	exec := &executor{
		d:    d,
		ctx:  ctx,
		t:    t,
		fc:   fc,
		vars: TemplateVars(t, fc, d.loc),
	}
	t.Action.Accept(exec)
	return exec.result
}

func (d *Dispatcher) logResult(t models.Trigger, fc models.FireContext, res Result, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("trigger_id", t.ID),
		zap.String("entity_id", fc.EntityID),
		zap.String("transition", string(fc.Transition)),
		zap.Duration("elapsed", elapsed),
	}
	if t.Action != nil {
		fields = append(fields, zap.String("action", string(t.Action.Kind())))
	}
	if res.Success {
		d.logger.Info("Action dispatched", fields...)
		return
	}
	fields = append(fields, zap.String("code", res.Code), zap.String("error", res.Error))
	d.logger.Warn("Action failed", fields...)
}

func (d *Dispatcher) record(ctx context.Context, t models.Trigger, fc models.FireContext, res Result) {
	if d.audit == nil {
		return
	}
	details := models.AuditDetails{
		TriggerName: t.Name,
		EntityKind:  fc.EntityKind,
		EntityID:    fc.EntityID,
		EntityName:  fc.EntityName,
		Transition:  fc.Transition,
		Code:        res.Code,
		Error:       res.Error,
	}
	if t.Action != nil {
		details.ActionKind = t.Action.Kind()
	}
	raw, err := json.Marshal(details)
	if err != nil {
		d.logger.Error("Failed to marshal audit details", zap.Error(err))
		return
	}

	entry := models.AuditEntry{
		ID:         uuid.New().String(),
		UserID:     t.UserID,
		Action:     AuditAction,
		Resource:   "trigger",
		ResourceID: t.ID,
		Details:    raw,
		Success:    res.Success,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.audit.Record(ctx, entry); err != nil {
		d.logger.Error("Failed to record audit entry",
			zap.String("trigger_id", t.ID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) metadata(t models.Trigger, fc models.FireContext) map[string]any {
	md := map[string]any{
		"source":      string(fc.EntityKind),
		"trigger_id":  t.ID,
		"entity_id":   fc.EntityID,
		"entity_name": fc.EntityName,
		"transition":  string(fc.Transition),
	}
	switch fc.EntityKind {
	case models.EntityZone:
		md["source"] = "geofence"
	case models.EntityDevice:
		md["source"] = "proximity"
	}
	return md
}

// executor runs one action; one method per action kind.
type executor struct {
	d      *Dispatcher
	ctx    context.Context
	t      models.Trigger
	fc     models.FireContext
	vars   map[string]string
	result Result
}

var _ models.ActionVisitor = (*executor)(nil)

func (e *executor) collaboratorFailed(op string, err error) {
	e.result = fail(CodeCollaborator, apperror.Dispatch(op, err))
}

func (e *executor) notConfigured(op, what string) {
	e.result = fail(CodeNotConfigured, apperror.Dispatch(op, fmt.Errorf("%s: %w", what, errNoCollaborator)))
}

func (e *executor) VisitMessage(a *models.MessageAction) {
	const op = "dispatch.message"
	tmpl := a.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultMessage(e.fc)
	}
	text := Render(tmpl, e.vars)

	if a.UseAI {
		if e.d.chat == nil {
			e.notConfigured(op, "chat assistant")
			return
		}
		reply, err := e.d.chat.Converse(e.ctx, e.fc.UserID, text, e.d.systemPrompt)
		if err != nil {
			e.collaboratorFailed(op, err)
			return
		}
		e.result = ok(reply)
		return
	}

	if e.d.memory == nil {
		e.notConfigured(op, "memory store")
		return
	}
	importance := a.Importance
	if importance == 0 {
		importance = 5
	}
	id, err := e.d.memory.Store(e.ctx, Memory{
		UserID:     e.fc.UserID,
		Content:    text,
		Type:       "episodic",
		Importance: importance,
		Metadata:   e.d.metadata(e.t, e.fc),
	})
	if err != nil {
		e.collaboratorFailed(op, err)
		return
	}
	e.result = ok(id)
}

func (e *executor) VisitAutomation(a *models.AutomationAction) {
	const op = "dispatch.automation"
	fn, found := e.d.automations[a.AutomationID]
	if !found {
		e.result = fail(CodeUnknownAutomation, apperror.Dispatch(op,
			fmt.Errorf("unknown automation %q, known: %s", a.AutomationID, strings.Join(e.d.AutomationIDs(), ", "))))
		return
	}
	out, err := fn(e.ctx, e.d, AutomationInput{Trigger: e.t, Fire: e.fc, Params: a.Params, Vars: e.vars})
	if err != nil {
		e.collaboratorFailed(op, err)
		return
	}
	e.result = ok(out)
}

func (e *executor) VisitWebhook(a *models.WebhookAction) {
	const op = "dispatch.webhook"
	req := e.d.webhook.R().
		SetContext(e.ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(NewEnvelope(e.t, e.fc))
	for k, v := range a.Headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(a.URL)
	if err != nil {
		e.result = fail(CodeWebhookFailed, apperror.Dispatch(op, fmt.Errorf("failed to post webhook: %w", err)))
		return
	}
	if !resp.IsSuccess() {
		e.result = fail(CodeWebhookStatus, apperror.Dispatch(op, fmt.Errorf("webhook returned status %d", resp.StatusCode())))
		return
	}
	e.result = ok(fmt.Sprintf("%d", resp.StatusCode()))
}

func (e *executor) VisitTool(a *models.ToolAction) {
	const op = "dispatch.tool"
	if _, allowed := e.d.allowedTools[a.ToolName]; !allowed {
		e.result = fail(CodeToolNotAllowed, apperror.Dispatch(op, fmt.Errorf("tool %q is not on the allow-list", a.ToolName)))
		return
	}
	if e.d.tools == nil {
		e.notConfigured(op, "tool runner")
		return
	}
	out, err := e.d.tools.Execute(e.ctx, a.ToolName, a.Input)
	if err != nil {
		e.collaboratorFailed(op, err)
		return
	}
	e.result = ok(out)
}

func (e *executor) VisitReminder(a *models.ReminderAction) {
	const op = "dispatch.reminder"
	if e.d.tasks == nil {
		e.notConfigured(op, "task scheduler")
		return
	}
	msg := a.Message
	if strings.TrimSpace(msg) == "" {
		msg = DefaultMessage(e.fc)
	}
	delay := time.Duration(a.DelayMinutes) * time.Minute
	task := ReminderTask{
		ID:        uuid.New().String(),
		UserID:    e.fc.UserID,
		TriggerID: e.t.ID,
		Message:   Render(msg, e.vars),
		DueAt:     e.fc.OccurredAt.Add(delay),
	}
	jobID, err := e.d.tasks.Schedule(e.ctx, task, delay)
	if err != nil {
		e.collaboratorFailed(op, err)
		return
	}
	e.result = ok(jobID)
}
