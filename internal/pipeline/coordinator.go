// Package pipeline processa um evento de entrada de ponta a ponta:
// deduplicação, horário de atendimento, escolha da regra, intervalo por
// contato, envio e contabilização de uso.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/dispatcher"
	"github.com/open-apime/autoreply/internal/metrics"
	"github.com/open-apime/autoreply/internal/pkg/idempotency"
	"github.com/open-apime/autoreply/internal/rule"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

type Outcome string

const (
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeNoMatch        Outcome = "no_match"
	OutcomeReplied        Outcome = "replied"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// Motivos registrados em Result.Reason quando o evento não foi respondido
// por uma condição esperada.
const (
	ReasonDuplicate       = "duplicate"
	ReasonOutsideHours    = "outside_business_hours"
	ReasonSenderCooling   = "sender_cooldown"
	ReasonRuleUnavailable = "rule_unavailable"
)

var (
	errRuleUnavailable = errors.New("pipeline: regra desabilitada ou no limite diário")
	errSenderCooled    = errors.New("pipeline: contato respondido recentemente")
)

type Result struct {
	Outcome Outcome
	Reason  string
	Rule    *model.AutoReplyRule
	Err     error
}

type Sender interface {
	SendWithHooks(ctx context.Context, instanceID, chatID, body string, hooks dispatcher.Hooks) error
}

type StateReader interface {
	GetState(ctx context.Context, instanceID string) (model.ConnectionState, error)
}

type RuleStore interface {
	ListEnabledByInstance(ctx context.Context, instanceID string) ([]model.AutoReplyRule, error)
	GetByID(ctx context.Context, id string) (model.AutoReplyRule, error)
	IncrementUsage(ctx context.Context, id string, now time.Time) error
}

// InstanceReader fornece o horário de atendimento e o intervalo por contato.
type InstanceReader interface {
	GetByID(ctx context.Context, id string) (model.Instance, error)
}

type Options struct {
	Guard     idempotency.Guard
	Cooldown  idempotency.Claimer
	Rules     RuleStore
	Instances InstanceReader
	Tracker   StateReader
	Sender    Sender
	EventLog  storage.EventLogRepository
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

type Coordinator struct {
	guard     idempotency.Guard
	cooldown  idempotency.Claimer
	rules     RuleStore
	instances InstanceReader
	tracker   StateReader
	sender    Sender
	eventLog  storage.EventLogRepository
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		guard:     opts.Guard,
		cooldown:  opts.Cooldown,
		rules:     opts.Rules,
		instances: opts.Instances,
		tracker:   opts.Tracker,
		sender:    opts.Sender,
		eventLog:  opts.EventLog,
		metrics:   opts.Metrics,
		log:       opts.Log,
		now:       time.Now,
	}
}

// Handle processa um evento. Falhas nunca são repetidas aqui: as repetições
// acontecem apenas dentro do Dispatcher.
func (c *Coordinator) Handle(ctx context.Context, event model.InboundEvent) Result {
	start := time.Now()
	res := c.handle(ctx, event)
	c.finish(ctx, event, res, time.Since(start))
	return res
}

func (c *Coordinator) handle(ctx context.Context, event model.InboundEvent) Result {
	admitted, err := c.guard.Admit(ctx, event.MessageID)
	if err != nil {
		return Result{Outcome: OutcomeDispatchFailed, Err: fmt.Errorf("pipeline: idempotency: %w", err)}
	}
	if !admitted {
		return Result{Outcome: OutcomeSuppressed, Reason: ReasonDuplicate}
	}

	state, err := c.tracker.GetState(ctx, event.InstanceID)
	if err != nil {
		return Result{Outcome: OutcomeDispatchFailed, Err: fmt.Errorf("pipeline: state: %w", err)}
	}
	if state.AuthState != model.AuthStateAuthorized {
		return Result{Outcome: OutcomeDispatchFailed, Err: dispatcher.ErrNotAuthorized}
	}

	var settings model.Instance
	if c.instances != nil {
		settings, err = c.instances.GetByID(ctx, event.InstanceID)
		if err != nil {
			return Result{Outcome: OutcomeDispatchFailed, Err: fmt.Errorf("pipeline: instance: %w", err)}
		}
	}

	now := c.now()
	if !settings.BusinessHours.Open(now) {
		return Result{Outcome: OutcomeNoMatch, Reason: ReasonOutsideHours}
	}

	rules, err := c.rules.ListEnabledByInstance(ctx, event.InstanceID)
	if err != nil {
		return Result{Outcome: OutcomeDispatchFailed, Err: fmt.Errorf("pipeline: list rules: %w", err)}
	}

	matched, ok := rule.Match(event.Text, rules, now)
	if !ok {
		return Result{Outcome: OutcomeNoMatch}
	}

	body := rule.Render(matched.Response, rule.Variables(event, now))
	cooldownKey := event.InstanceID + ":" + event.ChatID
	claimed := false

	// Os hooks rodam com a trava da instância segura. Entre o Match e a trava
	// outro evento da mesma instância pode ter usado a última cota da regra.
	hooks := dispatcher.Hooks{
		BeforeSend: func(ctx context.Context) error {
			current, err := c.rules.GetByID(ctx, matched.ID)
			if err != nil {
				return fmt.Errorf("pipeline: reload rule: %w", err)
			}
			if !current.Enabled || current.Capped(c.now()) {
				return errRuleUnavailable
			}
			if c.cooldown == nil || settings.SenderCooldown <= 0 {
				return nil
			}
			ok, err := c.cooldown.Claim(ctx, cooldownKey, settings.SenderCooldown)
			if err != nil {
				return fmt.Errorf("pipeline: cooldown: %w", err)
			}
			if !ok {
				return errSenderCooled
			}
			claimed = true
			return nil
		},
		AfterSuccess: func(ctx context.Context) {
			c.incrementUsage(context.WithoutCancel(ctx), matched.ID)
		},
	}

	err = c.sender.SendWithHooks(ctx, event.InstanceID, event.ChatID, body, hooks)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeReplied, Rule: &matched}
	case errors.Is(err, errRuleUnavailable):
		return Result{Outcome: OutcomeNoMatch, Reason: ReasonRuleUnavailable}
	case errors.Is(err, errSenderCooled):
		return Result{Outcome: OutcomeSuppressed, Reason: ReasonSenderCooling, Rule: &matched}
	}

	// Sem resposta entregue o contato não deve ficar bloqueado.
	if claimed {
		if relErr := c.cooldown.Release(context.WithoutCancel(ctx), cooldownKey); relErr != nil {
			c.log.Warn("pipeline: erro ao liberar cooldown",
				zap.String("instance_id", event.InstanceID),
				zap.String("chat_id", event.ChatID),
				zap.Error(relErr),
			)
		}
	}
	return Result{Outcome: OutcomeDispatchFailed, Rule: &matched, Err: err}
}

func (c *Coordinator) incrementUsage(ctx context.Context, ruleID string) {
	if err := c.rules.IncrementUsage(ctx, ruleID, c.now()); err != nil {
		// A resposta já foi entregue; o evento continua como replied.
		c.log.Warn("pipeline: erro ao contabilizar uso da regra",
			zap.String("rule_id", ruleID),
			zap.Bool("cap_reached", errors.Is(err, storage.ErrCapReached)),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) finish(ctx context.Context, event model.InboundEvent, res Result, took time.Duration) {
	c.metrics.ObserveOutcome(string(res.Outcome), took)

	fields := []zap.Field{
		zap.String("instance_id", event.InstanceID),
		zap.String("message_id", event.MessageID),
		zap.String("chat_id", event.ChatID),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("took", took),
	}
	if res.Rule != nil {
		fields = append(fields, zap.String("rule_id", res.Rule.ID))
	}
	if res.Reason != "" {
		fields = append(fields, zap.String("reason", res.Reason))
	}

	switch res.Outcome {
	case OutcomeDispatchFailed:
		c.log.Error("pipeline: falha ao responder", append(fields, zap.Error(res.Err))...)
	case OutcomeSuppressed:
		c.log.Debug("pipeline: evento suprimido", fields...)
	default:
		c.log.Info("pipeline: evento processado", fields...)
	}

	if c.eventLog == nil {
		return
	}
	entry := model.EventLog{
		InstanceID: event.InstanceID,
		MessageID:  event.MessageID,
		ChatID:     event.ChatID,
		Outcome:    string(res.Outcome),
	}
	if res.Rule != nil {
		entry.RuleID = res.Rule.ID
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	// ctx pode já ter expirado.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := c.eventLog.Create(logCtx, entry); err != nil {
		c.log.Warn("pipeline: erro ao gravar event log", zap.Error(err))
	}
}
