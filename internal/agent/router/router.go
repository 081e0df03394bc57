// Package router composes the loader, matcher, gate, fallback chain and
// booking compiler into one routing decision per conversational turn.
package router

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"agent-engine/internal/agent/booking"
	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/agent/escalation"
	"agent-engine/internal/agent/fallback"
	"agent-engine/internal/agent/flowstate"
	"agent-engine/internal/agent/gate"
	"agent-engine/internal/agent/knowledge"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"
	"agent-engine/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Used when the company's own templates cannot be read.
const (
	defaultFallbackText    = "I'm not able to answer that right now."
	defaultEscalationOffer = "Would you like me to connect you with someone from our team?"
)

// Escalation reasons that are not error codes.
const (
	ReasonLowConfidence = "LOW_CONFIDENCE"
	ReasonEmptyText     = "EMPTY_TEXT"
)

// groundingLimit caps the knowledge answers handed to a provider.
const groundingLimit = 3

// Turn is one inbound conversational turn.
type Turn struct {
	CompanyID      string          `json:"companyId"`
	ConversationID string          `json:"conversationId,omitempty"`
	Text           string          `json:"text"`
	Flags          map[string]bool `json:"flags,omitempty"`
}

// SnapshotLoader is satisfied by *companyconfig.Loader.
type SnapshotLoader interface {
	Load(ctx context.Context, companyID string) (*companyconfig.Snapshot, error)
}

// Generator is satisfied by *fallback.Chain.
type Generator interface {
	Generate(ctx context.Context, companyID string, providers []models.ProviderDescriptor, text string, grounding []string) (*fallback.Answer, error)
}

// EscalationNotifier is satisfied by *escalation.Notifier.
type EscalationNotifier interface {
	Escalated(ctx context.Context, target models.EscalationTarget, ev escalation.Event) error
}

// Deps wires a Router. Flows and Notifier are optional.
type Deps struct {
	Loader   SnapshotLoader
	Matcher  knowledge.Matcher
	Chain    Generator
	Flows    flowstate.Store
	Notifier EscalationNotifier
	// NotifyTimeout bounds one asynchronous escalation notice.
	NotifyTimeout time.Duration
}

type Router struct {
	loader        SnapshotLoader
	matcher       knowledge.Matcher
	chain         Generator
	flows         flowstate.Store
	notifier      EscalationNotifier
	notifyTimeout time.Duration
	logger        logger.Logger
	tracer        trace.Tracer
	now           func() time.Time

	notifications sync.WaitGroup
}

func New(deps Deps, log logger.Logger) *Router {
	if deps.Matcher == nil {
		deps.Matcher = knowledge.NewLexicalMatcher()
	}
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = 5 * time.Second
	}
	return &Router{
		loader:        deps.Loader,
		matcher:       deps.Matcher,
		chain:         deps.Chain,
		flows:         deps.Flows,
		notifier:      deps.Notifier,
		notifyTimeout: deps.NotifyTimeout,
		logger:        log.WithFields(map[string]interface{}{"component": "router"}),
		tracer:        otel.Tracer("agent-engine/router"),
		now:           time.Now,
	}
}

// Route decides how to answer one turn. The only error it returns is
// CONFIG_MISSING; every other failure becomes an escalation carrying the
// company's generic fallback text and escalation offer.
func (r *Router) Route(ctx context.Context, turn Turn) (*models.RouteDecision, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.String("company.id", turn.CompanyID),
		attribute.String("conversation.id", turn.ConversationID),
	))
	defer span.End()

	snap, err := r.loader.Load(ctx, turn.CompanyID)
	if err != nil {
		if stderrors.Is(err, errors.ErrConfigMissing) {
			span.RecordError(err)
			return nil, err
		}
		r.logger.Error("config unavailable, escalating", map[string]interface{}{
			"companyId": turn.CompanyID,
			"error":     err.Error(),
		})
		d := r.escalate(nil, turn, reasonFor(err), 0)
		return r.finish(span, d, start), nil
	}
	cfg := snap.Config

	flags := r.turnFlags(ctx, turn)
	span.SetAttributes(attribute.StringSlice("turn.flags", flags.True()))

	var d *models.RouteDecision
	var best knowledge.Match
	var matched bool

	if strings.TrimSpace(turn.Text) == "" {
		d = r.escalate(snap, turn, ReasonEmptyText, 0)
	} else {
		matches := r.matcher.Match(ctx, cfg, turn.Text)
		best, matched = knowledge.Best(matches)
		d = r.answer(ctx, snap, turn, matches, best, matched)
	}

	if bookingIntent(cfg, turn, flags, best, matched) {
		preview := snap.Preview(flags.Map())
		d.Booking = booking.Plan(cfg, preview)
		span.SetAttributes(attribute.String("booking.source", string(d.Booking.Source)))
		if d.Booking.FallbackReason != "" {
			r.logger.Warn("booking contract not clean, serving legacy slots", map[string]interface{}{
				"companyId":       cfg.CompanyID,
				"flags":           flags.True(),
				"missingSlotRefs": d.Booking.MissingSlotRefs,
			})
		}
	}
	d.Generation = snap.Generation
	return r.finish(span, d, start), nil
}

func (r *Router) answer(ctx context.Context, snap *companyconfig.Snapshot, turn Turn, matches []knowledge.Match, best knowledge.Match, matched bool) *models.RouteDecision {
	cfg := snap.Config

	decision, err := gate.Decide(best.Score, cfg.Thresholds)
	if err != nil {
		r.logger.Warn("thresholds unusable, escalating", map[string]interface{}{
			"companyId": cfg.CompanyID,
			"error":     err.Error(),
		})
		return r.escalate(snap, turn, reasonFor(err), best.Score)
	}

	switch decision {
	case gate.Accept:
		// A zero accept threshold must not turn "no entry" into an empty answer.
		if !matched {
			return r.escalate(snap, turn, ReasonLowConfidence, best.Score)
		}
		return &models.RouteDecision{
			Decision:   models.DecisionAccept,
			Outcome:    models.OutcomeAnsweredFromKnowledge,
			AnswerText: best.Entry.Answer,
			Source:     models.SourceKnowledge,
			Confidence: best.Score,
			MatchedID:  best.Entry.ID,
		}

	case gate.Degrade:
		if r.chain == nil {
			return r.escalate(snap, turn, string(errors.ErrCodeFallbackExhausted), best.Score)
		}
		ans, err := r.chain.Generate(ctx, cfg.CompanyID, cfg.Providers, turn.Text, grounding(matches))
		if err != nil {
			return r.escalate(snap, turn, reasonFor(err), best.Score)
		}
		return &models.RouteDecision{
			Decision:   models.DecisionDegrade,
			Outcome:    models.OutcomeAnsweredFromModel,
			AnswerText: ans.Text,
			Source:     models.SourceModel,
			Confidence: ans.Confidence,
			ProviderID: ans.ProviderID,
		}

	default:
		return r.escalate(snap, turn, ReasonLowConfidence, best.Score)
	}
}

// escalate builds the fallback decision and fires the notice in the
// background. snap may be nil when the config could not be read.
func (r *Router) escalate(snap *companyconfig.Snapshot, turn Turn, reason string, score float64) *models.RouteDecision {
	fallbackText, offer := defaultFallbackText, defaultEscalationOffer
	var target models.EscalationTarget
	var gen uint64
	if snap != nil {
		if t := snap.Config.Templates[models.TemplateFallbackGeneric]; t != "" {
			fallbackText = t
		}
		if t := snap.Config.Templates[models.TemplateEscalationOffer]; t != "" {
			offer = t
		}
		target = snap.Config.Escalation
		gen = snap.Generation
	}

	d := &models.RouteDecision{
		Decision:   models.DecisionEscalate,
		Outcome:    models.OutcomeEscalated,
		AnswerText: fallbackText + " " + offer,
		Source:     models.SourceFallback,
		Confidence: score,
		Reason:     reason,
	}

	if r.notifier != nil && snap != nil {
		ev := escalation.Event{
			CompanyID:      turn.CompanyID,
			ConversationID: turn.ConversationID,
			Text:           turn.Text,
			Reason:         reason,
			Confidence:     score,
			Generation:     gen,
			OccurredAt:     r.now().UTC(),
		}
		r.notifications.Add(1)
		go func() {
			defer r.notifications.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
			defer cancel()
			if err := r.notifier.Escalated(ctx, target, ev); err != nil {
				r.logger.Warn("escalation notice failed", map[string]interface{}{
					"companyId": ev.CompanyID,
					"error":     err.Error(),
				})
			}
		}()
	}
	return d
}

// Wait blocks until in-flight escalation notices finish.
func (r *Router) Wait() {
	r.notifications.Wait()
}

// turnFlags merges stored conversation flags with the turn's own. The turn
// wins. bookingIntent is never read from or written to the store.
func (r *Router) turnFlags(ctx context.Context, turn Turn) flowstate.FlagSet {
	key := flowstate.Key{CompanyID: turn.CompanyID, ConversationID: turn.ConversationID}
	if r.flows == nil || !key.Valid() {
		return flowstate.NewFlagSet(turn.Flags)
	}

	stored, err := r.flows.Get(ctx, key)
	if err != nil {
		r.logger.Warn("flow state unavailable, using turn flags only", map[string]interface{}{
			"companyId":      turn.CompanyID,
			"conversationId": turn.ConversationID,
			"error":          err.Error(),
		})
		return flowstate.NewFlagSet(turn.Flags)
	}

	if stored.Len() > 0 {
		r.logger.Debug("conversation flags restored", map[string]interface{}{
			"companyId":      turn.CompanyID,
			"conversationId": turn.ConversationID,
			"flags":          stored.True(),
		})
	}

	for name, v := range turn.Flags {
		if name == flowstate.FlagBookingIntent || stored.Get(name) == v {
			continue
		}
		if next, err := r.flows.Apply(ctx, key, name, v); err == nil {
			stored = next
		} else {
			r.logger.Warn("flow state write failed", map[string]interface{}{
				"companyId":      turn.CompanyID,
				"conversationId": turn.ConversationID,
				"flag":           name,
				"error":          err.Error(),
			})
		}
	}
	return stored.Without(flowstate.FlagBookingIntent).Merge(turn.Flags)
}

func bookingIntent(cfg *models.CompanyConfig, turn Turn, flags flowstate.FlagSet, best knowledge.Match, matched bool) bool {
	if flags.Get(flowstate.FlagBookingIntent) {
		return true
	}
	if matched && best.Entry.IsBookingIntent() {
		return true
	}
	return knowledge.MentionsAny(turn.Text, cfg.BookingKeywords)
}

func grounding(matches []knowledge.Match) []string {
	out := make([]string, 0, groundingLimit)
	for _, m := range matches {
		if len(out) == groundingLimit {
			break
		}
		if m.Entry.Answer != "" {
			out = append(out, m.Entry.Answer)
		}
	}
	return out
}

func reasonFor(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "INTERNAL_ERROR"
}

func (r *Router) finish(span trace.Span, d *models.RouteDecision, start time.Time) *models.RouteDecision {
	elapsed := r.now().Sub(start)
	d.LatencyMs = elapsed.Milliseconds()

	metrics.RouteDecisions.WithLabelValues(string(d.Outcome), d.Source).Inc()
	metrics.RouteDuration.WithLabelValues(string(d.Outcome)).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("route.outcome", string(d.Outcome)),
		attribute.String("route.source", d.Source),
		attribute.Float64("route.confidence", d.Confidence),
	)
	if d.Reason != "" {
		span.SetAttributes(attribute.String("route.reason", d.Reason))
	}
	return d
}
