package router

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"agent-engine/internal/agent/companyconfig"
	"agent-engine/internal/agent/escalation"
	"agent-engine/internal/agent/fallback"
	"agent-engine/internal/agent/flowstate"
	"agent-engine/internal/agent/knowledge"
	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// ==========================
// Fixtures
// ==========================

func hvacCompany() *models.CompanyConfig {
	return &models.CompanyConfig{
		CompanyID: "acme-hvac",
		QAEntries: []models.QAEntry{
			{ID: "hours", Question: "What are your business hours?", Answer: "We're open 8am to 6pm, Monday to Friday.", Keywords: []string{"hours", "open"}},
			{ID: "book", Question: "Can I schedule a repair?", Answer: "Sure, let's get you booked.", Metadata: map[string]string{"intent": "booking"}},
		},
		Thresholds: &models.Thresholds{Accept: 0.8, Escalate: 0.4},
		Providers: []models.ProviderDescriptor{
			{ID: "primary", Kind: "double", TimeoutMs: 60},
			{ID: "secondary", Kind: "double", TimeoutMs: 60},
		},
		SlotLibrary: []models.SlotDefinition{
			{ID: "name", Type: models.SlotTypeText, Required: true},
			{ID: "phone", Type: models.SlotTypePhone, Required: true},
			{ID: "address", Type: models.SlotTypeAddress, Required: true},
			{ID: "gate_code", Type: models.SlotTypeText, DependsOn: []string{"residential", "afterHours"}},
		},
		SlotGroups: []models.SlotGroup{
			{ID: "core", SlotIDs: []string{"name", "phone"}},
			{ID: "residential", SlotIDs: []string{"address", "gate_code"}, When: &models.Predicate{AllOf: []string{"residential"}}},
		},
		LegacyBookingSlots: []string{"name", "phone", "address"},
		BookingKeywords:    []string{"book", "appointment"},
		Templates: map[string]string{
			models.TemplateFallbackGeneric: "Sorry, I don't have that answer.",
			models.TemplateEscalationOffer: "Want a technician to call you back?",
		},
		Escalation: models.EscalationTarget{SNSTopicARN: "arn:aws:sns:us-east-1:1:acme"},
	}
}

// fixedMatcher returns a canned match list regardless of input.
type fixedMatcher struct {
	matches []knowledge.Match
}

func (m fixedMatcher) Match(context.Context, *models.CompanyConfig, string) []knowledge.Match {
	return m.matches
}

func scored(cfg *models.CompanyConfig, id string, score float64) fixedMatcher {
	for i, e := range cfg.QAEntries {
		if e.ID == id {
			return fixedMatcher{matches: []knowledge.Match{{Entry: e, Score: score, Index: i}}}
		}
	}
	return fixedMatcher{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []escalation.Event
}

func (n *recordingNotifier) Escalated(_ context.Context, _ models.EscalationTarget, ev escalation.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []escalation.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]escalation.Event(nil), n.events...)
}

func hang(id string) fallback.Provider {
	return fallback.ProviderFunc{Name: id, Fn: func(ctx context.Context, _ fallback.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
}

func reply(id, text string) fallback.Provider {
	return fallback.ProviderFunc{Name: id, Fn: func(context.Context, fallback.Request) (string, error) {
		return text, nil
	}}
}

type harness struct {
	router   *Router
	loader   *companyconfig.Loader
	source   *companyconfig.MemorySource
	flows    *flowstate.MemoryStore
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg *models.CompanyConfig, matcher knowledge.Matcher, providers fallback.StaticResolver) *harness {
	t.Helper()
	src := companyconfig.NewMemorySource(cfg)
	loader := companyconfig.NewLoader(src, logger.NewNoOpLogger())
	chain := fallback.NewChain(providers, fallback.RetryPolicy{MaxRetriesPerProvider: 1, Backoff: time.Millisecond}, nil, logger.NewNoOpLogger())
	h := &harness{
		loader:   loader,
		source:   src,
		flows:    flowstate.NewMemoryStore(),
		notifier: &recordingNotifier{},
	}
	h.router = New(Deps{
		Loader:   loader,
		Matcher:  matcher,
		Chain:    chain,
		Flows:    h.flows,
		Notifier: h.notifier,
	}, logger.NewTestLogger(t))
	t.Cleanup(h.router.Wait)
	return h
}

// ==========================
// Answer selection
// ==========================

func TestRoute_HighConfidenceAnswersFromKnowledge(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, scored(cfg, "hours", 0.85), nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "business hours"})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAccept, d.Decision)
	assert.Equal(t, models.OutcomeAnsweredFromKnowledge, d.Outcome)
	assert.Equal(t, models.SourceKnowledge, d.Source)
	assert.Equal(t, "We're open 8am to 6pm, Monday to Friday.", d.AnswerText)
	assert.Equal(t, 0.85, d.Confidence)
	assert.Equal(t, "hours", d.MatchedID)
	assert.Nil(t, d.Booking)
}

func TestRoute_AcceptBoundaryIsInclusive(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, scored(cfg, "hours", 0.8), nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "hours?"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAnsweredFromKnowledge, d.Outcome)
}

func TestRoute_MidConfidenceUsesModel(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, scored(cfg, "hours", 0.5), fallback.StaticResolver{
		"primary":   hang("primary"),
		"secondary": reply("secondary", "We can usually come out the same day."),
	})

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "how soon can you come out"})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionDegrade, d.Decision, "a degraded turn stays distinguishable from an accepted one")
	assert.Equal(t, models.OutcomeAnsweredFromModel, d.Outcome)
	assert.Equal(t, models.SourceModel, d.Source)
	assert.Equal(t, "secondary", d.ProviderID)
	assert.Equal(t, fallback.GeneratedConfidence, d.Confidence)
}

func TestRoute_ExhaustedChainEscalatesWithinBudget(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, scored(cfg, "hours", 0.5), fallback.StaticResolver{
		"primary":   hang("primary"),
		"secondary": hang("secondary"),
	})

	start := time.Now()
	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", ConversationID: "c-1", Text: "is my warranty transferable"})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionEscalate, d.Decision)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	assert.Equal(t, models.SourceFallback, d.Source)
	assert.Equal(t, string(errors.ErrCodeFallbackExhausted), d.Reason)
	assert.Equal(t, "Sorry, I don't have that answer. Want a technician to call you back?", d.AnswerText)
	assert.Less(t, elapsed, 120*time.Millisecond+100*time.Millisecond)

	h.router.Wait()
	events := h.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "c-1", events[0].ConversationID)
}

func TestRoute_LowConfidenceEscalates(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, fixedMatcher{}, nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "quantum entanglement"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	assert.Equal(t, ReasonLowConfidence, d.Reason)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestRoute_ZeroThresholdsNeverAcceptWithoutMatch(t *testing.T) {
	cfg := hvacCompany()
	cfg.Thresholds = &models.Thresholds{Accept: 0, Escalate: 0}
	h := newHarness(t, cfg, fixedMatcher{}, nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", ConversationID: "c-9", Text: "anything at all"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionEscalate, d.Decision)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	assert.Equal(t, models.SourceFallback, d.Source)
	assert.Equal(t, ReasonLowConfidence, d.Reason)
	assert.Empty(t, d.MatchedID)
	assert.Equal(t, "Sorry, I don't have that answer. Want a technician to call you back?", d.AnswerText)

	h.router.Wait()
	assert.Len(t, h.notifier.Events(), 1)
}

func TestRoute_MissingThresholdsEscalate(t *testing.T) {
	cfg := hvacCompany()
	cfg.Thresholds = nil
	h := newHarness(t, cfg, scored(cfg, "hours", 0.99), nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "business hours"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	assert.Equal(t, string(errors.ErrCodeUnconfigured), d.Reason)
}

func TestRoute_EmptyTextEscalates(t *testing.T) {
	h := newHarness(t, hvacCompany(), nil, nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "   "})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	assert.Equal(t, ReasonEmptyText, d.Reason)
}

// ==========================
// Config failures
// ==========================

func TestRoute_ConfigMissingIsTheOnlyError(t *testing.T) {
	h := newHarness(t, hvacCompany(), nil, nil)

	_, err := h.router.Route(context.Background(), Turn{CompanyID: "ghost", Text: "hello"})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConfigMissing))
}

type brokenLoader struct{}

func (brokenLoader) Load(context.Context, string) (*companyconfig.Snapshot, error) {
	return nil, errors.NewConfigLoadFailedError("acme-hvac", stderrors.New("db down"))
}

func TestRoute_LoadFailureEscalatesWithDefaults(t *testing.T) {
	r := New(Deps{Loader: brokenLoader{}}, logger.NewNoOpLogger())

	d, err := r.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	assert.Equal(t, string(errors.ErrCodeConfigLoadFailed), d.Reason)
	assert.Equal(t, defaultFallbackText+" "+defaultEscalationOffer, d.AnswerText)
}

// ==========================
// Booking
// ==========================

func TestRoute_BookingIntentLegacyPath(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, scored(cfg, "hours", 0.9), nil)

	d, err := h.router.Route(context.Background(), Turn{
		CompanyID: "acme-hvac",
		Text:      "hours",
		Flags:     map[string]bool{flowstate.FlagBookingIntent: true, flowstate.FlagResidential: true},
	})
	require.NoError(t, err)
	require.NotNil(t, d.Booking)
	assert.Equal(t, models.BookingSourceLegacy, d.Booking.Source)
	assert.Equal(t, []string{"name", "phone", "address"}, d.Booking.SlotIDs)
}

func TestRoute_BookingIntentCompiledPath(t *testing.T) {
	cfg := hvacCompany()
	cfg.FeatureFlags = map[string]bool{models.FlagBookingContractV2: true}
	h := newHarness(t, cfg, scored(cfg, "book", 0.95), nil)
	ctx := context.Background()

	d, err := h.router.Route(ctx, Turn{CompanyID: "acme-hvac", Text: "schedule a repair"})
	require.NoError(t, err)
	require.NotNil(t, d.Booking)
	assert.Equal(t, models.BookingSourceCompiledV2, d.Booking.Source)
	assert.Equal(t, []string{"name", "phone"}, d.Booking.SlotIDs)

	d, err = h.router.Route(ctx, Turn{
		CompanyID: "acme-hvac",
		Text:      "schedule a repair",
		Flags:     map[string]bool{flowstate.FlagResidential: true, flowstate.FlagAfterHours: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "phone", "address", "gate_code"}, d.Booking.SlotIDs)
	assert.Len(t, d.Booking.Slots, 4)
}

func TestRoute_BrokenContractFallsBackToLegacy(t *testing.T) {
	cfg := hvacCompany()
	cfg.FeatureFlags = map[string]bool{models.FlagBookingContractV2: true}
	cfg.SlotGroups = append(cfg.SlotGroups, models.SlotGroup{
		ID:      "commercial-extra",
		SlotIDs: []string{"po_number"},
		When:    &models.Predicate{AllOf: []string{"commercial"}},
	})
	h := newHarness(t, cfg, scored(cfg, "hours", 0.9), nil)

	d, err := h.router.Route(context.Background(), Turn{
		CompanyID: "acme-hvac",
		Text:      "hours",
		Flags:     map[string]bool{flowstate.FlagBookingIntent: true, flowstate.FlagCommercial: true},
	})
	require.NoError(t, err)
	require.NotNil(t, d.Booking)
	assert.Equal(t, models.BookingSourceLegacy, d.Booking.Source)
	assert.Equal(t, []string{"name", "phone", "address"}, d.Booking.SlotIDs)
	assert.Equal(t, models.ReasonBookingContractInvalid, d.Booking.FallbackReason)
	assert.Equal(t, []string{"po_number"}, d.Booking.MissingSlotRefs)
	assert.NotContains(t, d.Booking.SlotIDs, "po_number")
}

func TestRoute_BookingKeywordTriggersPlan(t *testing.T) {
	cfg := hvacCompany()
	h := newHarness(t, cfg, fixedMatcher{}, nil)

	d, err := h.router.Route(context.Background(), Turn{CompanyID: "acme-hvac", Text: "I need an appointment"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, d.Outcome)
	require.NotNil(t, d.Booking)
	assert.Equal(t, models.BookingSourceLegacy, d.Booking.Source)
}

func TestRoute_V2OffRevertsOnlyThatCompany(t *testing.T) {
	acme := hvacCompany()
	acme.FeatureFlags = map[string]bool{models.FlagBookingContractV2: true}
	globex := hvacCompany()
	globex.CompanyID = "globex"
	globex.FeatureFlags = map[string]bool{models.FlagBookingContractV2: true}

	h := newHarness(t, acme, fixedMatcher{}, nil)
	h.source.Put(globex)
	ctx := context.Background()
	turn := func(company string) Turn {
		return Turn{CompanyID: company, Text: "book", Flags: map[string]bool{flowstate.FlagBookingIntent: true}}
	}

	require.NoError(t, h.source.SetFeatureFlag(ctx, "acme-hvac", models.FlagBookingContractV2, false))
	require.NoError(t, h.loader.InvalidateCompany(ctx, "acme-hvac", companyconfig.OriginToggle))

	d, err := h.router.Route(ctx, turn("acme-hvac"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingSourceLegacy, d.Booking.Source)

	d, err = h.router.Route(ctx, turn("globex"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingSourceCompiledV2, d.Booking.Source)
}

// ==========================
// Flow state
// ==========================

func TestRoute_ConversationFlagsPersistExceptBookingIntent(t *testing.T) {
	cfg := hvacCompany()
	cfg.FeatureFlags = map[string]bool{models.FlagBookingContractV2: true}
	h := newHarness(t, cfg, fixedMatcher{}, nil)
	ctx := context.Background()

	_, err := h.router.Route(ctx, Turn{
		CompanyID:      "acme-hvac",
		ConversationID: "c-42",
		Text:           "hi",
		Flags:          map[string]bool{flowstate.FlagResidential: true, flowstate.FlagBookingIntent: true},
	})
	require.NoError(t, err)

	stored, err := h.flows.Get(ctx, flowstate.Key{CompanyID: "acme-hvac", ConversationID: "c-42"})
	require.NoError(t, err)
	assert.True(t, stored.Get(flowstate.FlagResidential))
	assert.False(t, stored.Get(flowstate.FlagBookingIntent))

	// A later turn only signals intent; the residential branch comes from state.
	d, err := h.router.Route(ctx, Turn{
		CompanyID:      "acme-hvac",
		ConversationID: "c-42",
		Text:           "hi",
		Flags:          map[string]bool{flowstate.FlagBookingIntent: true},
	})
	require.NoError(t, err)
	require.NotNil(t, d.Booking)
	assert.Equal(t, []string{"name", "phone", "address"}, d.Booking.SlotIDs)
}
