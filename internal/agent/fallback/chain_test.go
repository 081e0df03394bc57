package fallback

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/genai"
)

// genai links go.opencensus.io, whose init starts a stats worker that never exits.
var ignoreOpenCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

// ==========================
// Provider doubles
// ==========================

type scriptedProvider struct {
	id    string
	calls atomic.Int32
	steps []func(ctx context.Context) (string, error)
}

func (p *scriptedProvider) ID() string { return p.id }

func (p *scriptedProvider) Generate(ctx context.Context, _ Request) (string, error) {
	n := int(p.calls.Add(1)) - 1
	if n >= len(p.steps) {
		n = len(p.steps) - 1
	}
	return p.steps[n](ctx)
}

func answer(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(msg string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", fmt.Errorf("%s", msg) }
}

// hang blocks until the provider budget runs out.
func hang() func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

func desc(id string, timeoutMs int) models.ProviderDescriptor {
	return models.ProviderDescriptor{ID: id, Kind: "double", TimeoutMs: timeoutMs}
}

func newTestChain(t *testing.T, resolver Resolver) *Chain {
	return NewChain(resolver, RetryPolicy{MaxRetriesPerProvider: 1, Backoff: 5 * time.Millisecond}, NewBreakerSet(), logger.NewTestLogger(t))
}

// ==========================
// Chain behaviour
// ==========================

func TestChain_FirstProviderAnswers(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	primary := &scriptedProvider{id: "primary", steps: []func(context.Context) (string, error){answer("  We open at 8.  ")}}
	secondary := &scriptedProvider{id: "secondary", steps: []func(context.Context) (string, error){answer("unused")}}
	chain := newTestChain(t, StaticResolver{"primary": primary, "secondary": secondary})

	got, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("primary", 200), desc("secondary", 200)}, "when do you open", nil)
	require.NoError(t, err)
	assert.Equal(t, "We open at 8.", got.Text)
	assert.Equal(t, "primary", got.ProviderID)
	assert.Equal(t, GeneratedConfidence, got.Confidence)
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestChain_RetriesOnceOnError(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	flaky := &scriptedProvider{id: "flaky", steps: []func(context.Context) (string, error){fail("503"), answer("recovered")}}
	chain := newTestChain(t, StaticResolver{"flaky": flaky})

	got, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("flaky", 500)}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got.Text)
	assert.Equal(t, int32(2), flaky.calls.Load())
	assert.Equal(t, 2, got.Attempts[0].Calls)
}

func TestChain_AtMostOneRetryThenAdvance(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	broken := &scriptedProvider{id: "broken", steps: []func(context.Context) (string, error){fail("boom")}}
	backup := &scriptedProvider{id: "backup", steps: []func(context.Context) (string, error){answer("from backup")}}
	chain := newTestChain(t, StaticResolver{"broken": broken, "backup": backup})

	got, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("broken", 500), desc("backup", 500)}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "backup", got.ProviderID)
	assert.Equal(t, int32(2), broken.calls.Load())
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, ResultError, got.Attempts[0].Result)
}

func TestChain_TimeoutAdvancesWithoutRetry(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	slow := &scriptedProvider{id: "slow", steps: []func(context.Context) (string, error){hang()}}
	fast := &scriptedProvider{id: "fast", steps: []func(context.Context) (string, error){answer("fast answer")}}
	chain := newTestChain(t, StaticResolver{"slow": slow, "fast": fast})

	got, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("slow", 30), desc("fast", 200)}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", got.ProviderID)
	assert.Equal(t, int32(1), slow.calls.Load())
	assert.Equal(t, ResultTimeout, got.Attempts[0].Result)
}

func TestChain_ExhaustedWithinSumOfTimeouts(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	a := &scriptedProvider{id: "a", steps: []func(context.Context) (string, error){hang()}}
	b := &scriptedProvider{id: "b", steps: []func(context.Context) (string, error){hang()}}
	chain := newTestChain(t, StaticResolver{"a": a, "b": b})

	start := time.Now()
	got, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("a", 40), desc("b", 60)}, "hi", nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, stderrors.Is(err, errors.ErrFallbackExhausted))
	assert.Equal(t, errors.ErrCodeFallbackExhausted, errors.CodeOf(err))
	assert.Less(t, elapsed, 100*time.Millisecond+150*time.Millisecond)

	var exhausted *ExhaustedError
	require.True(t, stderrors.As(err, &exhausted))
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, ResultTimeout, exhausted.Attempts[0].Result)
	assert.Equal(t, ResultTimeout, exhausted.Attempts[1].Result)
}

func TestChain_StubbornProviderCannotOverrunBudget(t *testing.T) {
	release := make(chan struct{})
	stubborn := &scriptedProvider{id: "stubborn", steps: []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			return "too late", nil
		},
	}}
	t.Cleanup(func() { close(release) })
	chain := newTestChain(t, StaticResolver{"stubborn": stubborn})

	start := time.Now()
	_, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("stubborn", 50)}, "hi", nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFallbackExhausted))
	assert.Less(t, elapsed, 50*time.Millisecond+150*time.Millisecond)

	var exhausted *ExhaustedError
	require.True(t, stderrors.As(err, &exhausted))
	assert.Equal(t, ResultTimeout, exhausted.Attempts[0].Result)
	assert.Equal(t, 1, exhausted.Attempts[0].Calls)
}

func TestChain_RetryBackoffStaysInsideProviderBudget(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	erring := &scriptedProvider{id: "erring", steps: []func(context.Context) (string, error){fail("boom")}}
	chain := NewChain(StaticResolver{"erring": erring}, RetryPolicy{MaxRetriesPerProvider: 1, Backoff: time.Second}, nil, logger.NewNoOpLogger())

	start := time.Now()
	_, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("erring", 50)}, "hi", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int32(1), erring.calls.Load())
}

func TestChain_ZeroTimeoutIsUnconfiguredAndSkipped(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	skipped := &scriptedProvider{id: "skipped", steps: []func(context.Context) (string, error){answer("never")}}
	used := &scriptedProvider{id: "used", steps: []func(context.Context) (string, error){answer("ok")}}
	chain := newTestChain(t, StaticResolver{"skipped": skipped, "used": used})

	got, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("skipped", 0), desc("used", 100)}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "used", got.ProviderID)
	assert.Equal(t, int32(0), skipped.calls.Load())
	assert.Equal(t, ResultUnconfigured, got.Attempts[0].Result)
}

func TestChain_EmptyProviderListIsExhausted(t *testing.T) {
	chain := newTestChain(t, StaticResolver{})
	_, err := chain.Generate(context.Background(), "acme", nil, "hi", nil)
	assert.True(t, stderrors.Is(err, errors.ErrFallbackExhausted))
}

func TestChain_EmptyCompletionCountsAsError(t *testing.T) {
	blank := &scriptedProvider{id: "blank", steps: []func(context.Context) (string, error){answer("   ")}}
	chain := newTestChain(t, StaticResolver{"blank": blank})

	_, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{desc("blank", 100)}, "hi", nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), blank.calls.Load())
}

func TestChain_CancelledContextStops(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	p := &scriptedProvider{id: "p", steps: []func(context.Context) (string, error){answer("x")}}
	chain := newTestChain(t, StaticResolver{"p": p})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := chain.Generate(ctx, "acme", []models.ProviderDescriptor{desc("p", 100)}, "hi", nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), p.calls.Load())
}

// ==========================
// Circuit breaker
// ==========================

func TestChain_BreakerOpensPerCompany(t *testing.T) {
	broken := &scriptedProvider{id: "llm", steps: []func(context.Context) (string, error){fail("down")}}
	chain := NewChain(StaticResolver{"llm": broken}, RetryPolicy{}, NewBreakerSet(), logger.NewNoOpLogger())
	now := time.Unix(1_700_000_000, 0)
	chain.now = func() time.Time { return now }

	d := models.ProviderDescriptor{ID: "llm", Kind: "double", TimeoutMs: 100, FailureThreshold: 2, CooldownMs: 1000}

	for i := 0; i < 2; i++ {
		_, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{d}, "hi", nil)
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), broken.calls.Load())

	// open for acme: no call is made
	_, err := chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{d}, "hi", nil)
	var exhausted *ExhaustedError
	require.True(t, stderrors.As(err, &exhausted))
	assert.Equal(t, ResultCircuitOpen, exhausted.Attempts[0].Result)
	assert.Equal(t, int32(2), broken.calls.Load())

	// another company is unaffected
	_, _ = chain.Generate(context.Background(), "globex", []models.ProviderDescriptor{d}, "hi", nil)
	assert.Equal(t, int32(3), broken.calls.Load())

	// after the cooldown a trial call goes through
	now = now.Add(1500 * time.Millisecond)
	_, _ = chain.Generate(context.Background(), "acme", []models.ProviderDescriptor{d}, "hi", nil)
	assert.Equal(t, int32(4), broken.calls.Load())
}

func TestBreakerSet_ResetClosesOneCompany(t *testing.T) {
	set := NewBreakerSet()
	now := time.Unix(1_700_000_000, 0)

	acme := set.Get("acme", "llm", 1, time.Minute)
	globex := set.Get("globex", "llm", 1, time.Minute)
	acme.Failure(now)
	globex.Failure(now)
	require.False(t, acme.Allow(now))
	require.False(t, globex.Allow(now))

	set.Reset("acme")

	assert.True(t, set.Get("acme", "llm", 1, time.Minute).Allow(now))
	assert.False(t, set.Get("globex", "llm", 1, time.Minute).Allow(now))
}

func TestBreaker_ZeroDisables(t *testing.T) {
	b := &Breaker{}
	b.configure(0, time.Second)
	now := time.Now()
	for i := 0; i < 10; i++ {
		b.Failure(now)
	}
	assert.True(t, b.Allow(now))
	assert.False(t, b.Open(now))
}

func TestRetryPolicy_Clamped(t *testing.T) {
	chain := NewChain(StaticResolver{}, RetryPolicy{MaxRetriesPerProvider: 5, Backoff: -time.Second}, nil, logger.NewNoOpLogger())
	assert.Equal(t, 1, chain.Policy().MaxRetriesPerProvider)
	assert.Equal(t, time.Duration(0), chain.Policy().Backoff)
}

// ==========================
// Concrete providers
// ==========================

func TestHTTPProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"We service all furnace brands.","confidence":0.7}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("gateway", srv.URL+"/", "secret")
	got, err := p.Generate(context.Background(), Request{CompanyID: "acme", Text: "furnace?"})
	require.NoError(t, err)
	assert.Equal(t, "We service all furnace brands.", got)
}

func TestHTTPProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider("gateway", srv.URL, "").Generate(context.Background(), Request{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

type fakeModels struct {
	gotModel string
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	return f.resp, f.err
}

func TestGenAIProvider_Generate(t *testing.T) {
	fm := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("Open 8 to 6.", genai.RoleModel)}},
	}}
	p := NewGenAIProvider("gemini", "gemini-2.0-flash", fm)

	got, err := p.Generate(context.Background(), Request{Text: "hours?", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "Open 8 to 6.", got)
	assert.Equal(t, "gemini-2.5-flash", fm.gotModel)

	fm.err = fmt.Errorf("quota")
	_, err = p.Generate(context.Background(), Request{Text: "hours?"})
	require.Error(t, err)
	assert.Equal(t, "gemini-2.0-flash", fm.gotModel)
}

func TestRegistry_ResolveCachesByDescriptor(t *testing.T) {
	reg := NewRegistry()
	built := 0
	reg.Register("HTTP", func(d models.ProviderDescriptor) (Provider, error) {
		built++
		return NewHTTPProvider(d.ID, "http://localhost", ""), nil
	})

	d := models.ProviderDescriptor{ID: "gw", Kind: "http", TimeoutMs: 100}
	p1, err := reg.Resolve(d)
	require.NoError(t, err)
	p2, err := reg.Resolve(d)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, built)

	_, err = reg.Resolve(models.ProviderDescriptor{ID: "x", Kind: "unknown"})
	assert.Error(t, err)
}
