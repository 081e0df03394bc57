package companyconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acmeYAML = `companyId: acme
thresholds:
  accept: 0.8
  escalate: 0.3
qaEntries:
  - id: hours
    question: What are your hours?
    answer: 8am to 6pm weekdays.
slotLibrary:
  - id: name
    type: text
    required: true
slotGroups:
  - id: core
    slotIds: [name]
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestFileSource_Fetch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", acmeYAML)
	writeFile(t, dir, "globex.json", `{"companyId": "globex"}`)
	src := NewFileSource(dir, logger.NewNoOpLogger())

	cfg, err := src.Fetch(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.CompanyID)
	assert.Len(t, cfg.QAEntries, 1)

	cfg, err = src.Fetch(context.Background(), "globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", cfg.CompanyID)

	_, err = src.Fetch(context.Background(), "initech")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.Fetch(context.Background(), "../acme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSource_ListCompanies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", acmeYAML)
	writeFile(t, dir, "globex.json", `{"companyId": "globex"}`)
	writeFile(t, dir, "README.md", "notes")
	writeFile(t, dir, ".hidden.yaml", acmeYAML)

	ids, err := NewFileSource(dir, logger.NewNoOpLogger()).ListCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, ids)
}

func TestFileSource_SetFeatureFlagRewritesDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", acmeYAML)
	src := NewFileSource(dir, logger.NewNoOpLogger())
	ctx := context.Background()

	require.NoError(t, src.SetFeatureFlag(ctx, "acme", models.FlagBookingContractV2, true))

	cfg, err := src.Fetch(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, cfg.BookingV2Enabled())
	assert.Equal(t, 0.8, cfg.Thresholds.Accept)

	assert.ErrorIs(t, src.SetFeatureFlag(ctx, "initech", "x", true), ErrNotFound)
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
	hit   chan string
}

func (r *recordingInvalidator) InvalidateCompany(_ context.Context, companyID, origin string) error {
	r.mu.Lock()
	r.calls = append(r.calls, companyID+":"+origin)
	r.mu.Unlock()
	select {
	case r.hit <- companyID:
	default:
	}
	return nil
}

func TestFileSource_WatchInvalidatesChangedCompany(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acme.yaml", acmeYAML)
	src := NewFileSource(dir, logger.NewNoOpLogger())
	inv := &recordingInvalidator{hit: make(chan string, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, inv) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(acmeYAML+"bookingKeywords: [book]\n"), 0o644))

	select {
	case id := <-inv.hit:
		assert.Equal(t, "acme", id)
	case <-time.After(3 * time.Second):
		t.Fatal("no invalidation observed")
	}

	cancel()
	assert.NoError(t, <-done)

	inv.mu.Lock()
	defer inv.mu.Unlock()
	assert.Contains(t, inv.calls, "acme:"+OriginFile)
}
