package companyconfig

import (
	"strings"
	"sync"
	"time"

	"agent-engine/internal/agent/booking"
	"agent-engine/internal/common/metrics"
	"agent-engine/internal/models"
)

// Snapshot is one immutable view of a company's configuration. Compiled
// booking previews are memoized per snapshot and die with it.
type Snapshot struct {
	Config     *models.CompanyConfig
	Generation uint64
	LoadedAt   time.Time

	relevant []string
	previews sync.Map // memo key -> models.CompiledPreview
}

func newSnapshot(cfg *models.CompanyConfig, generation uint64, now time.Time) *Snapshot {
	return &Snapshot{
		Config:     cfg,
		Generation: generation,
		LoadedAt:   now,
		relevant:   booking.RelevantFlags(cfg),
	}
}

// NewSnapshot wraps a config outside a Loader, for tools and tests.
func NewSnapshot(cfg *models.CompanyConfig, generation uint64) *Snapshot {
	cfg.Normalize()
	return newSnapshot(cfg, generation, time.Now().UTC())
}

func (s *Snapshot) CompanyID() string {
	return s.Config.CompanyID
}

// Preview returns the compiled contract for flags. Flags that no group or
// slot reads do not fragment the memo.
func (s *Snapshot) Preview(flags map[string]bool) models.CompiledPreview {
	key := s.memoKey(flags)
	if v, ok := s.previews.Load(key); ok {
		return copyPreview(v.(models.CompiledPreview))
	}

	p := booking.CompileConfig(s.Config, flags)
	metrics.BookingCompiles.WithLabelValues(string(p.Status)).Inc()
	s.previews.Store(key, p)
	return copyPreview(p)
}

// BasePreview is the preview with no branch flags set. The V2 enable guard
// and runtime truth both judge a company by it.
func (s *Snapshot) BasePreview() models.CompiledPreview {
	return s.Preview(nil)
}

func (s *Snapshot) memoKey(flags map[string]bool) string {
	var b strings.Builder
	for _, f := range s.relevant {
		if flags[f] {
			b.WriteString(f)
			b.WriteByte(',')
		}
	}
	return b.String()
}

func copyPreview(p models.CompiledPreview) models.CompiledPreview {
	return models.CompiledPreview{
		ActiveSlotIDs:   append([]string{}, p.ActiveSlotIDs...),
		MissingSlotRefs: append([]string{}, p.MissingSlotRefs...),
		Status:          p.Status,
	}
}
