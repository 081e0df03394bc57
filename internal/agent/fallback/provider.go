// Package fallback asks language-model providers for an answer in the
// company's declared order, each bounded by its own timeout.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"agent-engine/internal/models"
)

// GeneratedConfidence is the confidence reported for any model answer.
const GeneratedConfidence = 0.5

// Request is one generation call.
type Request struct {
	CompanyID string
	Text      string
	// Context carries grounding snippets, usually the best knowledge matches.
	Context []string
	Model   string
}

// Provider is a single language-model backend.
type Provider interface {
	ID() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Resolver maps a company's descriptor onto a live provider.
type Resolver interface {
	Resolve(desc models.ProviderDescriptor) (Provider, error)
}

// Factory builds a provider for one descriptor kind.
type Factory func(desc models.ProviderDescriptor) (Provider, error)

// Registry resolves descriptors by Kind. Providers are cached per descriptor
// so repeated turns reuse HTTP and gRPC clients.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     map[models.ProviderDescriptor]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		cache:     make(map[models.ProviderDescriptor]Provider),
	}
}

func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = f
}

func (r *Registry) Resolve(desc models.ProviderDescriptor) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.cache[desc]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	f, ok := r.factories[strings.ToLower(desc.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider factory for kind %q", desc.Kind)
	}

	p, err := f(desc)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[desc] = p
	r.mu.Unlock()
	return p, nil
}

// StaticResolver resolves by descriptor ID. Tests and tools use it to plug
// in provider doubles.
type StaticResolver map[string]Provider

func (s StaticResolver) Resolve(desc models.ProviderDescriptor) (Provider, error) {
	p, ok := s[desc.ID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", desc.ID)
	}
	return p, nil
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	Name string
	Fn   func(ctx context.Context, req Request) (string, error)
}

func (p ProviderFunc) ID() string { return p.Name }

func (p ProviderFunc) Generate(ctx context.Context, req Request) (string, error) {
	return p.Fn(ctx, req)
}

// buildPrompt is shared by the concrete providers.
func buildPrompt(req Request) string {
	var parts []string
	parts = append(parts, "You are the phone and chat assistant for a service business. Answer the caller briefly and only from the provided context.")
	if len(req.Context) > 0 {
		parts = append(parts, "\nContext:")
		for _, c := range req.Context {
			parts = append(parts, "- "+c)
		}
	}
	parts = append(parts, "\nCaller: "+req.Text)
	parts = append(parts, "\nIf the context does not cover the question, say you will connect them with a team member.")
	parts = append(parts, "\nAnswer:")
	return strings.Join(parts, "\n")
}
