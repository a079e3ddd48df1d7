// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provideriface is the Provider capability contract of spec.md §6:
// the thin Chat interface every generation provider implements, plus a
// name-keyed Registry and an in-memory Echo provider for tests and offline
// use. Concrete HTTP-backed provider clients are out of scope (§1
// Non-goals) — this package only fixes the shape callers program against.
package provideriface

import (
	"context"
	"sync"
	"time"

	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/model"
)

// ChatRequest is one generation call to a provider.
type ChatRequest struct {
	Prompt   string
	Model    string
	Metadata map[string]string
}

// ChatResponse is a provider's reply to a ChatRequest.
type ChatResponse struct {
	Content string
	Model   string
}

// Provider performs generation calls for one named backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Registry resolves a configured provider by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// EchoProvider answers every Chat call by returning the prompt verbatim; it
// never makes a network call, so it's the default for tests and for
// running the pipeline with no providers configured.
type EchoProvider struct {
	name string
}

// NewEcho constructs an EchoProvider registered under name.
func NewEcho(name string) *EchoProvider {
	return &EchoProvider{name: name}
}

func (e *EchoProvider) Name() string { return e.name }

func (e *EchoProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	return ChatResponse{Content: req.Prompt, Model: req.Model}, nil
}

// PromptBuilder turns a generation item into the request sent to its
// provider; callers supply one per frame_type/agent policy.
type PromptBuilder func(item model.GenerationItem) (ChatRequest, error)

// Generator adapts a Registry and PromptBuilder into a genqueue.Generator,
// turning a successful Chat call into a content-addressed Frame.
type Generator struct {
	Registry *Registry
	Build    PromptBuilder
}

// Generate resolves item's provider, builds its request, and wraps a
// successful reply as a Frame whose identity is recomputed from the
// response content (so two identical replies to the same basis produce the
// same FrameID and dedup in the Frame Store).
func (g *Generator) Generate(ctx context.Context, item model.GenerationItem) (*model.Frame, error) {
	provider, ok := g.Registry.Get(item.ProviderName)
	if !ok {
		return nil, model.NewProviderError(model.KindProviderNotConfigured, "provider not configured: "+item.ProviderName, nil)
	}

	req, err := g.Build(item)
	if err != nil {
		return nil, model.NewProviderError(model.KindProviderError, "failed to build prompt", err)
	}

	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, model.NewProviderError(model.KindProviderRequestFailed, "provider call failed", err)
	}

	basis := model.NodeBasis(item.NodeID)
	content := []byte(resp.Content)
	metadata := map[string]string{"agent_id": item.AgentID, "provider": item.ProviderName}
	if resp.Model != "" {
		metadata["model"] = resp.Model
	}

	return &model.Frame{
		FrameID:   hashid.FrameIdentity(basis, content, item.FrameType, item.AgentID),
		Basis:     basis,
		Content:   content,
		FrameType: item.FrameType,
		AgentID:   item.AgentID,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}, nil
}
