// Package mock provides a scriptable test double for the llm.Provider interface.
//
// Structured calls are answered from a per-schema script: each schema name maps
// to an ordered list of results (a raw JSON payload or an error) consumed one
// per call. This lets workflow tests exercise retry behaviour ("fail twice,
// then succeed") without a live backend.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kaizen403/vivavoce/pkg/provider/llm"
)

// StructuredResult is one scripted reply for a Structured call.
type StructuredResult struct {
	// JSON is the payload returned when Err is nil.
	JSON json.RawMessage

	// Err, if non-nil, is returned instead of JSON.
	Err error
}

// StructuredCall records a single invocation of Provider.Structured.
type StructuredCall struct {
	// SchemaName identifies which task made the call.
	SchemaName string

	// Req is the full request.
	Req llm.StructuredRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by every Complete call when CompleteErr is nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// StreamChunks is emitted, in order, by every StreamCompletion call.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion before the channel opens.
	StreamErr error

	// scripts maps schema name → remaining scripted Structured results.
	scripts map[string][]StructuredResult

	// StructuredFallback is returned for schemas with no (remaining) script.
	// When nil and no script matches, Structured returns an empty JSON object.
	StructuredFallback func(req llm.StructuredRequest) (json.RawMessage, error)

	// StructuredCalls records every call to Structured in order.
	StructuredCalls []StructuredCall
}

// ScriptStructured appends results to the script for the given schema name.
// Each Structured call with that schema consumes one result.
func (p *Provider) ScriptStructured(schemaName string, results ...StructuredResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scripts == nil {
		p.scripts = make(map[string][]StructuredResult)
	}
	p.scripts[schemaName] = append(p.scripts[schemaName], results...)
}

// ScriptJSON is shorthand for scripting a single successful JSON reply.
func (p *Provider) ScriptJSON(schemaName, payload string) {
	p.ScriptStructured(schemaName, StructuredResult{JSON: json.RawMessage(payload)})
}

// ScriptErr is shorthand for scripting a single failing reply.
func (p *Provider) ScriptErr(schemaName string, err error) {
	p.ScriptStructured(schemaName, StructuredResult{Err: err})
}

// StreamCompletion implements llm.Provider by emitting StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	err := p.StreamErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{Content: "ok"}, nil
}

// Structured implements llm.Provider by consuming the script for the request's
// schema name.
func (p *Provider) Structured(_ context.Context, req llm.StructuredRequest) (json.RawMessage, error) {
	p.mu.Lock()
	p.StructuredCalls = append(p.StructuredCalls, StructuredCall{SchemaName: req.SchemaName, Req: req})

	if script, ok := p.scripts[req.SchemaName]; ok && len(script) > 0 {
		next := script[0]
		p.scripts[req.SchemaName] = script[1:]
		p.mu.Unlock()
		if next.Err != nil {
			return nil, next.Err
		}
		return next.JSON, nil
	}
	fallback := p.StructuredFallback
	p.mu.Unlock()

	if fallback != nil {
		return fallback(req)
	}
	return json.RawMessage(`{}`), nil
}

// CallsFor returns the recorded Structured calls for the given schema name.
func (p *Provider) CallsFor(schemaName string) []StructuredCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []StructuredCall
	for _, c := range p.StructuredCalls {
		if c.SchemaName == schemaName {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all scripts and recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = nil
	p.StructuredCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
