// Package mock provides a test double for the vision.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/llmrtc/llmrtc/pkg/provider/vision"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// AnalyzeCall records a single invocation of Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// Image is the attachment passed to Analyze.
	Image types.Attachment
	// Prompt is the question passed to Analyze.
	Prompt string
}

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// Description is returned by Analyze.
	Description string

	// AnalyzeErr, if non-nil, is returned as the error from Analyze.
	AnalyzeErr error

	// AnalyzeCalls records every invocation of Analyze in order.
	AnalyzeCalls []AnalyzeCall
}

// Analyze records the call and returns Description, AnalyzeErr.
func (p *Provider) Analyze(ctx context.Context, image types.Attachment, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Ctx: ctx, Image: image, Prompt: prompt})
	if p.AnalyzeErr != nil {
		return "", p.AnalyzeErr
	}
	return p.Description, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = nil
}

// Ensure Provider implements vision.Provider at compile time.
var _ vision.Provider = (*Provider)(nil)
