// Package vision defines the Provider interface for image analysis backends.
//
// A vision provider wraps a multimodal model API (e.g., GPT-4o vision) and
// answers a free-form question about a single image. The turn engine uses it
// to pre-digest attachments for text-only LLM configurations: each attached
// image is analysed once and its description is injected into the user turn.
//
// Implementations must be safe for concurrent use.
package vision

import (
	"context"

	"github.com/llmrtc/llmrtc/pkg/types"
)

// Provider is the abstraction over any image analysis backend.
type Provider interface {
	// Analyze answers prompt about the supplied image and returns the
	// model's textual description. The attachment must carry image data and
	// a MediaType the backend accepts.
	//
	// Returns an error if analysis fails or ctx is cancelled. Failures
	// should be classified as *provider.Error so the retry loop can tell
	// transient from fatal.
	Analyze(ctx context.Context, image types.Attachment, prompt string) (string, error)
}
