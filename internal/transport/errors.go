package transport

import (
	"context"
	"errors"

	"github.com/llmrtc/llmrtc/pkg/provider"
)

// Code classifies a user-visible failure on the wire. The client uses the
// code to decide retry or reset behavior; the message is for humans.
type Code string

// The complete wire error code set.
const (
	CodeWebRTCUnavailable  Code = "WEBRTC_UNAVAILABLE"
	CodeConnectionFailed   Code = "CONNECTION_FAILED"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeSTTError           Code = "STT_ERROR"
	CodeSTTTimeout         Code = "STT_TIMEOUT"
	CodeLLMError           Code = "LLM_ERROR"
	CodeLLMTimeout         Code = "LLM_TIMEOUT"
	CodeTTSError           Code = "TTS_ERROR"
	CodeTTSTimeout         Code = "TTS_TIMEOUT"
	CodeAudioProcessing    Code = "AUDIO_PROCESSING_ERROR"
	CodeVADError           Code = "VAD_ERROR"
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
	CodeInvalidAudioFormat Code = "INVALID_AUDIO_FORMAT"
	CodeToolError          Code = "TOOL_ERROR"
	CodePlaybookError      Code = "PLAYBOOK_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeRateLimited        Code = "RATE_LIMITED"
)

// IsValid reports whether c is a known wire error code.
func (c Code) IsValid() bool {
	switch c {
	case CodeWebRTCUnavailable, CodeConnectionFailed, CodeSessionNotFound,
		CodeSessionExpired, CodeSTTError, CodeSTTTimeout, CodeLLMError,
		CodeLLMTimeout, CodeTTSError, CodeTTSTimeout, CodeAudioProcessing,
		CodeVADError, CodeInvalidMessage, CodeInvalidAudioFormat,
		CodeToolError, CodePlaybookError, CodeInternal, CodeRateLimited:
		return true
	}
	return false
}

// Component identifies the pipeline stage a provider failure came from.
type Component string

// Pipeline components with dedicated error codes.
const (
	ComponentSTT Component = "stt"
	ComponentLLM Component = "llm"
	ComponentTTS Component = "tts"
)

// ClassifyProviderError maps a failure from the given pipeline component to
// its wire code, distinguishing timeouts from other failures. Timeouts are
// recognized from context deadline expiry and from provider error kinds.
func ClassifyProviderError(component Component, err error) Code {
	timeout := errors.Is(err, context.DeadlineExceeded)
	if !timeout {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Kind == provider.KindTimeout {
			timeout = true
		}
	}
	switch component {
	case ComponentSTT:
		if timeout {
			return CodeSTTTimeout
		}
		return CodeSTTError
	case ComponentLLM:
		if timeout {
			return CodeLLMTimeout
		}
		return CodeLLMError
	case ComponentTTS:
		if timeout {
			return CodeTTSTimeout
		}
		return CodeTTSError
	}
	return CodeInternal
}
