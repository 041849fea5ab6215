package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmrtc/llmrtc/internal/hooks"
	"github.com/llmrtc/llmrtc/internal/playbook"
	"github.com/llmrtc/llmrtc/internal/resilience"
	"github.com/llmrtc/llmrtc/internal/tools"
	"github.com/llmrtc/llmrtc/internal/transport"
	"github.com/llmrtc/llmrtc/pkg/provider/llm"
	"github.com/llmrtc/llmrtc/pkg/provider/stt"
	"github.com/llmrtc/llmrtc/pkg/provider/tts"
	"github.com/llmrtc/llmrtc/pkg/types"
)

// run executes one admitted turn start to finish. It owns every event the
// turn emits and retires the turn exactly once.
func (e *Engine) run(ctx context.Context, t *activeTurn, in turnInput) {
	began := time.Now()
	outcome := hooks.TurnCompleted
	defer func() { e.retire(t, outcome, began) }()

	gen := t.gen

	text := in.text
	if in.audio != nil {
		raw, err := e.transcribe(ctx, gen, *in.audio)
		if err != nil {
			if ctx.Err() != nil {
				outcome = hooks.TurnCancelled
				return
			}
			e.reportError(gen, transport.ClassifyProviderError(transport.ComponentSTT, err), "stt", err)
			outcome = hooks.TurnFailed
			return
		}
		text = raw
	}
	text = strings.TrimSpace(text)
	if text != "" && e.correct != nil {
		text = strings.TrimSpace(e.correct(text))
	}
	if in.audio != nil && text != "" {
		e.mux.SendTurn(gen, transport.NewTranscriptEvent(text, true))
	}

	atts := e.describeAttachments(ctx, in.attachments)
	if ctx.Err() != nil {
		outcome = hooks.TurnCancelled
		return
	}
	if text == "" && len(atts) == 0 {
		// Nothing transcribable and nothing attached; retire quietly.
		return
	}
	if e.llm == nil {
		err := errors.New("no language model provider configured")
		e.reportError(gen, transport.ClassifyProviderError(transport.ComponentLLM, err), "llm", err)
		outcome = hooks.TurnFailed
		return
	}

	prof, err := e.resolveProfile()
	if err != nil {
		e.reportError(gen, transport.CodePlaybookError, "playbook", err)
		outcome = hooks.TurnFailed
		return
	}

	// The user message is committed only once a final transcript exists;
	// turns that die earlier leave no trace in history.
	e.hist.Append(types.Message{Role: types.RoleUser, Content: text, Attachments: atts})
	e.archiveExchange(gen, types.RoleUser, text, 0)

	pump := e.startPump(ctx, gen)
	reply, records, requested, convErr := e.converse(ctx, t, gen, prof, pump.frags)
	close(pump.frags)
	<-pump.done

	// Whatever converse committed to history is mirrored to the archive,
	// including a reply whose playback was barged in on.
	e.archiveExchange(gen, types.RoleAssistant, reply, time.Since(began))

	switch {
	case ctx.Err() != nil:
		e.finishCancelledTTS(gen, pump)
		outcome = hooks.TurnCancelled
		return
	case convErr != nil:
		e.reportError(gen, transport.ClassifyProviderError(transport.ComponentLLM, convErr), "llm", convErr)
		e.finishCancelledTTS(gen, pump)
		outcome = hooks.TurnFailed
		return
	case pump.err != nil:
		e.reportError(gen, transport.ClassifyProviderError(transport.ComponentTTS, pump.err), "tts", pump.err)
		e.finishCancelledTTS(gen, pump)
		outcome = hooks.TurnFailed
		return
	}

	if e.pb != nil {
		e.evaluatePlaybook(gen, playbook.Outcome{
			UserText:       text,
			AssistantReply: reply,
			ToolCalls:      records,
			RequestedStage: requested,
		})
	}
}

// transcribe turns the utterance into final text, forwarding partial
// transcripts to the client when the backend streams them.
func (e *Engine) transcribe(ctx context.Context, gen uint64, audio stt.Audio) (string, error) {
	if e.stt == nil {
		return "", errors.New("no speech-to-text provider configured")
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.STTTimeout)
	defer cancel()

	start := time.Now()
	var ttf time.Duration
	var text string
	err := resilience.Retry(sctx, e.cfg.Retry, func(ctx context.Context) error {
		streamer, ok := e.stt.(stt.StreamingProvider)
		if !ok {
			tr, err := e.stt.Transcribe(ctx, audio)
			if err != nil {
				return err
			}
			text = tr.Text
			return nil
		}
		ch, err := streamer.TranscribeStream(ctx, audio)
		if err != nil {
			return err
		}
		final := false
		for tr := range ch {
			if ttf == 0 {
				ttf = time.Since(start)
			}
			if tr.IsFinal {
				text, final = tr.Text, true
				continue
			}
			if tr.Text != "" {
				e.mux.SendTurn(gen, transport.NewTranscriptEvent(tr.Text, false))
			}
		}
		if !final {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("transcription stream closed without a final result")
		}
		return nil
	})
	e.emitProvider("stt", e.cfg.STTName, start, ttf, err)
	return text, err
}

// describeAttachments runs each attachment through the vision backend and
// stores the description as alt text, so text-only model configurations
// still see what the image shows. Failures leave the attachment as is.
func (e *Engine) describeAttachments(ctx context.Context, atts []types.Attachment) []types.Attachment {
	if e.vision == nil || len(atts) == 0 {
		return atts
	}
	for i := range atts {
		if atts[i].Alt != "" {
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, e.cfg.VisionTimeout)
		start := time.Now()
		desc, err := resilience.RetryWithResult(vctx, e.cfg.Retry, func(ctx context.Context) (string, error) {
			return e.vision.Analyze(ctx, atts[i], "Describe this image for a voice conversation. Be specific and brief.")
		})
		cancel()
		e.emitProvider("vision", e.cfg.VisionName, start, 0, err)
		if err != nil {
			if ctx.Err() != nil {
				return atts
			}
			e.log.Warn("attachment analysis failed", "error", err)
			continue
		}
		atts[i].Alt = desc
	}
	return atts
}

// profile is the effective model configuration for one turn.
type profile struct {
	system   string
	tools    []string
	allTools bool
	choice   llm.ToolChoice
	cfg      llm.Config
	twoPhase bool
	targets  []string
}

func (e *Engine) resolveProfile() (profile, error) {
	if e.pb == nil {
		return profile{
			system:   e.cfg.SystemPrompt,
			allTools: true,
			cfg:      e.cfg.LLM,
			twoPhase: true,
		}, nil
	}
	e.mu.Lock()
	st := e.stage
	e.mu.Unlock()
	sp, err := e.pb.Resolve(st)
	if err != nil {
		return profile{}, err
	}
	return profile{
		system:   sp.SystemPrompt,
		tools:    sp.Tools,
		choice:   sp.ToolChoice,
		cfg:      sp.Config,
		twoPhase: sp.TwoPhase,
		targets:  sp.TransitionTargets,
	}, nil
}

// toolDefinitions assembles the tool set offered this turn: the registry
// tools the profile allows, plus the synthetic stage transition tool when
// the playbook has model-decided transitions from the current stage.
func (e *Engine) toolDefinitions(prof profile) []types.ToolDefinition {
	if prof.choice == llm.ToolChoiceNone {
		return nil
	}
	var defs []types.ToolDefinition
	if e.registry != nil {
		switch {
		case prof.allTools:
			defs = e.registry.Definitions()
		case len(prof.tools) > 0:
			defs = e.registry.Definitions(prof.tools...)
		}
	}
	if len(prof.targets) > 0 {
		defs = append(defs, playbook.TransitionToolDefinition(prof.targets))
	}
	return defs
}

// converse produces the turn's reply. With tools on offer it runs the
// two-phase flow (non-streaming tool loop, then a streamed reply) or the
// single-pass flow when the stage disables two-phase execution; without
// tools it streams the reply directly. The returned records and requested
// stage feed playbook evaluation.
func (e *Engine) converse(ctx context.Context, t *activeTurn, gen uint64, prof profile, frags chan<- string) (reply string, records []playbook.ToolCallRecord, requested string, err error) {
	defs := e.toolDefinitions(prof)

	if len(defs) > 0 && !prof.twoPhase {
		return e.singlePass(ctx, t, gen, prof, defs, frags)
	}

	if len(defs) > 0 {
		var answered bool
		reply, records, requested, answered, err = e.toolPhase(ctx, gen, prof, defs)
		if err != nil {
			return "", records, requested, err
		}
		if answered {
			if reply != "" {
				e.hist.Append(types.Message{Role: types.RoleAssistant, Content: reply})
			}
			t.interruptible.Store(true)
			e.sendWholeReply(ctx, gen, reply, frags)
			return reply, records, requested, ctx.Err()
		}
	}

	// Reply phase: stream the final response with tools withheld.
	t.interruptible.Store(true)
	reply, err = e.streamReply(ctx, gen, llm.Request{
		Messages:     e.hist.Snapshot(),
		SystemPrompt: prof.system,
		Config:       prof.cfg,
	}, frags)
	if err != nil {
		return "", records, requested, err
	}
	if reply != "" {
		e.hist.Append(types.Message{Role: types.RoleAssistant, Content: reply})
	}
	return reply, records, requested, nil
}

// toolPhase runs the non-streaming tool loop. answered is true when the
// model produced its reply during the loop; false with a nil error means an
// iteration or wall-clock cap was breached and the caller must force a
// tool-free reply call.
func (e *Engine) toolPhase(ctx context.Context, gen uint64, prof profile, defs []types.ToolDefinition) (reply string, records []playbook.ToolCallRecord, requested string, answered bool, err error) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.Phase1Timeout)
	defer cancel()

	choice := prof.choice
	for round := 0; round < e.cfg.MaxToolCallsPerTurn; round++ {
		comp, cerr := e.complete(pctx, llm.Request{
			Messages:     e.hist.Snapshot(),
			SystemPrompt: prof.system,
			Tools:        defs,
			ToolChoice:   choice,
			Config:       prof.cfg,
		})
		if cerr != nil {
			if pctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				e.log.Debug("tool phase wall clock exhausted", "generation", gen, "rounds", round)
				return "", records, requested, false, nil
			}
			return "", records, requested, false, cerr
		}
		if len(comp.ToolCalls) == 0 {
			return comp.Content, records, requested, true, nil
		}

		group, recs, req := e.runToolRound(pctx, gen, prof, comp.Content, comp.ToolCalls)
		records = append(records, recs...)
		if req != "" {
			requested = req
		}
		if ctx.Err() != nil {
			return "", records, requested, false, ctx.Err()
		}
		e.hist.Append(group...)

		// Re-forcing a tool on later rounds would never terminate.
		choice = llm.ToolChoiceAuto
	}
	e.log.Debug("tool phase iteration cap reached", "generation", gen, "rounds", e.cfg.MaxToolCallsPerTurn)
	return "", records, requested, false, nil
}

// singlePass implements stages that disable two-phase execution: one model
// call carries both the tool calls and the reply text. Requested tools run
// with the usual events and their results are recorded, then the same
// completion's text is spoken.
func (e *Engine) singlePass(ctx context.Context, t *activeTurn, gen uint64, prof profile, defs []types.ToolDefinition, frags chan<- string) (string, []playbook.ToolCallRecord, string, error) {
	comp, err := e.complete(ctx, llm.Request{
		Messages:     e.hist.Snapshot(),
		SystemPrompt: prof.system,
		Tools:        defs,
		ToolChoice:   prof.choice,
		Config:       prof.cfg,
	})
	if err != nil {
		return "", nil, "", err
	}

	var records []playbook.ToolCallRecord
	var requested string
	if len(comp.ToolCalls) > 0 {
		group, recs, req := e.runToolRound(ctx, gen, prof, comp.Content, comp.ToolCalls)
		records, requested = recs, req
		if ctx.Err() != nil {
			return "", records, requested, ctx.Err()
		}
		e.hist.Append(group...)
	} else if comp.Content != "" {
		e.hist.Append(types.Message{Role: types.RoleAssistant, Content: comp.Content})
	}

	t.interruptible.Store(true)
	e.sendWholeReply(ctx, gen, comp.Content, frags)
	return comp.Content, records, requested, ctx.Err()
}

// complete is one retried non-streaming model call.
func (e *Engine) complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()
	start := time.Now()
	comp, err := resilience.RetryWithResult(cctx, e.cfg.Retry, func(ctx context.Context) (*llm.Completion, error) {
		return e.llm.Complete(ctx, req)
	})
	if err == nil && comp == nil {
		err = errors.New("model returned an empty completion")
	}
	e.emitProvider("llm", e.cfg.LLMName, start, 0, err)
	return comp, err
}

// streamReply streams the reply call, forwarding content deltas to the
// client and handing completed sentence fragments to the TTS pump while the
// stream is still running. Establishment failures are retried; a failure
// after content has flowed ends the turn, since replaying the stream would
// duplicate client chunks.
func (e *Engine) streamReply(ctx context.Context, gen uint64, req llm.Request, frags chan<- string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	var ttf time.Duration
	ch, err := resilience.RetryWithResult(cctx, e.cfg.Retry, func(ctx context.Context) (<-chan llm.Chunk, error) {
		return e.llm.Stream(ctx, req)
	})
	if err != nil {
		e.emitProvider("llm", e.cfg.LLMName, start, 0, err)
		return "", err
	}

	seg := newSegmenter(e.cfg.MinFragment, e.cfg.SoftCap)
	var full strings.Builder
	done := false
	for chunk := range ch {
		if chunk.Err != nil {
			err = chunk.Err
			break
		}
		if chunk.Content != "" {
			if ttf == 0 {
				ttf = time.Since(start)
			}
			full.WriteString(chunk.Content)
			e.mux.SendTurn(gen, transport.NewLLMChunkEvent(chunk.Content, false))
			for _, frag := range seg.feed(chunk.Content) {
				if !pushFragment(ctx, frags, frag) {
					go drainChunks(ch)
					e.emitProvider("llm", e.cfg.LLMName, start, ttf, ctx.Err())
					return "", ctx.Err()
				}
			}
		}
		if chunk.Done {
			done = true
		}
	}
	if err == nil && !done {
		if cerr := cctx.Err(); cerr != nil {
			err = cerr
		} else {
			err = errors.New("model stream closed without a terminal chunk")
		}
	}
	e.emitProvider("llm", e.cfg.LLMName, start, ttf, err)
	if err != nil {
		return "", err
	}

	e.mux.SendTurn(gen, transport.NewLLMChunkEvent("", true))
	if rest := seg.flush(); rest != "" {
		pushFragment(ctx, frags, rest)
	}
	return full.String(), nil
}

// sendWholeReply pushes a reply that arrived whole (from a non-streaming
// completion) through the same client surface streamed replies use: one
// content chunk, the terminal chunk, then synthesis fragments.
func (e *Engine) sendWholeReply(ctx context.Context, gen uint64, text string, frags chan<- string) {
	if text != "" {
		e.mux.SendTurn(gen, transport.NewLLMChunkEvent(text, false))
	}
	e.mux.SendTurn(gen, transport.NewLLMChunkEvent("", true))

	seg := newSegmenter(e.cfg.MinFragment, e.cfg.SoftCap)
	for _, frag := range seg.feed(text) {
		if !pushFragment(ctx, frags, frag) {
			return
		}
	}
	if rest := seg.flush(); rest != "" {
		pushFragment(ctx, frags, rest)
	}
}

// pushFragment queues frag for synthesis unless it is blank or ctx ends.
func pushFragment(ctx context.Context, frags chan<- string, frag string) bool {
	if strings.TrimSpace(frag) == "" {
		return true
	}
	select {
	case frags <- frag:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainChunks discards the rest of a model stream so the provider's sender
// goroutine can exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}

// runToolRound executes one batch of requested tool calls and assembles the
// history group recording it: the assistant message carrying the calls
// followed by one tool message per result. Tool failures never abort the
// round; the model sees them as error payloads.
func (e *Engine) runToolRound(ctx context.Context, gen uint64, prof profile, content string, calls []types.ToolCall) (group []types.Message, records []playbook.ToolCallRecord, requested string) {
	group = append(group, types.Message{Role: types.RoleAssistant, Content: content, ToolCalls: calls})
	for _, call := range calls {
		e.mux.SendTurn(gen, transport.NewToolCallStartEvent(call.ID, call.Name, json.RawMessage(call.Arguments)))
		e.emit(hooks.ToolCallEvent{SessionID: e.sessionID, Tool: call.Name, CallID: call.ID, Began: true})

		var res tools.Result
		switch {
		case call.Name == playbook.TransitionToolName:
			var target string
			res, target = e.stageRequest(prof, call)
			if target != "" {
				requested = target
			}
		case e.registry != nil:
			res = e.registry.Execute(ctx, call)
		default:
			msg := "unknown tool: " + call.Name
			res = tools.Result{Content: errorContent(msg), ErrMessage: msg, IsError: true}
		}

		if res.IsError {
			e.mux.SendTurn(gen, transport.NewToolCallErrorEvent(call.ID, res.ErrMessage, res.Duration.Milliseconds()))
		} else {
			e.mux.SendTurn(gen, transport.NewToolCallEndEvent(call.ID, json.RawMessage(res.Content), res.Duration.Milliseconds()))
		}
		e.emit(hooks.ToolCallEvent{SessionID: e.sessionID, Tool: call.Name, CallID: call.ID, Duration: res.Duration, IsError: res.IsError})

		group = append(group, types.Message{Role: types.RoleTool, Content: res.Content, ToolCallID: call.ID, ToolName: call.Name})
		records = append(records, playbook.ToolCallRecord{Name: call.Name, CallID: call.ID, Result: res.Content, IsError: res.IsError})
	}
	return group, records, requested
}

// stageRequest handles a playbook_transition call. The call never reaches
// the registry: the engine validates the target against the stage's
// reachable set and records it for evaluation after the turn.
func (e *Engine) stageRequest(prof profile, call types.ToolCall) (tools.Result, string) {
	var args struct {
		TargetStage string `json:"target_stage"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args.TargetStage == "" {
		msg := "transition arguments must carry target_stage"
		return tools.Result{Content: errorContent(msg), ErrMessage: msg, IsError: true}, ""
	}
	reachable := false
	for _, target := range prof.targets {
		if target == args.TargetStage {
			reachable = true
			break
		}
	}
	if !reachable {
		msg := fmt.Sprintf("stage %q is not reachable from the current stage", args.TargetStage)
		return tools.Result{Content: errorContent(msg), ErrMessage: msg, IsError: true}, ""
	}
	payload, _ := json.Marshal(struct {
		Scheduled   bool   `json:"scheduled"`
		TargetStage string `json:"target_stage"`
	}{Scheduled: true, TargetStage: args.TargetStage})
	return tools.Result{Content: string(payload)}, args.TargetStage
}

func errorContent(message string) string {
	payload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(payload)
}

// ttsPump synthesizes queued reply fragments in arrival order. Fields other
// than frags are owned by the pump goroutine and may be read only after
// done is closed.
type ttsPump struct {
	frags chan string
	done  chan struct{}

	started   bool
	completed bool
	err       error
}

// startPump spawns the synthesis pump for one turn. The pump emits ttsStart
// before the first fragment's audio, ships every fragment through the
// multiplexer, and emits ttsComplete when the fragment channel closes after
// a fully played reply. After a failure or cancellation it keeps draining
// so the reply stream never blocks on it.
func (e *Engine) startPump(ctx context.Context, gen uint64) *ttsPump {
	p := &ttsPump{frags: make(chan string, fragBuffer), done: make(chan struct{})}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(p.done)
		for frag := range p.frags {
			if e.tts == nil || p.err != nil || ctx.Err() != nil {
				continue
			}
			if !p.started {
				p.started = true
				e.mux.SendTurn(gen, transport.NewTTSStartEvent(e.mux.DeliveryMode(), string(e.cfg.TTS.Format), e.cfg.TTS.SampleRate))
			}
			if err := e.speak(ctx, gen, frag); err != nil && ctx.Err() == nil {
				p.err = err
			}
		}
		if p.started && p.err == nil && ctx.Err() == nil {
			e.mux.SendTurn(gen, transport.NewTTSCompleteEvent())
			p.completed = true
			e.gate.noteComplete()
		}
	}()
	return p
}

// finishCancelledTTS emits the terminal ttsCancelled when synthesis started
// but never ran to ttsComplete.
func (e *Engine) finishCancelledTTS(gen uint64, p *ttsPump) {
	if p.started && !p.completed {
		e.mux.SendTurn(gen, transport.NewTTSCancelledEvent())
	}
}

// speak synthesizes one fragment and ships its audio. Non-streaming
// backends are retried whole; for streaming synthesis only establishment is
// retried, since audio already sent cannot be unsent.
func (e *Engine) speak(ctx context.Context, gen uint64, text string) error {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.TTSTimeout)
	defer cancel()

	start := time.Now()
	var ttf time.Duration
	var err error
	if streamer, ok := e.tts.(tts.StreamingProvider); ok {
		var ch <-chan []byte
		ch, err = resilience.RetryWithResult(sctx, e.cfg.Retry, func(ctx context.Context) (<-chan []byte, error) {
			return streamer.SpeakStream(ctx, text, e.cfg.TTS)
		})
		if err == nil {
			for data := range ch {
				if len(data) == 0 || err != nil {
					continue
				}
				if ttf == 0 {
					ttf = time.Since(start)
				}
				err = e.mux.SendTTSAudio(gen, string(e.cfg.TTS.Format), e.cfg.TTS.SampleRate, data)
			}
			if err == nil {
				err = sctx.Err()
			}
		}
	} else {
		var audio *tts.Audio
		audio, err = resilience.RetryWithResult(sctx, e.cfg.Retry, func(ctx context.Context) (*tts.Audio, error) {
			return e.tts.Speak(ctx, text, e.cfg.TTS)
		})
		if err == nil {
			ttf = time.Since(start)
			err = e.mux.SendTTSAudio(gen, string(audio.Format), audio.SampleRate, audio.Data)
		}
	}
	e.emitProvider("tts", e.cfg.TTSName, start, ttf, err)
	return err
}

// evaluatePlaybook runs the stage transition rules over a completed turn
// and applies the first fired transition: history adjustments, the
// stageChange event, and the stage swap the next turn will see.
func (e *Engine) evaluatePlaybook(gen uint64, out playbook.Outcome) {
	e.mu.Lock()
	st := e.stage
	e.mu.Unlock()

	fired := e.pb.Evaluate(&st, out)

	e.mu.Lock()
	e.stage = st
	e.mu.Unlock()
	if fired == nil {
		return
	}

	if fired.ClearHistory {
		e.hist.Clear()
	}
	if fired.Message != "" {
		role := types.RoleSystem
		if fired.MessageRole == playbook.MessageRoleAssistant {
			role = types.RoleAssistant
		}
		e.hist.Append(types.Message{Role: role, Content: fired.Message})
	}
	e.mux.SendTurn(gen, transport.NewStageChangeEvent(fired.From, fired.To, fired.Reason))
	e.emit(hooks.StageEvent{SessionID: e.sessionID, From: fired.From, To: fired.To, Reason: fired.Reason})
	e.log.Info("stage change", "from", fired.From, "to", fired.To, "reason", fired.Reason)
}

// archiveExchange mirrors one committed utterance to the archiver, if any.
func (e *Engine) archiveExchange(gen uint64, role, text string, took time.Duration) {
	if e.archiver == nil || text == "" {
		return
	}
	e.archiver.Archive(Exchange{
		SessionID:  e.sessionID,
		Generation: gen,
		Role:       role,
		Text:       text,
		At:         time.Now(),
		Took:       took,
	})
}

// reportError surfaces a turn failure to the client and the hooks bus.
func (e *Engine) reportError(gen uint64, code transport.Code, component string, err error) {
	e.mux.SendTurn(gen, transport.NewErrorEvent(code, err.Error()))
	e.emit(hooks.ErrorEvent{SessionID: e.sessionID, Component: component, Code: string(code), Err: err})
	e.log.Error("turn failed", "generation", gen, "component", component, "code", string(code), "error", err)
}

func (e *Engine) emitProvider(component, name string, start time.Time, ttf time.Duration, err error) {
	e.emit(hooks.ProviderEvent{
		SessionID:   e.sessionID,
		Component:   component,
		Provider:    name,
		Duration:    time.Since(start),
		TimeToFirst: ttf,
		Failed:      err != nil && !errors.Is(err, context.Canceled),
	})
}
