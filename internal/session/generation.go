// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/jeranaias/riggate/internal/backend"
	"github.com/jeranaias/riggate/internal/conversation"
	"github.com/jeranaias/riggate/internal/util"
)

// cancelledNotice is the content of the cancelled terminal event.
const cancelledNotice = "Generation cancelled"

// =============================================================================
// GENERATION STATE
// =============================================================================

// State is the per-session generation state. At most one generation is
// active per session; submits arriving in any non-idle state are queued.
type State int

const (
	// StateIdle means no generation is running and the queue is empty or
	// about to be drained.
	StateIdle State = iota

	// StateActive means a generation goroutine is streaming fragments.
	StateActive

	// StateCancelling means cancellation was signalled and the session is
	// waiting for the generation goroutine to reach its next fragment
	// boundary and finish.
	StateCancelling
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCancelling:
		return "cancelling"
	}
	return "unknown"
}

// Outcome is how a generation terminated.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Streamer is the capability the session layer needs from the model
// backend: a cancellable streaming completion over an ordered message list.
// *backend.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, messages []backend.Message, onFragment backend.FragmentCallback) error
	Model() string
}

// Recorder receives one record per terminal generation. The usage ledger
// implements it; a nil Recorder disables recording.
type Recorder interface {
	Record(rec GenerationRecord)
}

// GenerationRecord summarizes one finished generation for the ledger.
type GenerationRecord struct {
	SessionID  string
	Model      string
	Outcome    Outcome
	Fragments  int
	Chars      int
	Elapsed    time.Duration
	FinishedAt time.Time
}

// =============================================================================
// GENERATION CONTROLLER
// =============================================================================

// startLocked begins a generation for the store's current context window.
// The caller holds s.mu and state must be idle. The window is snapshotted
// under the lock; the goroutine never touches the store until it finalizes.
func (s *Session) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelGen = cancel
	s.state = StateActive
	s.generation++

	window := s.store.Window(s.contextWindow)
	messages := make([]backend.Message, 0, len(window))
	for _, t := range window {
		messages = append(messages, backend.Message{Role: t.Role.String(), Content: t.Content})
	}

	log.Printf("GENERATION_START | session=%s gen=%d window=%d", s.id, s.generation, len(messages))
	go s.generate(ctx, s.generation, messages)
}

// generate runs one streaming call on its own goroutine. It is the only
// emitter of this generation's chunk and terminal events, which is what
// keeps them ordered on the sink.
func (s *Session) generate(ctx context.Context, gen uint64, messages []backend.Message) {
	start := time.Now()
	splitter := newTrailerSplitter()
	var content strings.Builder
	fragments := 0

	streamErr := s.backend.Stream(ctx, messages, func(text string) {
		fragments++
		if visible := splitter.feed(text); visible != "" {
			content.WriteString(visible)
			s.emit(Event{Type: EventChunk, Content: visible})
		}
	})

	elapsed := time.Since(start)
	tail, trailer := splitter.finish()

	var (
		turn     *conversation.Turn
		outcome  Outcome
		terminal Event
	)
	switch {
	case streamErr == nil:
		// A cancel landing after the stream already finished is a race,
		// not a cancellation: the reply completed.
		if tail != "" {
			content.WriteString(tail)
			s.emit(Event{Type: EventChunk, Content: tail})
		}
		outcome = OutcomeCompleted
		turn = s.assistantTurn(content.String(), elapsed, trailer, false)
		terminal = Event{Type: EventComplete, Meta: &CompletionMeta{
			Model:        s.backend.Model(),
			ResponseTime: roundSeconds(elapsed),
			Trailer:      trailer,
		}}
		log.Printf("GENERATION_COMPLETE | session=%s gen=%d fragments=%d chars=%d elapsed=%s",
			s.id, gen, fragments, content.Len(), elapsed.Round(time.Millisecond))

	case ctx.Err() != nil:
		// Held text that never proved to be a trailer marker is dropped
		// so the stored content equals the chunks the client saw.
		outcome = OutcomeCancelled
		turn = s.assistantTurn(content.String(), elapsed, trailer, true)
		terminal = Event{Type: EventCancelled, Content: cancelledNotice}
		log.Printf("GENERATION_CANCELLED | session=%s gen=%d fragments=%d chars=%d",
			s.id, gen, fragments, content.Len())

	default:
		outcome = OutcomeFailed
		if content.Len() > 0 {
			// Keep the partial turn; drop it only when nothing arrived.
			turn = s.assistantTurn(content.String(), elapsed, trailer, false)
		}
		terminal = Event{Type: EventError, Content: streamErr.Error()}
		log.Printf("GENERATION_FAILED | session=%s gen=%d fragments=%d err=%v",
			s.id, gen, fragments, streamErr)
	}

	s.finishGeneration(turn, outcome, fragments, content.Len(), elapsed, terminal)
}

// finishGeneration finalizes one generation: it stores the turn, records
// the outcome, emits the terminal event, returns the state machine to idle,
// and drains the next queued turn. The terminal event reaches the sink
// before the next generation can start, so a client always sees generation
// N's terminal frame strictly before generation N+1's first chunk.
func (s *Session) finishGeneration(turn *conversation.Turn, outcome Outcome, fragments, chars int, elapsed time.Duration, terminal Event) {
	s.mu.Lock()
	if turn != nil {
		s.store.Append(turn)
	}
	s.lastActive = time.Now()
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.Record(GenerationRecord{
			SessionID:  s.id,
			Model:      s.backend.Model(),
			Outcome:    outcome,
			Fragments:  fragments,
			Chars:      chars,
			Elapsed:    elapsed,
			FinishedAt: time.Now(),
		})
	}

	s.emit(terminal)

	s.mu.Lock()
	s.state = StateIdle
	if s.cancelGen != nil {
		// Release the finished generation's context.
		s.cancelGen()
		s.cancelGen = nil
	}
	s.drainLocked()
	s.mu.Unlock()
}

// drainLocked promotes at most one queued turn into a new generation. The
// caller holds s.mu; state must be idle. Draining happens only here and in
// the same critical section that freed the controller, so two turns can
// never be promoted concurrently.
func (s *Session) drainLocked() {
	if s.closed || s.state != StateIdle {
		return
	}
	text, ok := s.queue.dequeue()
	if !ok {
		return
	}
	log.Printf("TURN_DEQUEUE | session=%s depth=%d preview=%q", s.id, s.queue.len(), util.Preview(text, previewWidth))
	s.store.Append(conversation.NewUserTurn(text))
	s.startLocked()
}

// assistantTurn builds a finalized assistant turn with generation metadata.
func (s *Session) assistantTurn(content string, elapsed time.Duration, trailer string, cancelled bool) *conversation.Turn {
	turn := conversation.NewAssistantTurn(content)
	turn.Model = s.backend.Model()
	turn.Elapsed = elapsed
	turn.Trailer = trailer
	turn.Cancelled = cancelled
	return turn
}

// roundSeconds reports elapsed wall time in seconds at the centisecond
// precision clients display.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
