// Package pipeline implements the per-message admission chain of spec.md
// §4.2: before a message is handed to routing, it passes through a fixed
// sequence of Processors (expiration, delay, attempts) that can divert it to
// the dead-letter queue or hold it back from routing.
//
// Grounded on the teacher's validator-chain style in
// internal/service/function_validation.go (small single-purpose checks, each
// returning a classified outcome) generalized from a single validate() call
// into a composable, ordered Pipeline.
package pipeline

import "github.com/blacknred/mbroker/internal/message"

// Action is the outcome of running a message through the pipeline.
type Action int

const (
	// ActionRoute means the message is ready to be handed to routing.
	ActionRoute Action = iota
	// ActionDelay means the message is not yet due; it belongs in the
	// delayed queue until its ReadyAt instant.
	ActionDelay
	// ActionDeadLetter means the message must be diverted to the DLQ instead
	// of being routed (expired, or attempts exhausted).
	ActionDeadLetter
)

// Processor inspects a message's metadata and decides whether it may
// proceed. A Processor returning ActionRoute defers to the next stage;
// ActionDelay or ActionDeadLetter short-circuits the remaining chain.
type Processor interface {
	Process(meta *message.Metadata, nowMs int64) (Action, string)
}

// Pipeline runs a fixed, ordered sequence of Processors.
type Pipeline struct {
	stages []Processor
}

// New builds the canonical pipeline: expiration, then delay, then attempts
// (spec.md §4.2 "canonical order"). Processors are optional; nil entries are
// skipped so a topic can disable, say, attempts-based DLQ routing.
func New(expiration, delay, attempts Processor) *Pipeline {
	p := &Pipeline{}
	for _, s := range []Processor{expiration, delay, attempts} {
		if s != nil {
			p.stages = append(p.stages, s)
		}
	}
	return p
}

// Run passes meta through each stage in order, stopping at the first
// non-ActionRoute verdict. The returned reason is only meaningful when the
// action is not ActionRoute.
func (p *Pipeline) Run(meta *message.Metadata, nowMs int64) (Action, string) {
	for _, stage := range p.stages {
		if action, reason := stage.Process(meta, nowMs); action != ActionRoute {
			return action, reason
		}
	}
	return ActionRoute, ""
}

// ExpirationProcessor diverts expired messages (TTL elapsed) to the DLQ.
type ExpirationProcessor struct{}

func (ExpirationProcessor) Process(meta *message.Metadata, nowMs int64) (Action, string) {
	if meta.IsExpired(nowMs) {
		return ActionDeadLetter, "expired"
	}
	return ActionRoute, ""
}

// DelayProcessor holds back messages whose TTD has not yet elapsed.
type DelayProcessor struct{}

func (DelayProcessor) Process(meta *message.Metadata, nowMs int64) (Action, string) {
	if meta.IsDelayed(nowMs) {
		return ActionDelay, "ttd not yet elapsed"
	}
	return ActionRoute, ""
}

// AttemptsProcessor diverts messages that have exhausted their retry budget.
// A message carrying message.AttemptsUnlimited has been explicitly marked
// "do not requeue" by the Topic's nack handler and is diverted
// unconditionally.
type AttemptsProcessor struct {
	// MaxAttempts is the inclusive ceiling on Metadata.Attempts. Zero means
	// no attempts-based ceiling (only the AttemptsUnlimited sentinel diverts).
	MaxAttempts uint32
}

func (a AttemptsProcessor) Process(meta *message.Metadata, _ int64) (Action, string) {
	if meta.Attempts == message.AttemptsUnlimited {
		return ActionDeadLetter, "max_attempts"
	}
	if a.MaxAttempts > 0 && meta.Attempts > a.MaxAttempts {
		return ActionDeadLetter, "max_attempts"
	}
	return ActionRoute, ""
}
