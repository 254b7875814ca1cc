package turn

import "fmt"

// Stage identifies where in the turn pipeline an event happened. Stages also
// label failure metrics, so a spike in one stage points at one upstream.
type Stage string

const (
	StageReceived    Stage = "received"
	StageTranscribed Stage = "transcribed"
	StageContext     Stage = "context"
	StageReplied     Stage = "replied"
	StagePersisted   Stage = "persisted"
	StageSynthesized Stage = "synthesized"
)

// Kind classifies a failure by what the caller can do about it.
type Kind string

const (
	// KindInput means the request itself is bad. Retrying the same payload
	// cannot help.
	KindInput Kind = "input"

	// KindUpstreamTransient means an upstream dependency failed in a way
	// that retrying may fix.
	KindUpstreamTransient Kind = "upstream_transient"

	// KindUpstreamPermanent means an upstream dependency rejected the work.
	KindUpstreamPermanent Kind = "upstream_permanent"

	// KindPersistence means the conversation record could not be written or
	// read. The turn's durability guarantee is broken.
	KindPersistence Kind = "persistence"
)

// Error wraps a pipeline failure with the stage it occurred in and its kind.
type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn failed at %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(stage Stage, kind Kind, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}
