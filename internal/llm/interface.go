package llm

import (
	"context"
	"errors"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

var (
	ErrUnknownProvider    = errors.New("unknown backend provider")
	ErrMissingCredential  = errors.New("backend credential missing")
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrEmptyResponse      = errors.New("backend returned no message")
)

// Backend sends an assembled conversation to a model and returns the text of
// its first reply.
type Backend interface {
	Complete(ctx context.Context, messages []prompt.Message) (string, error)
	Name() string
}

// Invoker classifies a single flow under a prompt template and returns the
// raw model text.
type Invoker interface {
	Invoke(ctx context.Context, tpl *prompt.Template, rec flow.Record) (string, error)
}
