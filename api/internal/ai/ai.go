// Package ai defines the contract of a generative completion service and the
// registry of configured engines. Clients are built once at startup and
// handed to callers; nothing here holds process-wide state.
package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of a prior conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Request is a single completion call. Media is optional.
type Request struct {
	System      string
	Instruction string
	History     []Turn
	Media       []byte
	MIMEType    string
	// JSON asks the engine for a JSON-only reply when it supports that.
	JSON bool
}

func (r Request) HasMedia() bool { return len(r.Media) > 0 }

// Generator returns the raw reply text. An empty string with a nil error is
// a valid outcome; callers decide what blank means.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Engine is a named Generator bound to one model.
type Engine interface {
	Generator
	Name() string
	Model() string
}

var (
	// ErrPermanent marks failures that another attempt will not fix
	// (bad credentials, rejected request, blocked prompt).
	ErrPermanent     = errors.New("ai: permanent failure")
	ErrUnknownEngine = errors.New("ai: unknown engine")
)

var aliases = map[string]string{
	"gpt":    "openai",
	"google": "gemini",
}

// Engines is a read-only registry of engines keyed by name.
type Engines struct {
	def    Engine
	byName map[string]Engine
}

// NewEngines registers def as the default plus any extra engines. A later
// engine with the same name replaces an earlier one.
func NewEngines(def Engine, more ...Engine) *Engines {
	e := &Engines{def: def, byName: map[string]Engine{}}
	for _, eng := range append([]Engine{def}, more...) {
		if eng == nil {
			continue
		}
		e.byName[strings.ToLower(eng.Name())] = eng
	}
	return e
}

func (e *Engines) Default() Engine { return e.def }

// Get resolves name, or the default engine when name is empty.
func (e *Engines) Get(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		if e.def == nil {
			return nil, fmt.Errorf("%w: no default configured", ErrUnknownEngine)
		}
		return e.def, nil
	}
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	if eng, ok := e.byName[name]; ok {
		return eng, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
}

func (e *Engines) Names() []string {
	out := make([]string, 0, len(e.byName))
	for n := range e.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
