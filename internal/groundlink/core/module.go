package core

import (
	"context"
)

// Component is one long running part of the groundlink. Run blocks until
// ctx is done or the component fails.
type Component interface {
	Name() string

	Run(ctx context.Context) error
}

type componentFunc struct {
	name string
	run  func(ctx context.Context) error
}

// NewComponent adapts a run function.
func NewComponent(name string, run func(ctx context.Context) error) Component {
	return componentFunc{name: name, run: run}
}

func (c componentFunc) Name() string                  { return c.name }
func (c componentFunc) Run(ctx context.Context) error { return c.run(ctx) }
