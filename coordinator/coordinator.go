// Package coordinator runs snapshot generations: it enumerates processes
// and threads, walks every stack and publishes the growing tree.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/google/uuid"

	"stacksnap/coloransi"
	"stacksnap/process"
	"stacksnap/publish"
	"stacksnap/snapshot"
)

// ErrEnumeration wraps the error of a generation that could not list processes
var ErrEnumeration = errors.New("process enumeration failed")

// DefaultMaxFrames bounds the frames collected per thread
const DefaultMaxFrames = 256

// Coordinator starts generations against one backend
type Coordinator struct {
	backend       process.Backend
	log           *logger.Logger
	maxFrames     int
	userModeLimit process.Address
	metrics       bool
}

// Option is a function that configures a Coordinator
type Option func(*Coordinator)

func WithLogger(log *logger.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithMaxFrames limits the frames collected per thread, 0 for no limit
func WithMaxFrames(n int) Option {
	return func(c *Coordinator) {
		c.maxFrames = n
	}
}

func WithUserModeLimit(limit process.Address) Option {
	return func(c *Coordinator) {
		c.userModeLimit = limit
	}
}

// WithMetrics enables the Prometheus collectors in package metrics
func WithMetrics(enabled bool) Option {
	return func(c *Coordinator) {
		c.metrics = enabled
	}
}

// New creates a coordinator for backend
func New(backend process.Backend, options ...Option) *Coordinator {
	c := &Coordinator{
		backend:       backend,
		maxFrames:     DefaultMaxFrames,
		userModeLimit: process.DefaultUserModeLimit,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.log == nil {
		c.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "coordinator"))
	}

	return c
}

// UserModeLimit returns the highest user mode address the coordinator assumes
func (c *Coordinator) UserModeLimit() process.Address {
	return c.userModeLimit
}

// Start begins a new generation publishing into ch. Runs are not serialized:
// callers cancel the previous generation before starting the next one.
func (c *Coordinator) Start(ctx context.Context, ch *publish.Channel) *Generation {
	id := uuid.New()
	gctx, cancel := context.WithCancel(ctx)

	g := &Generation{
		id:     id,
		coord:  c,
		ch:     ch,
		ctx:    gctx,
		cancel: cancel,
		done:   make(chan struct{}),
		store:  snapshot.NewStore(id),
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorTeal, coloransi.ColorOrange, fmt.Sprintf("generation-%s", id.String()[:8]))),
	}

	c.log.Infoln("Starting generation", id)
	go g.run()

	return g
}
