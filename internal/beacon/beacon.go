// Package beacon implements the party beacon host and client.
//
// A beacon is a short-lived TCP endpoint used to reserve party slots on a
// game host before the players join the real session. Both sides are driven
// by Tick from a single goroutine; nothing in this package blocks or locks.
package beacon

import (
	"errors"

	"github.com/rs/zerolog"
)

var (
	// ErrNoSocket is returned by operations that need an open socket.
	ErrNoSocket = errors.New("beacon: no socket")
	// ErrAlreadyDestroyed is returned once a beacon has been torn down.
	ErrAlreadyDestroyed = errors.New("beacon: already destroyed")
	// ErrDestroyPending is returned by Destroy while a deferred destroy is queued.
	ErrDestroyPending = errors.New("beacon: destroy already pending")
	// ErrAlreadyInitialized is returned by a second Init on the same host.
	ErrAlreadyInitialized = errors.New("beacon: already initialized")
	// ErrRegisterAddress wraps a failure to register the host address.
	ErrRegisterAddress = errors.New("beacon: failed to register host address")
	// ErrResolveAddress wraps a failure to resolve the host address.
	ErrResolveAddress = errors.New("beacon: failed to resolve host address")
	// ErrRequestInProgress is returned when a client already has a request open.
	ErrRequestInProgress = errors.New("beacon: reservation request already in progress")
)

// Lifecycle is the beacon's position relative to Tick and teardown.
type Lifecycle int

const (
	LifecycleIdle Lifecycle = iota
	LifecycleTicking
	LifecyclePendingDestroy
	LifecycleDestroyed
)

var lifecycleStrings = map[Lifecycle]string{
	LifecycleIdle:           "idle",
	LifecycleTicking:        "ticking",
	LifecyclePendingDestroy: "pending_destroy",
	LifecycleDestroyed:      "destroyed",
}

// String returns the string representation of Lifecycle.
func (l Lifecycle) String() string {
	if str, ok := lifecycleStrings[l]; ok {
		return str
	}
	return "unknown"
}

// lifecycle guards teardown against running while a tick is still on the
// stack. Destroy requested from a callback inside Tick is deferred until the
// tick unwinds.
type lifecycle struct {
	name       string
	phase      Lifecycle
	shouldTick bool
	logger     zerolog.Logger
	teardown   func()
}

// beginTick enters the Ticking state. It returns false when the beacon may
// not tick, running a destroy left pending by an earlier tick first.
func (b *lifecycle) beginTick() bool {
	switch b.phase {
	case LifecyclePendingDestroy:
		b.finishDestroy()
		return false
	case LifecycleIdle:
		b.phase = LifecycleTicking
		return true
	default:
		return false
	}
}

// endTick leaves the Ticking state and executes a deferred destroy.
func (b *lifecycle) endTick() {
	switch b.phase {
	case LifecycleTicking:
		b.phase = LifecycleIdle
	case LifecyclePendingDestroy:
		b.finishDestroy()
	}
}

// destroy tears the beacon down now, or defers it when called mid-tick.
func (b *lifecycle) destroy() error {
	switch b.phase {
	case LifecycleDestroyed:
		return ErrAlreadyDestroyed
	case LifecyclePendingDestroy:
		return ErrDestroyPending
	case LifecycleTicking:
		b.phase = LifecyclePendingDestroy
		b.logger.Debug().Msg("deferring beacon destroy until end of tick")
		return nil
	}
	b.finishDestroy()
	return nil
}

func (b *lifecycle) finishDestroy() {
	b.shouldTick = false
	if b.teardown != nil {
		b.teardown()
	}
	b.phase = LifecycleDestroyed
	b.logger.Info().Msg("beacon destroy complete")
}

// canContinue reports whether work inside the current tick may proceed.
func (b *lifecycle) canContinue() bool {
	return b.shouldTick && b.phase != LifecyclePendingDestroy
}
