// Package chain holds the Chain entity and the Registry that resolves chains
// by name.
//
// A chain is an ordered list of slot roles:
//
//	slot 0      slot 1   slot 2        slot N-1
//	[source] -> [effect] -> [effect] ... [effect]
//
// Roles are always canonical: unknown source roles become DefaultSource and
// unknown effect roles become Passthrough, so reading a chain back never
// yields a role the audio engine cannot build.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrSlotOutOfRange is returned for slot indices outside the chain.
	ErrSlotOutOfRange = errors.New("slot index out of range")
	// ErrChainFreed is returned when operating on a freed chain.
	ErrChainFreed = errors.New("chain has been freed")
)

// Chain is one performable configuration. Create chains through a Registry.
type Chain struct {
	mu      sync.Mutex
	name    string
	roles   []Role
	playing bool
	freed   bool

	// Audio collaborator
	engine Engine
	voice  Voice

	release func(*Chain)
	log     *zap.Logger
}

func newChain(name string, slots int, engine Engine, logger *zap.Logger) *Chain {
	if engine == nil {
		engine = NopEngine{}
	}
	return &Chain{
		name:   name,
		roles:  DefaultRoles(slots),
		engine: engine,
		log:    logger.With(zap.String("chain", name)),
	}
}

// Name returns the registered, process-unique name.
func (c *Chain) Name() string {
	return c.name
}

// String implements fmt.Stringer.
func (c *Chain) String() string {
	return c.name
}

// Len returns the slot count.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.roles)
}

// Roles returns a copy of the slot roles.
func (c *Chain) Roles() []Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Role, len(c.roles))
	copy(out, c.roles)
	return out
}

// Role returns the role at index.
func (c *Chain) Role(index int) (Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.roles) {
		return "", fmt.Errorf("%w: %d (chain %s has %d slots)", ErrSlotOutOfRange, index, c.name, len(c.roles))
	}
	return c.roles[index], nil
}

// IsPlaying reports whether the chain's output is active.
func (c *Chain) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Freed reports whether Free has been called.
func (c *Chain) Freed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freed
}

// SetSlot assigns the processor name to the slot at index.
func (c *Chain) SetSlot(index int, processor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return ErrChainFreed
	}
	if index < 0 || index >= len(c.roles) {
		return fmt.Errorf("%w: %d (chain %s has %d slots)", ErrSlotOutOfRange, index, c.name, len(c.roles))
	}
	c.roles[index] = RoleAt(index, processor)
	c.rebuildLocked()
	return nil
}

// ClearSlot resets the slot at index to its default role.
func (c *Chain) ClearSlot(index int) error {
	return c.SetSlot(index, "")
}

// SetFrom assigns processors to consecutive slots starting at start.
// Processors past the last slot are dropped; the number applied is returned.
func (c *Chain) SetFrom(start int, processors []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return 0, ErrChainFreed
	}
	if start < 0 || start >= len(c.roles) {
		return 0, fmt.Errorf("%w: %d (chain %s has %d slots)", ErrSlotOutOfRange, start, c.name, len(c.roles))
	}
	applied := 0
	for i, p := range processors {
		idx := start + i
		if idx >= len(c.roles) {
			break
		}
		c.roles[idx] = RoleAt(idx, p)
		applied++
	}
	if applied < len(processors) {
		c.log.Warn("setFrom: processors past the last slot were dropped",
			zap.Int("start", start),
			zap.Int("given", len(processors)),
			zap.Int("applied", applied))
	}
	if applied > 0 {
		c.rebuildLocked()
	}
	return applied, nil
}

// SetRoles replaces the whole role sequence. The chain is resized to the
// sequence length, kept within MinSlots and MaxSlots. Processors past
// MaxSlots are dropped.
func (c *Chain) SetRoles(processors []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return ErrChainFreed
	}
	roles := DefaultRoles(len(processors))
	for i := 0; i < len(roles) && i < len(processors); i++ {
		roles[i] = RoleAt(i, processors[i])
	}
	c.roles = roles
	c.rebuildLocked()
	return nil
}

// Play activates the chain's output, building its voice on first use.
func (c *Chain) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return ErrChainFreed
	}
	if c.voice == nil {
		v, err := c.engine.Voice(c.name, c.roles)
		if err != nil {
			return fmt.Errorf("build voice for %s: %w", c.name, err)
		}
		c.voice = v
	}
	c.voice.Start()
	c.playing = true
	c.log.Debug("chain playing")
	return nil
}

// Stop suspends the chain's output. Stopping a stopped or freed chain is a no-op.
func (c *Chain) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed || !c.playing {
		return
	}
	if c.voice != nil {
		c.voice.Stop()
	}
	c.playing = false
	c.log.Debug("chain stopped")
}

// Free stops the chain, releases its voice and unregisters it. Safe to call
// more than once.
func (c *Chain) Free() {
	c.mu.Lock()
	if c.freed {
		c.mu.Unlock()
		return
	}
	if c.voice != nil {
		if c.playing {
			c.voice.Stop()
		}
		c.voice.Close()
		c.voice = nil
	}
	c.playing = false
	c.freed = true
	release := c.release
	c.release = nil
	c.mu.Unlock()

	if release != nil {
		release(c)
	}
	c.log.Debug("chain freed")
}

// rebuildLocked swaps in a voice for the new roles. Chains that were never
// played keep building lazily in Play.
func (c *Chain) rebuildLocked() {
	if c.voice == nil {
		return
	}
	v, err := c.engine.Voice(c.name, c.roles)
	if err != nil {
		c.log.Error("rebuild voice failed, keeping previous graph", zap.Error(err))
		return
	}
	if c.playing {
		c.voice.Stop()
		v.Start()
	}
	c.voice.Close()
	c.voice = v
}
