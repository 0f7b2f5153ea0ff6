// Package ringback plays the caller-side ring tone while a call is being
// placed.
package ringback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
)

// Player is a scoped audio resource on the device.
type Player interface {
	Load(asset string) error
	SetLooping(loop bool) error
	Play() error
	Stop() error
	Unload() error
}

// Controller owns at most one playing instance of the tone.
type Controller struct {
	mu      sync.Mutex
	player  Player
	asset   string
	playing bool
	log     *slog.Logger
}

func NewController(player Player, asset string, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{player: player, asset: asset, log: log}
}

// Start loads and loops the tone. Starting while playing is a no-op.
func (c *Controller) Start() error {
	const op = "ringback.start"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playing {
		return nil
	}
	if err := c.player.Load(c.asset); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.player.SetLooping(true); err != nil {
		c.unloadLocked(op)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.player.Play(); err != nil {
		c.unloadLocked(op)
		return fmt.Errorf("%s: %w", op, err)
	}
	c.playing = true
	return nil
}

// Stop halts and releases the tone. Stopping a silent controller does nothing.
func (c *Controller) Stop() {
	const op = "ringback.stop"

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing {
		return
	}
	c.playing = false
	if err := c.player.Stop(); err != nil {
		c.log.Warn("failed to stop ringback", slog.String("op", op), sl.Err(err))
	}
	c.unloadLocked(op)
}

func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Controller) unloadLocked(op string) {
	if err := c.player.Unload(); err != nil {
		c.log.Warn("failed to unload ringback", slog.String("op", op), sl.Err(err))
	}
}
