package ringback

import (
	"errors"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
)

var ErrNotLoaded = errors.New("ringback asset not loaded")

type Publisher interface {
	Publish(event domain.Event)
}

// EventPlayer forwards playback commands to the device UI as ringback events.
type EventPlayer struct {
	mu     sync.Mutex
	pub    Publisher
	asset  string
	loop   bool
	loaded bool
}

func NewEventPlayer(pub Publisher) *EventPlayer {
	return &EventPlayer{pub: pub}
}

func (p *EventPlayer) Load(asset string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.asset = asset
	p.loaded = true
	p.emit("load")
	return nil
}

func (p *EventPlayer) SetLooping(loop bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return ErrNotLoaded
	}
	p.loop = loop
	return nil
}

func (p *EventPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return ErrNotLoaded
	}
	p.emit("play")
	return nil
}

func (p *EventPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return ErrNotLoaded
	}
	p.emit("stop")
	return nil
}

func (p *EventPlayer) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return nil
	}
	p.emit("unload")
	p.loaded = false
	p.loop = false
	return nil
}

func (p *EventPlayer) emit(action string) {
	p.pub.Publish(domain.NewEvent(domain.EventRingback, "", map[string]any{
		"action": action,
		"asset":  p.asset,
		"loop":   p.loop,
	}))
}
