package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/internal/media"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
)

var ErrConnectionActive = errors.New("another peer connection is still active")

type OpenParams struct {
	CallID string
	Role   domain.Role
	Local  *media.LocalStream
	Hooks  Hooks
}

// Manager hands out at most one live Handle at a time.
type Manager struct {
	factory Factory
	store   signaling.Store
	log     *slog.Logger

	mu     sync.Mutex
	active *Handle
}

func NewManager(factory Factory, store signaling.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{factory: factory, store: store, log: log}
}

// Open creates the connection for a call, attaches local media and registers
// callbacks. A new handle is only issued once the previous one is closed.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*Handle, error) {
	const op = "rtc.manager.open"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.closed() {
		return nil, ErrConnectionActive
	}

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	h := newHandle(p.CallID, ProtocolFor(p.Role), pc, m.store, p.Local, p.Hooks, m.log.With(slog.String("op", op)))
	if err := h.start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	m.active = h
	return h, nil
}

// Active returns the live handle, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.closed() {
		return nil
	}
	return m.active
}

// CloseActive closes the live handle if there is one.
func (m *Manager) CloseActive() {
	m.mu.Lock()
	h := m.active
	m.active = nil
	m.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
}
