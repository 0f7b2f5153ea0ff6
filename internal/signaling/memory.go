package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/crisp_call/internal/domain"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

type MemoryOption func(*MemoryStore)

// WithDuplicateDelivery makes every notification fire twice, the way an
// at-least-once store may behave under reconnects.
func WithDuplicateDelivery() MemoryOption {
	return func(s *MemoryStore) { s.duplicate = true }
}

func WithLogger(log *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.log = log }
}

// MemoryStore is a process-local Store. Two clients sharing one MemoryStore
// behave like two devices sharing a remote document store.
type MemoryStore struct {
	mu        sync.Mutex
	docs      map[string]*memDoc
	duplicate bool
	log       *slog.Logger
}

type memDoc struct {
	fields      map[string]json.RawMessage // nil until created
	docSubs     map[*mailbox]func(*domain.SessionDescriptor)
	collections map[string][]domain.CandidateRecord
	colSubs     map[string]map[*mailbox]func(domain.CandidateRecord)
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs: make(map[string]*memDoc),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, callID string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.docLocked(callID)
	if doc.fields != nil {
		return ErrCallExists
	}
	doc.fields = encoded
	s.notifyDocLocked(doc)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (*domain.SessionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc, ok := s.docs[callID]
	if !ok || doc.fields == nil {
		s.mu.Unlock()
		return nil, ErrCallNotFound
	}
	snapshot := copyFields(doc.fields)
	s.mu.Unlock()

	return decodeDescriptor(snapshot)
}

func (s *MemoryStore) Update(ctx context.Context, callID string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[callID]
	if !ok || doc.fields == nil {
		return ErrCallNotFound
	}
	if terminal(doc.fields) {
		s.log.Debug("ignoring write to finished call", slog.String("call_id", callID))
		return nil
	}
	for k, v := range encoded {
		doc.fields[k] = v
	}
	s.notifyDocLocked(doc)
	return nil
}

func (s *MemoryStore) SubscribeDocument(ctx context.Context, callID string, onChange func(*domain.SessionDescriptor)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	box := newMailbox()

	s.mu.Lock()
	doc := s.docLocked(callID)
	doc.docSubs[box] = onChange
	if doc.fields != nil {
		s.deliverDoc(box, onChange, copyFields(doc.fields))
	}
	s.mu.Unlock()

	return s.track(ctx, box, func() {
		s.mu.Lock()
		delete(doc.docSubs, box)
		s.mu.Unlock()
	}), nil
}

func (s *MemoryStore) Append(ctx context.Context, callID, collection string, candidate webrtc.ICECandidateInit) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[callID]
	if !ok || doc.fields == nil {
		return "", ErrCallNotFound
	}
	rec := domain.CandidateRecord{ID: uuid.NewString(), Candidate: candidate}
	doc.collections[collection] = append(doc.collections[collection], rec)
	for box, fn := range doc.colSubs[collection] {
		s.deliverRecord(box, fn, rec)
	}
	return rec.ID, nil
}

func (s *MemoryStore) SubscribeCollection(ctx context.Context, callID, collection string, onAdd func(domain.CandidateRecord)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	box := newMailbox()

	s.mu.Lock()
	doc := s.docLocked(callID)
	subs, ok := doc.colSubs[collection]
	if !ok {
		subs = make(map[*mailbox]func(domain.CandidateRecord))
		doc.colSubs[collection] = subs
	}
	subs[box] = onAdd
	for _, rec := range doc.collections[collection] {
		s.deliverRecord(box, onAdd, rec)
	}
	s.mu.Unlock()

	return s.track(ctx, box, func() {
		s.mu.Lock()
		delete(subs, box)
		s.mu.Unlock()
	}), nil
}

// Records returns a copy of a candidate collection.
func (s *MemoryStore) Records(callID, collection string) []domain.CandidateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[callID]
	if !ok {
		return nil
	}
	out := make([]domain.CandidateRecord, len(doc.collections[collection]))
	copy(out, doc.collections[collection])
	return out
}

func (s *MemoryStore) docLocked(callID string) *memDoc {
	doc, ok := s.docs[callID]
	if !ok {
		doc = &memDoc{
			docSubs:     make(map[*mailbox]func(*domain.SessionDescriptor)),
			collections: make(map[string][]domain.CandidateRecord),
			colSubs:     make(map[string]map[*mailbox]func(domain.CandidateRecord)),
		}
		s.docs[callID] = doc
	}
	return doc
}

func (s *MemoryStore) notifyDocLocked(doc *memDoc) {
	for box, fn := range doc.docSubs {
		s.deliverDoc(box, fn, copyFields(doc.fields))
	}
}

func (s *MemoryStore) deliverDoc(box *mailbox, fn func(*domain.SessionDescriptor), fields map[string]json.RawMessage) {
	deliver := func() {
		d, err := decodeDescriptor(fields)
		if err != nil {
			s.log.Warn("dropping undecodable call document", sl.Err(err))
			return
		}
		fn(d)
	}
	box.push(deliver)
	if s.duplicate {
		box.push(deliver)
	}
}

func (s *MemoryStore) deliverRecord(box *mailbox, fn func(domain.CandidateRecord), rec domain.CandidateRecord) {
	box.push(func() { fn(rec) })
	if s.duplicate {
		box.push(func() { fn(rec) })
	}
}

func (s *MemoryStore) track(ctx context.Context, box *mailbox, detach func()) Subscription {
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			detach()
			box.close()
		})
	}
	go box.run()
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-box.done:
		}
	}()
	return subscriptionFunc(unsubscribe)
}

func copyFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mailbox is an unbounded FIFO drained by one goroutine, so publishers never
// block while holding the store lock.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) push(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}

		for {
			m.mu.Lock()
			if len(m.items) == 0 {
				m.mu.Unlock()
				break
			}
			fn := m.items[0]
			m.items = m.items[1:]
			m.mu.Unlock()

			select {
			case <-m.done:
				return
			default:
			}
			fn()
		}
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
