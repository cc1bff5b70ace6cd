// Package mailbox implements the store-and-forward message relay. Messages
// for offline nodes are held in bounded per-recipient queues and delivered
// exactly once. Durability is an append-only JSON-lines journal on local
// disk, replayed at startup; there is no database.
package mailbox

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mesh"
)

var (
	// ErrTooLong means the message body exceeds the configured maximum.
	ErrTooLong = errors.New("message body too long")
	// ErrInvalidRecipient means the recipient identifier is malformed.
	ErrInvalidRecipient = errors.New("invalid recipient identifier")
	// ErrQueueFull means the recipient's queue was at capacity. The message
	// is still stored; the oldest undelivered entry was dropped to make room.
	ErrQueueFull = errors.New("mailbox queue full")
)

// Entry is one stored message.
type Entry struct {
	ID            string      `json:"id"`
	Recipient     mesh.NodeID `json:"recipient"`
	Sender        mesh.NodeID `json:"sender"`
	SenderDisplay string      `json:"sender_display,omitempty"`
	Body          string      `json:"body"`
	StoredAt      time.Time   `json:"stored_at"`
	Delivered     bool        `json:"delivered,omitempty"`
}

// Ack reports the outcome of a successful store.
type Ack struct {
	// Position is the 1-based position in the recipient's queue.
	Position int
	// Evicted is the oldest entry dropped to make room, if any.
	Evicted *Entry
}

// Options bound the store. Zero values are replaced with defaults.
type Options struct {
	MaxBodyLen    int
	QueueCapacity int
	Retention     time.Duration

	now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxBodyLen <= 0 {
		o.MaxBodyLen = 400
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 10
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.now == nil {
		o.now = time.Now
	}
}

// Store is the mailbox. All operations are serialized by one mutex; the
// retrieve-and-mark step is atomic so two concurrent readers cannot both
// see the same entry.
type Store struct {
	mu      sync.Mutex
	opts    Options
	queues  map[mesh.NodeID][]*Entry
	journal *journal
	logger  *slog.Logger
}

// Open loads (or creates) a mailbox journaled at path.
func Open(path string, opts Options) (*Store, error) {
	opts.applyDefaults()

	s := &Store{
		opts:   opts,
		queues: make(map[mesh.NodeID][]*Entry),
		logger: log.WithComponent("mailbox"),
	}

	j, entries, err := openJournal(path)
	if err != nil {
		return nil, fmt.Errorf("open mailbox journal: %w", err)
	}
	s.journal = j

	for _, e := range entries {
		s.queues[e.Recipient] = append(s.queues[e.Recipient], e)
	}
	s.purgeExpiredLocked()

	if n := s.pendingTotalLocked(); n > 0 {
		s.logger.Info("mailbox restored", "pending", n, "recipients", len(s.queues))
	}
	return s, nil
}

// Put validates and stores a message for recipient. On a full queue the
// oldest undelivered entry is evicted to make room and ErrQueueFull is
// returned alongside a valid Ack, so the caller can tell the sender.
func (s *Store) Put(sender mesh.NodeID, senderDisplay string, recipient mesh.NodeID, body string) (Ack, error) {
	if !recipient.Valid() {
		return Ack{}, ErrInvalidRecipient
	}
	if len(body) == 0 {
		return Ack{}, fmt.Errorf("%w: empty body", ErrInvalidRecipient)
	}
	if len(body) > s.opts.MaxBodyLen {
		return Ack{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(body), s.opts.MaxBodyLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()

	entry := &Entry{
		ID:            uuid.NewString(),
		Recipient:     recipient,
		Sender:        sender,
		SenderDisplay: senderDisplay,
		Body:          body,
		StoredAt:      s.opts.now().UTC(),
	}

	var ack Ack
	var queueFull bool
	q := s.queues[recipient]
	if len(q) >= s.opts.QueueCapacity {
		evicted := q[0]
		q = q[1:]
		ack.Evicted = evicted
		queueFull = true
		if err := s.journal.appendEvict(evicted.ID); err != nil {
			return Ack{}, fmt.Errorf("journal evict: %w", err)
		}
		s.logger.Warn("queue full, dropped oldest entry",
			"recipient", recipient, "dropped", evicted.ID)
	}

	if err := s.journal.appendStore(entry); err != nil {
		return Ack{}, fmt.Errorf("journal store: %w", err)
	}

	s.queues[recipient] = append(q, entry)
	ack.Position = len(s.queues[recipient])
	s.maybeCompactLocked()

	if queueFull {
		return ack, ErrQueueFull
	}
	return ack, nil
}

// Retrieve returns all undelivered entries for recipient, oldest first,
// and marks them delivered. A second immediate call returns nothing.
func (s *Store) Retrieve(recipient mesh.NodeID) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()

	q := s.queues[recipient]
	if len(q) == 0 {
		return nil, nil
	}

	out := make([]Entry, 0, len(q))
	ids := make([]string, 0, len(q))
	for _, e := range q {
		e.Delivered = true
		out = append(out, *e)
		ids = append(ids, e.ID)
	}

	if err := s.journal.appendDeliver(ids); err != nil {
		return nil, fmt.Errorf("journal deliver: %w", err)
	}

	// Delivered entries are gone: retention for them is "once read".
	delete(s.queues, recipient)
	s.maybeCompactLocked()
	return out, nil
}

// Pending reports the number of undelivered entries for recipient.
func (s *Store) Pending(recipient mesh.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[recipient])
}

// Stats reports totals for the status API.
func (s *Store) Stats() (recipients, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues), s.pendingTotalLocked()
}

// Close flushes and closes the journal.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal.close()
}

func (s *Store) pendingTotalLocked() int {
	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

// purgeExpiredLocked drops undelivered entries older than the retention
// window. Runs on every store and retrieve, like the legacy purge-on-access.
func (s *Store) purgeExpiredLocked() {
	cutoff := s.opts.now().Add(-s.opts.Retention)
	for recipient, q := range s.queues {
		kept := q[:0]
		for _, e := range q {
			if e.StoredAt.After(cutoff) {
				kept = append(kept, e)
				continue
			}
			if err := s.journal.appendEvict(e.ID); err != nil {
				s.logger.Error("journal evict failed", "error", err)
				kept = append(kept, e)
				continue
			}
			s.logger.Debug("expired entry purged", "recipient", recipient, "id", e.ID)
		}
		if len(kept) == 0 {
			delete(s.queues, recipient)
		} else {
			s.queues[recipient] = kept
		}
	}
}

// maybeCompactLocked rewrites the journal once dead records dominate it,
// bounding file growth on constrained storage.
func (s *Store) maybeCompactLocked() {
	live := s.pendingTotalLocked()
	if !s.journal.needsCompaction(live) {
		return
	}

	var entries []*Entry
	for _, q := range s.queues {
		entries = append(entries, q...)
	}
	if err := s.journal.compact(entries); err != nil {
		s.logger.Error("journal compaction failed", "error", err)
	}
}
