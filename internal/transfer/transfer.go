// Package transfer hands files from the primary process to a companion, along
// with a little metadata, without either side waiting on the other.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetadataFeed is the metadata key naming the feed a snapshot belongs to.
const MetadataFeed = "feed"

// Metadata rides along with a transferred file.
type Metadata map[string]string

func (m Metadata) clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Transfer is a file that arrived on the receiving side.
type Transfer struct {
	ID       string    `json:"id"`
	Path     string    `json:"file"`
	Metadata Metadata  `json:"metadata"`
	SentAt   time.Time `json:"sent_at"`
}

type Handler func(Transfer)

// Channel is a one-way, fire-and-forget file transfer.
type Channel interface {
	// Send queues the file at path for delivery. It returns once the transfer
	// is queued, not once it's received.
	Send(ctx context.Context, path string, md Metadata) error
	// OnReceive registers h for every transfer that arrives. Calling the
	// returned func stops deliveries to h.
	OnReceive(h Handler) (unsubscribe func())
}

// Loopback is a Channel within a single process. Send delivers to the
// registered handlers before returning.
type Loopback struct {
	subs subscribers
}

var _ Channel = (*Loopback)(nil)

func (l *Loopback) Send(ctx context.Context, path string, md Metadata) error {
	abs, err := sendable(path)
	if err != nil {
		return err
	}

	l.subs.deliver(Transfer{
		ID:       uuid.NewString(),
		Path:     abs,
		Metadata: md.clone(),
		SentAt:   time.Now().UTC(),
	})

	return nil
}

func (l *Loopback) OnReceive(h Handler) func() {
	return l.subs.add(h)
}

// Checks that there's a regular file to send and returns its absolute path.
func sendable(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("error resolving %s: %s", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("error checking file to send: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", abs)
	}

	return abs, nil
}

// The set of registered handlers.
type subscribers struct {
	mu   sync.RWMutex
	next int
	hs   map[int]Handler
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hs == nil {
		s.hs = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.hs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.hs, id)
			s.mu.Unlock()
		})
	}
}

// Calls every handler, in no particular order. Handlers run without the lock
// held so they're free to unsubscribe.
func (s *subscribers) deliver(t Transfer) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.hs))
	for _, h := range s.hs {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	for _, h := range hs {
		h(Transfer{ID: t.ID, Path: t.Path, Metadata: t.Metadata.clone(), SentAt: t.SentAt})
	}
}
