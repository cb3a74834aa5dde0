// Package companion keeps a read-only copy of a feed on a companion device.
//
// The primary side writes each fetched feed to a snapshot file and sends it
// over a [transfer.Channel]; the companion side picks up snapshots for the
// feed it's showing and renders them.
package companion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jdholdren/photorama/internal/metrics"
	"github.com/jdholdren/photorama/internal/photorama"
	"github.com/jdholdren/photorama/internal/transfer"
)

// SnapshotName is the file a feed's snapshot is written to.
func SnapshotName(feed photorama.FeedType) string {
	return fmt.Sprintf("feed_%s.json", feed)
}

type SenderState int32

const (
	SenderIdle SenderState = iota
	SenderSerializing
	SenderTransferring
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderSerializing:
		return "serializing"
	case SenderTransferring:
		return "transferring"
	default:
		return "unknown"
	}
}

// Sender pushes feed snapshots to the companion. One sync runs at a time.
type Sender struct {
	dir     string
	ch      transfer.Channel
	metrics *metrics.Collector

	mu    sync.Mutex
	state atomic.Int32
}

// NewSender writes snapshots into dir, creating it if needed.
func NewSender(dir string, ch transfer.Channel, m *metrics.Collector) (*Sender, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating snapshot dir: %s", err)
	}

	return &Sender{dir: dir, ch: ch, metrics: m}, nil
}

func (s *Sender) State() SenderState {
	return SenderState(s.state.Load())
}

// Sync writes raw, exactly as it came from the remote, to the feed's snapshot
// file and sends it tagged with the feed.
//
// Errors wrap [photorama.ErrTransfer]. Callers are expected to log them and
// move on; a failed sync never affects the local store.
func (s *Sender) Sync(ctx context.Context, feed photorama.FeedType, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.state.Store(int32(SenderIdle))

	s.state.Store(int32(SenderSerializing))
	path, err := s.writeSnapshot(feed, raw)
	if err != nil {
		s.metrics.RecordTransfer(feed.String(), metrics.OutcomeFailure, len(raw))
		return fmt.Errorf("%w: %w", photorama.ErrTransfer, err)
	}

	s.state.Store(int32(SenderTransferring))
	if err := s.ch.Send(ctx, path, transfer.Metadata{transfer.MetadataFeed: feed.String()}); err != nil {
		s.metrics.RecordTransfer(feed.String(), metrics.OutcomeFailure, len(raw))
		return fmt.Errorf("%w: error sending snapshot: %w", photorama.ErrTransfer, err)
	}
	s.metrics.RecordTransfer(feed.String(), metrics.OutcomeSuccess, len(raw))

	slog.InfoContext(ctx, "sent snapshot to companion", "feed", feed, "path", path, "bytes", len(raw))

	return nil
}

// Replaces the snapshot in one step so the companion never reads half a file.
func (s *Sender) writeSnapshot(feed photorama.FeedType, raw []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, ".tmp-"+SnapshotName(feed)+"-*")
	if err != nil {
		return "", fmt.Errorf("error creating snapshot: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(raw); err != nil {
		f.Close()
		return "", fmt.Errorf("error writing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("error closing snapshot: %w", err)
	}

	path := filepath.Join(s.dir, SnapshotName(feed))
	if err := os.Rename(f.Name(), path); err != nil {
		return "", fmt.Errorf("error moving snapshot into place: %w", err)
	}

	return path, nil
}
