package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVABLE PROGRESS STORE
// Adds Subscribe to any progress.Repository by announcing every committed
// Update on the bus. Subscribers re-read the record, so a slow consumer sees
// the latest state rather than every intermediate version.
// ══════════════════════════════════════════════════════════════════════════════

// SubscriptionBuffer is the per-subscriber channel capacity.
const SubscriptionBuffer = 8

// ObservableStore implements progress.Store on top of a Repository and a bus.
type ObservableStore struct {
	progress.Repository
	bus    shared.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewObservableStore wraps repo.
func NewObservableStore(repo progress.Repository, bus shared.EventBus, logger *slog.Logger) *ObservableStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservableStore{
		Repository: repo,
		bus:        bus,
		logger:     logger.With("component", "observable_store"),
		now:        time.Now,
	}
}

var _ progress.Store = (*ObservableStore)(nil)

// Update delegates to the repository and announces the new version.
func (s *ObservableStore) Update(ctx context.Context, userID string, fn progress.UpdateFunc) (*progress.UserProgress, error) {
	p, err := s.Repository.Update(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	if err := s.bus.Publish(shared.NewProgressChangedEvent(userID, p.Version, p.Points)); err != nil {
		s.logger.Warn("failed to announce progress change", "user_id", userID, "error", err)
	}
	return p, nil
}

// Subscribe streams the user's progress. The current record, if any, is sent
// first. When the buffer is full the oldest pending change is dropped. The
// channel closes once ctx is done.
func (s *ObservableStore) Subscribe(ctx context.Context, userID string) (<-chan progress.ProgressChanged, error) {
	out := make(chan progress.ProgressChanged, SubscriptionBuffer)
	notify := make(chan struct{}, 1)

	unsubscribe, err := s.bus.Subscribe(shared.EventProgressChanged, func(e shared.Event) error {
		if e.AggregateID() != userID {
			return nil
		}
		select {
		case notify <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		defer unsubscribe()

		var lastVersion int64 = -1
		push := func() {
			p, err := s.Repository.Get(ctx, userID)
			if err != nil {
				if !shared.IsNotFound(err) && ctx.Err() == nil {
					s.logger.Warn("failed to load progress for subscriber", "user_id", userID, "error", err)
				}
				return
			}
			if p.Version <= lastVersion {
				return
			}
			lastVersion = p.Version
			deliver(out, progress.ProgressChanged{
				UserID:    userID,
				Version:   p.Version,
				Progress:  p,
				ChangedAt: s.now(),
			})
		}

		push()
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				push()
			}
		}
	}()

	return out, nil
}

// deliver sends c, evicting the oldest queued value if out is full.
func deliver(out chan progress.ProgressChanged, c progress.ProgressChanged) {
	for {
		select {
		case out <- c:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
