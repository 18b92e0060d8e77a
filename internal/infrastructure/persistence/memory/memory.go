// Package memory provides in-process implementations of the repositories.
// Used in development mode (no DATABASE_URL) and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressStore keeps progress records keyed by user id.
type ProgressStore struct {
	mu      sync.Mutex
	records map[string]*progress.UserProgress
	now     func() time.Time
}

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{records: make(map[string]*progress.UserProgress), now: time.Now}
}

var (
	_ progress.Repository     = (*ProgressStore)(nil)
	_ progress.UserLister     = (*ProgressStore)(nil)
	_ progress.WeeklyResetter = (*ProgressStore)(nil)
)

// Get returns a copy of the record.
func (s *ProgressStore) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[userID]
	if !ok {
		return nil, progress.ErrProgressNotFound
	}
	return p.Clone(), nil
}

// Update applies fn under the store lock. Writes are serialised per store,
// which is sufficient for a single process.
func (s *ProgressStore) Update(ctx context.Context, userID string, fn progress.UpdateFunc) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := progress.ApplyUpdate(s.records[userID], userID, s.now(), fn)
	if err != nil {
		return nil, err
	}
	s.records[userID] = next
	return next.Clone(), nil
}

// ListActiveSince returns users updated after since.
func (s *ProgressStore) ListActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.records {
		if p.UpdatedAt.After(since) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ResetWeekly zeroes weekly progress for users whose week started earlier.
func (s *ProgressStore) ResetWeekly(ctx context.Context, weekStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, p := range s.records {
		next := p.Clone()
		if next.ResetWeek(weekStart) {
			next.Version++
			next.UpdatedAt = s.now()
			s.records[id] = next
			n++
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TASKS
// ══════════════════════════════════════════════════════════════════════════════

// TaskStore keeps tasks keyed by id.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task

	// OrderedErr, when set, is returned by ListByOwner to exercise the
	// unordered fallback path.
	OrderedErr error
	// UnorderedErr, when set, is returned by ListByOwnerUnordered.
	UnorderedErr error
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*task.Task)}
}

var _ task.Repository = (*TaskStore)(nil)

// Save inserts or replaces t.
func (s *TaskStore) Save(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get returns the task if it belongs to ownerID.
func (s *TaskStore) Get(ctx context.Context, ownerID, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, task.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Delete removes the task.
func (s *TaskStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return task.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// ListByOwner returns the owner's tasks newest first.
func (s *TaskStore) ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	if s.OrderedErr != nil {
		return nil, s.OrderedErr
	}
	out := s.filter(ownerID, nil)
	task.SortNewestFirst(out)
	return out, nil
}

// ListByOwnerUnordered returns the owner's tasks in map order.
func (s *TaskStore) ListByOwnerUnordered(ctx context.Context, ownerID string) ([]*task.Task, error) {
	if s.UnorderedErr != nil {
		return nil, s.UnorderedErr
	}
	return s.filter(ownerID, nil), nil
}

// ListCompleted returns the owner's completed tasks.
func (s *TaskStore) ListCompleted(ctx context.Context, ownerID string) ([]*task.Task, error) {
	return s.filter(ownerID, func(t *task.Task) bool { return t.Status == task.StatusCompleted }), nil
}

func (s *TaskStore) filter(ownerID string, keep func(*task.Task) bool) []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if t.OwnerID != ownerID || (keep != nil && !keep(t)) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DECKS
// ══════════════════════════════════════════════════════════════════════════════

// DeckStore keeps flashcard decks keyed by id.
type DeckStore struct {
	mu    sync.RWMutex
	decks map[string]*flashcard.Deck

	OrderedErr   error
	UnorderedErr error
}

// NewDeckStore creates an empty store.
func NewDeckStore() *DeckStore {
	return &DeckStore{decks: make(map[string]*flashcard.Deck)}
}

var _ flashcard.Repository = (*DeckStore)(nil)

func copyDeck(d *flashcard.Deck) *flashcard.Deck {
	c := *d
	c.Cards = append([]flashcard.Card(nil), d.Cards...)
	return &c
}

// Save inserts or replaces d.
func (s *DeckStore) Save(ctx context.Context, d *flashcard.Deck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[d.ID] = copyDeck(d)
	return nil
}

// Get returns the deck if it belongs to ownerID.
func (s *DeckStore) Get(ctx context.Context, ownerID, id string) (*flashcard.Deck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decks[id]
	if !ok || d.OwnerID != ownerID {
		return nil, flashcard.ErrDeckNotFound
	}
	return copyDeck(d), nil
}

// Delete removes the deck.
func (s *DeckStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[id]
	if !ok || d.OwnerID != ownerID {
		return flashcard.ErrDeckNotFound
	}
	delete(s.decks, id)
	return nil
}

// ListByOwner returns the owner's decks newest first.
func (s *DeckStore) ListByOwner(ctx context.Context, ownerID string) ([]*flashcard.Deck, error) {
	if s.OrderedErr != nil {
		return nil, s.OrderedErr
	}
	out, _ := s.ListByOwnerUnordered(ctx, ownerID)
	flashcard.SortNewestFirst(out)
	return out, nil
}

// ListByOwnerUnordered returns the owner's decks in map order.
func (s *DeckStore) ListByOwnerUnordered(ctx context.Context, ownerID string) ([]*flashcard.Deck, error) {
	if s.UnorderedErr != nil {
		return nil, s.UnorderedErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*flashcard.Deck, 0)
	for _, d := range s.decks {
		if d.OwnerID == ownerID {
			out = append(out, copyDeck(d))
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS & TOKENS
// ══════════════════════════════════════════════════════════════════════════════

// UserStore keeps accounts and reset tokens.
type UserStore struct {
	mu      sync.Mutex
	byID    map[string]*identity.User
	byEmail map[string]string
	resets  map[string]identity.ResetToken
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*identity.User),
		byEmail: make(map[string]string),
		resets:  make(map[string]identity.ResetToken),
	}
}

var _ identity.UserRepository = (*UserStore)(nil)

// Create stores u. The email must be unused.
func (s *UserStore) Create(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return identity.ErrEmailTaken
	}
	c := *u
	s.byID[u.ID] = &c
	s.byEmail[u.Email] = u.ID
	return nil
}

// GetByEmail looks a user up by normalised email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	c := *s.byID[id]
	return &c, nil
}

// GetByID looks a user up by id.
func (s *UserStore) GetByID(ctx context.Context, id string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// UpdatePassword replaces the stored hash.
func (s *UserStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

// SaveResetToken stores t by hash.
func (s *UserStore) SaveResetToken(ctx context.Context, t identity.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[t.TokenHash] = t
	return nil
}

// ConsumeResetToken deletes the token and returns its user if it has not expired.
func (s *UserStore) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[tokenHash]
	delete(s.resets, tokenHash)
	if !ok || !now.Before(t.ExpiresAt) {
		return "", identity.ErrTokenNotFound
	}
	return t.UserID, nil
}

// RevocationList remembers revoked token ids until they expire.
type RevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewRevocationList creates an empty list.
func NewRevocationList() *RevocationList {
	return &RevocationList{revoked: make(map[string]time.Time), now: time.Now}
}

var _ identity.RevocationList = (*RevocationList)(nil)

// Revoke marks tokenID revoked until the given time.
func (l *RevocationList) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[tokenID] = until
	return nil
}

// IsRevoked reports whether tokenID is revoked. Expired entries are pruned.
func (l *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !l.now().Before(until) {
		delete(l.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FEED
// ══════════════════════════════════════════════════════════════════════════════

// FeedStore - notification.Feed in memory.
type FeedStore struct {
	mu    sync.RWMutex
	size  int
	items map[string][]*notification.Notification
}

// NewFeedStore creates a feed keeping size entries per user (0 = default).
func NewFeedStore(size int) *FeedStore {
	if size <= 0 {
		size = notification.DefaultFeedSize
	}
	return &FeedStore{size: size, items: make(map[string][]*notification.Notification)}
}

func (s *FeedStore) Push(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	list := append([]*notification.Notification{&cp}, s.items[n.UserID]...)
	if len(list) > s.size {
		list = list[:s.size]
	}
	s.items[n.UserID] = list
	return nil
}

func (s *FeedStore) Recent(_ context.Context, userID string, limit int) ([]*notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.items[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*notification.Notification, 0, limit)
	for _, n := range list[:limit] {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}
