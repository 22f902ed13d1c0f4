// Package account serves the dashboard's account screens through a per-user
// cache that is dropped on sign-out.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"mailcheck/internal"
)

var ErrNoUser = errors.New("missing user id")

type Backend interface {
	GetCredits(ctx context.Context) (internal.Credits, error)
	GetUsage(ctx context.Context, days int) ([]internal.UsagePoint, error)
	ListTasks(ctx context.Context, page int) (internal.HistoryPage, error)
	ListPurchases(ctx context.Context) ([]internal.Purchase, error)
	ListAPIKeys(ctx context.Context) ([]internal.APIKey, error)
	CreateAPIKey(ctx context.Context, name string) (internal.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	GetProfile(ctx context.Context) (internal.Profile, error)
	UpdateProfile(ctx context.Context, p internal.Profile) (internal.Profile, error)
}

const (
	resCredits   = "credits"
	resUsage     = "usage"
	resHistory   = "history"
	resPurchases = "purchases"
	resAPIKeys   = "api-keys"
	resProfile   = "profile"
)

type Service struct {
	backend Backend
	cache   *expirable.LRU[string, any]
	log     *slog.Logger

	mu        sync.Mutex
	nextSubID int
	observers map[int]func(internal.Profile)
}

func NewService(backend Backend, size int, ttl time.Duration, log *slog.Logger) *Service {
	if size <= 0 {
		size = 1024
	}
	s := &Service{
		backend:   backend,
		cache:     expirable.NewLRU[string, any](size, nil, ttl),
		log:       log,
		observers: map[int]func(internal.Profile){},
	}
	s.Subscribe(func(p internal.Profile) {
		if p.UserID != "" {
			s.cache.Add(cacheKey(p.UserID, resProfile), p)
		}
	})
	return s
}

func cacheKey(userID, resource string) string {
	return userID + "|" + resource
}

// cached returns the value stored for key or loads it. Errors are not cached.
func cached[T any](s *Service, userID, resource string, load func() (T, error)) (T, error) {
	var zero T
	if strings.TrimSpace(userID) == "" {
		return zero, ErrNoUser
	}
	key := cacheKey(userID, resource)
	if v, ok := s.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := load()
	if err != nil {
		return zero, err
	}
	s.cache.Add(key, v)
	return v, nil
}

func (s *Service) Credits(ctx context.Context, userID string) (internal.Credits, error) {
	return cached(s, userID, resCredits, func() (internal.Credits, error) {
		return s.backend.GetCredits(ctx)
	})
}

func (s *Service) Usage(ctx context.Context, userID string, days int) ([]internal.UsagePoint, error) {
	return cached(s, userID, resUsage+":"+strconv.Itoa(days), func() ([]internal.UsagePoint, error) {
		return s.backend.GetUsage(ctx, days)
	})
}

func (s *Service) History(ctx context.Context, userID string, page int) (internal.HistoryPage, error) {
	return cached(s, userID, resHistory+":"+strconv.Itoa(page), func() (internal.HistoryPage, error) {
		return s.backend.ListTasks(ctx, page)
	})
}

func (s *Service) Purchases(ctx context.Context, userID string) ([]internal.Purchase, error) {
	return cached(s, userID, resPurchases, func() ([]internal.Purchase, error) {
		return s.backend.ListPurchases(ctx)
	})
}

func (s *Service) APIKeys(ctx context.Context, userID string) ([]internal.APIKey, error) {
	return cached(s, userID, resAPIKeys, func() ([]internal.APIKey, error) {
		return s.backend.ListAPIKeys(ctx)
	})
}

func (s *Service) CreateAPIKey(ctx context.Context, userID, name string) (internal.APIKey, error) {
	if strings.TrimSpace(userID) == "" {
		return internal.APIKey{}, ErrNoUser
	}
	key, err := s.backend.CreateAPIKey(ctx, strings.TrimSpace(name))
	if err != nil {
		return internal.APIKey{}, err
	}
	s.cache.Remove(cacheKey(userID, resAPIKeys))
	return key, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrNoUser
	}
	if err := s.backend.RevokeAPIKey(ctx, id); err != nil {
		return err
	}
	s.cache.Remove(cacheKey(userID, resAPIKeys))
	return nil
}

func (s *Service) Profile(ctx context.Context, userID string) (internal.Profile, error) {
	return cached(s, userID, resProfile, func() (internal.Profile, error) {
		return s.backend.GetProfile(ctx)
	})
}

// UpdateProfile saves the profile and notifies every subscriber with the
// backend's answer.
func (s *Service) UpdateProfile(ctx context.Context, userID string, p internal.Profile) (internal.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return internal.Profile{}, ErrNoUser
	}
	updated, err := s.backend.UpdateProfile(ctx, p)
	if err != nil {
		return internal.Profile{}, err
	}
	if updated.UserID == "" {
		updated.UserID = userID
	}
	s.notify(updated)
	return updated, nil
}

// Subscribe registers fn for profile updates. The returned func unsubscribes.
func (s *Service) Subscribe(fn func(internal.Profile)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Service) notify(p internal.Profile) {
	s.mu.Lock()
	fns := make([]func(internal.Profile), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// SignOut drops every cached entry belonging to userID.
func (s *Service) SignOut(userID string) int {
	prefix := cacheKey(userID, "")
	removed := 0
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) && s.cache.Remove(key) {
			removed++
		}
	}
	if s.log != nil {
		s.log.Info("session signed out", slog.String("user", userID), slog.Int("evicted", removed))
	}
	return removed
}
