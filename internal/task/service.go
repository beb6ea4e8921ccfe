package task

import (
	"context"
	"sort"
	"strings"

	"cloudarc/internal/audit"
	"cloudarc/internal/auth"
	"cloudarc/internal/cache"
	"cloudarc/internal/observability"
)

// Store is the data-access surface the service needs; implemented by
// Repository and by the in-memory fake in tests.
type Store interface {
	List(ctx context.Context, filter Filter) ([]Task, error)
	Get(ctx context.Context, id string) (Task, error)
	Create(ctx context.Context, input CreateInput) (Task, error)
	Update(ctx context.Context, id string, patch Patch) (Task, error)
	Delete(ctx context.Context, id string) error
}

// Service layers the read cache and the audit trail over the store. The
// tasks list is the most-read endpoint; cached reads skip Postgres entirely
// and any mutation invalidates the affected keys.
type Service struct {
	store    Store
	cache    *cache.Cache
	recorder *audit.Recorder
	logger   *observability.Logger
}

func NewService(store Store, c *cache.Cache, recorder *audit.Recorder, logger *observability.Logger) *Service {
	return &Service{store: store, cache: c, recorder: recorder, logger: logger}
}

const cachePrefix = "tasks"

func listKey(filter Filter) string {
	parts := make([]string, 0, 2)
	if filter.UserID != "" {
		parts = append(parts, "user_id="+filter.UserID)
	}
	if filter.Status != "" {
		parts = append(parts, "status="+filter.Status)
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return cachePrefix + ":list:all"
	}
	return cachePrefix + ":list:" + strings.Join(parts, "&")
}

func itemKey(id string) string {
	return cachePrefix + ":" + id
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Task, error) {
	key := listKey(filter)

	var cached []Task
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, key, tasks)
	return tasks, nil
}

func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	key := itemKey(id)

	var cached Task
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}

	s.cache.Set(ctx, key, t)
	return t, nil
}

func (s *Service) Create(ctx context.Context, input CreateInput, actor auth.Identity) (Task, error) {
	t, err := s.store.Create(ctx, input)
	if err != nil {
		return Task{}, err
	}

	s.recordAudit(ctx, actor, "task.create", t.ID)
	s.cache.DeletePattern(ctx, cachePrefix+":list:*")
	return t, nil
}

func (s *Service) Update(ctx context.Context, id string, patch Patch, actor auth.Identity) (Task, error) {
	t, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return Task{}, err
	}

	s.recordAudit(ctx, actor, "task.update", id)
	s.cache.Delete(ctx, itemKey(id))
	s.cache.DeletePattern(ctx, cachePrefix+":list:*")
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id string, actor auth.Identity) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.recordAudit(ctx, actor, "task.delete", id)
	s.cache.Delete(ctx, itemKey(id))
	s.cache.DeletePattern(ctx, cachePrefix+":list:*")
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor auth.Identity, action, resourceID string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Log(ctx, audit.Entry{
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Action:     action,
		Resource:   "task",
		ResourceID: resourceID,
		RequestID:  observability.RequestIDFrom(ctx),
		Metadata:   map[string]any{"actor_role": actor.Role},
	})
}
