package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepositoryInMemory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserRepository создаёт in-memory реализацию UserRepository.
func NewUserRepository() domain.UserRepository {
	return &userRepositoryInMemory{users: make(map[string]domain.User)}
}

func (r *userRepositoryInMemory) Upsert(identity domain.Identity) (domain.User, error) {
	if identity.UserID == "" {
		return domain.User{}, domain.ErrUserIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	user, ok := r.users[identity.UserID]
	if !ok {
		user = domain.User{ID: identity.UserID, CreatedAt: now}
	}
	user.Email = identity.Email
	user.FirstName = identity.FirstName
	user.LastName = identity.LastName
	user.ImageURL = identity.ImageURL
	user.UpdatedAt = now

	r.users[user.ID] = user
	return user, nil
}

func (r *userRepositoryInMemory) Get(id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *userRepositoryInMemory) Update(user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
