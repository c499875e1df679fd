package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// deadLetterRepositoryInMemory — in-memory хранилище dead letters.
type deadLetterRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.DeadLetter
}

// NewDeadLetterRepository создаёт in-memory реализацию DeadLetterRepository.
func NewDeadLetterRepository() domain.DeadLetterRepository {
	return &deadLetterRepositoryInMemory{
		items: make(map[string]domain.DeadLetter),
	}
}

// Append сохраняет dead letter, выдавая id и отметку времени при необходимости.
func (r *deadLetterRepositoryInMemory) Append(letter domain.DeadLetter) (domain.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}
	letter.Payload = append([]byte(nil), letter.Payload...)
	r.items[letter.ID] = letter

	return cloneDeadLetter(letter), nil
}

// Get возвращает запись по id или ErrDeadLetterNotFound.
func (r *deadLetterRepositoryInMemory) Get(id string) (domain.DeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	letter, ok := r.items[id]
	if !ok {
		return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
	}
	return cloneDeadLetter(letter), nil
}

// List возвращает последние записи, свежие первыми.
func (r *deadLetterRepositoryInMemory) List(limit int) ([]domain.DeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.DeadLetter, 0, len(r.items))
	for _, letter := range r.items {
		result = append(result, cloneDeadLetter(letter))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func cloneDeadLetter(src domain.DeadLetter) domain.DeadLetter {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	return dst
}

var _ domain.DeadLetterRepository = (*deadLetterRepositoryInMemory)(nil)
