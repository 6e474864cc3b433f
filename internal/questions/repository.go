package questions

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiznet/internal/domain"
)

// Repository caches the loaded bank with a TTL so both transport servers can
// fetch it without hitting the backing source twice. Concurrent misses are
// collapsed through singleflight.
type Repository struct {
	loader Loader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu        sync.RWMutex
	cached    []domain.Question
	expiresAt time.Time
}

func NewRepository(loader Loader, ttl time.Duration) *Repository {
	return &Repository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
	}
}

func (r *Repository) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if r.cached != nil && r.expiresAt.After(now) {
		cached := r.cached
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("bank", func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if r.cached != nil && r.expiresAt.After(now) {
			cached := r.cached
			r.mu.RUnlock()
			return cached, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cached = questions
		r.expiresAt = now.Add(r.ttl)
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Shuffle returns an independently shuffled copy so each coordinator gets its
// own immutable order.
func Shuffle(questions []domain.Question) []domain.Question {
	shuffled := make([]domain.Question, len(questions))
	copy(shuffled, questions)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}
