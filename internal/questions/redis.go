package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiznet/internal/domain"
)

// DefaultRedisKey is where the bank lives unless configured otherwise.
const DefaultRedisKey = "quiznet:questions"

// RedisLoader reads the bank from a single Redis key holding a JSON array of
// questions, so operators can swap the bank without shipping a file.
type RedisLoader struct {
	client *redis.Client
	key    string
}

func NewRedisLoader(client *redis.Client, key string) *RedisLoader {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisLoader{client: client, key: key}
}

func (l *RedisLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	raw, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNoQuestions
	}
	if err != nil {
		return nil, fmt.Errorf("load questions from redis: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return questions, nil
}
