package questions

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiznet/internal/domain"
)

// PostgresLoader reads the bank from the questions table (see the migrations
// subpackage for its shape).
type PostgresLoader struct {
	pool *pgxpool.Pool
}

func NewPostgresLoader(pool *pgxpool.Pool) *PostgresLoader {
	return &PostgresLoader{pool: pool}
}

func (l *PostgresLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `SELECT text, options, answer FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.Text, &q.Options, &q.Answer); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return questions, nil
}
