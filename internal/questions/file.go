// Package questions provides the question bank: loaders for the text-file,
// Redis, and Postgres sources, and a TTL cache in front of whichever one is
// active.
package questions

import (
	"context"
	"fmt"
	"os"
	"strings"

	"quiznet/internal/domain"
)

// Loader fetches the full question bank from a backing source.
type Loader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// FileLoader reads the bank from a text file of blank-line-separated blocks:
// first line the question, then one option per line, and a line prefixed
// "ANSWER:" naming the correct letter.
type FileLoader struct {
	path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes the text-file format. Blocks missing a question, options, or
// an answer are skipped rather than failing the whole bank.
func Parse(content string) ([]domain.Question, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var questions []domain.Question
	for _, block := range strings.Split(strings.TrimSpace(content), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		q := domain.Question{Text: strings.TrimSpace(lines[0])}
		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.HasPrefix(line, "ANSWER:"):
				q.Answer = strings.TrimSpace(strings.TrimPrefix(line, "ANSWER:"))
			default:
				q.Options = append(q.Options, line)
			}
		}
		if q.Text != "" && len(q.Options) > 0 && q.Answer != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return questions, nil
}
