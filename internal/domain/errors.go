package domain

import "errors"

var (
	// ErrNoQuestions is returned when a question source yields an empty bank.
	ErrNoQuestions = errors.New("question bank is empty")
	// ErrUnknownClient is returned when a send targets an identity the
	// transport no longer tracks.
	ErrUnknownClient = errors.New("unknown client")
)
