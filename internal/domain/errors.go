package domain

import "errors"

var (
	ErrDuplicatePredictionID = errors.New("duplicate prediction id")
	ErrUnknownSignalKey      = errors.New("unknown signal key")
	ErrUnknownTimeframe      = errors.New("unknown timeframe")
	ErrInvalidRecord         = errors.New("invalid prediction record")
	ErrInvalidWeights        = errors.New("invalid weights")
	ErrLessonsApplied        = errors.New("report lessons already applied")
)
