package models

import "errors"

var (
	ErrModelNotLoaded   = errors.New("model not loaded")
	ErrModelNotTrained  = errors.New("model not trained")
	ErrPrediction       = errors.New("prediction failed")
	ErrTraining         = errors.New("training failed")
	ErrInsufficientData = errors.New("insufficient training data")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrCorruptBundle    = errors.New("corrupt model bundle")
	ErrVersionConflict  = errors.New("model version already exists")
	ErrCanceled         = errors.New("training canceled")
)
