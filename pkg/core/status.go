package core

import "fmt"

// TaskState is the lifecycle state of one agent task.
//
//	Idle -> Running -> {Completed, Cancelled, Failed, RoundLimitReached}
type TaskState int

const (
	StateIdle              TaskState = iota // Not yet started
	StateRunning                            // Loop is executing rounds
	StateCompleted                          // Model declared the task finished
	StateCancelled                          // Caller cancelled the task
	StateFailed                             // Capture, model or parse failure
	StateRoundLimitReached                  // Ran out of rounds without finishing
)

// String returns the string representation of TaskState
func (s TaskState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateRoundLimitReached:
		return "round_limit_reached"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is a final state
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateRoundLimitReached:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the state is not an error outcome.
// Running out of rounds is a soft outcome and counts as success.
func (s TaskState) IsSuccess() bool {
	return s == StateCompleted || s == StateRoundLimitReached
}

// RoundOutcome is how a single round ended.
type RoundOutcome int

const (
	OutcomeContinue RoundOutcome = iota
	OutcomeFinish
	OutcomeCancelled
	OutcomeError
)

// String returns the string representation of RoundOutcome
func (o RoundOutcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeFinish:
		return "finish"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets outcomes serialize by name.
func (o RoundOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name written by MarshalText.
func (o *RoundOutcome) UnmarshalText(b []byte) error {
	for oc := OutcomeContinue; oc <= OutcomeError; oc++ {
		if oc.String() == string(b) {
			*o = oc
			return nil
		}
	}
	return fmt.Errorf("unknown round outcome %q", b)
}

// MarshalText lets states serialize by name.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *TaskState) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateRoundLimitReached; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", b)
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone      ErrorCategory = iota // No error
	ErrCategoryCapture                        // Frame capture failed or timed out
	ErrCategoryModel                          // Vision model call failed
	ErrCategoryParse                          // Model reply could not be parsed
	ErrCategoryGesture                        // Gesture dispatch failed
	ErrCategoryConfig                         // Invalid configuration, missing credentials
	ErrCategoryCancelled                      // Cancelled by caller
	ErrCategoryTimeout                        // Operation timed out
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryCapture:
		return "capture"
	case ErrCategoryModel:
		return "model"
	case ErrCategoryParse:
		return "parse"
	case ErrCategoryGesture:
		return "gesture"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryCancelled:
		return "cancelled"
	case ErrCategoryTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
