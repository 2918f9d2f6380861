package crowdfund

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the campaign ledger.
var (
	ErrInvalidWindow            = errors.New("invalid campaign window")
	ErrInvalidGoal              = errors.New("invalid campaign goal")
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrNotCreator               = errors.New("caller is not the campaign creator")
	ErrAlreadyStarted           = errors.New("campaign already started")
	ErrNotStarted               = errors.New("campaign not started")
	ErrEnded                    = errors.New("campaign ended")
	ErrNotEnded                 = errors.New("campaign not ended")
	ErrGoalNotReached           = errors.New("campaign goal not reached")
	ErrGoalReached              = errors.New("campaign goal reached")
	ErrAlreadyClaimed           = errors.New("campaign funds already claimed")
	ErrInsufficientContribution = errors.New("insufficient contribution")
	ErrNoContribution           = errors.New("no contribution to refund")
	ErrInvalidPrincipal         = errors.New("invalid principal")
	ErrInvalidCampaignID        = errors.New("invalid campaign id")
	ErrInvalidAmountCents       = errors.New("invalid amount cents")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
