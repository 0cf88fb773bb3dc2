package inventory

import "errors"

// ErrDomainRule matches every DomainError.
var ErrDomainRule = errors.New("domain rule violation")

// DomainError is a rejected business operation. It is never retried.
type DomainError struct {
	Reason string
}

func (e *DomainError) Error() string        { return e.Reason }
func (e *DomainError) Is(target error) bool { return target == ErrDomainRule }

func ruleViolation(reason string) error { return &DomainError{Reason: reason} }
