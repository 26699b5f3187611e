// Package gameerr defines the error taxonomy returned by every game operation.
//
// Each error carries a stable machine-readable Code, the Class that decides how
// callers react (surface, re-fetch, or retry), a human-readable message and the
// id of the offending entity.
package gameerr

import (
	"errors"
	"fmt"
)

// Class groups codes by how a caller should handle them.
type Class string

const (
	ClassAuthentication       Class = "authentication"
	ClassAuthorization        Class = "authorization"
	ClassValidation           Class = "validation"
	ClassNotFound             Class = "not_found"
	ClassStateConflict        Class = "state_conflict"
	ClassInsufficientResource Class = "insufficient_resource"
	ClassDependency           Class = "dependency"
)

// Code identifies a specific failure.
type Code string

const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeNotParticipant      Code = "NOT_PARTICIPANT"
	CodeNotBlocMember       Code = "NOT_BLOC_MEMBER"
	CodeValidation          Code = "VALIDATION"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeInvalidTarget       Code = "INVALID_TARGET"
	CodeNotFound            Code = "NOT_FOUND"
	CodeVoteNotFound        Code = "VOTE_NOT_FOUND"
	CodeNoActiveTerritory   Code = "NO_ACTIVE_TERRITORY"
	CodeTerritoryInactive   Code = "TERRITORY_INACTIVE"
	CodeDuplicateWar        Code = "DUPLICATE_WAR"
	CodeDuplicateVote       Code = "DUPLICATE_VOTE"
	CodeVoteClosed          Code = "VOTE_CLOSED"
	CodeVotingWindowExpired Code = "VOTING_WINDOW_EXPIRED"
	CodeAlreadyTerminal     Code = "ALREADY_TERMINAL"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeExpiryUnresolved    Code = "EXPIRY_UNRESOLVED"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeDependencyFailure   Code = "DEPENDENCY_FAILURE"
)

var codeClasses = map[Code]Class{
	CodeUnauthenticated:     ClassAuthentication,
	CodeForbidden:           ClassAuthorization,
	CodeNotOwner:            ClassAuthorization,
	CodeNotParticipant:      ClassAuthorization,
	CodeNotBlocMember:       ClassAuthorization,
	CodeValidation:          ClassValidation,
	CodeInvalidAmount:       ClassValidation,
	CodeInvalidTarget:       ClassValidation,
	CodeNotFound:            ClassNotFound,
	CodeVoteNotFound:        ClassNotFound,
	CodeNoActiveTerritory:   ClassStateConflict,
	CodeTerritoryInactive:   ClassStateConflict,
	CodeDuplicateWar:        ClassStateConflict,
	CodeDuplicateVote:       ClassStateConflict,
	CodeVoteClosed:          ClassStateConflict,
	CodeVotingWindowExpired: ClassStateConflict,
	CodeAlreadyTerminal:     ClassStateConflict,
	CodeInvalidTransition:   ClassStateConflict,
	CodeExpiryUnresolved:    ClassStateConflict,
	CodeInsufficientFunds:   ClassInsufficientResource,
	CodeDependencyFailure:   ClassDependency,
}

// ClassOfCode returns the class a code belongs to.
func ClassOfCode(c Code) Class {
	if class, ok := codeClasses[c]; ok {
		return class
	}
	return ClassDependency
}

// Error is the error type returned by game operations.
type Error struct {
	// Code identifies the failure.
	Code Code

	// Message is a human-readable description.
	Message string

	// Entity is the id of the offending record, if any.
	Entity string

	// Err is the underlying cause (dependency failures only).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Entity != "" {
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.Entity)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Class returns the class of the error's code.
func (e *Error) Class() Class {
	return ClassOfCode(e.Code)
}

// New creates an Error for entity with a formatted message.
func New(code Code, entity, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Entity:  entity,
	}
}

// Dependency wraps a storage or collaborator failure. Errors that already
// carry a game code pass through unchanged so engine checks are not masked.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{
		Code:    CodeDependencyFailure,
		Message: op + " failed",
		Err:     err,
	}
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Is reports whether err carries code.
// Uses errors.As to handle wrapped errors.
func Is(err error, code Code) bool {
	ge, ok := As(err)
	return ok && ge.Code == code
}

// CodeOf returns the code of err, or CodeDependencyFailure for foreign errors.
func CodeOf(err error) Code {
	if ge, ok := As(err); ok {
		return ge.Code
	}
	return CodeDependencyFailure
}

// ClassOf returns the class of err.
func ClassOf(err error) Class {
	return ClassOfCode(CodeOf(err))
}

// Retryable reports whether a caller may retry. Only dependency failures are,
// and only because the enclosing transaction guarantees no partial effect.
func Retryable(err error) bool {
	return err != nil && ClassOf(err) == ClassDependency
}
