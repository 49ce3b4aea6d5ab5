package pipeline

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindAuthentication Kind = iota + 1
	KindPageList
	KindItemExtraction
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindPageList:
		return "page list"
	case KindItemExtraction:
		return "item extraction"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrPageList       = errors.New("page list failed")
	ErrItemExtraction = errors.New("item extraction failed")
	ErrPersistence    = errors.New("persistence failed")
)

// Error carries where in the traversal a failure happened.
// errors.Is(err, ErrPersistence) and friends match on Kind.
type Error struct {
	Kind  Kind
	Scope string
	Item  string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Scope != "" {
		msg += fmt.Sprintf(" [scope=%s]", e.Scope)
	}
	if e.Item != "" {
		msg += fmt.Sprintf(" [item=%s]", e.Item)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrPageList:
		return e.Kind == KindPageList
	case ErrItemExtraction:
		return e.Kind == KindItemExtraction
	case ErrPersistence:
		return e.Kind == KindPersistence
	}
	return false
}
