package groupbuy

import (
	"errors"
	"fmt"
)

// Kind classifies core failures. Callers decide retry policy on Kind only.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalid           Kind = "invalid"
	KindCampaignClosed    Kind = "campaign_closed"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindInsufficientStock Kind = "insufficient_stock"
	KindBusy              Kind = "busy"
	KindInconsistent      Kind = "inconsistent"
	KindInternal          Kind = "internal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid argument")
	ErrCampaignClosed    = errors.New("campaign closed")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBusy              = errors.New("busy, retry later")
	ErrInconsistent      = errors.New("inconsistent state")
)

var sentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindInvalid:           ErrInvalid,
	KindCampaignClosed:    ErrCampaignClosed,
	KindCapacityExceeded:  ErrCapacityExceeded,
	KindInsufficientStock: ErrInsufficientStock,
	KindBusy:              ErrBusy,
	KindInconsistent:      ErrInconsistent,
}

// Error carries the kind plus the detail a caller needs to adjust its request.
// RemainingSlots is set for KindCapacityExceeded, Available for KindInsufficientStock.
type Error struct {
	Kind           Kind
	Op             string
	ID             string
	RemainingSlots int
	Available      int
	Err            error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	switch e.Kind {
	case KindCapacityExceeded:
		msg = fmt.Sprintf("%s: %d slots remaining", msg, e.RemainingSlots)
	case KindInsufficientStock:
		msg = fmt.Sprintf("%s: %d available", msg, e.Available)
	}
	if e.ID != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.ID)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCapacityExceeded) and friends work.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func NotFound(op, id string) *Error { return &Error{Kind: KindNotFound, Op: op, ID: id} }

func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf(format, args...)}
}

func Closed(op, id string, status CampaignStatus) *Error {
	return &Error{Kind: KindCampaignClosed, Op: op, ID: id, Err: fmt.Errorf("status %s", status)}
}

func CapacityExceeded(op, id string, remaining int) *Error {
	return &Error{Kind: KindCapacityExceeded, Op: op, ID: id, RemainingSlots: remaining}
}

func InsufficientStock(op, productID string, available int) *Error {
	return &Error{Kind: KindInsufficientStock, Op: op, ID: productID, Available: available}
}

func Busy(op string, cause error) *Error { return &Error{Kind: KindBusy, Op: op, Err: cause} }

func Inconsistent(op, id string, cause error) *Error {
	return &Error{Kind: KindInconsistent, Op: op, ID: id, Err: cause}
}

// KindOf returns KindInternal for errors that did not originate in the core.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindInternal
}

// Retryable is true only for lock contention.
func Retryable(err error) bool { return KindOf(err) == KindBusy }

// AsError returns the first *Error in the chain, if any.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
