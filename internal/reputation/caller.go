package reputation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Caller identifies who is invoking a mutating operation.
type Caller struct {
	Address common.Address `json:"address"`
}

// Operation names a gated engine operation.
type Operation string

const (
	OpRegister       Operation = "register"
	OpRecordActivity Operation = "record_activity"
	OpAssess         Operation = "assess"
)

// Gate decides whether caller may run op against user. It returns
// ErrNotAuthorized or ErrSystemPaused (possibly wrapped) to refuse.
type Gate interface {
	Check(ctx context.Context, caller Caller, op Operation, user common.Address) error
}

// AllowAll is a Gate that admits every call. Useful for tests and
// single-tenant embedding where the host already filters callers.
type AllowAll struct{}

func (AllowAll) Check(context.Context, Caller, Operation, common.Address) error { return nil }
