package chain

import (
	"errors"
	"fmt"
	"strings"
)

// RevertCode is a machine-checkable classification of an on-chain
// rejection. Keeper policies branch on the code, never on the raw reason
// string; reason-string matching happens once, at the client boundary.
type RevertCode int

const (
	RevertUnknown RevertCode = iota
	RevertNotDue
	RevertAlreadySatisfied
	RevertNoEligibleWork
	RevertNotLiquidatable
	RevertTriggerNotReached
)

func (c RevertCode) String() string {
	switch c {
	case RevertNotDue:
		return "not_due"
	case RevertAlreadySatisfied:
		return "already_satisfied"
	case RevertNoEligibleWork:
		return "no_eligible_work"
	case RevertNotLiquidatable:
		return "not_liquidatable"
	case RevertTriggerNotReached:
		return "trigger_not_reached"
	default:
		return "unknown"
	}
}

// RevertError is an on-chain rejection surfaced by the chain client.
type RevertError struct {
	Code   RevertCode
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted (%s): %s", e.Code, e.Reason)
}

// AsRevert unwraps err into a *RevertError if it is one.
func AsRevert(err error) (*RevertError, bool) {
	var re *RevertError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsBenignRevert reports whether err is an expected on-chain rejection:
// the ledger telling us the work is not (or no longer) there. Policies
// suppress these entirely.
func IsBenignRevert(err error) bool {
	re, ok := AsRevert(err)
	if !ok {
		return false
	}
	switch re.Code {
	case RevertNotDue, RevertAlreadySatisfied, RevertNoEligibleWork,
		RevertNotLiquidatable, RevertTriggerNotReached:
		return true
	default:
		return false
	}
}

// reasonClassifiers maps ledger program revert reasons onto codes. This is
// the only place in the repository that inspects reason strings.
var reasonClassifiers = []struct {
	substr string
	code   RevertCode
}{
	{"not yet due", RevertNotDue},
	{"cooldown", RevertNotDue},
	{"too early", RevertNotDue},
	{"already satisfied", RevertAlreadySatisfied},
	{"already executed", RevertAlreadySatisfied},
	{"already triggered", RevertAlreadySatisfied},
	{"no eligible", RevertNoEligibleWork},
	{"nothing to execute", RevertNoEligibleWork},
	{"order not active", RevertNoEligibleWork},
	{"not liquidatable", RevertNotLiquidatable},
	{"sufficient margin", RevertNotLiquidatable},
	{"trigger not reached", RevertTriggerNotReached},
	{"price condition", RevertTriggerNotReached},
}

// classifyRevert builds a RevertError from a raw revert reason string.
func classifyRevert(reason string) *RevertError {
	lower := strings.ToLower(reason)
	for _, rc := range reasonClassifiers {
		if strings.Contains(lower, rc.substr) {
			return &RevertError{Code: rc.code, Reason: reason}
		}
	}
	return &RevertError{Code: RevertUnknown, Reason: reason}
}
