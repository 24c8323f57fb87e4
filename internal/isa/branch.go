package isa

import "fmt"

// BranchType classifies a control transfer or CFG edge.
type BranchType uint8

const (
	UnconditionalBranch BranchType = 0
	FalseBranch         BranchType = 1
	TrueBranch          BranchType = 2
	CallDestination     BranchType = 3
	FunctionReturn      BranchType = 4
	SystemCall          BranchType = 5
	IndirectBranch      BranchType = 6
	ExceptionBranch     BranchType = 7
	UnresolvedBranch    BranchType = 127
)

func (t BranchType) String() string {
	switch t {
	case UnconditionalBranch:
		return "unconditional"
	case FalseBranch:
		return "false"
	case TrueBranch:
		return "true"
	case CallDestination:
		return "call"
	case FunctionReturn:
		return "return"
	case SystemCall:
		return "syscall"
	case IndirectBranch:
		return "indirect"
	case ExceptionBranch:
		return "exception"
	case UnresolvedBranch:
		return "unresolved"
	}
	return fmt.Sprintf("branch(%d)", uint8(t))
}

// HasTarget reports whether a branch of this type carries a target address.
func (t BranchType) HasTarget() bool {
	switch t {
	case UnconditionalBranch, FalseBranch, TrueBranch, CallDestination, IndirectBranch:
		return true
	}
	return false
}
