package arch

import "liftkit/internal/llil"

// DirectJump lifts an unconditional branch to a known address: a GOTO when
// the target has a label in il, a JUMP to a constant otherwise.
func DirectJump(il *llil.Function, addrSize int, target uint64) {
	if l := il.LabelForAddress(target); l != nil {
		il.AddInstruction(il.Goto(l))
		return
	}
	il.AddInstruction(il.Jump(il.Const(addrSize, target)))
}

// ConditionalBranch lifts "if cond goto t else fall through to f". Targets
// without a label get a local label followed by a jump; an unlabelled f is
// placed at the next instruction lifted.
func ConditionalBranch(il *llil.Function, addrSize int, cond llil.ExprIndex, t, f uint64) {
	tl, fl := il.LabelForAddress(t), il.LabelForAddress(f)
	var localT, localF *llil.Label
	if tl == nil {
		localT = llil.NewLabel()
		tl = localT
	}
	if fl == nil {
		localF = llil.NewLabel()
		fl = localF
	}
	il.AddInstruction(il.If(cond, tl, fl))
	if localT != nil {
		il.MarkLabel(localT)
		il.AddInstruction(il.Jump(il.Const(addrSize, t)))
	}
	if localF != nil {
		il.MarkLabel(localF)
	}
}
