package valueprop

// Join merges the facts of two incoming paths. It is commutative, Join(v, v)
// is v, and anything joined with Undetermined is Undetermined. Only
// constants and ranges that together form one contiguous range merge into
// something other than Undetermined.
func Join(a, b Value) Value {
	if a.Equal(b) {
		return a
	}
	if a.IsUndetermined() || b.IsUndetermined() {
		return Undetermined()
	}
	switch {
	case a.IsConstant() && b.IsConstant():
		lo, hi := a.Offset, b.Offset
		if lo > hi {
			lo, hi = hi, lo
		}
		if uint64(hi)-uint64(lo) != 1 {
			return Undetermined()
		}
		if lo >= 0 {
			return UnsignedRange(uint64(lo), uint64(hi), 1)
		}
		return SignedRange(lo, hi, 1)
	case a.IsRange() && b.IsConstant():
		return extend(a, b.Offset)
	case a.IsConstant() && b.IsRange():
		return extend(b, a.Offset)
	case a.IsRange() && a.Kind == b.Kind && a.Step == b.Step:
		return union(a, b)
	}
	return Undetermined()
}

// extend adds c to range r when c is a member or adjacent to either end.
func extend(r Value, c int64) Value {
	step := r.Step
	if r.Kind == SignedRangeValue {
		s, e := int64(r.Start), int64(r.End)
		switch {
		case c >= s && c <= e && uint64(c-s)%step == 0:
			return r
		case c < s && uint64(s-c) == step:
			return SignedRange(c, e, step)
		case c > e && uint64(c-e) == step:
			return SignedRange(s, c, step)
		}
		return Undetermined()
	}
	if c < 0 {
		return Undetermined()
	}
	u := uint64(c)
	switch {
	case u >= r.Start && u <= r.End && (u-r.Start)%step == 0:
		return r
	case u < r.Start && r.Start-u == step:
		return UnsignedRange(u, r.End, step)
	case u > r.End && u-r.End == step:
		return UnsignedRange(r.Start, u, step)
	}
	return Undetermined()
}

// union merges two ranges of the same kind and step that overlap or touch
// and lie on the same stride.
func union(a, b Value) Value {
	step := a.Step
	if a.Kind == SignedRangeValue {
		as, ae, bs, be := int64(a.Start), int64(a.End), int64(b.Start), int64(b.End)
		if as > bs {
			as, ae, bs, be = bs, be, as, ae
		}
		if uint64(bs-as)%step != 0 || bs > ae && uint64(bs-ae) > step {
			return Undetermined()
		}
		return SignedRange(as, max(ae, be), step)
	}
	as, ae, bs, be := a.Start, a.End, b.Start, b.End
	if as > bs {
		as, ae, bs, be = bs, be, as, ae
	}
	if (bs-as)%step != 0 || bs > ae && bs-ae > step {
		return Undetermined()
	}
	return UnsignedRange(as, max(ae, be), step)
}
