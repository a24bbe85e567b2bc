package recipient

// Window is a funding round's time range in chain seconds. A zero bound is
// unset and disables the rule that depends on it.
type Window struct {
	Start uint64
	End   uint64
}

// Removal is the removal event known for a recipient.
type Removal struct {
	RecipientID string
	At          uint64
}

// Flags are the derived round state of a recipient. Both may be set;
// hidden wins for display.
type Flags struct {
	Hidden bool
	Locked bool
}

// Evaluate derives flags for a recipient added at addedAt, given its removal
// (nil if never removed) and the round window.
func Evaluate(addedAt uint64, removal *Removal, w Window) Flags {
	var f Flags
	if w.End != 0 && addedAt >= w.End {
		// registered after the round closed
		f.Hidden = true
	}
	if removal == nil {
		return f
	}
	if w.Start == 0 || removal.At <= w.Start {
		f.Hidden = true
	} else {
		// valid for part of the round: listed but closed to contributions
		f.Locked = true
	}
	return f
}

// LookupFlags is the rule applied to a single-recipient lookup: any removal
// locks the recipient and nothing hides it. It ignores the round window,
// unlike Evaluate.
func LookupFlags(removal *Removal) Flags {
	return Flags{Locked: removal != nil}
}
