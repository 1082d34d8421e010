package meeting

import "strings"

// Signal is the classified intent of one leader turn.
type Signal int

const (
	// SignalAmbiguous means no detector matched; the round must not treat
	// silence or vagueness as approval.
	SignalAmbiguous Signal = iota
	// SignalAgree is a generic approval.
	SignalAgree
	// SignalDefer asks to wait or gather more information.
	SignalDefer
	// SignalBlock is an explicit objection.
	SignalBlock
)

// Detector phrase lists are checked strongest-first: an explicit block
// outranks a deferral, a deferral outranks agreement, so a turn like
// "looks good overall but I have to block on the schema change" blocks.
var (
	blockPhrases = []string{
		"i block", "must block", "have to block", "blocking this",
		"cannot approve", "can't approve", "do not approve", "don't approve",
		"reject", "veto", "strongly object", "must not proceed",
		"serious concern", "major concern", "this is broken",
	}
	deferPhrases = []string{
		"defer", "hold off", "let's wait", "lets wait", "need more time",
		"need more information", "need more context", "not sure yet",
		"come back to this", "revisit", "put this on hold", "table this",
		"too early to say",
	}
	agreePhrases = []string{
		"approve", "approved", "lgtm", "looks good", "ship it", "agreed",
		"i agree", "sounds good", "go ahead", "no objections", "no concerns",
		"sign off", "signing off", "green light", "works for me",
	}
)

// ClassifyTurn maps a leader's natural-language meeting turn to a signal.
// Matching is case-insensitive substring search over the whole turn.
func ClassifyTurn(text string) Signal {
	t := strings.ToLower(text)
	for _, p := range blockPhrases {
		if strings.Contains(t, p) {
			return SignalBlock
		}
	}
	for _, p := range deferPhrases {
		if strings.Contains(t, p) {
			return SignalDefer
		}
	}
	for _, p := range agreePhrases {
		if strings.Contains(t, p) {
			return SignalAgree
		}
	}
	return SignalAmbiguous
}

// decisionFor converts a turn signal into the seat decision recorded in the
// presence table. An ambiguous turn leaves the seat in reviewing; it never
// counts as approval.
func decisionFor(s Signal) Decision {
	switch s {
	case SignalAgree:
		return DecisionApproved
	case SignalBlock, SignalDefer:
		return DecisionHold
	default:
		return DecisionReviewing
	}
}
