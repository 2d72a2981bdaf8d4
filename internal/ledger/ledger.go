// Package ledger implements the compact append-only guess log carried by
// every player and team. Each mark is a single rune; terminal marks end a
// player's participation for the session and appear at most once.
package ledger

import "strings"

const (
	MarkCorrect   = '✔'
	MarkIncorrect = '❌'
	MarkPartial   = '💡'
	MarkTimeout   = '⏱'

	MarkWin       = '✌'
	MarkBigWin    = '👑'
	MarkDead      = '💀'
	MarkSurrender = '🏳'
	MarkTeamWin   = '🏆'
)

// terminalMarks end a session for their holder. MarkTimeout consumes an
// attempt but is not terminal.
var terminalMarks = []rune{MarkWin, MarkBigWin, MarkDead, MarkSurrender, MarkTeamWin}

// Ended reports whether the ledger contains any terminal mark.
func Ended(l string) bool {
	return strings.ContainsAny(l, string(terminalMarks))
}

// Strip returns the ledger with all terminal marks removed.
func Strip(l string) string {
	return strings.Map(func(r rune) rune {
		for _, t := range terminalMarks {
			if r == t {
				return -1
			}
		}
		return r
	}, l)
}

// Attempts counts the attempt-consuming marks in the ledger. Terminal marks
// do not consume attempts.
func Attempts(l string) int {
	return len([]rune(Strip(l)))
}

// Has reports whether the ledger contains the given mark.
func Has(l string, mark rune) bool {
	return strings.ContainsRune(l, mark)
}

// Append adds a mark to the ledger. Terminal marks are appended at most
// once; appending a terminal mark that is already present is a no-op.
func Append(l string, mark rune) string {
	for _, t := range terminalMarks {
		if mark == t && strings.ContainsRune(l, mark) {
			return l
		}
	}
	return l + string(mark)
}

// Last returns the final mark of the ledger, or 0 when empty.
func Last(l string) rune {
	r := []rune(l)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
