// ABOUTME: Cuts replies to the channel size limit at a nearby line boundary
// ABOUTME: Counts runes so multi-byte text never splits inside a character

package format

// MaxMessageLength is the WhatsApp text message limit.
const MaxMessageLength = 4096

// TruncationNotice is appended to every truncated reply.
const TruncationNotice = "\n\n... (response truncated)"

const (
	// reserve is the room kept free at the end for the notice.
	reserve = 50
	// lookback bounds how far before the limit a line break may be used.
	lookback = 200
)

// Truncate returns text unchanged when it fits in maxLength runes. Otherwise
// it keeps a prefix, cut at the last newline if that newline lies within
// lookback of maxLength, and appends TruncationNotice. The result never
// exceeds maxLength runes; a limit shorter than the notice itself gets a
// plain hard cut.
func Truncate(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	if maxLength <= 0 {
		return ""
	}

	notice := []rune(TruncationNotice)
	if maxLength < len(notice) {
		return string(runes[:maxLength])
	}

	keep := maxLength - reserve
	if keep < 0 {
		keep = maxLength - len(notice)
	}
	truncated := runes[:keep]

	cut := len(truncated)
	if nl := lastNewline(truncated); nl > 0 && nl > maxLength-lookback {
		cut = nl
	}

	return string(truncated[:cut]) + TruncationNotice
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
