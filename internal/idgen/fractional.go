package idgen

// Fractional ordering tokens are opaque, lexicographically-sortable strings
// used for folder node ordering and edgeless layer indices. The alphabet is deliberately narrow (lowercase a-z) so that
// "increment the last character" and "midpoint between two strings" are
// both simple, total operations within it.
const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz"

const tokenAlphabetLen = len(tokenAlphabet)

// FirstToken returns the starting token for an empty ordering scope.
func FirstToken() string {
	return "m"
}

// NextToken returns a token strictly greater than max, for appending to the
// end of an ordering scope: take the maximum existing token and
// increment its last character.
func NextToken(max string) string {
	if max == "" {
		return FirstToken()
	}
	runes := []byte(max)
	last := runes[len(runes)-1]
	idx := indexOf(last)
	if idx < tokenAlphabetLen-1 {
		runes[len(runes)-1] = tokenAlphabet[idx+1]
		return string(runes)
	}
	// last char is already 'z': extend rather than wrap, to guarantee the
	// result still sorts strictly after max (any proper extension of a
	// string sorts after it).
	return max + "m"
}

// BetweenTokens computes a token that sorts strictly between a and b
// (a < b, either may be empty meaning "no bound"). Used for insert-between
// callers.
func BetweenTokens(a, b string) string {
	switch {
	case a == "" && b == "":
		return FirstToken()
	case a == "":
		return before(b)
	case b == "":
		return NextToken(a)
	case a >= b:
		// Degenerate input; fall back to appending after a with a random
		// suffix so the result is never visibly wrong even if the caller's
		// bounds were swapped or equal.
		return NextToken(a) + string(randomSuffixChar())
	default:
		return betweenFrom(a, b, 0)
	}
}

// betweenFrom builds, character by character from position i, a token that
// sorts strictly between a and b given that a[:i] == b[:i].
func betweenFrom(a, b string, i int) string {
	ca, aok := charAt(a, i)
	cb, bok := charAt(b, i)

	switch {
	case aok && bok:
		ia, ib := indexOf(ca), indexOf(cb)
		if ia == ib {
			return string(ca) + betweenFrom(a, b, i+1)
		}
		if ib-ia >= 2 {
			mid := ia + (ib-ia)/2
			return string(tokenAlphabet[mid])
		}
		// Adjacent digits (ib == ia+1): match a's digit here, then go one
		// step past whatever a's own tail does, staying under b because b
		// already diverges upward at this position.
		return string(ca) + afterTail(a, i+1)

	case !aok && bok:
		// a ended here (a is a proper prefix of b so far). If b's digit
		// has room below it, the midpoint digit between the minimum and b's
		// digit both extends past a and stays under b, and we can stop.
		ib := indexOf(cb)
		if ib > 1 {
			return string(tokenAlphabet[ib/2])
		}
		if ib == 1 {
			// Only the minimum digit fits below b's; follow it with the
			// middle digit so the token never ends in the minimum, which
			// would leave no room below it for a later insert.
			return string(tokenAlphabet[0]) + string(tokenAlphabet[tokenAlphabetLen/2])
		}
		// b's digit here is the alphabet minimum: no room, match it and
		// keep going deeper.
		return string(cb) + betweenFrom(a, b, i+1)

	default:
		// Both ended (a == b) or a is longer than b — neither is valid for
		// a < b input, but terminate safely rather than recursing forever.
		return string(tokenAlphabet[tokenAlphabetLen/2])
	}
}

// afterTail returns a suffix that is strictly greater than a[i:], used when
// the result must share a's prefix through i but still exceed a itself.
func afterTail(a string, i int) string {
	c, ok := charAt(a, i)
	if !ok {
		return string(tokenAlphabet[tokenAlphabetLen/2])
	}
	idx := indexOf(c)
	if idx < tokenAlphabetLen-1 {
		return string(tokenAlphabet[idx+1])
	}
	return string(c) + afterTail(a, i+1)
}

// before returns a token strictly less than b, with no lower bound to
// respect.
func before(b string) string {
	if b == "" {
		return FirstToken()
	}
	first := b[0]
	idx := indexOf(first)
	if idx > 0 {
		return string(tokenAlphabet[idx/2])
	}
	return string(tokenAlphabet[0]) + before(b[1:])
}

func charAt(s string, i int) (byte, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return s[i], true
}

func indexOf(c byte) int {
	for i := 0; i < tokenAlphabetLen; i++ {
		if tokenAlphabet[i] == c {
			return i
		}
	}
	return 0
}
