package mode

import "strings"

// Judge selects the relevance judge strategy.
type Judge string

// Judge mode constants.
const (
	// Real scores passages with the cross-encoder service.
	Real  Judge = "real"
	Proxy Judge = "proxy"
	Off   Judge = "off"
)

// IsValid checks if the judge mode is one of the supported values.
func (m Judge) IsValid() bool {
	return m == Real || m == Proxy || m == Off
}

// ParseJudge normalizes a user supplied judge mode. Empty input yields "".
func ParseJudge(s string) (Judge, bool) {
	m := Judge(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return "", true
	}
	return m, m.IsValid()
}

// Sort is the display ordering preference for returned hits.
type Sort string

// Sort preference constants.
const (
	Best     Sort = "best"
	Semantic Sort = "semantic"
	Lexical  Sort = "lexical"
)

// ParseSort maps loose labels ("Semantic first", "lex") onto a Sort value.
func ParseSort(s string) Sort {
	l := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(l, "sem"):
		return Semantic
	case strings.HasPrefix(l, "lex"), strings.HasPrefix(l, "key"):
		return Lexical
	default:
		return Best
	}
}
