package filter

import (
	"regexp"

	"github.com/google/cel-go/cel"
)

type Kind string

const (
	KindKeyword Kind = "keyword"
	KindRegex   Kind = "regex"
	KindSender  Kind = "sender"
	KindChannel Kind = "channel"
	KindExpr    Kind = "expr"
)

type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Block reasons surfaced by Admit and counted in the stats breakdown.
const (
	ReasonNotInAllowlist    = "not_in_allowlist"
	ReasonInDenylist        = "in_denylist"
	ReasonChannelNotAllowed = "channel_not_allowed"
	ReasonChannelBlocked    = "channel_blocked"
	ReasonContentMatch      = "content_match"
	ReasonRuleMatch         = "rule_match"
)

// Rule is a custom admission rule. Rules are immutable after load; the
// compiled forms (re, prog, channel) are built once when the rule is
// parsed, never on the evaluation path.
type Rule struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Pattern  string `json:"pattern"`
	Action   Action `json:"action"`
	Priority int    `json:"priority"`

	re      *regexp.Regexp
	prog    cel.Program
	channel int
}

type Stats struct {
	TotalChecked    uint64            `json:"total_checked"`
	TotalAllowed    uint64            `json:"total_allowed"`
	TotalBlocked    uint64            `json:"total_blocked"`
	BlockedByReason map[string]uint64 `json:"blocked_by_reason"`
}
