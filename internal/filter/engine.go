package filter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"meshbridge/internal/config"
	"meshbridge/internal/logger"
	celpkg "meshbridge/pkg/cel"
	"meshbridge/pkg/metrics"
	"meshbridge/pkg/models"
)

// Engine decides whether a message may be forwarded. Checks run in a
// fixed order; the first one that fires decides:
//
//  1. sender allowlist (non-empty list means everyone else is blocked)
//  2. sender denylist
//  3. channel allowlist
//  4. channel denylist
//  5. content keywords and regex patterns
//  6. custom rules, highest priority first
//
// A message that survives all six is admitted.
type Engine struct {
	enabled bool

	mu              sync.RWMutex
	allowedSenders  map[string]struct{}
	blockedSenders  map[string]struct{}
	allowedChannels map[int]struct{}
	blockedChannels map[int]struct{}
	keywords        []string
	patterns        []*regexp.Regexp
	rules           []*Rule

	statsMu      sync.Mutex
	totalChecked uint64
	totalAllowed uint64
	totalBlocked uint64
	blockedBy    map[string]uint64

	evaluator *celpkg.Evaluator
	logger    logger.Logger
}

func NewEngine(cfg config.FilteringConfig, log logger.Logger) (*Engine, error) {
	evaluator, err := celpkg.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule evaluator: %w", err)
	}

	e := &Engine{
		enabled:         cfg.Enabled,
		allowedSenders:  make(map[string]struct{}, len(cfg.AllowedSenders)),
		blockedSenders:  make(map[string]struct{}, len(cfg.BlockedSenders)),
		allowedChannels: make(map[int]struct{}, len(cfg.AllowedChannels)),
		blockedChannels: make(map[int]struct{}, len(cfg.BlockedChannels)),
		blockedBy:       make(map[string]uint64),
		evaluator:       evaluator,
		logger:          log,
	}

	for _, s := range cfg.AllowedSenders {
		e.allowedSenders[s] = struct{}{}
	}
	for _, s := range cfg.BlockedSenders {
		e.blockedSenders[s] = struct{}{}
	}
	for _, ch := range cfg.AllowedChannels {
		e.allowedChannels[ch] = struct{}{}
	}
	for _, ch := range cfg.BlockedChannels {
		e.blockedChannels[ch] = struct{}{}
	}

	for _, kw := range cfg.Content.Keywords {
		e.keywords = append(e.keywords, strings.ToLower(kw))
	}
	// Bad patterns are rejected here, never on the evaluation path: the
	// offending entry is logged and skipped, the rest of the config loads.
	for _, pattern := range cfg.Content.RegexPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			log.Warnw("Skipping invalid content regex pattern",
				"pattern", pattern,
				"error", err,
			)
			continue
		}
		e.patterns = append(e.patterns, re)
	}

	for _, rc := range cfg.CustomRules {
		rule, err := e.parseRule(rc)
		if err != nil {
			log.Warnw("Skipping invalid custom rule",
				"rule", rc.Name,
				"error", err,
			)
			continue
		}
		e.rules = append(e.rules, rule)
	}
	sortRules(e.rules)

	metrics.SetFilterActiveRules(len(e.rules))

	if e.enabled {
		log.Infow("Filter engine initialized",
			"allowed_senders", len(e.allowedSenders),
			"blocked_senders", len(e.blockedSenders),
			"keywords", len(e.keywords),
			"regex_patterns", len(e.patterns),
			"custom_rules", len(e.rules),
		)
	}

	return e, nil
}

func (e *Engine) Enabled() bool {
	return e.enabled
}

// Admit reports whether msg may be forwarded. The second return value is
// the block reason, empty when admitted. Evaluation never fails: a rule
// whose expression errors at runtime is skipped and logged.
func (e *Engine) Admit(ctx context.Context, msg models.Message) (bool, string) {
	if !e.enabled {
		return true, ""
	}

	allowed, reason := e.evaluate(ctx, msg)
	e.count(allowed, reason)

	if !allowed {
		e.logger.DebugwCtx(ctx, "Message blocked by filter",
			"reason", reason,
			"from", msg.From,
			"channel", msg.Channel,
		)
	}
	return allowed, reason
}

func (e *Engine) evaluate(ctx context.Context, msg models.Message) (bool, string) {
	e.mu.RLock()

	if len(e.allowedSenders) > 0 {
		if _, ok := e.allowedSenders[msg.From]; !ok {
			e.mu.RUnlock()
			return false, ReasonNotInAllowlist
		}
	}

	if _, ok := e.blockedSenders[msg.From]; ok {
		e.mu.RUnlock()
		return false, ReasonInDenylist
	}

	if len(e.allowedChannels) > 0 {
		if _, ok := e.allowedChannels[msg.Channel]; !ok {
			e.mu.RUnlock()
			return false, ReasonChannelNotAllowed
		}
	}

	if _, ok := e.blockedChannels[msg.Channel]; ok {
		e.mu.RUnlock()
		return false, ReasonChannelBlocked
	}

	textLower := strings.ToLower(msg.Text)
	for _, kw := range e.keywords {
		if strings.Contains(textLower, kw) {
			e.mu.RUnlock()
			return false, ReasonContentMatch
		}
	}
	for _, re := range e.patterns {
		if re.MatchString(msg.Text) {
			e.mu.RUnlock()
			return false, ReasonContentMatch
		}
	}

	// Snapshot the rule list so a concurrent AddRule/RemoveRule never
	// mutates the slice mid-evaluation.
	rules := make([]*Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	for _, rule := range rules {
		matched, err := e.ruleMatches(ctx, rule, msg, textLower)
		if err != nil {
			e.logger.WarnwCtx(ctx, "Rule evaluation failed, skipping rule",
				"rule", rule.Name,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}
		if rule.Action == ActionAllow {
			return true, ""
		}
		return false, ReasonRuleMatch
	}

	return true, ""
}

func (e *Engine) ruleMatches(ctx context.Context, rule *Rule, msg models.Message, textLower string) (bool, error) {
	switch rule.Kind {
	case KindKeyword:
		return strings.Contains(textLower, strings.ToLower(rule.Pattern)), nil
	case KindRegex:
		return rule.re.MatchString(msg.Text), nil
	case KindSender:
		return strings.Contains(msg.From, rule.Pattern), nil
	case KindChannel:
		return msg.Channel == rule.channel, nil
	case KindExpr:
		return e.evaluator.EvaluateFilter(ctx, rule.prog, msg)
	default:
		return false, fmt.Errorf("unknown rule kind: %s", rule.Kind)
	}
}

// AddRule compiles and installs a rule at runtime. A rule with the same
// name replaces the existing one.
func (e *Engine) AddRule(rc config.RuleConfig) error {
	rule, err := e.parseRule(rc)
	if err != nil {
		return err
	}

	e.mu.Lock()
	replaced := false
	for i, existing := range e.rules {
		if existing.Name == rule.Name {
			e.rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		e.rules = append(e.rules, rule)
	}
	sortRules(e.rules)
	count := len(e.rules)
	e.mu.Unlock()

	metrics.SetFilterActiveRules(count)
	e.logger.Infow("Filter rule installed",
		"rule", rule.Name,
		"kind", rule.Kind,
		"action", rule.Action,
		"priority", rule.Priority,
	)
	return nil
}

// RemoveRule removes the named rule. Returns false when no such rule
// exists.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	found := false
	for i, rule := range e.rules {
		if rule.Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			found = true
			break
		}
	}
	count := len(e.rules)
	e.mu.Unlock()

	if found {
		metrics.SetFilterActiveRules(count)
		e.logger.Infow("Filter rule removed", "rule", name)
	}
	return found
}

// Rules returns a copy of the installed rules, highest priority first.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, *rule)
	}
	return out
}

func (e *Engine) AddBlockedSender(node string) {
	e.mu.Lock()
	e.blockedSenders[node] = struct{}{}
	e.mu.Unlock()
	e.logger.Infow("Sender added to denylist", "node", node)
}

func (e *Engine) RemoveBlockedSender(node string) bool {
	e.mu.Lock()
	_, ok := e.blockedSenders[node]
	delete(e.blockedSenders, node)
	e.mu.Unlock()

	if ok {
		e.logger.Infow("Sender removed from denylist", "node", node)
	}
	return ok
}

func (e *Engine) AddAllowedSender(node string) {
	e.mu.Lock()
	e.allowedSenders[node] = struct{}{}
	e.mu.Unlock()
	e.logger.Infow("Sender added to allowlist", "node", node)
}

func (e *Engine) RemoveAllowedSender(node string) bool {
	e.mu.Lock()
	_, ok := e.allowedSenders[node]
	delete(e.allowedSenders, node)
	e.mu.Unlock()

	if ok {
		e.logger.Infow("Sender removed from allowlist", "node", node)
	}
	return ok
}

func (e *Engine) BlockedSenders() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedKeys(e.blockedSenders)
}

func (e *Engine) AllowedSenders() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedKeys(e.allowedSenders)
}

// Stats returns cumulative admission counters. Counters live behind
// their own mutex so reading them never blocks evaluation.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	byReason := make(map[string]uint64, len(e.blockedBy))
	for reason, n := range e.blockedBy {
		byReason[reason] = n
	}
	return Stats{
		TotalChecked:    e.totalChecked,
		TotalAllowed:    e.totalAllowed,
		TotalBlocked:    e.totalBlocked,
		BlockedByReason: byReason,
	}
}

func (e *Engine) count(allowed bool, reason string) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.totalChecked++
	if allowed {
		e.totalAllowed++
		return
	}
	e.totalBlocked++
	e.blockedBy[reason]++
}

func (e *Engine) parseRule(rc config.RuleConfig) (*Rule, error) {
	if rc.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}

	rule := &Rule{
		Name:     rc.Name,
		Kind:     Kind(strings.ToLower(rc.Kind)),
		Pattern:  rc.Pattern,
		Action:   Action(strings.ToLower(rc.Action)),
		Priority: rc.Priority,
	}

	if rule.Action != ActionAllow && rule.Action != ActionBlock {
		return nil, fmt.Errorf("unknown rule action: %s", rc.Action)
	}

	switch rule.Kind {
	case KindKeyword, KindSender:
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule pattern is required")
		}
	case KindRegex:
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		rule.re = re
	case KindChannel:
		ch, err := strconv.Atoi(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("channel rule pattern must be an integer: %w", err)
		}
		rule.channel = ch
	case KindExpr:
		prog, err := e.evaluator.CompileFilter(rule.Pattern)
		if err != nil {
			return nil, err
		}
		rule.prog = prog
	default:
		return nil, fmt.Errorf("unknown rule kind: %s", rc.Kind)
	}

	return rule, nil
}

func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
