package filter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshbridge/internal/config"
	"meshbridge/internal/logger"
	"meshbridge/pkg/models"
)

func newTestEngine(t *testing.T, cfg config.FilteringConfig) *Engine {
	t.Helper()
	cfg.Enabled = true
	e, err := NewEngine(cfg, logger.NopLogger())
	require.NoError(t, err)
	return e
}

func testMessage(from, text string, channel int) models.Message {
	return models.Message{
		ID:         "1",
		SourceLink: "lora0",
		From:       from,
		To:         models.Broadcast,
		Text:       text,
		Channel:    channel,
	}
}

func TestAdmit_Disabled(t *testing.T) {
	e, err := NewEngine(config.FilteringConfig{
		Enabled:        false,
		BlockedSenders: []string{"!bad"},
	}, logger.NopLogger())
	require.NoError(t, err)

	allowed, reason := e.Admit(context.Background(), testMessage("!bad", "hi", 0))
	assert.True(t, allowed)
	assert.Empty(t, reason)

	// Disabled engines do not count.
	assert.Equal(t, uint64(0), e.Stats().TotalChecked)
}

func TestAdmit_DefaultAllow(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{})

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "hello", 0))
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestAdmit_SenderAllowlist(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		AllowedSenders: []string{"!abc123456"},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!stranger", "hi", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonNotInAllowlist, reason)

	allowed, _ = e.Admit(context.Background(), testMessage("!abc123456", "hi", 0))
	assert.True(t, allowed)
}

func TestAdmit_SenderDenylist(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		BlockedSenders: []string{"!bad123456"},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!bad123456", "hi", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonInDenylist, reason)
}

func TestAdmit_ChannelChecks(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		AllowedChannels: []int{0, 1},
		BlockedChannels: []int{1},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "hi", 3))
	assert.False(t, allowed)
	assert.Equal(t, ReasonChannelNotAllowed, reason)

	// Denylist fires even for a channel the allowlist permits.
	allowed, reason = e.Admit(context.Background(), testMessage("!abc123456", "hi", 1))
	assert.False(t, allowed)
	assert.Equal(t, ReasonChannelBlocked, reason)

	allowed, _ = e.Admit(context.Background(), testMessage("!abc123456", "hi", 0))
	assert.True(t, allowed)
}

func TestAdmit_ContentKeywordCaseInsensitive(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		Content: config.ContentFilterConfig{Keywords: []string{"spam"}},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "BUY SPAM now", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonContentMatch, reason)
}

func TestAdmit_ContentRegex(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		Content: config.ContentFilterConfig{RegexPatterns: []string{`https?://\S+`}},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "visit HTTP://evil.example", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonContentMatch, reason)

	allowed, _ = e.Admit(context.Background(), testMessage("!abc123456", "no links here", 0))
	assert.True(t, allowed)
}

func TestAdmit_RulePriorityOrder(t *testing.T) {
	// A high-priority allow keyword outranks a low-priority sender block:
	// an emergency message from a denylisted-by-rule node still goes out.
	e := newTestEngine(t, config.FilteringConfig{
		CustomRules: []config.RuleConfig{
			{Name: "block-bad-node", Kind: "sender", Pattern: "bad123456", Action: "block", Priority: 0},
			{Name: "allow-emergency", Kind: "keyword", Pattern: "EMERGENCY", Action: "allow", Priority: 100},
		},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!bad123456", "EMERGENCY need help", 0))
	assert.True(t, allowed)
	assert.Empty(t, reason)

	allowed, reason = e.Admit(context.Background(), testMessage("!bad123456", "regular chatter", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonRuleMatch, reason)
}

func TestAdmit_ChannelRule(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		CustomRules: []config.RuleConfig{
			{Name: "block-channel-7", Kind: "channel", Pattern: "7", Action: "block", Priority: 10},
		},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "hi", 7))
	assert.False(t, allowed)
	assert.Equal(t, ReasonRuleMatch, reason)

	allowed, _ = e.Admit(context.Background(), testMessage("!abc123456", "hi", 0))
	assert.True(t, allowed)
}

func TestAdmit_ExprRule(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		CustomRules: []config.RuleConfig{
			{Name: "block-long-on-0", Kind: "expr", Pattern: `channel == 0 && text.size() > 10`, Action: "block", Priority: 5},
		},
	})

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "this text is much too long", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonRuleMatch, reason)

	allowed, _ = e.Admit(context.Background(), testMessage("!abc123456", "short", 0))
	assert.True(t, allowed)
}

func TestNewEngine_SkipsBadRules(t *testing.T) {
	// Invalid rules are dropped at load time; the engine comes up with the
	// valid remainder and evaluation never sees a bad pattern.
	e := newTestEngine(t, config.FilteringConfig{
		Content: config.ContentFilterConfig{RegexPatterns: []string{"(unclosed"}},
		CustomRules: []config.RuleConfig{
			{Name: "bad-regex", Kind: "regex", Pattern: "(unclosed", Action: "block"},
			{Name: "bad-channel", Kind: "channel", Pattern: "not-a-number", Action: "block"},
			{Name: "bad-expr", Kind: "expr", Pattern: "text +", Action: "block"},
			{Name: "non-bool-expr", Kind: "expr", Pattern: "text", Action: "block"},
			{Name: "bad-action", Kind: "keyword", Pattern: "x", Action: "maybe"},
			{Name: "", Kind: "keyword", Pattern: "x", Action: "block"},
			{Name: "good", Kind: "keyword", Pattern: "spam", Action: "block", Priority: 1},
		},
	})

	assert.Len(t, e.Rules(), 1)

	allowed, _ := e.Admit(context.Background(), testMessage("!abc123456", "hello (unclosed", 0))
	assert.True(t, allowed)

	allowed, reason := e.Admit(context.Background(), testMessage("!abc123456", "spam here", 0))
	assert.False(t, allowed)
	assert.Equal(t, ReasonRuleMatch, reason)
}

func TestAddRule_RejectsBadRule(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{})

	assert.Error(t, e.AddRule(config.RuleConfig{
		Name: "bad", Kind: "regex", Pattern: "(unclosed", Action: "block",
	}))
	assert.Empty(t, e.Rules())
}

func TestAddRemoveRule(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{})
	msg := testMessage("!abc123456", "contains spam", 0)

	allowed, _ := e.Admit(context.Background(), msg)
	require.True(t, allowed)

	require.NoError(t, e.AddRule(config.RuleConfig{
		Name: "block-spam", Kind: "keyword", Pattern: "spam", Action: "block", Priority: 1,
	}))

	allowed, reason := e.Admit(context.Background(), msg)
	assert.False(t, allowed)
	assert.Equal(t, ReasonRuleMatch, reason)

	// Same name replaces, not duplicates.
	require.NoError(t, e.AddRule(config.RuleConfig{
		Name: "block-spam", Kind: "keyword", Pattern: "other", Action: "block", Priority: 1,
	}))
	assert.Len(t, e.Rules(), 1)

	assert.True(t, e.RemoveRule("block-spam"))
	assert.False(t, e.RemoveRule("block-spam"))

	allowed, _ = e.Admit(context.Background(), msg)
	assert.True(t, allowed)
}

func TestSenderListMutation(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{})
	msg := testMessage("!bad123456", "hi", 0)

	e.AddBlockedSender("!bad123456")
	allowed, reason := e.Admit(context.Background(), msg)
	assert.False(t, allowed)
	assert.Equal(t, ReasonInDenylist, reason)
	assert.Equal(t, []string{"!bad123456"}, e.BlockedSenders())

	assert.True(t, e.RemoveBlockedSender("!bad123456"))
	assert.False(t, e.RemoveBlockedSender("!bad123456"))

	allowed, _ = e.Admit(context.Background(), msg)
	assert.True(t, allowed)
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		BlockedSenders: []string{"!bad123456"},
		Content:        config.ContentFilterConfig{Keywords: []string{"spam"}},
	})

	e.Admit(context.Background(), testMessage("!abc123456", "fine", 0))
	e.Admit(context.Background(), testMessage("!bad123456", "fine", 0))
	e.Admit(context.Background(), testMessage("!abc123456", "spam spam", 0))

	stats := e.Stats()
	assert.Equal(t, uint64(3), stats.TotalChecked)
	assert.Equal(t, uint64(1), stats.TotalAllowed)
	assert.Equal(t, uint64(2), stats.TotalBlocked)
	assert.Equal(t, uint64(1), stats.BlockedByReason[ReasonInDenylist])
	assert.Equal(t, uint64(1), stats.BlockedByReason[ReasonContentMatch])
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	e := newTestEngine(t, config.FilteringConfig{
		Content: config.ContentFilterConfig{Keywords: []string{"spam"}},
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				name := fmt.Sprintf("rule-%d", g)
				e.AddRule(config.RuleConfig{
					Name: name, Kind: "keyword", Pattern: "junk", Action: "block", Priority: g,
				})
				e.Admit(context.Background(), testMessage("!abc123456", "hello there", 0))
				e.RemoveRule(name)
				e.Stats()
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, uint64(400), e.Stats().TotalChecked)
}
