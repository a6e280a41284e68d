package response

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/nba"
)

var now = time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)

func engagedLead() *leads.ConversationContext {
	lc := leads.NewContext("lead-1", now.Add(-time.Hour))
	lc.State = leads.StateEngaged
	lc.Profile = leads.Profile{Name: "Dana Smith", Phone: "+13125550100"}
	lc.LastOutboundAt = now.Add(-2 * time.Hour)
	lc.AppendHistory(leads.HistoryEntry{Direction: leads.Outbound, Channel: leads.ChannelSMS, Text: "Are you still looking?", At: now.Add(-2 * time.Hour)}, 50)
	lc.AppendHistory(leads.HistoryEntry{Direction: leads.Inbound, Channel: leads.ChannelSMS, Text: "Yes, can I see the house Saturday?", At: now}, 50)
	return lc
}

func showing() (nba.Action, intent.Detected) {
	return nba.Action{Kind: nba.ReplyNow, Priority: 50, Goal: nba.GoalScheduleShowing},
		intent.Detected{Intent: intent.ShowingRequest, Confidence: 0.9}
}

func TestPipelineUsesGeneratedDraft(t *testing.T) {
	p := NewPipeline(StaticGenerator{Text: "Saturday works! Morning or afternoon?"}, Options{})
	action, det := showing()

	out := p.Generate(context.Background(), engagedLead(), action, det)
	require.NoError(t, out.Error)
	assert.Equal(t, SourceGenerated, out.Source)
	assert.Equal(t, "Saturday works! Morning or afternoon?", out.Text)
	assert.Equal(t, leads.ChannelSMS, out.Channel)
	assert.Equal(t, intent.ShowingRequest, out.DetectedIntent)
	assert.Equal(t, leads.StateEngaged, out.NewState)
	assert.False(t, out.ShouldHandoff)
}

func TestPipelineFallsBackOnTimeout(t *testing.T) {
	hang := GeneratorFunc(func(ctx context.Context, _ Prompt, _ Constraints) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	p := NewPipeline(hang, Options{Timeout: 20 * time.Millisecond})
	action, det := showing()

	out := p.Generate(context.Background(), engagedLead(), action, det)
	require.NoError(t, out.Error)
	assert.Equal(t, SourceFallback, out.Source)
	assert.True(t, errors.Is(out.FallbackReason, ErrGenerationTimeout))
	assert.Contains(t, out.Text, "showing")
}

func TestPipelineAbandonsGeneratorIgnoringCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := GeneratorFunc(func(context.Context, Prompt, Constraints) (string, error) {
		<-release
		return "too late", nil
	})
	p := NewPipeline(stuck, Options{Timeout: 20 * time.Millisecond})
	action, det := showing()

	start := time.Now()
	out := p.Generate(context.Background(), engagedLead(), action, det)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceFallback, out.Source)
	assert.True(t, errors.Is(out.FallbackReason, ErrGenerationTimeout))
}

func TestPipelineFallsBackOnInvalidDraft(t *testing.T) {
	tests := []struct {
		name  string
		draft string
		want  error
	}{
		{"empty", "  ", ErrEmptyDraft},
		{"too long", strings.Repeat("word ", 100), ErrDraftTooLong},
		{"placeholder", "Hi [Name]!", ErrUnfilledMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(StaticGenerator{Text: tt.draft}, Options{})
			if strings.TrimSpace(tt.draft) == "" {
				p = NewPipeline(GeneratorFunc(func(context.Context, Prompt, Constraints) (string, error) { return tt.draft, nil }), Options{})
			}
			action, det := showing()
			out := p.Generate(context.Background(), engagedLead(), action, det)
			require.NoError(t, out.Error)
			assert.Equal(t, SourceFallback, out.Source)
			assert.True(t, errors.Is(out.FallbackReason, ErrGenerationInvalid))
			assert.True(t, errors.Is(out.FallbackReason, tt.want))
		})
	}
}

func TestPipelineFallsBackOnGeneratorError(t *testing.T) {
	p := NewPipeline(GeneratorFunc(func(context.Context, Prompt, Constraints) (string, error) {
		return "", errors.New("throttled")
	}), Options{})
	action, det := showing()
	out := p.Generate(context.Background(), engagedLead(), action, det)
	assert.Equal(t, SourceFallback, out.Source)
	assert.True(t, errors.Is(out.FallbackReason, ErrGenerationFailed))
}

func TestPipelineSuppressNeverCallsGenerator(t *testing.T) {
	var calls atomic.Int32
	p := NewPipeline(GeneratorFunc(func(context.Context, Prompt, Constraints) (string, error) {
		calls.Add(1)
		return "hi", nil
	}), Options{})

	out := p.Generate(context.Background(), engagedLead(), nba.Action{Kind: nba.Suppress}, intent.Detected{Intent: intent.OptOut})
	assert.ErrorIs(t, out.Error, ErrSuppressed)
	assert.Empty(t, out.Text)
	assert.Equal(t, SourceNone, out.Source)
	assert.Zero(t, calls.Load())
}

func TestPipelineTemplatesForEscalateAndSchedule(t *testing.T) {
	var calls atomic.Int32
	p := NewPipeline(GeneratorFunc(func(context.Context, Prompt, Constraints) (string, error) {
		calls.Add(1)
		return "hi", nil
	}), Options{Brand: "Lakeview Realty"})
	lc := engagedLead()

	out := p.Generate(context.Background(), lc, nba.Action{Kind: nba.Escalate, Goal: nba.GoalHandoff}, intent.Detected{Intent: intent.AgentRequest})
	assert.Equal(t, SourceTemplate, out.Source)
	assert.True(t, out.ShouldHandoff)
	assert.Contains(t, out.Text, "Lakeview Realty")
	assert.Contains(t, out.Text, "Dana")

	due := time.Date(2026, time.April, 6, 9, 0, 0, 0, time.UTC)
	out = p.Generate(context.Background(), lc, nba.Action{Kind: nba.ScheduleFollowup, Goal: nba.GoalConfirmFollowup, DueAt: due}, intent.Detected{Intent: intent.DeferredFollowup})
	assert.Equal(t, SourceTemplate, out.Source)
	assert.Contains(t, out.Text, "Monday, April 6")
	assert.Zero(t, calls.Load())
}

func TestPipelineAddsOptOutFooterToFirstSMS(t *testing.T) {
	p := NewPipeline(StaticGenerator{Text: "Hi Dana, still looking for a home?"}, Options{})
	lc := leads.NewContext("lead-2", now)
	lc.Profile.Phone = "+13125550100"

	out := p.Generate(context.Background(), lc, nba.Action{Kind: nba.ReplyNow, Goal: nba.GoalReengage}, intent.Detected{})
	assert.Equal(t, "Hi Dana, still looking for a home? "+OptOutFooter, out.Text)
	assert.LessOrEqual(t, len([]rune(out.Text)), p.Limit(leads.ChannelSMS))

	lc.Profile = leads.Profile{Email: "dana@example.com"}
	out = p.Generate(context.Background(), lc, nba.Action{Kind: nba.ReplyNow, Goal: nba.GoalReengage}, intent.Detected{})
	assert.Equal(t, leads.ChannelEmail, out.Channel)
	assert.NotContains(t, out.Text, OptOutFooter)
}

func TestPipelineLimitsPerChannel(t *testing.T) {
	p := NewPipeline(StaticGenerator{}, Options{SMSMaxLength: 160, EmailMaxLength: 2000})
	assert.Equal(t, 160, p.Limit(leads.ChannelSMS))
	assert.Equal(t, 2000, p.Limit(leads.ChannelEmail))
}

func TestPipelineFallbackFitsSMSLimit(t *testing.T) {
	failing := GeneratorFunc(func(context.Context, Prompt, Constraints) (string, error) {
		return "", errors.New("throttled")
	})
	firstTouch := func() *leads.ConversationContext {
		lc := leads.NewContext("lead-3", now)
		lc.Profile = leads.Profile{
			Name:             "Dana Smith",
			Phone:            "+13125550100",
			PropertyInterest: "the four bedroom craftsman on " + strings.Repeat("North Lakeshore Boulevard ", 6),
		}
		return lc
	}
	reengage := nba.Action{Kind: nba.ReplyNow, Goal: nba.GoalReengage}

	p := NewPipeline(failing, Options{Brand: "Lakeview Realty", SMSMaxLength: 160})
	out := p.Generate(context.Background(), firstTouch(), reengage, intent.Detected{})
	assert.Equal(t, SourceFallback, out.Source)
	assert.LessOrEqual(t, len([]rune(out.Text)), 160)
	assert.NotContains(t, out.Text, "Lakeshore")
	assert.Contains(t, out.Text, "Dana")
	assert.True(t, strings.HasSuffix(out.Text, " "+OptOutFooter))

	p = NewPipeline(failing, Options{Brand: "Lakeview Realty", SMSMaxLength: 100})
	out = p.Generate(context.Background(), firstTouch(), reengage, intent.Detected{})
	assert.LessOrEqual(t, len([]rune(out.Text)), 100)
	assert.True(t, strings.HasSuffix(out.Text, "... "+OptOutFooter))
}

func TestRenderWithinKeepsShortReplies(t *testing.T) {
	tpl := Templates{Brand: "Lakeview Realty"}
	lc := engagedLead()
	lc.Profile.PropertyInterest = "12 Elm St"
	action := nba.Action{Kind: nba.ReplyNow, Goal: nba.GoalScheduleShowing}

	assert.Equal(t, tpl.Render(lc, action), tpl.RenderWithin(lc, action, 0))
	assert.Contains(t, tpl.RenderWithin(lc, action, 320), "12 Elm St")
}
