// Package response turns a planned action into the text of one outbound
// message: prompt assembly, a bounded generator call, draft validation and a
// deterministic template fallback.
package response

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lead-reengage/internal/intent"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/nba"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

var pipelineTracer = otel.Tracer("reengage/response")

var (
	// ErrSuppressed means the action forbids any outbound message.
	ErrSuppressed = errors.New("response: action suppresses output")
	// ErrGenerationTimeout means the generator did not answer in time.
	ErrGenerationTimeout = errors.New("response: generation timed out")
	// ErrGenerationFailed means the generator returned an error.
	ErrGenerationFailed = errors.New("response: generation failed")
	// ErrGenerationInvalid means the draft failed validation.
	ErrGenerationInvalid = errors.New("response: generated draft rejected")
)

// Source says where the text of a response came from.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
	SourceTemplate  Source = "template"
	SourceNone      Source = "none"
)

// GeneratedResponse is the pipeline output. Error is set only when no safe
// message exists; the caller must not send in that case.
type GeneratedResponse struct {
	Text           string
	Channel        leads.Channel
	NewState       leads.State
	DetectedIntent intent.Intent
	ShouldHandoff  bool
	Source         Source
	// FallbackReason wraps ErrGenerationTimeout, ErrGenerationFailed or
	// ErrGenerationInvalid when Source is SourceFallback.
	FallbackReason error
	Latency        time.Duration
	Error          error
}

// Options configures a Pipeline.
type Options struct {
	Timeout        time.Duration
	PromptHistory  int
	SMSMaxLength   int
	EmailMaxLength int
	MaxTokens      int32
	Temperature    float32
	Brand          string
	Location       *time.Location
	Logger         *logging.Logger
}

// Pipeline generates replies.
type Pipeline struct {
	gen       Generator
	opts      Options
	templates Templates
	logger    *logging.Logger
}

// NewPipeline builds a pipeline around gen. Zero options take defaults.
func NewPipeline(gen Generator, opts Options) *Pipeline {
	if gen == nil {
		panic("response: generator required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.PromptHistory <= 0 {
		opts.PromptHistory = 10
	}
	if opts.SMSMaxLength <= 0 {
		opts.SMSMaxLength = 320
	}
	if opts.EmailMaxLength <= 0 {
		opts.EmailMaxLength = 4000
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		gen:       gen,
		opts:      opts,
		templates: Templates{Brand: opts.Brand, Location: opts.Location},
		logger:    logger,
	}
}

// Templates returns the pipeline's template renderer.
func (p *Pipeline) Templates() Templates { return p.templates }

// Limit returns the character limit for a channel.
func (p *Pipeline) Limit(ch leads.Channel) int {
	if ch == leads.ChannelEmail {
		return p.opts.EmailMaxLength
	}
	return p.opts.SMSMaxLength
}

// Generate produces the message for action. lc is read, never mutated.
func (p *Pipeline) Generate(ctx context.Context, lc *leads.ConversationContext, action nba.Action, det intent.Detected) GeneratedResponse {
	ctx, span := pipelineTracer.Start(ctx, "response.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("reengage.lead_id", lc.LeadID),
		attribute.String("nba.kind", string(action.Kind)),
		attribute.String("nba.goal", string(action.Goal)),
	)

	out := GeneratedResponse{
		Channel:        lc.ReplyChannel(),
		NewState:       lc.State,
		DetectedIntent: det.Intent,
		ShouldHandoff:  action.Kind == nba.Escalate,
	}

	switch action.Kind {
	case nba.Suppress:
		out.Source = SourceNone
		out.Error = ErrSuppressed
		return out
	case nba.Escalate, nba.ScheduleFollowup:
		out.Text = p.template(lc, out.Channel, action)
		out.Source = SourceTemplate
		return out
	}

	limit := p.bodyLimit(lc, out.Channel)

	prompt := BuildPrompt(lc, action, det, p.opts.PromptHistory, p.opts.Brand, limit, p.opts.Location)
	start := time.Now()
	draft, err := p.call(ctx, prompt, Constraints{MaxChars: limit, MaxTokens: p.opts.MaxTokens, Temperature: p.opts.Temperature})
	out.Latency = time.Since(start)

	if err == nil {
		text, guard, verr := Validate(draft, limit)
		if verr == nil {
			out.Text = p.withFooter(lc, out.Channel, text)
			out.Source = SourceGenerated
			return out
		}
		p.logger.Warn("generated draft rejected",
			"lead_id", lc.LeadID,
			"error", verr,
			"reasons", guard.Reasons,
		)
		err = errors.Join(ErrGenerationInvalid, verr)
	} else {
		p.logger.Warn("generation failed, using fallback template",
			"lead_id", lc.LeadID,
			"error", err,
			"latency_ms", out.Latency.Milliseconds(),
		)
	}

	span.SetAttributes(attribute.String("response.fallback_reason", err.Error()))
	out.Text = p.template(lc, out.Channel, action)
	out.Source = SourceFallback
	out.FallbackReason = err
	return out
}

// call runs the generator under the configured timeout. A generator that
// ignores cancellation is abandoned when the deadline passes.
func (p *Pipeline) call(ctx context.Context, prompt Prompt, c Constraints) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.gen.Generate(genCtx, prompt, c)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
				return "", errors.Join(ErrGenerationTimeout, r.err)
			}
			return "", errors.Join(ErrGenerationFailed, r.err)
		}
		return r.text, nil
	case <-genCtx.Done():
		return "", errors.Join(ErrGenerationTimeout, genCtx.Err())
	}
}

// bodyLimit is the channel limit less the room the footer needs.
func (p *Pipeline) bodyLimit(lc *leads.ConversationContext, ch leads.Channel) int {
	limit := p.Limit(ch)
	if footer := p.footerFor(lc, ch); footer != "" {
		limit -= utf8.RuneCountInString(footer) + 1
	}
	return limit
}

func (p *Pipeline) template(lc *leads.ConversationContext, ch leads.Channel, action nba.Action) string {
	return p.withFooter(lc, ch, p.templates.RenderWithin(lc, action, p.bodyLimit(lc, ch)))
}

func (p *Pipeline) footerFor(lc *leads.ConversationContext, ch leads.Channel) string {
	if ch == leads.ChannelSMS && lc.LastOutboundAt.IsZero() {
		return OptOutFooter
	}
	return ""
}

func (p *Pipeline) withFooter(lc *leads.ConversationContext, ch leads.Channel, text string) string {
	if footer := p.footerFor(lc, ch); footer != "" {
		return text + " " + footer
	}
	return text
}
