// Package message builds Slack Block Kit documents from workflow facts.
// Builders are pure: no I/O, no retained state beyond the config snapshot,
// and every document is fully assembled before it reaches a transport.
package message

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/flow"
)

// MaxTextLen is the hard cap applied to free-text values (error output in
// particular) before they are placed into a block. Not configurable.
const MaxTextLen = 2000

// Ellipsis marks truncated free text.
const Ellipsis = "…"

// Document is an ordered sequence of typed blocks plus its outer envelope.
// It has no identity beyond its serialization; transports consume it whole.
type Document struct {
	Kind flow.Kind

	// Text is the notification fallback line shown in toasts and
	// clients that cannot render blocks.
	Text   string
	Blocks []slack.Block

	// Attachments carry color-barred custom messages.
	Attachments []slack.Attachment

	// Envelope-only settings. Never attached to individual blocks.
	Channel  string
	ThreadTS string
}

// Builder renders lifecycle events into Documents using the per-event
// settings from the configuration snapshot.
type Builder struct {
	cfg *config.Config
}

// NewBuilder creates a Builder over the given snapshot.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// field is one labeled value in a field table.
type field struct {
	key   string
	label string
	value string
	// resource marks task-statistic fields gated by IncludeResourceUsage
	// when no explicit allow-list is set.
	resource bool
}

// Default header lines per event kind.
const (
	defaultStartText    = "Workflow started"
	defaultCompleteText = "Workflow completed"
	defaultFailedText   = "Workflow failed"
	defaultCustomText   = "Workflow update"
)

// defaultText picks the event kind's own header for custom messages that
// carry no "text" key.
func defaultText(kind flow.Kind) string {
	switch kind {
	case flow.KindCompleted:
		return defaultCompleteText
	case flow.KindFailed:
		return defaultFailedText
	case flow.KindStarted:
		return defaultStartText
	default:
		return defaultCustomText
	}
}

// Start renders the run-started notification.
func (b *Builder) Start(facts flow.Facts, deepLink string) Document {
	ev := b.cfg.OnStart
	if len(ev.Custom) > 0 {
		return b.custom(flow.KindStarted, ev, facts)
	}

	text := headerText(ev.Message, defaultStartText, facts)
	fields := []field{
		{key: "run_name", label: "Run name", value: facts.RunName},
		{key: "command_line", label: "Command line", value: code(facts.CommandLine)},
		{key: "work_dir", label: "Work directory", value: code(facts.WorkDir)},
		{key: "profile", label: "Profile", value: facts.Profile},
		{key: "revision", label: "Revision", value: facts.Revision},
		{key: "started_at", label: "Started at", value: formatTime(facts.Start)},
	}

	return b.assemble(flow.KindStarted, ev, text, fields, deepLink, facts)
}

// Completed renders the successful-completion notification.
func (b *Builder) Completed(facts flow.Facts, deepLink string) Document {
	ev := b.cfg.OnComplete
	if len(ev.Custom) > 0 {
		return b.custom(flow.KindCompleted, ev, facts)
	}

	text := headerText(ev.Message, defaultCompleteText, facts)
	return b.assemble(flow.KindCompleted, ev, text, b.terminalFields(facts), deepLink, facts)
}

// Failed renders the run-failed notification.
func (b *Builder) Failed(facts flow.Facts, deepLink string) Document {
	ev := b.cfg.OnError
	if len(ev.Custom) > 0 {
		return b.custom(flow.KindFailed, ev, facts)
	}

	text := headerText(ev.Message, defaultFailedText, facts)
	fields := b.terminalFields(facts)
	fields = append(fields,
		field{key: "failed_task", label: "Failed task", value: facts.FailedTask},
		field{key: "error", label: "Error", value: code(Truncate(facts.ErrorText))},
	)

	return b.assemble(flow.KindFailed, ev, text, fields, deepLink, facts)
}

// Progress renders the compact throttled progress line.
func (b *Builder) Progress(stats flow.Stats, elapsed time.Duration) Document {
	elapsedText := formatDuration(elapsed)
	if elapsedText == "" {
		elapsedText = "0s"
	}
	line := fmt.Sprintf("*In progress* — %d submitted, %d completed, %d cached, %d failed (%s elapsed)",
		stats.Submitted, stats.Succeeded, stats.Cached, stats.Failed, elapsedText)

	return Document{
		Kind: flow.KindProgress,
		Text: line,
		Blocks: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, line, false, false), nil, nil),
		},
	}
}

// Custom renders an ad-hoc plain-text message from pipeline code.
func (b *Builder) Custom(text string) Document {
	text = Truncate(text)
	return Document{
		Kind: flow.KindCustom,
		Text: text,
		Blocks: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		},
	}
}

// CustomRich renders an ad-hoc structured message from pipeline code.
// Recognized keys: "text" (string), "color" (string), "fields" (map of
// label to value). Unknown keys are ignored.
func (b *Builder) CustomRich(payload map[string]any) Document {
	ev := config.Event{Custom: payload}
	return b.custom(flow.KindCustom, ev, flow.Facts{})
}

// custom builds a document from a structured custom-message map, bypassing
// the default template entirely. The per-event Fields allow-list still
// applies to the map's own fields.
func (b *Builder) custom(kind flow.Kind, ev config.Event, facts flow.Facts) Document {
	text, _ := ev.Custom["text"].(string)
	if text == "" {
		text = defaultText(kind)
	}
	text = expand(text, facts)

	var fields []field
	if raw, ok := ev.Custom["fields"].(map[string]any); ok {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, field{
				key:   strings.ToLower(strings.ReplaceAll(k, " ", "_")),
				label: k,
				value: fmt.Sprint(raw[k]),
			})
		}
	}
	fields = selectFields(fields, ev.Fields, true)

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, Truncate(text), false, false), nil, nil),
	}
	blocks = append(blocks, fieldBlocks(fields)...)

	doc := Document{Kind: kind, Text: text}
	if color, ok := ev.Custom["color"].(string); ok && color != "" {
		doc.Attachments = []slack.Attachment{{
			Color:    color,
			Fallback: text,
			Blocks:   slack.Blocks{BlockSet: blocks},
		}}
	} else {
		doc.Blocks = blocks
	}
	return doc
}

// terminalFields lists the default fields shared by completion and error
// notifications.
func (b *Builder) terminalFields(facts flow.Facts) []field {
	status := "Succeeded"
	if !facts.Success {
		status = "Failed"
	}

	return []field{
		{key: "run_name", label: "Run name", value: facts.RunName},
		{key: "status", label: "Status", value: status},
		{key: "duration", label: "Duration", value: formatDuration(facts.Duration)},
		{key: "command_line", label: "Command line", value: code(facts.CommandLine)},
		{key: "work_dir", label: "Work directory", value: code(facts.WorkDir)},
		{key: "succeeded", label: "Tasks succeeded", value: count(facts.Stats.Succeeded), resource: true},
		{key: "cached", label: "Tasks cached", value: count(facts.Stats.Cached), resource: true},
		{key: "failed", label: "Tasks failed", value: count(facts.Stats.Failed), resource: true},
	}
}

// assemble produces the final block sequence: header, field table, optional
// deep-link button, divider and context footer.
func (b *Builder) assemble(kind flow.Kind, ev config.Event, text string, fields []field, deepLink string, facts flow.Facts) Document {
	fields = selectFields(fields, ev.Fields, b.cfg.IncludeResourceUsage)

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false)),
	}
	blocks = append(blocks, fieldBlocks(fields)...)

	if deepLink != "" {
		btn := slack.NewButtonBlockElement("flowrelay_open_run", facts.RunName,
			slack.NewTextBlockObject(slack.PlainTextType, "Open run", false, false))
		btn.URL = deepLink
		blocks = append(blocks, slack.NewActionBlock("flowrelay_actions", btn))
	}

	if ev.Footer {
		footer := fmt.Sprintf("FlowRelay · session %s · %s", facts.SessionID, formatTime(time.Now()))
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, footer, false, false)),
		)
	}

	return Document{Kind: kind, Text: text, Blocks: blocks}
}

// selectFields applies the include allow-list policy: an empty list keeps
// every applicable default field, a non-empty list keeps exactly the listed
// keys in listed order. An explicit list overrides the resource-usage gate.
func selectFields(fields []field, include []string, resourceUsage bool) []field {
	if len(include) == 0 {
		kept := fields[:0:0]
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			if f.resource && !resourceUsage {
				continue
			}
			kept = append(kept, f)
		}
		return kept
	}

	byKey := make(map[string]field, len(fields))
	for _, f := range fields {
		byKey[f.key] = f
	}

	kept := make([]field, 0, len(include))
	for _, key := range include {
		f, ok := byKey[key]
		if !ok || f.value == "" {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// fieldBlocks renders fields as section blocks, ten to a section per the
// platform's limit.
func fieldBlocks(fields []field) []slack.Block {
	var blocks []slack.Block
	for start := 0; start < len(fields); start += 10 {
		end := min(start+10, len(fields))

		objs := make([]*slack.TextBlockObject, 0, end-start)
		for _, f := range fields[start:end] {
			objs = append(objs, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.label, f.value), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, objs, nil))
	}
	return blocks
}

// Truncate caps free text at MaxTextLen runes, marking the cut.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxTextLen {
		return s
	}
	return string(runes[:MaxTextLen-1]) + Ellipsis
}

// headerText picks the configured template over the default and expands
// fact placeholders.
func headerText(template, fallback string, facts flow.Facts) string {
	if template == "" {
		template = fallback
	}
	return expand(template, facts)
}

// expand substitutes {run_name}, {status}, {duration} and {error} tokens.
func expand(s string, facts flow.Facts) string {
	status := "succeeded"
	if !facts.Success {
		status = "failed"
	}
	r := strings.NewReplacer(
		"{run_name}", facts.RunName,
		"{status}", status,
		"{duration}", formatDuration(facts.Duration),
		"{error}", Truncate(facts.ErrorText),
	)
	return r.Replace(s)
}

func code(s string) string {
	if s == "" {
		return ""
	}
	return "`" + s + "`"
}

func count(n int) string {
	return fmt.Sprintf("%d", n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

// formatDuration renders a duration the way run logs do: "2h 3m 4s".
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)

	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
