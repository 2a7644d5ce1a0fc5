package message

import (
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/flow"
)

func testFacts() flow.Facts {
	return flow.Facts{
		RunName:     "berserk_heisenberg",
		SessionID:   "5c29f4a2",
		CommandLine: "nextflow run main.nf -profile docker",
		WorkDir:     "/scratch/work",
		Profile:     "docker",
		Start:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Duration:    92 * time.Second,
		Success:     true,
		Stats:       flow.Stats{Submitted: 10, Succeeded: 8, Cached: 2, Failed: 0},
	}
}

// fieldLabels walks a document's section blocks and returns the bold labels
// of every rendered field, in order.
func fieldLabels(t *testing.T, blocks []slack.Block) []string {
	t.Helper()
	var labels []string
	for _, blk := range blocks {
		section, ok := blk.(*slack.SectionBlock)
		if !ok {
			continue
		}
		for _, f := range section.Fields {
			line, _, _ := strings.Cut(f.Text, "\n")
			labels = append(labels, strings.Trim(line, "*"))
		}
	}
	return labels
}

func headerOf(t *testing.T, doc Document) string {
	t.Helper()
	for _, blk := range doc.Blocks {
		if h, ok := blk.(*slack.HeaderBlock); ok {
			return h.Text.Text
		}
	}
	t.Fatal("document has no header block")
	return ""
}

func TestStartDefaultFieldsAllPresent(t *testing.T) {
	cfg := config.Defaults()
	doc := NewBuilder(&cfg).Start(testFacts(), "")

	if doc.Kind != flow.KindStarted {
		t.Fatalf("unexpected kind %q", doc.Kind)
	}
	if got := headerOf(t, doc); got != "Workflow started" {
		t.Fatalf("unexpected header %q", got)
	}

	want := []string{"Run name", "Command line", "Work directory", "Profile", "Revision", "Started at"}
	got := fieldLabels(t, doc.Blocks)
	// Revision is unset in testFacts and must be omitted, not rendered blank.
	wantPresent := []string{"Run name", "Command line", "Work directory", "Profile", "Started at"}
	if len(got) != len(wantPresent) {
		t.Fatalf("expected %d fields out of %v, got %v", len(wantPresent), want, got)
	}
	for i, label := range wantPresent {
		if got[i] != label {
			t.Fatalf("field %d: expected %q, got %q (all: %v)", i, label, got[i], got)
		}
	}
}

func TestFieldAllowListIsExact(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnComplete.Fields = []string{"duration", "run_name"}
	doc := NewBuilder(&cfg).Completed(testFacts(), "")

	got := fieldLabels(t, doc.Blocks)
	if len(got) != 2 || got[0] != "Duration" || got[1] != "Run name" {
		t.Fatalf("allow-list must keep exactly the listed fields in order, got %v", got)
	}
}

func TestFieldAllowListUnknownKeysIgnored(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnComplete.Fields = []string{"status", "no_such_field"}
	doc := NewBuilder(&cfg).Completed(testFacts(), "")

	got := fieldLabels(t, doc.Blocks)
	if len(got) != 1 || got[0] != "Status" {
		t.Fatalf("unknown keys must be dropped, got %v", got)
	}
}

func TestResourceUsageToggle(t *testing.T) {
	cfg := config.Defaults()
	cfg.IncludeResourceUsage = false
	doc := NewBuilder(&cfg).Completed(testFacts(), "")

	for _, label := range fieldLabels(t, doc.Blocks) {
		if strings.HasPrefix(label, "Tasks") {
			t.Fatalf("task statistics rendered despite include_resource_usage=false: %v", fieldLabels(t, doc.Blocks))
		}
	}
}

func TestExplicitFieldsOverrideResourceUsageToggle(t *testing.T) {
	cfg := config.Defaults()
	cfg.IncludeResourceUsage = false
	cfg.OnComplete.Fields = []string{"succeeded", "failed"}
	doc := NewBuilder(&cfg).Completed(testFacts(), "")

	got := fieldLabels(t, doc.Blocks)
	if len(got) != 2 || got[0] != "Tasks succeeded" || got[1] != "Tasks failed" {
		t.Fatalf("explicit field list must win over the resource-usage toggle, got %v", got)
	}
}

func TestFailedIncludesTruncatedError(t *testing.T) {
	cfg := config.Defaults()
	facts := testFacts()
	facts.Success = false
	facts.ErrorText = strings.Repeat("x", 2500)
	facts.FailedTask = "ALIGN (sample_42)"

	doc := NewBuilder(&cfg).Failed(facts, "")

	var errField string
	for _, blk := range doc.Blocks {
		section, ok := blk.(*slack.SectionBlock)
		if !ok {
			continue
		}
		for _, f := range section.Fields {
			if strings.HasPrefix(f.Text, "*Error*") {
				errField = f.Text
			}
		}
	}
	if errField == "" {
		t.Fatal("expected an Error field")
	}
	if !strings.Contains(errField, Ellipsis) {
		t.Fatal("truncated error must carry the ellipsis marker")
	}
	if n := len([]rune(errField)); n > MaxTextLen+len("*Error*\n``") {
		t.Fatalf("error field too long: %d runes", n)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short"); got != "short" {
		t.Fatalf("short text must pass through, got %q", got)
	}

	long := strings.Repeat("a", 2500)
	got := []rune(Truncate(long))
	if len(got) != MaxTextLen {
		t.Fatalf("expected %d runes, got %d", MaxTextLen, len(got))
	}
	if string(got[len(got)-1]) != Ellipsis {
		t.Fatal("expected trailing ellipsis")
	}
}

func TestDeepLinkButtonOnlyWhenResolved(t *testing.T) {
	cfg := config.Defaults()
	b := NewBuilder(&cfg)

	hasAction := func(doc Document) bool {
		for _, blk := range doc.Blocks {
			if _, ok := blk.(*slack.ActionBlock); ok {
				return true
			}
		}
		return false
	}

	if hasAction(b.Start(testFacts(), "")) {
		t.Fatal("no action block expected without a deep link")
	}

	doc := b.Start(testFacts(), "https://monitor.example.com/runs/42")
	if !hasAction(doc) {
		t.Fatal("expected an action block for the resolved deep link")
	}
}

func TestFooterToggle(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnStart.Footer = false
	doc := NewBuilder(&cfg).Start(testFacts(), "")

	for _, blk := range doc.Blocks {
		if _, ok := blk.(*slack.ContextBlock); ok {
			t.Fatal("footer rendered despite footer=false")
		}
		if _, ok := blk.(*slack.DividerBlock); ok {
			t.Fatal("divider rendered despite footer=false")
		}
	}
}

func TestHeaderTemplateExpansion(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnComplete.Message = "{run_name} finished in {duration}"
	doc := NewBuilder(&cfg).Completed(testFacts(), "")

	want := "berserk_heisenberg finished in 1m 32s"
	if got := headerOf(t, doc); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCustomMessageBypassesTemplate(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnComplete.Message = "never rendered"
	cfg.OnComplete.Custom = map[string]any{
		"text":  "pipeline {run_name} is done",
		"color": "#36a64f",
		"fields": map[string]any{
			"Samples": 42,
			"Genome":  "GRCh38",
		},
	}

	doc := NewBuilder(&cfg).Completed(testFacts(), "")

	if len(doc.Blocks) != 0 {
		t.Fatal("colored custom messages must render as attachments only")
	}
	if len(doc.Attachments) != 1 || doc.Attachments[0].Color != "#36a64f" {
		t.Fatalf("unexpected attachments: %+v", doc.Attachments)
	}
	if !strings.Contains(doc.Text, "berserk_heisenberg") {
		t.Fatalf("custom text must expand placeholders, got %q", doc.Text)
	}

	labels := fieldLabels(t, doc.Attachments[0].Blocks.BlockSet)
	if len(labels) != 2 || labels[0] != "Genome" || labels[1] != "Samples" {
		t.Fatalf("unexpected custom fields: %v", labels)
	}
}

func TestCustomMessageHonorsAllowList(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnComplete.Custom = map[string]any{
		"text": "done",
		"fields": map[string]any{
			"Samples": 42,
			"Genome":  "GRCh38",
		},
	}
	cfg.OnComplete.Fields = []string{"samples"}

	doc := NewBuilder(&cfg).Completed(testFacts(), "")
	labels := fieldLabels(t, doc.Blocks)
	if len(labels) != 1 || labels[0] != "Samples" {
		t.Fatalf("expected only Samples, got %v", labels)
	}
}

func TestCustomMessageDefaultHeaderPerKind(t *testing.T) {
	cfg := config.Defaults()
	cfg.OnComplete.Custom = map[string]any{"color": "#36a64f"}
	cfg.OnError.Custom = map[string]any{"color": "#a30200"}
	b := NewBuilder(&cfg)

	if got := b.Completed(testFacts(), "").Text; got != "Workflow completed" {
		t.Errorf("completion custom without text rendered %q", got)
	}
	if got := b.Failed(testFacts(), "").Text; got != "Workflow failed" {
		t.Errorf("error custom without text rendered %q", got)
	}
	if got := b.CustomRich(map[string]any{"color": "#439fe0"}).Text; got != "Workflow update" {
		t.Errorf("ad-hoc custom without text rendered %q", got)
	}
}

func TestProgressLine(t *testing.T) {
	cfg := config.Defaults()
	doc := NewBuilder(&cfg).Progress(flow.Stats{Submitted: 12, Succeeded: 8, Cached: 2, Failed: 1}, 250*time.Second)

	if doc.Kind != flow.KindProgress {
		t.Fatalf("unexpected kind %q", doc.Kind)
	}
	for _, fragment := range []string{"12 submitted", "8 completed", "2 cached", "1 failed", "4m 10s"} {
		if !strings.Contains(doc.Text, fragment) {
			t.Fatalf("progress line %q missing %q", doc.Text, fragment)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, ""},
		{5 * time.Second, "5s"},
		{92 * time.Second, "1m 32s"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3h 4m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
