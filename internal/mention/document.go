package mention

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/flowrelay/flowrelay/internal/message"
)

// RewriteDocument resolves mentions in every mrkdwn text of doc in place.
// Plain-text objects (header blocks, button labels) are skipped: the
// platform does not expand mention syntax there.
func (r *Resolver) RewriteDocument(ctx context.Context, doc *message.Document) {
	doc.Text = r.Rewrite(ctx, doc.Text)
	r.rewriteBlocks(ctx, doc.Blocks)
	for i := range doc.Attachments {
		doc.Attachments[i].Text = r.Rewrite(ctx, doc.Attachments[i].Text)
		if doc.Attachments[i].Blocks.BlockSet != nil {
			r.rewriteBlocks(ctx, doc.Attachments[i].Blocks.BlockSet)
		}
	}
}

func (r *Resolver) rewriteBlocks(ctx context.Context, blocks []slack.Block) {
	for _, b := range blocks {
		switch blk := b.(type) {
		case *slack.SectionBlock:
			r.rewriteText(ctx, blk.Text)
			for _, f := range blk.Fields {
				r.rewriteText(ctx, f)
			}
		case *slack.ContextBlock:
			for _, el := range blk.ContextElements.Elements {
				if t, ok := el.(*slack.TextBlockObject); ok {
					r.rewriteText(ctx, t)
				}
			}
		}
	}
}

func (r *Resolver) rewriteText(ctx context.Context, t *slack.TextBlockObject) {
	if t == nil || t.Type != slack.MarkdownType {
		return
	}
	t.Text = r.Rewrite(ctx, t.Text)
}
