package clone

import (
	"context"
	"os"

	"github.com/gotd/td/tg"
)

// CloneOne is the listener's entry point for a single live message (spec
// §4.6 step 4: cloneNoRef(msg, binding.channel_chat_id)). It returns the
// classified error from the last failed attempt so the caller can tell a
// dead destination channel apart from a transient failure.
func (e *Engine) CloneOne(ctx context.Context, m *tg.Message, from, to tg.InputPeerClass) (bool, error) {
	ok, err := e.cloneNoRef(ctx, m, from, to)
	return ok, err
}

// cloneNoRef copies one message so the destination shows no forward header
// and no original author (spec §4.3). The writer session performs both the
// forward attempt and the copy fallback, since only it can post into the
// destination channel; a forward additionally requires the writer to be a
// member of the source chat (see DESIGN.md, "forward identity" decision).
// The reader session is used only to fetch media bytes the writer cannot
// already see by reference.
func (e *Engine) cloneNoRef(ctx context.Context, m *tg.Message, from, to tg.InputPeerClass) (bool, error) {
	if !Cloneable(m) {
		return true, nil
	}

	if ok, _ := withRetries(2, func() error {
		return e.Writer.ForwardMessages(ctx, from, to, []int{m.ID}, true)
	}); ok {
		return true, nil
	}

	return e.copyMessage(ctx, m, to)
}

// copyMessage re-sends m's content directly instead of forwarding it,
// downloading and re-uploading media when a direct reference send fails.
func (e *Engine) copyMessage(ctx context.Context, m *tg.Message, to tg.InputPeerClass) (bool, error) {
	if m.Media == nil {
		return withRetries(2, func() error {
			return e.Writer.SendMessage(ctx, to, m.Message, m.Entities)
		})
	}

	if ok, _ := withRetries(2, func() error {
		return e.Writer.SendMediaReference(ctx, to, m.Media, m.Message, m.Entities)
	}); ok {
		return true, nil
	}

	dir, err := scratchDir(e.TmpDir)
	if err != nil {
		e.log.Printf("[clone] scratch dir for message %d: %v", m.ID, err)
		return false, err
	}
	defer os.RemoveAll(dir)

	localPath, err := e.Reader.DownloadMedia(ctx, m, dir)
	if err != nil {
		e.log.Printf("[clone] download media for message %d: %v", m.ID, err)
		return false, err
	}

	mimeType, attrs := documentAttributes(m, localPath)
	return withRetries(2, func() error {
		return e.Writer.SendFile(ctx, to, localPath, mimeType, m.Message, attrs)
	})
}

// withRetries runs fn up to n+1 times, stopping on the first success and
// returning the last error seen otherwise. It absorbs flood-wait and
// transient upstream errors the same way, since cloneNoRef's contract
// treats any persistent failure identically (spec §4.3: "persistent
// failure returns false").
func withRetries(n int, fn func() error) (bool, error) {
	var err error
	for attempt := 0; attempt <= n; attempt++ {
		if err = fn(); err == nil {
			return true, nil
		}
	}
	return false, err
}

func documentAttributes(m *tg.Message, localPath string) (string, []tg.DocumentAttributeClass) {
	mimeType := "application/octet-stream"
	var attrs []tg.DocumentAttributeClass
	if doc, ok := m.Media.(*tg.MessageMediaDocument); ok {
		if d, ok := doc.Document.(*tg.Document); ok {
			mimeType = d.MimeType
			attrs = d.Attributes
		}
	}
	if len(attrs) == 0 {
		attrs = []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: baseName(localPath)}}
	}
	return mimeType, attrs
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
