package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/chatbridge/internal/channel"
	"github.com/memohai/chatbridge/internal/inbox"
	"github.com/memohai/chatbridge/internal/media"
	"github.com/memohai/chatbridge/internal/metrics"
)

// downloadAttachments processes attachments one at a time in encounter order.
// It returns the reference lines for the message body and the attachments
// that were persisted.
func (n *Normalizer) downloadAttachments(ctx context.Context, folder string, atts []Attachment) ([]string, []channel.Attachment) {
	if len(atts) == 0 {
		return nil, nil
	}
	maxBytes := media.DefaultMaxAttachmentBytes
	if n.store != nil {
		maxBytes = n.store.MaxBytes()
	}
	refs := make([]string, 0, len(atts))
	var saved []channel.Attachment
	for _, att := range atts {
		name := strings.TrimSpace(att.Name)
		if name == "" {
			name = "file"
		}
		if media.ExceedsLimit(att.Size, maxBytes) {
			refs = append(refs, fmt.Sprintf("[File too large: %s (%dMB)]", name, media.RoundedMB(att.Size)))
			n.metrics.Attachment(metrics.AttachmentTooLarge)
			continue
		}
		stored, err := n.fetchAndSave(ctx, folder, name, att)
		if err != nil {
			n.logger.Warn("attachment download failed",
				slog.String("folder", folder),
				slog.String("name", name),
				slog.Any("error", err),
			)
			refs = append(refs, failurePlaceholder(att.MediaType, name))
			n.metrics.Attachment(metrics.AttachmentFailed)
			continue
		}
		isImage := channel.ClassifyMedia(att.MediaType) == channel.MediaImage
		if isImage {
			refs = append(refs, fmt.Sprintf("[Image: %s → %s]", name, stored.Path))
		} else {
			refs = append(refs, fmt.Sprintf("[File: %s → %s]", name, stored.Path))
		}
		saved = append(saved, channel.Attachment{
			Name:      name,
			Path:      stored.Path,
			MediaType: att.MediaType,
			Size:      stored.Size,
			IsImage:   isImage,
		})
		n.metrics.Attachment(metrics.AttachmentSaved)
	}
	return refs, saved
}

func (n *Normalizer) fetchAndSave(ctx context.Context, folder, name string, att Attachment) (stored inbox.Saved, err error) {
	if n.store == nil {
		return stored, fmt.Errorf("attachment store not configured")
	}
	if att.Fetch == nil {
		return stored, fmt.Errorf("attachment has no source")
	}
	body, err := att.Fetch(ctx)
	if err != nil {
		return stored, fmt.Errorf("fetch: %w", err)
	}
	defer body.Close()
	return n.store.Save(ctx, folder, name, body)
}

func failurePlaceholder(mediaType, name string) string {
	switch channel.ClassifyMedia(mediaType) {
	case channel.MediaImage:
		return "[Image: " + name + "]"
	case channel.MediaVideo:
		return "[Video: " + name + "]"
	case channel.MediaAudio:
		return "[Audio: " + name + "]"
	default:
		return "[File: " + name + "]"
	}
}
