package channel

// CollectAttachments returns the attachments of a message batch with duplicate
// paths removed, keeping the first occurrence in first-seen order.
func CollectAttachments(messages []Message) []Attachment {
	seen := make(map[string]struct{})
	var out []Attachment
	for _, m := range messages {
		for _, att := range m.Attachments {
			if _, ok := seen[att.Path]; ok {
				continue
			}
			seen[att.Path] = struct{}{}
			out = append(out, att)
		}
	}
	return out
}

// DedupeAttachments applies the same first-seen rule to a flat list.
func DedupeAttachments(attachments []Attachment) []Attachment {
	return CollectAttachments([]Message{{Attachments: attachments}})
}
