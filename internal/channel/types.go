// Package channel provides a unified abstraction for multi-platform messaging channels.
// It defines the canonical message model, the channel contract with its optional
// capabilities, and the router that dispatches outbound traffic to the owning channel.
package channel

import (
	"strings"
	"time"
)

// Message is the canonical, platform-independent message record.
// Content has already been normalized to the canonical trigger format.
type Message struct {
	ID           string       `json:"id"`
	ChatJID      string       `json:"chat_jid"`
	Sender       string       `json:"sender"`
	SenderName   string       `json:"sender_name"`
	Content      string       `json:"content"`
	Timestamp    time.Time    `json:"timestamp"`
	IsFromMe     bool         `json:"is_from_me,omitempty"`
	IsBotMessage bool         `json:"is_bot_message,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file persisted into a conversation workspace.
// Path is relative to the workspace root and never an absolute host path.
type Attachment struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	MediaType string `json:"media_type,omitempty"`
	Size      int64  `json:"size"`
	IsImage   bool   `json:"is_image,omitempty"`
}

// MediaClass is a coarse classification of attachment content.
type MediaClass string

const (
	MediaImage MediaClass = "image"
	MediaVideo MediaClass = "video"
	MediaAudio MediaClass = "audio"
	MediaFile  MediaClass = "file"
)

// ClassifyMedia maps a MIME type to its coarse media class.
func ClassifyMedia(mediaType string) MediaClass {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return MediaImage
	case strings.HasPrefix(mediaType, "video/"):
		return MediaVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return MediaAudio
	default:
		return MediaFile
	}
}

// RegisteredGroup is a conversation the bridge is allowed to act in.
type RegisteredGroup struct {
	JID             string           `toml:"jid" json:"jid"`
	Name            string           `toml:"name" json:"name"`
	Folder          string           `toml:"folder" json:"folder"`
	Trigger         string           `toml:"trigger" json:"trigger"`
	RequiresTrigger bool             `toml:"requires_trigger" json:"requires_trigger"`
	IsPrimary       bool             `toml:"primary" json:"primary"`
	Container       *ContainerConfig `toml:"container" json:"container,omitempty"`
	AddedAt         time.Time        `toml:"added_at" json:"added_at"`
}

// ContainerConfig holds optional per-group container settings.
type ContainerConfig struct {
	AdditionalMounts []MountSpec `toml:"mounts" json:"additional_mounts,omitempty"`
	TimeoutSeconds   int         `toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// MountSpec is a requested host directory for a group's container.
type MountSpec struct {
	HostPath      string `toml:"host_path" json:"host_path"`
	ContainerPath string `toml:"container_path" json:"container_path,omitempty"`
	ReadWrite     bool   `toml:"read_write" json:"read_write,omitempty"`
}
