package channel

import (
	"context"
	"fmt"
)

// FindChannel returns the first channel that owns jid, regardless of liveness.
func FindChannel(channels []Channel, jid string) (Channel, bool) {
	for _, ch := range channels {
		if ch != nil && ch.OwnsJID(jid) {
			return ch, true
		}
	}
	return nil, false
}

// selectLive returns the first channel that both owns jid and is connected.
// Ownership without liveness does not qualify.
func selectLive(channels []Channel, jid string) (Channel, error) {
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		if ch.OwnsJID(jid) && ch.IsConnected() {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoChannelForAddress, jid)
}

// RouteOutbound sends text through the first live channel owning jid.
func RouteOutbound(ctx context.Context, channels []Channel, jid string, text string) error {
	ch, err := selectLive(channels, jid)
	if err != nil {
		return err
	}
	return ch.SendMessage(ctx, jid, text)
}

// RouteFile sends a file through the first live channel owning jid. It fails
// with ErrCapabilityUnsupported when that channel cannot send files.
func RouteFile(ctx context.Context, channels []Channel, jid string, path string, caption string) error {
	ch, err := selectLive(channels, jid)
	if err != nil {
		return err
	}
	sender, ok := ch.(FileSender)
	if !ok {
		return fmt.Errorf("%w: %s cannot send files", ErrCapabilityUnsupported, ch.Name())
	}
	return sender.SendFile(ctx, jid, path, caption)
}

// RouteComponents sends action rows through the first live channel owning jid
// and returns the platform message id.
func RouteComponents(ctx context.Context, channels []Channel, jid string, text string, rows []ActionRow) (string, error) {
	ch, err := selectLive(channels, jid)
	if err != nil {
		return "", err
	}
	sender, ok := ch.(ComponentSender)
	if !ok {
		return "", fmt.Errorf("%w: %s cannot send components", ErrCapabilityUnsupported, ch.Name())
	}
	if err := ValidateRows(rows); err != nil {
		return "", err
	}
	return sender.SendComponents(ctx, jid, text, rows)
}

// RouteComponentUpdate edits a component message through the first live channel owning jid.
func RouteComponentUpdate(ctx context.Context, channels []Channel, jid string, messageID string, update ComponentUpdate) error {
	ch, err := selectLive(channels, jid)
	if err != nil {
		return err
	}
	updater, ok := ch.(ComponentUpdater)
	if !ok {
		return fmt.Errorf("%w: %s cannot update components", ErrCapabilityUnsupported, ch.Name())
	}
	if update.Rows != nil {
		if err := ValidateRows(update.Rows); err != nil {
			return err
		}
	}
	if update.Empty() {
		return nil
	}
	return updater.UpdateComponents(ctx, jid, messageID, update)
}

// RouteTyping toggles the typing indicator when the owning channel supports one.
// A channel without a typing indicator is not an error.
func RouteTyping(ctx context.Context, channels []Channel, jid string, typing bool) error {
	ch, err := selectLive(channels, jid)
	if err != nil {
		return err
	}
	typer, ok := ch.(Typer)
	if !ok {
		return nil
	}
	return typer.SetTyping(ctx, jid, typing)
}
