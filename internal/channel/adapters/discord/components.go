package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/memohai/chatbridge/internal/channel"
)

var buttonStyles = map[channel.ButtonStyle]discordgo.ButtonStyle{
	channel.StylePrimary:   discordgo.PrimaryButton,
	channel.StyleSecondary: discordgo.SecondaryButton,
	channel.StyleSuccess:   discordgo.SuccessButton,
	channel.StyleDanger:    discordgo.DangerButton,
}

func toComponents(rows []channel.ActionRow) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		items := make([]discordgo.MessageComponent, 0, len(row.Components))
		for _, c := range row.Components {
			items = append(items, toComponent(c))
		}
		out = append(out, discordgo.ActionsRow{Components: items})
	}
	return out
}

func toComponent(c channel.Component) discordgo.MessageComponent {
	if c.Type == channel.ComponentSelect {
		menu := discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    c.CustomID,
			Placeholder: c.Placeholder,
			MinValues:   c.MinValues,
			Disabled:    c.Disabled,
			Options:     make([]discordgo.SelectMenuOption, 0, len(c.Options)),
		}
		if c.MaxValues != nil {
			menu.MaxValues = *c.MaxValues
		}
		for _, opt := range c.Options {
			menu.Options = append(menu.Options, discordgo.SelectMenuOption{
				Label:       opt.Label,
				Value:       opt.Value,
				Description: opt.Description,
			})
		}
		return menu
	}
	return discordgo.Button{
		Label:    c.Label,
		Style:    buttonStyles[c.Style.OrDefault()],
		CustomID: c.CustomID,
		Disabled: c.Disabled,
	}
}

// buttonLabel finds the label of the clicked button on a received message.
// Decoded components are pointers, locally built ones are values.
func buttonLabel(components []discordgo.MessageComponent, customID string) string {
	for _, comp := range components {
		switch v := comp.(type) {
		case *discordgo.ActionsRow:
			if label := buttonLabel(v.Components, customID); label != "" {
				return label
			}
		case discordgo.ActionsRow:
			if label := buttonLabel(v.Components, customID); label != "" {
				return label
			}
		case *discordgo.Button:
			if v.CustomID == customID {
				return v.Label
			}
		case discordgo.Button:
			if v.CustomID == customID {
				return v.Label
			}
		}
	}
	return ""
}
