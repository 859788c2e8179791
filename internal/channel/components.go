package channel

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RowTypeActionRow is the discriminator for an action row.
const RowTypeActionRow = "action_row"

// ComponentType discriminates interactive controls.
type ComponentType string

const (
	ComponentButton ComponentType = "button"
	ComponentSelect ComponentType = "select"
)

// ButtonStyle is the abstract visual style of a button.
type ButtonStyle string

const (
	StylePrimary   ButtonStyle = "primary"
	StyleSecondary ButtonStyle = "secondary"
	StyleSuccess   ButtonStyle = "success"
	StyleDanger    ButtonStyle = "danger"
)

// OrDefault returns the style, falling back to primary when unset or unknown.
func (s ButtonStyle) OrDefault() ButtonStyle {
	switch ButtonStyle(strings.ToLower(strings.TrimSpace(string(s)))) {
	case StyleSecondary:
		return StyleSecondary
	case StyleSuccess:
		return StyleSuccess
	case StyleDanger:
		return StyleDanger
	default:
		return StylePrimary
	}
}

// ActionRow is one ordered row of interactive controls.
type ActionRow struct {
	Type       string      `json:"type" validate:"omitempty,eq=action_row"`
	Components []Component `json:"components" validate:"min=1,max=5,dive"`
}

// Component is a button or a select control. Fields that do not apply to the
// component type are ignored. A zero Disabled means enabled.
type Component struct {
	Type        ComponentType  `json:"type" validate:"required,oneof=button select"`
	CustomID    string         `json:"custom_id" validate:"required,max=100"`
	Label       string         `json:"label,omitempty" validate:"max=80"`
	Style       ButtonStyle    `json:"style,omitempty" validate:"omitempty,oneof=primary secondary success danger"`
	Placeholder string         `json:"placeholder,omitempty" validate:"max=150"`
	MinValues   *int           `json:"min_values,omitempty" validate:"omitempty,min=0,max=25"`
	MaxValues   *int           `json:"max_values,omitempty" validate:"omitempty,min=1,max=25"`
	Options     []SelectOption `json:"options,omitempty" validate:"max=25,dive"`
	Disabled    bool           `json:"disabled,omitempty"`
}

// SelectOption is one choice of a select control.
type SelectOption struct {
	Label       string `json:"label" validate:"required,max=100"`
	Value       string `json:"value" validate:"required,max=100"`
	Description string `json:"description,omitempty" validate:"max=100"`
}

// ComponentUpdate describes a partial edit of a component message.
// A nil Text keeps the current text. Nil Rows keep the current components
// unless ClearRows is set.
type ComponentUpdate struct {
	Text      *string     `json:"text,omitempty"`
	Rows      []ActionRow `json:"rows,omitempty"`
	ClearRows bool        `json:"clear_rows,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ComponentUpdate) Empty() bool {
	return u.Text == nil && u.Rows == nil && !u.ClearRows
}

type actionRowSet struct {
	Rows []ActionRow `validate:"min=1,max=5,dive"`
}

var componentValidator = newComponentValidator()

func newComponentValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateComponent, Component{})
	return v
}

func validateComponent(sl validator.StructLevel) {
	c, ok := sl.Current().Interface().(Component)
	if !ok {
		return
	}
	switch c.Type {
	case ComponentButton:
		if strings.TrimSpace(c.Label) == "" {
			sl.ReportError(c.Label, "label", "Label", "required_for_button", "")
		}
	case ComponentSelect:
		if len(c.Options) == 0 {
			sl.ReportError(c.Options, "options", "Options", "required_for_select", "")
		}
		if c.MinValues != nil && c.MaxValues != nil && *c.MinValues > *c.MaxValues {
			sl.ReportError(c.MinValues, "min_values", "MinValues", "ltefield", "MaxValues")
		}
	}
}

// ValidateRows checks an action row description before it is handed to a platform.
func ValidateRows(rows []ActionRow) error {
	if err := componentValidator.Struct(actionRowSet{Rows: rows}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidComponents, err)
	}
	return nil
}
