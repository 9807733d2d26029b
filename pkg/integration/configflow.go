package integration

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// Result types of a flow step.
const (
	ResultForm        = "form"
	ResultCreateEntry = "create_entry"
)

// Error keys returned in FlowResult.Errors["base"].
const (
	ErrorInvalidMeteringPoint = "invalid_metering_point"
	ErrorUnknown              = "unknown_error"
	ErrorAlreadyConfigured    = "already_configured"
)

const stepUser = "user"

// FormField describes one input of the config form.
type FormField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Default  string   `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// FlowInput is the user's submission of the config form.
type FlowInput struct {
	RefreshToken      string `json:"refresh_token"`
	MeteringPoint     string `json:"metering_point"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// FlowResult is either the form to show (optionally with errors) or the
// created entry.
type FlowResult struct {
	Type       string            `json:"type"`
	StepID     string            `json:"stepID"`
	DataSchema []FormField       `json:"dataSchema,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Title      string            `json:"title,omitempty"`
	Entry      *types.Entry      `json:"entry,omitempty"`
}

var dataSchema = []FormField{
	{Name: "refresh_token", Type: "string", Required: true},
	{Name: "metering_point", Type: "string", Required: true},
	{
		Name:    "unit_of_measurement",
		Type:    "select",
		Default: string(types.DefaultUnit),
		Options: []string{string(types.UnitKWh), string(types.UnitMWh)},
	},
}

// ConfigFlow creates entries from user input.
type ConfigFlow struct {
	manager *Manager
}

// NewConfigFlow returns a ConfigFlow that creates entries in manager.
func NewConfigFlow(manager *Manager) *ConfigFlow {
	return &ConfigFlow{manager: manager}
}

// Step handles the user step. A nil input returns the empty form.
func (f *ConfigFlow) Step(ctx context.Context, input *FlowInput) FlowResult {
	if input == nil {
		return showForm(nil)
	}

	mp := input.MeteringPoint
	if err := types.ValidateMeteringPoint(mp); err != nil {
		log.Ctx(ctx).InfoContext(ctx, "invalid metering point", slog.String("meteringPoint", mp))
		return showForm(map[string]string{"base": ErrorInvalidMeteringPoint})
	}

	unit, err := types.ParseUnit(strings.TrimSpace(input.UnitOfMeasurement))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "unexpected error", slog.Any("error", err))
		return showForm(map[string]string{"base": ErrorUnknown})
	}

	token := strings.TrimSpace(input.RefreshToken)
	if token == "" {
		log.Ctx(ctx).ErrorContext(ctx, "unexpected error", slog.String("error", "missing refresh token"))
		return showForm(map[string]string{"base": ErrorUnknown})
	}

	entry, err := f.manager.CreateEntry(ctx, mp, token, unit)
	switch {
	case errors.Is(err, ErrAlreadyConfigured):
		return showForm(map[string]string{"base": ErrorAlreadyConfigured})
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "unexpected error", slog.Any("error", err))
		return showForm(map[string]string{"base": ErrorUnknown})
	}

	entry.EncryptedRefreshToken = nil
	return FlowResult{
		Type:   ResultCreateEntry,
		StepID: stepUser,
		Title:  entry.Title,
		Entry:  &entry,
	}
}

func showForm(errs map[string]string) FlowResult {
	return FlowResult{
		Type:       ResultForm,
		StepID:     stepUser,
		DataSchema: dataSchema,
		Errors:     errs,
	}
}
