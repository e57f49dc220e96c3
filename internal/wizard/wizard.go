// Package wizard implements the stepped setup form for a RapidPro connection.
//
// The host calls Build with whatever configuration has been collected so far
// and renders the returned form. Each call re-evaluates the steps from the
// top; only the first unanswered step halts the form. The last step lists the
// account's flows with a live API call.
package wizard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// Step is one stage of the setup form.
type Step int

const (
	// StepBaseURL asks which RapidPro installation to use.
	StepBaseURL Step = iota
	// StepCustomURL asks for the base URL of a self hosted installation.
	StepCustomURL
	// StepAPIToken asks for the account's API token.
	StepAPIToken
	// StepFlowSelection lets the user pick one of the account's flows.
	StepFlowSelection
)

var stepNames = map[Step]string{
	StepBaseURL:       "base_url",
	StepCustomURL:     "custom_url",
	StepAPIToken:      "api_token",
	StepFlowSelection: "flow_selection",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// MarshalText renders the step by name in JSON.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Form field ids, matching the ConnectionConfig JSON keys.
const (
	FieldBaseURL   = "base_url"
	FieldCustomURL = "custom_url"
	FieldAPIToken  = "api_token"
	FieldFlowUUID  = "flow_uuid"
)

// FieldKind is the input widget for a form field.
type FieldKind string

const (
	KindSelectSingle FieldKind = "SELECT_SINGLE"
	KindTextInput    FieldKind = "TEXTINPUT"
)

// Option is one choice of a select field.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FormField is one input of the form.
type FormField struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	HelpText string    `json:"help_text,omitempty"`
	Kind     FieldKind `json:"kind"`
	// Dynamic fields re-trigger the form when their value changes.
	Dynamic bool     `json:"dynamic"`
	Options []Option `json:"options,omitempty"`
}

// Form is what the host renders for the current step.
type Form struct {
	Step   Step        `json:"step"`
	Fields []FormField `json:"fields"`
	// SteppedConfig tells the host to call Build again once the user answers
	// instead of treating the configuration as final.
	SteppedConfig bool `json:"stepped_config"`
}

// FlowLister lists an account's active flows.
type FlowLister interface {
	ListFlows(ctx context.Context, cfg models.ConnectionConfig) ([]models.Flow, error)
}

// BaseURLOptions are the installations offered in the first step.
var BaseURLOptions = []Option{
	{Label: "https://app.rapidpro.io - RapidPro", Value: models.BaseURLRapidPro},
	{Label: "https://textit.in - TextIt", Value: models.BaseURLTextIt},
	{Label: "Other", Value: models.BaseURLOther},
}

// NextStep returns the first step whose answer is still missing, or
// StepFlowSelection once the account is fully described.
func NextStep(cfg models.ConnectionConfig) Step {
	switch {
	case cfg.BasePreset == "":
		return StepBaseURL
	case cfg.BasePreset == models.BaseURLOther && cfg.CustomURL == "":
		return StepCustomURL
	case cfg.APIToken == "":
		return StepAPIToken
	default:
		return StepFlowSelection
	}
}

// Build renders the form for cfg. Fields of every step up to the current one
// are included. Reaching StepFlowSelection issues exactly one ListFlows call;
// its error is returned as is.
func Build(ctx context.Context, cfg models.ConnectionConfig, lister FlowLister) (*Form, error) {
	step := NextStep(cfg)
	slog.Debug("wizard.Build: evaluating form", "step", step, "base_url", cfg.BasePreset, "custom_url_set", cfg.CustomURL != "", "api_token_set", cfg.APIToken != "")

	form := &Form{Step: step}
	form.Fields = append(form.Fields, FormField{
		ID:       FieldBaseURL,
		Name:     "Base URL",
		HelpText: "The base URL for your RapidPro installation",
		Kind:     KindSelectSingle,
		Dynamic:  true,
		Options:  BaseURLOptions,
	})
	if step == StepBaseURL {
		form.SteppedConfig = true
		return form, nil
	}

	if cfg.BasePreset == models.BaseURLOther {
		form.Fields = append(form.Fields, FormField{
			ID:       FieldCustomURL,
			Name:     "Custom Base URL",
			HelpText: "The base URL for your RapidPro endpoint (including http/https)",
			Kind:     KindTextInput,
			Dynamic:  true,
		})
	}
	if step == StepCustomURL {
		form.SteppedConfig = true
		return form, nil
	}

	form.Fields = append(form.Fields, FormField{
		ID:       FieldAPIToken,
		Name:     "API Token",
		HelpText: "The API Token for your account, find it on your account page",
		Kind:     KindTextInput,
		Dynamic:  true,
	})
	if step == StepAPIToken {
		form.SteppedConfig = true
		return form, nil
	}

	flows, err := lister.ListFlows(ctx, cfg)
	if err != nil {
		return nil, err
	}
	options := make([]Option, 0, len(flows))
	for _, f := range flows {
		options = append(options, Option{Label: f.Name, Value: f.UUID})
	}
	form.Fields = append(form.Fields, FormField{
		ID:       FieldFlowUUID,
		Name:     "Flow",
		HelpText: "Select the flow you want to import data for",
		Kind:     KindSelectSingle,
		Options:  options,
	})
	slog.Debug("wizard.Build: flow selection rendered", "flows", len(options))
	return form, nil
}
