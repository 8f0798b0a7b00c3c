// Package setup holds the first-run form that collects the backend
// connection settings and the access token.
package setup

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/session"
)

// Values are the form fields. Numbers are kept as strings while editing.
type Values struct {
	BaseURL string
	APIKey  string
	Token   string
	PollSec string
	Push    bool
}

// ValuesFrom seeds the form from an existing configuration. The token is
// never pre-filled.
func ValuesFrom(cfg *model.AppConfig) *Values {
	return &Values{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		PollSec: strconv.Itoa(cfg.Bridge.PollIntervalSec),
		Push:    cfg.Bridge.PushEnabled,
	}
}

// Form builds the huh form bound to v.
func (v *Values) Form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend URL").
				Description("Root URL of the CRM backend (e.g., https://crm.example.com)").
				Placeholder("https://crm.example.com").
				Value(&v.BaseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("API key").
				Description("Public project key sent with every request").
				Value(&v.APIKey).
				Validate(validateRequired("API key")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Access token").
				Description("Your session token; stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&v.Token).
				Validate(validateToken),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Poll interval (seconds)").
				Value(&v.PollSec).
				Validate(validateSeconds),
			huh.NewConfirm().
				Title("Listen for live changes?").
				Affirmative("Yes").
				Negative("Polling only").
				Value(&v.Push),
		),
	)
}

// Apply copies the non-secret values into cfg.
func (v *Values) Apply(cfg *model.AppConfig) error {
	if err := validateSeconds(v.PollSec); err != nil {
		return err
	}
	secs, _ := strconv.Atoi(strings.TrimSpace(v.PollSec))

	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(v.BaseURL), "/")
	cfg.Backend.APIKey = strings.TrimSpace(v.APIKey)
	cfg.Bridge.PollIntervalSec = secs
	cfg.Bridge.PushEnabled = v.Push
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host (e.g., https://crm.example.com)")
	}
	return nil
}

func validateSeconds(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("poll interval must be a positive number of seconds")
	}
	return nil
}

// validateToken checks that the token names a user.
func validateToken(s string) error {
	if _, err := session.FromToken(s); err != nil {
		return fmt.Errorf("token not usable: %w", err)
	}
	return nil
}
