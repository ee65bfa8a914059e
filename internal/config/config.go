package config

import (
	"errors"
	"strings"
	"time"

	"gudagent/internal/gudform"
	"gudagent/pkg/config"
	"gudagent/pkg/llm"
)

// Config stores environment configuration for the agent service.
type Config struct {
	Port          string
	WebhookSecret string
	AgentURL      string
	RedisURL      string

	LLM llm.Config

	GudDeskURL    string
	GudDeskAPIKey string

	GudCalURL         string
	GudCalUsername    string
	GudCalEventSlug   string
	GudCalEventTypeID string

	GudFormURL    string
	GudFormFormID string
	GudFormFields gudform.FieldMapping

	KnowledgePath            string
	KnowledgeRemote          bool
	KnowledgeRefreshInterval time.Duration
	KnowledgeReloadTimeout   time.Duration
	MaxToolRounds            int
	ProcessTimeout           time.Duration
}

// LoadConfig loads the agent configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:          config.GetEnv("PORT", "3001"),
		WebhookSecret: config.GetEnv("WEBHOOK_SECRET", ""),
		AgentURL:      strings.TrimRight(config.GetEnv("AGENT_URL", ""), "/"),
		RedisURL:      config.GetEnv("REDIS_URL", ""),

		LLM: llm.LoadConfig(),

		GudDeskURL:    config.GetEnv("GUDDESK_URL", ""),
		GudDeskAPIKey: config.GetEnv("GUDDESK_API_KEY", ""),

		GudCalURL:         config.GetEnv("GUDCAL_URL", ""),
		GudCalUsername:    config.GetEnv("GUDCAL_USERNAME", ""),
		GudCalEventSlug:   config.GetEnv("GUDCAL_EVENT_SLUG", ""),
		GudCalEventTypeID: config.GetEnv("GUDCAL_EVENT_TYPE_ID", ""),

		GudFormURL:    config.GetEnv("GUDFORM_URL", ""),
		GudFormFormID: config.GetEnv("GUDFORM_FORM_ID", ""),
		GudFormFields: gudform.FieldMapping{
			Name:    config.GetEnv("GUDFORM_FIELD_NAME", ""),
			Email:   config.GetEnv("GUDFORM_FIELD_EMAIL", ""),
			Company: config.GetEnv("GUDFORM_FIELD_COMPANY", ""),
			Phone:   config.GetEnv("GUDFORM_FIELD_PHONE", ""),
		},

		KnowledgePath:            config.GetEnv("KNOWLEDGE_PATH", "knowledge/base.md"),
		KnowledgeRemote:          config.GetEnvBool("KNOWLEDGE_REMOTE", true),
		KnowledgeRefreshInterval: config.GetEnvDuration("KNOWLEDGE_REFRESH_INTERVAL", 5*time.Minute),
		KnowledgeReloadTimeout:   config.GetEnvDuration("KNOWLEDGE_RELOAD_TIMEOUT", 10*time.Second),
		MaxToolRounds:            config.GetEnvInt("MAX_TOOL_ROUNDS", 5),
		ProcessTimeout:           config.GetEnvDuration("PROCESS_TIMEOUT", 2*time.Minute),
	}
}

// WebhookURL is the public webhook endpoint derived from AgentURL, or "".
func (c Config) WebhookURL() string {
	if c.AgentURL == "" {
		return ""
	}
	return c.AgentURL + "/webhook"
}

func (c Config) GudCalConfigured() bool {
	return c.GudCalURL != "" && c.GudCalUsername != "" && c.GudCalEventTypeID != ""
}

func (c Config) GudFormConfigured() bool {
	return c.GudFormURL != "" && c.GudFormFormID != ""
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.GudDeskURL == "" {
		errs = append(errs, errors.New("GUDDESK_URL is required"))
	}
	if c.GudDeskAPIKey == "" {
		errs = append(errs, errors.New("GUDDESK_API_KEY is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	return errors.Join(errs...)
}
