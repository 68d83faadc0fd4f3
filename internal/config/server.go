package config

import "github.com/spf13/viper"

// Server holds the process-level settings resolved from the environment.
type Server struct {
	Bearer           string
	WSAddr           string
	HTTPAddr         string
	StateLogDSN      string
	UIDir            string
	A2ALogPath       string
	OpenAIKey        string
	OpenAIModel      string
	AnthropicKey     string
	AnthropicModel   string
	AnthropicVersion string
}

func ServerFromEnv() Server {
	v := viper.New()
	v.SetDefault("ws_addr", ":3001")
	v.SetDefault("http_addr", ":3002")
	v.SetDefault("ui_dir", "ui")
	v.SetDefault("a2a_log", "logs/a2a.ndjson")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("anthropic_model", "claude-3-5-sonnet-latest")
	v.SetDefault("anthropic_version", "2023-06-01")

	_ = v.BindEnv("bearer", "DOCGATE_BEARER")
	_ = v.BindEnv("ws_addr", "DOCGATE_WS_ADDR")
	_ = v.BindEnv("http_addr", "DOCGATE_HTTP_ADDR")
	_ = v.BindEnv("state_log", "DOCGATE_STATE_LOG")
	_ = v.BindEnv("ui_dir", "DOCGATE_UI_DIR")
	_ = v.BindEnv("a2a_log", "DOCGATE_A2A_LOG")
	_ = v.BindEnv("openai_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai_model", "OPENAI_MODEL")
	_ = v.BindEnv("anthropic_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("anthropic_model", "ANTHROPIC_MODEL")
	_ = v.BindEnv("anthropic_version", "ANTHROPIC_VERSION")

	return Server{
		Bearer:           v.GetString("bearer"),
		WSAddr:           v.GetString("ws_addr"),
		HTTPAddr:         v.GetString("http_addr"),
		StateLogDSN:      v.GetString("state_log"),
		UIDir:            v.GetString("ui_dir"),
		A2ALogPath:       v.GetString("a2a_log"),
		OpenAIKey:        v.GetString("openai_key"),
		OpenAIModel:      v.GetString("openai_model"),
		AnthropicKey:     v.GetString("anthropic_key"),
		AnthropicModel:   v.GetString("anthropic_model"),
		AnthropicVersion: v.GetString("anthropic_version"),
	}
}
