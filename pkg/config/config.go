package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/voxcode/core/pkg/events"
)

// Session mirrors the session.* options in §6.3.
type Session struct {
	RenewalMarginSeconds     int `mapstructure:"renewalMarginSeconds" validate:"min=0,max=300"`
	InactivityTimeoutMinutes int `mapstructure:"inactivityTimeoutMinutes" validate:"min=1,max=120"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeatIntervalSeconds" validate:"min=5,max=300"`
	MaxRetryAttempts         int `mapstructure:"maxRetryAttempts" validate:"min=1,max=10"`
	RetryBackoffMs           int `mapstructure:"retryBackoffMs" validate:"min=0,max=60000"`
}

// Conversation mirrors the conversation.* options in §6.3.
type Conversation struct {
	PolicyProfile        string `mapstructure:"policyProfile" validate:"oneof=standard assertive hands-free"`
	AllowBargeIn          bool  `mapstructure:"allowBargeIn"`
	InterruptionBudgetMs  int   `mapstructure:"interruptionBudgetMs" validate:"min=0,max=5000"`
	CompletionGraceMs     int   `mapstructure:"completionGraceMs" validate:"min=0,max=5000"`
	SpeechStopDebounceMs  int   `mapstructure:"speechStopDebounceMs" validate:"min=0,max=5000"`
}

// TurnDetection mirrors audio.turnDetection.* in §6.3.
type TurnDetection struct {
	Mode              string  `mapstructure:"mode" validate:"oneof=server_vad semantic_vad none"`
	Threshold         float64 `mapstructure:"threshold" validate:"min=0,max=1"`
	PrefixPaddingMs   int     `mapstructure:"prefixPaddingMs" validate:"min=0,max=5000"`
	SilenceDurationMs int     `mapstructure:"silenceDurationMs" validate:"min=0,max=10000"`
	Eagerness         string  `mapstructure:"eagerness" validate:"omitempty,oneof=low medium high auto"`
	CreateResponse    bool    `mapstructure:"createResponse"`
}

// Audio mirrors the audio.* options in §6.3.
type Audio struct {
	SampleRate    int           `mapstructure:"sampleRate" validate:"oneof=16000 24000 48000"`
	TurnDetection TurnDetection `mapstructure:"turnDetection"`
}

// Transport mirrors the transport.* options in §6.3.
type Transport struct {
	ICEServers        []string `mapstructure:"iceServers" validate:"dive,required"`
	ConnectionTimeoutMs int    `mapstructure:"connectionTimeoutMs" validate:"min=500,max=60000"`
	EndpointURL       string   `mapstructure:"endpointUrl" validate:"omitempty,url"`
	Region            string   `mapstructure:"region"`
}

// Config is the root typed configuration tree for §6.3.
type Config struct {
	Session      Session      `mapstructure:"session"`
	Conversation Conversation `mapstructure:"conversation"`
	Audio        Audio        `mapstructure:"audio"`
	Transport    Transport    `mapstructure:"transport"`
}

// supportedRegions is the allow-list used by the config fault domain's
// "unsupported-region" kind.
var supportedRegions = map[string]bool{
	"":             true,
	"eastus2":      true,
	"swedencentral": true,
	"westus2":      true,
}

// Default returns the Config populated with §6.3's documented defaults,
// mirroring the teacher's DefaultConfig() literal-table convention.
func Default() Config {
	return Config{
		Session: Session{
			RenewalMarginSeconds:     10,
			InactivityTimeoutMinutes: 5,
			HeartbeatIntervalSeconds: 30,
			MaxRetryAttempts:         3,
			RetryBackoffMs:           1000,
		},
		Conversation: Conversation{
			PolicyProfile:        "standard",
			AllowBargeIn:         true,
			InterruptionBudgetMs: 400,
			CompletionGraceMs:    250,
			SpeechStopDebounceMs: 150,
		},
		Audio: Audio{
			SampleRate: 24000,
			TurnDetection: TurnDetection{
				Mode:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
				Eagerness:         "auto",
				CreateResponse:    true,
			},
		},
		Transport: Transport{
			ICEServers:          []string{"stun:stun.l.google.com:19302"},
			ConnectionTimeoutMs: 5000,
		},
	}
}

// Load builds a viper instance seeded with Default()'s values, overridden
// by an optional config file at path and by VOXCODE_-prefixed environment
// variables (nested keys addressed with "."), then decodes and validates
// the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VOXCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	seedDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, events.NewFault(events.DomainConfig, "invalid-endpoint", fmt.Errorf("reading config file %s: %w", path, err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, events.NewFault(events.DomainConfig, "invalid-endpoint", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation and the supplemental
// unsupported-region check, returning a *events.Fault on the config
// domain — always fatal at startup, per §7.
func Validate(cfg Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return events.NewFault(events.DomainConfig, "out-of-range", err)
	}
	if !supportedRegions[cfg.Transport.Region] {
		return events.NewFault(events.DomainConfig, "unsupported-region", fmt.Errorf("region %q is not supported", cfg.Transport.Region))
	}
	return nil
}

func seedDefaults(v *viper.Viper, d Config) {
	v.SetDefault("session.renewalMarginSeconds", d.Session.RenewalMarginSeconds)
	v.SetDefault("session.inactivityTimeoutMinutes", d.Session.InactivityTimeoutMinutes)
	v.SetDefault("session.heartbeatIntervalSeconds", d.Session.HeartbeatIntervalSeconds)
	v.SetDefault("session.maxRetryAttempts", d.Session.MaxRetryAttempts)
	v.SetDefault("session.retryBackoffMs", d.Session.RetryBackoffMs)

	v.SetDefault("conversation.policyProfile", d.Conversation.PolicyProfile)
	v.SetDefault("conversation.allowBargeIn", d.Conversation.AllowBargeIn)
	v.SetDefault("conversation.interruptionBudgetMs", d.Conversation.InterruptionBudgetMs)
	v.SetDefault("conversation.completionGraceMs", d.Conversation.CompletionGraceMs)
	v.SetDefault("conversation.speechStopDebounceMs", d.Conversation.SpeechStopDebounceMs)

	v.SetDefault("audio.sampleRate", d.Audio.SampleRate)
	v.SetDefault("audio.turnDetection.mode", d.Audio.TurnDetection.Mode)
	v.SetDefault("audio.turnDetection.threshold", d.Audio.TurnDetection.Threshold)
	v.SetDefault("audio.turnDetection.prefixPaddingMs", d.Audio.TurnDetection.PrefixPaddingMs)
	v.SetDefault("audio.turnDetection.silenceDurationMs", d.Audio.TurnDetection.SilenceDurationMs)
	v.SetDefault("audio.turnDetection.eagerness", d.Audio.TurnDetection.Eagerness)
	v.SetDefault("audio.turnDetection.createResponse", d.Audio.TurnDetection.CreateResponse)

	v.SetDefault("transport.iceServers", d.Transport.ICEServers)
	v.SetDefault("transport.connectionTimeoutMs", d.Transport.ConnectionTimeoutMs)
	v.SetDefault("transport.endpointUrl", d.Transport.EndpointURL)
	v.SetDefault("transport.region", d.Transport.Region)
}
