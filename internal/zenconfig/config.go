// Package zenconfig loads server configuration: provider credentials, the
// capability catalog, and the model restriction policy. The loader shape —
// koanf instance + file provider + env-var overlay + optional file-watch
// reload — is adapted from the teacher's pkg/config.Loader
// (koanf_loader.go), narrowed to the file/env providers since this
// deployment has no etcd/consul/zookeeper backend to target (see DESIGN.md).
package zenconfig

import (
	"fmt"
	"log"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jukasdrj/zen-mcp-server/internal/capability"
)

// envPrefix namespaces environment overrides, matching the teacher's
// ENV-as-overlay convention (e.g. ZEN_PROVIDERS_OPENAI_API_KEY).
const envPrefix = "ZEN_"

// ProviderCredential is one vendor's API key/base URL pair.
type ProviderCredential struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// ModelEntry describes one catalog entry as read from config, mirroring
// capability.Options' exported fields in snake_case.
type ModelEntry struct {
	ModelName               string   `koanf:"model_name"`
	FriendlyName            string   `koanf:"friendly_name"`
	Aliases                 []string `koanf:"aliases"`
	ContextWindowTokens     int      `koanf:"context_window_tokens"`
	MaxOutputTokens         int      `koanf:"max_output_tokens"`
	SupportsExtendedThinking bool    `koanf:"supports_extended_thinking"`
	SupportsSystemPrompts   bool     `koanf:"supports_system_prompts"`
	SupportsStreaming       bool     `koanf:"supports_streaming"`
	SupportsFunctionCalling bool     `koanf:"supports_function_calling"`
	SupportsJSONMode        bool     `koanf:"supports_json_mode"`
	SupportsImages          bool     `koanf:"supports_images"`
	SupportsTemperature     bool     `koanf:"supports_temperature"`
	MaxImageBytes           int      `koanf:"max_image_bytes"`
	IntelligenceScore       int      `koanf:"intelligence_score"`
	AllowCodeGeneration     bool     `koanf:"allow_code_generation"`
	Provider                string   `koanf:"provider"`
}

// ToDescriptorOptions converts a config entry into capability.Options.
func (m ModelEntry) ToDescriptorOptions() capability.Options {
	return capability.Options{
		ModelName:                m.ModelName,
		FriendlyName:             m.FriendlyName,
		Aliases:                  m.Aliases,
		ContextWindowTokens:      m.ContextWindowTokens,
		MaxOutputTokens:          m.MaxOutputTokens,
		SupportsExtendedThinking: m.SupportsExtendedThinking,
		SupportsSystemPrompts:    m.SupportsSystemPrompts,
		SupportsStreaming:        m.SupportsStreaming,
		SupportsFunctionCalling:  m.SupportsFunctionCalling,
		SupportsJSONMode:         m.SupportsJSONMode,
		SupportsImages:           m.SupportsImages,
		SupportsTemperature:      m.SupportsTemperature,
		MaxImageBytes:            m.MaxImageBytes,
		IntelligenceScore:        m.IntelligenceScore,
		AllowCodeGeneration:      m.AllowCodeGeneration,
		ProviderType:             capability.ProviderType(m.Provider),
	}
}

// RestrictionPolicyConfig is the allow/deny list read from config (spec
// §4.2 point 2 "restriction policy").
type RestrictionPolicyConfig struct {
	AllowedModels []string `koanf:"allowed_models"`
	DeniedModels  []string `koanf:"denied_models"`
}

// Config is the fully-unmarshaled server configuration.
type Config struct {
	Providers    map[string]ProviderCredential `koanf:"providers"`
	Models       []ModelEntry                  `koanf:"models"`
	Restriction  RestrictionPolicyConfig        `koanf:"restriction"`
	CategoryTimeoutsMS map[string]int           `koanf:"category_timeouts_ms"`
}

// Loader wraps a koanf instance bound to a YAML file plus an env-var
// overlay, with an optional on-change callback for hot reload.
type Loader struct {
	k        *koanf.Koanf
	path     string
	provider *file.Provider
	onChange func(*Config)
}

// NewLoader constructs a Loader rooted at path (a YAML file).
func NewLoader(path string) *Loader {
	return &Loader{k: koanf.New("."), path: path, provider: file.Provider(path)}
}

// SetOnChange installs the callback invoked after a successful reload
// (spec's ambient "restriction policy hot-reload" requirement).
func (l *Loader) SetOnChange(cb func(*Config)) { l.onChange = cb }

// Load reads the YAML file, then overlays ZEN_-prefixed environment
// variables, and unmarshals into a Config.
func (l *Loader) Load() (*Config, error) {
	if err := l.k.Load(l.provider, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("zenconfig: failed to load %s: %w", l.path, err)
	}
	if err := l.loadEnvOverlay(); err != nil {
		return nil, err
	}
	return l.unmarshal()
}

// fileWatcher is the subset of koanf.Provider the file provider satisfies,
// backed by fsnotify internally. Matches the teacher's pkg/config.Watcher
// duck-typed cast in koanf_loader.go, which lets the same watch loop support
// whichever provider backend is active.
type fileWatcher interface {
	Watch(cb func(event interface{}, err error)) error
}

// Watch starts the file provider's fsnotify-backed watch and triggers
// Reload on every change event, until stop is closed. Without a caller
// driving this loop, Reload is only reachable from tests — Watch is what
// makes the "hot" in hot-reload actually true in the running server.
func (l *Loader) Watch(stop <-chan struct{}) {
	watcher, ok := any(l.provider).(fileWatcher)
	if !ok {
		log.Printf("⚠️  zenconfig: file provider does not support watching")
		return
	}
	log.Printf("🔄 zenconfig: config watcher started for %s", l.path)
	err := watcher.Watch(func(event interface{}, err error) {
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			log.Printf("⚠️  zenconfig: watch error: %v", err)
			return
		}
		if _, reloadErr := l.Reload(); reloadErr != nil {
			log.Printf("⚠️  zenconfig: reload triggered by watch failed: %v", reloadErr)
		}
	})
	if err != nil {
		log.Printf("⚠️  zenconfig: watch stopped with error: %v", err)
	}
}

func (l *Loader) loadEnvOverlay() error {
	provider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		// providers_<name>_<field>: only the first two underscores separate
		// levels, so field names such as api_key keep their underscore.
		if rest, ok := strings.CutPrefix(s, "providers_"); ok {
			if name, field, ok := strings.Cut(rest, "_"); ok {
				return "providers." + name + "." + field
			}
		}
		return strings.ReplaceAll(s, "_", ".")
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("zenconfig: failed to overlay environment variables: %w", err)
	}
	return nil
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("zenconfig: failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Reload re-reads the file and env overlay, invoking OnChange on success.
// Watch is the caller that drives this from the running server; tests call
// it directly to exercise the reload/callback path without a watcher.
func (l *Loader) Reload() (*Config, error) {
	l.k = koanf.New(".")
	cfg, err := l.Load()
	if err != nil {
		log.Printf("⚠️  zenconfig: reload failed: %v", err)
		return nil, err
	}
	if l.onChange != nil {
		l.onChange(cfg)
	}
	log.Printf("✅ zenconfig: configuration reloaded from %s", l.path)
	return cfg, nil
}
