package settings

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const schemaVersion = 1

// Routing holds the model-tier selection knobs. Zero values are backfilled
// with defaults on load, so a partial file stays valid.
type Routing struct {
	TokenThreshold    int      `yaml:"token_threshold"`
	LightCapabilities []string `yaml:"light_capabilities,omitempty"`
	CheapModelID      string   `yaml:"cheap_model_id,omitempty"`
	ExpensiveModelID  string   `yaml:"expensive_model_id,omitempty"`
}

// Uploads configures the attachment path.
type Uploads struct {
	CacheTTLDays  int    `yaml:"cache_ttl_days"`
	SweepSchedule string `yaml:"sweep_schedule,omitempty"`
}

// Turns bounds turn execution.
type Turns struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxTokens     int `yaml:"max_tokens"`
}

type Settings struct {
	SchemaVersion int     `yaml:"schema_version"`
	Routing       Routing `yaml:"routing"`
	Uploads       Uploads `yaml:"uploads"`
	Turns         Turns   `yaml:"turns"`
	SystemPrompt  string  `yaml:"system_prompt,omitempty"`
	Debug         bool    `yaml:"debug,omitempty"`
}

// Store reads and writes the settings file. All access is serialized; the
// file on disk is the single source of truth between calls.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, err
	}
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfill(&settings)
	return &settings, nil
}

func (s *Store) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfill(settings)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Update applies fn to the current settings and persists the result.
func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(settings)
	return settings, s.Save(settings)
}

func defaultSettings() *Settings {
	settings := &Settings{SchemaVersion: schemaVersion}
	backfill(settings)
	return settings
}

func backfill(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
	}
	if settings.Routing.TokenThreshold <= 0 {
		settings.Routing.TokenThreshold = 6000
	}
	if settings.Uploads.CacheTTLDays <= 0 {
		settings.Uploads.CacheTTLDays = 30
	}
	if strings.TrimSpace(settings.Uploads.SweepSchedule) == "" {
		settings.Uploads.SweepSchedule = "@hourly"
	}
	if settings.Turns.MaxConcurrent <= 0 {
		settings.Turns.MaxConcurrent = 4
	}
	if settings.Turns.MaxTokens <= 0 {
		settings.Turns.MaxTokens = 4096
	}
}
