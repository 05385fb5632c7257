// Package config loads and validates the automation settings file.
// The file is a JSON object with sections (paths, business_logic,
// automation_settings, selectors, browser, notifications); keys starting
// with "_" are comments and unknown keys are ignored for forward
// compatibility. Validation happens once at load time and fails fast on
// any missing or out-of-range field.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultFileName is the settings file looked up next to the binary when
// --config is not given.
const DefaultFileName = "app_config.json"

// Config is the validated run configuration. It is immutable for the
// duration of a run.
type Config struct {
	AppName   string
	DebugMode bool

	// BaseDir anchors every relative path in the file. It is the
	// directory containing the settings file.
	BaseDir string

	CSVPath        string
	TemplatePaths  map[string]string // category -> template file
	SummaryCSVPath string
	HistoryDBPath  string
	Profiles       map[string]string // profile id -> user data dir

	HearingDateOffsetDays int
	FutureDateOffsetDays  int
	CSVMaxAgeHours        int
	CSVWarningAgeHours    int
	SelectedCategories    []string
	DefaultRegion         string

	MaxSessionRetries       int
	MessageSendDelaySeconds int
	MaxMessageRetries       int
	WebDriverTimeoutSeconds int
	LoginTimeoutSeconds     int
	CleanupPauseSeconds     int

	SendButtonSelectors     []string
	ChatLoadedSelectors     []string
	SessionSelectors        []string
	QRCodeSelectors         []string
	InvalidContactSelectors []string

	BrowserArguments []string
	Headless         bool

	NotificationContacts []string
}

// Error reports an invalid or missing configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

// rawConfig mirrors the on-disk layout. Required numeric fields are
// pointers so a missing key is distinguishable from zero.
type rawConfig struct {
	Application struct {
		Name      string `json:"name"`
		DebugMode bool   `json:"debug_mode"`
	} `json:"application"`

	Paths struct {
		CSVPath        string            `json:"csv_path"`
		Templates      map[string]string `json:"templates"`
		SummaryCSVPath string            `json:"summary_csv_path"`
		HistoryDBPath  string            `json:"history_db_path"`
		Profiles       map[string]string `json:"profiles"`
	} `json:"paths"`

	BusinessLogic struct {
		HearingDateOffsetDays *int     `json:"hearing_date_offset_days"`
		FutureDateOffsetDays  *int     `json:"future_date_offset_days"`
		CSVMaxAgeHours        *int     `json:"csv_max_age_hours"`
		CSVWarningAgeHours    int      `json:"csv_warning_age_hours"`
		SelectedCategories    []string `json:"selected_categories"`
		DefaultRegion         string   `json:"default_region"`
	} `json:"business_logic"`

	AutomationSettings struct {
		MaxSessionRetries       *int `json:"max_session_retries"`
		MessageSendDelaySeconds *int `json:"message_send_delay"`
		MaxMessageRetries       *int `json:"max_message_retries"`
		WebDriverTimeoutSeconds *int `json:"webdriver_timeout"`
		LoginTimeoutSeconds     int  `json:"login_timeout"`
		CleanupPauseSeconds     int  `json:"cleanup_pause_seconds"`
	} `json:"automation_settings"`

	Selectors struct {
		SendButton     []string `json:"send_button_selectors"`
		ChatLoaded     []string `json:"chat_loaded_selectors"`
		Session        []string `json:"session_selectors"`
		QRCode         []string `json:"qr_code_selectors"`
		InvalidContact []string `json:"invalid_contact_selectors"`
	} `json:"selectors"`

	Browser struct {
		Arguments []string `json:"arguments"`
		Headless  bool     `json:"headless"`
	} `json:"browser"`

	Notifications struct {
		Contact1 string `json:"contact1"`
		Contact2 string `json:"contact2"`
	} `json:"notifications"`
}

// Load reads, decodes, and validates the settings file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Field: "file", Reason: fmt.Sprintf("settings file not found: %s", path)}
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Field: "file", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config directory: %w", err)
	}

	return raw.build(baseDir)
}

func (r *rawConfig) build(baseDir string) (*Config, error) {
	cfg := &Config{
		AppName:   r.Application.Name,
		DebugMode: r.Application.DebugMode,
		BaseDir:   baseDir,
	}
	if cfg.AppName == "" {
		cfg.AppName = "courtnotify"
	}

	// Required business-logic fields.
	if r.BusinessLogic.HearingDateOffsetDays == nil {
		return nil, &Error{Field: "business_logic.hearing_date_offset_days", Reason: "required key missing"}
	}
	if r.BusinessLogic.FutureDateOffsetDays == nil {
		return nil, &Error{Field: "business_logic.future_date_offset_days", Reason: "required key missing"}
	}
	if r.BusinessLogic.CSVMaxAgeHours == nil {
		return nil, &Error{Field: "business_logic.csv_max_age_hours", Reason: "required key missing"}
	}
	if len(r.BusinessLogic.SelectedCategories) == 0 {
		return nil, &Error{Field: "business_logic.selected_categories", Reason: "required key missing or empty"}
	}
	cfg.HearingDateOffsetDays = *r.BusinessLogic.HearingDateOffsetDays
	cfg.FutureDateOffsetDays = *r.BusinessLogic.FutureDateOffsetDays
	cfg.CSVMaxAgeHours = *r.BusinessLogic.CSVMaxAgeHours
	cfg.CSVWarningAgeHours = r.BusinessLogic.CSVWarningAgeHours
	cfg.SelectedCategories = append([]string(nil), r.BusinessLogic.SelectedCategories...)
	cfg.DefaultRegion = r.BusinessLogic.DefaultRegion
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "IN"
	}

	if cfg.HearingDateOffsetDays < 0 {
		return nil, &Error{Field: "business_logic.hearing_date_offset_days", Reason: "must be >= 0"}
	}
	if cfg.CSVMaxAgeHours <= 0 {
		return nil, &Error{Field: "business_logic.csv_max_age_hours", Reason: "must be > 0"}
	}
	if cfg.CSVWarningAgeHours < 0 {
		return nil, &Error{Field: "business_logic.csv_warning_age_hours", Reason: "must be >= 0"}
	}

	// Required automation settings.
	if r.AutomationSettings.MaxSessionRetries == nil {
		return nil, &Error{Field: "automation_settings.max_session_retries", Reason: "required key missing"}
	}
	if r.AutomationSettings.MessageSendDelaySeconds == nil {
		return nil, &Error{Field: "automation_settings.message_send_delay", Reason: "required key missing"}
	}
	if r.AutomationSettings.MaxMessageRetries == nil {
		return nil, &Error{Field: "automation_settings.max_message_retries", Reason: "required key missing"}
	}
	if r.AutomationSettings.WebDriverTimeoutSeconds == nil {
		return nil, &Error{Field: "automation_settings.webdriver_timeout", Reason: "required key missing"}
	}
	cfg.MaxSessionRetries = *r.AutomationSettings.MaxSessionRetries
	cfg.MessageSendDelaySeconds = *r.AutomationSettings.MessageSendDelaySeconds
	cfg.MaxMessageRetries = *r.AutomationSettings.MaxMessageRetries
	cfg.WebDriverTimeoutSeconds = *r.AutomationSettings.WebDriverTimeoutSeconds
	cfg.LoginTimeoutSeconds = r.AutomationSettings.LoginTimeoutSeconds
	cfg.CleanupPauseSeconds = r.AutomationSettings.CleanupPauseSeconds
	if cfg.LoginTimeoutSeconds == 0 {
		cfg.LoginTimeoutSeconds = 60
	}

	if cfg.MaxSessionRetries < 1 {
		return nil, &Error{Field: "automation_settings.max_session_retries", Reason: "must be >= 1"}
	}
	if cfg.MessageSendDelaySeconds < 0 {
		return nil, &Error{Field: "automation_settings.message_send_delay", Reason: "must be >= 0"}
	}
	if cfg.MaxMessageRetries < 0 {
		return nil, &Error{Field: "automation_settings.max_message_retries", Reason: "must be >= 0"}
	}
	if cfg.WebDriverTimeoutSeconds <= 0 {
		return nil, &Error{Field: "automation_settings.webdriver_timeout", Reason: "must be > 0"}
	}
	if cfg.LoginTimeoutSeconds <= 0 {
		return nil, &Error{Field: "automation_settings.login_timeout", Reason: "must be > 0"}
	}
	if cfg.CleanupPauseSeconds < 0 {
		return nil, &Error{Field: "automation_settings.cleanup_pause_seconds", Reason: "must be >= 0"}
	}

	// Paths with defaults, anchored at BaseDir.
	cfg.CSVPath = r.Paths.CSVPath
	if cfg.CSVPath == "" {
		cfg.CSVPath = "data/clients.csv"
	}
	cfg.SummaryCSVPath = r.Paths.SummaryCSVPath
	if cfg.SummaryCSVPath == "" {
		cfg.SummaryCSVPath = "output/MessageSummary.csv"
	}
	cfg.HistoryDBPath = r.Paths.HistoryDBPath
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "output/run_history.db"
	}

	cfg.TemplatePaths = map[string]string{
		"Active":               "templates/active_message.txt",
		"Inactive":             "templates/inactive_message.txt",
		"NoClientsInstruction": "templates/no_instruction_message.txt",
	}
	for cat, p := range r.Paths.Templates {
		if p == "" {
			return nil, &Error{Field: "paths.templates." + cat, Reason: "template path is empty"}
		}
		cfg.TemplatePaths[cat] = p
	}

	cfg.Profiles = map[string]string{
		"shs": "user_data/profile_shs",
		"sud": "user_data/profile_sud",
	}
	for id, dir := range r.Paths.Profiles {
		if dir == "" {
			return nil, &Error{Field: "paths.profiles." + id, Reason: "profile directory is empty"}
		}
		cfg.Profiles[id] = dir
	}

	cfg.CSVPath = cfg.resolve(cfg.CSVPath)
	cfg.SummaryCSVPath = cfg.resolve(cfg.SummaryCSVPath)
	cfg.HistoryDBPath = cfg.resolve(cfg.HistoryDBPath)
	for cat, p := range cfg.TemplatePaths {
		cfg.TemplatePaths[cat] = cfg.resolve(p)
	}
	for id, dir := range cfg.Profiles {
		cfg.Profiles[id] = cfg.resolve(dir)
	}

	// Selected categories must map to known templates before any
	// dispatch happens; a miss is a configuration error, not a
	// runtime one.
	for _, cat := range cfg.SelectedCategories {
		if _, ok := cfg.TemplatePaths[cat]; !ok {
			return nil, &Error{
				Field:  "business_logic.selected_categories",
				Reason: fmt.Sprintf("category %q has no template configured", cat),
			}
		}
	}

	cfg.SendButtonSelectors = withDefault(r.Selectors.SendButton, defaultSendButtonSelectors)
	cfg.ChatLoadedSelectors = withDefault(r.Selectors.ChatLoaded, defaultChatLoadedSelectors)
	cfg.SessionSelectors = withDefault(r.Selectors.Session, defaultSessionSelectors)
	cfg.QRCodeSelectors = withDefault(r.Selectors.QRCode, defaultQRCodeSelectors)
	cfg.InvalidContactSelectors = withDefault(r.Selectors.InvalidContact, defaultInvalidContactSelectors)
	if len(cfg.SendButtonSelectors) == 0 {
		return nil, &Error{Field: "selectors.send_button_selectors", Reason: "must not be empty"}
	}

	cfg.BrowserArguments = append([]string(nil), r.Browser.Arguments...)
	cfg.Headless = r.Browser.Headless

	for _, c := range []string{r.Notifications.Contact1, r.Notifications.Contact2} {
		if c != "" {
			cfg.NotificationContacts = append(cfg.NotificationContacts, c)
		}
	}

	return cfg, nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

func withDefault(v, def []string) []string {
	if len(v) == 0 {
		return append([]string(nil), def...)
	}
	return append([]string(nil), v...)
}

// ProfileDir returns the user-data directory for a profile id.
func (c *Config) ProfileDir(profile string) (string, error) {
	dir, ok := c.Profiles[profile]
	if !ok {
		return "", &Error{Field: "paths.profiles", Reason: fmt.Sprintf("unknown profile %q", profile)}
	}
	return dir, nil
}

// ProfileIDs returns the configured profile ids in sorted order.
func (c *Config) ProfileIDs() []string {
	ids := make([]string, 0, len(c.Profiles))
	for id := range c.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MessageSendDelay is the paced delay between recipients and between
// submission retries.
func (c *Config) MessageSendDelay() time.Duration {
	return time.Duration(c.MessageSendDelaySeconds) * time.Second
}

// WebDriverTimeout bounds individual waits against the messaging UI.
func (c *Config) WebDriverTimeout() time.Duration {
	return time.Duration(c.WebDriverTimeoutSeconds) * time.Second
}

// LoginTimeout bounds the wait for login markers after a QR challenge.
func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// CSVMaxAge is the fatal staleness threshold for the client dataset.
func (c *Config) CSVMaxAge() time.Duration {
	return time.Duration(c.CSVMaxAgeHours) * time.Hour
}

// CSVWarningAge is the warn-only staleness threshold.
func (c *Config) CSVWarningAge() time.Duration {
	return time.Duration(c.CSVWarningAgeHours) * time.Hour
}

// CleanupPause is the settle pause before the session is torn down.
func (c *Config) CleanupPause() time.Duration {
	return time.Duration(c.CleanupPauseSeconds) * time.Second
}
