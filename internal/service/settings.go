package service

import (
	"net/url"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

var (
	supportedLanguages = map[string]struct{}{"de": {}, "en": {}, "fr": {}}
	supportedThemes    = map[string]struct{}{"system": {}, "light": {}, "dark": {}}
)

// SettingsPatch is a partial settings update. Nil fields are left untouched.
type SettingsPatch struct {
	Language             *string `json:"language"`
	Timezone             *string `json:"timezone"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
	EmailNotifications   *bool   `json:"email_notifications"`
	AutoArchive          *bool   `json:"auto_archive"`
	Theme                *string `json:"theme"`
	WebhookURL           *string `json:"webhook_url"`
}

type SettingsService struct {
	mu       sync.RWMutex
	settings domain.Settings
	location *time.Location
}

func NewSettingsService(initial domain.Settings) *SettingsService {
	location, err := time.LoadLocation(initial.Timezone)
	if err != nil {
		location = time.UTC
	}
	return &SettingsService{settings: initial, location: location}
}

func (s *SettingsService) Get() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Location is the timezone used for day boundaries in metrics.
func (s *SettingsService) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}

// Update validates the whole patch before applying any of it.
func (s *SettingsService) Update(patch SettingsPatch) (domain.Settings, error) {
	s.mu.RLock()
	next := s.settings
	location := s.location
	s.mu.RUnlock()

	if patch.Language != nil {
		language := strings.ToLower(strings.TrimSpace(*patch.Language))
		if _, ok := supportedLanguages[language]; !ok {
			return domain.Settings{}, domain.NewValidationError("language", "must be one of de, en, fr")
		}
		next.Language = language
	}
	if patch.Timezone != nil {
		timezone := strings.TrimSpace(*patch.Timezone)
		loaded, err := time.LoadLocation(timezone)
		if err != nil || timezone == "" {
			return domain.Settings{}, domain.NewValidationError("timezone", "unknown timezone")
		}
		next.Timezone = timezone
		location = loaded
	}
	if patch.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*patch.Theme))
		if _, ok := supportedThemes[theme]; !ok {
			return domain.Settings{}, domain.NewValidationError("theme", "must be one of system, light, dark")
		}
		next.Theme = theme
	}
	if patch.WebhookURL != nil {
		webhook := strings.TrimSpace(*patch.WebhookURL)
		if webhook != "" {
			parsed, err := url.Parse(webhook)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return domain.Settings{}, domain.NewValidationError("webhook_url", "must be an absolute http(s) url")
			}
		}
		next.WebhookURL = webhook
	}
	if patch.NotificationsEnabled != nil {
		next.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.EmailNotifications != nil {
		next.EmailNotifications = *patch.EmailNotifications
	}
	if patch.AutoArchive != nil {
		next.AutoArchive = *patch.AutoArchive
	}

	s.mu.Lock()
	s.settings = next
	s.location = location
	s.mu.Unlock()
	return next, nil
}
