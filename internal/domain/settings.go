package domain

// Settings holds the dashboard configuration page values.
type Settings struct {
	Language             string `json:"language"`
	Timezone             string `json:"timezone"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	EmailNotifications   bool   `json:"email_notifications"`
	AutoArchive          bool   `json:"auto_archive"`
	Theme                string `json:"theme"`
	WebhookURL           string `json:"webhook_url"`
}

func DefaultSettings() Settings {
	return Settings{
		Language:             "de",
		Timezone:             "Europe/Berlin",
		NotificationsEnabled: true,
		EmailNotifications:   true,
		AutoArchive:          false,
		Theme:                "system",
		WebhookURL:           "",
	}
}
