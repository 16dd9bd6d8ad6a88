package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openmates/core/internal/models"
	"github.com/openmates/core/internal/settings"
)

type emailNotificationSettingsPayload struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"`
}

// handleEmailNotificationSettings is the one preference the server needs
// to read in the clear (to decide whether/when to send an email), so it
// is Transit-wrapped rather than client-encrypted like chat content.
func handleEmailNotificationSettings(ctx context.Context, s *Session, payload json.RawMessage) error {
	var p emailNotificationSettingsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding email_notification_settings: %w", err)
	}
	err := s.Settings.SetEmailNotificationSettings(ctx, models.UserIDHash(s.UserID), settings.EmailNotificationSettings{
		Enabled:   p.Enabled,
		Frequency: p.Frequency,
	})
	if err != nil {
		return err
	}
	s.Send("email_notification_settings_saved", p)
	return nil
}
