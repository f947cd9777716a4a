package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"omoide-backend/internal/config"
	"omoide-backend/internal/models"
)

// Pusher sends one APNs notification
type Pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsNotifier pushes "storybook ready" notifications to a user's devices
type APNsNotifier struct {
	pusher  Pusher
	devices DeviceStore
	topic   string
}

// NewAPNsNotifier creates a notifier from a pusher
func NewAPNsNotifier(pusher Pusher, devices DeviceStore, topic string) *APNsNotifier {
	return &APNsNotifier{pusher: pusher, devices: devices, topic: topic}
}

// NewNotifier builds an APNs token client from configuration, or a notifier
// that only logs when APNs is not configured.
func NewNotifier(cfg config.APNsConfig, devices DeviceStore) (Notifier, error) {
	if cfg.KeyFile == "" {
		log.Info().Msg("APNs not configured, push notifications disabled")
		return LogNotifier{}, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return NewAPNsNotifier(client, devices, cfg.Topic), nil
}

// NotifyStorybookReady pushes to every device of userID. Tokens rejected as
// unregistered are removed.
func (n *APNsNotifier) NotifyStorybookReady(ctx context.Context, userID string, book *models.Storybook) {
	tokens, err := n.devices.ListTokens(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list device tokens")
		return
	}

	p := payload.NewPayload().
		AlertTitle("絵本ができました").
		AlertBody(fmt.Sprintf("「%s」を読んでみましょう", book.Title)).
		Sound("default").
		Custom("storybookId", book.ID).
		Custom("month", book.Month)

	for _, t := range tokens {
		res, err := n.pusher.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: t,
			Topic:       n.topic,
			Payload:     p,
			Expiration:  time.Now().Add(24 * time.Hour),
		})
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to push notification")
			continue
		}
		if res.Sent() {
			continue
		}

		log.Warn().
			Str("user_id", userID).
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("Push notification rejected")

		if res.StatusCode == http.StatusGone || res.Reason == apns2.ReasonBadDeviceToken || res.Reason == apns2.ReasonUnregistered {
			if err := n.devices.Delete(ctx, userID, t); err != nil {
				log.Error().Err(err).Str("user_id", userID).Msg("Failed to remove device token")
			}
		}
	}
}

// LogNotifier logs instead of pushing
type LogNotifier struct{}

// NotifyStorybookReady logs the event
func (LogNotifier) NotifyStorybookReady(_ context.Context, userID string, book *models.Storybook) {
	log.Info().Str("user_id", userID).Str("storybook_id", book.ID).Msg("Storybook ready")
}

// DeviceService registers push notification targets
type DeviceService struct {
	devices DeviceStore
	now     func() time.Time
}

// NewDeviceService creates a device service
func NewDeviceService(devices DeviceStore) *DeviceService {
	return &DeviceService{devices: devices, now: time.Now}
}

// RegisterDevice stores a push token for userID
func (s *DeviceService) RegisterDevice(ctx context.Context, userID, pushToken string) error {
	if err := s.devices.Upsert(ctx, &models.Device{UserID: userID, PushToken: pushToken, CreatedAt: s.now()}); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// UnregisterDevice removes a push token of userID
func (s *DeviceService) UnregisterDevice(ctx context.Context, userID, pushToken string) error {
	if err := s.devices.Delete(ctx, userID, pushToken); err != nil {
		return fmt.Errorf("failed to unregister device: %w", err)
	}
	return nil
}
