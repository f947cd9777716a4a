package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omoide-backend/internal/config"
	"omoide-backend/internal/models"
)

// stubPusher answers pushes from a table keyed by device token.
type stubPusher struct {
	responses map[string]*apns2.Response
	sent      []*apns2.Notification
}

func (p *stubPusher) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	p.sent = append(p.sent, n)
	res, ok := p.responses[n.DeviceToken]
	if !ok {
		return nil, errors.New("connection reset")
	}
	return res, nil
}

func TestNotifyStorybookReady(t *testing.T) {
	devices := &memDevices{}
	ctx := context.Background()
	for _, token := range []string{"good", "gone", "bad", "flaky"} {
		require.NoError(t, devices.Upsert(ctx, &models.Device{UserID: "user-1", PushToken: token}))
	}

	pusher := &stubPusher{responses: map[string]*apns2.Response{
		"good": {StatusCode: http.StatusOK},
		"gone": {StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered},
		"bad":  {StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken},
	}}

	NewAPNsNotifier(pusher, devices, "com.example.omoide").
		NotifyStorybookReady(ctx, "user-1", &models.Storybook{ID: "b1", Title: "はじめての夏", Month: "2024-07"})

	require.Len(t, pusher.sent, 4)
	assert.Equal(t, "com.example.omoide", pusher.sent[0].Topic)
	p, ok := pusher.sent[0].Payload.(*payload.Payload)
	require.True(t, ok)
	body, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"storybookId":"b1"`)

	assert.ElementsMatch(t, []string{"gone", "bad"}, devices.removed)
	tokens, _ := devices.ListTokens(ctx, "user-1")
	assert.ElementsMatch(t, []string{"good", "flaky"}, tokens)
}

func TestNewNotifierWithoutKeyLogsOnly(t *testing.T) {
	n, err := NewNotifier(config.APNsConfig{}, &memDevices{})
	require.NoError(t, err)
	assert.IsType(t, LogNotifier{}, n)
}

func TestNewNotifierMissingKeyFile(t *testing.T) {
	_, err := NewNotifier(config.APNsConfig{KeyFile: "/nonexistent/AuthKey.p8"}, &memDevices{})
	assert.Error(t, err)
}

func TestDeviceService(t *testing.T) {
	devices := &memDevices{}
	svc := NewDeviceService(devices)
	ctx := context.Background()

	require.NoError(t, svc.RegisterDevice(ctx, "user-1", "tok"))
	require.NoError(t, svc.RegisterDevice(ctx, "user-1", "tok"))
	tokens, _ := devices.ListTokens(ctx, "user-1")
	assert.Equal(t, []string{"tok"}, tokens)

	require.NoError(t, svc.UnregisterDevice(ctx, "user-1", "tok"))
	tokens, _ = devices.ListTokens(ctx, "user-1")
	assert.Empty(t, tokens)
}
