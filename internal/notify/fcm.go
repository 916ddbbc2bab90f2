package notify

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/gmsas95/vitalwatch/internal/store"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Devices resolves and maintains a user's push targets
type Devices interface {
	ListDevices(ctx context.Context, userID string) ([]store.Device, error)
	UpdateDevice(ctx context.Context, d *store.Device) error
	DisableDevice(ctx context.Context, token string) error
}

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender pushes notifications through Firebase Cloud Messaging
type FCMSender struct {
	client  multicastClient
	devices Devices
	logger  *zap.Logger
}

// NewFCMSender initialises Firebase with the service account at
// credentialsFile, or application default credentials when empty.
func NewFCMSender(ctx context.Context, credentialsFile string, devices Devices, logger *zap.Logger) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return &FCMSender{client: client, devices: devices, logger: logger}, nil
}

func (s *FCMSender) Name() string { return "fcm" }

func (s *FCMSender) Send(ctx context.Context, n *Notification) error {
	devices, err := s.devices.ListDevices(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.client.SendEachForMulticast(ctx, buildMulticast(n, tokens))
	if err != nil {
		return fmt.Errorf("fcm multicast failed: %w", err)
	}

	for i, r := range resp.Responses {
		if r.Success || i >= len(tokens) {
			continue
		}
		if messaging.IsUnregistered(r.Error) {
			if err := s.devices.DisableDevice(ctx, tokens[i]); err != nil {
				s.logger.Warn("Failed to disable stale device", zap.Error(err))
			}
		}
	}

	if resp.SuccessCount == 0 {
		return fmt.Errorf("fcm delivered to none of %d devices", len(tokens))
	}
	return nil
}

func buildMulticast(n *Notification, tokens []string) *messaging.MulticastMessage {
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["kind"] = string(n.Kind)

	androidPriority, apnsPriority := "normal", "5"
	notifPriority := messaging.PriorityDefault
	if n.Priority == PriorityHigh {
		androidPriority, apnsPriority = "high", "10"
		notifPriority = messaging.PriorityHigh
	}
	if n.Kind == KindEmergency {
		notifPriority = messaging.PriorityMax
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				Priority:  notifPriority,
				ChannelID: "health-" + string(n.Kind),
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": apnsPriority,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: n.Title,
						Body:  n.Body,
					},
					Sound: "default",
				},
			},
		},
	}
}
