package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

type snsAPI interface {
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
	CreatePlatformEndpoint(ctx context.Context, params *awssns.CreatePlatformEndpointInput, optFns ...func(*awssns.Options)) (*awssns.CreatePlatformEndpointOutput, error)
}

// SNSSender pushes notifications through AWS SNS mobile endpoints
type SNSSender struct {
	client      snsAPI
	platformARN string
	devices     Devices
	logger      *zap.Logger
}

// NewSNSSender loads the default AWS credential chain for region
func NewSNSSender(ctx context.Context, region, platformARN string, devices Devices, logger *zap.Logger) (*SNSSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &SNSSender{
		client:      awssns.NewFromConfig(cfg),
		platformARN: platformARN,
		devices:     devices,
		logger:      logger,
	}, nil
}

func (s *SNSSender) Name() string { return "sns" }

func (s *SNSSender) Send(ctx context.Context, n *Notification) error {
	devices, err := s.devices.ListDevices(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	raw, err := snsMessage(n)
	if err != nil {
		return err
	}

	var lastErr error
	sent := 0
	for i := range devices {
		d := &devices[i]
		if d.EndpointARN == "" {
			out, err := s.client.CreatePlatformEndpoint(ctx, &awssns.CreatePlatformEndpointInput{
				PlatformApplicationArn: aws.String(s.platformARN),
				Token:                  aws.String(d.Token),
			})
			if err != nil {
				lastErr = err
				continue
			}
			d.EndpointARN = aws.ToString(out.EndpointArn)
			if err := s.devices.UpdateDevice(ctx, d); err != nil {
				s.logger.Warn("Failed to store SNS endpoint", zap.String("device_id", d.ID), zap.Error(err))
			}
		}

		if _, err := s.client.Publish(ctx, &awssns.PublishInput{
			MessageStructure: aws.String("json"),
			Message:          aws.String(raw),
			TargetArn:        aws.String(d.EndpointARN),
		}); err != nil {
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return fmt.Errorf("sns publish failed: %w", lastErr)
	}
	return nil
}

// snsMessage builds the per-protocol JSON envelope SNS expects
func snsMessage(n *Notification) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		"data": n.Data,
	})
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{"title": n.Title, "body": n.Body},
			"sound": "default",
		},
	})
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(map[string]string{
		"default":      n.Body,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
