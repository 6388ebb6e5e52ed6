package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/redis/go-redis/v9"

	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// Payload is the JSON body sent by the webhook and redis channels
type Payload struct {
	Event     types.EventKind `json:"event"`
	Alert     *types.Alert    `json:"alert"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

func newPayload(ev types.Event) Payload {
	return Payload{Event: ev.Kind, Alert: ev.Alert, Timestamp: ev.Timestamp, Source: "tradewatch"}
}

// subject builds a one-line title for an event
func subject(ev types.Event) string {
	a := ev.Alert
	return fmt.Sprintf("[%s] %s %s/%s", a.Level, strings.ToUpper(string(ev.Kind)), a.Component, a.AlertType)
}

// body builds the plain-text message used by log and email channels
func body(ev types.Event) string {
	a := ev.Alert
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n\n", subject(ev), a.Message)
	fmt.Fprintf(&b, "Component: %s\nType: %s\nLevel: %s\n", a.Component, a.AlertType, a.Level)
	fmt.Fprintf(&b, "Value: %g\nThreshold: %g\nOccurrences: %d\n", a.Value, a.Threshold, a.Count)
	fmt.Fprintf(&b, "Alert ID: %s\nTime: %s\n", a.ID, ev.Timestamp.Format(time.RFC3339))
	return b.String()
}

// LogChannel writes events to the structured log
type LogChannel struct {
	log logger.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(log logger.Logger) *LogChannel {
	return &LogChannel{log: log.WithField("channel", "log")}
}

func (lc *LogChannel) Name() string { return "log" }

func (lc *LogChannel) Notify(ctx context.Context, ev types.Event) error {
	fields := []interface{}{
		"alert_id", ev.Alert.ID,
		"target", ev.Alert.Component,
		"alert_type", ev.Alert.AlertType,
		"level", ev.Alert.Level,
		"event", ev.Kind,
	}
	switch {
	case ev.Kind == types.EventResolved:
		lc.log.Info(subject(ev), fields...)
	case ev.Alert.Level.AtLeast(types.LevelError):
		lc.log.Error(subject(ev), fields...)
	default:
		lc.log.Warn(subject(ev), fields...)
	}
	return nil
}

// WebhookChannel posts events as JSON. With a secret set, requests carry
// an HMAC-SHA256 signature of "timestamp\nbody".
type WebhookChannel struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(url, secret string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, secret: secret, client: client}
}

func (wc *WebhookChannel) Name() string { return "webhook:" + wc.url }

func (wc *WebhookChannel) Notify(ctx context.Context, ev types.Event) error {
	data, err := json.Marshal(newPayload(ev))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if wc.secret != "" {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-Tradewatch-Timestamp", ts)
		req.Header.Set("X-Tradewatch-Signature", Sign(wc.secret, ts, data))
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of "timestamp\nbody"
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SESAPI is the subset of the SES v2 client used by EmailChannel
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailChannel sends events through Amazon SES
type EmailChannel struct {
	client SESAPI
	from   string
	to     []string
}

// NewEmailChannel creates an email channel on an existing SES client
func NewEmailChannel(client SESAPI, from string, to []string) *EmailChannel {
	return &EmailChannel{client: client, from: from, to: to}
}

// NewSESEmailChannel loads the default AWS configuration for region and
// creates an email channel.
func NewSESEmailChannel(ctx context.Context, region, from string, to []string) (*EmailChannel, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewEmailChannel(sesv2.NewFromConfig(cfg), from, to), nil
}

func (ec *EmailChannel) Name() string { return "email" }

func (ec *EmailChannel) Notify(ctx context.Context, ev types.Event) error {
	if len(ec.to) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(ec.from),
		Destination: &sestypes.Destination{
			ToAddresses: ec.to,
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data: aws.String(subject(ev)),
				},
				Body: &sestypes.Body{
					Text: &sestypes.Content{
						Data: aws.String(body(ev)),
					},
				},
			},
		},
	}
	if _, err := ec.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// RedisChannel publishes events on a redis pub/sub channel
type RedisChannel struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisChannel creates a redis publisher
func NewRedisChannel(client redis.UniversalClient, channel string) *RedisChannel {
	if channel == "" {
		channel = "tradewatch:alerts"
	}
	return &RedisChannel{client: client, channel: channel}
}

func (rc *RedisChannel) Name() string { return "redis:" + rc.channel }

func (rc *RedisChannel) Notify(ctx context.Context, ev types.Event) error {
	data, err := json.Marshal(newPayload(ev))
	if err != nil {
		return err
	}
	return rc.client.Publish(ctx, rc.channel, data).Err()
}
