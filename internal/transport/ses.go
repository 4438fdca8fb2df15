package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// SESSender sends mail via AWS SES using the SDK v2.
type SESSender struct {
	cfg    domain.ProviderConfig
	client *sesv2.Client
}

// NewSESSender creates an SES binding. If credentials are missing at
// construction time the client stays nil and SendOne fails with a
// provider-level error.
func NewSESSender(cfg domain.ProviderConfig) *SESSender {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	sender := &SESSender{cfg: cfg}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, "")),
		)
		if err != nil {
			logger.Warn("ses client init failed", "provider", cfg.ID, "error", err.Error())
		} else {
			sender.client = sesv2.NewFromConfig(awsCfg)
		}
	}
	return sender
}

func (s *SESSender) Kind() domain.ProviderKind { return domain.ProviderSES }

// SendOne delivers a single message through AWS SES.
func (s *SESSender) SendOne(ctx context.Context, msg *domain.EmailData) (string, error) {
	if s.client == nil {
		return "", &SendError{Class: ClassProviderLevel, Message: "SES client not initialized - check credentials"}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySESError(err)
	}

	logger.Debug("ses send accepted", "provider", s.cfg.ID, "email", msg.To[0], "message_id", aws.ToString(result.MessageId))
	return aws.ToString(result.MessageId), nil
}

// classifySESError maps SDK error strings onto the taxonomy. The SDK wraps
// API faults in typed errors but string matching covers the throttling and
// auth cases uniformly across SDK versions.
func classifySESError(err error) *SendError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "throttl") || strings.Contains(lower, "sending paused") ||
		strings.Contains(lower, "daily message quota"):
		return &SendError{Class: ClassProviderLevel, Message: msg, Err: err}
	case strings.Contains(lower, "not authorized") || strings.Contains(lower, "invalidclienttokenid") ||
		strings.Contains(lower, "signature"):
		return &SendError{Class: ClassProviderLevel, Message: msg, Err: err}
	case strings.Contains(lower, "invalid") && strings.Contains(lower, "address"):
		return &SendError{Class: ClassMessageLevel, Message: msg, Err: err}
	default:
		return &SendError{Class: ClassTransient, Message: msg, Err: err}
	}
}
