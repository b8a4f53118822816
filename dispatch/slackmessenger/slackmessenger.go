package slackmessenger

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/carecoord/welfare-dispatch/conf"
	dispatchaws "github.com/carecoord/welfare-dispatch/dispatch/aws"
	"github.com/carecoord/welfare-dispatch/log"
)

const (
	Good    = "good"
	Warning = "warning"
	Danger  = "danger"
)

// Page is a human-visible notification for on-call dispatch staff.
type Page struct {
	Title  string
	Text   string
	Color  string
	Fields map[string]string
}

// Notifier pages staff about emergencies and failures that need a human.
type Notifier interface {
	Page(ctx context.Context, page Page) error
}

type Config struct {
	Token      string `conf:"SLACK_TOKEN"`
	TokenParam string `conf:"SLACK_TOKEN_PARAM"`
	Channel    string `conf:"SLACK_ALERT_CHANNEL" conf_default:"#welfare-dispatch-alerts"`
	AWSRoleArn string `conf:"AWS_ROLE_ARN"`
	AWSRegion  string `conf:"AWS_REGION" conf_default:"us-east-1"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Makes this easier to mock and unit test
var getParameter = func(cfg *Config) (string, error) {
	sess, err := dispatchaws.NewSession(cfg.AWSRoleArn, cfg.AWSRegion)
	if err != nil {
		return "", err
	}
	return dispatchaws.GetParameter(sess, cfg.TokenParam)
}

// NewNotifier returns a Slack-backed notifier when a token is available,
// either directly or through the parameter store. Otherwise pages are logged.
func NewNotifier(cfg *Config) (Notifier, error) {
	token := cfg.Token
	if token == "" && cfg.TokenParam != "" {
		var err error
		if token, err = getParameter(cfg); err != nil {
			return nil, fmt.Errorf("failed to load slack token: %w", err)
		}
	}
	if token == "" {
		log.API.Warn("No slack token configured, pages will only be logged")
		return LogNotifier{Logger: log.API}, nil
	}
	return &Messenger{Client: slack.New(token), Channel: cfg.Channel}, nil
}

// Messenger posts pages to a Slack channel.
type Messenger struct {
	Client  *slack.Client
	Channel string
}

func (m *Messenger) Page(ctx context.Context, page Page) error {
	return SendSlackMessage(ctx, m.Client, m.Channel, page)
}

func SendSlackMessage(ctx context.Context, sc *slack.Client, channel string, page Page) error {
	color := page.Color
	if color == "" {
		color = Danger
	}

	a := slack.Attachment{
		Color:  color,
		Title:  page.Title,
		Text:   page.Text,
		Fields: attachmentFields(page.Fields),
	}
	_, _, err := sc.PostMessageContext(ctx, channel, slack.MsgOptionAttachments(a))
	if err != nil {
		log.API.Errorf("Failed to send slack message: %+v", err)
		return err
	}
	return nil
}

func attachmentFields(fields map[string]string) []slack.AttachmentField {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]slack.AttachmentField, 0, len(keys))
	for _, k := range keys {
		out = append(out, slack.AttachmentField{Title: k, Value: fields[k], Short: true})
	}
	return out
}

// LogNotifier logs pages instead of sending them.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (l LogNotifier) Page(_ context.Context, page Page) error {
	fields := logrus.Fields{"page_title": page.Title, "page_color": page.Color}
	for k, v := range page.Fields {
		fields[k] = v
	}
	l.Logger.WithFields(fields).Warn(page.Text)
	return nil
}
