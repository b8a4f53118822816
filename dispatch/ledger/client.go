package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"

	dispatcherrors "github.com/carecoord/welfare-dispatch/dispatch/errors"
	"github.com/carecoord/welfare-dispatch/log"
)

// Client reads check-ins from the check-in service over HTTP. Connection
// failures and 5xx responses are retried; 404 means the person has no check-in.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	logger     logrus.FieldLogger
}

type lastCheckInResponse struct {
	PersonID      string    `json:"personId"`
	LastCheckInAt time.Time `json:"lastCheckInAt"`
}

func NewClient(cfg *Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = leveledLogger{logger: log.Worker}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		httpClient: rc,
		logger:     log.Worker,
	}
}

func (c *Client) LastCheckInAt(ctx context.Context, personID string) (*time.Time, error) {
	endpoint := fmt.Sprintf("%s/people/%s/last-check-in", c.baseURL, url.PathEscape(personID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	reqID := uuid.NewRandom()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"ledger_request_id": reqID.String(), "person_id": personID}).
			Warnf("Ledger request failed: %s", err.Error())
		return nil, &dispatcherrors.UpstreamError{Err: err, Source: "ledger"}
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"ledger_request_id": reqID.String(),
		"resp_code":         resp.StatusCode,
		"person_id":         personID,
	}).Debug("Ledger response")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, &dispatcherrors.UpstreamError{
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
			Source: "ledger",
		}
	}

	var body lastCheckInResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &dispatcherrors.UpstreamError{Err: fmt.Errorf("failed to decode response: %w", err), Source: "ledger"}
	}
	if body.LastCheckInAt.IsZero() {
		return nil, nil
	}

	t := body.LastCheckInAt.UTC().Truncate(Precision)
	return &t, nil
}

// leveledLogger adapts logrus to retryablehttp's LeveledLogger.
type leveledLogger struct {
	logger logrus.FieldLogger
}

func (l leveledLogger) fields(keysAndValues []interface{}) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.logger.WithFields(fields)
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Info(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}
