package monitoring

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/log"
)

type Config struct {
	LicenseKey string `conf:"NEW_RELIC_LICENSE_KEY"`
	Target     string `conf:"DEPLOYMENT_TARGET" conf_default:"local"`
	// Agent diagnostics are written alongside the API error log.
	LogFile string `conf:"DISPATCH_ERROR_LOG"`
}

var (
	a    *apm
	once sync.Once
)

type apm struct {
	App *newrelic.Application
}

// GetMonitor returns the process-wide APM handle. Without a license key the
// handle is inert and WrapHandler returns handlers unchanged.
func GetMonitor() *apm {
	once.Do(func() {
		cfg := &Config{}
		if err := conf.Checkout(cfg); err != nil {
			log.API.Error(err)
		}
		a = newAPM(cfg)
	})
	return a
}

func newAPM(cfg *Config) *apm {
	if cfg.LicenseKey == "" {
		return &apm{}
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(fmt.Sprintf("Welfare-Dispatch-%s", cfg.Target)),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigEnabled(true),
		nrlogrus.ConfigLogger(agentLogger(cfg)),
		func(c *newrelic.Config) {
			c.HighSecurity = true
		},
	)
	if err != nil {
		log.API.Error(err)
		return &apm{}
	}
	return &apm{App: app}
}

func agentLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	log.Logger(logger, cfg.LogFile, "newrelic")
	return logger
}

// WrapHandler names a transaction after pattern. The result can be passed
// straight to a chi route method: r.Get(m.WrapHandler("/path", h)).
func (a *apm) WrapHandler(pattern string, h http.HandlerFunc) (string, http.HandlerFunc) {
	if a.App == nil {
		return pattern, h
	}
	p, wrapped := newrelic.WrapHandleFunc(a.App, pattern, h)
	return p, wrapped
}

func (a *apm) Shutdown(timeout time.Duration) {
	if a.App != nil {
		a.App.Shutdown(timeout)
	}
}
