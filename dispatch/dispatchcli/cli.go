package dispatchcli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/db"
	"github.com/carecoord/welfare-dispatch/dispatch/components"
	"github.com/carecoord/welfare-dispatch/dispatch/constants"
	"github.com/carecoord/welfare-dispatch/dispatch/database"
	"github.com/carecoord/welfare-dispatch/dispatch/health"
	"github.com/carecoord/welfare-dispatch/dispatch/monitoring"
	"github.com/carecoord/welfare-dispatch/dispatch/web"
	"github.com/carecoord/welfare-dispatch/dispatchworker/scanner"
	"github.com/carecoord/welfare-dispatch/log"
)

// App Name and usage.  Edit them here to prevent breaking tests
const Name = "dispatch"
const Usage = "Welfare-check escalation and dispatch CLI"

type ServerConfig struct {
	Addr         string        `conf:"API_ADDR" conf_default:":3000"`
	ReadTimeout  time.Duration `conf:"API_READ_TIMEOUT" conf_default:"10s"`
	WriteTimeout time.Duration `conf:"API_WRITE_TIMEOUT" conf_default:"20s"`
	IdleTimeout  time.Duration `conf:"API_IDLE_TIMEOUT" conf_default:"120s"`
}

// Makes these easier to mock and unit test
var (
	newComponents = components.New
	migrateUp     = db.Migrate
	migrateDown   = db.Rollback
)

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Version = constants.Version
	var tenantID string
	var rollback bool
	app.Commands = []cli.Command{
		{
			Name:  "start-api",
			Usage: "Start the API",
			Action: func(c *cli.Context) error {
				return startAPI(app)
			},
		},
		{
			Name:     "migrate",
			Category: "Database tools",
			Usage:    "Apply database migrations",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:        "rollback",
					Usage:       "Revert the most recent migration instead",
					Destination: &rollback,
				},
			},
			Action: func(c *cli.Context) error {
				cfg, err := database.LoadConfig()
				if err != nil {
					return err
				}
				if rollback {
					return migrateDown(cfg.DatabaseURL, log.API)
				}
				return migrateUp(cfg.DatabaseURL, log.API)
			},
		},
		{
			Name:     "scan-tenant",
			Category: "Escalation tools",
			Usage:    "Run one escalation scan for a tenant and print the result",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "tenant",
					Usage:       "ID of the tenant to scan",
					Destination: &tenantID,
				},
			},
			Action: func(c *cli.Context) error {
				if tenantID == "" {
					return errors.New("tenant is required")
				}
				return scanTenant(app, tenantID)
			},
		},
		{
			Name:  "version",
			Usage: "Print the build version",
			Action: func(c *cli.Context) error {
				fmt.Fprintf(app.Writer, "%s %s\n", Name, constants.Version)
				return nil
			},
		},
	}
	return app
}

func scanTenant(app *cli.App, tenantID string) error {
	ctx := context.Background()
	comps, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer comps.Close()

	sc, err := comps.NewScanner()
	if err != nil {
		return err
	}
	return runScan(ctx, app, sc, tenantID)
}

type tenantScanner interface {
	ScanTenant(ctx context.Context, tenantID string) (*scanner.Result, error)
}

func runScan(ctx context.Context, app *cli.App, sc tenantScanner, tenantID string) error {
	result, err := sc.ScanTenant(ctx, tenantID)
	if err != nil {
		return errors.Wrapf(err, "scan of tenant %s failed", tenantID)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Writer, "%s\n", out)
	return nil
}

func startAPI(app *cli.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := newComponents(ctx)
	if err != nil {
		return err
	}
	defer comps.Close()

	svc, err := comps.NewService()
	if err != nil {
		return err
	}

	cfg := &ServerConfig{}
	if err := conf.Checkout(cfg); err != nil {
		return err
	}

	api := web.NewAPI(svc, health.NewHealthChecker(comps.DB))
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      web.NewAPIRouter(api),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	fmt.Fprintf(app.Writer, "%s\n", "Starting welfare-dispatch...")
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.API.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	monitoring.GetMonitor().Shutdown(5 * time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run executes the CLI and exits non-zero on failure.
func Run() {
	if err := GetApp().Run(os.Args); err != nil {
		log.API.Error(err)
		os.Exit(1)
	}
}
