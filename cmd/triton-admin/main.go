// Command triton-admin is the operator CLI: migrations, job submission and inspection,
// artifact review, snapshot reads and secret sealing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/bootstrap"
)

// adminApp carries config and lazily opened services across subcommands.
type adminApp struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	out    io.Writer

	infra    *bootstrap.Infrastructure
	services *bootstrap.ServiceContainer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	app := &adminApp{logger: bootstrap.InitLogger(false), out: os.Stdout}
	err := newRootCmd(app).ExecuteContext(ctx)
	closeErr := app.close()
	stop()
	if err = errors.Join(err, closeErr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(app *adminApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "triton-admin",
		Short:         "Operate the triton generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig()
		},
	}
	root.SetOut(app.out)
	root.AddCommand(
		newMigrateCmd(app),
		newSubmitCmd(app),
		newStatusCmd(app),
		newCancelCmd(app),
		newJobsCmd(app),
		newArtifactsCmd(app),
		newSubmitReviewCmd(app),
		newReviewCmd(app),
		newApproveCmd(app),
		newSnapshotCmd(app),
		newSealSecretCmd(app),
	)
	return root
}

func (a *adminApp) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	a.cfg = &cfg
	return nil
}

// container opens the configured backends and builds services without workers.
func (a *adminApp) container(ctx context.Context) (*bootstrap.ServiceContainer, error) {
	if a.services != nil {
		return a.services, nil
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	if a.infra == nil {
		infra, err := bootstrap.OpenInfrastructure(ctx, a.cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.infra = infra
	}
	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config: a.cfg,
		Infra:  a.infra,
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.services = services
	return services, nil
}

func (a *adminApp) close() error {
	var errs []error
	if a.services != nil {
		errs = append(errs, a.services.Close())
		a.services = nil
	}
	if a.infra != nil {
		errs = append(errs, a.infra.Close())
		a.infra = nil
	}
	return errors.Join(errs...)
}
