// Command vhotplug is the host daemon: it watches the kernel device
// source for USB/PCI/evdev hotplug events, matches them against the
// configured rules, and attaches or detaches them to QEMU/crosvm VMs
// over QMP or the crosvm control socket, while serving the API Server
// for external control and notifications (§4).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tiiuae/vhotplug/api"
	"github.com/tiiuae/vhotplug/config"
	"github.com/tiiuae/vhotplug/orchestrator"
	"github.com/tiiuae/vhotplug/udevsrc"
	"github.com/tiiuae/vhotplug/vhperr"
)

type cmdGlobal struct {
	flagConfig          string
	flagAttachConnected bool
	flagDebug           bool
}

func main() {
	global := &cmdGlobal{}

	app := &cobra.Command{
		Use:           "vhotplug",
		Short:         "USB/PCI/evdev hotplug daemon for QEMU and crosvm VMs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          global.run,
	}

	app.Flags().StringVarP(&global.flagConfig, "config", "c", "/etc/vhotplug/config.json", "Path to the configuration file")
	app.Flags().BoolVarP(&global.flagAttachConnected, "attach-connected", "a", false, "Evaluate already-connected devices against the rules on startup")
	app.Flags().BoolVarP(&global.flagDebug, "debug", "d", false, "Enable debug logging")

	if err := app.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if vhperr.CodeOf(err) == vhperr.CodeSourceLost {
		return 2
	}

	return 1
}

func (g *cmdGlobal) run(cmd *cobra.Command, args []string) error {
	if g.flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(g.flagConfig)
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		return err
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialize orchestrator")
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	const udevQueueSize = 256

	src := udevsrc.New(udevQueueSize)

	srcErr := make(chan error, 1)

	go func() {
		srcErr <- src.Run(ctx, g.flagAttachConnected)
	}()

	orchDone := make(chan struct{})

	go func() {
		defer close(orchDone)
		orch.Run(ctx, src.Events())
	}()

	srv := api.New(cfg.Api, orch)

	apiErr := srv.Run(ctx)

	<-orchDone

	if err := <-srcErr; err != nil {
		logrus.WithError(err).Error("kernel device source exited with error")
		return err
	}

	if apiErr != nil {
		logrus.WithError(apiErr).Error("api server exited with error")
		return apiErr
	}

	logrus.Info("shutdown complete")

	return nil
}
