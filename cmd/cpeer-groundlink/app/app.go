package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/groundlink/cmd/cpeer-groundlink/app/options"
	"github.com/autopeer-io/groundlink/pkg/app"
	"github.com/autopeer-io/groundlink/pkg/log"
)

const (
	commandName = "cpeer-groundlink"
	commandDesc = `The groundlink keeps a MAVLink session with one flight controller:
it delivers commands with acknowledgement and retry, tracks link liveness,
fetches the full parameter set and mirrors the link state to HTTP, gRPC
health and an optional MQTT broker.`
)

func NewApp() *app.App {
	opts := options.NewGroundlinkOptions()
	application := app.NewApp(
		commandName,
		"Launch a MAVLink ground link",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(),
		app.WithSubCommands(newStatusCommand()),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.GroundlinkOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer func() { _ = log.Sync() }()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create groundlink: %w", err)
		}

		return agent.Run(ctx)
	}
}
