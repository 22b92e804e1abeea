package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack/internal/config"
	"github.com/lib-x/facetrack/internal/log"
	"github.com/lib-x/facetrack/server"
)

var (
	serveAddr    string
	serveNoModel bool
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve trackers over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		engineCfg := cfg.Engine
		if serveNoModel {
			engineCfg.Kind = config.EngineNone
		}
		engine, closer, err := openEngine(engineCfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := cfg.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}

		srv := server.New(server.Config{
			Engine:         engine,
			Store:          store,
			TrackerOptions: trackerOptions(),
			Parameters:     cfg.Tracker.ParameterString(),
			MaxFaces:       cfg.Tracker.MaxFaces,
			BodyLimit:      cfg.Server.BodyLimitMB << 20,
			CORS:           cfg.Server.CORS,
			RequestLog:     true,
			Logger:         log.L(),
		})

		errc := make(chan error, 1)
		go func() { errc <- srv.Listen(addr) }()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(sctx)
		if lerr := <-errc; lerr != nil {
			err = errors.Join(err, lerr)
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoModel, "no-engine", false, "serve memories without loading models")
	rootCmd.AddCommand(serveCmd)
}
