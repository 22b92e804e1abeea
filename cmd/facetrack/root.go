package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack"
	"github.com/lib-x/facetrack/cv"
	"github.com/lib-x/facetrack/dlib"
	"github.com/lib-x/facetrack/internal/config"
	"github.com/lib-x/facetrack/internal/log"
	"github.com/lib-x/facetrack/pgstore"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg        *config.Config
	configPath string
	memoryName string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "facetrack",
	Short:         "Track and recognize faces across image sequences",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("memory") {
			cfg.Tracker.Memory = memoryName
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		return log.Init(log.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
			MaxAge: cfg.Log.MaxAge(),
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&memoryName, "memory", "default", "name of the tracker memory in the store")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openEngine builds the engine selected by the configuration. The "none"
// engine yields a nil Engine, which still allows memory editing.
func openEngine(c config.EngineConfig) (facetrack.Engine, io.Closer, error) {
	switch c.Kind {
	case config.EngineNone:
		return nil, nopCloser{}, nil
	case config.EngineDlib:
		e, err := dlib.Open(c.ModelDir, log.L())
		if err != nil {
			return nil, nil, err
		}
		return e, e, nil
	default:
		opts := []cv.Option{
			cv.WithModelType(cv.ModelType(c.Model)),
			cv.WithMinFaceSize(c.MinFaceSize),
			cv.WithMaxFaceSize(c.MaxFaceSize),
			cv.WithLogger(log.L()),
		}
		e, err := cv.Open(cv.Config{
			Detector:          c.Detector,
			PigoCascadeFile:   c.Path(c.PigoCascade),
			YuNetModel:        c.Path(c.YuNetModel),
			FaceEncoderModel:  c.Path(c.Encoder),
			FaceEncoderConfig: c.Path(c.EncoderConfig),
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return e, e, nil
	}
}

func openStore(ctx context.Context, c config.StoreConfig) (facetrack.MemoryStore, error) {
	switch c.Kind {
	case config.StoreMemory:
		return facetrack.NewInMemoryStore(), nil
	case config.StorePostgres:
		return pgstore.New(ctx, c.DSN, c.Table)
	default:
		return facetrack.NewFileStore(c.Dir)
	}
}

func trackerOptions() []facetrack.Option {
	opts := []facetrack.Option{
		facetrack.WithLogger(log.L()),
		facetrack.WithLockChecking(cfg.Tracker.LockChecking),
	}
	if v := cfg.Tracker.DetectionVersion; v != 0 {
		opts = append(opts, facetrack.WithExpectedDetectionVersion(v))
	}
	return opts
}

// session is a tracker loaded from the configured store, together with
// the resources it holds.
type session struct {
	tracker *facetrack.Tracker
	store   facetrack.MemoryStore
	engine  io.Closer
}

// openSession loads the configured memory, or starts an empty tracker
// when the store has none under that name.
func openSession(ctx context.Context, withEngine bool) (*session, error) {
	var (
		engine facetrack.Engine
		closer io.Closer = nopCloser{}
		err    error
	)
	if withEngine {
		if engine, closer, err = openEngine(cfg.Engine); err != nil {
			return nil, err
		}
	}
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		closer.Close()
		return nil, err
	}

	name := cfg.Tracker.Memory
	t, err := facetrack.LoadFrom(ctx, store, name, engine, trackerOptions()...)
	if errors.Is(err, facetrack.ErrFileNotFound) {
		log.Info("starting a new memory", "memory", name)
		t, err = facetrack.New(engine, trackerOptions()...)
	}
	if err == nil && len(cfg.Tracker.Parameters) > 0 {
		_, err = t.SetParameters(cfg.Tracker.ParameterString())
	}
	if err != nil {
		store.Close()
		closer.Close()
		return nil, err
	}
	return &session{tracker: t, store: store, engine: closer}, nil
}

func (s *session) save(ctx context.Context) error {
	return s.tracker.SaveTo(ctx, s.store, cfg.Tracker.Memory)
}

func (s *session) Close() error {
	return errors.Join(s.tracker.Close(), s.store.Close(), s.engine.Close())
}

func parseID(arg string) (facetrack.ID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity %q: %w", arg, facetrack.ErrInvalidArgument)
	}
	return facetrack.ID(id), nil
}
