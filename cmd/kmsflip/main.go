// Command kmsflip drives every connected display of a DRM card with
// atomic mode setting, page flipping between two buffers per display
// until the run time elapses, input arrives on stdin or it is
// interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/NeowayLabs/drm/v2"
	"github.com/NeowayLabs/drm/v2/mode"
	"github.com/NeowayLabs/drm/v2/modeset"
	"github.com/NeowayLabs/drm/v2/paint"
)

type config struct {
	card          string
	duration      time.Duration
	pollInterval  time.Duration
	drainTimeout  time.Duration
	countdown     time.Duration
	slides        string
	slideInterval time.Duration
	logLevel      string
}

func parseFlags(args []string) (*config, error) {
	cfg := &config{}
	fs := pflag.NewFlagSet("kmsflip", pflag.ContinueOnError)
	fs.StringVarP(&cfg.card, "card", "c", drm.CardPath(0), "DRM device to drive")
	fs.DurationVarP(&cfg.duration, "duration", "d", 45*time.Second, "run time, 0 runs until interrupted")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", modeset.DefaultPollInterval, "longest wait for device events")
	fs.DurationVar(&cfg.drainTimeout, "drain-timeout", modeset.DefaultDrainTimeout, "longest wait for a pending flip on exit")
	fs.DurationVar(&cfg.countdown, "countdown", 10*time.Second, "countdown shown before the slides, 0 disables it")
	fs.StringVarP(&cfg.slides, "slides", "s", "", "directory of images to show, a colour gradient if empty")
	fs.DurationVar(&cfg.slideInterval, "slide-interval", 3*time.Second, "time each slide is shown")
	fs.StringVarP(&cfg.logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if os.Getenv("KMSFLIP_DEBUG") != "" {
		cfg.logLevel = "debug"
	}
	return cfg, nil
}

func newPainter(cfg *config, logger *log.Logger) (modeset.Painter, error) {
	seed := time.Now().UnixNano()

	var p paint.Painter = paint.NewGradient(seed)
	if cfg.slides != "" {
		slides, err := paint.LoadSlides(cfg.slides)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded slides", "dir", cfg.slides, "count", len(slides))
		p = paint.NewSlideshow(slides, cfg.slideInterval, seed)
	}
	if cfg.countdown > 0 {
		c, err := paint.NewCountdown(p, cfg.countdown)
		if err != nil {
			return nil, err
		}
		p = c
	}
	return p, nil
}

// watchInput cancels the run once anything is typed on r.
func watchInput(r io.Reader, cancel context.CancelFunc, logger *log.Logger) {
	buf := make([]byte, 1)
	n, err := r.Read(buf)
	if n > 0 {
		logger.Info("exit due to user input")
		cancel()
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("stop watching stdin", "err", err)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "kmsflip",
	})

	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		logger.Error("invalid arguments", "err", err)
		return 2
	}
	level, err := log.ParseLevel(cfg.logLevel)
	if err != nil {
		logger.Error("invalid log level", "level", cfg.logLevel, "err", err)
		return 2
	}
	logger.SetLevel(level)

	painter, err := newPainter(cfg, logger)
	if err != nil {
		logger.Error("cannot set up painter", "err", err)
		return 1
	}

	logger.Info("using card", "path", cfg.card)
	file, err := drm.Open(cfg.card)
	if err != nil {
		logger.Error("cannot open card", "path", cfg.card, "err", err)
		return 1
	}
	defer file.Close()

	if version, err := drm.GetVersion(file); err == nil {
		logger.Debug("driver", "version", version.String())
	}
	if err := drm.Negotiate(file); err != nil {
		logger.Error("card does not support atomic mode setting", "err", err)
		return 1
	}

	dev := mode.NewCard(file)
	reg := modeset.NewRegistry()
	if err := modeset.Claim(dev, reg, logger); err != nil {
		logger.Error("modeset failed", "err", err)
		return 1
	}

	sched := modeset.NewScheduler(dev, reg, modeset.Options{
		Logger:       logger,
		Painter:      painter,
		PollInterval: cfg.pollInterval,
		DrainTimeout: cfg.drainTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go watchInput(os.Stdin, cancel, logger)

	code := 0
	if err := sched.Modeset(); err != nil {
		logger.Error("cannot show displays", "err", err)
		code = 1
	} else if err := sched.Run(ctx); err != nil {
		logger.Error("event loop failed", "err", err)
		code = 1
	}

	if err := sched.Teardown(); err != nil {
		logger.Error("teardown incomplete", "err", err)
	}
	logger.Info("exiting")
	return code
}
