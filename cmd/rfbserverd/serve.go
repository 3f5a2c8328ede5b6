package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rfb "github.com/screenlink/rfbserver"
)

type serveOptions struct {
	listen      string
	wsListen    string
	debugListen string
	desktopName string
	password    string
	width       uint16
	height      uint16
	frameRate   int
	recordPath  string
	recordFPS   int32
	logJSON     bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the framebuffer to RFB clients",
		Long: `Serve the framebuffer to RFB clients.

Examples:
  rfbserverd serve
  rfbserverd serve --listen=:5900 --ws-listen=:5800
  rfbserverd serve --password=secret --record=session.avi`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.listen, "listen", "l", ":5900", "TCP listen address")
	cmd.Flags().StringVar(&opts.wsListen, "ws-listen", "", "WebSocket listen address (disabled when empty)")
	cmd.Flags().StringVar(&opts.debugListen, "debug-listen", "", "debug/metrics listen address (disabled when empty)")
	cmd.Flags().StringVarP(&opts.desktopName, "name", "n", "rfbserverd", "desktop name sent to clients")
	cmd.Flags().StringVar(&opts.password, "password", "", "VNC authentication password (authentication off when empty)")
	cmd.Flags().Uint16Var(&opts.width, "width", 1024, "framebuffer width")
	cmd.Flags().Uint16Var(&opts.height, "height", 768, "framebuffer height")
	cmd.Flags().IntVar(&opts.frameRate, "frame-rate", 15, "test pattern frames per second")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "record pushed frames to an AVI file")
	cmd.Flags().Int32Var(&opts.recordFPS, "record-fps", 5, "recording frame rate")
	cmd.Flags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	logger := newLogger(opts.logJSON)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := rfb.Config{
		DesktopName: opts.desktopName,
		Logger:      logger,
	}
	if opts.password != "" {
		cfg.SecurityHandlers = []rfb.SecurityHandler{
			&rfb.ServerAuthVNC{Password: []byte(opts.password)},
		}
	}
	if opts.recordPath != "" {
		rec, err := rfb.NewRecorder(opts.recordPath, opts.width, opts.height, opts.recordFPS, 75)
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		defer rec.Close()
		cfg.Recorder = rec
	}

	pattern := rfb.NewTestPattern(opts.width, opts.height)
	initial, _ := pattern.Frame()
	srv := rfb.New(cfg, initial)

	if opts.frameRate < 1 {
		opts.frameRate = 1
	}
	go pattern.Run(ctx, srv, time.Second/time.Duration(opts.frameRate))

	errc := make(chan error, 3)
	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.listen, err)
	}
	logger.Info("listening", "addr", opts.listen, "desktop", opts.desktopName)
	go func() { errc <- srv.Serve(ctx, ln) }()

	if opts.wsListen != "" {
		logger.Info("websocket listening", "addr", opts.wsListen)
		go func() { errc <- rfb.ListenWebsocket(ctx, srv, opts.wsListen) }()
	}
	if opts.debugListen != "" {
		logger.Info("debug listening", "addr", opts.debugListen)
		go func() { errc <- rfb.ListenDebug(ctx, srv, opts.debugListen) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

func newLogger(json bool) *slog.Logger {
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
