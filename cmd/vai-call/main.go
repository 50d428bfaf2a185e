// Command vai-call talks to a conversation server as a caller.
//
//	vai-call simulate [-line]           turn-based call over the message channel
//	vai-call live [-room NAME | -test]  live audio call in a media room
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-go/vai-call/pkg/call/branding"
	"github.com/vango-go/vai-call/pkg/call/config"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	vai "github.com/vango-go/vai-call/sdk"
	"golang.org/x/term"
)

const usage = `usage: vai-call [-env FILE] <command> [flags]

commands:
  simulate   start a simulated call (type to talk, /record to speak)
  live       join a live audio room
`

type options struct {
	envFile string
	command string
	args    []string
}

func parseOptions(args []string) (options, error) {
	opts := options{}
	fs := flag.NewFlagSet("vai-call", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.envFile, "env", ".env", "dotenv file to load (missing is fine)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return options{}, errors.New("missing command")
	}
	opts.command = rest[0]
	opts.args = rest[1:]
	switch opts.command {
	case "simulate", "live":
		return opts, nil
	default:
		return options{}, fmt.Errorf("unknown command %q", opts.command)
	}
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("VAI_CALL_LOG_LEVEL: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func loadBranding(path string, logger *slog.Logger) (*branding.Table, error) {
	if path == "" {
		return branding.Default().WithLogger(logger), nil
	}
	table, err := branding.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("VAI_CALL_BRANDING_FILE: %w", err)
	}
	return table.WithLogger(logger), nil
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprint(errOut, usage)
		return err
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, errOut)
	if err != nil {
		return err
	}
	table, err := loadBranding(cfg.BrandingFile, logger)
	if err != nil {
		return err
	}

	m := metrics.New("vai_call")
	stopMetrics := serveMetrics(cfg.MetricsAddr, m, logger)
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := vai.NewClientFromConfig(cfg,
		vai.WithLogger(logger),
		vai.WithMetrics(m),
		vai.WithBranding(table),
	)

	switch opts.command {
	case "simulate":
		return runSimulate(ctx, client, opts.args, in, out, errOut)
	default:
		return runLive(ctx, client, opts.args, in, out)
	}
}

func runSimulate(ctx context.Context, client *vai.Client, args []string, in io.Reader, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(errOut)
	lineMode := fs.Bool("line", false, "plain line mode even on a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sim := client.NewSimulator()
	defer sim.Close()

	if !*lineMode && isTerminal(in) && isTerminal(out) {
		return runTUI(ctx, sim, in, out)
	}
	return runLineSimulator(ctx, sim, in, out)
}

func runLive(ctx context.Context, client *vai.Client, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	fs.SetOutput(out)
	roomName := fs.String("room", "", "room to create or join")
	testRoom := fs.Bool("test", false, "join the server's test room")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *roomName == "" && !*testRoom {
		return errors.New("live: one of -room or -test is required")
	}

	sess := client.NewRoom()
	defer sess.Leave()
	target := liveTarget{room: *roomName, test: *testRoom, name: client.UserName(), identity: client.UserID()}
	return runRoomREPL(ctx, sess, target, in, out)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "vai-call: %v\n", err)
		os.Exit(1)
	}
}
