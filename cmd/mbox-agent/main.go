package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/mdlayher/vsock"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/microbox/internal/agent"
	"github.com/slok/microbox/internal/log"
	loglogrus "github.com/slok/microbox/internal/log/logrus"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/protocol"
	"github.com/slok/microbox/internal/utils/env"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

type config struct {
	debug   bool
	json    bool
	listen  string
	root    string
	envs    []string
	workdir string
	command []string
}

// exitError makes the agent exit with the code of the init process.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("init exited with %d", e.code) }

// Run runs the guest agent. With a command it runs it as the VM initial process and
// returns when the process exits, otherwise it serves until a stop request or a signal.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg := config{}
	app := kingpin.New("mbox-agent", "microbox guest agent.")
	app.DefaultEnvars()
	app.Flag("debug", "Enable debug mode.").BoolVar(&cfg.debug)
	app.Flag("log-json", "Log in JSON format.").BoolVar(&cfg.json)
	app.Flag("listen", "Listen address, vsock (default) or unix:<path>.").Default("vsock").StringVar(&cfg.listen)
	app.Flag("root", "Directory guest paths are resolved against.").Default("/").StringVar(&cfg.root)
	app.Flag("env", "Environment variable of the init process, repeatable.").StringsVar(&cfg.envs)
	app.Flag("workdir", "Working directory of the init process.").StringVar(&cfg.workdir)
	app.Arg("command", "Init process command and arguments.").StringsVar(&cfg.command)

	if _, err := app.Parse(args[1:]); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	logger := getLogger(cfg, stderr)

	l, err := listen(cfg.listen)
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}
	defer l.Close()

	var g run.Group

	// OS signals and stop requests end the agent.
	stopCtx, stopCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stopCancel()

	srv, err := agent.NewServer(agent.ServerConfig{
		Root:       cfg.root,
		OnShutdown: stopCancel,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create agent server: %w", err)
	}

	// Agent server.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				logger.Infof("Listening on %s", l.Addr())
				err := srv.Serve(ctx, l)
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("agent server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Init process, or the stop request when serving only.
	if len(cfg.command) > 0 {
		envs, err := env.ParseSpecs(cfg.envs)
		if err != nil {
			return fmt.Errorf("invalid environment: %w", err)
		}
		proc := agent.ProcessFromExec(model.ExecSpec{
			Path:       cfg.command[0],
			Args:       cfg.command[1:],
			Env:        envs,
			WorkingDir: cfg.workdir,
		})

		g.Add(
			func() error {
				code := agent.RunInit(stopCtx, agent.OSExecutor{}, proc, agent.Stdio{Stdin: stdin, Stdout: stdout, Stderr: stderr}, logger)
				return exitError{code: code}
			},
			func(_ error) {
				stopCancel()
			},
		)
	} else {
		g.Add(
			func() error {
				<-stopCtx.Done()
				logger.Infof("Stopping")
				return nil
			},
			func(_ error) {
				stopCancel()
			},
		)
	}

	return g.Run()
}

func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return net.Listen("unix", path)
	}
	if addr != "vsock" {
		return nil, fmt.Errorf("unknown listen address %q", addr)
	}
	return vsock.Listen(protocol.AgentPort, nil)
}

func getLogger(cfg config, out io.Writer) log.Logger {
	logrusLog := logrus.New()
	logrusLog.Out = out
	if cfg.debug {
		logrusLog.SetLevel(logrus.DebugLevel)
	}
	if cfg.json {
		logrusLog.SetFormatter(&logrus.JSONFormatter{})
	}

	return loglogrus.NewLogrus(logrus.NewEntry(logrusLog)).WithValues(log.Kv{
		"version": Version,
		"app":     "mbox-agent",
	})
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		var exitErr exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
