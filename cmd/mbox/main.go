package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/microbox/cmd/mbox/commands"
	"github.com/slok/microbox/internal/log"
	loglogrus "github.com/slok/microbox/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("mbox", "Lightweight microVM runtime.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	createCmd := commands.NewCreateCommand(rootCmd, app)
	runCmd := commands.NewRunCommand(rootCmd, app)
	startCmd := commands.NewStartCommand(rootCmd, app)
	stopCmd := commands.NewStopCommand(rootCmd, app)
	killCmd := commands.NewKillCommand(rootCmd, app)
	removeCmd := commands.NewRemoveCommand(rootCmd, app)
	waitCmd := commands.NewWaitCommand(rootCmd, app)
	renameCmd := commands.NewRenameCommand(rootCmd, app)
	listCmd := commands.NewListCommand(rootCmd, app)
	inspectCmd := commands.NewInspectCommand(rootCmd, app)
	pruneCmd := commands.NewPruneCommand(rootCmd, app)
	execCmd := commands.NewExecCommand(rootCmd, app)
	cpCmd := commands.NewCopyCommand(rootCmd, app)

	// Image subcommands share a parent command.
	imgCmd := commands.NewImageCommand(app)
	imagePullCmd := commands.NewImagePullCommand(rootCmd, imgCmd)
	imageListCmd := commands.NewImageListCommand(rootCmd, imgCmd)
	imageInspectCmd := commands.NewImageInspectCommand(rootCmd, imgCmd)
	imageRmCmd := commands.NewImageRemoveCommand(rootCmd, imgCmd)

	cacheCmd := commands.NewCacheCommand(app)
	cacheListCmd := commands.NewCacheListCommand(rootCmd, cacheCmd)
	cachePruneCmd := commands.NewCachePruneCommand(rootCmd, cacheCmd)

	cmds := map[string]commands.Command{
		createCmd.Name():       createCmd,
		runCmd.Name():          runCmd,
		startCmd.Name():        startCmd,
		stopCmd.Name():         stopCmd,
		killCmd.Name():         killCmd,
		removeCmd.Name():       removeCmd,
		waitCmd.Name():         waitCmd,
		renameCmd.Name():       renameCmd,
		listCmd.Name():         listCmd,
		inspectCmd.Name():      inspectCmd,
		pruneCmd.Name():        pruneCmd,
		execCmd.Name():         execCmd,
		cpCmd.Name():           cpCmd,
		imagePullCmd.Name():    imagePullCmd,
		imageListCmd.Name():    imageListCmd,
		imageInspectCmd.Name(): imageInspectCmd,
		imageRmCmd.Name():      imageRmCmd,
		cacheListCmd.Name():    cacheListCmd,
		cachePruneCmd.Name():   cachePruneCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Commands with table/JSON output don't log unless --debug is set.
	printerCommands := map[string]bool{
		"ps":            true,
		"inspect":       true,
		"image ls":      true,
		"image inspect": true,
		"cache ls":      true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(ctx, *rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(ctx context.Context, config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	// If logger not disabled use logrus logger.
	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // By default logger goes to stderr (so it can split stdout prints).
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	// Log format.
	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled") // Will log only when debug enabled.

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		// VM and guest process exit codes are forwarded as is.
		var exitErr commands.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
