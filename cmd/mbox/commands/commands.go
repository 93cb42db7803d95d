package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/microbox/internal/conventions"
	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/hypervisor/fake"
	"github.com/slok/microbox/internal/hypervisor/shim"
	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	metricsprom "github.com/slok/microbox/internal/metrics/prometheus"
	"github.com/slok/microbox/internal/printer"
	"github.com/slok/microbox/internal/storage/sqlite"
	"github.com/slok/microbox/internal/vmm"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// HypervisorShim boots VMs with the external hypervisor shim.
	HypervisorShim = "shim"
	// HypervisorFake boots in-process VMs, they only live as long as the command.
	HypervisorFake = "fake"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// ExitError makes the process exit with Code. It's returned by the commands that
// forward the exit code of a VM or a guest process.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug            bool
	NoLog            bool
	NoColor          bool
	LoggerType       string
	DataDir          string
	DBPath           string
	Hypervisor       string
	ShimPath         string
	Transport        string
	ImageCompression string
	MetricsTextfile  string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory for VM run directories and images.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("db-path", "Path to the SQLite database file (defaults to a file in the data dir).").StringVar(&c.DBPath)
	app.Flag("hypervisor", "Hypervisor used to boot VMs.").Default(HypervisorShim).EnumVar(&c.Hypervisor, HypervisorShim, HypervisorFake)
	app.Flag("shim-path", "Path to the hypervisor shim binary.").Default("mbox-shim").StringVar(&c.ShimPath)
	app.Flag("transport", "Transport used to reach the guest agent.").Default(string(shim.TransportUnix)).EnumVar(&c.Transport, string(shim.TransportUnix), string(shim.TransportVsock))
	app.Flag("image-compression", "Compression of the image archives.").Default(string(image.CompressionZstd)).EnumVar(&c.ImageCompression, string(image.CompressionZstd), string(image.CompressionLZ4))
	app.Flag("metrics-textfile", "Write the Prometheus metrics to this file when the command finishes.").StringVar(&c.MetricsTextfile)

	return c
}

// runtime holds the dependencies of the VM commands.
type runtime struct {
	Manager  *vmm.Manager
	Images   image.Manager
	registry *prometheus.Registry
	closers  []func() error
}

// newRuntime opens the state store and loads the VM manager.
func (c *RootCommand) newRuntime(ctx context.Context) (*runtime, error) {
	logger := c.Logger
	rt := &runtime{registry: prometheus.NewRegistry()}

	dbPath := c.DBPath
	if dbPath == "" {
		dbPath = conventions.DBPath(c.DataDir)
	}
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: dbPath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	rt.closers = append(rt.closers, repo.Close)

	var hv hypervisor.Hypervisor
	switch c.Hypervisor {
	case HypervisorFake:
		hv, err = fake.NewHypervisor(fake.HypervisorConfig{Logger: logger})
	default:
		hv, err = shim.NewHypervisor(shim.HypervisorConfig{
			ShimPath:  c.ShimPath,
			Transport: shim.Transport(c.Transport),
			Logger:    logger,
		})
	}
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("could not create hypervisor: %w", err)
	}

	mgr, err := vmm.NewManager(ctx, vmm.ManagerConfig{
		Hypervisor: hv,
		Repository: repo,
		Metrics:    metricsprom.NewRecorder(rt.registry),
		Logger:     logger,
		DataDir:    c.DataDir,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("could not create vm manager: %w", err)
	}
	rt.Manager = mgr
	rt.closers = append([]func() error{mgr.Close}, rt.closers...)

	images, err := c.newImageManager()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Images = images

	if c.MetricsTextfile != "" {
		path := c.MetricsTextfile
		rt.closers = append([]func() error{func() error {
			return prometheus.WriteToTextfile(path, rt.registry)
		}}, rt.closers...)
	}

	return rt, nil
}

// Close releases the runtime, running VMs keep running.
func (r *runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *RootCommand) newImageManager() (*image.DockerManager, error) {
	images, err := image.NewDockerManager(image.DockerManagerConfig{
		ImagesDir:   conventions.ImagesPath(c.DataDir),
		Compression: image.Compression(c.ImageCompression),
		Logger:      c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create image manager: %w", err)
	}
	return images, nil
}

func (c *RootCommand) printer(format string) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(c.Stdout)
	}
	return printer.NewTablePrinter(c.Stdout)
}

// forEachTarget runs fn on every target, printing the ones that succeed. Failures
// don't stop the loop and are reported together.
func (c *RootCommand) forEachTarget(ctx context.Context, targets []string, fn func(ctx context.Context, target string) error) error {
	var failed []string
	for _, t := range targets {
		if err := fn(ctx, t); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %s", t, err))
			continue
		}
		fmt.Fprintln(c.Stdout, t)
	}

	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "\n"))
	}
	return nil
}

// secondsFlag returns the duration of a seconds flag.
func secondsFlag(s int) time.Duration { return time.Duration(s) * time.Second }
