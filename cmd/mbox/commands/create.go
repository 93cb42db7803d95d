package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/docker/go-units"

	"github.com/slok/microbox/internal/app/create"
	"github.com/slok/microbox/internal/model"
	storageio "github.com/slok/microbox/internal/storage/io"
	"github.com/slok/microbox/internal/utils/env"
)

// vmFlags are the VM definition flags shared by create and run.
type vmFlags struct {
	name       string
	cpus       int
	memory     string
	rootfs     string
	image      string
	pull       bool
	file       string
	envs       []string
	envFiles   []string
	workdir    string
	autoRemove bool
	args       []string
}

func (f *vmFlags) register(cmd *kingpin.CmdClause) {
	cmd.Flag("name", "Name for the VM.").Short('n').StringVar(&f.name)
	cmd.Flag("cpus", "Number of VCPUs.").IntVar(&f.cpus)
	cmd.Flag("memory", "Memory of the VM (e.g. 512m, 1g).").Short('m').StringVar(&f.memory)
	cmd.Flag("rootfs", "Path to the root filesystem directory, the first argument is the command.").StringVar(&f.rootfs)
	cmd.Flag("pull", "Pull the image even if it's already local.").BoolVar(&f.pull)
	cmd.Flag("file", "YAML VM definition file, flags override its values.").Short('f').StringVar(&f.file)
	cmd.Flag("env", "Environment variable for the VM process (KEY=VALUE or KEY to inherit), repeatable.").Short('e').StringsVar(&f.envs)
	cmd.Flag("env-file", "File with environment variables, repeatable.").StringsVar(&f.envFiles)
	cmd.Flag("workdir", "Working directory of the VM process.").Short('w').StringVar(&f.workdir)
	cmd.Flag("rm", "Remove the VM automatically when it exits.").BoolVar(&f.autoRemove)
	cmd.Arg("image-and-command", "Image (unless --rootfs is set) followed by the command and its arguments.").StringsVar(&f.args)
}

// options builds the create options from the flags, the definition file and the arguments.
func (f *vmFlags) options(ctx context.Context) (*create.CreateOptions, error) {
	opts := &create.CreateOptions{Pull: f.pull}

	if f.file != "" {
		abs, err := filepath.Abs(f.file)
		if err != nil {
			return nil, fmt.Errorf("could not resolve %q: %w", f.file, err)
		}
		def, err := storageio.NewConfigYAMLRepository(os.DirFS(filepath.Dir(abs))).GetVMDefinition(ctx, filepath.Base(abs))
		if err != nil {
			return nil, fmt.Errorf("could not load VM definition: %w", err)
		}
		opts.Config = def.Config
		opts.Image = def.Image
	}

	args := f.args
	if f.rootfs != "" {
		opts.Config.RootFS = f.rootfs
		opts.Image = ""
	} else if len(args) > 0 && opts.Image == "" && opts.Config.RootFS == "" {
		opts.Image = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		opts.Config.Exec.Path = args[0]
		opts.Config.Exec.Args = args[1:]
	}

	if f.name != "" {
		opts.Config.Name = f.name
	}
	if f.cpus != 0 {
		opts.Config.VCPUs = f.cpus
	}
	if f.memory != "" {
		b, err := units.RAMInBytes(f.memory)
		if err != nil {
			return nil, fmt.Errorf("invalid memory %q: %w", f.memory, model.ErrNotValid)
		}
		opts.Config.MemoryMiB = int(b / units.MiB)
	}
	if f.workdir != "" {
		opts.Config.Exec.WorkingDir = f.workdir
	}
	if f.autoRemove {
		opts.Config.AutoRemove = true
	}

	var specs []string
	for _, path := range f.envFiles {
		s, err := env.ReadFile(path)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s...)
	}
	specs = append(specs, f.envs...)
	userEnv, err := env.ParseSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if len(userEnv) > 0 {
		opts.Config.Exec.Env = env.MergeMaps(opts.Config.Exec.Env, userEnv)
	}

	return opts, nil
}

type CreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	flags vmFlags
}

// NewCreateCommand returns the create command.
func NewCreateCommand(rootCmd *RootCommand, app *kingpin.Application) *CreateCommand {
	c := &CreateCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("create", "Create a new VM without starting it.")
	c.flags.register(c.Cmd)

	return c
}

func (c CreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c CreateCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	opts, err := c.flags.options(ctx)
	if err != nil {
		return err
	}
	opts.StatusWriter = c.rootCmd.Stderr

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := create.NewService(create.ServiceConfig{
		Manager: rt.Manager,
		Images:  rt.Images,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	vm, err := svc.Create(ctx, *opts)
	if err != nil {
		return fmt.Errorf("could not create VM: %w", err)
	}

	fmt.Fprintln(c.rootCmd.Stdout, vm.ID)
	return nil
}
