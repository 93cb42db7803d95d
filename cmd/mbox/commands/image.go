package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/imageinspect"
	"github.com/slok/microbox/internal/app/imagelist"
	"github.com/slok/microbox/internal/app/imagepull"
	"github.com/slok/microbox/internal/app/imagerm"
	"github.com/slok/microbox/internal/model"
)

// ImageCommand is the parent command for image management subcommands.
type ImageCommand struct {
	Cmd *kingpin.CmdClause
}

// NewImageCommand returns the image parent command.
func NewImageCommand(app *kingpin.Application) *ImageCommand {
	return &ImageCommand{Cmd: app.Command("image", "Manage the images imported from Docker.")}
}

// ImagePullCommand imports a Docker image as a VM root filesystem.
type ImagePullCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ref   string
	force bool
}

// NewImagePullCommand returns the image pull command.
func NewImagePullCommand(rootCmd *RootCommand, imgCmd *ImageCommand) *ImagePullCommand {
	c := &ImagePullCommand{rootCmd: rootCmd}

	c.Cmd = imgCmd.Cmd.Command("pull", "Pull an image and import it as a root filesystem.")
	c.Cmd.Arg("image", "Image reference (e.g. alpine:3.20).").Required().StringVar(&c.ref)
	c.Cmd.Flag("force", "Pull and import again even if the image is already local.").BoolVar(&c.force)

	return c
}

func (c ImagePullCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImagePullCommand) Run(ctx context.Context) error {
	mgr, err := c.rootCmd.newImageManager()
	if err != nil {
		return err
	}

	svc, err := imagepull.NewService(imagepull.ServiceConfig{
		Manager: mgr,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	img, err := svc.Run(ctx, imagepull.Request{
		Ref:          c.ref,
		Force:        c.force,
		StatusWriter: c.rootCmd.Stderr,
	})
	if err != nil {
		return fmt.Errorf("could not pull image: %w", err)
	}

	return c.rootCmd.printer(formatTable).PrintMessage(fmt.Sprintf("%s %s", img.Ref, img.Digest))
}

// ImageListCommand lists the local images.
type ImageListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewImageListCommand returns the image ls command.
func NewImageListCommand(rootCmd *RootCommand, imgCmd *ImageCommand) *ImageListCommand {
	c := &ImageListCommand{rootCmd: rootCmd}

	c.Cmd = imgCmd.Cmd.Command("ls", "List local images.").Alias("list")
	c.Cmd.Flag("format", "Output format.").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ImageListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImageListCommand) Run(ctx context.Context) error {
	mgr, err := c.rootCmd.newImageManager()
	if err != nil {
		return err
	}

	svc, err := imagelist.NewService(imagelist.ServiceConfig{
		Manager: mgr,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	images, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("could not list images: %w", err)
	}

	return c.rootCmd.printer(c.format).PrintImageList(images)
}

// ImageInspectCommand shows the metadata of a local image.
type ImageInspectCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ref string
}

// NewImageInspectCommand returns the image inspect command.
func NewImageInspectCommand(rootCmd *RootCommand, imgCmd *ImageCommand) *ImageInspectCommand {
	c := &ImageInspectCommand{rootCmd: rootCmd}

	c.Cmd = imgCmd.Cmd.Command("inspect", "Show the details of a local image.")
	c.Cmd.Arg("image", "Image reference or key.").Required().StringVar(&c.ref)

	return c
}

func (c ImageInspectCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImageInspectCommand) Run(ctx context.Context) error {
	mgr, err := c.rootCmd.newImageManager()
	if err != nil {
		return err
	}

	svc, err := imageinspect.NewService(imageinspect.ServiceConfig{
		Manager: mgr,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	img, err := svc.Run(ctx, imageinspect.Request{Ref: c.ref})
	if err != nil {
		return fmt.Errorf("could not inspect image: %w", err)
	}

	return c.rootCmd.printer(formatJSON).PrintImageList([]model.Image{*img})
}

// ImageRemoveCommand removes local images.
type ImageRemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	refs  []string
	force bool
}

// NewImageRemoveCommand returns the image rm command.
func NewImageRemoveCommand(rootCmd *RootCommand, imgCmd *ImageCommand) *ImageRemoveCommand {
	c := &ImageRemoveCommand{rootCmd: rootCmd}

	c.Cmd = imgCmd.Cmd.Command("rm", "Remove local images.")
	c.Cmd.Arg("image", "Image reference or key.").Required().StringsVar(&c.refs)
	c.Cmd.Flag("force", "Remove the image even if VMs use it.").Short('f').BoolVar(&c.force)

	return c
}

func (c ImageRemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImageRemoveCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := imagerm.NewService(imagerm.ServiceConfig{
		Manager: rt.Images,
		VMs:     rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	return c.rootCmd.forEachTarget(ctx, c.refs, func(ctx context.Context, ref string) error {
		return svc.Run(ctx, imagerm.Request{Ref: ref, Force: c.force})
	})
}
