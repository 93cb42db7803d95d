package printer

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/slok/microbox/internal/model"
)

const (
	shortIDLen      = 12
	maxCommandWidth = 20
)

// TablePrinter prints microbox information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintVMList prints VMs in a table format.
func (t *TablePrinter) PrintVMList(vms []model.VM) error {
	if len(vms) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tNAME\tIMAGE\tCOMMAND\tCPUS\tMEMORY\tCREATED\tSTATE")
	for _, vm := range vms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			ShortID(vm.ID),
			vm.Name,
			orDash(vm.Config.Image),
			strconv.Quote(truncate(Command(vm.Config.Exec), maxCommandWidth)),
			vm.Config.VCPUs,
			FormatMemory(vm.Config.MemoryMiB),
			TimeAgo(vm.CreatedAt),
			State(vm),
		)
	}

	return nil
}

// PrintVM prints detailed VM information.
func (t *TablePrinter) PrintVM(vm model.VM, events []model.VMEvent) error {
	fmt.Fprintf(t.writer, "Name:       %s\n", vm.Name)
	fmt.Fprintf(t.writer, "ID:         %s\n", vm.ID)
	fmt.Fprintf(t.writer, "State:      %s\n", vm.State)
	if vm.Exit != nil {
		fmt.Fprintf(t.writer, "Exit:       %d (%s)\n", vm.Exit.Code, vm.Exit.Reason)
		if vm.Exit.Cause != "" {
			fmt.Fprintf(t.writer, "Cause:      %s\n", vm.Exit.Cause)
		}
	}
	if vm.Config.Image != "" {
		fmt.Fprintf(t.writer, "Image:      %s\n", vm.Config.Image)
	}
	fmt.Fprintf(t.writer, "RootFS:     %s\n", vm.Config.RootFS)
	fmt.Fprintf(t.writer, "Command:    %s\n", Command(vm.Config.Exec))
	if vm.Config.Exec.WorkingDir != "" {
		fmt.Fprintf(t.writer, "WorkDir:    %s\n", vm.Config.Exec.WorkingDir)
	}
	fmt.Fprintf(t.writer, "VCPUs:      %d\n", vm.Config.VCPUs)
	fmt.Fprintf(t.writer, "Memory:     %s\n", FormatMemory(vm.Config.MemoryMiB))
	if vm.Config.AutoRemove {
		fmt.Fprintf(t.writer, "AutoRemove: true\n")
	}
	if vm.Machine != nil {
		fmt.Fprintf(t.writer, "PID:        %d\n", vm.Machine.PID)
	}
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(vm.CreatedAt))
	if vm.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(*vm.StartedAt))
	}
	if vm.StoppedAt != nil {
		fmt.Fprintf(t.writer, "Stopped:    %s\n", FormatTimestamp(*vm.StoppedAt))
	}

	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer, "\nEvents:")
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	for _, e := range events {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s -> %s\t%s\n", FormatTimestamp(e.At), from, e.To, e.Cause)
	}

	return nil
}

// PrintImageList prints images in a table format.
func (t *TablePrinter) PrintImageList(images []model.Image) error {
	if len(images) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "IMAGE\tKEY\tDIGEST\tSIZE\tEXTRACTED\tPULLED")
	for _, img := range images {
		extracted := "no"
		if img.RootFS != "" {
			extracted = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			img.Ref,
			img.Key,
			ShortDigest(img.Digest),
			FormatBytes(img.SizeBytes),
			extracted,
			TimeAgo(img.PulledAt),
		)
	}

	return nil
}

// PrintCacheList prints the rootfs cache in a table format.
func (t *TablePrinter) PrintCacheList(entries []model.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "KEY\tIMAGE\tSIZE\tUSED BY\tPATH")
	for _, e := range entries {
		usedBy := "-"
		if len(e.UsedBy) > 0 {
			ids := make([]string, 0, len(e.UsedBy))
			for _, id := range e.UsedBy {
				ids = append(ids, ShortID(id))
			}
			usedBy = strings.Join(ids, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Key, e.Ref, FormatBytes(e.SizeBytes), usedBy, e.Path)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

// ShortID returns the short form of a VM ID.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// ShortDigest returns a digest without algorithm truncated to the short ID length.
func ShortDigest(digest string) string {
	if _, hex, ok := strings.Cut(digest, ":"); ok {
		digest = hex
	}
	return ShortID(digest)
}

// Command returns the command line of an exec spec.
func Command(spec model.ExecSpec) string {
	return strings.Join(append([]string{spec.Path}, spec.Args...), " ")
}

// State returns the state of a VM with its exit code when finished.
func State(vm model.VM) string {
	if vm.Exit == nil || !vm.State.IsTerminal() {
		return string(vm.State)
	}
	return fmt.Sprintf("%s (%d)", vm.State, vm.Exit.Code)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
