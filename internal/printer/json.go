package printer

import (
	"encoding/json"
	"io"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/microbox/internal/model"
)

// JSONPrinter prints microbox information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a VM in the list output (subset of fields).
type listItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Image     string    `json:"image,omitempty"`
	Command   string    `json:"command"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// vmOutput represents the full VM output.
type vmOutput struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Exit       *exitOutput    `json:"exit,omitempty"`
	Image      string         `json:"image,omitempty"`
	RootFS     string         `json:"rootfs"`
	Exec       execOutput     `json:"exec"`
	VCPUs      int            `json:"vcpus"`
	MemoryMiB  int            `json:"memory_mib"`
	AutoRemove bool           `json:"auto_remove"`
	Machine    *machineOutput `json:"machine,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at"`
	StoppedAt  *time.Time     `json:"stopped_at"`
	Events     []eventOutput  `json:"events,omitempty"`
}

type exitOutput struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	Cause  string `json:"cause,omitempty"`
}

type execOutput struct {
	Path       string            `json:"path"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
}

type machineOutput struct {
	PID        int    `json:"pid"`
	RunDir     string `json:"run_dir,omitempty"`
	SocketPath string `json:"socket_path,omitempty"`
	CID        uint32 `json:"cid,omitempty"`
}

type eventOutput struct {
	From  string    `json:"from,omitempty"`
	To    string    `json:"to"`
	Cause string    `json:"cause,omitempty"`
	At    time.Time `json:"at"`
}

type imageOutput struct {
	Ref       string              `json:"ref"`
	Key       string              `json:"key"`
	Digest    string              `json:"digest"`
	SizeBytes int64               `json:"size_bytes"`
	RootFS    string              `json:"rootfs,omitempty"`
	PulledAt  time.Time           `json:"pulled_at"`
	Config    ocispec.ImageConfig `json:"config"`
}

type cacheOutput struct {
	Key       string   `json:"key"`
	Ref       string   `json:"ref"`
	Path      string   `json:"path"`
	SizeBytes int64    `json:"size_bytes"`
	UsedBy    []string `json:"used_by"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintVMList prints VMs in JSON format with a subset of fields.
func (j *JSONPrinter) PrintVMList(vms []model.VM) error {
	items := make([]listItem, len(vms))
	for i, vm := range vms {
		items[i] = listItem{
			ID:        vm.ID,
			Name:      vm.Name,
			State:     string(vm.State),
			Image:     vm.Config.Image,
			Command:   Command(vm.Config.Exec),
			CreatedAt: vm.CreatedAt.UTC(),
		}
		if vm.Exit != nil {
			code := vm.Exit.Code
			items[i].ExitCode = &code
		}
	}

	return j.encode(items)
}

// PrintVM prints detailed VM information in JSON format.
func (j *JSONPrinter) PrintVM(vm model.VM, events []model.VMEvent) error {
	output := vmOutput{
		ID:     vm.ID,
		Name:   vm.Name,
		State:  string(vm.State),
		Image:  vm.Config.Image,
		RootFS: vm.Config.RootFS,
		Exec: execOutput{
			Path:       vm.Config.Exec.Path,
			Args:       vm.Config.Exec.Args,
			Env:        vm.Config.Exec.Env,
			WorkingDir: vm.Config.Exec.WorkingDir,
		},
		VCPUs:      vm.Config.VCPUs,
		MemoryMiB:  vm.Config.MemoryMiB,
		AutoRemove: vm.Config.AutoRemove,
		CreatedAt:  vm.CreatedAt.UTC(),
		StartedAt:  utcOrNil(vm.StartedAt),
		StoppedAt:  utcOrNil(vm.StoppedAt),
	}

	if vm.Exit != nil {
		output.Exit = &exitOutput{Code: vm.Exit.Code, Reason: string(vm.Exit.Reason), Cause: vm.Exit.Cause}
	}

	if vm.Machine != nil {
		output.Machine = &machineOutput{
			PID:        vm.Machine.PID,
			RunDir:     vm.Machine.RunDir,
			SocketPath: vm.Machine.SocketPath,
			CID:        vm.Machine.CID,
		}
	}

	for _, e := range events {
		output.Events = append(output.Events, eventOutput{From: string(e.From), To: string(e.To), Cause: e.Cause, At: e.At.UTC()})
	}

	return j.encode(output)
}

// PrintImageList prints images in JSON format.
func (j *JSONPrinter) PrintImageList(images []model.Image) error {
	items := make([]imageOutput, len(images))
	for i, img := range images {
		items[i] = imageOutput{
			Ref:       img.Ref,
			Key:       img.Key,
			Digest:    img.Digest,
			SizeBytes: img.SizeBytes,
			RootFS:    img.RootFS,
			PulledAt:  img.PulledAt.UTC(),
			Config:    img.Config,
		}
	}

	return j.encode(items)
}

// PrintCacheList prints the rootfs cache in JSON format.
func (j *JSONPrinter) PrintCacheList(entries []model.CacheEntry) error {
	items := make([]cacheOutput, len(entries))
	for i, e := range entries {
		usedBy := e.UsedBy
		if usedBy == nil {
			usedBy = []string{}
		}
		items[i] = cacheOutput{Key: e.Key, Ref: e.Ref, Path: e.Path, SizeBytes: e.SizeBytes, UsedBy: usedBy}
	}

	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
