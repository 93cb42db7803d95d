package shim_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/hypervisor/shim"
	"github.com/slok/microbox/internal/model"
)

// fakeShim records its args and exits with $SHIM_EXIT_CODE, honoring the exit file contract.
const fakeShim = `#!/bin/sh
printf '%s\n' "$@" > "$SHIM_ARGS_OUT"
exitfile=""
while [ $# -gt 0 ]; do
	case "$1" in
		--exit-file) exitfile="$2"; shift 2 ;;
		--) shift; break ;;
		*) shift ;;
	esac
done
if [ -n "$SHIM_SLEEP" ]; then
	sleep "$SHIM_SLEEP"
fi
code="${SHIM_EXIT_CODE:-0}"
if [ "$code" = "125" ]; then
	echo "kvm not available" >&2
else
	echo "$code" > "$exitfile"
fi
exit "$code"
`

func newShim(t *testing.T, transport shim.Transport) (*shim.Hypervisor, string) {
	t.Helper()

	dir := t.TempDir()
	shimPath := filepath.Join(dir, "mbox-shim")
	require.NoError(t, os.WriteFile(shimPath, []byte(fakeShim), 0755))
	argsOut := filepath.Join(dir, "args")
	t.Setenv("SHIM_ARGS_OUT", argsOut)

	h, err := shim.NewHypervisor(shim.HypervisorConfig{ShimPath: shimPath, Transport: transport})
	require.NoError(t, err)
	return h, argsOut
}

func waitDone(t *testing.T, m hypervisor.Machine) hypervisor.ExitStatus {
	t.Helper()
	select {
	case <-m.Done():
		return m.ExitStatus()
	case <-time.After(5 * time.Second):
		t.Fatal("machine should have finished")
		return hypervisor.ExitStatus{}
	}
}

func spec(runDir string) hypervisor.BootSpec {
	return hypervisor.BootSpec{
		VMID:      "01HZX",
		VCPUs:     2,
		MemoryMiB: 256,
		RootFS:    "/images/alpine/rootfs",
		Exec: model.ExecSpec{
			Path:       "/bin/sh",
			Args:       []string{"-c", "exit 3"},
			Env:        map[string]string{"B": "2", "A": "1"},
			WorkingDir: "/root",
		},
		RunDir: runDir,
	}
}

func TestHypervisorBoot(t *testing.T) {
	tests := map[string]struct {
		transport shim.Transport
		exitCode  string
		expArgs   func(runDir string) []string
		expCode   int
		expErr    string
	}{
		"A unix transport machine should report the guest exit code.": {
			transport: shim.TransportUnix,
			exitCode:  "3",
			expArgs: func(runDir string) []string {
				return []string{
					"--vcpus", "2", "--memory-mib", "256", "--rootfs", "/images/alpine/rootfs",
					"--exit-file", filepath.Join(runDir, "exit"),
					"--socket", filepath.Join(runDir, "agent.sock"),
					"--env", "A=1", "--env", "B=2", "--workdir", "/root",
					"--", "/bin/sh", "-c", "exit 3",
				}
			},
			expCode: 3,
		},
		"A vsock transport machine should use the VM CID.": {
			transport: shim.TransportVsock,
			exitCode:  "0",
			expArgs: func(runDir string) []string {
				return []string{
					"--vcpus", "2", "--memory-mib", "256", "--rootfs", "/images/alpine/rootfs",
					"--exit-file", filepath.Join(runDir, "exit"),
					"--cid", uintString(shim.CIDFor("01HZX")),
					"--env", "A=1", "--env", "B=2", "--workdir", "/root",
					"--", "/bin/sh", "-c", "exit 3",
				}
			},
			expCode: 0,
		},
		"A hypervisor failure should be reported as an error.": {
			transport: shim.TransportUnix,
			exitCode:  "125",
			expCode:   model.CrashedExitCode,
			expErr:    "kvm not available",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			h, argsOut := newShim(t, test.transport)
			t.Setenv("SHIM_EXIT_CODE", test.exitCode)
			runDir := filepath.Join(t.TempDir(), "vm")

			m, err := h.Boot(context.Background(), spec(runDir))
			require.NoError(err)
			assert.NotZero(m.Ref().PID)
			assert.Equal(runDir, m.Ref().RunDir)

			status := waitDone(t, m)
			assert.Equal(test.expCode, status.Code)
			if test.expErr != "" {
				require.ErrorIs(status.Err, hypervisor.ErrHypervisor)
				assert.Contains(status.Err.Error(), test.expErr)
			} else {
				assert.NoError(status.Err)
			}

			if test.expArgs != nil {
				data, err := os.ReadFile(argsOut)
				require.NoError(err)
				gotArgs := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
				assert.Equal(test.expArgs(runDir), gotArgs)
			}
		})
	}
}

func TestMachineTerminate(t *testing.T) {
	require := require.New(t)

	h, _ := newShim(t, shim.TransportUnix)
	t.Setenv("SHIM_SLEEP", "30")

	m, err := h.Boot(context.Background(), spec(filepath.Join(t.TempDir(), "vm")))
	require.NoError(err)

	require.NoError(m.Terminate())
	status := waitDone(t, m)
	require.Equal(model.KilledExitCode, status.Code)
	require.NoError(m.Terminate())
}

func TestHypervisorAttach(t *testing.T) {
	tests := map[string]struct {
		exitFile string
		expCode  int
		expErr   error
	}{
		"A dead machine with an exit file should report its code.": {
			exitFile: "7\n",
			expCode:  7,
		},
		"A dead machine that failed on the hypervisor should report the failure.": {
			exitFile: "125",
			expCode:  model.CrashedExitCode,
			expErr:   hypervisor.ErrHypervisor,
		},
		"A dead machine without exit file should be reported as gone.": {
			expCode: model.CrashedExitCode,
			expErr:  shim.ErrMachineGone,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			h, _ := newShim(t, shim.TransportUnix)

			// A finished process gives us a dead PID.
			cmd := exec.Command("true")
			require.NoError(cmd.Run())

			runDir := t.TempDir()
			if test.exitFile != "" {
				require.NoError(os.WriteFile(filepath.Join(runDir, "exit"), []byte(test.exitFile), 0644))
			}

			m, err := h.Attach(context.Background(), model.MachineRef{PID: cmd.Process.Pid, RunDir: runDir})
			require.NoError(err)

			status := waitDone(t, m)
			assert.Equal(test.expCode, status.Code)
			if test.expErr != nil {
				assert.ErrorIs(status.Err, test.expErr)
			} else {
				assert.NoError(status.Err)
			}
		})
	}
}

func TestHypervisorAttachLiveMachine(t *testing.T) {
	require := require.New(t)

	h, _ := newShim(t, shim.TransportUnix)
	cmd := exec.Command("sleep", "30")
	require.NoError(cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill(); _ = cmd.Wait() })

	m, err := h.Attach(context.Background(), model.MachineRef{PID: cmd.Process.Pid, RunDir: t.TempDir()})
	require.NoError(err)

	select {
	case <-m.Done():
		t.Fatal("machine should be alive")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCIDFor(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(shim.CIDFor("vm-a"), shim.CIDFor("vm-a"))
	assert.NotEqual(shim.CIDFor("vm-a"), shim.CIDFor("vm-b"))
	assert.GreaterOrEqual(shim.CIDFor("vm-a"), uint32(3))
}

func TestNewHypervisorInvalidTransport(t *testing.T) {
	_, err := shim.NewHypervisor(shim.HypervisorConfig{Transport: "tcp"})
	assert.Error(t, err)
}

func uintString(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
