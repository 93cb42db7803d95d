package lib_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/microbox/pkg/lib"
)

// This example shows how to create a client using the fake hypervisor for testing.
func Example_testing() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "mbox-example-test-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	client, err := lib.New(ctx, lib.Config{
		DataDir:    dir,
		InMemory:   true,
		Hypervisor: lib.HypervisorFake,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	vm, err := client.CreateVM(ctx, lib.CreateVMOpts{
		Config: lib.VMConfig{
			Name:   "test-vm",
			RootFS: dir,
			Exec:   lib.ExecSpec{Path: "/bin/true"},
		},
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Created: %s (state: %s)\n", vm.Name, vm.State)

	// Output:
	// Created: test-vm (state: created)
}

// This example shows the full VM lifecycle: run detached, exec, stop, remove.
func Example_lifecycle() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "mbox-example-lifecycle-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	client, err := lib.New(ctx, lib.Config{
		DataDir:    dir,
		DBPath:     filepath.Join(dir, "mbox.db"),
		Hypervisor: lib.HypervisorFake,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	rootfs := filepath.Join(dir, "rootfs")
	if err := os.Mkdir(rootfs, 0o755); err != nil {
		panic(err)
	}

	// Run detached.
	_, err = client.RunVM(ctx, lib.RunVMOpts{
		CreateVMOpts: lib.CreateVMOpts{Config: lib.VMConfig{
			Name:   "my-vm",
			RootFS: rootfs,
			Exec:   lib.ExecSpec{Path: "/bin/sleep", Args: []string{"inf"}},
		}},
		Detach: true,
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("1. Running")

	// Exec a command.
	var stdout bytes.Buffer
	result, err := client.Exec(ctx, "my-vm", []string{"echo", "hello"}, &lib.ExecOpts{Stdout: &stdout})
	if err != nil {
		panic(err)
	}
	fmt.Printf("2. Exec exit code: %d, output: %s", result.ExitCode, stdout.String())

	// Stop.
	vm, err := client.StopVM(ctx, "my-vm", 5*time.Second)
	if err != nil {
		panic(err)
	}
	fmt.Printf("3. Stopped with %d\n", vm.Exit.Code)

	// Remove.
	_, err = client.RemoveVM(ctx, "my-vm", false)
	if err != nil {
		panic(err)
	}
	fmt.Println("4. Removed")

	// Output:
	// 1. Running
	// 2. Exec exit code: 0, output: hello
	// 3. Stopped with 143
	// 4. Removed
}

// This example shows how to run a VM and get the exit code of its process.
func ExampleClient_RunVM() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "mbox-example-run-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	client, err := lib.New(ctx, lib.Config{
		DataDir:    dir,
		InMemory:   true,
		Hypervisor: lib.HypervisorFake,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	res, err := client.RunVM(ctx, lib.RunVMOpts{
		CreateVMOpts: lib.CreateVMOpts{Config: lib.VMConfig{
			RootFS:     dir,
			Exec:       lib.ExecSpec{Path: "/bin/exit", Args: []string{"3"}},
			AutoRemove: true,
		}},
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("exit code: %d (%s)\n", res.Exit.Code, res.Exit.Reason)

	// Output:
	// exit code: 3 (exited)
}

// This example shows how to check SDK errors.
func Example_errors() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "mbox-example-errors-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	client, err := lib.New(ctx, lib.Config{
		DataDir:    dir,
		InMemory:   true,
		Hypervisor: lib.HypervisorFake,
	})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	_, err = client.GetVM(ctx, "does-not-exist")
	fmt.Println("not found:", errors.Is(err, lib.ErrNotFound))

	_, err = client.CreateVM(ctx, lib.CreateVMOpts{Config: lib.VMConfig{RootFS: dir}})
	fmt.Println("not valid:", errors.Is(err, lib.ErrNotValid))

	// Output:
	// not found: true
	// not valid: true
}
