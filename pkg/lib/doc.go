// Package lib provides a Go SDK for managing microbox VMs programmatically.
//
// This package allows applications to create, run and interact with microVMs
// without shelling out to the mbox CLI binary. The SDK and the CLI share the
// same state, VMs created by one can be managed by the other.
//
// # Quick Start
//
// Create a client, run a VM and execute commands in it:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Run a VM from a Docker image in the background.
//	res, err := client.RunVM(ctx, lib.RunVMOpts{
//	    CreateVMOpts: lib.CreateVMOpts{
//	        Image:  "alpine:3.20",
//	        Config: lib.VMConfig{
//	            Name:      "my-vm",
//	            VCPUs:     2,
//	            MemoryMiB: 1024,
//	            Exec:      lib.ExecSpec{Path: "/bin/sleep", Args: []string{"inf"}},
//	        },
//	    },
//	    Detach: true,
//	})
//
//	// Exec, stop and remove.
//	client.Exec(ctx, "my-vm", []string{"echo", "hello"}, nil)
//	client.StopVM(ctx, "my-vm", 10*time.Second)
//	client.RemoveVM(ctx, "my-vm", false)
//
// VMs are referenced by name, ID or a unique ID prefix.
//
// # Attached Runs
//
// Without Detach, [Client.RunVM] blocks until the initial process of the VM
// exits and returns its exit status. Cancelling the context stops the VM
// gracefully:
//
//	res, err := client.RunVM(ctx, lib.RunVMOpts{
//	    CreateVMOpts: lib.CreateVMOpts{
//	        Config: lib.VMConfig{
//	            RootFS:     "/path/to/rootfs",
//	            Exec:       lib.ExecSpec{Path: "/usr/bin/make", Args: []string{"test"}},
//	            AutoRemove: true,
//	        },
//	    },
//	})
//	fmt.Println(res.Exit.Code)
//
// # Hypervisors
//
// The SDK supports two hypervisor types:
//
//   - [HypervisorShim]: Real microVMs booted by the mbox-shim binary, the guest
//     runs mbox-agent as its init. Requires the shim in PATH (or [Config].ShimPath).
//   - [HypervisorFake]: In-process guests for unit testing. No real infrastructure
//     needed. Set [Config].Hypervisor to [HypervisorFake] to use it.
//
// # File Operations
//
// Copy files between the host and a running VM:
//
//	client.CopyTo(ctx, "my-vm", "/local/file.txt", "/remote/file.txt")
//	client.CopyFrom(ctx, "my-vm", "/remote/file.txt", "/local/file.txt")
//
// # Image Management
//
// Docker images are exported from the local Docker daemon and imported as root
// filesystems:
//
//	img, _ := client.PullImage(ctx, "alpine:3.20", nil)
//	images, _ := client.ListImages(ctx)
//	client.RemoveImage(ctx, img.Ref, false)
//
//	// Remove the root filesystems no VM uses.
//	client.PruneCache(ctx)
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: VM or image does not exist.
//   - [ErrAlreadyExists]: VM with the same name already exists.
//   - [ErrNotValid]: Invalid input.
//   - [ErrInvalidState]: Operation not allowed in the VM state (e.g. stopping a created VM).
//   - [ErrBoot]: The VM could not be booted.
//
// # Testing
//
// Use [HypervisorFake] with in memory state to write tests without real
// infrastructure:
//
//	client, _ := lib.New(ctx, lib.Config{
//	    DataDir:    t.TempDir(),
//	    InMemory:   true,
//	    Hypervisor: lib.HypervisorFake,
//	})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines. Operations on
// the same VM are serialized.
package lib
