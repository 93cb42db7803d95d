//go:build !unix

package shim

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr { return nil }
