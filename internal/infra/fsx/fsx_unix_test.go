//go:build unix

package fsx

import "syscall"

func exdevErr() error { return syscall.EXDEV }
