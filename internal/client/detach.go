package client

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches a spawned daemon into its own session so it
// survives the CLI's exit.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
