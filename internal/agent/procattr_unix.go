//go:build unix

package agent

import (
	"os/exec"
	"syscall"
)

// configureProcess runs the CLI in its own process group so a timeout also
// kills whatever tools it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
