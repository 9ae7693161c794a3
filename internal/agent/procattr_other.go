//go:build !unix

package agent

import "os/exec"

func configureProcess(_ *exec.Cmd) {}
