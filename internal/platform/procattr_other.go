//go:build !unix

package platform

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
