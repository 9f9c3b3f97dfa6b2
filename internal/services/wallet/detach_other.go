//go:build !unix

package wallet

import "os/exec"

func detach(*exec.Cmd) {}
