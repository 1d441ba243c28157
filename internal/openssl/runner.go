// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package openssl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner runs external commands. All process execution in this package goes
// through a Runner so it can be replaced in tests.
type Runner interface {
	// LookPath reports where file can be found, see exec.LookPath.
	LookPath(file string) (string, error)

	// Run runs name with args, feeding stdin to the process if it is not nil,
	// and returns everything it wrote to stdout and stderr. A process that
	// exits with a non-zero status returns an error wrapping an
	// *exec.ExitError alongside its output.
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner is the os/exec implementation of Runner.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// LookPath implements Runner.
func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("running %s: %w", cmd.Args, err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
