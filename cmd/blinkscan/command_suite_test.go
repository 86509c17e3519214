package main

import (
	"bytes"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite bundles helpers for driving cobra commands in tests. The
// command tree uses package-level flag variables, so suites embedding this
// must reset them in SetupTest before each run.
type CommandTestSuite struct {
	suite.Suite
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// ClearChanged forgets which flags earlier executions set, so Changed-based
// precedence starts fresh.
func (s *CommandTestSuite) ClearChanged(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}
}
