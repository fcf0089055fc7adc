package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"

	"github.com/mycok/blockrank/dataset/store/localfs"
	"github.com/mycok/blockrank/dataset/store/memory"
)

var _ = check.Suite(new(MainTestSuite))

func Test(t *testing.T) {
	check.TestingT(t)
}

type MainTestSuite struct {
	logger *logrus.Entry
}

func (s *MainTestSuite) SetUpTest(c *check.C) {
	s.logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
}

func (s *MainTestSuite) TestGetStore(c *check.C) {
	store, err := getStore("in-memory://", false, s.logger)
	c.Assert(err, check.IsNil)
	c.Assert(store, check.FitsTypeOf, memory.NewInMemoryStore())

	dir := c.MkDir()
	store, err = getStore("file://"+dir, true, s.logger)
	c.Assert(err, check.IsNil)
	c.Assert(store, check.FitsTypeOf, &localfs.LocalStore{})

	_, err = getStore("", false, s.logger)
	c.Assert(err, check.ErrorMatches, ".*must be specified.*")

	_, err = getStore("file://relative/dir", false, s.logger)
	c.Assert(err, check.ErrorMatches, ".*absolute path.*")

	_, err = getStore("s3://bucket", false, s.logger)
	c.Assert(err, check.ErrorMatches, `.*unsupported dataset store URI scheme: "s3"`)
}

func (s *MainTestSuite) TestRun(c *check.C) {
	dir := c.MkDir()
	input := filepath.Join(dir, "edges.tsv")
	output := filepath.Join(dir, "scores.tsv")
	c.Assert(os.WriteFile(input, []byte("# cycle\n1\t2\n2\t3\n3\t1\n"), 0o600), check.IsNil)

	cmd := newRootCmd(s.logger)
	cmd.SetArgs([]string{
		"--divisions", "2",
		"--store", "file://" + filepath.Join(dir, "store"),
		"--compress",
		input, output,
	})
	c.Assert(cmd.ExecuteContext(context.TODO()), check.IsNil)

	data, err := os.ReadFile(output)
	c.Assert(err, check.IsNil)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	c.Assert(lines, check.HasLen, 3)
	for i, label := range []string{"1", "2", "3"} {
		c.Assert(strings.HasPrefix(lines[i], label+"\t0.333"), check.Equals, true, check.Commentf("line %q", lines[i]))
	}

	// The run workspace is removed once the scores are written.
	entries, err := os.ReadDir(filepath.Join(dir, "store"))
	c.Assert(err, check.IsNil)
	c.Assert(entries, check.HasLen, 0)
}

func (s *MainTestSuite) TestConfigurationErrors(c *check.C) {
	dir := c.MkDir()
	input := filepath.Join(dir, "edges.tsv")
	c.Assert(os.WriteFile(input, []byte("a\tb\n"), 0o600), check.IsNil)

	cmd := newRootCmd(s.logger)
	cmd.SetArgs([]string{"--divisions", "0", input, filepath.Join(dir, "out.tsv")})
	c.Assert(cmd.ExecuteContext(context.TODO()), check.ErrorMatches, "invalid value for divisions 0.*")

	specs := []struct {
		args   []string
		expErr string
	}{
		{args: []string{"--epsilon", "0"}, expErr: `invalid value for epsilon 0, must be > 0`},
		{args: []string{"--epsilon", "-1e-3"}, expErr: `invalid value for epsilon -0.001, must be > 0`},
		{args: []string{"--teleportation-rate", "0"}, expErr: `invalid value for teleportation-rate 0, must be in \(0, 1\)`},
		{args: []string{"--teleportation-rate", "1"}, expErr: `invalid value for teleportation-rate 1, must be in \(0, 1\)`},
	}

	for specIndex, spec := range specs {
		c.Logf("[spec %d] %v", specIndex, spec.args)

		cmd = newRootCmd(s.logger)
		cmd.SetArgs(append(spec.args, input, filepath.Join(dir, "out.tsv")))
		c.Assert(cmd.ExecuteContext(context.TODO()), check.ErrorMatches, spec.expErr)
	}

	cmd = newRootCmd(s.logger)
	cmd.SetArgs([]string{filepath.Join(dir, "missing.tsv"), filepath.Join(dir, "out.tsv")})
	c.Assert(cmd.ExecuteContext(context.TODO()), check.ErrorMatches, "opening edge list: .*")

	_, err := os.Stat(filepath.Join(dir, "out.tsv"))
	c.Assert(os.IsNotExist(err), check.Equals, true)
}
