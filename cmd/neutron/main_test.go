package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neutron/internal/config"
	"neutron/internal/errors"
	"neutron/internal/target"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// workspace writes a config, an inventory and a task file into a temp dir
func workspace(t *testing.T) (configPath, taskPath string) {
	t.Helper()
	dir := t.TempDir()

	inventory := writeFile(t, dir, "source.yaml", `
servers:
  - web1.example.com
  - host: win1.example.com
    type: winrm
  - 10.0.0.7
`)
	configPath = writeFile(t, dir, "config.yaml", `
inventory: `+inventory+`
ssh:
  user: ops
  password: pw
winrm:
  user: Administrator
  password: pw
`)
	taskPath = writeFile(t, dir, "tasks.yaml", `
commands:
  - cd /srv
  - uptime
  - type: winrm
    command: ipconfig
`)
	return configPath, taskPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, 0, getExitCode(nil))
	assert.Equal(t, 2, getExitCode(&SetupError{Message: "bad config"}))
	assert.Equal(t, 2, getExitCode(errors.NewConfigError("bad", nil)))
}

func TestSetupErrorUnwraps(t *testing.T) {
	cause := errors.NewConfigError("no such file", nil)
	err := &SetupError{Message: "Failed to load inventory", Err: cause}

	assert.Equal(t, "Failed to load inventory: no such file", err.Error())
	assert.True(t, errors.IsConfig(err))
}

func TestOverrideConfigWithFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--concurrency", "4", "--cmd-timeout", "5s", "--dry-run", "--output", "json"}))

	f := &flags{concurrency: "4", cmdTimeout: 5 * time.Second, dryRun: true, outputMode: "json"}
	cfg := &config.Config{Concurrency: "auto", CmdTimeout: time.Minute, Output: "text", LogLevel: "debug"}
	overrideConfigWithFlags(cmd, f, cfg)

	assert.Equal(t, "4", cfg.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.CmdTimeout)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "json", cfg.Output)
	// untouched flags keep the loaded value
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestDryRunTaskFile(t *testing.T) {
	configPath, taskPath := workspace(t)

	out, err := execute(t, "--config", configPath, "--dry-run", "--no-color", "--quiet", taskPath)
	require.NoError(t, err)

	assert.Contains(t, out, "would run: cd /srv && uptime")
	assert.Contains(t, out, "would run: cd /d /srv && uptime")
	assert.Contains(t, out, "would run: cd /d /srv && ipconfig")
	assert.Less(t, strings.Index(out, "web1.example.com:22 (ssh)"), strings.Index(out, "win1.example.com:5985 (winrm)"))
}

func TestInteractiveEOFExitsCleanly(t *testing.T) {
	configPath, _ := workspace(t)

	out, err := execute(t, "--config", configPath, "--quiet", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "3 targets (2 ssh, 1 winrm)")
	assert.Contains(t, out, "Run statistics:")
}

func TestSetupFailuresAreExitCodeTwo(t *testing.T) {
	configPath, taskPath := workspace(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing task file", []string{"--config", configPath, "--quiet", filepath.Join(t.TempDir(), "absent.yaml")}},
		{"bad concurrency", []string{"--config", configPath, "--quiet", "--concurrency", "zero", taskPath}},
		{"unmatched filter", []string{"--config", configPath, "--quiet", "--filter", "host:db*", taskPath}},
		{"missing inventory", []string{"--config", configPath, "--quiet", "--inventory", filepath.Join(t.TempDir(), "none.yaml"), taskPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, 2, getExitCode(err))

			var setupErr *SetupError
			assert.ErrorAs(t, err, &setupErr)
		})
	}
}

func TestHostsCommand(t *testing.T) {
	configPath, _ := workspace(t)

	out, err := execute(t, "hosts", "--config", configPath, "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "web1.example.com:22 (ssh)\nwin1.example.com:5985 (winrm)\n10.0.0.7:22 (ssh)\n", out)

	out, err = execute(t, "hosts", "--config", configPath, "--quiet", "--filter", "kind:winrm")
	require.NoError(t, err)
	assert.Equal(t, "win1.example.com:5985 (winrm)\n", out)
}

func TestWriteHostsGrouped(t *testing.T) {
	targets := []target.Target{
		{Host: "web1.example.com", Port: 22, Kind: target.KindSSH},
		{Host: "win1.corp.local", Port: 5985, Kind: target.KindWinRM},
		{Host: "10.0.0.7", Port: 22, Kind: target.KindSSH},
	}

	var out bytes.Buffer
	require.NoError(t, writeHosts(&out, targets, "kind"))
	assert.Equal(t, "ssh (2)\n  web1.example.com:22 (ssh)\n  10.0.0.7:22 (ssh)\nwinrm (1)\n  win1.corp.local:5985 (winrm)\n", out.String())

	err := writeHosts(&bytes.Buffer{}, targets, "rack")
	require.Error(t, err)
	assert.Equal(t, 2, getExitCode(err))
}

func TestBannerCountsKinds(t *testing.T) {
	selected, err := target.NewRegistryFromTargets([]target.Target{
		{Host: "a", Port: 5985, Kind: target.KindWinRM},
		{Host: "b", Port: 22, Kind: target.KindSSH},
		{Host: "c", Port: 5985, Kind: target.KindWinRM},
	})
	require.NoError(t, err)
	assert.Contains(t, banner(selected), ": 3 targets (1 ssh, 2 winrm).")
	assert.Equal(t, []target.Kind{target.KindSSH, target.KindWinRM}, selected.Kinds())
}

func TestHelpListsEnvironment(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Environment:")
	for _, name := range config.GetEnvVarNames() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "--templates")
}
