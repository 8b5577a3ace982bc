package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/health"
)

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: medx-admin")

	code, _, stderr = runCmd(t, "rotate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: rotate")
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "medx v"+medx.Version)
}

func TestRun_Policy(t *testing.T) {
	code, stdout, _ := runCmd(t, "policy")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "ungoverned fields: open")
	assert.Contains(t, stdout, "patient")
	assert.Contains(t, stdout, "key=identity")
	assert.Contains(t, stdout, "contact")

	code, _, stderr := runCmd(t, "policy", "-file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Failed to load")
}

func TestRun_PolicyFile(t *testing.T) {
	cfg := medx.DefaultRegistryConfig()
	cfg.Ungoverned = medx.UngovernedDeny
	data, err := medx.MarshalRegistryConfig(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	code, stdout, _ := runCmd(t, "policy", "-file", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "ungoverned fields: deny")
}

func TestRun_InitMasterRefusesMemoryBackend(t *testing.T) {
	t.Setenv(medx.EnvMasterKeyBackend, medx.BackendMemory)
	code, _, stderr := runCmd(t, "init-master")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "does not persist")
}

func writeEnvFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	envFile := filepath.Join(dir, "medx.env")
	content := "MEDX_DB_PATH=" + filepath.Join(dir, "records.db") + "\nMEDX_LOG_FORMAT=text\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	return envFile
}

func TestRun_Check(t *testing.T) {
	envFile := writeEnvFile(t)

	code, stdout, stderr := runCmd(t, "check", "-env", envFile)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "✓ store")
	assert.Contains(t, stdout, "✓ attribute service")
	assert.Contains(t, stdout, "All checks passed")
	assert.Contains(t, stderr, "medx service ready")
}

func TestRun_CheckInvalidConfiguration(t *testing.T) {
	t.Setenv(medx.EnvSealerBackend, "hsm")
	code, _, stderr := runCmd(t, "check")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Failed to load configuration")
}

func TestRun_ServeHealthBadAddress(t *testing.T) {
	code, _, stderr := runCmd(t, "serve-health", "-env", writeEnvFile(t), "-listen", "localhost:-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Failed to listen")
}

func TestServeHealth(t *testing.T) {
	checker := health.NewHealthChecker(medx.Version)
	require.NoError(t, checker.RegisterCheck(health.PingCheck("store", true, func(context.Context) error { return nil })))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHealth(ctx, ln, health.Handler(checker)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	var report health.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, health.StatusHealthy, report.Status)

	resp, err = http.Get("http://" + ln.Addr().String() + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
