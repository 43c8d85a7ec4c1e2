package main_test

import (
	"os"
	"strings"
	"testing"
)

func readArtifact(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("%s should exist: %v", name, err)
	}
	return string(data)
}

func TestDockerfile(t *testing.T) {
	content := readArtifact(t, "Dockerfile")

	tests := []struct {
		name   string
		marker string
		reason string
	}{
		{"ビルドステージ", "FROM golang:", "multi-stage build needs a Go builder stage"},
		{"静的バイナリ", "CGO_ENABLED=0", "runtime image has no libc"},
		{"バイナリ名", "/opsdeck", "entrypoint binary should be opsdeck"},
		{"ヘルスチェック", `HEALTHCHECK`, "container should self-report via the healthcheck subcommand"},
		{"起動コマンド", `CMD ["serve"]`, "default command should be serve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(content, tt.marker) {
				t.Errorf("Dockerfile missing %q: %s", tt.marker, tt.reason)
			}
		})
	}

	// 最終ステージはシェルを持たない最小イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "distroless") {
		t.Errorf("final stage should be distroless, got: %s", lastFrom)
	}
}

func TestDockerCompose(t *testing.T) {
	content := readArtifact(t, "docker-compose.yml")

	// API・ワーカー・DBの3サービス構成であること
	for _, svc := range []string{"api:", "worker:", "db:"} {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should define service %q", svc)
		}
	}

	// ワーカーはworkerサブコマンドで起動すること
	if !strings.Contains(content, `["worker"]`) {
		t.Error("worker service should run the worker subcommand")
	}

	// JWT_SECRETはイメージに焼き込まず環境から注入すること
	if !strings.Contains(content, "JWT_SECRET: ${JWT_SECRET") {
		t.Error("JWT_SECRET should be injected from the environment, not hardcoded")
	}

	// DBの起動完了を待ってからAPIを起動すること
	if !strings.Contains(content, "service_healthy") {
		t.Error("api/worker should wait for the db healthcheck")
	}
}
