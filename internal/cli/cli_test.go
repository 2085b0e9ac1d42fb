package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eunmann/s3crawl/pkg/jobs"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := RunContext(context.Background(), args, &out)
	return out.String(), err
}

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s3crawl.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunNoArgs(t *testing.T) {
	_, err := run(t)
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("expected usage message, got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	_, err := run(t, "unknown")
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected 'unknown command' error, got: %v", err)
	}
}

func TestHelp(t *testing.T) {
	out, err := run(t, "help")
	if err != nil || !strings.Contains(out, "worker") {
		t.Errorf("help = %q, %v", out, err)
	}
	if _, err := run(t, "scan", "--help"); err != nil {
		t.Errorf("scan --help error = %v", err)
	}
}

func TestScanRequiresTarget(t *testing.T) {
	_, err := run(t, "scan")
	if err == nil || !strings.Contains(err.Error(), "--account or --bucket") {
		t.Errorf("expected target error, got: %v", err)
	}
	_, err = run(t, "scan", "--bucket", "nobucket")
	if err == nil || !strings.Contains(err.Error(), "account/bucket") {
		t.Errorf("expected bucket id error, got: %v", err)
	}
}

func TestScanRejectsMemoryQueue(t *testing.T) {
	cfg := writeConfig(t, "queue: {backend: memory}\ncounters: {backend: memory}\n")
	_, err := run(t, "scan", "-c", cfg, "--bucket", "prod/data")
	if err == nil || !strings.Contains(err.Error(), "shared queue") {
		t.Errorf("expected shared queue error, got: %v", err)
	}
}

func TestReportRequiresOutput(t *testing.T) {
	_, err := run(t, "report")
	if err == nil || !strings.Contains(err.Error(), "--out or --table") {
		t.Errorf("expected output error, got: %v", err)
	}
}

func TestScanPayloads(t *testing.T) {
	got, err := scanPayloads([]string{"prod"}, []string{"dev/logs"}, "")
	if err != nil {
		t.Fatalf("scanPayloads() error = %v", err)
	}
	if len(got) != 2 || got[0].Kind() != jobs.KindAccountScan || got[1].Kind() != jobs.KindBucketScan {
		t.Errorf("scanPayloads() = %v", got)
	}
	if _, err := scanPayloads([]string{"prod"}, nil, "logs/"); err == nil {
		t.Error("scanPayloads() accepted --prefix with --account")
	}
}

// TestLocal crawls a directory tree through the file blob driver and checks
// the printed report.
func TestLocal(t *testing.T) {
	root := t.TempDir()
	for i := range 30 {
		path := filepath.Join(root, "media", fmt.Sprintf("d%d", i%3), fmt.Sprintf("f%02d", i))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := writeConfig(t, fmt.Sprintf(`
queue: {backend: memory}
counters: {backend: memory}
crawl: {batch_threshold: 4, page_size: 5}
accounts:
  - name: local
    blob_url: file://%s/{bucket}
    buckets: [media]
`, filepath.ToSlash(root)))

	parquet := filepath.Join(t.TempDir(), "counters.parquet")
	out, err := run(t, "local", "-c", cfg, "--human=false", "--account", "local", "--out", parquet)
	if err != nil {
		t.Fatalf("local error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "local/media") || !strings.Contains(out, "100.0%") {
		t.Errorf("report missing bucket row:\n%s", out)
	}
	if info, err := os.Stat(parquet); err != nil || info.Size() == 0 {
		t.Errorf("parquet report not written: %v", err)
	}
}
