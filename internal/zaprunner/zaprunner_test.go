package zaprunner_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/shadowscan/shadowscan/internal/scan"
	"github.com/shadowscan/shadowscan/internal/testutil"
	"github.com/shadowscan/shadowscan/internal/zaprunner"
)

func TestCommandBasic(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{}, testutil.NopLogger{})

	args, err := r.Command(scan.ScanBasic, "https://t.example", "reports/basic-scan_20250603_100000", "20250603_100000")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}

	joined := strings.Join(args, " ")
	if args[0] != "run" || args[1] != "--rm" {
		t.Fatalf("unexpected prefix: %v", args[:2])
	}
	if !strings.Contains(joined, ":/zap/wrk:rw") {
		t.Error("volume mount missing")
	}
	if !strings.Contains(joined, "zaproxy/zap-stable zap-baseline.py") {
		t.Errorf("default image or script wrong: %s", joined)
	}
	if !strings.Contains(joined, "-t https://t.example") {
		t.Error("target flag missing")
	}
	if !strings.Contains(joined, "-r zap_report_20250603_100000.html") ||
		!strings.Contains(joined, "-x zap_report_20250603_100000.xml") ||
		!strings.Contains(joined, "-J zap_report_20250603_100000.json") {
		t.Errorf("report flags wrong: %s", joined)
	}
}

func TestCommandVariants(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{Image: "custom/zap"}, testutil.NopLogger{})

	cases := []struct {
		scanType scan.ScanType
		script   string
		extra    string
	}{
		{scan.ScanFull, "zap-full-scan.py", ""},
		{scan.ScanAPI, "zap-api-scan.py", "-f openapi"},
		{scan.ScanSpider, "zap-baseline.py", "-m 1"},
	}
	for _, c := range cases {
		args, err := r.Command(c.scanType, "https://t.example", "out", "ts")
		if err != nil {
			t.Fatalf("Command(%s): %v", c.scanType, err)
		}
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "custom/zap "+c.script) {
			t.Errorf("%s: script wrong: %s", c.scanType, joined)
		}
		if c.extra != "" && !strings.Contains(joined, c.extra) {
			t.Errorf("%s: missing flags %q: %s", c.scanType, c.extra, joined)
		}
	}
}

func TestCommandUnknownScanType(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{}, testutil.NopLogger{})
	if _, err := r.Command(scan.ScanType("nmap"), "https://t.example", "out", "ts"); err == nil {
		t.Fatal("expected error for unknown scan type")
	}
}

func TestOutputDirName(t *testing.T) {
	if got := zaprunner.OutputDirName(scan.ScanFull, "20250603_100000"); got != "full-scan_20250603_100000" {
		t.Fatalf("OutputDirName = %q", got)
	}
}

// stubDocker writes a shell script that mimics the container runtime: it
// parses the volume mount and report flags the way the real invocation
// receives them and fabricates report files, then exits with the given code.
func stubDocker(t *testing.T, exitCode int, writeReports bool) string {
	t.Helper()
	script := `#!/bin/sh
dir=""
prev=""
for a in "$@"; do
  case "$prev" in
    -v) dir="${a%%:*}" ;;
    -r) html="$a" ;;
    -x) xml="$a" ;;
    -J) json="$a" ;;
  esac
  prev="$a"
done
`
	if writeReports {
		script += `
echo "<html></html>" > "$dir/$html"
echo "<OWASPZAPReport><site name=\"https://t.example\"><alerts><alertitem><alert>X-Frame-Options Header Not Set</alert><name>X-Frame-Options Header Not Set</name><riskdesc>Medium (Medium)</riskdesc><desc>missing header</desc><solution>set it</solution></alertitem></alerts></site></OWASPZAPReport>" > "$dir/$xml"
echo "{}" > "$dir/$json"
`
	}
	script += "\nexit " + strconv.Itoa(exitCode) + "\n"

	path := filepath.Join(t.TempDir(), "docker-stub")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing stub: %v", err)
	}
	return path
}

func TestRunCollectsReports(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{
		DockerBin:   stubDocker(t, 2, true),
		ReportsRoot: t.TempDir(),
	}, testutil.NopLogger{})

	res, err := r.Run(context.Background(), scan.ScanBasic, "https://t.example")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Exit code 2 means alerts were raised; the scan still completed.
	if res.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", res.ExitCode)
	}
	for _, role := range []string{"html", "xml", "json"} {
		if res.Reports[role] == "" {
			t.Errorf("missing %s report", role)
			continue
		}
		if _, err := os.Stat(res.Reports[role]); err != nil {
			t.Errorf("%s report path does not exist: %v", role, err)
		}
	}
	if res.XMLPath() == "" {
		t.Error("XMLPath empty")
	}
	if len(res.Missing) != 0 {
		t.Errorf("unexpected missing roles: %v", res.Missing)
	}
}

func TestRunMissingReportsAreWarnings(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{
		DockerBin:   stubDocker(t, 0, false),
		ReportsRoot: t.TempDir(),
	}, testutil.NopLogger{})

	res, err := r.Run(context.Background(), scan.ScanBasic, "https://t.example")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Reports) != 0 {
		t.Errorf("expected no reports, got %v", res.Reports)
	}
	if len(res.Missing) != 3 {
		t.Errorf("expected 3 missing roles, got %v", res.Missing)
	}
}

func TestRunScannerRuntimeError(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{
		DockerBin:   stubDocker(t, 5, false),
		ReportsRoot: t.TempDir(),
	}, testutil.NopLogger{})

	res, err := r.Run(context.Background(), scan.ScanBasic, "https://t.example")
	if err == nil {
		t.Fatal("expected error for exit code 5")
	}
	if res == nil || res.ExitCode != 5 {
		t.Fatalf("result not populated on failure: %+v", res)
	}
}

func TestRunSignalKilledScannerFails(t *testing.T) {
	// A container killed by a signal surfaces exit code -1, which must be
	// treated as a runtime failure, not a completed scan.
	script := "#!/bin/sh\nkill -9 $$\n"
	bin := filepath.Join(t.TempDir(), "docker-stub")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatalf("writing stub: %v", err)
	}

	r := zaprunner.New(zaprunner.Config{
		DockerBin:   bin,
		ReportsRoot: t.TempDir(),
	}, testutil.NopLogger{})

	res, err := r.Run(context.Background(), scan.ScanBasic, "https://t.example")
	if err == nil {
		t.Fatal("expected error for signal-killed scanner")
	}
	if res == nil || res.ExitCode >= 0 {
		t.Fatalf("expected negative exit code, got %+v", res)
	}
}

func TestRunFailureKeepsPartialReports(t *testing.T) {
	// Reports written before the scanner died are still collected so the
	// caller can persist them.
	r := zaprunner.New(zaprunner.Config{
		DockerBin:   stubDocker(t, 5, true),
		ReportsRoot: t.TempDir(),
	}, testutil.NopLogger{})

	res, err := r.Run(context.Background(), scan.ScanBasic, "https://t.example")
	if err == nil {
		t.Fatal("expected error for exit code 5")
	}
	for _, role := range []string{"html", "xml", "json"} {
		if res.Reports[role] == "" {
			t.Errorf("missing %s report on failure path", role)
		}
	}
}

func TestRunMissingDockerBinary(t *testing.T) {
	r := zaprunner.New(zaprunner.Config{
		DockerBin:   filepath.Join(t.TempDir(), "no-such-binary"),
		ReportsRoot: t.TempDir(),
	}, testutil.NopLogger{})

	if _, err := r.Run(context.Background(), scan.ScanBasic, "https://t.example"); err == nil {
		t.Fatal("expected error when runtime binary is absent")
	}
}
