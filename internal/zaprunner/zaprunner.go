// Package zaprunner builds and executes OWASP ZAP scans inside a docker
// container. Each scan variant maps to its own invocation profile, but all
// variants share the same output collection contract: report files are
// picked up by fixed naming convention, and a missing file is a warning,
// never a hard failure.
package zaprunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/scan"
)

// ErrImageNotFound means the scanner container image is not available
// locally and could not be pulled.
var ErrImageNotFound = errors.New("scanner image not found")

// Config for the runner.
type Config struct {
	// Image is the ZAP container image.
	Image string

	// DockerBin is the container runtime binary.
	DockerBin string

	// ReportsRoot is the directory scan output folders are created under.
	ReportsRoot string

	// Timeout is caller-configurable but not currently enforced; scans run
	// to completion. Kept so a watchdog can be added as a documented
	// behavior change rather than a silent one.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Image:       "zaproxy/zap-stable",
		DockerBin:   "docker",
		ReportsRoot: "reports",
	}
}

// profile is one scanner invocation shape.
type profile struct {
	script string
	flags  []string
}

// Variant profiles. All of them write html/xml/json reports through the
// shared flag set; only the driving script and its extra flags differ.
var profiles = map[scan.ScanType]profile{
	scan.ScanBasic:  {script: "zap-baseline.py"},
	scan.ScanFull:   {script: "zap-full-scan.py"},
	scan.ScanAPI:    {script: "zap-api-scan.py", flags: []string{"-f", "openapi"}},
	scan.ScanSpider: {script: "zap-baseline.py", flags: []string{"-m", "1"}},
}

// RunResult captures one scanner execution: exit status, combined output
// and whichever report files actually exist on disk afterwards.
type RunResult struct {
	OutputDir string
	Timestamp string
	ExitCode  int
	Log       string

	// Reports maps artifact role (html, xml, json) to an existing path.
	Reports map[string]string

	// Missing lists expected roles whose file never appeared.
	Missing []string
}

// XMLPath returns the structured report path, or "" when the scanner did
// not produce one.
func (r *RunResult) XMLPath() string {
	return r.Reports["xml"]
}

// Runner executes scans out-of-process so a hung or crashing scanner can
// never take the orchestrating process down with it.
type Runner struct {
	cfg    Config
	logger logging.Logger
}

func New(cfg Config, logger logging.Logger) *Runner {
	def := DefaultConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.DockerBin == "" {
		cfg.DockerBin = def.DockerBin
	}
	if cfg.ReportsRoot == "" {
		cfg.ReportsRoot = def.ReportsRoot
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Command builds the docker invocation for one scan without running it.
// Split out so the per-variant flag wiring stays testable.
func (r *Runner) Command(scanType scan.ScanType, target, outputDir, timestamp string) ([]string, error) {
	p, ok := profiles[scanType]
	if !ok {
		return nil, fmt.Errorf("no invocation profile for scan type %q", scanType)
	}

	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output directory: %w", err)
	}

	args := []string{
		"run", "--rm",
		"-v", abs + ":/zap/wrk:rw",
		r.cfg.Image,
		p.script,
		"-t", target,
		"-r", reportName(timestamp, "html"),
		"-x", reportName(timestamp, "xml"),
		"-J", reportName(timestamp, "json"),
	}
	args = append(args, p.flags...)
	return args, nil
}

func reportName(timestamp, ext string) string {
	return fmt.Sprintf("zap_report_%s.%s", timestamp, ext)
}

// OutputDirName follows the on-disk convention <variant>-scan_<timestamp>.
func OutputDirName(scanType scan.ScanType, timestamp string) string {
	return fmt.Sprintf("%s-scan_%s", scanType, timestamp)
}

// Run executes one scan. ZAP's wrapper scripts exit 1/2 when warnings or
// alerts were raised; those are completed scans, not failures. Any exit
// code outside 0-2 (including the -1 of a signal-killed process), a
// missing image, or a failed exec is an error. Report files that made it
// to disk are collected on either path.
func (r *Runner) Run(ctx context.Context, scanType scan.ScanType, target string) (*RunResult, error) {
	timestamp := time.Now().Format("20060102_150405")
	outputDir := filepath.Join(r.cfg.ReportsRoot, OutputDirName(scanType, timestamp))
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating scan output directory: %w", err)
	}

	args, err := r.Command(scanType, target, outputDir, timestamp)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting scanner container",
		logging.Field{Key: "image", Value: r.cfg.Image},
		logging.Field{Key: "scan_type", Value: string(scanType)},
		logging.Field{Key: "target", Value: target},
		logging.Field{Key: "output_dir", Value: outputDir})

	cmd := exec.CommandContext(ctx, r.cfg.DockerBin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	result := &RunResult{
		OutputDir: outputDir,
		Timestamp: timestamp,
		Log:       out.String(),
		Reports:   map[string]string{},
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			// docker binary itself failed to start
			return result, fmt.Errorf("launching scanner container: %w (is %s installed?)", runErr, r.cfg.DockerBin)
		}
	}

	// Only 0-2 are completed scans. A signal-killed process reports -1, so
	// negative codes are runtime failures too, not a pass-through.
	if result.ExitCode < 0 || result.ExitCode > 2 {
		// reports written before the failure are still collected so the
		// caller can persist partial artifacts
		r.collectReports(result)

		// docker prints "Unable to find image ... locally" before a
		// successful pull too, so the marker only matters on a failed run.
		if imageMissing(result.Log) {
			return result, fmt.Errorf("%w: %s (try: %s pull %s)", ErrImageNotFound, r.cfg.Image, r.cfg.DockerBin, r.cfg.Image)
		}
		if result.ExitCode < 0 {
			return result, fmt.Errorf("scanner terminated abnormally: %v", runErr)
		}
		return result, fmt.Errorf("scanner exited with code %d", result.ExitCode)
	}

	r.collectReports(result)
	return result, nil
}

// collectReports resolves the expected output files; absent files are
// recorded and logged but do not fail the run.
func (r *Runner) collectReports(result *RunResult) {
	for _, role := range []string{"html", "xml", "json"} {
		path := filepath.Join(result.OutputDir, reportName(result.Timestamp, role))
		if _, err := os.Stat(path); err != nil {
			result.Missing = append(result.Missing, role)
			r.logger.Warn("expected scanner output missing",
				logging.Field{Key: "role", Value: role},
				logging.Field{Key: "path", Value: path})
			continue
		}
		result.Reports[role] = path
	}
}

func imageMissing(log string) bool {
	for _, marker := range []string{
		"Unable to find image",
		"manifest unknown",
		"pull access denied",
		"No such image",
	} {
		if bytes.Contains([]byte(log), []byte(marker)) {
			return true
		}
	}
	return false
}
