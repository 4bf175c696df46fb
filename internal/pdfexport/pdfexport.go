// Package pdfexport derives PDF files from rendered HTML using a headless
// Chrome instance. Callers treat conversion failure as a degraded state,
// not an error: the HTML deliverable stands on its own.
package pdfexport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromeUnavailable means no Chrome/Chromium executable could be found
// on PATH; PDF output is skipped in that case.
var ErrChromeUnavailable = errors.New("no chrome or chromium executable found in PATH")

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// Converter prints HTML files to PDF through the DevTools protocol.
type Converter struct {
	// Timeout bounds one conversion; zero means 60s.
	Timeout time.Duration
}

func NewConverter() *Converter {
	return &Converter{Timeout: 60 * time.Second}
}

func chromeAvailable() bool {
	for _, name := range chromeCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// Convert renders htmlPath in a fresh headless tab and writes the printed
// PDF to pdfPath.
func (c *Converter) Convert(ctx context.Context, htmlPath, pdfPath string) error {
	if !chromeAvailable() {
		return ErrChromeUnavailable
	}

	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("resolving HTML path: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("file://"+abs),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("printing %s to PDF: %w", htmlPath, err)
	}

	if err := os.WriteFile(pdfPath, pdf, 0644); err != nil {
		return fmt.Errorf("writing PDF: %w", err)
	}
	return nil
}
