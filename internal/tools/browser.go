package tools

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// jsRenderer launches Chromium on first use and keeps it running across
// calls, the same lazy single-instance pattern the teacher's browser
// pool uses for its own Acquire/Release cycle, simplified to one
// instance since web_fetch only ever needs one page at a time.
type jsRenderer struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func newJSRenderer() *jsRenderer {
	return &jsRenderer{}
}

func (r *jsRenderer) ensureBrowser() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return nil
	}
	if r.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("start playwright: %w", err)
		}
		r.pw = pw
	}
	browser, err := r.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}
	r.browser = browser
	return nil
}

// render navigates to url in a fresh page, waits for the network to go
// idle (so client-rendered content has a chance to appear), and returns
// the page's visible text.
func (r *jsRenderer) render(url string, timeout time.Duration) (string, error) {
	if err := r.ensureBrowser(); err != nil {
		return "", err
	}

	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()

	page, err := browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(webUserAgent),
	})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page.SetDefaultTimeout(float64(timeout.Milliseconds()))
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	text, err := page.TextContent("body")
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return strings.TrimSpace(normalizeWhitespace(text)), nil
}

// Close releases the underlying browser and Playwright driver.
func (r *jsRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}
	if r.pw != nil {
		err := r.pw.Stop()
		r.pw = nil
		return err
	}
	return nil
}
