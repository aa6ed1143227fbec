package contentstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// BrowserRenderer renders pages through headless Chromium for sites whose
// listing grids are built client-side. The browser is started lazily on the
// first render and reused for the life of the process.
type BrowserRenderer struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	started bool
}

func NewBrowserRenderer() *BrowserRenderer {
	return &BrowserRenderer{}
}

func (r *BrowserRenderer) ensureStarted() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("launch chromium: %w", err)
	}

	r.pw = pw
	r.browser = browser
	r.started = true
	return nil
}

func (r *BrowserRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	if err := r.ensureStarted(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := r.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(userAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		return nil, fmt.Errorf("goto %s: %w", pageURL, err)
	}
	if resp != nil && resp.Status() == 404 {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrNotFound)
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("page content: %w", err)
	}
	return []byte(content), nil
}

func (r *BrowserRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.browser.Close()
	r.pw.Stop()
	r.started = false
}
