package scraping

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/hashicorp/go-multierror"
)

// webdriverMask hides the automation flag before any page script runs
const webdriverMask = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
`

const visibleFn = `function visible(el) {
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

const clickScript = `(() => {
	%s
	const selectors = %s;
	const texts = %s;
	for (const sel of selectors) {
		let nodes;
		try { nodes = document.querySelectorAll(sel); } catch (e) { continue; }
		for (const el of nodes) {
			if (visible(el)) { el.click(); return sel; }
		}
	}
	for (const el of document.querySelectorAll('button, a, [role="button"]')) {
		const label = (el.innerText || '').trim().toLowerCase();
		if (texts.includes(label) && visible(el)) { el.click(); return label; }
	}
	return '';
})()`

const anyVisibleScript = `(() => {
	%s
	for (const sel of %s) {
		let nodes;
		try { nodes = document.querySelectorAll(sel); } catch (e) { continue; }
		for (const el of nodes) { if (visible(el)) return true; }
	}
	return false;
})()`

const overlayScript = `(() => {
	return Array.from(document.querySelectorAll('div, section, aside')).some(el => {
		const style = window.getComputedStyle(el);
		return (style.position === 'fixed' || style.position === 'absolute') &&
			parseInt(style.zIndex || 0) > 10 &&
			el.offsetWidth > window.innerWidth * 0.5 &&
			el.offsetHeight > window.innerHeight * 0.3;
	});
})()`

// chromeDriver is a single tab inside its own browser process. Closing it
// tears down tab, browser and allocator in that order.
type chromeDriver struct {
	ctx     context.Context
	config  BrowserConfig
	cancels []func() error
}

func newChromeDriver(ctx context.Context, config BrowserConfig) (pageDriver, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),
		chromedp.UserAgent(config.UserAgent),
		chromedp.WindowSize(1280, 800),
	}
	if config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(config.ChromePath))
	}

	d := &chromeDriver{config: config}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	d.cancels = append(d.cancels, func() error { allocCancel(); return nil })

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	d.cancels = append(d.cancels, func() error {
		err := chromedp.Cancel(browserCtx)
		browserCancel()
		if err != nil && err != context.Canceled {
			return fmt.Errorf("browser: %w", err)
		}
		return nil
	})

	// Starts the browser process
	if err := chromedp.Run(browserCtx); err != nil {
		return nil, multierror.Append(err, d.Close()).ErrorOrNil()
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	d.cancels = append(d.cancels, func() error { tabCancel(); return nil })
	d.ctx = tabCtx

	err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(webdriverMask).Do(ctx)
			return err
		}),
		network.SetExtraHTTPHeaders(network.Headers(map[string]interface{}{
			"Accept-Language": "en-US,en;q=0.9",
		})),
	)
	if err != nil {
		return nil, multierror.Append(fmt.Errorf("failed to prepare tab: %w", err), d.Close()).ErrorOrNil()
	}
	return d, nil
}

// run executes actions on the tab, abandoning them when ctx ends
func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (d *chromeDriver) Navigate(ctx context.Context, target string) (int, error) {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(target))
	if err != nil {
		return 0, err
	}
	if d.config.SettleDelay > 0 {
		_ = chromedp.Run(runCtx, chromedp.Sleep(d.config.SettleDelay))
	}
	if resp == nil {
		return 0, nil
	}
	return int(resp.Status), nil
}

func (d *chromeDriver) Location(ctx context.Context) (string, error) {
	var location string
	err := d.run(ctx, chromedp.Location(&location))
	return location, err
}

func (d *chromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (d *chromeDriver) ClickFirstVisible(ctx context.Context, selectors, texts []string) (string, error) {
	sel, err := json.Marshal(selectors)
	if err != nil {
		return "", err
	}
	txt, err := json.Marshal(texts)
	if err != nil {
		return "", err
	}

	var clicked string
	if err := d.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, visibleFn, sel, txt), &clicked)); err != nil {
		return "", err
	}
	if clicked != "" {
		_ = d.run(ctx, chromedp.Sleep(time.Second))
	}
	return clicked, nil
}

func (d *chromeDriver) AnyVisible(ctx context.Context, selectors []string) (bool, error) {
	sel, err := json.Marshal(selectors)
	if err != nil {
		return false, err
	}
	var visible bool
	err = d.run(ctx, chromedp.Evaluate(fmt.Sprintf(anyVisibleScript, visibleFn, sel), &visible))
	return visible, err
}

func (d *chromeDriver) OverlayPresent(ctx context.Context) (bool, error) {
	var present bool
	err := d.run(ctx, chromedp.Evaluate(overlayScript, &present))
	return present, err
}

// Close releases tab, browser and allocator in reverse order of creation
func (d *chromeDriver) Close() error {
	var result *multierror.Error
	for i := len(d.cancels) - 1; i >= 0; i-- {
		if err := d.cancels[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	d.cancels = nil
	return result.ErrorOrNil()
}
