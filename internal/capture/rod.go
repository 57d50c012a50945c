package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodShooter drives a headless Chrome. The browser is started on first use
// and kept until Close. When ControlURL is set an existing browser is used.
type RodShooter struct {
	ControlURL        string
	Bin               string
	NavigationTimeout time.Duration

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
}

func (r *RodShooter) Shoot(ctx context.Context, url string, bp Breakpoint) ([]byte, error) {
	browser, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             bp.Width,
		Height:            bp.Height,
		DeviceScaleFactor: 1,
		Mobile:            bp.Mobile,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	timeout := r.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	nav := page.Timeout(timeout)
	if err := nav.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	data, err := page.Screenshot(true, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func (r *RodShooter) connect(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}
	controlURL := r.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if r.Bin != "" {
			l = l.Bin(r.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		r.launched = l
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	r.browser = browser
	return browser, nil
}

// Close shuts down the browser if this shooter started it.
func (r *RodShooter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launched != nil {
		r.launched.Cleanup()
		r.launched = nil
	}
	return err
}
