// Package browser binds the crawler's navigation and analysis interfaces to
// a headless Chromium driven by rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// Options configures the browser process and the pages it opens.
type Options struct {
	// Bin is the browser executable. Empty means look it up on the system.
	Bin      string
	Headless bool
	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool
	// UserDataDir persists the browser profile (cookies, sessions) across
	// runs. Empty means a throwaway profile.
	UserDataDir string
	Width       int
	Height      int
	// Timeout bounds one navigation, including waiting for the load event.
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Browser owns one browser process. Pages are opened per navigation and
// closed by the crawler once analyzed.
type Browser struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	logger   *zap.Logger
}

// Launch starts a browser and connects to it.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	opts.setDefaults()

	bin := opts.Bin
	if bin == "" {
		path, ok := launcher.LookPath()
		if !ok {
			return nil, errors.New("launch browser: no chromium executable found")
		}
		bin = path
	}

	l := launcher.New().Context(ctx).Bin(bin).Headless(opts.Headless).NoSandbox(opts.NoSandbox)
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	opts.Logger.Info("browser started",
		zap.String("bin", bin),
		zap.Bool("headless", opts.Headless),
		zap.String("profile", opts.UserDataDir))

	return &Browser{opts: opts, launcher: l, browser: b, logger: opts.Logger}, nil
}

// Close stops the browser. A throwaway profile is removed; a persisted one
// is kept.
func (b *Browser) Close() error {
	err := b.browser.Close()
	if b.opts.UserDataDir == "" {
		b.launcher.Cleanup()
	} else {
		b.launcher.Kill()
	}
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
