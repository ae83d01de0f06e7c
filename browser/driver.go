// Package browser wraps a browser driver with the higher-level operations
// the navigation workflow needs: session bootstrap, cleaned snapshots,
// bounded element waits, and recording lifecycle.
package browser

import (
	"context"

	"github.com/andybalholm/cascadia"
)

// Driver is the narrow browser surface the workflow drives. It is
// implemented by the remote automation-protocol client and by the local
// rod driver.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Evaluate(ctx context.Context, script string) (string, error)
	HTML(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, name string) (string, error)
	PressKey(ctx context.Context, key, selector string) error
	Close() error
}

// resetter is implemented by drivers that can discard the current browser
// session without tearing down the transport.
type resetter interface {
	CloseBrowser(ctx context.Context) error
}

// recorder is implemented by drivers that support recording sessions.
type recorder interface {
	StartRecording(ctx context.Context, outputDir, prefix string) (string, error)
	EndRecording(ctx context.Context, sessionID string) (string, error)
}

// ValidSelector reports whether a selector parses as CSS. Every selector
// coming out of a model decision goes through this gate before it is sent
// to the browser.
func ValidSelector(selector string) bool {
	if selector == "" {
		return false
	}
	_, err := cascadia.ParseGroup(selector)
	return err == nil
}
