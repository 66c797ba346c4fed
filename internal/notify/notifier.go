package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

// Notifier is the platform notification capability: an explicit
// permission request plus a raise-with-title primitive.
type Notifier interface {
	// RequestPermission resolves to whether the user granted platform
	// notifications. It is only ever driven by an explicit user
	// action, never from the polling path.
	RequestPermission(ctx context.Context) (bool, error)
	Notify(title, body string) error
}

// DesktopNotifier raises OS desktop notifications. Desktop sessions
// have no browser-style permission prompt, so requesting permission
// simply grants it.
type DesktopNotifier struct {
	AppName string
}

func NewDesktopNotifier(appName string) *DesktopNotifier {
	beeep.AppName = appName
	return &DesktopNotifier{AppName: appName}
}

func (n *DesktopNotifier) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (n *DesktopNotifier) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}

// DisabledNotifier is the platform channel when desktop notifications
// are turned off: permission requests resolve to denied and nothing is
// ever raised.
type DisabledNotifier struct{}

func (DisabledNotifier) RequestPermission(ctx context.Context) (bool, error) {
	return false, nil
}

func (DisabledNotifier) Notify(title, body string) error {
	return nil
}
