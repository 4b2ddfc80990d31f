//go:build linux

package monkeylib

import "github.com/yourusername/monkeylib/pkg/monkeylib/event"

func newPlatformEventSource() (event.Source, error) {
	return event.NewEpoll()
}
