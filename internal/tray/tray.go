// Package tray provides the system tray menu for the sign detection demo.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/bisindo/internal/detector"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(streaming bool)
	onSnapshot func()
	onOpen     func()
	onQuit     func()
	streaming  bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuSnapshot *systray.MenuItem
	menuLast     *systray.MenuItem
}

// New creates a new Tray in the not-streaming state.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback called with the requested streaming state when
// the Start/Stop item is clicked.
func (t *Tray) OnToggle(fn func(streaming bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSnapshot sets the callback for the Save snapshot item.
func (t *Tray) OnSnapshot(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSnapshot = fn
}

// OnOpen sets the callback for the Open in browser item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called and must run on the
// main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
func (t *Tray) onReady() {
	systray.SetTitle("Bisindo")
	systray.SetTooltip("Bisindo Sign Detection")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.streaming), "Start or stop the camera stream")
	t.menuSnapshot = systray.AddMenuItem("Save snapshot", "Save the annotated frame as PNG")
	if !t.streaming {
		t.menuSnapshot.Disable()
	}
	systray.AddSeparator()

	t.menuLast = systray.AddMenuItem(LastDetectionTitle(nil), "Most confident sign in the last frame")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open in browser", "Open the web interface")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Bisindo")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuSnapshot.ClickedCh:
				t.handle(func() func() { return t.onSnapshot })
			case <-menuOpen.ClickedCh:
				t.handle(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle requests the opposite of the current streaming state. The
// menu follows once SetStreaming reports the outcome.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	want := !t.streaming
	callback := t.onToggle
	t.mu.RUnlock()

	if callback != nil {
		callback(want)
	}
}

func (t *Tray) handle(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStreaming updates the menu for the session's streaming state.
func (t *Tray) SetStreaming(streaming bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streaming = streaming
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(streaming))
	}
	if t.menuSnapshot != nil {
		if streaming {
			t.menuSnapshot.Enable()
		} else {
			t.menuSnapshot.Disable()
		}
	}
}

// SetLastDetection shows the most confident detection in the menu.
func (t *Tray) SetLastDetection(dets []detector.Detection) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLast != nil {
		t.menuLast.SetTitle(LastDetectionTitle(dets))
	}
}

// IsStreaming returns the last reported streaming state.
func (t *Tray) IsStreaming() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaming
}

func toggleTitle(streaming bool) string {
	if streaming {
		return "■ Stop stream"
	}
	return "▶ Start stream"
}

// LastDetectionTitle formats the most confident detection for the menu.
func LastDetectionTitle(dets []detector.Detection) string {
	if len(dets) == 0 {
		return "Last: none"
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return fmt.Sprintf("Last: %s (%.0f%%)", best.Label, best.Confidence*100)
}
