package relay

import "sync"

// Initial circuit-level flow-control windows and the SENDME increment,
// generalized from the teacher's pkg/circuit.Circuit package/deliver
// window fields (there keyed to tor-spec.txt §7.4's 1000/100 values).
const (
	InitialWindow    = 1000
	SendmeIncrement  = 100
	SendmeEveryCells = 100
)

// Window tracks one direction's flow-control budget for a circuit or a
// stream: a package window limiting how many cells may be sent before
// a SENDME acknowledgement is required, mirrored by a deliver window
// limiting how many may be received before one must be sent.
type Window struct {
	mu             sync.Mutex
	packageWindow  int
	deliverWindow  int
	deliveredSince int
}

// NewWindow constructs a Window with both budgets at InitialWindow.
func NewWindow() *Window {
	return &Window{packageWindow: InitialWindow, deliverWindow: InitialWindow}
}

// ConsumeSend decrements the package window for one outgoing cell. It
// reports false if the window is exhausted and the cell must be held.
func (w *Window) ConsumeSend() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.packageWindow <= 0 {
		return false
	}
	w.packageWindow--
	return true
}

// OnSendmeReceived grows the package window by SendmeIncrement.
func (w *Window) OnSendmeReceived() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packageWindow += SendmeIncrement
}

// ConsumeDeliver decrements the deliver window for one incoming cell
// and reports whether a SENDME should now be emitted (every
// SendmeEveryCells cells delivered).
func (w *Window) ConsumeDeliver() (ok, sendSendme bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deliverWindow <= 0 {
		return false, false
	}
	w.deliverWindow--
	w.deliveredSince++
	if w.deliveredSince >= SendmeEveryCells {
		w.deliveredSince = 0
		w.deliverWindow += SendmeIncrement
		return true, true
	}
	return true, false
}

// PackageWindow returns the current send budget, for tests and metrics.
func (w *Window) PackageWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packageWindow
}

// DeliverWindow returns the current receive budget, for tests and metrics.
func (w *Window) DeliverWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deliverWindow
}
