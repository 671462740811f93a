package camera

import "errors"

// Symbology identifies the barcode family a code was read from.
type Symbology string

const (
	SymbologyQR      Symbology = "qr"
	SymbologyCode128 Symbology = "code-128"
	SymbologyUnknown Symbology = "unknown"
)

// Code is a single detection reported by the scan hardware.
type Code struct {
	Symbology Symbology
	Payload   string
}

// Torch is the state of the camera illumination LED.
type Torch string

const (
	TorchOff Torch = "off"
	TorchOn  Torch = "on"
)

var (
	ErrAlreadyStarted = errors.New("camera: device already started")
	ErrNoFrame        = errors.New("camera: no new frame")
	// ErrBadFrame marks a single frame that could not be read or decoded as
	// an image. The source stays usable.
	ErrBadFrame = errors.New("camera: unreadable frame")
)

// Events receives the hardware signals of a started Device. Calls arrive on
// the device's own goroutine.
type Events interface {
	// Initialized fires once the camera pipeline can be powered.
	Initialized()
	// CodesScanned delivers the codes detected in one frame, in detection order.
	CodesScanned(codes []Code)
	// RuntimeError reports a fault after which the device produces nothing.
	RuntimeError(err error)
}

// Device is a camera handle owned by at most one scan session.
type Device interface {
	Name() string
	Start(events Events) error
	SetActive(active bool)
	SetTorch(t Torch)
	Close() error
}
