// Package firmware holds the firmware image model and the error taxonomy of
// the update path. The chunked transfer itself is driven by the session's
// updater; this package never touches a device.
package firmware

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ImageSize is the exact size of a released DualSense firmware image. Images
// of any other size are refused before any device traffic.
const ImageSize = 950272

// Image header offsets (little endian).
const (
	offProductID = 0x62
	offVersion   = 0x78
	minImageLen  = 0x80
)

var (
	ErrChecksumMismatch = errors.New("firmware: image checksum mismatch")
	ErrSizeMismatch     = errors.New("firmware: image size does not match declared size")
	ErrImageTooSmall    = errors.New("firmware: image too small to carry a header")

	// ErrTooLateToAbort is returned when an abort arrives after the
	// finalize step started; interrupting a commit is more dangerous than
	// letting it finish.
	ErrTooLateToAbort = errors.New("firmware: too late to abort, finalize in flight")

	// ErrAborted is returned when a client abort was honored between
	// chunks.
	ErrAborted = errors.New("firmware: update aborted")

	// ErrUpdateUncertain means the finalize acknowledgment never arrived:
	// the device may or may not have applied the image. Callers must
	// surface this outcome as-is, never as success or plain failure.
	ErrUpdateUncertain = errors.New("firmware: update outcome uncertain")
)

// IncompatibleImageError is returned when an image targets different hardware
// than the connected controller.
type IncompatibleImageError struct {
	ImageProduct  uint16
	DeviceProduct uint16
}

func (e *IncompatibleImageError) Error() string {
	return fmt.Sprintf("firmware: image targets product 0x%04x, controller is 0x%04x",
		e.ImageProduct, e.DeviceProduct)
}

// UpdateFailedError is the terminal failure of an update job after the
// per-chunk retry budget was exhausted.
type UpdateFailedError struct {
	Offset int
	Cause  error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("firmware: update failed at offset %d: %v", e.Offset, e.Cause)
}

func (e *UpdateFailedError) Unwrap() error { return e.Cause }

// Image is a verified firmware payload. Immutable once loaded.
type Image struct {
	data      []byte
	checksum  uint32
	productID uint16
	version   uint16
}

// Load validates a firmware payload against its declared size and CRC-32
// checksum and extracts the header fields. The payload is copied, so the
// caller may reuse its buffer.
func Load(data []byte, declaredSize int, checksum uint32) (*Image, error) {
	if len(data) != declaredSize {
		return nil, fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, len(data), declaredSize)
	}
	if len(data) < minImageLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooSmall, len(data))
	}
	if got := crc32.ChecksumIEEE(data); got != checksum {
		return nil, fmt.Errorf("%w: computed 0x%08x, declared 0x%08x", ErrChecksumMismatch, got, checksum)
	}
	img := &Image{
		data:      append([]byte(nil), data...),
		checksum:  checksum,
		productID: binary.LittleEndian.Uint16(data[offProductID : offProductID+2]),
		version:   binary.LittleEndian.Uint16(data[offVersion : offVersion+2]),
	}
	return img, nil
}

// CheckCompatibility rejects an image whose target product does not match the
// connected controller.
func (i *Image) CheckCompatibility(deviceProduct uint16) error {
	if i.productID != deviceProduct {
		return &IncompatibleImageError{ImageProduct: i.productID, DeviceProduct: deviceProduct}
	}
	return nil
}

// Bytes returns the image payload. Callers must not mutate it.
func (i *Image) Bytes() []byte { return i.data }

// Size returns the payload length in bytes.
func (i *Image) Size() int { return len(i.data) }

// Checksum returns the declared (and verified) CRC-32 of the payload.
func (i *Image) Checksum() uint32 { return i.checksum }

// ProductID returns the hardware product the image targets.
func (i *Image) ProductID() uint16 { return i.productID }

// Version returns the firmware version embedded in the image header.
func (i *Image) Version() uint16 { return i.version }
