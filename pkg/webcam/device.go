// Package webcam runs the camera pipeline: capture, broadcast, paired mic
// audio, and duration-bounded recording.
package webcam

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Device reads JPEG-encoded frames from a camera.
type Device interface {
	ReadJPEG(quality int) ([]byte, error)
	Close() error
}

// DeviceOpener opens a camera. Injectable so tests run without hardware.
type DeviceOpener func(deviceID int) (Device, error)

// gocvDevice wraps a gocv VideoCapture. The Mat is reused across reads.
type gocvDevice struct {
	vc  *gocv.VideoCapture
	img gocv.Mat
}

// OpenDevice opens camera deviceID through OpenCV.
func OpenDevice(deviceID int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", deviceID, err)
	}
	return &gocvDevice{vc: vc, img: gocv.NewMat()}, nil
}

// ReadJPEG grabs one frame and encodes it as JPEG.
func (d *gocvDevice) ReadJPEG(quality int) ([]byte, error) {
	if ok := d.vc.Read(&d.img); !ok || d.img.Empty() {
		return nil, fmt.Errorf("camera read failed")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode camera frame: %w", err)
	}
	defer buf.Close()

	frame := make([]byte, buf.Len())
	copy(frame, buf.GetBytes())
	return frame, nil
}

// Close releases the capture handle and the reused Mat.
func (d *gocvDevice) Close() error {
	d.img.Close()
	return d.vc.Close()
}
