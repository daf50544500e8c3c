// Package face gates, embeds and compares face captures.
package face

import "image"

// Box is a face bounding box in image pixel coordinates.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b Box) Area() int { return b.Width * b.Height }

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Left+b.Width, b.Top+b.Height)
}

// Detection is the output of a face detector for a single face. Euler angles
// are in degrees. Eye probabilities are nil when the detector cannot tell.
type Detection struct {
	Box          Box      `json:"box"`
	Yaw          float64  `json:"yaw"`
	Roll         float64  `json:"roll"`
	LeftEyeOpen  *float64 `json:"left_eye_open,omitempty"`
	RightEyeOpen *float64 `json:"right_eye_open,omitempty"`
}

// Capture is one camera frame plus what the detector saw in it. Detection
// is nil when no face was found.
type Capture struct {
	Image     []byte     `json:"image"`
	Detection *Detection `json:"detection,omitempty"`
}

// Prob is a helper for building detections with known eye probabilities.
func Prob(v float64) *float64 { return &v }
