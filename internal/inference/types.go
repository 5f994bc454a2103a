package inference

// Point is a polygon vertex in pixel space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detection is the inference output unit for one region of one frame.
type Detection struct {
	// Box is [x, y, w, h] in pixel space.
	Box        [4]int  `json:"box"`
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Polygon    []Point `json:"polygon,omitempty"`
}

// FrameResult is the engine output for one whole frame.
type FrameResult struct {
	FrameNumber int         `json:"frame_number"`
	Classes     []int       `json:"classes,omitempty"`
	Detections  []Detection `json:"detections"`
}

// RegionResult is the engine output for a region-of-interest crop.
// Detection is nil when the crop is background-dominant: callers must not
// create a labeled region from it.
type RegionResult struct {
	Detection     *Detection `json:"detection,omitempty"`
	DominantClass int        `json:"dominant_class"`
	DominantLabel string     `json:"dominant_class_name"`
	DominantRatio float64    `json:"dominant_class_ratio"`
}

// segmentRequest is the wire request to the model execution service.
type segmentRequest struct {
	Image     string `json:"image"` // base64-encoded JPEG
	ModelType string `json:"model_type"`
}

// segmentResponse carries a dense class-id mask for the submitted image.
type segmentResponse struct {
	Mask            string   `json:"mask"` // base64-encoded grayscale PNG of class ids
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Classes         []string `json:"classes"` // index = class id, 0 is background
	InferenceTimeMs float64  `json:"inference_time_ms"`
}

// detectResponse carries discrete detections for the submitted image.
type detectResponse struct {
	Detections []struct {
		Box        [4]float64 `json:"box"` // [x1, y1, x2, y2]
		ClassID    int        `json:"class_id"`
		ClassName  string     `json:"class_name"`
		Confidence float64    `json:"confidence"`
		Mask       string     `json:"mask,omitempty"` // base64 PNG, instance mask
	} `json:"detections"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// initializeRequest asks the model service to load weights.
type initializeRequest struct {
	ModelType string `json:"model_type"`
	ModelPath string `json:"model_path,omitempty"`
}

type initializeResponse struct {
	Initialized        bool     `json:"initialized"`
	AlreadyInitialized bool     `json:"already_initialized"`
	Classes            []string `json:"classes"`
	Device             string   `json:"device"`
}
