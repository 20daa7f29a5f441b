package models

// ImageFormat is the source container format detected at decode time.
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "JPEG"
	FormatPNG     ImageFormat = "PNG"
	FormatGIF     ImageFormat = "GIF"
	FormatWEBP    ImageFormat = "WEBP"
	FormatUnknown ImageFormat = "UNKNOWN"
)

// MIME returns the content type for the format, image/jpeg when unknown.
func (f ImageFormat) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Extension returns the lowercase file extension without the dot.
func (f ImageFormat) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatWEBP:
		return "webp"
	default:
		return "jpg"
	}
}

// ColorMode names the pixel layout of a decoded raster.
type ColorMode string

const (
	ModeRGB  ColorMode = "RGB"
	ModeRGBA ColorMode = "RGBA"
	ModeL    ColorMode = "L"
	ModeLA   ColorMode = "LA"
	ModeP    ColorMode = "P"
	ModeCMYK ColorMode = "CMYK"
)

// MetadataRecord is the row written once per ingested image.
// ImageID is the partition key.
type MetadataRecord struct {
	ImageID         string `json:"image-id"`
	Bucket          string `json:"bucket"`
	ObjectURL       string `json:"object_url"`
	ContentType     string `json:"content_type"`
	ImageFormat     string `json:"image_format"`
	Mode            string `json:"mode"`
	HasTransparency bool   `json:"has_transparency"`
	SizeBytes       int64  `json:"size_bytes"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	UploadedAt      int64  `json:"uploaded_at"`
	CreatedDate     string `json:"created_date"`
}

// Item keys shared by the table and the composition stage.
const (
	ItemKeyImageID   = "image-id"
	ItemKeyObjectURL = "object_url"
)

// Item is a record as read back from the table: a loosely typed document whose
// numbers keep their exact stored representation.
type Item map[string]any

// ObjectCreatedEvent is published after a raw object is written and is the
// event-shaped input accepted by the resize stage.
type ObjectCreatedEvent struct {
	Source     string       `json:"source"`
	DetailType string       `json:"detail-type"`
	Detail     *EventDetail `json:"detail"`
}

type EventDetail struct {
	Bucket *EventBucket `json:"bucket"`
	Object *EventObject `json:"object"`
}

type EventBucket struct {
	Name string `json:"name"`
}

type EventObject struct {
	Key  string `json:"key"`
	Size int64  `json:"size,omitempty"`
}
