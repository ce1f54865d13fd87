package items

import (
	"io"
	"time"
)

// MaxUploadSize bounds a single image upload.
const MaxUploadSize int64 = 5 << 20

// Item is a catalogue record.
type Item struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Quantity  int       `json:"quantity"`
	Image     string    `json:"image,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input carries the editable item fields.
type Input struct {
	Name     string `json:"name" validate:"required,max=200"`
	Price    string `json:"price" validate:"required,max=32"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

// Upload is an image file received with a create or update request.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// Close releases the upload body when it is closable. It is safe on nil.
func (u *Upload) Close() error {
	if u == nil {
		return nil
	}
	if c, ok := u.Body.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
