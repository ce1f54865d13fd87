package app

import (
	"log"
	"mime"
)

// The /static and /uploads file servers pick Content-Type by extension;
// minimal containers ship without /etc/mime.types.
func init() {
	for ext, typ := range map[string]string{
		".css":  "text/css; charset=utf-8",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".gif":  "image/gif",
		".webp": "image/webp",
	} {
		ensureMimeType(ext, typ)
	}
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: failed to register MIME type for %s: %v", ext, err)
	}
}
