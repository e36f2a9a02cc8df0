package processor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flarebyte/scribe/internal/service"
)

// LoadImages resolves an image field: a path, a data: URL, or an array of
// either. Relative paths are read from root. Absent or null means no images.
func LoadImages(v gjson.Result, root string) ([]service.Image, error) {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return nil, nil
	case v.IsArray():
		var out []service.Image
		for _, item := range v.Array() {
			if item.Type != gjson.String {
				return nil, fmt.Errorf("unsupported image value %s", item.Raw)
			}
			img, err := loadImage(item.Str, root)
			if err != nil {
				return nil, err
			}
			out = append(out, img)
		}
		return out, nil
	case v.Type == gjson.String:
		if v.Str == "" {
			return nil, nil
		}
		img, err := loadImage(v.Str, root)
		if err != nil {
			return nil, err
		}
		return []service.Image{img}, nil
	}
	return nil, fmt.Errorf("unsupported image value %s", v.Raw)
}

func loadImage(ref, root string) (service.Image, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	path := ref
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return service.Image{}, err
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" || !strings.HasPrefix(mt, "image/") {
		mt = http.DetectContentType(b)
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return service.Image{Data: b, MediaType: mt}, nil
}

var errBadDataURL = errors.New("malformed data url")

func decodeDataURL(s string) (service.Image, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return service.Image{}, errBadDataURL
	}
	mt, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return service.Image{}, fmt.Errorf("%w: only base64 payloads are supported", errBadDataURL)
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return service.Image{}, fmt.Errorf("%w: %v", errBadDataURL, err)
	}
	if mt == "" {
		mt = http.DetectContentType(b)
	}
	return service.Image{Data: b, MediaType: mt}, nil
}
