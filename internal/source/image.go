package source

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivlev/lecture3d/internal/raster"
	"github.com/ivlev/lecture3d/internal/system"
)

// ImageSource is a deck made of image files, sorted by name. SVG pages are
// rasterized onto a CanvasWidth x CanvasHeight canvas.
type ImageSource struct {
	paths        []string
	CanvasWidth  int
	CanvasHeight int
}

func NewImageSource(path string) (*ImageSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && system.HasExtension(entry.Name(), system.ImageExtensions) {
				paths = append(paths, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{path}
	}

	return &ImageSource{paths: paths, CanvasWidth: 1920, CanvasHeight: 1080}, nil
}

func (s *ImageSource) PageCount() int {
	return len(s.paths)
}

// Path returns the file behind page index.
func (s *ImageSource) Path(index int) string {
	return s.paths[index]
}

func (s *ImageSource) isSVG(index int) bool {
	return strings.EqualFold(filepath.Ext(s.paths[index]), ".svg")
}

func (s *ImageSource) GetPageDimensions(index int) (float64, float64, error) {
	if s.isSVG(index) {
		return float64(s.CanvasWidth), float64(s.CanvasHeight), nil
	}
	f, err := os.Open(s.paths[index])
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	img, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return float64(img.Width), float64(img.Height), nil
}

func (s *ImageSource) RenderPage(index int, dpi int) (image.Image, error) {
	f, err := os.Open(s.paths[index])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if s.isSVG(index) {
		dst := image.NewRGBA(image.Rect(0, 0, s.CanvasWidth, s.CanvasHeight))
		if err := raster.RasterizeSVG(f, dst); err != nil {
			return nil, err
		}
		return dst, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	img, _, err := raster.DecodeImage(data, 0)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *ImageSource) Close() error {
	return nil
}

// Open picks a PDF or image source by path.
func Open(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewFitzPDFSource(path)
	}
	return NewImageSource(path)
}
