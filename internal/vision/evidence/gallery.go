package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pasture-data/herdsight/internal/monitoring"
)

// Contact sheet layout.
const (
	galleryTilePx   = 160
	galleryLabelPx  = 24
	galleryMarginPx = 10
	galleryHeaderPx = 40
	galleryColumns  = 4
)

// GalleryEntry is one goat's row in the profile gallery manifest.
type GalleryEntry struct {
	GoatID   int64  `json:"goat_id"`
	ImageURL string `json:"image_url"`
	Tag      string `json:"tag"`
}

// GalleryEntryFor builds the manifest row for an animal registered or
// matched during a job.
func GalleryEntryFor(videoID string, animalID int64) GalleryEntry {
	return GalleryEntry{
		GoatID:   animalID,
		ImageURL: fmt.Sprintf("/api/diagnostics/profiles/%s/goat_%d.jpg", videoID, animalID),
		Tag:      fmt.Sprintf("GOAT%03d", animalID),
	}
}

// WriteGallery writes gallery_manifest.json and, when any goats were
// seen, a gallery_sheet.jpg contact sheet of their profile crops. The
// sheet reads profile images back through the generator's filesystem,
// so SaveProfile must have run first; missing crops render as blank
// tiles rather than failing the gallery.
func (g *Generator) WriteGallery(videoID string, entries []GalleryEntry) error {
	dir := g.ProfileDir(videoID)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}

	if entries == nil {
		entries = []GalleryEntry{}
	}
	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal gallery manifest: %w", err)
	}
	if err := g.fs.WriteFile(filepath.Join(dir, "gallery_manifest.json"), blob, 0o644); err != nil {
		return fmt.Errorf("failed to write gallery manifest: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	sheet, err := g.renderGallerySheet(videoID, entries)
	if err != nil {
		return err
	}
	if err := g.fs.WriteFile(filepath.Join(dir, "gallery_sheet.jpg"), sheet, 0o644); err != nil {
		return fmt.Errorf("failed to write gallery sheet: %w", err)
	}

	monitoring.Logf("evidence: gallery written: %s (%d goats)", dir, len(entries))
	return nil
}

func (g *Generator) renderGallerySheet(videoID string, entries []GalleryEntry) ([]byte, error) {
	fnt, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gallery font: %w", err)
	}
	titleFace := truetype.NewFace(fnt, &truetype.Options{Size: 18})
	tagFace := truetype.NewFace(fnt, &truetype.Options{Size: 13})

	cols := galleryColumns
	if len(entries) < cols {
		cols = len(entries)
	}
	rows := (len(entries) + cols - 1) / cols
	width := cols*galleryTilePx + (cols+1)*galleryMarginPx
	height := galleryHeaderPx + rows*(galleryTilePx+galleryLabelPx+galleryMarginPx) + galleryMarginPx

	dc := gg.NewContext(width, height)
	dc.SetRGB(0.09, 0.10, 0.12)
	dc.Clear()

	dc.SetFontFace(titleFace)
	dc.SetRGB(0.93, 0.94, 0.95)
	dc.DrawStringAnchored(fmt.Sprintf("Herd gallery - video %s", videoID),
		float64(width)/2, galleryHeaderPx/2, 0.5, 0.5)

	dc.SetFontFace(tagFace)
	for i, e := range entries {
		x := galleryMarginPx + (i%cols)*(galleryTilePx+galleryMarginPx)
		y := galleryHeaderPx + (i/cols)*(galleryTilePx+galleryLabelPx+galleryMarginPx)

		if img := g.loadProfileImage(videoID, e.GoatID); img != nil {
			dc.DrawImage(scaleToTile(img, galleryTilePx), x, y)
		} else {
			dc.SetRGB(0.20, 0.21, 0.24)
			dc.DrawRectangle(float64(x), float64(y), galleryTilePx, galleryTilePx)
			dc.Fill()
		}

		dc.SetRGB(0.93, 0.94, 0.95)
		dc.DrawStringAnchored(e.Tag,
			float64(x)+galleryTilePx/2,
			float64(y)+galleryTilePx+float64(galleryLabelPx)/2,
			0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: g.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode gallery sheet: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) loadProfileImage(videoID string, animalID int64) image.Image {
	path := filepath.Join(g.ProfileDir(videoID), fmt.Sprintf("goat_%d.jpg", animalID))
	data, err := g.fs.ReadFile(path)
	if err != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}

// scaleToTile resizes a profile crop onto a square tile.
func scaleToTile(src image.Image, side int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
