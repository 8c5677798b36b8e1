package printerfs

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrNoThumbnail is returned when a job archive carries no preview image.
var ErrNoThumbnail = errors.New("no thumbnail in job archive")

// ErrNoWeight is returned when a job archive carries no filament weight.
var ErrNoWeight = errors.New("no weight in job archive")

const (
	thumbnailEntry = "Metadata/plate_1.png"
	sliceInfoEntry = "Metadata/slice_info.config"
)

// sliceInfo mirrors the parts of Metadata/slice_info.config we read.
type sliceInfo struct {
	Plates []struct {
		Metadata []struct {
			Key   string `xml:"key,attr"`
			Value string `xml:"value,attr"`
		} `xml:"metadata"`
		Filaments []struct {
			UsedG string `xml:"used_g,attr"`
		} `xml:"filament"`
	} `xml:"plate"`
}

// Archive is an opened 3MF job file.
type Archive struct {
	zr *zip.Reader
}

// OpenArchive reads a 3MF held in memory.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open 3mf: %w", err)
	}
	return &Archive{zr: zr}, nil
}

func (a *Archive) read(name string) ([]byte, error) {
	for _, f := range a.zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s: not found", name)
}

// Thumbnail returns the first plate's preview, falling back to the first PNG
// under Metadata/.
func (a *Archive) Thumbnail() ([]byte, error) {
	if data, err := a.read(thumbnailEntry); err == nil {
		return data, nil
	}
	var pngs []string
	for _, f := range a.zr.File {
		if path.Dir(f.Name) == "Metadata" && strings.EqualFold(path.Ext(f.Name), ".png") {
			pngs = append(pngs, f.Name)
		}
	}
	if len(pngs) == 0 {
		return nil, ErrNoThumbnail
	}
	sort.Strings(pngs)
	data, err := a.read(pngs[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pngs[0], err)
	}
	return data, nil
}

// Weight returns the job's filament weight in grams: the sum of every
// plate's weight metadata, or the sum of per-filament usage when no plate
// declares one.
func (a *Archive) Weight() (float64, error) {
	data, err := a.read(sliceInfoEntry)
	if err != nil {
		return 0, ErrNoWeight
	}
	return ParseSliceInfo(data)
}

// ParseSliceInfo extracts the weight from a slice_info.config document.
func ParseSliceInfo(data []byte) (float64, error) {
	var info sliceInfo
	if err := xml.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("parse slice info: %w", err)
	}

	var plateSum, filamentSum float64
	var plateSeen, filamentSeen bool
	for _, p := range info.Plates {
		for _, m := range p.Metadata {
			if m.Key != "weight" {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(m.Value), 64); err == nil {
				plateSum += v
				plateSeen = true
			}
		}
		for _, f := range p.Filaments {
			if v, err := strconv.ParseFloat(strings.TrimSpace(f.UsedG), 64); err == nil {
				filamentSum += v
				filamentSeen = true
			}
		}
	}

	switch {
	case plateSeen:
		return plateSum, nil
	case filamentSeen:
		return filamentSum, nil
	}
	return 0, ErrNoWeight
}
