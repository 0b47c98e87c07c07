package fat

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// geometryPreset is one row of the standard-volume-geometry table consulted
// by the formatter's cluster-size heuristic (spec §4.7), adapted from
// disks/disks.go's DiskGeometry CSV loader.
type geometryPreset struct {
	Slug              string `csv:"slug"`
	FormFactor        string `csv:"form_factor"`
	TotalSectors      uint32 `csv:"total_sectors"`
	SectorsPerCluster uint8  `csv:"sectors_per_cluster"`
	FATTypeHint       int    `csv:"fat_type_hint"`
}

//go:embed geometry-presets.csv
var geometryPresetsRawCSV string

var geometryPresets map[string]geometryPreset

func init() {
	geometryPresets = make(map[string]geometryPreset)

	reader := strings.NewReader(geometryPresetsRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row geometryPreset) error {
		if _, exists := geometryPresets[row.Slug]; exists {
			return fmt.Errorf("duplicate geometry preset slug %q", row.Slug)
		}
		geometryPresets[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// GetGeometryPreset looks up a named standard volume geometry (e.g.
// "fd1440" for a 3.5" HD floppy).
func GetGeometryPreset(slug string) (geometryPreset, error) {
	preset, ok := geometryPresets[slug]
	if !ok {
		return geometryPreset{}, fmt.Errorf("no predefined geometry preset named %q", slug)
	}
	return preset, nil
}

// defaultSectorsPerCluster implements the cluster-size heuristic used when
// Format isn't given an explicit SectorsPerCluster: find the smallest preset
// whose TotalSectors covers the requested volume size and borrow its
// cluster size, falling back to the FAT spec's own recommended table when no
// preset matches (spec §4.7).
func defaultSectorsPerCluster(totalSectors uint32, fatType Type) uint8 {
	var best *geometryPreset
	for slug := range geometryPresets {
		p := geometryPresets[slug]
		if p.FATTypeHint != int(fatType) {
			continue
		}
		if p.TotalSectors < totalSectors {
			continue
		}
		if best == nil || p.TotalSectors < best.TotalSectors {
			pCopy := p
			best = &pCopy
		}
	}
	if best != nil {
		return best.SectorsPerCluster
	}

	// Microsoft's recommended FAT32 cluster-size table, by volume size.
	if fatType == FAT32 {
		switch {
		case totalSectors <= 532480: // <= 260 MiB
			return 1
		case totalSectors <= 16777216: // <= 8 GiB
			return 8
		case totalSectors <= 33554432: // <= 16 GiB
			return 16
		default:
			return 32
		}
	}

	switch {
	case totalSectors <= 8400:
		return 1
	case totalSectors <= 32680:
		return 2
	case totalSectors <= 262144:
		return 4
	case totalSectors <= 524288:
		return 8
	default:
		return 16
	}
}
