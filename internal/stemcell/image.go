package stemcell

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Archiver creates and unpacks tarballs.
type Archiver interface {
	Create(prefix, target string, members ...string) error
	Extract(src, dest string) error
}

// AssembleImage unpacks the exported box into prefix and repacks its disk
// images and descriptor into prefix/image. It returns the image path.
func AssembleImage(archiver Archiver, prefix, name string) (string, error) {
	box := filepath.Join(prefix, name+".box")
	if err := archiver.Extract(box, prefix); err != nil {
		return "", fmt.Errorf("unable to unpack %s: %w", box, err)
	}

	var members []string
	for _, pattern := range []string{"*.vmdk", "*.ovf"} {
		matches, err := filepath.Glob(filepath.Join(prefix, pattern))
		if err != nil {
			return "", err
		}
		sort.Strings(matches)
		for _, m := range matches {
			members = append(members, filepath.Base(m))
		}
	}
	if len(members) == 0 {
		return "", fmt.Errorf("no .vmdk or .ovf files found in %s after unpacking %s", prefix, box)
	}

	image := filepath.Join(prefix, ImageName)
	if err := archiver.Create(prefix, image, members...); err != nil {
		return "", fmt.Errorf("unable to create image file from ovf and vmdk: %w", err)
	}
	return image, nil
}
