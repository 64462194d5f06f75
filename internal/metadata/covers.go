package metadata

import (
	"strconv"
	"strings"
)

// Cover sizes, ordered from largest to smallest.
const (
	CoverOriginal  = "original"
	CoverLarge     = "large"
	CoverSmall     = "small"
	CoverThumbnail = "thumbnail"
)

// CoverEntry is one artwork variant: its size name, the remote URL, and
// the local path once downloaded.
type CoverEntry struct {
	Size string
	URL  string
	Path string
}

// Covers holds up to four artwork variants, largest first. Services that
// expose fewer sizes leave the missing slots empty.
type Covers struct {
	entries [4]CoverEntry
}

func NewCovers() *Covers {
	c := &Covers{}
	for i, size := range []string{CoverOriginal, CoverLarge, CoverSmall, CoverThumbnail} {
		c.entries[i].Size = size
	}
	return c
}

func coverIndex(size string) int {
	switch size {
	case CoverOriginal:
		return 0
	case CoverLarge:
		return 1
	case CoverSmall:
		return 2
	case CoverThumbnail:
		return 3
	}
	return -1
}

// SetURL records the remote URL for a size. Unknown sizes are ignored.
func (c *Covers) SetURL(size, url string) {
	if i := coverIndex(size); i >= 0 {
		c.entries[i].URL = url
	}
}

// SetPath records the local path of a downloaded variant.
func (c *Covers) SetPath(size, path string) {
	if i := coverIndex(size); i >= 0 {
		c.entries[i].Path = path
	}
}

// SetLargestPath records the local path against the largest variant that
// has a URL.
func (c *Covers) SetLargestPath(path string) {
	for i := range c.entries {
		if c.entries[i].URL != "" {
			c.entries[i].Path = path
			return
		}
	}
}

// Empty reports whether no variant has a URL.
func (c *Covers) Empty() bool {
	for i := range c.entries {
		if c.entries[i].URL != "" {
			return false
		}
	}
	return true
}

// Largest returns the biggest variant with a URL.
func (c *Covers) Largest() (CoverEntry, bool) {
	for i := range c.entries {
		if c.entries[i].URL != "" {
			return c.entries[i], true
		}
	}
	return CoverEntry{}, false
}

// GetSize returns the variant for size, falling back to the next smaller
// one when it is missing.
func (c *Covers) GetSize(size string) (CoverEntry, bool) {
	i := coverIndex(size)
	if i < 0 {
		return CoverEntry{}, false
	}
	for ; i < len(c.entries); i++ {
		if c.entries[i].URL != "" {
			return c.entries[i], true
		}
	}
	return CoverEntry{}, false
}

const tidalCoverURL = "https://resources.tidal.com/images/"

// tidalCover builds the artwork URL for a cover uuid at a square size.
func tidalCover(uuid string, size int) string {
	dim := strconv.Itoa(size)
	return tidalCoverURL + strings.ReplaceAll(uuid, "-", "/") + "/" + dim + "x" + dim + ".jpg"
}
