// package metadata normalizes the wildly different per-service API
// responses into one set of structures the rest of the pipeline consumes.
// Each service gets its own parse functions over typed response structs;
// nothing downstream ever touches raw JSON.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	phonCopyright = "℗"
	copyrightSign = "©"
)

// AlbumInfo holds the non-tag technical facts about an album.
type AlbumInfo struct {
	ID           string
	Quality      int
	Container    string
	Label        string
	Explicit     bool
	SamplingRate *float64 // kHz
	BitDepth     *int
	BookletURLs  []string
}

// AlbumMetadata is the normalized album-level tag set shared by every
// track on the album.
type AlbumMetadata struct {
	Info        AlbumInfo
	Album       string
	AlbumArtist string
	Year        string
	Genre       []string
	Covers      *Covers
	TrackTotal  int
	DiscTotal   int

	AlbumComposer string
	Copyright     string
	Date          string
	Description   string
}

// Genres joins the genre list into a single tag value.
func (a *AlbumMetadata) Genres() string {
	return strings.Join(a.Genre, ", ")
}

var (
	phonRe = regexp.MustCompile(`(?i)\(P\)`)
	copyRe = regexp.MustCompile(`(?i)\(C\)`)
)

// CopyrightText substitutes the ASCII (P) and (C) markers some services
// return with the real copyright symbols.
func (a *AlbumMetadata) CopyrightText() string {
	if a.Copyright == "" {
		return ""
	}
	out := phonRe.ReplaceAllString(a.Copyright, phonCopyright)
	return copyRe.ReplaceAllString(out, copyrightSign)
}

// FormatFolderPath renders the album folder name from a template with
// {albumartist}, {albumcomposer}, {bit_depth}, {id}, {sampling_rate},
// {title}, {year} and {container} placeholders.
func (a *AlbumMetadata) FormatFolderPath(format string) string {
	const unknown = "Unknown"
	bitDepth, samplingRate := unknown, unknown
	if a.Info.BitDepth != nil {
		bitDepth = strconv.Itoa(*a.Info.BitDepth)
	}
	if a.Info.SamplingRate != nil {
		samplingRate = strconv.FormatFloat(*a.Info.SamplingRate, 'f', -1, 64)
	}
	return expand(format, map[string]string{
		"albumartist":   a.AlbumArtist,
		"albumcomposer": orUnknown(a.AlbumComposer),
		"bit_depth":     bitDepth,
		"id":            a.Info.ID,
		"sampling_rate": samplingRate,
		"title":         a.Album,
		"year":          a.Year,
		"container":     a.Info.Container,
	})
}

// TrackInfo holds the non-tag technical facts about a single track.
type TrackInfo struct {
	ID           string
	Quality      int
	BitDepth     *int
	Explicit     bool
	SamplingRate *float64 // kHz
	Work         string
}

// TrackMetadata is the normalized per-track tag set. Album points at the
// shared album metadata; tracks from the same album share one instance.
type TrackMetadata struct {
	Info TrackInfo

	Title       string
	Album       *AlbumMetadata
	Artist      string
	TrackNumber int
	DiscNumber  int
	Composer    string
}

// FormatTrackPath renders the track file name (without extension) from a
// template with {title}, {tracknumber}, {artist}, {albumartist},
// {albumcomposer}, {composer} and {explicit} placeholders.
func (t *TrackMetadata) FormatTrackPath(format string) string {
	explicit := ""
	if t.Info.Explicit {
		explicit = " (Explicit) "
	}
	return expand(format, map[string]string{
		"title":         t.Title,
		"tracknumber":   padTrackNumber(t.TrackNumber),
		"artist":        t.Artist,
		"albumartist":   t.Album.AlbumArtist,
		"albumcomposer": orUnknown(t.Album.AlbumComposer),
		"composer":      orUnknown(t.Composer),
		"explicit":      explicit,
	})
}

// PlaylistMetadata names a playlist and carries the fully resolved
// metadata of its tracks.
type PlaylistMetadata struct {
	Name   string
	Tracks []*TrackMetadata
}

// TrackIDs lists the playlist's track ids in order.
func (p *PlaylistMetadata) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.Info.ID
	}
	return ids
}

// AlbumSummary is the slim album view returned inside artist and label
// listings, enough for the filter pass to decide which albums to keep.
type AlbumSummary struct {
	ID           string
	Title        string
	Artist       string
	BitDepth     int
	SamplingRate float64
	Explicit     bool
}

// ArtistMetadata names an artist and lists their albums.
type ArtistMetadata struct {
	Name   string
	Albums []AlbumSummary
}

// LabelMetadata names a label and lists its albums.
type LabelMetadata struct {
	Name   string
	Albums []AlbumSummary
}

// QualityID maps bit depth and sampling rate (kHz) onto the universal
// quality ladder: 1 lossy, 2 CD lossless, 3 hi-res up to 96 kHz,
// 4 hi-res above 96 kHz.
func QualityID(bitDepth *int, samplingRate *float64) int {
	if bitDepth == nil || samplingRate == nil {
		return 1
	}
	switch *bitDepth {
	case 16:
		return 2
	case 24:
		if *samplingRate <= 96 {
			return 3
		}
		return 4
	}
	return 1
}

// NegotiateQuality picks the tier actually fetched: the minimum of what
// the user asked for, what the service can serve, and what the item has.
func NegotiateQuality(requested, serviceMax, itemMax int) int {
	q := requested
	if serviceMax < q {
		q = serviceMax
	}
	if itemMax < q {
		q = itemMax
	}
	return q
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

func expand(format string, vals map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(format, func(m string) string {
		if v, ok := vals[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

func padTrackNumber(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
