package metadata

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nathom/streamrip-sub000/internal/shared"
)

type qobuzName struct {
	Name string `json:"name"`
}

type qobuzImage struct {
	Large     string `json:"large"`
	Small     string `json:"small"`
	Thumbnail string `json:"thumbnail"`
}

// Qobuz returns the label either as a plain string or as an object.
type qobuzLabel struct {
	Name string
}

func (l *qobuzLabel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		l.Name = s
		return nil
	}
	var obj qobuzName
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	l.Name = obj.Name
	return nil
}

type qobuzGoodie struct {
	URL string `json:"url"`
}

type qobuzTrack struct {
	ID                  int64     `json:"id"`
	Title               string    `json:"title"`
	Version             string    `json:"version"`
	Work                string    `json:"work"`
	Composer            qobuzName `json:"composer"`
	Performer           qobuzName `json:"performer"`
	TrackNumber         int       `json:"track_number"`
	MediaNumber         int       `json:"media_number"`
	MaximumBitDepth     *int      `json:"maximum_bit_depth"`
	MaximumSamplingRate *float64  `json:"maximum_sampling_rate"`
	Streamable          bool      `json:"streamable"`

	Album *qobuzAlbum `json:"album"`
}

type qobuzAlbum struct {
	ID                  string        `json:"id"`
	QobuzID             int64         `json:"qobuz_id"`
	Title               string        `json:"title"`
	TracksCount         int           `json:"tracks_count"`
	GenresList          []string      `json:"genres_list"`
	ReleaseDateOriginal string        `json:"release_date_original"`
	ReleaseDate         string        `json:"release_date"`
	Copyright           string        `json:"copyright"`
	Artist              qobuzName     `json:"artist"`
	Artists             []qobuzName   `json:"artists"`
	Composer            qobuzName     `json:"composer"`
	Label               qobuzLabel    `json:"label"`
	Description         string        `json:"description"`
	ParentalWarning     bool          `json:"parental_warning"`
	Image               qobuzImage    `json:"image"`
	MaximumBitDepth     *int          `json:"maximum_bit_depth"`
	MaximumSamplingRate *float64      `json:"maximum_sampling_rate"`
	Goodies             []qobuzGoodie `json:"goodies"`
	Streamable          bool          `json:"streamable"`
	Tracks              struct {
		Items []qobuzTrack `json:"items"`
	} `json:"tracks"`
}

// Genre strings arrive as slash- or arrow-separated hierarchies, e.g.
// "Rock/Alternatif et Indé". Each segment becomes its own tag.
var genreSegmentRe = regexp.MustCompile(`[^/→]+`)

func cleanGenres(raw []string) []string {
	segments := genreSegmentRe.FindAllString(strings.Join(raw, "/"), -1)
	seen := make(map[string]bool, len(segments))
	var out []string
	for _, s := range segments {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func albumFromQobuz(a *qobuzAlbum) *AlbumMetadata {
	date := a.ReleaseDateOriginal
	if date == "" {
		date = a.ReleaseDate
	}
	year := "Unknown"
	if len(date) >= 4 {
		year = date[:4]
	}

	albumArtist := a.Artist.Name
	if len(a.Artists) > 0 {
		names := make([]string, len(a.Artists))
		for i, ar := range a.Artists {
			names[i] = ar.Name
		}
		albumArtist = strings.Join(names, ", ")
	}

	discTotal := 1
	for _, t := range a.Tracks.Items {
		if t.MediaNumber > discTotal {
			discTotal = t.MediaNumber
		}
	}

	covers := NewCovers()
	if a.Image.Large != "" {
		// The "org" size is not in the response but the CDN serves it at
		// the same path as the 600px variant.
		if i := strings.LastIndex(a.Image.Large, "600"); i >= 0 {
			covers.SetURL(CoverOriginal, a.Image.Large[:i]+"org"+a.Image.Large[i+3:])
		}
		covers.SetURL(CoverLarge, a.Image.Large)
	}
	covers.SetURL(CoverSmall, a.Image.Small)
	covers.SetURL(CoverThumbnail, a.Image.Thumbnail)

	container := "MP3"
	if a.MaximumBitDepth != nil && a.MaximumSamplingRate != nil {
		container = "FLAC"
	}

	var booklets []string
	for _, g := range a.Goodies {
		if g.URL != "" {
			booklets = append(booklets, g.URL)
		}
	}

	id := a.ID
	if a.QobuzID != 0 {
		id = strconv.FormatInt(a.QobuzID, 10)
	}

	title := a.Title
	trackTotal := a.TracksCount
	if trackTotal == 0 {
		trackTotal = 1
	}

	return &AlbumMetadata{
		Info: AlbumInfo{
			ID:           id,
			Quality:      QualityID(a.MaximumBitDepth, a.MaximumSamplingRate),
			Container:    container,
			Label:        a.Label.Name,
			Explicit:     a.ParentalWarning,
			SamplingRate: a.MaximumSamplingRate,
			BitDepth:     a.MaximumBitDepth,
			BookletURLs:  booklets,
		},
		Album:         title,
		AlbumArtist:   albumArtist,
		Year:          year,
		Genre:         cleanGenres(a.GenresList),
		Covers:        covers,
		TrackTotal:    trackTotal,
		DiscTotal:     discTotal,
		AlbumComposer: a.Composer.Name,
		Copyright:     a.Copyright,
		Date:          date,
		Description:   a.Description,
	}
}

func trackFromQobuz(album *AlbumMetadata, t *qobuzTrack) (*TrackMetadata, error) {
	if !t.Streamable {
		return nil, fmt.Errorf("track %d: %w", t.ID, shared.ErrNonStreamable)
	}
	title := strings.TrimSpace(t.Title)
	if t.Version != "" && !strings.Contains(title, t.Version) {
		title = title + " (" + t.Version + ")"
	}
	if t.Work != "" && !strings.Contains(title, t.Work) {
		title = t.Work + ": " + title
	}
	artist := t.Performer.Name
	if artist == "" {
		artist = album.AlbumArtist
	}
	trackNumber := t.TrackNumber
	if trackNumber == 0 {
		trackNumber = 1
	}
	discNumber := t.MediaNumber
	if discNumber == 0 {
		discNumber = 1
	}
	return &TrackMetadata{
		Info: TrackInfo{
			ID:           strconv.FormatInt(t.ID, 10),
			Quality:      album.Info.Quality,
			BitDepth:     t.MaximumBitDepth,
			SamplingRate: t.MaximumSamplingRate,
			Work:         t.Work,
		},
		Title:       title,
		Album:       album,
		Artist:      artist,
		TrackNumber: trackNumber,
		DiscNumber:  discNumber,
		Composer:    t.Composer.Name,
	}, nil
}

// ParseQobuzAlbum normalizes an album/get response.
func ParseQobuzAlbum(raw json.RawMessage) (*AlbumMetadata, error) {
	var a qobuzAlbum
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz album: %w", err)
	}
	return albumFromQobuz(&a), nil
}

// ParseQobuzTrack normalizes a track/get response, which embeds its album.
func ParseQobuzTrack(raw json.RawMessage) (*TrackMetadata, error) {
	var t qobuzTrack
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz track: %w", err)
	}
	if t.Album == nil {
		return nil, fmt.Errorf("qobuz track %d has no album metadata", t.ID)
	}
	return trackFromQobuz(albumFromQobuz(t.Album), &t)
}

// QobuzAlbumTrackIDs lists the track ids inside an album/get response.
func QobuzAlbumTrackIDs(raw json.RawMessage) ([]string, error) {
	var a qobuzAlbum
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz album: %w", err)
	}
	ids := make([]string, 0, len(a.Tracks.Items))
	for _, t := range a.Tracks.Items {
		ids = append(ids, strconv.FormatInt(t.ID, 10))
	}
	return ids, nil
}

// ParseQobuzPlaylist normalizes a playlist/get response. Tracks the
// service marks unstreamable are dropped.
func ParseQobuzPlaylist(raw json.RawMessage) (*PlaylistMetadata, error) {
	var p struct {
		Title  string `json:"title"`
		Tracks struct {
			Items []qobuzTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz playlist: %w", err)
	}
	out := &PlaylistMetadata{Name: p.Title}
	for i := range p.Tracks.Items {
		t := &p.Tracks.Items[i]
		if t.Album == nil {
			continue
		}
		tm, err := trackFromQobuz(albumFromQobuz(t.Album), t)
		if err != nil {
			continue
		}
		out.Tracks = append(out.Tracks, tm)
	}
	return out, nil
}

func qobuzSummaries(albums []qobuzAlbum) []AlbumSummary {
	out := make([]AlbumSummary, 0, len(albums))
	for i := range albums {
		a := &albums[i]
		s := AlbumSummary{
			ID:       a.ID,
			Title:    a.Title,
			Artist:   a.Artist.Name,
			Explicit: a.ParentalWarning,
		}
		if a.MaximumBitDepth != nil {
			s.BitDepth = *a.MaximumBitDepth
		}
		if a.MaximumSamplingRate != nil {
			s.SamplingRate = *a.MaximumSamplingRate
		}
		out = append(out, s)
	}
	return out
}

// ParseQobuzArtist normalizes an artist/get response with its album list.
func ParseQobuzArtist(raw json.RawMessage) (*ArtistMetadata, error) {
	var a struct {
		Name   string `json:"name"`
		Albums struct {
			Items []qobuzAlbum `json:"items"`
		} `json:"albums"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz artist: %w", err)
	}
	return &ArtistMetadata{Name: a.Name, Albums: qobuzSummaries(a.Albums.Items)}, nil
}

// ParseQobuzLabel normalizes a label/get response with its album list.
func ParseQobuzLabel(raw json.RawMessage) (*LabelMetadata, error) {
	var l struct {
		Name   string `json:"name"`
		Albums struct {
			Items []qobuzAlbum `json:"items"`
		} `json:"albums"`
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("failed to parse qobuz label: %w", err)
	}
	return &LabelMetadata{Name: l.Name, Albums: qobuzSummaries(l.Albums.Items)}, nil
}
