package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tidal's own quality ladder, as returned in the audioQuality field.
const (
	TidalQualityLow      = "LOW"
	TidalQualityHigh     = "HIGH"
	TidalQualityLossless = "LOSSLESS"
	TidalQualityHiRes    = "HI_RES"
)

// TidalQualityIndex maps an audioQuality string onto Tidal's 0..3 ladder.
func TidalQualityIndex(audioQuality string) int {
	switch audioQuality {
	case TidalQualityHigh:
		return 1
	case TidalQualityLossless:
		return 2
	case TidalQualityHiRes:
		return 3
	default:
		return 0
	}
}

var (
	tidalCDBitDepth   = 16
	tidalMQABitDepth  = 24
	tidalSamplingRate = 44.1
)

type tidalName struct {
	Name string `json:"name"`
}

type tidalTrack struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	Version      string      `json:"version"`
	TrackNumber  int         `json:"trackNumber"`
	VolumeNumber int         `json:"volumeNumber"`
	Artist       tidalName   `json:"artist"`
	Explicit     bool        `json:"explicit"`
	AudioQuality string      `json:"audioQuality"`
	ISRC         string      `json:"isrc"`
	Copyright    string      `json:"copyright"`

	Album *tidalAlbum `json:"album"`
}

type tidalAlbum struct {
	ID              json.Number `json:"id"`
	Title           string      `json:"title"`
	NumberOfTracks  int         `json:"numberOfTracks"`
	NumberOfVolumes int         `json:"numberOfVolumes"`
	ReleaseDate     string      `json:"releaseDate"`
	Copyright       string      `json:"copyright"`
	Artist          tidalName   `json:"artist"`
	Explicit        bool        `json:"explicit"`
	Cover           string      `json:"cover"`
	AllowStreaming  bool        `json:"allowStreaming"`
	AudioQuality    string      `json:"audioQuality"`
}

func albumFromTidal(a *tidalAlbum) *AlbumMetadata {
	year := "Unknown"
	if len(a.ReleaseDate) >= 4 {
		year = a.ReleaseDate[:4]
	}

	quality := TidalQualityIndex(a.AudioQuality)
	info := AlbumInfo{
		ID:        a.ID.String(),
		Quality:   quality,
		Container: "AAC",
		Explicit:  a.Explicit,
	}
	if quality >= 2 {
		info.Container = "FLAC"
		info.SamplingRate = &tidalSamplingRate
		if quality == 3 {
			info.BitDepth = &tidalMQABitDepth
		} else {
			info.BitDepth = &tidalCDBitDepth
		}
	}

	covers := NewCovers()
	if a.Cover != "" {
		covers.SetURL(CoverThumbnail, tidalCover(a.Cover, 160))
		covers.SetURL(CoverSmall, tidalCover(a.Cover, 320))
		covers.SetURL(CoverLarge, tidalCover(a.Cover, 640))
		covers.SetURL(CoverOriginal, tidalCover(a.Cover, 1280))
	}

	trackTotal := a.NumberOfTracks
	if trackTotal == 0 {
		trackTotal = 1
	}
	discTotal := a.NumberOfVolumes
	if discTotal == 0 {
		discTotal = 1
	}

	return &AlbumMetadata{
		Info:        info,
		Album:       a.Title,
		AlbumArtist: a.Artist.Name,
		Year:        year,
		Covers:      covers,
		TrackTotal:  trackTotal,
		DiscTotal:   discTotal,
		Copyright:   a.Copyright,
		Date:        a.ReleaseDate,
	}
}

func trackFromTidal(album *AlbumMetadata, t *tidalTrack) *TrackMetadata {
	title := strings.TrimSpace(t.Title)
	if t.Version != "" && !strings.Contains(title, t.Version) {
		title = title + " (" + t.Version + ")"
	}
	trackNumber := t.TrackNumber
	if trackNumber == 0 {
		trackNumber = 1
	}
	discNumber := t.VolumeNumber
	if discNumber == 0 {
		discNumber = 1
	}
	artist := t.Artist.Name
	if artist == "" {
		artist = album.AlbumArtist
	}
	return &TrackMetadata{
		Info: TrackInfo{
			ID:           t.ID.String(),
			Quality:      album.Info.Quality,
			BitDepth:     album.Info.BitDepth,
			SamplingRate: album.Info.SamplingRate,
			Explicit:     t.Explicit,
		},
		Title:       title,
		Album:       album,
		Artist:      artist,
		TrackNumber: trackNumber,
		DiscNumber:  discNumber,
	}
}

// ParseTidalAlbum normalizes an album response.
func ParseTidalAlbum(raw json.RawMessage) (*AlbumMetadata, error) {
	var a tidalAlbum
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse tidal album: %w", err)
	}
	return albumFromTidal(&a), nil
}

// ParseTidalTrack normalizes a track response, which embeds its album.
func ParseTidalTrack(raw json.RawMessage) (*TrackMetadata, error) {
	var t tidalTrack
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tidal track: %w", err)
	}
	if t.Album == nil {
		return nil, fmt.Errorf("tidal track %s has no album metadata", t.ID.String())
	}
	album := albumFromTidal(t.Album)
	// Track-level quality beats the album entry, which often lacks it.
	if t.AudioQuality != "" {
		album.Info.Quality = TidalQualityIndex(t.AudioQuality)
	}
	return trackFromTidal(album, &t), nil
}

// TidalAlbumTrackIDs lists the track ids from an album document, whether
// the items listing sits at the top level or was merged under "tracks".
func TidalAlbumTrackIDs(raw json.RawMessage) ([]string, error) {
	var doc struct {
		Items  []tidalTrack `json:"items"`
		Tracks struct {
			Items []tidalTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tidal album items: %w", err)
	}
	items := doc.Items
	if len(items) == 0 {
		items = doc.Tracks.Items
	}
	ids := make([]string, 0, len(items))
	for _, t := range items {
		ids = append(ids, t.ID.String())
	}
	return ids, nil
}

// ParseTidalPlaylist extracts the playlist name and track ids. Each
// track's metadata is fetched individually afterwards.
func ParseTidalPlaylist(raw json.RawMessage) (string, []string, error) {
	var p struct {
		Title  string `json:"title"`
		Tracks struct {
			Items []tidalTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, fmt.Errorf("failed to parse tidal playlist: %w", err)
	}
	ids := make([]string, 0, len(p.Tracks.Items))
	for _, t := range p.Tracks.Items {
		ids = append(ids, t.ID.String())
	}
	return p.Title, ids, nil
}

// ParseTidalArtist normalizes an artist response with its album list.
func ParseTidalArtist(raw json.RawMessage) (*ArtistMetadata, error) {
	var a struct {
		Name   string `json:"name"`
		Albums struct {
			Items []tidalAlbum `json:"items"`
		} `json:"albums"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse tidal artist: %w", err)
	}
	albums := make([]AlbumSummary, 0, len(a.Albums.Items))
	for i := range a.Albums.Items {
		al := &a.Albums.Items[i]
		artist := al.Artist.Name
		if artist == "" {
			artist = a.Name
		}
		s := AlbumSummary{
			ID:       al.ID.String(),
			Title:    al.Title,
			Artist:   artist,
			Explicit: al.Explicit,
		}
		if q := TidalQualityIndex(al.AudioQuality); q >= 2 {
			s.SamplingRate = tidalSamplingRate
			s.BitDepth = tidalCDBitDepth
			if q == 3 {
				s.BitDepth = tidalMQABitDepth
			}
		}
		albums = append(albums, s)
	}
	return &ArtistMetadata{Name: a.Name, Albums: albums}, nil
}
