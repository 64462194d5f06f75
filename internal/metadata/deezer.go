package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Deezer serves lossless FLAC at fixed CD quality. Albums carry no
// bit depth or sampling rate fields, so these are assumed throughout.
var (
	deezerBitDepth     = 16
	deezerSamplingRate = 44.1
)

type deezerName struct {
	Name string `json:"name"`
}

type deezerTrack struct {
	ID             int64       `json:"id"`
	Title          string      `json:"title"`
	TitleVersion   string      `json:"title_version"`
	TrackPosition  int         `json:"track_position"`
	DiskNumber     int         `json:"disk_number"`
	Artist         deezerName  `json:"artist"`
	ExplicitLyrics bool        `json:"explicit_lyrics"`
	ISRC           string      `json:"isrc"`
	Album          *deezerAlbum `json:"album"`
}

// The public API nests track lists under "data"; internally assembled
// responses carry a plain array. Accept both.
type deezerTrackList struct {
	Items []deezerTrack
}

func (l *deezerTrackList) UnmarshalJSON(data []byte) error {
	var arr []deezerTrack
	if err := json.Unmarshal(data, &arr); err == nil {
		l.Items = arr
		return nil
	}
	var wrapped struct {
		Data []deezerTrack `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	l.Items = wrapped.Data
	return nil
}

type deezerAlbum struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	TrackTotal     int        `json:"track_total"`
	NbTracks       int        `json:"nb_tracks"`
	ReleaseDate    string     `json:"release_date"`
	Artist         deezerName `json:"artist"`
	Label          string     `json:"label"`
	ParentalWarning bool      `json:"parental_warning"`
	ExplicitLyrics bool       `json:"explicit_lyrics"`
	CoverXL        string     `json:"cover_xl"`
	CoverBig       string     `json:"cover_big"`
	CoverMedium    string     `json:"cover_medium"`
	CoverSmall     string     `json:"cover_small"`
	Genres         struct {
		Data []deezerName `json:"data"`
	} `json:"genres"`
	Tracks deezerTrackList `json:"tracks"`
}

func albumFromDeezer(a *deezerAlbum) *AlbumMetadata {
	year := "Unknown"
	if len(a.ReleaseDate) >= 4 {
		year = a.ReleaseDate[:4]
	}

	trackTotal := a.TrackTotal
	if trackTotal == 0 {
		trackTotal = a.NbTracks
	}
	discTotal := 1
	for _, t := range a.Tracks.Items {
		if t.DiskNumber > discTotal {
			discTotal = t.DiskNumber
		}
	}

	genres := make([]string, 0, len(a.Genres.Data))
	for _, g := range a.Genres.Data {
		genres = append(genres, g.Name)
	}

	covers := NewCovers()
	covers.SetURL(CoverOriginal, a.CoverXL)
	covers.SetURL(CoverLarge, a.CoverBig)
	covers.SetURL(CoverSmall, a.CoverMedium)
	covers.SetURL(CoverThumbnail, a.CoverSmall)

	return &AlbumMetadata{
		Info: AlbumInfo{
			ID:           strconv.FormatInt(a.ID, 10),
			Quality:      2,
			Container:    "FLAC",
			Label:        a.Label,
			Explicit:     a.ParentalWarning || a.ExplicitLyrics,
			SamplingRate: &deezerSamplingRate,
			BitDepth:     &deezerBitDepth,
		},
		Album:       a.Title,
		AlbumArtist: a.Artist.Name,
		Year:        year,
		Genre:       genres,
		Covers:      covers,
		TrackTotal:  trackTotal,
		DiscTotal:   discTotal,
		Date:        a.ReleaseDate,
	}
}

func trackFromDeezer(album *AlbumMetadata, t *deezerTrack) *TrackMetadata {
	title := strings.TrimSpace(t.Title)
	if t.TitleVersion != "" && !strings.Contains(title, t.TitleVersion) {
		title = title + " " + t.TitleVersion
	}
	trackNumber := t.TrackPosition
	if trackNumber == 0 {
		trackNumber = 1
	}
	discNumber := t.DiskNumber
	if discNumber == 0 {
		discNumber = 1
	}
	artist := t.Artist.Name
	if artist == "" {
		artist = album.AlbumArtist
	}
	return &TrackMetadata{
		Info: TrackInfo{
			ID:           strconv.FormatInt(t.ID, 10),
			Quality:      album.Info.Quality,
			BitDepth:     album.Info.BitDepth,
			SamplingRate: album.Info.SamplingRate,
			Explicit:     t.ExplicitLyrics,
		},
		Title:       title,
		Album:       album,
		Artist:      artist,
		TrackNumber: trackNumber,
		DiscNumber:  discNumber,
	}
}

// ParseDeezerAlbum normalizes an album response.
func ParseDeezerAlbum(raw json.RawMessage) (*AlbumMetadata, error) {
	var a deezerAlbum
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse deezer album: %w", err)
	}
	return albumFromDeezer(&a), nil
}

// ParseDeezerTrack normalizes a track response, which embeds its album.
func ParseDeezerTrack(raw json.RawMessage) (*TrackMetadata, error) {
	var t deezerTrack
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse deezer track: %w", err)
	}
	if t.Album == nil {
		return nil, fmt.Errorf("deezer track %d has no album metadata", t.ID)
	}
	return trackFromDeezer(albumFromDeezer(t.Album), &t), nil
}

// DeezerAlbumTrackIDs lists the track ids inside an album response.
func DeezerAlbumTrackIDs(raw json.RawMessage) ([]string, error) {
	var a deezerAlbum
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse deezer album: %w", err)
	}
	ids := make([]string, 0, len(a.Tracks.Items))
	for _, t := range a.Tracks.Items {
		ids = append(ids, strconv.FormatInt(t.ID, 10))
	}
	return ids, nil
}

// ParseDeezerPlaylist extracts the playlist name and track ids. Playlist
// entries carry only partial track objects, so each track's metadata is
// fetched individually afterwards.
func ParseDeezerPlaylist(raw json.RawMessage) (string, []string, error) {
	var p struct {
		Title  string          `json:"title"`
		Tracks deezerTrackList `json:"tracks"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", nil, fmt.Errorf("failed to parse deezer playlist: %w", err)
	}
	ids := make([]string, 0, len(p.Tracks.Items))
	for _, t := range p.Tracks.Items {
		ids = append(ids, strconv.FormatInt(t.ID, 10))
	}
	return p.Title, ids, nil
}

// Album lists come either as a plain array or nested under "data".
type deezerAlbumList struct {
	Items []deezerAlbum
}

func (l *deezerAlbumList) UnmarshalJSON(data []byte) error {
	var arr []deezerAlbum
	if err := json.Unmarshal(data, &arr); err == nil {
		l.Items = arr
		return nil
	}
	var wrapped struct {
		Data []deezerAlbum `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	l.Items = wrapped.Data
	return nil
}

// ParseDeezerArtist normalizes an artist response with its album list.
func ParseDeezerArtist(raw json.RawMessage) (*ArtistMetadata, error) {
	var a struct {
		Name   string          `json:"name"`
		Albums deezerAlbumList `json:"albums"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse deezer artist: %w", err)
	}
	albums := make([]AlbumSummary, 0, len(a.Albums.Items))
	for i := range a.Albums.Items {
		al := &a.Albums.Items[i]
		artist := al.Artist.Name
		if artist == "" {
			artist = a.Name
		}
		albums = append(albums, AlbumSummary{
			ID:           strconv.FormatInt(al.ID, 10),
			Title:        al.Title,
			Artist:       artist,
			BitDepth:     deezerBitDepth,
			SamplingRate: deezerSamplingRate,
			Explicit:     al.ExplicitLyrics,
		})
	}
	return &ArtistMetadata{Name: a.Name, Albums: albums}, nil
}
