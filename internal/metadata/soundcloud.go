package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SoundCloud has no stable stream URL endpoint, so the download route is
// decided at metadata time and smuggled through the item id as
// "{track_id}|{info}", where info is a marker or a transcoding URL.
const (
	SoundcloudNonStreamable    = "_non_streamable"
	SoundcloudOriginalDownload = "_original_download"
	SoundcloudNotResolved      = "_not_resolved"
)

type soundcloudUser struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

type soundcloudPublisher struct {
	Explicit   bool   `json:"explicit"`
	Artist     string `json:"artist"`
	AlbumTitle string `json:"album_title"`
	PLine      string `json:"p_line"`
}

type soundcloudTranscoding struct {
	URL    string `json:"url"`
	Format struct {
		Protocol string `json:"protocol"`
		MimeType string `json:"mime_type"`
	} `json:"format"`
}

type soundcloudTrack struct {
	ID               json.Number          `json:"id"`
	Title            string               `json:"title"`
	Genre            string               `json:"genre"`
	User             soundcloudUser       `json:"user"`
	CreatedAt        string               `json:"created_at"`
	LabelName        string               `json:"label_name"`
	Description      string               `json:"description"`
	ArtworkURL       string               `json:"artwork_url"`
	Publisher        *soundcloudPublisher `json:"publisher_metadata"`
	Streamable       bool                 `json:"streamable"`
	Policy           string               `json:"policy"`
	Downloadable     bool                 `json:"downloadable"`
	HasDownloadsLeft bool                 `json:"has_downloads_left"`
	Media            *struct {
		Transcodings []soundcloudTranscoding `json:"transcodings"`
	} `json:"media"`
}

func albumFromSoundcloud(t *soundcloudTrack) *AlbumMetadata {
	artist := t.User.Username
	albumTitle := "Unknown album"
	explicit := false
	copyright := ""
	if t.Publisher != nil {
		if t.Publisher.Artist != "" {
			artist = t.Publisher.Artist
		}
		if t.Publisher.AlbumTitle != "" {
			albumTitle = t.Publisher.AlbumTitle
		}
		explicit = t.Publisher.Explicit
		copyright = t.Publisher.PLine
	}

	year := "Unknown"
	if len(t.CreatedAt) >= 4 {
		year = t.CreatedAt[:4]
	}

	covers := NewCovers()
	artwork := t.ArtworkURL
	if artwork == "" {
		artwork = t.User.AvatarURL
	}
	if artwork != "" {
		covers.SetURL(CoverLarge, strings.Replace(artwork, "large", "t500x500", 1))
	}

	var genre []string
	if t.Genre != "" {
		genre = []string{t.Genre}
	}

	// Tracks stand alone on SoundCloud; each one is its own single-track
	// album identified by the track id.
	return &AlbumMetadata{
		Info: AlbumInfo{
			ID:        t.ID.String(),
			Quality:   0,
			Container: "MP3",
			Label:     t.LabelName,
			Explicit:  explicit,
		},
		Album:       albumTitle,
		AlbumArtist: artist,
		Year:        year,
		Genre:       genre,
		Covers:      covers,
		TrackTotal:  1,
		DiscTotal:   1,
		Copyright:   copyright,
		Date:        t.CreatedAt,
		Description: t.Description,
	}
}

func trackFromSoundcloud(album *AlbumMetadata, t *soundcloudTrack) *TrackMetadata {
	return &TrackMetadata{
		Info: TrackInfo{
			ID:       t.ID.String(),
			Quality:  album.Info.Quality,
			Explicit: album.Info.Explicit,
		},
		Title:       strings.TrimSpace(t.Title),
		Album:       album,
		Artist:      t.User.Username,
		TrackNumber: 1,
		DiscNumber:  1,
	}
}

// ParseSoundcloudTrack normalizes a track response.
func ParseSoundcloudTrack(raw json.RawMessage) (*TrackMetadata, error) {
	var t soundcloudTrack
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse soundcloud track: %w", err)
	}
	return trackFromSoundcloud(albumFromSoundcloud(&t), &t), nil
}

// SoundcloudDownloadID builds the composite "{id}|{info}" id encoding the
// download route for a track response.
func SoundcloudDownloadID(raw json.RawMessage) (string, error) {
	var t soundcloudTrack
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("failed to parse soundcloud track: %w", err)
	}
	id := t.ID.String()
	if t.Media == nil {
		return id + "|" + SoundcloudNotResolved, nil
	}
	if !t.Streamable || t.Policy == "BLOCK" {
		return id + "|" + SoundcloudNonStreamable, nil
	}
	if t.Downloadable && t.HasDownloadsLeft {
		return id + "|" + SoundcloudOriginalDownload, nil
	}
	for _, tc := range t.Media.Transcodings {
		if tc.Format.Protocol == "hls" && tc.Format.MimeType == "audio/mpeg" {
			return id + "|" + tc.URL, nil
		}
	}
	return "", fmt.Errorf("no hls mp3 transcoding for soundcloud track %s", id)
}

// SplitSoundcloudID splits a composite soundcloud id into the track id
// and its download info.
func SplitSoundcloudID(compositeID string) (id, info string, err error) {
	parts := strings.SplitN(compositeID, "|", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed soundcloud id %q", compositeID)
	}
	return parts[0], parts[1], nil
}
