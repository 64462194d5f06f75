// package tagger writes normalized metadata into finished audio files.
// MP3 gets ID3v2.4 frames, FLAC gets a fresh Vorbis comment block; both
// embed the cover art when one was fetched.
package tagger

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/nathom/streamrip-sub000/internal/metadata"
)

// Tag writes the track's tags into the file at path. coverPath may be
// empty. Containers without a wired tag writer are left as downloaded.
func Tag(path string, t *metadata.TrackMetadata, coverPath string) error {
	var cover []byte
	if coverPath != "" {
		data, err := os.ReadFile(coverPath)
		if err != nil {
			return fmt.Errorf("failed to read cover art: %w", err)
		}
		cover = data
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		return tagFLAC(path, t, cover)
	case ".mp3":
		return tagMP3(path, t, cover)
	}
	return nil
}

func coverMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

func tagMP3(path string, t *metadata.TrackMetadata, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open mp3: %w", err)
	}
	defer tag.Close()
	tag.SetVersion(4)

	album := t.Album
	tag.SetTitle(t.Title)
	tag.SetArtist(t.Artist)
	tag.SetAlbum(album.Album)
	if album.Year != "" && album.Year != "Unknown" {
		tag.SetYear(album.Year)
	}
	if g := album.Genres(); g != "" {
		tag.SetGenre(g)
	}

	text := func(id, value string) {
		if value != "" {
			tag.AddTextFrame(id, tag.DefaultEncoding(), value)
		}
	}
	text("TPE2", album.AlbumArtist)
	text(tag.CommonID("Track number/Position in set"),
		fmt.Sprintf("%d/%d", t.TrackNumber, album.TrackTotal))
	text(tag.CommonID("Part of a set"),
		fmt.Sprintf("%d/%d", t.DiscNumber, album.DiscTotal))
	text(tag.CommonID("Composer"), t.Composer)
	text(tag.CommonID("Publisher"), album.Info.Label)
	text(tag.CommonID("Copyright message"), album.CopyrightText())

	if len(cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    coverMIME(cover),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     cover,
		})
	}
	return tag.Save()
}

func tagFLAC(path string, t *metadata.TrackMetadata, cover []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse flac: %w", err)
	}

	// Replace any comment or picture block the service shipped.
	kept := f.Meta[:0]
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment && block.Type != flac.Picture {
			kept = append(kept, block)
		}
	}
	f.Meta = kept

	album := t.Album
	cmt := flacvorbis.New()
	add := func(key, value string) {
		if value != "" {
			cmt.Add(key, value)
		}
	}
	add(flacvorbis.FIELD_TITLE, t.Title)
	add(flacvorbis.FIELD_ARTIST, t.Artist)
	add(flacvorbis.FIELD_ALBUM, album.Album)
	add("ALBUMARTIST", album.AlbumArtist)
	if album.Year != "Unknown" {
		add(flacvorbis.FIELD_DATE, album.Year)
	}
	add(flacvorbis.FIELD_GENRE, album.Genres())
	add(flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(t.TrackNumber))
	add("TRACKTOTAL", strconv.Itoa(album.TrackTotal))
	add("DISCNUMBER", strconv.Itoa(t.DiscNumber))
	add("DISCTOTAL", strconv.Itoa(album.DiscTotal))
	add("COMPOSER", t.Composer)
	add("LABEL", album.Info.Label)
	add(flacvorbis.FIELD_COPYRIGHT, album.CopyrightText())
	add(flacvorbis.FIELD_DESCRIPTION, album.Description)
	cmtBlock := cmt.Marshal()
	f.Meta = append(f.Meta, &cmtBlock)

	if len(cover) > 0 {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Front Cover", cover, coverMIME(cover))
		if err != nil {
			return fmt.Errorf("failed to build cover block: %w", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}
	return f.Save(path)
}
