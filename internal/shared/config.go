package shared

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Downloads    DownloadsConfig    `toml:"downloads"`
	Database     DatabaseConfig     `toml:"database"`
	Qobuz        QobuzConfig        `toml:"qobuz"`
	Deezer       DeezerConfig       `toml:"deezer"`
	Tidal        TidalConfig        `toml:"tidal"`
	Soundcloud   SoundcloudConfig   `toml:"soundcloud"`
	QobuzFilters QobuzFiltersConfig `toml:"qobuz_filters"`
	Artwork      ArtworkConfig      `toml:"artwork"`
	Metadata     MetadataConfig     `toml:"metadata"`
	Filepaths    FilepathsConfig    `toml:"filepaths"`
	Conversion   ConversionConfig   `toml:"conversion"`

	path     string
	modified bool
	mu       sync.Mutex
}

// DownloadsConfig controls where files land and how much runs at once.
type DownloadsConfig struct {
	Folder               string `toml:"folder"`
	SourceSubdirectories bool   `toml:"source_subdirectories"`
	DiscSubdirectories   bool   `toml:"disc_subdirectories"`
	// When false the global download cap is forced to 1.
	Concurrency bool `toml:"concurrency"`
	// Negative means unlimited.
	MaxConnections    int `toml:"max_connections"`
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// DatabaseConfig controls the dedup/failure ledger. A disabled table maps
// to a no-op store.
type DatabaseConfig struct {
	DownloadsEnabled bool   `toml:"downloads_enabled"`
	DownloadsPath    string `toml:"downloads_path"`
	FailedEnabled    bool   `toml:"failed_downloads_enabled"`
	FailedPath       string `toml:"failed_downloads_path"`
}

// QobuzConfig contains Qobuz credentials plus the discovered app id and
// candidate signing secrets, which are written back after bootstrap.
type QobuzConfig struct {
	EmailOrUserID   string   `toml:"email_or_userid"`
	PasswordOrToken string   `toml:"password_or_token"`
	UseAuthToken    bool     `toml:"use_auth_token"`
	AppID           string   `toml:"app_id"`
	Secrets         []string `toml:"secrets"`
	Quality         int      `toml:"quality"`
}

// DeezerConfig contains the ARL cookie used for authentication.
type DeezerConfig struct {
	ARL              string `toml:"arl"`
	Quality          int    `toml:"quality"`
	UseDeezloader    bool   `toml:"use_deezloader"`
	DeezloaderWarned bool   `toml:"deezloader_warnings"`
}

// TidalConfig stores the OAuth device-flow tokens between runs.
type TidalConfig struct {
	UserID       string  `toml:"user_id"`
	CountryCode  string  `toml:"country_code"`
	AccessToken  string  `toml:"access_token"`
	RefreshToken string  `toml:"refresh_token"`
	TokenExpiry  float64 `toml:"token_expiry"`
	Quality      int     `toml:"quality"`
}

// SoundcloudConfig stores the scraped anonymous client id.
type SoundcloudConfig struct {
	ClientID   string `toml:"client_id"`
	AppVersion string `toml:"app_version"`
	Quality    int    `toml:"quality"`
}

// QobuzFiltersConfig selects discography filters applied when downloading
// an artist or label.
type QobuzFiltersConfig struct {
	Extras          bool `toml:"extras"`
	Repeats         bool `toml:"repeats"`
	NonAlbums       bool `toml:"non_albums"`
	Features        bool `toml:"features"`
	NonStudioAlbums bool `toml:"non_studio_albums"`
	NonRemaster     bool `toml:"non_remaster"`
	// When de-duplicating repeats, prefer the explicit edition over the
	// higher quality one.
	RepeatsPreferExplicit bool `toml:"repeats_prefer_explicit"`
}

// ArtworkConfig controls cover art downloading.
type ArtworkConfig struct {
	Embed        bool   `toml:"embed"`
	EmbedSize    string `toml:"embed_size"`
	SaveArtwork  bool   `toml:"save_artwork"`
	SavedMaxSize string `toml:"saved_max_size"`
}

// MetadataConfig adjusts normalized metadata before tagging.
type MetadataConfig struct {
	SetPlaylistToAlbum     bool `toml:"set_playlist_to_album"`
	RenumberPlaylistTracks bool `toml:"renumber_playlist_tracks"`
}

// FilepathsConfig controls file naming.
type FilepathsConfig struct {
	AddSinglesToFolder bool   `toml:"add_singles_to_folder"`
	FolderFormat       string `toml:"folder_format"`
	TrackFormat        string `toml:"track_format"`
	RestrictCharacters bool   `toml:"restrict_characters"`
	TruncateTo         int    `toml:"truncate_to"`
}

// ConversionConfig enables the external converter collaborator.
type ConversionConfig struct {
	Enabled      bool   `toml:"enabled"`
	Codec        string `toml:"codec"`
	SamplingRate int    `toml:"sampling_rate"`
	BitDepth     int    `toml:"bit_depth"`
}

// SourceQuality returns the configured quality tier for a source.
func (c *Config) SourceQuality(source string) int {
	switch source {
	case "qobuz":
		return c.Qobuz.Quality
	case "deezer":
		return c.Deezer.Quality
	case "tidal":
		return c.Tidal.Quality
	case "soundcloud":
		return c.Soundcloud.Quality
	}
	return 0
}

// SetModified marks the config as dirty so discovered secrets and rotated
// tokens are flushed to disk at the end of the run.
func (c *Config) SetModified() {
	c.mu.Lock()
	c.modified = true
	c.mu.Unlock()
}

// Modified reports whether anything changed the config since loading.
func (c *Config) Modified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modified
}

// Save writes the config back to the file it was loaded from, if anything
// changed it since loading.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.modified || c.path == "" {
		return nil
	}
	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	c.modified = false
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.path = path

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
