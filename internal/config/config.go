// Package config provides configuration management for the annotator.
// Configuration is loaded from an optional YAML file, then environment
// variables, with sensible defaults underneath.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort            = 8787
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".heimdex-annotator"
	DefaultSegmentsBaseURL = "https://sugitomoo.github.io/MVS_city_concat/data/segments/"
	DefaultVideoBaseURL    = "https://multivideosummarization-city.s3.us-east-1.amazonaws.com/"
	DefaultMinPercent      = 5.0
	DefaultMaxPercent      = 15.0
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultSegmentGap      = 500 * time.Millisecond
	DefaultPlayTimeout     = 5 * time.Second

	// Environment variable names
	EnvConfigFile      = "HEIMDEX_CONFIG_FILE"
	EnvPort            = "HEIMDEX_PORT"
	EnvLogLevel        = "HEIMDEX_LOG_LEVEL"
	EnvDataDir         = "HEIMDEX_DATA_DIR"
	EnvResultsDir      = "HEIMDEX_RESULTS_DIR"
	EnvHeadless        = "HEIMDEX_HEADLESS"
	EnvArea            = "HEIMDEX_AREA"
	EnvPlace           = "HEIMDEX_PLACE"
	EnvCity            = "HEIMDEX_CITY"
	EnvVideos          = "HEIMDEX_VIDEOS"
	EnvMode            = "HEIMDEX_MODE"
	EnvLayout          = "HEIMDEX_LAYOUT"
	EnvAssignmentID    = "HEIMDEX_ASSIGNMENT_ID"
	EnvSegmentsBaseURL = "HEIMDEX_SEGMENTS_BASE_URL"
	EnvSegmentsFile    = "HEIMDEX_SEGMENTS_FILE"
	EnvVideoBaseURL    = "HEIMDEX_VIDEO_BASE_URL"
	EnvMediaDir        = "HEIMDEX_MEDIA_DIR"
	EnvS3Bucket        = "HEIMDEX_S3_BUCKET"
	EnvS3Region        = "HEIMDEX_S3_REGION"
	EnvS3Endpoint      = "HEIMDEX_S3_ENDPOINT"
	EnvS3AccessKey     = "HEIMDEX_S3_ACCESS_KEY"
	EnvS3SecretKey     = "HEIMDEX_S3_SECRET_KEY"
	EnvS3PresignTTL    = "HEIMDEX_S3_PRESIGN_TTL"
	EnvMinPercent      = "HEIMDEX_MIN_PERCENT"
	EnvMaxPercent      = "HEIMDEX_MAX_PERCENT"
	EnvPollInterval    = "HEIMDEX_POLL_INTERVAL"
	EnvSegmentGap      = "HEIMDEX_SEGMENT_GAP"
	EnvPlayTimeout     = "HEIMDEX_PLAY_TIMEOUT"

	// Database filename
	DBFilename = "annotator.db"
)

// Session identifies what one annotator works on. It mirrors the URL
// parameters of the annotation page.
type Session struct {
	Area         string   `yaml:"area"`
	Place        string   `yaml:"place"`
	City         string   `yaml:"city"`
	Videos       []string `yaml:"videos"`
	Mode         string   `yaml:"mode"`
	Layout       string   `yaml:"layout"`
	AssignmentID string   `yaml:"assignment_id"`
}

// Validate checks the parameters every session needs.
func (s Session) Validate() error {
	var missing []string
	if s.Area == "" {
		missing = append(missing, "area")
	}
	if s.Place == "" {
		missing = append(missing, "place")
	}
	if len(s.Videos) == 0 {
		missing = append(missing, "videos")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing session parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// S3 configures presigned video URLs for a private bucket.
type S3 struct {
	Bucket     string        `yaml:"bucket"`
	Region     string        `yaml:"region"`
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// Media says where segment documents and video files come from.
type Media struct {
	SegmentsBaseURL string `yaml:"segments_base_url"`
	SegmentsFile    string `yaml:"segments_file"`
	VideoBaseURL    string `yaml:"video_base_url"`
	// Dir serves videos from local disk when set.
	Dir string `yaml:"dir"`
	S3  S3     `yaml:"s3"`
}

// Preview holds the sequencer timings.
type Preview struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	SegmentGap   time.Duration `yaml:"segment_gap"`
	PlayTimeout  time.Duration `yaml:"play_timeout"`
}

// Selection bounds the accepted share of selected duration, in percent.
type Selection struct {
	MinPercent float64 `yaml:"min_percent"`
	MaxPercent float64 `yaml:"max_percent"`
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ResultsDir() string
	Headless() bool
	Session() Session
	Media() Media
	Preview() Preview
	Selection() Selection
}

// fileConfig is the YAML overlay layout.
type fileConfig struct {
	Port       int       `yaml:"port"`
	LogLevel   string    `yaml:"log_level"`
	DataDir    string    `yaml:"data_dir"`
	ResultsDir string    `yaml:"results_dir"`
	Headless   *bool     `yaml:"headless"`
	Session    Session   `yaml:"session"`
	Media      Media     `yaml:"media"`
	Preview    Preview   `yaml:"preview"`
	Selection  Selection `yaml:"selection"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	resultsDir string
	headless   bool
	session    Session
	media      Media
	preview    Preview
	selection  Selection
}

// New creates a new EnvConfig with defaults, the file named by
// HEIMDEX_CONFIG_FILE and environment variable overrides, in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
		session:  Session{Mode: "standalone", Layout: "multi"},
		media: Media{
			SegmentsBaseURL: DefaultSegmentsBaseURL,
			VideoBaseURL:    DefaultVideoBaseURL,
		},
		preview: Preview{
			PollInterval: DefaultPollInterval,
			SegmentGap:   DefaultSegmentGap,
			PlayTimeout:  DefaultPlayTimeout,
		},
		selection: Selection{MinPercent: DefaultMinPercent, MaxPercent: DefaultMaxPercent},
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.resultsDir, fc.ResultsDir)
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}

	c.ApplySession(fc.Session)

	setString(&c.media.SegmentsBaseURL, fc.Media.SegmentsBaseURL)
	setString(&c.media.SegmentsFile, fc.Media.SegmentsFile)
	setString(&c.media.VideoBaseURL, fc.Media.VideoBaseURL)
	setString(&c.media.Dir, fc.Media.Dir)
	setString(&c.media.S3.Bucket, fc.Media.S3.Bucket)
	setString(&c.media.S3.Region, fc.Media.S3.Region)
	setString(&c.media.S3.Endpoint, fc.Media.S3.Endpoint)
	setString(&c.media.S3.AccessKey, fc.Media.S3.AccessKey)
	setString(&c.media.S3.SecretKey, fc.Media.S3.SecretKey)
	setDuration(&c.media.S3.PresignTTL, fc.Media.S3.PresignTTL)

	setDuration(&c.preview.PollInterval, fc.Preview.PollInterval)
	setDuration(&c.preview.SegmentGap, fc.Preview.SegmentGap)
	setDuration(&c.preview.PlayTimeout, fc.Preview.PlayTimeout)

	if fc.Selection.MinPercent != 0 {
		c.selection.MinPercent = fc.Selection.MinPercent
	}
	if fc.Selection.MaxPercent != 0 {
		c.selection.MaxPercent = fc.Selection.MaxPercent
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.resultsDir, os.Getenv(EnvResultsDir))

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = headless
	}

	c.ApplySession(Session{
		Area:         os.Getenv(EnvArea),
		Place:        os.Getenv(EnvPlace),
		City:         os.Getenv(EnvCity),
		Videos:       SplitList(os.Getenv(EnvVideos)),
		Mode:         os.Getenv(EnvMode),
		Layout:       os.Getenv(EnvLayout),
		AssignmentID: os.Getenv(EnvAssignmentID),
	})

	setString(&c.media.SegmentsBaseURL, os.Getenv(EnvSegmentsBaseURL))
	setString(&c.media.SegmentsFile, os.Getenv(EnvSegmentsFile))
	setString(&c.media.VideoBaseURL, os.Getenv(EnvVideoBaseURL))
	setString(&c.media.Dir, os.Getenv(EnvMediaDir))
	setString(&c.media.S3.Bucket, os.Getenv(EnvS3Bucket))
	setString(&c.media.S3.Region, os.Getenv(EnvS3Region))
	setString(&c.media.S3.Endpoint, os.Getenv(EnvS3Endpoint))
	setString(&c.media.S3.AccessKey, os.Getenv(EnvS3AccessKey))
	setString(&c.media.S3.SecretKey, os.Getenv(EnvS3SecretKey))

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvS3PresignTTL, &c.media.S3.PresignTTL},
		{EnvPollInterval, &c.preview.PollInterval},
		{EnvSegmentGap, &c.preview.SegmentGap},
		{EnvPlayTimeout, &c.preview.PlayTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	percents := []struct {
		env string
		dst *float64
	}{
		{EnvMinPercent, &c.selection.MinPercent},
		{EnvMaxPercent, &c.selection.MaxPercent},
	}
	for _, p := range percents {
		v := os.Getenv(p.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", p.env, err)
		}
		*p.dst = parsed
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port))
	}
	if c.selection.MinPercent < 0 || c.selection.MaxPercent > 100 || c.selection.MinPercent > c.selection.MaxPercent {
		errs = append(errs, fmt.Errorf("invalid selection bounds %g..%g", c.selection.MinPercent, c.selection.MaxPercent))
	}
	if c.preview.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.preview.SegmentGap < 0 {
		errs = append(errs, errors.New("segment gap must not be negative"))
	}
	if c.preview.PlayTimeout <= 0 {
		errs = append(errs, errors.New("play timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ApplySession overrides session parameters with the non-empty fields of s.
// Command-line flags use it after New.
func (c *EnvConfig) ApplySession(s Session) {
	setString(&c.session.Area, s.Area)
	setString(&c.session.Place, s.Place)
	setString(&c.session.City, s.City)
	setString(&c.session.Mode, s.Mode)
	setString(&c.session.Layout, s.Layout)
	setString(&c.session.AssignmentID, s.AssignmentID)
	if len(s.Videos) > 0 {
		c.session.Videos = append([]string(nil), s.Videos...)
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ResultsDir is where standalone results are written.
func (c *EnvConfig) ResultsDir() string {
	if c.resultsDir != "" {
		return c.resultsDir
	}
	return filepath.Join(c.dataDir, "results")
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// Session returns the resolved session parameters. The city falls back to
// the place when none is given.
func (c *EnvConfig) Session() Session {
	s := c.session
	s.Videos = append([]string(nil), s.Videos...)
	if s.City == "" {
		s.City = s.Place
	}
	return s
}

func (c *EnvConfig) Media() Media {
	return c.media
}

func (c *EnvConfig) Preview() Preview {
	return c.preview
}

func (c *EnvConfig) Selection() Selection {
	return c.selection
}

// SplitList parses the comma separated video list of the page URL.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
