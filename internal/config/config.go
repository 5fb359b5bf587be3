package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the binary looks for its configuration
const DefaultPath = "configs/config.yaml"

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete people counter configuration. Top-level keys
// match the keys of earlier deployments' config.yaml files.
type Config struct {
	InputVideoFileName            string `yaml:"input_video_file_name"`
	FirebaseGeneratedJSONFileName string `yaml:"firebase_generated_json_file_name"`
	CountSendIntervalInSeconds    int    `yaml:"count_send_interval_in_seconds"`
	Draw                          bool   `yaml:"draw"`
	ShowOutput                    bool   `yaml:"show_output"`

	// Detector parameters
	YOLOConfidenceScore  float64 `yaml:"yolo_confidence_score"`
	YOLORequiredClassIDs []int   `yaml:"yolo_required_class_ids"` // 0 = person
	YOLOInputImgSize     int     `yaml:"yolo_input_img_size"`

	// Tracker parameters
	MaxCosineDist      float64 `yaml:"max_cosine_dist"`
	NMSMaxOverlap      float64 `yaml:"nms_max_overlap"`
	MaxIOUDistance     float64 `yaml:"max_iou_distance"`
	MaxAge             int     `yaml:"max_age"`
	NInit              int     `yaml:"n_init"`
	NNBudget           int     `yaml:"nn_budget"`
	UseCUDAForDeepSort bool    `yaml:"use_cuda_for_deepsort"`

	Source   SourceConfig   `yaml:"source"`
	Detector DetectorConfig `yaml:"detector"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Sink     SinkConfig     `yaml:"sink"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Report   ReportConfig   `yaml:"report"`
}

// SourceConfig selects the video decoder
type SourceConfig struct {
	Backend   string `yaml:"backend"` // ffmpeg, gocv
	FPS       int    `yaml:"fps"`     // live inputs only
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	ConfigDir string `yaml:"config_dir"` // base for relative file names
}

// DetectorConfig points at the inference service
type DetectorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TrackerConfig selects the tracker implementation
type TrackerConfig struct {
	Backend  string        `yaml:"backend"` // iou, remote
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SinkConfig selects where count records are submitted
type SinkConfig struct {
	Type          string        `yaml:"type"` // firestore, sqlite, log
	SQLitePath    string        `yaml:"sqlite_path"`
	ProjectID     string        `yaml:"firestore_project_id"`
	Collection    string        `yaml:"firestore_collection"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	Retention     time.Duration `yaml:"retention"` // sqlite only, 0 keeps everything
}

// ServerConfig contains the HTTP and gRPC listeners
type ServerConfig struct {
	HTTPAddr      string `yaml:"http_addr"` // empty disables the HTTP server
	GRPCAddr      string `yaml:"grpc_addr"` // empty disables the gRPC health server
	StreamEnabled bool   `yaml:"stream_enabled"`
}

// AuthConfig protects the HTTP API
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// ReportConfig controls the reporting task
type ReportConfig struct {
	FlushOnShutdown bool `yaml:"flush_on_shutdown"`
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		InputVideoFileName:            "pedestrian_human.mp4",
		FirebaseGeneratedJSONFileName: "project_key.json",
		CountSendIntervalInSeconds:    60,
		YOLOConfidenceScore:           0.3,
		YOLORequiredClassIDs:          []int{0},
		YOLOInputImgSize:              640,
		MaxCosineDist:                 0.2,
		NMSMaxOverlap:                 1.0,
		MaxIOUDistance:                0.7,
		MaxAge:                        70,
		NInit:                         3,
		NNBudget:                      100,
		Source: SourceConfig{
			Backend:   "ffmpeg",
			ConfigDir: "configs",
		},
		Detector: DetectorConfig{
			Endpoint: "http://localhost:8081",
			Timeout:  5 * time.Second,
		},
		Tracker: TrackerConfig{
			Backend: "iou",
			Timeout: 5 * time.Second,
		},
		Sink: SinkConfig{
			Type:          "firestore",
			SQLitePath:    "crowdcount.db",
			Collection:    "people_count",
			SubmitTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
		},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
	}
}

// Load reads and parses a YAML configuration file. Missing keys keep their
// defaults, secrets are taken from the environment when set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AUTH_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("FIRESTORE_PROJECT_ID"); v != "" {
		c.Sink.ProjectID = v
	}
}

// Validate checks value ranges and backend names
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.InputVideoFileName == "" {
		add("input_video_file_name is required")
	}
	if c.CountSendIntervalInSeconds <= 0 {
		add("count_send_interval_in_seconds must be positive, got %d", c.CountSendIntervalInSeconds)
	}
	if c.YOLOConfidenceScore < 0 || c.YOLOConfidenceScore > 1 {
		add("yolo_confidence_score must be in [0,1], got %g", c.YOLOConfidenceScore)
	}
	if len(c.YOLORequiredClassIDs) == 0 {
		add("yolo_required_class_ids must not be empty")
	}
	for _, id := range c.YOLORequiredClassIDs {
		if id < 0 {
			add("yolo_required_class_ids contains negative id %d", id)
		}
	}
	if c.YOLOInputImgSize <= 0 {
		add("yolo_input_img_size must be positive, got %d", c.YOLOInputImgSize)
	}
	if c.MaxCosineDist < 0 || c.NMSMaxOverlap < 0 || c.MaxIOUDistance < 0 {
		add("tracker distances must not be negative")
	}
	if c.MaxIOUDistance > 1 {
		add("max_iou_distance must be at most 1, got %g", c.MaxIOUDistance)
	}
	if c.MaxAge < 0 || c.NInit < 0 || c.NNBudget < 0 {
		add("max_age, n_init and nn_budget must not be negative")
	}

	switch c.Source.Backend {
	case "ffmpeg", "gocv":
	default:
		add("unknown source backend %q", c.Source.Backend)
	}
	if c.Source.FPS < 0 || c.Source.Width < 0 || c.Source.Height < 0 {
		add("source fps, width and height must not be negative")
	}

	if c.Detector.Endpoint == "" {
		add("detector endpoint is required")
	}

	switch c.Tracker.Backend {
	case "iou":
	case "remote":
		if c.Tracker.Endpoint == "" {
			add("tracker endpoint is required for the remote backend")
		}
	default:
		add("unknown tracker backend %q", c.Tracker.Backend)
	}

	switch c.Sink.Type {
	case "firestore":
		if c.Sink.Collection == "" {
			add("firestore_collection is required")
		}
	case "sqlite":
		if c.Sink.SQLitePath == "" {
			add("sqlite_path is required")
		}
	case "log":
	default:
		add("unknown sink type %q", c.Sink.Type)
	}
	if c.Sink.SubmitTimeout < 0 || c.Sink.Retention < 0 {
		add("sink durations must not be negative")
	}

	if c.Auth.Enabled {
		if c.Auth.Password == "" {
			add("auth password is required when auth is enabled")
		}
		if c.Auth.JWTSecret == "" {
			add("jwt_secret is required when auth is enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// CountInterval returns the reporting interval
func (c *Config) CountInterval() time.Duration {
	return time.Duration(c.CountSendIntervalInSeconds) * time.Second
}

// VideoPath returns the video input. Relative file names resolve against
// the config directory; URLs and device paths are returned unchanged.
func (c *Config) VideoPath() string {
	return c.resolve(c.InputVideoFileName)
}

// CredentialsPath returns the Firebase service account key file
func (c *Config) CredentialsPath() string {
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		return v
	}
	if c.FirebaseGeneratedJSONFileName == "" {
		return ""
	}
	return c.resolve(c.FirebaseGeneratedJSONFileName)
}

func (c *Config) resolve(name string) string {
	if name == "" || strings.Contains(name, "://") || filepath.IsAbs(name) {
		return name
	}
	if c.Source.ConfigDir == "" {
		return name
	}
	// names already carrying the config dir are left alone
	if strings.HasPrefix(filepath.Clean(name), filepath.Clean(c.Source.ConfigDir)+string(filepath.Separator)) {
		return name
	}
	return filepath.Join(c.Source.ConfigDir, name)
}
