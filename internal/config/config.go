package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type SessionConfig struct {
	MaxActive         int           `yaml:"max_active"`
	Image             string        `yaml:"image"`
	CredentialsSecret string        `yaml:"credentials_secret"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	// TTL bounds a session's lifetime; expired sessions are torn down by
	// the reaper. Zero disables expiry.
	TTL time.Duration `yaml:"ttl"`
}

type KubernetesConfig struct {
	Namespace           string `yaml:"namespace"`
	PodPrefix           string `yaml:"pod_prefix"`
	ServiceNameTemplate string `yaml:"service_name_template"`
	ContainerName       string `yaml:"container_name"`
	CredentialsPath     string `yaml:"credentials_path"`
	UploadMountPath     string `yaml:"upload_mount_path"`
	ControlPlaneURL     string `yaml:"control_plane_url"`
	CPURequest          string `yaml:"cpu_request"`
	CPULimit            string `yaml:"cpu_limit"`
	MemoryRequest       string `yaml:"memory_request"`
	MemoryLimit         string `yaml:"memory_limit"`
}

type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ProjectID    string `yaml:"project_id"`
	BucketPrefix string `yaml:"bucket_prefix"`
}

type WebsocketConfig struct {
	URLTemplate  string `yaml:"url_template"`
	PathTemplate string `yaml:"path_template"`
}

type Config struct {
	Listen     string           `yaml:"listen"`
	APIKey     string           `yaml:"api_key"`
	UploadsDir string           `yaml:"uploads_dir"`
	DBPath     string           `yaml:"db_path"`
	Session    SessionConfig    `yaml:"session"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Storage    StorageConfig    `yaml:"storage"`
	Websocket  WebsocketConfig  `yaml:"websocket"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:     "127.0.0.1:8080",
		UploadsDir: "./uploads",
		Session: SessionConfig{
			MaxActive:         20,
			Image:             "gamgui/gam-session:latest",
			CredentialsSecret: "gam-credentials",
			ReapInterval:      30 * time.Second,
			TTL:               60 * time.Minute,
		},
		Kubernetes: KubernetesConfig{
			Namespace:           "default",
			PodPrefix:           "gam-session",
			ServiceNameTemplate: "gam-session-{{SESSION_ID}}-svc",
			ContainerName:       "gam",
			CredentialsPath:     "/etc/gam/credentials",
			UploadMountPath:     "/workspace/uploads",
			CPURequest:          "250m",
			CPULimit:            "500m",
			MemoryRequest:       "512Mi",
			MemoryLimit:         "1Gi",
		},
		Storage: StorageConfig{
			Enabled:      false,
			BucketPrefix: "gamgui-session",
		},
		Websocket: WebsocketConfig{
			URLTemplate:  "ws://localhost:8080/sessions/{{SESSION_ID}}/ws",
			PathTemplate: "/sessions/{{SESSION_ID}}/ws",
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GAMGUI_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("GAMGUI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("GAMGUI_UPLOADS_DIR"); v != "" {
		cfg.UploadsDir = v
	}
	if v := os.Getenv("GAMGUI_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GAMGUI_MAX_ACTIVE_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxActive = n
		}
	}
	if v := os.Getenv("GAMGUI_SESSION_IMAGE"); v != "" {
		cfg.Session.Image = v
	}
	if v := os.Getenv("GAMGUI_CREDENTIALS_SECRET"); v != "" {
		cfg.Session.CredentialsSecret = v
	}
	if v := os.Getenv("GAMGUI_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.ReapInterval = d
		}
	}
	if v := os.Getenv("GAMGUI_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := os.Getenv("GAMGUI_NAMESPACE"); v != "" {
		cfg.Kubernetes.Namespace = v
	}
	if v := os.Getenv("GAMGUI_POD_PREFIX"); v != "" {
		cfg.Kubernetes.PodPrefix = v
	}
	if v := os.Getenv("GAMGUI_CONTROL_PLANE_URL"); v != "" {
		cfg.Kubernetes.ControlPlaneURL = v
	}
	if v := os.Getenv("GAMGUI_STORAGE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.Enabled = b
		}
	}
	if v := os.Getenv("GAMGUI_STORAGE_PROJECT_ID"); v != "" {
		cfg.Storage.ProjectID = v
	}
	if v := os.Getenv("GAMGUI_BUCKET_PREFIX"); v != "" {
		cfg.Storage.BucketPrefix = v
	}
	if v := os.Getenv("GAMGUI_WEBSOCKET_URL_TEMPLATE"); v != "" {
		cfg.Websocket.URLTemplate = v
	}
	if v := os.Getenv("GAMGUI_WEBSOCKET_PATH_TEMPLATE"); v != "" {
		cfg.Websocket.PathTemplate = v
	}
}

// ExpandSessionID substitutes the session id into a {{SESSION_ID}} template.
func ExpandSessionID(template, sessionID string) string {
	return strings.ReplaceAll(template, "{{SESSION_ID}}", sessionID)
}
