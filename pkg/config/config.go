package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Training TrainingConfig `mapstructure:"training"`
	Cache    CacheConfig    `mapstructure:"cache"`
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ModelConfig struct {
	Dir          string `mapstructure:"dir"`
	DefaultName  string `mapstructure:"default_name"`
	Device       string `mapstructure:"device"`
	EmbeddingDim int    `mapstructure:"embedding_dim"`
	MaxTextLen   int    `mapstructure:"max_text_len"`
	Seed         int64  `mapstructure:"seed"`
	LoadOnStart  bool   `mapstructure:"load_on_start"`
}

type TrainingConfig struct {
	Epochs               int     `mapstructure:"epochs"`
	BatchSize            int     `mapstructure:"batch_size"`
	LearningRate         float64 `mapstructure:"learning_rate"`
	FineTuneEpochs       int     `mapstructure:"fine_tune_epochs"`
	FineTuneBatchSize    int     `mapstructure:"fine_tune_batch_size"`
	FineTuneLearningRate float64 `mapstructure:"fine_tune_learning_rate"`
	HistoryLimit         int     `mapstructure:"history_limit"`
	AutoActivate         bool    `mapstructure:"auto_activate"`
}

type CacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type APIConfig struct {
	MaxBatchSize  int    `mapstructure:"max_batch_size"`
	MaxTextLength int    `mapstructure:"max_text_length"`
	Key           string `mapstructure:"key"`
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"`
	URL      string `mapstructure:"url"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Type:     "postgres",
		URL:      dbURL,
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")

	v.SetDefault("model.dir", "models")
	v.SetDefault("model.default_name", "task_model")
	v.SetDefault("model.device", "cpu")
	v.SetDefault("model.embedding_dim", 64)
	v.SetDefault("model.max_text_len", 128)
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.load_on_start", true)

	v.SetDefault("training.epochs", 30)
	v.SetDefault("training.batch_size", 32)
	v.SetDefault("training.learning_rate", 0.001)
	v.SetDefault("training.fine_tune_epochs", 10)
	v.SetDefault("training.fine_tune_batch_size", 16)
	v.SetDefault("training.fine_tune_learning_rate", 0.0001)
	v.SetDefault("training.history_limit", 100)
	v.SetDefault("training.auto_activate", true)

	v.SetDefault("cache.capacity", 1000)

	v.SetDefault("api.max_batch_size", 100)
	v.SetDefault("api.max_text_length", 1000)
	v.SetDefault("api.key", "")

	v.SetDefault("database.type", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "runs.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("telegram.token", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 50)
	v.SetDefault("openai.temperature", 0.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads path if it exists and applies environment overrides. A
// missing file leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support: model.dir -> MODEL_DIR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
