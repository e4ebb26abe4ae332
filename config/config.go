package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"

	"chat-core/model"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads the configuration from environment variables and the
// optional config/config.yaml tunables file.
func Load() (*model.Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Info: .env file not found, relying on environment variables")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "data/chat.db"
	}

	gatewayAddr := os.Getenv("GATEWAY_ADDR")
	if gatewayAddr == "" {
		gatewayAddr = ":8080"
	}

	sweepInterval := 60
	if raw := os.Getenv("SWEEP_INTERVAL_SECONDS"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			log.Printf("Warning: invalid SWEEP_INTERVAL_SECONDS value %q, using default of 60", raw)
		} else {
			sweepInterval = v
		}
	}

	wordListPath := os.Getenv("WORD_LIST_PATH")
	if wordListPath == "" {
		wordListPath = "data/forbidden_words.json"
	}

	tunables, err := loadTunables()
	if err != nil {
		return nil, err
	}

	return &model.Config{
		DBPath:               dbPath,
		GatewayAddr:          gatewayAddr,
		SweepIntervalSeconds: sweepInterval,
		WordListPath:         wordListPath,
		Tunables:             *tunables,
	}, nil
}

func loadTunables() (*model.Tunables, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")

	v.SetDefault("edit_window_minutes", 15)
	v.SetDefault("schedule_lead_minutes", 5)
	v.SetDefault("expiry_min_seconds", 5)
	v.SetDefault("expiry_max_seconds", 86400)
	v.SetDefault("xp_award", 10)
	v.SetDefault("xp_message_interval", 10)
	v.SetDefault("xp_per_level", 100)
	v.SetDefault("trending_limit", 50)
	v.SetDefault("default_policy", string(model.PolicyLog))
	v.SetDefault("recent_purge_window_hours", 24)
	v.SetDefault("notification_keep_days", 30)
	v.SetDefault("moderation_log_max_items", 1000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Println("Info: config.yaml not found, using tunable defaults")
	}

	var t model.Tunables
	if err := v.Unmarshal(&t); err != nil {
		return nil, err
	}
	if !t.DefaultPolicy.Valid() {
		log.Printf("Warning: invalid default_policy %q, falling back to log", t.DefaultPolicy)
		t.DefaultPolicy = model.PolicyLog
	}
	return &t, nil
}

// LoadWordList reads the global forbidden-word list from a JSON file.
// A missing file yields an empty list rather than an error.
func LoadWordList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Warning: word list not found at %s, starting empty", path)
			return nil, nil
		}
		return nil, err
	}
	var words []string
	if err := json.Unmarshal(raw, &words); err != nil {
		return nil, err
	}
	return words, nil
}
