// Package config loads server settings from the environment.
//
// A .env file in the working directory is read first when present;
// variables already set in the process environment win over it.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/gemix-chat/internal/auth"
	"github.com/sakif/gemix-chat/internal/llm"
)

// minSecretLength matches what auth.NewTokenService accepts.
const minSecretLength = 16

// Config holds everything main needs to build the server.
type Config struct {
	Port       int
	DBPath     string
	JWTSecret  string
	SessionTTL time.Duration
	BcryptCost int
	LogLevel   slog.Level

	GeminiAPIKey  string
	GeminiModel   string
	HFToken       string
	ImageModelURL string

	// GeneratedSecret is true when JWT_SECRET was unset and a random
	// per-process secret was used. Cookies then do not survive a restart.
	GeneratedSecret bool
	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

// Load reads .env (if any) and then the process environment.
func Load() (Config, error) {
	loaded := true
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: reading .env: %w", err)
		}
		loaded = false
	}

	cfg, err := FromEnv()
	cfg.EnvFileLoaded = loaded
	return cfg, err
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		DBPath:        getEnv("DB_PATH", "data/chatbot.db"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", llm.DefaultGeminiModel),
		HFToken:       getEnv("HF_TOKEN", ""),
		ImageModelURL: getEnv("IMAGE_MODEL_URL", llm.DefaultImageModelURL),
	}

	var err error
	if cfg.Port, err = getEnvAsInt("PORT", 8080); err != nil {
		return Config{}, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}
	if cfg.BcryptCost, err = getEnvAsInt("BCRYPT_COST", auth.DefaultCost); err != nil {
		return Config{}, err
	}

	cfg.SessionTTL = auth.DefaultTTL
	if v := getEnv("SESSION_TTL", ""); v != "" {
		if cfg.SessionTTL, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("config: SESSION_TTL: %w", err)
		}
		if cfg.SessionTTL <= 0 {
			return Config{}, fmt.Errorf("config: SESSION_TTL must be positive, got %s", v)
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	switch {
	case cfg.JWTSecret == "":
		if cfg.JWTSecret, err = randomSecret(); err != nil {
			return Config{}, err
		}
		cfg.GeneratedSecret = true
	case len(cfg.JWTSecret) < minSecretLength:
		return Config{}, fmt.Errorf("config: JWT_SECRET must be at least %d characters", minSecretLength)
	}

	return cfg, nil
}

// Addr is the listen address for net/http.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("config: generating session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
