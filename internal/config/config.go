package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	HTTPAddress  string
	Environment  string
	AuthPassword string // empty disables /call auth

	// Provider credentials.
	DeepgramKey       string
	GroqKey           string
	GroqModel         string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	TTSVoiceModel     string

	// Persistence. Empty DatabaseURL selects the in-memory booking store.
	DatabaseURL string

	// Business rule files live under BusinessConfigDir/<business_id>.yaml.
	BusinessID        string
	BusinessConfigDir string

	// Audio.
	InputSampleRate  int
	OutputSampleRate int

	// Conversation tuning.
	BargeInMinSpeech  time.Duration
	BargeInNoiseFloor time.Duration
	UtteranceTimeout  time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:       envOr("HTTP_ADDRESS", ":8080"),
		Environment:       envOr("ENVIRONMENT", "development"),
		AuthPassword:      os.Getenv("AUTH_PASSWORD"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		GroqKey:           os.Getenv("GROQ_API_KEY"),
		GroqModel:         envOr("GROQ_MODEL_ID", "llama-3.3-70b-versatile"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		TTSVoiceModel:     envOr("TTS_VOICE_MODEL", "aura-2-thalia-en"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BusinessID:        envOr("BUSINESS_ID", "himalayan_kitchen"),
		BusinessConfigDir: envOr("BUSINESS_CONFIG_DIR", "config/business"),
		InputSampleRate:   envIntOr("INPUT_SAMPLE_RATE", 16000),
		OutputSampleRate:  envIntOr("OUTPUT_SAMPLE_RATE", 48000),
		BargeInMinSpeech:  envMsOr("BARGE_IN_MIN_SPEECH_MS", 300),
		BargeInNoiseFloor: envMsOr("BARGE_IN_NOISE_FLOOR_MS", 200),
		UtteranceTimeout:  envMsOr("UTTERANCE_TIMEOUT_MS", 12000),
	}

	if cfg.DeepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech recognition and synthesis will not work")
	}
	if cfg.GroqKey == "" {
		log.Println("Warning: GROQ_API_KEY not set - response generation will not work")
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envMsOr(key string, defMs int) time.Duration {
	return time.Duration(envIntOr(key, defMs)) * time.Millisecond
}
