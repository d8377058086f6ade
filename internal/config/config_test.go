package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("GROQ_MODEL_ID", "")
	os.Setenv("BARGE_IN_MIN_SPEECH_MS", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.GroqModel == "" {
		t.Fatalf("expected default groq model id")
	}
	if cfg.BargeInMinSpeech != 300*time.Millisecond {
		t.Fatalf("expected default barge-in threshold, got %v", cfg.BargeInMinSpeech)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	os.Setenv("INPUT_SAMPLE_RATE", "not-a-number")
	defer os.Unsetenv("INPUT_SAMPLE_RATE")
	cfg := Load()
	if cfg.InputSampleRate != 16000 {
		t.Fatalf("expected fallback sample rate, got %d", cfg.InputSampleRate)
	}
}
