package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PranavSlathia/Vartalaap/internal/barge"
	"github.com/PranavSlathia/Vartalaap/internal/config"
	"github.com/PranavSlathia/Vartalaap/internal/extract"
	"github.com/PranavSlathia/Vartalaap/internal/httpserver"
	"github.com/PranavSlathia/Vartalaap/internal/llm"
	"github.com/PranavSlathia/Vartalaap/internal/logger"
	"github.com/PranavSlathia/Vartalaap/internal/rules"
	"github.com/PranavSlathia/Vartalaap/internal/session"
	"github.com/PranavSlathia/Vartalaap/internal/store"
	"github.com/PranavSlathia/Vartalaap/internal/stt"
	"github.com/PranavSlathia/Vartalaap/internal/tts"
	"github.com/PranavSlathia/Vartalaap/internal/turn"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	rs, err := rules.Load(cfg.BusinessConfigDir, cfg.BusinessID)
	if err != nil {
		log.Fatal("business rules load failed", "business", cfg.BusinessID, "error", err)
	}
	log.Info("business rules loaded", "business", rs.BusinessID, "name", rs.BusinessName, "seats", rs.TotalSeats)

	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("store init failed", "error", err)
	}
	defer closeStore()

	factory := func(sink turn.AudioSink, callerNumber string, onInterim func(string)) (httpserver.CallSession, error) {
		groq := llm.NewGroqClient(cfg.GroqKey, cfg.GroqModel)

		var synth tts.Streamer = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.TTSVoiceModel, cfg.OutputSampleRate, log)
		if cfg.ElevenLabsKey != "" {
			fallback := tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.OutputSampleRate, log)
			synth = tts.NewChain(synth, fallback, log)
		}

		coord := turn.New(turn.DefaultConfig(), groq, synth, sink, log)
		// "multi" lets nova-2 code-switch between Hindi and English mid-utterance.
		transcriber := stt.NewDeepgram(cfg.DeepgramKey, cfg.InputSampleRate, "multi", log)
		extractor := extract.New(groq, log)

		sessCfg := session.DefaultConfig()
		sessCfg.UtteranceTimeout = cfg.UtteranceTimeout
		sessCfg.BargeIn = barge.Config{
			SampleRate:   cfg.InputSampleRate,
			MinSpeechMs:  int(cfg.BargeInMinSpeech / time.Millisecond),
			NoiseBurstMs: int(cfg.BargeInNoiseFloor / time.Millisecond),
		}

		sess := session.New(sessCfg, rs, transcriber, coord, extractor, st, log)
		sess.SetCallerNumber(callerNumber)
		sess.OnInterim = onInterim
		return sess, nil
	}

	srv := httpserver.New(httpserver.Config{
		AuthPassword:     cfg.AuthPassword,
		OutputSampleRate: cfg.OutputSampleRate,
	}, factory, log)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening", "address", cfg.HTTPAddress)
		serverErrors <- srv.Echo.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err)
		}
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Echo.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		_ = srv.Echo.Close()
	}
}

// openStore selects Postgres when DATABASE_URL is set, otherwise the
// in-memory store for local development.
func openStore(cfg config.Config, log *logger.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	log.Info("postgres connected")
	return pg, pg.Close, nil
}
