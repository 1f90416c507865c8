package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/vvou01/interview-pilot/internal/capture"
	"github.com/vvou01/interview-pilot/internal/client"
	"github.com/vvou01/interview-pilot/internal/coach"
	"github.com/vvou01/interview-pilot/internal/config"
	"github.com/vvou01/interview-pilot/internal/coordinator"
	"github.com/vvou01/interview-pilot/internal/debrief"
	"github.com/vvou01/interview-pilot/internal/gdrive"
	"github.com/vvou01/interview-pilot/internal/llm"
	"github.com/vvou01/interview-pilot/internal/server"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

func main() {
	_ = godotenv.Load()

	cfg, warnings, err := config.Load(os.Getenv(config.EnvPrefix + "CONFIG"))
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv(config.EnvPrefix+"DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("app", "coach-pilot")

	for _, w := range warnings {
		log.Warn(w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("storage init failed")
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub(log)
	provider, modelName, err := llm.ParseModel(cfg.LLMModel)
	if err != nil {
		log.WithError(err).Fatal("invalid llm_model")
	}
	model, err := llm.NewClient(provider, cfg.LLMAPIKey(provider), modelName)
	if err != nil {
		log.WithError(err).Fatal("llm client init failed")
	}
	coachPipe := coach.NewPipeline(store, model, hub, log)
	debriefPipe := debrief.NewPipeline(store, model, hub, log)

	srv := server.New(store, coachPipe, debriefPipe, hub, log, warnings)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv}
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}()

	if cfg.GDriveFolderID != "" {
		backup, backupErr := gdrive.NewBackup(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID, log)
		if backupErr != nil {
			log.WithError(backupErr).Warn("drive backup disabled")
		} else {
			go backup.Run(ctx, cfg.DBPath, 24*time.Hour)
		}
	}

	capSession, coord := maybeStartCapture(ctx, cfg, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancel()

	if capSession != nil {
		capSession.Stop()
	}
	if coord != nil {
		coord.SetVisible(false)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
}

// maybeStartCapture wires the live pilot side when a session and bearer
// token are provided: microphone into the Deepgram socket, finalized
// utterances into the coaching API, poll loops keeping the panel state
// fresh. Without them the process runs the backend API alone.
func maybeStartCapture(ctx context.Context, cfg config.Config, log *logrus.Entry) (*capture.Session, *coordinator.Coordinator) {
	sessionID := os.Getenv(config.EnvPrefix + "SESSION_ID")
	token := os.Getenv(config.EnvPrefix + "SESSION_TOKEN")
	if sessionID == "" || token == "" {
		log.Info("no session configured, running backend only")
		return nil, nil
	}
	if cfg.DeepgramAPIKey == "" {
		log.Warn("session configured but Deepgram key missing, running backend only")
		return nil, nil
	}

	microphone.Initialize()

	backend := client.New(cfg.BackendURL, token)

	capSession := capture.NewSession(capture.Config{
		Transport:  capture.NewDeepgramTransport(cfg.DeepgramAPIKey, cfg.MicSampleRate, log),
		Microphone: newMicDevice(cfg.MicSampleRate),
		Notifier:   backend,
		OnUtterance: func(u transcript.Utterance) {
			callCtx, callCancel := context.WithTimeout(ctx, 15*time.Second)
			defer callCancel()
			result, err := backend.SendUtterance(callCtx, sessionID, u)
			if err != nil {
				log.WithError(err).Warn("utterance delivery failed")
				return
			}
			if result.Suggestion != nil {
				log.WithField("suggestion", result.Suggestion.ID).Debug("suggestion generated")
			}
		},
		Log: log,
	})

	coord := coordinator.New(backend, log, coordinator.WithIntervals(
		cfg.ParsedTranscriptPoll(),
		cfg.ParsedSuggestionPoll(),
		cfg.ParsedStatusPoll(),
	))

	if err := capSession.Start(ctx, sessionID); err != nil {
		log.WithError(err).Error("capture start failed")
		return capSession, coord
	}

	go func() {
		for ev := range capSession.Events() {
			switch ev.Type {
			case capture.EventStateChanged:
				log.WithField("state", ev.State).Info("capture state changed")
			case capture.EventError:
				log.WithField("message", ev.Message).Warn("capture error")
			}
		}
	}()

	go func() {
		sess, err := backend.GetSession(ctx, sessionID)
		if err != nil {
			log.WithError(err).Error("session lookup failed")
			return
		}
		coord.Track(sess)
	}()

	return capSession, coord
}
