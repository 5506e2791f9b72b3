package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notaria-labs/registro-cli/internal/feedback"
	"github.com/notaria-labs/registro-cli/internal/prompt"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedback and prompt inspection API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/v1/feedback", handleFeedback(env))
		r.Get("/api/v1/prompts/{docType}/{model}", handlePrompts(env))
		r.Get("/api/v1/evolutions/{docType}/{model}", handleEvolutions(env))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

type feedbackRequest struct {
	DocType        string  `json:"doc_type"`
	Model          string  `json:"model"`
	DocumentID     string  `json:"document_id"`
	ContentRef     string  `json:"content_ref"`
	Field          string  `json:"field"`
	Value          string  `json:"value"`
	IsCorrect      bool    `json:"is_correct"`
	Reason         string  `json:"reason"`
	CorrectedValue *string `json:"corrected_value"`
}

// handleFeedback records a verdict and, when the evidence crosses the
// trigger, runs evolution and the regression gate detached from the request.
func handleFeedback(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body feedbackRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Field == "" || body.DocType == "" || body.Model == "" {
			writeError(w, http.StatusBadRequest, "doc_type, model and field are required")
			return
		}

		entry, err := env.feedback.Record(req.Context(), feedback.Feedback{
			DocType: body.DocType, Model: body.Model,
			DocumentID: body.DocumentID, ContentRef: body.ContentRef,
			Field: body.Field, Value: body.Value,
			IsCorrect: body.IsCorrect, Reason: body.Reason,
			CorrectedValue: body.CorrectedValue,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		evolving := entry.ShouldEvolve()
		if evolving {
			// Detached from the request: evolution plus gate can take minutes
			// of model calls, and the caller only needs the verdict stored.
			go func() {
				cand, err := env.evolver().Evolve(context.Background(), body.DocType, body.Model)
				if err != nil {
					zap.L().Error("prompt evolution failed", zap.Error(err))
					return
				}
				env.gate(body.Model).PromoteAsync(promptPair(cand.System, cand.User))
			}()
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":          "recorded",
			"feedback_count":  entry.FeedbackCount,
			"incorrect_count": entry.IncorrectCount,
			"evolving":        evolving,
		})
	}
}

// handlePrompts returns the version history plus the active pair for a
// (doc_type, model), falling back to defaults when nothing is stored.
func handlePrompts(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		docType := chi.URLParam(req, "docType")
		model := chi.URLParam(req, "model")

		versions, err := env.prompts.List(req.Context(), docType, model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		pair, err := env.prompts.GetActive(req.Context(), docType, model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := map[string]any{"versions": versions}
		if pair != nil {
			resp["active"] = pair
		} else {
			defaults := prompt.Defaults(docType)
			resp["active"] = map[string]string{
				"source": "defaults",
				"system": defaults.System,
				"user":   defaults.User,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleEvolutions exposes the evolution queue state and the newest version
// per role, so a poller can observe a detached gate run reaching its terminal
// state (activated, rejected, or still candidate).
func handleEvolutions(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		docType := chi.URLParam(req, "docType")
		model := chi.URLParam(req, "model")

		entry, err := env.feedback.Queue(req.Context(), docType, model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		versions, err := env.prompts.List(req.Context(), docType, model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		latest := map[prompt.Role]prompt.Version{}
		for _, v := range versions {
			if cur, ok := latest[v.Role]; !ok || v.VersionNumber > cur.VersionNumber {
				latest[v.Role] = v
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"queue":         entry,
			"should_evolve": entry.ShouldEvolve(),
			"latest":        latest,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
