package api

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pipetrace/agent/internal/config"
	"github.com/pipetrace/agent/internal/logging"
	"github.com/pipetrace/agent/internal/session"
	"github.com/pipetrace/agent/internal/upload"
)

// multipart overhead allowed on top of the document itself
const uploadSlack = 1 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/session", sessionHandler(cfg))
		r.Post("/upload", uploadHandler(cfg))
		r.Post("/ask", askHandler(cfg))
		r.Put("/view", viewHandler(cfg))
		r.Delete("/results", dismissResultsHandler(cfg))
		r.Delete("/notice", dismissNoticeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := "service"
		if cfg.Simulated {
			mode = "simulated"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			DeviceID: cfg.DeviceID,
			Mode:     mode,
		})
	}
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SessionResponse{
			State:      cfg.Session.State(),
			Directives: cfg.Session.Directives(),
		})
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Checked before the body is read so a busy agent never stores the file.
		if cfg.Session.State().Processing {
			writeSessionError(w, session.ErrBusy)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize+uploadSlack)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				WriteError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit", "TOO_LARGE")
			case errors.Is(err, http.ErrMissingFile):
				WriteError(w, http.StatusBadRequest, "No file part", "BAD_REQUEST")
			default:
				WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
			}
			return
		}
		defer file.Close()

		if strings.TrimSpace(header.Filename) == "" {
			WriteError(w, http.StatusBadRequest, "No selected file", "BAD_REQUEST")
			return
		}

		path, err := upload.Save(cfg.UploadDir, header.Filename, file)
		if err != nil {
			if upload.IsValidation(err) {
				writeSessionError(w, err)
				return
			}
			cfg.Logger.Error("failed to store upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		if err := cfg.Session.SubmitFile(r.Context(), path, declaredType(header.Header.Get("Content-Type"))); err != nil {
			if upload.IsValidation(err) {
				os.Remove(path)
			}
			cfg.Logger.Warn("upload rejected", "path", logging.SanitizePath(path), "kind", session.Classify(err), "error", err)
			writeSessionError(w, err)
			return
		}

		st := cfg.Session.State()
		WriteJSON(w, http.StatusAccepted, UploadResponse{
			SessionID: st.SessionID,
			Document:  st.Document,
			Message:   st.Message,
		})
	}
}

func askHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := decodeBody(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		res, err := cfg.Session.Ask(r.Context(), req.Question)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, AskResponse{Result: res})
	}
}

func viewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ViewRequest
		if err := decodeBody(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if err := cfg.Session.SwitchView(session.ViewMode(req.View)); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SessionResponse{
			State:      cfg.Session.State(),
			Directives: cfg.Session.Directives(),
		})
	}
}

func dismissResultsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.DismissResults()
		w.WriteHeader(http.StatusNoContent)
	}
}

func dismissNoticeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.DismissNotice()
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeSessionError maps an orchestrator error onto a status code.
func writeSessionError(w http.ResponseWriter, err error) {
	msg := session.DisplayMessage(err)
	switch session.Classify(err) {
	case session.KindValidation:
		WriteError(w, http.StatusBadRequest, msg, "VALIDATION_ERROR")
	case session.KindInput:
		if errors.Is(err, session.ErrQueryViewDisabled) {
			WriteError(w, http.StatusConflict, msg, "VIEW_DISABLED")
			return
		}
		WriteError(w, http.StatusBadRequest, msg, "BAD_REQUEST")
	case session.KindBusy:
		WriteError(w, http.StatusConflict, msg, "BUSY")
	case session.KindNotReady:
		WriteError(w, http.StatusConflict, msg, "NOT_READY")
	case session.KindBackend, session.KindTerminalJob:
		WriteError(w, http.StatusBadGateway, msg, "BACKEND_ERROR")
	case session.KindTransport:
		WriteError(w, http.StatusBadGateway, msg, "TRANSPORT_ERROR")
	case session.KindCanceled:
		WriteError(w, http.StatusServiceUnavailable, msg, "UNAVAILABLE")
	default:
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

// declaredType drops the generic type clients send when they do not know
// better, leaving detection to content sniffing.
func declaredType(ct string) string {
	if strings.HasPrefix(strings.ToLower(ct), "application/octet-stream") {
		return ""
	}
	return ct
}
