package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mazrean/mimepart"
	httpform "github.com/mazrean/mimepart/http"
	"github.com/mazrean/mimepart/storage"
)

var (
	errUnsupportedIcon = errors.New("content type is not supported")
	errInvalidID       = errors.New("invalid id")
	errUserExists      = errors.New("user already exists")
)

type server struct {
	cfg     *config
	storage *storage.Billy
	logger  *slog.Logger
}

type attachment struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	InMemory bool   `json:"in_memory"`
}

type submitResponse struct {
	UploadID    string       `json:"upload_id"`
	ID          string       `json:"id"`
	Attachments []attachment `json:"attachments"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	for _, dir := range []string{cfg.IconDir, cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create directory", slog.String("dir", dir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	srv := &server{
		cfg:     cfg,
		storage: storage.NewOS(cfg.UploadDir),
		logger:  logger,
	}

	rtr := chi.NewRouter()
	rtr.Post("/submit", srv.submit)
	rtr.Handle("/icons/*", http.StripPrefix("/icons/", http.FileServer(http.Dir(cfg.IconDir))))

	logger.Info("listening", slog.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, rtr); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	options := append(s.cfg.Parser.Options(),
		mimepart.WithStorage(s.storage),
		mimepart.WithLogger(s.logger),
	)

	parser, err := httpform.NewParser(r, options...)
	if err != nil {
		httpform.Error(w, err)
		return
	}

	err = parser.Register("icon", func(r io.Reader, header mimepart.Header, parsed mimepart.Parts) error {
		if header.ContentType() != "image/png" {
			return errUnsupportedIcon
		}

		id, _ := parsed.Value("id")
		if id == "" || id == "." || id != filepath.Base(id) {
			return errInvalidID
		}

		return s.saveIcon(id, r)
	}, mimepart.WithRequiredPart("id"))
	if err != nil {
		http.Error(w, "failed to register hook", http.StatusInternalServerError)
		return
	}

	parts, err := parser.Parse()
	switch {
	case errors.Is(err, errUnsupportedIcon), errors.Is(err, errInvalidID):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, errUserExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Warn("failed to parse upload", slog.String("error", err.Error()))
		httpform.Error(w, err)
		return
	}
	defer parts.RemoveAll()

	id, ok := parts.Value("id")
	if !ok {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	res := submitResponse{
		UploadID:    uuid.NewString(),
		ID:          id,
		Attachments: []attachment{},
	}
	for _, f := range parts.Files("attachments") {
		res.Attachments = append(res.Attachments, attachment{
			FileName: f.FileName(),
			Size:     f.Size(),
			InMemory: f.InMemory(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *server) saveIcon(id string, r io.Reader) error {
	iconPath := filepath.Join(s.cfg.IconDir, id)

	_, err := os.Stat(iconPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to check file existence: %w", err)
	}
	if err == nil {
		return errUserExists
	}

	file, err := os.Create(iconPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(file, r)
	if err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}

	return nil
}
