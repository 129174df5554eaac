package avatar

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ServiceConfig struct {
	MaxUploadBytes int64
	RatePerMinute  float64 // 进程级限流
	Burst          int
	Dir            string // 静态服务目录
	PublicPrefix   string
}

// Service POST /api/create-avatar
type Service struct {
	gen     Generator
	cfg     ServiceConfig
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func NewService(gen Generator, cfg ServiceConfig, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Duration(float64(time.Minute) / cfg.RatePerMinute))
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Service{gen: gen, cfg: cfg, limiter: rate.NewLimiter(limit, burst), log: log}
}

// Register 挂载创建接口与上传文件的静态访问
func (s *Service) Register(r *mux.Router) {
	r.HandleFunc("/api/create-avatar", s.HandleCreate).Methods(http.MethodPost)
	if s.cfg.Dir != "" && s.cfg.PublicPrefix != "" {
		prefix := strings.TrimRight(s.cfg.PublicPrefix, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(s.cfg.Dir))))
	}
}

type createResponse struct {
	Success bool `json:"success"`
	Result
}

func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, "too many avatar requests, try again later")
		return
	}

	// multipart 头部留出余量
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := Request{Description: strings.TrimSpace(r.FormValue("description"))}
	file, _, err := r.FormFile("avatar")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		req.Photo = data
	case errors.Is(err, http.ErrMissingFile):
	default:
		respondError(w, http.StatusBadRequest, "invalid avatar upload")
		return
	}

	if req.Empty() {
		respondError(w, http.StatusBadRequest, ErrNoInput.Error())
		return
	}
	s.log.Infof("create avatar: photo=%dB description=%q", len(req.Photo), req.Description)

	res, err := s.gen.Generate(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrUnsupportedImage) || errors.Is(err, ErrNoInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Errorf("avatar creation error: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, createResponse{Success: true, Result: res})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
