package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
)

// memoryService keeps jobs in a map and applies the lifecycle rules
type memoryService struct {
	jobs       map[string]*domain.Extraction
	startToken string
}

func newMemoryService() *memoryService {
	return &memoryService{jobs: map[string]*domain.Extraction{}}
}

func (s *memoryService) add(id string, status domain.ExtractionStatus) *domain.Extraction {
	job := &domain.Extraction{
		ID:         id,
		Repository: domain.RepositoryIdentifier{Owner: "acme", Name: "widgets"},
		Status:     status,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.jobs[id] = job
	return job
}

func (s *memoryService) List(context.Context) ([]*domain.Extraction, error) {
	var out []*domain.Extraction
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *memoryService) Get(_ context.Context, id string) (*domain.Extraction, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("extraction " + id)
	}
	return job, nil
}

func (s *memoryService) Create(_ context.Context, owner, name string) (*domain.Extraction, error) {
	repo, err := domain.NewRepositoryIdentifier(owner, name)
	if err != nil {
		return nil, err
	}
	job := s.add("new-job", domain.StatusPending)
	job.Repository = repo
	return job, nil
}

func (s *memoryService) Start(ctx context.Context, id, token string) (*domain.Extraction, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.StatusRunning || job.Status == domain.StatusCompleted {
		return nil, apperrors.NewConflictError("extraction " + id + " cannot be started")
	}
	s.startToken = token
	return job, nil
}

func (s *memoryService) Pause(ctx context.Context, id string) (*domain.Extraction, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusRunning {
		return nil, apperrors.NewConflictError("only running extractions can be paused")
	}
	job.Status = domain.StatusPaused
	return job, nil
}

func setupRouter(t *testing.T, svc Service, defaultToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return SetupRoutes(NewHandler(svc, defaultToken), zaptest.NewLogger(t))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthCheck(t *testing.T) {
	router := setupRouter(t, newMemoryService(), "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListExtractions(t *testing.T) {
	svc := newMemoryService()
	svc.add("job-1", domain.StatusPending)
	router := setupRouter(t, svc, "")

	w, env := do(t, router, http.MethodGet, "/api/extractions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var jobs []domain.Extraction
	require.NoError(t, json.Unmarshal(env.Data, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, "acme", jobs[0].Repository.Owner)
}

func TestListExtractions_EmptyIsArray(t *testing.T) {
	router := setupRouter(t, newMemoryService(), "")

	_, env := do(t, router, http.MethodGet, "/api/extractions", nil)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestGetExtraction(t *testing.T) {
	svc := newMemoryService()
	svc.add("job-1", domain.StatusRunning)
	router := setupRouter(t, svc, "")

	w, env := do(t, router, http.MethodGet, "/api/extractions/job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var job domain.Extraction
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, domain.StatusRunning, job.Status)

	w, env = do(t, router, http.MethodGet, "/api/extractions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.Equal(t, "extraction missing not found", env.Error)
}

func TestCreateExtraction(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid",
			body:       CreateRequest{Owner: "acme", RepoName: "widgets"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing repo name",
			body:       CreateRequest{Owner: "acme"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION",
		},
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(t, newMemoryService(), "")

			w, env := do(t, router, http.MethodPost, "/api/extractions", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, env.Code)
			if tt.wantStatus == http.StatusCreated {
				assert.True(t, env.Success)
				assert.Contains(t, env.Message, "/api/extractions/new-job/start")
			}
		})
	}
}

func TestStartExtraction(t *testing.T) {
	svc := newMemoryService()
	svc.add("pending", domain.StatusPending)
	svc.add("completed", domain.StatusCompleted)

	t.Run("token from body", func(t *testing.T) {
		router := setupRouter(t, svc, "env-token")
		w, env := do(t, router, http.MethodPost, "/api/extractions/pending/start", StartRequest{Token: "body-token"})
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, "body-token", svc.startToken)
	})

	t.Run("token from environment", func(t *testing.T) {
		router := setupRouter(t, svc, "env-token")
		w, _ := do(t, router, http.MethodPost, "/api/extractions/pending/start", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "env-token", svc.startToken)
	})

	t.Run("no token anywhere", func(t *testing.T) {
		router := setupRouter(t, svc, "")
		w, env := do(t, router, http.MethodPost, "/api/extractions/pending/start", StartRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION", env.Code)
	})

	t.Run("completed job", func(t *testing.T) {
		router := setupRouter(t, svc, "env-token")
		w, env := do(t, router, http.MethodPost, "/api/extractions/completed/start", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "CONFLICT", env.Code)
	})
}

func TestPauseExtraction(t *testing.T) {
	svc := newMemoryService()
	svc.add("running", domain.StatusRunning)
	svc.add("pending", domain.StatusPending)
	router := setupRouter(t, svc, "")

	w, env := do(t, router, http.MethodPost, "/api/extractions/running/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, domain.StatusPaused, svc.jobs["running"].Status)

	w, env = do(t, router, http.MethodPost, "/api/extractions/pending/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)

	w, _ = do(t, router, http.MethodPost, "/api/extractions/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := setupRouter(t, newMemoryService(), "")

	req := httptest.NewRequest(http.MethodOptions, "/api/extractions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
