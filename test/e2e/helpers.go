//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/vectis/internal/api/handlers"
	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/jobs"
	"github.com/cloo-solutions/vectis/internal/repository"
	"github.com/cloo-solutions/vectis/internal/server"
	"github.com/cloo-solutions/vectis/internal/service"
	"github.com/cloo-solutions/vectis/internal/testutil"
)

const stubEmbeddingDim = 8

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
	OrgID        string
}

// SetupE2EEnv creates a full E2E test environment with a database container,
// the HTTP server and a running index worker.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Bootstrap creates an organization with embedding credits
func (e *E2ETestEnv) Bootstrap() {
	orgRepo := repository.NewOrganizationRepository(e.Pool)
	org := &domain.Organization{
		ID:            uuid.NewString(),
		Name:          "E2E Test Org",
		CreditBalance: 100000,
		CreatedAt:     time.Now().UTC(),
	}
	if err := orgRepo.Create(e.Ctx, org); err != nil {
		e.T.Fatalf("failed to create org: %v", err)
	}
	e.OrgID = org.ID
}

// SeedDocument stores a document read model with extracted text
func (e *E2ETestEnv) SeedDocument(name string, tagIDs []string, text string) string {
	docRepo := repository.NewDocumentRepository(e.Pool)
	doc := &domain.Document{
		ID:         uuid.NewString(),
		OrgID:      e.OrgID,
		Name:       name,
		TagIDs:     tagIDs,
		UploadedAt: time.Now().UTC(),
	}
	if err := docRepo.Upsert(e.Ctx, doc, text); err != nil {
		e.T.Fatalf("failed to seed document: %v", err)
	}
	return doc.ID
}

// WaitFor polls cond until it returns true or the timeout elapses
func (e *E2ETestEnv) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Put performs a PUT request
func (e *E2ETestEnv) Put(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("PUT", path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// stubEmbeddingClient derives a deterministic vector from each text's hash,
// so identical text always embeds identically without a provider account.
type stubEmbeddingClient struct{}

func (c *stubEmbeddingClient) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		hash := sha256.Sum256([]byte(text))
		vec := make([]float32, stubEmbeddingDim)
		for j := 0; j < stubEmbeddingDim; j++ {
			vec[j] = float32(hash[j])/255.0 + 0.01
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// startServer starts the HTTP server plus the background index worker
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	kbRepo := repository.NewKnowledgeBaseRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	indexRepo := repository.NewDocumentIndexRepository(pool)
	vectorRepo := repository.NewVectorRepository(pool)
	cacheRepo := repository.NewEmbeddingCacheRepository(pool)
	lockRepo := repository.NewLockRepository(pool)
	jobRepo := repository.NewIndexJobRepository(pool)
	orgRepo := repository.NewOrganizationRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	embedder := service.NewEmbedder(&stubEmbeddingClient{}, cacheRepo, orgRepo)
	pipeline := service.NewIndexingPipeline(kbRepo, docRepo, embedder, txRunner)
	searchEngine := service.NewSearchEngineWithConfig(kbRepo, vectorRepo, embedder, service.SearchConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		MaxElapsed:      2 * time.Second,
	})
	reconciler := service.NewReconciler(kbRepo, docRepo, indexRepo, vectorRepo, pipeline, jobRepo, lockRepo)
	kbSvc := service.NewKnowledgeBaseService(kbRepo, docRepo, vectorRepo, jobRepo, "stub-model", stubEmbeddingDim)

	indexProcessor := jobs.NewIndexWorker(jobRepo, pipeline, kbRepo, docRepo, indexRepo)
	indexWorker := jobs.NewWorker(indexProcessor, 50*time.Millisecond)
	go indexWorker.Start(ctx)

	router := server.NewRouter(server.RouterConfig{
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(kbSvc),
		SearchHandler:        handlers.NewSearchHandler(searchEngine),
		ReconcileHandler:     handlers.NewReconcileHandler(reconciler),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		indexWorker.Stop()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
