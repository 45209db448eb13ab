package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/inventory"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockInventoryService struct {
	importedRaw  []string
	importResult inventory.ImportResult
	importErr    error

	listCodes  []*models.Code
	listTotal  int64
	listErr    error
	listFilter db.CodeFilter

	overrideCode *models.Code
	overrideErr  error
}

func (m *mockInventoryService) Import(_ context.Context, productID, variant string, rawCodes []string) (inventory.ImportResult, error) {
	m.importedRaw = rawCodes
	return m.importResult, m.importErr
}

func (m *mockInventoryService) List(_ context.Context, filter db.CodeFilter, page, limit int) ([]*models.Code, int64, error) {
	m.listFilter = filter
	return m.listCodes, m.listTotal, m.listErr
}

func (m *mockInventoryService) Override(_ context.Context, id uuid.UUID, status *models.CodeStatus, linkedOrderID *string) (*models.Code, error) {
	if m.overrideErr != nil {
		return nil, m.overrideErr
	}
	return m.overrideCode, nil
}

type recordedAudit struct {
	actions   []models.AuditAction
	summaries []string
	actors    []string
}

func (r *recordedAudit) Record(_ context.Context, action models.AuditAction, summary, actor string) {
	r.actions = append(r.actions, action)
	r.summaries = append(r.summaries, summary)
	r.actors = append(r.actors, actor)
}

func codesRouter(svc InventoryService, audit AuditRecorder) *gin.Engine {
	router := gin.New()
	group := router.Group("/api/v1")
	NewCodesHandler(svc, audit, zerolog.Nop()).RegisterRoutes(group)
	return router
}

func TestCodesHandler_Import_ArrayBody(t *testing.T) {
	svc := &mockInventoryService{importResult: inventory.ImportResult{Created: 2}}
	audit := &recordedAudit{}
	router := codesRouter(svc, audit)

	body := `{"product_id":"game-1","variant":"100 Diamonds","codes":["ABCDE12345","FGHJK67890"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/codes/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"created":2,"skipped":0,"invalid":0}`, w.Body.String())
	assert.Equal(t, []string{"ABCDE12345", "FGHJK67890"}, svc.importedRaw)

	require.Len(t, audit.actions, 1)
	assert.Equal(t, models.AuditActionImportCodes, audit.actions[0])
	assert.Equal(t, "admin-api", audit.actors[0])
}

func TestCodesHandler_Import_NewlineBlockBody(t *testing.T) {
	svc := &mockInventoryService{importResult: inventory.ImportResult{Created: 3}}
	router := codesRouter(svc, &recordedAudit{})

	body := `{"product_id":"game-1","variant":"100 Diamonds","codes":"ABCDE12345\nFGHJK67890\n\nLMNOP13579"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/codes/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ABCDE12345", "FGHJK67890", "LMNOP13579"}, svc.importedRaw)
}

func TestCodesHandler_Import_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing product", `{"variant":"v","codes":["ABCDE12345"]}`},
		{"missing variant", `{"product_id":"p","codes":["ABCDE12345"]}`},
		{"missing codes", `{"product_id":"p","variant":"v"}`},
		{"codes wrong type", `{"product_id":"p","variant":"v","codes":42}`},
		{"empty codes array", `{"product_id":"p","variant":"v","codes":[]}`},
		{"empty codes block", `{"product_id":"p","variant":"v","codes":"\n\n"}`},
		{"not json", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := codesRouter(&mockInventoryService{}, &recordedAudit{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/codes/import", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCodesHandler_Import_ActorHeader(t *testing.T) {
	audit := &recordedAudit{}
	router := codesRouter(&mockInventoryService{}, audit)

	body := `{"product_id":"game-1","variant":"v","codes":["ABCDE12345"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/codes/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "ops@example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Len(t, audit.actors, 1)
	assert.Equal(t, "ops@example.com", audit.actors[0])
}

func TestCodesHandler_List(t *testing.T) {
	code := models.NewCode("game-1", "100 Diamonds", "v1:abc.def.ghi", "****2345")
	svc := &mockInventoryService{listCodes: []*models.Code{code}, listTotal: 1}
	router := codesRouter(svc, &recordedAudit{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/codes?product_id=game-1&status=unused&page=2&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "game-1", svc.listFilter.ProductID)
	assert.Equal(t, "unused", svc.listFilter.Status)

	// Envelopes must never appear in list responses.
	assert.NotContains(t, w.Body.String(), "v1:abc.def.ghi")
	assert.Contains(t, w.Body.String(), "****2345")
	assert.Contains(t, w.Body.String(), `"total_count":1`)
}

func TestCodesHandler_List_InvalidStatus(t *testing.T) {
	router := codesRouter(&mockInventoryService{}, &recordedAudit{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/codes?status=burned", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCodesHandler_Override(t *testing.T) {
	code := models.NewCode("game-1", "100 Diamonds", "v1:abc.def.ghi", "****2345")
	code.Status = models.CodeStatusUsed
	svc := &mockInventoryService{overrideCode: code}
	audit := &recordedAudit{}
	router := codesRouter(svc, audit)

	body := `{"status":"used","linked_order_id":"ord-1"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/codes/"+code.ID.String(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"used"`)
	require.Len(t, audit.actions, 1)
	assert.Equal(t, models.AuditActionOverrideCode, audit.actions[0])
}

func TestCodesHandler_Override_Errors(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		router := codesRouter(&mockInventoryService{}, &recordedAudit{})
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/codes/not-a-uuid", strings.NewReader(`{"status":"unused"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		router := codesRouter(&mockInventoryService{}, &recordedAudit{})
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/codes/"+uuid.NewString(), strings.NewReader(`{"status":"burned"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty patch", func(t *testing.T) {
		router := codesRouter(&mockInventoryService{}, &recordedAudit{})
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/codes/"+uuid.NewString(), strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &mockInventoryService{overrideErr: db.ErrCodeNotFound}
		router := codesRouter(svc, &recordedAudit{})
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/codes/"+uuid.NewString(), strings.NewReader(`{"status":"unused"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
