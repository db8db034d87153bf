package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unishare/uploadsvc/internal/chunkstore"
	"github.com/unishare/uploadsvc/internal/ledger"
	"github.com/unishare/uploadsvc/internal/lock"
	"github.com/unishare/uploadsvc/internal/storage"
	"github.com/unishare/uploadsvc/internal/upload"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	dataDir := t.TempDir()
	local, err := storage.NewLocalBackend(filepath.Join(dataDir, "uploads"))
	require.NoError(t, err)

	coordinator := upload.NewCoordinator(
		upload.Config{
			DataDir:        dataDir,
			DefaultBackend: storage.KindLocal,
			LockWait:       100 * time.Millisecond,
			SignedURLTTL:   time.Hour,
		},
		upload.NewMemoryStore(),
		chunkstore.New(dataDir),
		map[storage.Kind]storage.Backend{storage.KindLocal: local},
		ledger.NewMemoryLedger(time.Hour),
		lock.NewLocalManager(),
		nil,
	)

	uploadHandler := NewUploadHandler(coordinator)
	downloadHandler := NewDownloadHandler(coordinator)

	router := mux.NewRouter()
	router.HandleFunc("/uploads", uploadHandler.Initialize).Methods(http.MethodPost)
	router.HandleFunc("/uploads/{upload_id}/chunks/{index}", uploadHandler.SubmitChunk).Methods(http.MethodPut)
	router.HandleFunc("/uploads/{upload_id}", uploadHandler.Status).Methods(http.MethodGet)
	router.HandleFunc("/uploads/{upload_id}/resume", uploadHandler.Resume).Methods(http.MethodPost)
	router.HandleFunc("/uploads/{upload_id}", uploadHandler.Cancel).Methods(http.MethodDelete)
	router.HandleFunc("/uploads/{upload_id}/content", downloadHandler.Content).Methods(http.MethodGet)
	router.HandleFunc("/uploads/{upload_id}/url", downloadHandler.FileURL).Methods(http.MethodGet)
	return router
}

func initSession(t *testing.T, router *mux.Router, body InitializeRequest) *upload.Session {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/uploads", bytes.NewReader(payload))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result upload.InitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Session.Token)
	return result.Session
}

func submitChunk(t *testing.T, router *mux.Router, token string, index int, data string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut,
		fmt.Sprintf("/uploads/%s/chunks/%d", token, index),
		strings.NewReader(data))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	session := initSession(t, router, InitializeRequest{
		FileName:    "lecture.txt",
		FileSize:    9,
		ChunksTotal: 3,
		OwnerType:   "document",
		OwnerID:     42,
	})
	assert.Equal(t, upload.StatusPending, session.Status)

	for i, data := range []string{"aaa", "bbb", "ccc"} {
		rec := submitChunk(t, router, session.Token, i, data)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	// Status reports completion.
	req := httptest.NewRequest(http.MethodGet, "/uploads/"+session.Token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got upload.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, upload.StatusCompleted, got.Status)
	assert.Equal(t, int64(9), got.FileSize)

	// Content proxies the merged bytes with the original name.
	req = httptest.NewRequest(http.MethodGet, "/uploads/"+session.Token+"/content", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aaabbbccc", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "lecture.txt")

	// Local storage has no direct URL.
	req = httptest.NewRequest(http.MethodGet, "/uploads/"+session.Token+"/url", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var urlResp URLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &urlResp))
	assert.True(t, urlResp.Proxy)
	assert.Empty(t, urlResp.URL)

	// Cancel removes the session entirely.
	req = httptest.NewRequest(http.MethodDelete, "/uploads/"+session.Token, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/uploads/"+session.Token, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	session := initSession(t, router, InitializeRequest{
		FileName:    "big.bin",
		FileSize:    9,
		ChunksTotal: 3,
	})

	require.Equal(t, http.StatusOK, submitChunk(t, router, session.Token, 0, "aaa").Code)
	require.Equal(t, http.StatusOK, submitChunk(t, router, session.Token, 2, "ccc").Code)

	req := httptest.NewRequest(http.MethodPost, "/uploads/"+session.Token+"/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result upload.ResumeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.CanResume)
	assert.Equal(t, []int{0, 2}, result.ReceivedChunks)
}

func TestInitializeRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	// Missing user header.
	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader(`{"file_name":"a","chunks_total":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown storage backend.
	req = httptest.NewRequest(http.MethodPost, "/uploads",
		strings.NewReader(`{"file_name":"a","chunks_total":1,"storage_type":"floppy"}`))
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Unknown owner type.
	req = httptest.NewRequest(http.MethodPost, "/uploads",
		strings.NewReader(`{"file_name":"a","chunks_total":1,"owner_type":"banana"}`))
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Zero chunks.
	req = httptest.NewRequest(http.MethodPost, "/uploads",
		strings.NewReader(`{"file_name":"a","chunks_total":0}`))
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChunkErrorsOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	session := initSession(t, router, InitializeRequest{
		FileName:    "f.txt",
		FileSize:    6,
		ChunksTotal: 2,
	})

	// Unknown session.
	rec := submitChunk(t, router, "no-such-token", 0, "xx")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Index out of range.
	rec = submitChunk(t, router, session.Token, 5, "xx")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Non-integer index.
	req := httptest.NewRequest(http.MethodPut, "/uploads/"+session.Token+"/chunks/abc", strings.NewReader("xx"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Submitting to a completed session conflicts.
	require.Equal(t, http.StatusOK, submitChunk(t, router, session.Token, 0, "aa").Code)
	require.Equal(t, http.StatusOK, submitChunk(t, router, session.Token, 1, "bb").Code)
	rec = submitChunk(t, router, session.Token, 0, "aa")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
