package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unishare/uploadsvc/internal/chunkstore"
	"github.com/unishare/uploadsvc/internal/storage"
	"github.com/unishare/uploadsvc/internal/upload"
)

var tracer = otel.Tracer("uploadsvc-handlers")

// UploadHandler exposes the upload session lifecycle over HTTP.
type UploadHandler struct {
	coordinator *upload.Coordinator
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(coordinator *upload.Coordinator) *UploadHandler {
	return &UploadHandler{coordinator: coordinator}
}

// InitializeRequest is the body of POST /uploads.
type InitializeRequest struct {
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ChunksTotal int    `json:"chunks_total"`
	StorageType string `json:"storage_type,omitempty"`
	OwnerType   string `json:"owner_type,omitempty"`
	OwnerID     int64  `json:"owner_id,omitempty"`

	// FileHash optionally carries a client-computed content digest so the
	// dedup check can run before any bytes are transferred.
	FileHash string `json:"file_hash,omitempty"`
}

// Initialize handles POST /uploads
func (uh *UploadHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "initialize_upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	var body InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.String("file_name", body.FileName),
		attribute.Int64("file_size", body.FileSize),
		attribute.Int("chunks_total", body.ChunksTotal),
	)

	req := upload.InitRequest{
		UserID:      userID,
		FileName:    body.FileName,
		FileSize:    body.FileSize,
		ChunksTotal: body.ChunksTotal,
		Fingerprint: body.FileHash,
	}

	if body.StorageType != "" {
		kind, err := storage.ParseKind(body.StorageType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		req.Backend = kind
	}

	if body.OwnerType != "" {
		kind, err := upload.ParseOwnerKind(body.OwnerType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		req.Owner = &upload.OwnerRef{Kind: kind, ID: body.OwnerID}
	}

	result, err := uh.coordinator.Initialize(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("Upload session %s initialized for user %s", result.Session.Token, userID)
	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// SubmitChunk handles PUT /uploads/{upload_id}/chunks/{index} with the raw
// chunk bytes as the request body.
func (uh *UploadHandler) SubmitChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "submit_chunk",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	vars := mux.Vars(r)
	token := vars["upload_id"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		http.Error(w, "chunk index must be an integer", http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.String("session_token", token),
		attribute.Int("chunk_index", index),
	)

	session, err := uh.coordinator.SubmitChunk(ctx, token, index, r.Body)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// Status handles GET /uploads/{upload_id}
func (uh *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "upload_status",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	token := mux.Vars(r)["upload_id"]
	span.SetAttributes(attribute.String("session_token", token))

	session, err := uh.coordinator.Status(ctx, token)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

// Resume handles POST /uploads/{upload_id}/resume
func (uh *UploadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "resume_upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	token := mux.Vars(r)["upload_id"]
	span.SetAttributes(attribute.String("session_token", token))

	result, err := uh.coordinator.Resume(ctx, token)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Cancel handles DELETE /uploads/{upload_id}
func (uh *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "cancel_upload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	token := mux.Vars(r)["upload_id"]
	span.SetAttributes(attribute.String("session_token", token))

	if err := uh.coordinator.Cancel(ctx, token); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

// writeError maps engine errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		verr        *upload.ValidationError
		unavailable *upload.BackendUnavailableError
		missing     *chunkstore.MissingChunkError
	)

	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, upload.ErrInsufficientSpace):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	case errors.As(err, &unavailable):
		w.Header().Set("Retry-After", "5")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, upload.ErrSessionClosed), errors.As(err, &missing):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &verr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, upload.ErrBackendNotConfigured):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
