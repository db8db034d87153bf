package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unishare/uploadsvc/internal/upload"
)

// DownloadHandler serves the content of completed upload sessions.
type DownloadHandler struct {
	coordinator *upload.Coordinator
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(coordinator *upload.Coordinator) *DownloadHandler {
	return &DownloadHandler{coordinator: coordinator}
}

// Content handles GET /uploads/{upload_id}/content by proxying the stored
// bytes through the service.
func (dh *DownloadHandler) Content(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "download_content",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	token := mux.Vars(r)["upload_id"]
	span.SetAttributes(attribute.String("session_token", token))

	session, rc, err := dh.coordinator.Content(ctx, token)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	defer rc.Close()

	span.SetAttributes(
		attribute.String("file_name", session.OriginalFilename),
		attribute.Int64("file_size", session.FileSize),
	)

	w.Header().Set("Content-Type", session.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+session.OriginalFilename+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("Warning: streaming %s aborted: %v", token, err)
	}
}

// URLResponse is the body of GET /uploads/{upload_id}/url.
type URLResponse struct {
	Token string `json:"token"`
	URL   string `json:"url,omitempty"`

	// Proxy is set when the backend cannot serve bytes directly and the
	// client should fetch /uploads/{upload_id}/content instead.
	Proxy bool `json:"proxy"`
}

// FileURL handles GET /uploads/{upload_id}/url
func (dh *DownloadHandler) FileURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "file_url",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	token := mux.Vars(r)["upload_id"]
	span.SetAttributes(attribute.String("session_token", token))

	session, err := dh.coordinator.Status(ctx, token)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	url, err := dh.coordinator.FileURL(ctx, session)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(URLResponse{
		Token: session.Token,
		URL:   url,
		Proxy: url == "",
	}); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}
