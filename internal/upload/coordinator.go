// Package upload implements the chunked upload engine: session lifecycle,
// content dedup, space admission control and publication to a storage
// backend.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unishare/uploadsvc/internal/chunkstore"
	"github.com/unishare/uploadsvc/internal/fingerprint"
	"github.com/unishare/uploadsvc/internal/ledger"
	"github.com/unishare/uploadsvc/internal/lock"
	"github.com/unishare/uploadsvc/internal/storage"
)

var tracer = otel.Tracer("uploadsvc-upload")

// Config carries the coordinator's tunables, passed in explicitly at
// construction.
type Config struct {
	// DataDir is the staging root; chunks and merged files live under it.
	DataDir string

	// DefaultBackend is used when a session does not name one.
	DefaultBackend storage.Kind

	// LockWait bounds named-lock acquisition.
	LockWait time.Duration

	// SignedURLTTL is the lifetime of minted download URLs.
	SignedURLTTL time.Duration

	// SmallFileHashSize is the size below which content is fingerprinted in
	// full rather than by sampling.
	SmallFileHashSize int64
}

// Coordinator owns the upload session state machine:
// pending -> processing -> completed, with failed absorbing. Sessions are
// mutated only here.
type Coordinator struct {
	cfg      Config
	store    Store
	chunks   *chunkstore.Store
	backends map[storage.Kind]storage.Backend
	ledger   ledger.Ledger
	locks    lock.Manager
	cache    *SessionCache
}

// NewCoordinator wires the upload engine. cache may be nil.
func NewCoordinator(
	cfg Config,
	store Store,
	chunks *chunkstore.Store,
	backends map[storage.Kind]storage.Backend,
	led ledger.Ledger,
	locks lock.Manager,
	cache *SessionCache,
) *Coordinator {
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = storage.KindLocal
	}
	if cfg.SmallFileHashSize == 0 {
		cfg.SmallFileHashSize = fingerprint.SmallFileThreshold
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		chunks:   chunks,
		backends: backends,
		ledger:   led,
		locks:    locks,
		cache:    cache,
	}
}

// InitRequest describes a new upload session.
type InitRequest struct {
	UserID      string
	FileName    string
	FileSize    int64
	ChunksTotal int
	Backend     storage.Kind // empty means the configured default
	Owner       *OwnerRef

	// Content optionally carries the full content for the single-shot path,
	// enabling the up-front dedup check.
	Content io.ReadSeeker

	// Fingerprint optionally carries a client-computed digest when the
	// content itself is not available at initialization.
	Fingerprint string
}

// InitResult is the outcome of Initialize.
type InitResult struct {
	Session     *Session `json:"session"`
	IsDuplicate bool     `json:"is_duplicate"`
}

// Initialize creates a pending session, short-circuiting to an existing
// completed session when the content fingerprint is already known and
// matches one. The space reservation is best-effort: a denial is surfaced,
// but infrastructure failures are logged and the upload proceeds uncounted.
func (c *Coordinator) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	ctx, span := tracer.Start(ctx, "upload.initialize",
		trace.WithAttributes(
			attribute.String("file_name", req.FileName),
			attribute.Int64("file_size", req.FileSize),
			attribute.Int("chunks_total", req.ChunksTotal),
		),
	)
	defer span.End()

	if req.FileName == "" {
		return nil, &ValidationError{Field: "file_name", Message: "must not be empty"}
	}
	if req.ChunksTotal < 1 {
		return nil, &ValidationError{Field: "chunks_total", Message: "must be at least 1"}
	}

	backend := req.Backend
	if backend == "" {
		backend = c.cfg.DefaultBackend
	}
	span.SetAttributes(attribute.String("backend", string(backend)))

	fp := req.Fingerprint
	if fp == "" && req.Content != nil {
		var err error
		fp, err = fingerprint.SumWithThreshold(req.Content, req.FileSize, c.cfg.SmallFileHashSize)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to fingerprint content: %w", err)
		}
	}

	if fp != "" {
		existing, err := c.store.FindCompletedByFingerprint(ctx, fp)
		if err == nil {
			span.SetAttributes(attribute.Bool("is_duplicate", true))
			log.Printf("Upload of %s deduplicated against session %s", req.FileName, existing.Token)
			return &InitResult{Session: existing, IsDuplicate: true}, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			log.Printf("Warning: dedup lookup failed, proceeding without: %v", err)
		}
	}

	token := uuid.New().String()
	span.SetAttributes(attribute.String("session_token", token))

	if req.FileSize > 0 {
		if err := c.reserveSpace(ctx, backend, token, req.FileSize); err != nil {
			if errors.Is(err, ErrInsufficientSpace) {
				span.RecordError(err)
				return nil, err
			}
			// Capacity accounting is advisory; never block an upload on it.
			log.Printf("Warning: space check for %s skipped: %v", backend, err)
		}
	}

	now := time.Now()
	session := &Session{
		Token:            token,
		UserID:           req.UserID,
		OriginalFilename: req.FileName,
		StoredFilename:   storedFilename(req.FileName),
		MimeType:         mimeTypeFor(req.FileName),
		FileSize:         req.FileSize,
		Fingerprint:      fp,
		Backend:          backend,
		Status:           StatusPending,
		ChunksTotal:      req.ChunksTotal,
		Owner:            req.Owner,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.store.Create(ctx, session); err != nil {
		span.RecordError(err)
		if rerr := c.ledger.Release(ctx, token); rerr != nil {
			log.Printf("Warning: failed to release reservation for %s: %v", token, rerr)
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &InitResult{Session: session, IsDuplicate: false}, nil
}

// SubmitChunk stages one chunk and advances the state machine; receiving the
// last outstanding chunk triggers merge and publication inside the same call.
func (c *Coordinator) SubmitChunk(ctx context.Context, token string, index int, chunk io.Reader) (*Session, error) {
	ctx, span := tracer.Start(ctx, "upload.submit_chunk",
		trace.WithAttributes(
			attribute.String("session_token", token),
			attribute.Int("chunk_index", index),
		),
	)
	defer span.End()

	session, err := c.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if session.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, session.Status)
	}
	if index < 0 || index >= session.ChunksTotal {
		return nil, &ValidationError{
			Field:   "chunk_index",
			Message: fmt.Sprintf("%d out of range [0, %d)", index, session.ChunksTotal),
		}
	}

	written, err := c.chunks.WriteChunk(session.UserID, token, index, chunk)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stage chunk %d: %w", index, err)
	}

	if written {
		// The counter advances in the store, never on this snapshot, so
		// parallel submissions cannot lose increments.
		received, err := c.store.IncrementChunksReceived(ctx, session.Token)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to count chunk %d: %w", index, err)
		}
		session.ChunksReceived = received
		session.UpdatedAt = time.Now()
		c.invalidateCache(ctx, session.Token)
	} else {
		log.Printf("Chunk %d for session %s already staged, skipping", index, token)
	}

	span.SetAttributes(attribute.Int("chunks_received", session.ChunksReceived))

	if session.ChunksReceived >= session.ChunksTotal {
		return c.finalize(ctx, session)
	}
	return session, nil
}

// finalize runs the merge/publish pipeline:
// merge chunks -> fingerprint -> backend put -> record location. Permanent
// failures absorb into failed with full cleanup; a lock timeout returns the
// session to pending so the caller can retry by resubmitting the last chunk.
func (c *Coordinator) finalize(ctx context.Context, session *Session) (*Session, error) {
	ctx, span := tracer.Start(ctx, "upload.finalize",
		trace.WithAttributes(
			attribute.String("session_token", session.Token),
			attribute.String("backend", string(session.Backend)),
		),
	)
	defer span.End()

	session.Status = StatusProcessing
	if err := c.persist(ctx, session); err != nil {
		span.RecordError(err)
		return nil, err
	}

	staged := c.stagingPath(session)
	merged, err := c.chunks.MergeAll(session.UserID, session.Token, session.ChunksTotal, staged)
	if err != nil {
		span.RecordError(err)
		c.fail(ctx, session, err)
		return nil, err
	}
	session.FileSize = merged

	if session.Fingerprint == "" {
		if fp, err := c.fingerprintFile(staged, merged); err != nil {
			log.Printf("Warning: failed to fingerprint merged file for %s: %v", session.Token, err)
		} else {
			session.Fingerprint = fp
		}
	}

	backend, ok := c.backends[session.Backend]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrBackendNotConfigured, session.Backend)
		span.RecordError(err)
		c.fail(ctx, session, err)
		return nil, err
	}

	loc, err := c.publish(ctx, backend, session, staged)
	if err != nil {
		if IsRetryable(err) {
			// Chunks and the reservation stay intact; resubmitting the
			// completing chunk re-triggers publication.
			span.RecordError(err)
			session.Status = StatusPending
			if perr := c.persist(ctx, session); perr != nil {
				log.Printf("Warning: failed to return session %s to pending: %v", session.Token, perr)
			}
			return nil, err
		}
		span.RecordError(err)
		c.fail(ctx, session, err)
		return nil, err
	}

	session.setLocation(loc)
	session.Status = StatusCompleted
	if err := c.persist(ctx, session); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := c.ledger.Release(ctx, session.Token); err != nil {
		log.Printf("Warning: failed to release reservation for %s: %v", session.Token, err)
	}
	c.chunks.Cleanup(session.UserID, session.Token)

	// The merged staging copy is redundant once the bytes live remotely.
	if session.Backend != storage.KindLocal {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: failed to remove staging file for %s: %v", session.Token, err)
		}
	}

	span.SetAttributes(attribute.Bool("completed", true))
	log.Printf("Upload session %s completed on %s", session.Token, session.Backend)
	return session, nil
}

// publish dispatches the merged file to the backend. Remote media are
// serialized per session under a named lock; local disk needs none.
func (c *Coordinator) publish(ctx context.Context, backend storage.Backend, session *Session, staged string) (*storage.Location, error) {
	if session.Backend == storage.KindLocal {
		return backend.Put(ctx, staged, session.StoredFilename, session.MimeType)
	}

	handle, err := c.locks.Acquire(ctx, uploadLockName(session.Backend, session.Token), c.cfg.LockWait)
	if err != nil {
		return nil, &BackendUnavailableError{Backend: session.Backend, Err: err}
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			log.Printf("Warning: failed to release upload lock for %s: %v", session.Token, err)
		}
	}()

	return backend.Put(ctx, staged, session.StoredFilename, session.MimeType)
}

// fail absorbs the session into the failed state and runs every cleanup
// path; cleanup problems are logged and never mask the original error.
func (c *Coordinator) fail(ctx context.Context, session *Session, cause error) {
	session.Status = StatusFailed
	session.ErrorMessage = cause.Error()
	if err := c.persist(ctx, session); err != nil {
		log.Printf("Warning: failed to record failure for %s: %v", session.Token, err)
	}

	c.chunks.Cleanup(session.UserID, session.Token)

	if err := os.Remove(c.stagingPath(session)); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove staging file for %s: %v", session.Token, err)
	}

	if err := c.ledger.Release(ctx, session.Token); err != nil {
		log.Printf("Warning: failed to release reservation for %s: %v", session.Token, err)
	}
}

// Status returns a read-only session snapshot, served from cache when fresh.
func (c *Coordinator) Status(ctx context.Context, token string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "upload.status",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, token); err != nil {
			log.Printf("Warning: session cache read failed: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	session, err := c.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, session); err != nil {
			log.Printf("Warning: session cache write failed: %v", err)
		}
	}
	return session, nil
}

// ResumeResult reports what a client must resubmit to finish an interrupted
// session.
type ResumeResult struct {
	Session        *Session `json:"session"`
	ReceivedChunks []int    `json:"received_chunks"`
	CanResume      bool     `json:"can_resume"`
}

// Resume re-derives chunks_received from the chunks actually on disk,
// defending against a crash between a chunk write and the counter update.
func (c *Coordinator) Resume(ctx context.Context, token string) (*ResumeResult, error) {
	ctx, span := tracer.Start(ctx, "upload.resume",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	session, err := c.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if session.Status != StatusPending {
		return &ResumeResult{Session: session, CanResume: false}, nil
	}

	indices, err := c.chunks.ReceivedIndices(session.UserID, token)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to enumerate staged chunks: %w", err)
	}

	session.ChunksReceived = len(indices)
	if err := c.persist(ctx, session); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("chunks_received", len(indices)))
	return &ResumeResult{
		Session:        session,
		ReceivedChunks: indices,
		CanResume:      true,
	}, nil
}

// Cancel destroys a session and everything staged for it: the published
// object if one exists, staged chunks, the space reservation and the record
// itself. Cleanup problems are logged, not surfaced; no orphan may survive.
func (c *Coordinator) Cancel(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "upload.cancel",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	session, err := c.store.Get(ctx, token)
	if err != nil {
		return err
	}

	if loc := session.Location(); loc != nil {
		if backend, ok := c.backends[session.Backend]; ok {
			if err := backend.Delete(ctx, loc); err != nil {
				log.Printf("Warning: failed to delete published object for %s: %v", token, err)
			}
		}
	}

	c.chunks.Cleanup(session.UserID, token)

	if err := os.Remove(c.stagingPath(session)); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove staging file for %s: %v", token, err)
	}

	if err := c.ledger.Release(ctx, token); err != nil {
		log.Printf("Warning: failed to release reservation for %s: %v", token, err)
	}

	if err := c.store.Delete(ctx, token); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	c.invalidateCache(ctx, token)

	log.Printf("Upload session %s cancelled", token)
	return nil
}

// Content retrieves the full published content of a completed session.
func (c *Coordinator) Content(ctx context.Context, token string) (*Session, io.ReadCloser, error) {
	session, err := c.store.Get(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsComplete() {
		return nil, nil, fmt.Errorf("session %s is not completed (status %s)", token, session.Status)
	}

	backend, ok := c.backends[session.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrBackendNotConfigured, session.Backend)
	}

	rc, err := backend.Get(ctx, session.Location())
	if err != nil {
		return nil, nil, err
	}
	return session, rc, nil
}

// FileURL returns a directly accessible URL for a completed session, or ""
// when the backend cannot serve bytes itself and the caller must proxy.
func (c *Coordinator) FileURL(ctx context.Context, session *Session) (string, error) {
	if !session.IsComplete() {
		return "", nil
	}
	if session.ExternalURL != "" {
		return session.ExternalURL, nil
	}

	backend, ok := c.backends[session.Backend]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBackendNotConfigured, session.Backend)
	}

	url, err := backend.SignedURL(ctx, session.Location(), c.cfg.SignedURLTTL)
	if errors.Is(err, storage.ErrNoSignedURL) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

// reserveSpace runs the availableSpace-then-reserve sequence under the
// backend's space-check lock so two sessions cannot both observe stale
// headroom.
func (c *Coordinator) reserveSpace(ctx context.Context, kind storage.Kind, token string, size int64) error {
	backend, ok := c.backends[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotConfigured, kind)
	}

	handle, err := c.locks.Acquire(ctx, spaceLockName(kind), c.cfg.LockWait)
	if err != nil {
		return &BackendUnavailableError{Backend: kind, Err: err}
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			log.Printf("Warning: failed to release space-check lock for %s: %v", kind, err)
		}
	}()

	available, err := backend.AvailableSpace(ctx)
	if err != nil {
		return &BackendUnavailableError{Backend: kind, Err: err}
	}

	if err := c.ledger.Reserve(ctx, kind, token, size, available); err != nil {
		if errors.Is(err, ledger.ErrDenied) {
			return fmt.Errorf("%w on %s: %d bytes requested", ErrInsufficientSpace, kind, size)
		}
		return err
	}
	return nil
}

// persist updates the durable record and drops any cached snapshot.
func (c *Coordinator) persist(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	c.invalidateCache(ctx, session.Token)
	return nil
}

func (c *Coordinator) invalidateCache(ctx context.Context, token string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, token); err != nil {
		log.Printf("Warning: failed to invalidate cached session %s: %v", token, err)
	}
}

func (c *Coordinator) stagingPath(session *Session) string {
	return filepath.Join(c.cfg.DataDir, "uploads", session.UserID, session.StoredFilename)
}

func (c *Coordinator) fingerprintFile(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return fingerprint.SumWithThreshold(f, size, c.cfg.SmallFileHashSize)
}

func spaceLockName(kind storage.Kind) string {
	return fmt.Sprintf("file_upload_lock:storage_space_check_%s", kind)
}

func uploadLockName(kind storage.Kind, token string) string {
	return fmt.Sprintf("file_upload_lock:%s_upload_%s", kind, token)
}

func storedFilename(original string) string {
	ext := filepath.Ext(original)
	return uuid.New().String() + ext
}

func mimeTypeFor(fileName string) string {
	if t := mime.TypeByExtension(filepath.Ext(fileName)); t != "" {
		return t
	}
	return "application/octet-stream"
}
