package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/sgdl/internal/downloader"
	"github.com/italolelis/sgdl/internal/logctx"
	"github.com/italolelis/sgdl/internal/media"
	"github.com/italolelis/sgdl/internal/progress"
	"github.com/italolelis/sgdl/internal/storage"
	"github.com/italolelis/sgdl/internal/telemetry"
	"github.com/italolelis/sgdl/internal/verify"
)

const (
	defaultLibraryLimit = 100
	maxLibraryLimit     = 1000
	maxRequestSize      = 64 * 1024
)

// DownloadManager is the part of the downloader the API drives.
type DownloadManager interface {
	StartDownload(ctx context.Context, p media.Pointer, sink chan<- progress.Update) (bool, error)
	AbortDownload(ctx context.Context, id string) error
	Progress() map[string]progress.Status
	Verify(ctx context.Context, id string) (verify.Result, error)
}

// AddRequest asks for one item to be cataloged and downloaded. Either URL or the
// provider fields identify the item; fields fill in what a URL alone cannot carry.
type AddRequest struct {
	URL      string         `json:"url"`
	Provider media.Provider `json:"provider"`

	ProfileSlug string `json:"profile_slug"`
	TrackSlug   string `json:"track_slug"`
	SoundID     string `json:"sound_id"`
	Extension   string `json:"extension"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Service   string `json:"service"`
	CreatorID string `json:"creator_id"`
	PostID    string `json:"post_id"`
	Path      string `json:"path"`
	Name      string `json:"name"`
}

type AddResponse struct {
	PointerID string `json:"pointer_id"`
	Started   bool   `json:"started"`
}

type DownloadStatus struct {
	PointerID string `json:"pointer_id"`
	progress.Status
}

type VerifyResponse struct {
	PointerID string        `json:"pointer_id"`
	Verified  bool          `json:"verified"`
	Reason    verify.Reason `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	username  string
	password  string
	manager   DownloadManager
	library   storage.LibraryStore
	resolver  *media.Resolver
	telemetry *telemetry.Telemetry
}

// NewDownloadsHandler creates the downloads API. Basic auth is enforced when username is set.
func NewDownloadsHandler(username, password string, manager DownloadManager, library storage.LibraryStore, resolver *media.Resolver, t *telemetry.Telemetry) *DownloadsHandler {
	return &DownloadsHandler{
		username:  username,
		password:  password,
		manager:   manager,
		library:   library,
		resolver:  resolver,
		telemetry: t,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/downloads", h.HandleList)
	r.Post("/downloads", h.HandleAdd)
	r.Delete("/downloads/{id}", h.HandleAbort)
	r.Post("/downloads/{id}/verify", h.HandleVerify)
	r.Get("/library", h.HandleLibrary)

	return r
}

// HandleList returns the progress of every known download, ordered by pointer id.
func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	snapshot := h.manager.Progress()

	out := make([]DownloadStatus, 0, len(snapshot))
	for _, id := range slices.Sorted(maps.Keys(snapshot)) {
		out = append(out, DownloadStatus{PointerID: id, Status: snapshot[id]})
	}

	writeJSON(r.Context(), w, http.StatusOK, out)
}

// HandleAdd resolves the requested item, records it in the catalog and starts its download.
func (h *DownloadsHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req AddRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")

		return
	}

	item, err := h.item(&req)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())

		return
	}

	p, err := h.resolver.Pointer(item)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())

		return
	}

	ctx = logctx.With(ctx, "pointer_id", p.ID)

	err = h.library.UpsertItem(ctx, storage.LibraryItem{
		PointerID:   p.ID,
		Provider:    string(item.Provider()),
		Title:       item.Title(),
		Description: req.Description,
		SourceURL:   req.URL,
		DownloadURL: p.DownloadURL,
		LocalPath:   p.TargetPath,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to catalog item", "err", err)
		h.telemetry.RecordSystemError(ctx, "api", "catalog")
		writeError(ctx, w, http.StatusInternalServerError, "failed to catalog item")

		return
	}

	started, err := h.manager.StartDownload(ctx, p, nil)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start download", "err", err)

		status := http.StatusInternalServerError
		if errors.Is(err, downloader.ErrClosed) || errors.Is(err, downloader.ErrNotStarted) {
			status = http.StatusServiceUnavailable
		}

		writeError(ctx, w, status, "failed to start download")

		return
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download requested", "started", started)

	writeJSON(ctx, w, http.StatusAccepted, AddResponse{PointerID: p.ID, Started: started})
}

// HandleAbort cancels a queued or running download.
func (h *DownloadsHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pointerID(w, r)
	if !ok {
		return
	}

	err := h.manager.AbortDownload(ctx, id)

	switch {
	case errors.Is(err, downloader.ErrNotInFlight):
		writeError(ctx, w, http.StatusNotFound, "download not in flight")
	case err != nil:
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to abort download", "pointer_id", id, "err", err)
		writeError(ctx, w, http.StatusServiceUnavailable, "failed to abort download")
	default:
		writeJSON(ctx, w, http.StatusAccepted, map[string]string{"pointer_id": id})
	}
}

// HandleVerify re-checks a downloaded file against its stored record.
func (h *DownloadsHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pointerID(w, r)
	if !ok {
		return
	}

	res, err := h.manager.Verify(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(ctx, w, http.StatusNotFound, "no record for "+id)

		return
	}

	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to verify download", "pointer_id", id, "err", err)
		h.telemetry.RecordSystemError(ctx, "api", "store")
		writeError(ctx, w, http.StatusInternalServerError, "failed to verify download")

		return
	}

	writeJSON(ctx, w, http.StatusOK, VerifyResponse{PointerID: id, Verified: res.Verified, Reason: res.Reason})
}

// HandleLibrary lists the catalog, or searches it when q is set.
func (h *DownloadsHandler) HandleLibrary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit := defaultLibraryLimit

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLibraryLimit {
			writeError(ctx, w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLibraryLimit))

			return
		}

		limit = n
	}

	var (
		items []storage.LibraryItem
		err   error
	)

	if term := query.Get("q"); term != "" {
		items, err = h.library.SearchItems(ctx, term, limit)
	} else {
		items, err = h.library.ListItems(ctx, limit)
	}

	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to read library", "err", err)
		h.telemetry.RecordSystemError(ctx, "api", "store")
		writeError(ctx, w, http.StatusInternalServerError, "failed to read library")

		return
	}

	if items == nil {
		items = []storage.LibraryItem{}
	}

	writeJSON(ctx, w, http.StatusOK, items)
}

// item turns a request into a provider item. A recognized URL wins over the provider
// field; explicit fields complete what the URL leaves out.
func (h *DownloadsHandler) item(req *AddRequest) (media.Item, error) {
	var it media.Item

	if req.URL != "" {
		recognized, err := h.resolver.Recognize(req.URL)
		if err != nil {
			return nil, err
		}

		it = recognized
	} else {
		switch req.Provider {
		case media.ProviderSoundgasm:
			it = &media.SoundgasmTrack{}
		case media.ProviderKemono, media.ProviderCoomer:
			it = &media.KemonoAttachment{Site: req.Provider}
		default:
			return nil, fmt.Errorf("unknown provider %q: %w", req.Provider, media.ErrUnrecognized)
		}
	}

	switch v := it.(type) {
	case *media.SoundgasmTrack:
		fill(&v.ProfileSlug, req.ProfileSlug)
		fill(&v.TrackSlug, req.TrackSlug)
		fill(&v.SoundID, req.SoundID)
		fill(&v.Extension, req.Extension)
		fill(&v.TrackTitle, req.Title)
		fill(&v.Description, req.Description)
	case *media.KemonoAttachment:
		fill(&v.Service, req.Service)
		fill(&v.CreatorID, req.CreatorID)
		fill(&v.PostID, req.PostID)
		fill(&v.Path, req.Path)
		fill(&v.Name, req.Name)
		fill(&v.Name, req.Title)
	}

	return it, nil
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="sgdl"`)
			writeError(r.Context(), w, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		if username != h.username || password != h.password {
			writeError(r.Context(), w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// pointerID reads the {id} parameter. Pointer ids contain ':' which clients may escape.
func pointerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid pointer id")

		return "", false
	}

	return id, true
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}
