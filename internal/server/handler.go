package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/lifecycle"
	"github.com/kestrelsearch/kestrel/internal/manager"
	"github.com/kestrelsearch/kestrel/internal/record"
	kerrors "github.com/kestrelsearch/kestrel/pkg/errors"
	"github.com/kestrelsearch/kestrel/pkg/kafka"
	"github.com/kestrelsearch/kestrel/pkg/logger"
	"github.com/kestrelsearch/kestrel/pkg/resilience"
)

// indexRequest is the JSON body accepted by POST /records.
type indexRequest struct {
	Class    string            `json:"class"`
	ObjectID string            `json:"object_id"`
	Fields   map[string]string `json:"fields"`
}

// Handler exposes the manager's operations over HTTP.
type Handler struct {
	mgr      *manager.Manager
	store    *record.Store
	producer *kafka.Producer
	logger   *slog.Logger
}

func NewHandler(mgr *manager.Manager, store *record.Store, producer *kafka.Producer) *Handler {
	return &Handler{
		mgr:      mgr,
		store:    store,
		producer: producer,
		logger:   logger.WithComponent("http-handler"),
	}
}

// IndexRecord handles POST /records.
func (h *Handler) IndexRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Class == "" || req.ObjectID == "" {
		h.writeError(w, http.StatusBadRequest, "class and object_id are required")
		return
	}

	rec := document.MapRecord{
		RecordClass: req.Class,
		ID:          req.ObjectID,
		Fields:      req.Fields,
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	if err := h.mgr.IndexRecord(ctx, rec); err != nil {
		log.Error("indexing failed", "class", req.Class, "object_id", req.ObjectID, "error", err)
		h.writeError(w, kerrors.HTTPStatusCode(err), "indexing failed")
		return
	}

	key := document.Key{Class: req.Class, ObjectID: req.ObjectID}
	log.Info("record indexed", "key", key.String())
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"key":    key.String(),
		"status": "indexed",
	})
}

// GetRecord handles GET /records/{class}/{id}, returning the stored field
// values of the live document. Unstored content is indexed only and never
// appears here.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	key := document.Key{
		Class:    r.PathValue("class"),
		ObjectID: r.PathValue("id"),
	}
	if key.Class == "" || key.ObjectID == "" {
		h.writeError(w, http.StatusBadRequest, "class and id are required")
		return
	}

	fields, err := h.mgr.GetRecord(key)
	if err != nil {
		if errors.Is(err, kerrors.ErrRecordNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error("record fetch failed", "key", key.String(), "error", err)
		h.writeError(w, kerrors.HTTPStatusCode(err), "record fetch failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"key":    key.String(),
		"fields": fields,
	})
}

// DeleteRecord handles DELETE /records/{class}/{id}.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	key := document.Key{
		Class:    r.PathValue("class"),
		ObjectID: r.PathValue("id"),
	}
	if key.Class == "" || key.ObjectID == "" {
		h.writeError(w, http.StatusBadRequest, "class and id are required")
		return
	}

	if err := h.mgr.DeleteRecord(ctx, key); err != nil {
		log.Error("deletion failed", "key", key.String(), "error", err)
		h.writeError(w, kerrors.HTTPStatusCode(err), "deletion failed")
		return
	}

	log.Info("record deleted", "key", key.String())
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	result, err := h.mgr.Search(ctx, query, limit)
	if err != nil {
		if errors.Is(err, kerrors.ErrQuerySyntax) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, kerrors.HTTPStatusCode(err), "search failed")
		return
	}

	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// Rebuild handles POST /rebuild. The rebuild runs in the background; the
// previously live index keeps serving until the swap.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no record store configured")
		return
	}

	go func() {
		ctx := context.Background()
		result, err := h.mgr.RebuildFromStore(ctx, h.store)
		if err != nil {
			h.logger.Error("rebuild failed", "error", err)
			return
		}
		if h.producer != nil {
			event := lifecycle.RebuildCompleteEvent{
				Generation:  result.Generation,
				Records:     result.Records,
				CompletedAt: time.Now().UTC(),
			}
			err := resilience.WithTimeout(ctx, 10*time.Second, "publish-rebuild-complete",
				func(ctx context.Context) error {
					return h.producer.Publish(ctx, kafka.Event{Key: event.Generation, Value: event})
				})
			if err != nil {
				h.logger.Error("publishing rebuild-complete event failed", "error", err)
			}
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuild started"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
