package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/cache"
	"github.com/danmuck/bridgectl/internal/observability"
)

const (
	// MsgType is the fetch request type panes send.
	MsgType = "pane.fetch"
	// AdminMsgType is the cache administration type.
	AdminMsgType = "pane.cache"
)

var (
	ErrTransportFault   = errors.New("fetch: transport fault")
	ErrInvalidRequest   = errors.New("fetch: invalid request")
	ErrUnknownOperation = errors.New("fetch: unknown cache operation")
)

// Request is the pane-side fetch contract.
type Request struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Data            string            `json:"data,omitempty"`
	Credentials     bool              `json:"credentials,omitempty"`
	AggressiveCache bool              `json:"aggressiveCache,omitempty"`
}

// Result is the trimmed response: the only three fields worth keeping in
// the cache and shipping across the boundary.
type Result struct {
	Status       int    `json:"status"`
	ResponseText string `json:"responseText"`
	ResponseURL  string `json:"responseURL"`
}

// Fetcher performs the real network call. Implementations must treat a
// transport-level failure as an error, never as a zero Result.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Result, error)
}

// AdminRequest is the cache administration contract.
type AdminRequest struct {
	Operation string `json:"operation"`
}

// Config wires one fetch handler.
type Config struct {
	Cache   *cache.Cache
	Fetcher Fetcher
	// ForceCache makes every request behave as if it asked for
	// aggressive caching.
	ForceCache bool
	Logger     zerolog.Logger
}

// Handler owns the response cache and serves pane.fetch and pane.cache.
type Handler struct {
	cache   *cache.Cache
	fetcher Fetcher
	force   bool
	log     zerolog.Logger
}

func New(cfg Config) (*Handler, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("%w: nil cache", ErrInvalidRequest)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidRequest)
	}
	return &Handler{
		cache:   cfg.Cache,
		fetcher: cfg.Fetcher,
		force:   cfg.ForceCache,
		log:     cfg.Logger,
	}, nil
}

// Register binds both handler types.
func (h *Handler) Register(reg *bridge.HandlerRegistry) error {
	if err := reg.Register(MsgType, h.Handle); err != nil {
		return err
	}
	return reg.Register(AdminMsgType, h.HandleAdmin)
}

// Handle services one fetch request. Cached responses are returned
// verbatim without touching the network; fresh responses are cached only
// when caching was requested, the status is exactly 200, and the body is
// non-empty.
func (h *Handler) Handle(ctx context.Context, req bridge.Request) (any, error) {
	var fr Request
	if err := json.Unmarshal(req.Payload, &fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fr.URL = strings.TrimSpace(fr.URL)
	if fr.URL == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidRequest)
	}

	useCache := fr.AggressiveCache || h.force
	if useCache {
		if hit, ok := h.cache.Check(fr.URL); ok {
			if res, ok := hit.(Result); ok {
				observability.RecordCacheEvent("hit", 1)
				observability.RecordFetch(res.Status, "cache")
				h.log.Debug().Str("url", fr.URL).Int("status", res.Status).Msg("fetch served from cache")
				return res, nil
			}
		}
		observability.RecordCacheEvent("miss", 1)
	}

	res, err := h.fetcher.Fetch(ctx, fr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFault, err)
	}
	observability.RecordFetch(res.Status, "network")

	if useCache && res.Status == http.StatusOK && res.ResponseText != "" {
		evicted := h.cache.Add(fr.URL, res)
		observability.RecordCacheEvent("store", 1)
		observability.RecordCacheEvent("evict", evicted)
	}
	return res, nil
}

// HandleAdmin services cache administration. Clearing is safe while
// fetches are in flight; their results simply repopulate the fresh cache.
func (h *Handler) HandleAdmin(ctx context.Context, req bridge.Request) (any, error) {
	var ar AdminRequest
	if err := json.Unmarshal(req.Payload, &ar); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	switch strings.TrimSpace(ar.Operation) {
	case "clear":
		h.cache.Clear()
		observability.RecordCacheEvent("clear", 1)
		h.log.Info().Str("from", string(req.From.Addr)).Msg("response cache cleared")
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, ar.Operation)
	}
}

// ClearCache empties the response cache. Admin HTTP surface.
func (h *Handler) ClearCache() {
	h.cache.Clear()
	observability.RecordCacheEvent("clear", 1)
}

// CacheLen reports the current cache population. Admin HTTP surface.
func (h *Handler) CacheLen() int {
	return h.cache.Len()
}
