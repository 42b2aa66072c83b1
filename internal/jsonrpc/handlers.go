package jsonrpc

import (
	"context"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-json"

	"github.com/spboyer/kinetic/internal/compare"
	"github.com/spboyer/kinetic/internal/library"
	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/recommend"
)

// Facade is the part of the library an editor UI may drive.
type Facade interface {
	Get(ctx context.Context, id string) (*models.Solution, error)
	Recommend(ctx context.Context, q library.Query) ([]recommend.Ranked, error)
	Compare(ctx context.Context, ids []string) (*compare.Report, error)
	SetFavorite(ctx context.Context, id string, favorited bool) (*models.Solution, error)
	SetManualRating(ctx context.Context, id string, rating *float64) (*models.Solution, error)
	RecordEvent(ctx context.Context, id string, kind models.EventKind) (*models.InteractionEvent, error)
}

// HandlerContext provides shared state for method handlers.
type HandlerContext struct {
	lib Facade
}

// NewHandlerContext creates a handler context over lib.
func NewHandlerContext(lib Facade) *HandlerContext {
	return &HandlerContext{lib: lib}
}

// RegisterHandlers registers all solution and event method handlers.
func RegisterHandlers(registry *MethodRegistry, hctx *HandlerContext) {
	registry.Register("solution.get", hctx.handleSolutionGet)
	registry.Register("solution.recommend", hctx.handleSolutionRecommend)
	registry.Register("solution.compare", hctx.handleSolutionCompare)
	registry.Register("solution.setFavorite", hctx.handleSolutionSetFavorite)
	registry.Register("solution.setRating", hctx.handleSolutionSetRating)
	registry.Register("event.record", hctx.handleEventRecord)
}

// decodeParams decodes a params object into T. Unknown keys are rejected so
// that a misspelled field is reported instead of silently ignored.
func decodeParams[T any](params json.RawMessage) (T, *Error) {
	var out T
	var raw map[string]any
	if len(params) == 0 {
		raw = map[string]any{}
	} else if err := json.Unmarshal(params, &raw); err != nil || raw == nil {
		return out, ErrInvalidParams("params must be an object")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &out,
		TagName:     "json",
		ErrorUnused: true,
	})
	if err != nil {
		return out, ErrInternalError(err.Error())
	}
	if err := dec.Decode(raw); err != nil {
		return out, ErrInvalidParams(err.Error())
	}
	return out, nil
}

func requireID(id string) *Error {
	if id == "" {
		return ErrInvalidParams("id is required")
	}
	return nil
}

// --- solution.get ---

type SolutionGetParams struct {
	ID string `json:"id"`
}

func (h *HandlerContext) handleSolutionGet(ctx context.Context, params json.RawMessage) (any, *Error) {
	p, rpcErr := decodeParams[SolutionGetParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(p.ID); rpcErr != nil {
		return nil, rpcErr
	}
	sol, err := h.lib.Get(ctx, p.ID)
	if err != nil {
		return nil, FromError(err)
	}
	return sol, nil
}

// --- solution.recommend ---

type SolutionRecommendParams struct {
	Fingerprint string         `json:"fingerprint"`
	Filters     map[string]any `json:"filters"`
	TopN        int            `json:"top_n"`
}

type SolutionRecommendResult struct {
	Recommendations []recommend.Ranked `json:"recommendations"`
}

func (h *HandlerContext) handleSolutionRecommend(ctx context.Context, params json.RawMessage) (any, *Error) {
	p, rpcErr := decodeParams[SolutionRecommendParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if p.TopN < 0 {
		return nil, ErrInvalidParams("top_n must not be negative")
	}
	filters, err := recommend.DecodeFilters(p.Filters)
	if err != nil {
		if models.Kind(err) == "validation" {
			return nil, FromError(err)
		}
		return nil, ErrInvalidParams(err.Error())
	}
	ranked, err := h.lib.Recommend(ctx, library.Query{Fingerprint: p.Fingerprint, Filters: filters, TopN: p.TopN})
	if err != nil {
		return nil, FromError(err)
	}
	if ranked == nil {
		ranked = []recommend.Ranked{}
	}
	return &SolutionRecommendResult{Recommendations: ranked}, nil
}

// --- solution.compare ---

type SolutionCompareParams struct {
	IDs []string `json:"ids"`
}

func (h *HandlerContext) handleSolutionCompare(ctx context.Context, params json.RawMessage) (any, *Error) {
	p, rpcErr := decodeParams[SolutionCompareParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rep, err := h.lib.Compare(ctx, p.IDs)
	if err != nil {
		return nil, FromError(err)
	}
	return rep, nil
}

// --- solution.setFavorite ---

type SolutionSetFavoriteParams struct {
	ID        string `json:"id"`
	Favorited *bool  `json:"favorited"`
}

func (h *HandlerContext) handleSolutionSetFavorite(ctx context.Context, params json.RawMessage) (any, *Error) {
	p, rpcErr := decodeParams[SolutionSetFavoriteParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(p.ID); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Favorited == nil {
		return nil, ErrInvalidParams("favorited is required")
	}
	sol, err := h.lib.SetFavorite(ctx, p.ID, *p.Favorited)
	if err != nil {
		return nil, FromError(err)
	}
	return sol, nil
}

// --- solution.setRating ---

// SolutionSetRatingParams sets Rating, or clears it when Rating is null or
// absent.
type SolutionSetRatingParams struct {
	ID     string   `json:"id"`
	Rating *float64 `json:"rating"`
}

func (h *HandlerContext) handleSolutionSetRating(ctx context.Context, params json.RawMessage) (any, *Error) {
	p, rpcErr := decodeParams[SolutionSetRatingParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(p.ID); rpcErr != nil {
		return nil, rpcErr
	}
	sol, err := h.lib.SetManualRating(ctx, p.ID, p.Rating)
	if err != nil {
		return nil, FromError(err)
	}
	return sol, nil
}

// --- event.record ---

type EventRecordParams struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func (h *HandlerContext) handleEventRecord(ctx context.Context, params json.RawMessage) (any, *Error) {
	p, rpcErr := decodeParams[EventRecordParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := requireID(p.ID); rpcErr != nil {
		return nil, rpcErr
	}
	kind, err := models.ParseEventKind(p.Kind)
	if err != nil {
		return nil, FromError(err)
	}
	ev, err := h.lib.RecordEvent(ctx, p.ID, kind)
	if err != nil {
		return nil, FromError(err)
	}
	return ev, nil
}
