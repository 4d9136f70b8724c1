package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/prepcli/prep/history"
	"github.com/prepcli/prep/internal/utils"
	"github.com/prepcli/prep/metrics"
	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/refiner"
)

// HistorySink stores finished refinements.
type HistorySink interface {
	Append(ctx context.Context, e history.Entry) (int64, error)
}

type RefineRequest struct {
	Prompt    string   `json:"prompt" binding:"required"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Template  string   `json:"template"`
	Context   string   `json:"context"`
	Answers   []string `json:"answers"`
	MaxRounds int      `json:"maxRounds"`
}

type RefineResponse struct {
	*models.RefinementResult
	Cached bool `json:"cached"`
}

type RefineHandler struct {
	orchestrator *refiner.Orchestrator
	cache        *cache.Cache
	metrics      *metrics.MonitoringClient
	history      HistorySink
	logger       *zap.Logger
}

func NewRefineHandler(
	orchestrator *refiner.Orchestrator,
	resultCache *cache.Cache,
	metricsClient *metrics.MonitoringClient,
	historySink HistorySink,
	logger *zap.Logger) *RefineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefineHandler{
		orchestrator: orchestrator,
		cache:        resultCache,
		metrics:      metricsClient,
		history:      historySink,
		logger:       logger,
	}
}

// Refine runs one refinement. Clarification questions are answered from the request's
// answers list; when it runs out the response carries the open questions.
func (h *RefineHandler) Refine(c *gin.Context) {
	var req RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ProcessError(c, http.StatusBadRequest, "BadRequest", "request body must be JSON with a non-empty prompt")
		return
	}
	if len(req.Context) > models.MaxContextBytes {
		utils.ProcessError(c, http.StatusRequestEntityTooLarge, "ContextTooLarge", models.ErrContextTooLarge.Error())
		return
	}

	apiKey := apiKeyFromRequest(c)
	plan, err := h.orchestrator.Plan(refiner.Options{
		Prompt:    req.Prompt,
		Provider:  req.Provider,
		Model:     req.Model,
		APIKey:    apiKey,
		Template:  req.Template,
		Context:   req.Context,
		MaxRounds: req.MaxRounds,
	})
	if err != nil {
		h.processError(c, err)
		return
	}

	key := cacheKey(plan, apiKey, req.Answers)
	if h.cache != nil {
		if cached, found := h.cache.Get(key); found {
			if h.metrics != nil {
				h.metrics.RecordCounter(metrics.ServeCacheHitsTotal, map[string]string{"provider": plan.Config.Provider.String()}, 1)
			}
			c.JSON(http.StatusOK, RefineResponse{RefinementResult: cached.(*models.RefinementResult), Cached: true})
			return
		}
	}

	result, err := h.orchestrator.Execute(c.Request.Context(), plan, refiner.NewScriptedAnswers(req.Answers...))
	if err != nil {
		h.processError(c, err)
		return
	}

	if h.cache != nil && !result.Partial {
		h.cache.Set(key, result, cache.DefaultExpiration)
	}
	if h.history != nil {
		if _, err := h.history.Append(c.Request.Context(), history.EntryFromResult(result)); err != nil {
			h.logger.Warn("failed to save history entry", zap.String("runId", result.RunID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, RefineResponse{RefinementResult: result})
}

func (h *RefineHandler) processError(c *gin.Context, err error) {
	kind := refiner.OutcomeLabel(err)
	h.logger.Info("refinement failed", zap.String("kind", kind), zap.Error(err))

	var aborted *refiner.ClarificationAbortedError
	if errors.As(err, &aborted) && aborted.Reason != refiner.ProviderFailure {
		body := gin.H{"error": aborted.Error(), "kind": kind, "rounds": aborted.Rounds}
		if aborted.Reason == refiner.UserDeclined {
			body["questions"] = aborted.Questions
			c.JSON(http.StatusConflict, body)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}

	if pe, ok := models.AsProviderError(err); ok {
		switch pe.Kind {
		case models.KindAuthMissing, models.KindAuthInvalid:
			utils.ProcessError(c, http.StatusUnauthorized, kind, pe.Error())
		case models.KindRateLimited:
			utils.ProcessRateLimited(c, kind, pe.Error(), pe.RetryAfter)
		case models.KindTimeout:
			utils.ProcessError(c, http.StatusGatewayTimeout, kind, pe.Error())
		case models.KindCancelled:
			utils.ProcessError(c, http.StatusRequestTimeout, kind, pe.Error())
		default:
			utils.ProcessError(c, http.StatusBadGateway, kind, pe.Error())
		}
		return
	}

	var notFound *refiner.TemplateNotFoundError
	var unreadable *refiner.ContextUnreadableError
	switch {
	case errors.As(err, &notFound), errors.As(err, &unreadable):
		utils.ProcessError(c, http.StatusBadRequest, kind, err.Error())
	case errors.Is(err, models.ErrEmptyPrompt):
		utils.ProcessError(c, http.StatusBadRequest, "EmptyPrompt", err.Error())
	case errors.Is(err, models.ErrContextTooLarge):
		utils.ProcessError(c, http.StatusRequestEntityTooLarge, "ContextTooLarge", err.Error())
	case errors.Is(err, models.ErrUnknownProvider):
		utils.ProcessError(c, http.StatusBadRequest, "UnknownProvider", err.Error())
	default:
		utils.ProcessGenericInternalError(c)
	}
}

func apiKeyFromRequest(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-Api-Key")); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// cacheKey hashes everything that influences the backend's answer, including the API key.
func cacheKey(plan *refiner.Plan, apiKey string, answers []string) string {
	h := sha256.New()
	for _, part := range []string{
		plan.Config.Provider.String(),
		plan.Config.Model,
		plan.Config.Endpoint,
		plan.ComposedPrompt,
		apiKey,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, a := range answers {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
