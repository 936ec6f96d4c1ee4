package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"deadline/lib/cache"
	"deadline/lib/pipeline"
	"deadline/lib/store"
	"deadline/lib/types"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type extractResponse struct {
	Success bool                       `json:"success"`
	EventID int64                      `json:"event_id"`
	Data    *types.StructuredEventData `json:"data"`
	Summary pipeline.DetailSummary     `json:"analysis_summary"`
}

type noUpdatesResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	EventID int64          `json:"event_id"`
	Debug   pipeline.Debug `json:"debug"`
}

type updatesResponse struct {
	Success     bool                `json:"success"`
	EventID     int64               `json:"event_id"`
	Updates     []types.EventUpdate `json:"updates"`
	Status      string              `json:"status"`
	LastUpdated time.Time           `json:"last_updated"`
	Debug       pipeline.Debug      `json:"debug"`
}

type updateFailure struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	EventID int64           `json:"event_id,omitempty"`
	Debug   *pipeline.Debug `json:"debug,omitempty"`
}

type eventPayload struct {
	Event   *types.Event        `json:"event"`
	Details *types.EventDetails `json:"details"`
	Updates []types.EventUpdate `json:"updates"`
}

type requestParams struct {
	EventID string
	APIKey  string
	badBody bool
}

type jsonParams struct {
	EventID json.RawMessage `json:"event_id"`
	APIKey  string          `json:"api_key"`
}

// readParams collects event_id and api_key from the query string, then lets
// a JSON or form body override them.
func readParams(c echo.Context) requestParams {
	p := requestParams{
		EventID: strings.TrimSpace(c.QueryParam("event_id")),
		APIKey:  c.QueryParam("api_key"),
	}
	req := c.Request()
	if req.Method != http.MethodPost || req.Body == nil {
		return p
	}

	ctype := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		var body jsonParams
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			if !errors.Is(err, io.EOF) {
				p.badBody = true
			}
			return p
		}
		if id := rawID(body.EventID); id != "" {
			p.EventID = id
		}
		if body.APIKey != "" {
			p.APIKey = body.APIKey
		}
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm), strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		if id := strings.TrimSpace(c.FormValue("event_id")); id != "" {
			p.EventID = id
		}
		if key := c.FormValue("api_key"); key != "" {
			p.APIKey = key
		}
	}
	return p
}

// rawID accepts event_id as a JSON string or number.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func (s *Server) authorized(key string) bool {
	return len(s.secret) > 0 && subtle.ConstantTimeCompare([]byte(key), s.secret) == 1
}

// params runs the checks shared by the pipeline endpoints. The key is
// checked before anything else so unauthenticated calls never reach a
// paid provider.
func (s *Server) params(c echo.Context) (requestParams, error) {
	p := readParams(c)
	if !s.authorized(p.APIKey) {
		return p, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	if p.badBody {
		return p, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if p.EventID == "" {
		return p, echo.NewHTTPError(http.StatusBadRequest, "Missing event_id")
	}
	return p, nil
}

func (s *Server) extractDetails(c echo.Context) error {
	p, err := s.params(c)
	if err != nil {
		return err
	}

	res, err := s.details.Run(c.Request().Context(), p.EventID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: "Event not found", Details: err.Error()})
	case errors.Is(err, pipeline.ErrNoArticles):
		s.logger.Warning("extract-details %s: %v", p.EventID, err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "No articles found or scraped", Details: err.Error()})
	case err != nil:
		s.logger.Error("extract-details %s: %v", p.EventID, err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to extract event details", Details: err.Error()})
	}

	return c.JSON(http.StatusOK, extractResponse{
		Success: true,
		EventID: res.EventID,
		Data:    res.Data,
		Summary: res.Summary,
	})
}

func (s *Server) checkUpdates(c echo.Context) error {
	p, err := s.params(c)
	if err != nil {
		return err
	}

	res, err := s.updates.Run(c.Request().Context(), p.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Event not found", Details: err.Error()})
	}
	if err != nil {
		body := updateFailure{Error: "Failed to check for updates", Details: err.Error()}
		if errors.Is(err, pipeline.ErrExtractionFailed) {
			body.Error = "Failed to extract updates from new articles"
		}
		if res != nil {
			body.EventID = res.EventID
			body.Debug = &res.Debug
		}
		s.logger.Error("check-updates %s: %v", p.EventID, err)
		return c.JSON(http.StatusInternalServerError, body)
	}

	if res.Outcome == pipeline.OutcomeNoUpdates {
		return c.JSON(http.StatusOK, noUpdatesResponse{
			Success: true,
			Message: "No new updates found",
			EventID: res.EventID,
			Debug:   res.Debug,
		})
	}
	return c.JSON(http.StatusOK, updatesResponse{
		Success:     true,
		EventID:     res.EventID,
		Updates:     res.Updates,
		Status:      res.Status,
		LastUpdated: res.LastUpdated.UTC(),
		Debug:       res.Debug,
	})
}

func eventCacheKey(idOrSlug string) string { return "event:" + idOrSlug }

// getEvent serves the public event page payload, from cache when possible.
func (s *Server) getEvent(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")
	key := eventCacheKey(slug)

	if s.cache != nil {
		blob, err := s.cache.Get(ctx, key)
		if err == nil {
			c.Response().Header().Set("X-Cache", "HIT")
			return c.JSONBlob(http.StatusOK, blob)
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warning("Event cache read for %s failed: %v", slug, err)
		}
	}

	event, err := s.store.GetEvent(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Event not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to load event", Details: err.Error()})
	}
	details, err := s.store.GetEventDetails(ctx, event.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to load event details", Details: err.Error()})
	}
	updates, err := s.store.ListUpdates(ctx, event.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to load event updates", Details: err.Error()})
	}
	if updates == nil {
		updates = []types.EventUpdate{}
	}

	blob, err := json.Marshal(eventPayload{Event: event, Details: details, Updates: updates})
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, blob, s.cacheTTL, event.Tags()...); err != nil {
			s.logger.Warning("Event cache write for %s failed: %v", slug, err)
		}
	}
	c.Response().Header().Set("X-Cache", "MISS")
	return c.JSONBlob(http.StatusOK, blob)
}

var apiKeyParam = regexp.MustCompile(`(api_key=)[^&]*`)

func redactKey(uri string) string {
	return apiKeyParam.ReplaceAllString(uri, "${1}REDACTED")
}
