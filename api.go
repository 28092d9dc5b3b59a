package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"strata/internal/config"
	"strata/internal/loop"
	"strata/internal/store"
)

// APIServer exposes the control surface: engine state export, action
// dispatch, preset CRUD, and project save/load. It never touches the
// interrupt directly; actions cross through the lock-free action queue.
type APIServer struct {
	engine *Engine
	store  *store.Store
	echo   *echo.Echo
}

// NewAPIServer constructs the server and registers all routes.
func NewAPIServer(e *Engine, st *store.Store) *APIServer {
	ec := echo.New()
	ec.HideBanner = true
	ec.HidePort = true

	ec.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	ec.Use(middleware.Recover())

	s := &APIServer{engine: e, store: st, echo: ec}
	s.registerRoutes()
	return s
}

func (s *APIServer) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/functions", s.handleFunctions)
	s.echo.POST("/api/tracks/:n/action", s.handleAction)
	s.echo.POST("/api/tracks/:n/feedback", s.handleFeedback)
	s.echo.POST("/api/tracks/:n/levels", s.handleLevels)
	s.echo.POST("/api/tracks/:n/focus", s.handleFocus)
	s.echo.GET("/api/presets", s.handleGetPresets)
	s.echo.PUT("/api/presets/:name", s.handlePutPreset)
	s.echo.DELETE("/api/presets/:name", s.handleDeletePreset)
	s.echo.POST("/api/project/save", s.handleProjectSave)
	s.echo.POST("/api/project/load", s.handleProjectLoad)
	s.echo.GET("/api/projects", s.handleProjects)
	s.echo.POST("/api/quicksave", s.handleQuickSave)
	s.echo.GET("/monitor", s.handleMonitor)
}

// Run starts the HTTP server on addr and blocks until shutdown.
func (s *APIServer) Run(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server.
func (s *APIServer) Shutdown() {
	ctx, cancel := contextWithTimeout(2 * time.Second)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}
}

func (s *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"interrupts": s.engine.recorder.Interrupts(),
	})
}

func (s *APIServer) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, engineState(s.engine))
}

func (s *APIServer) handleFunctions(c echo.Context) error {
	return c.JSON(http.StatusOK, loop.FunctionNames())
}

// actionRequest is the action dispatch payload. Down defaults true; a
// trigger that needs an explicit up (sustain functions) posts twice.
type actionRequest struct {
	Function string `json:"function"`
	Down     *bool  `json:"down"`
	Value    int    `json:"value"`
	Args     []any  `json:"args"`
}

func (s *APIServer) handleAction(c echo.Context) error {
	track, err := s.trackParam(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	down := true
	if req.Down != nil {
		down = *req.Down
	}
	a := loop.Action{
		Function: req.Function,
		Track:    track,
		Down:     down,
		Value:    req.Value,
		Args:     req.Args,
	}
	if !s.engine.Invoke(a) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown function or queue full")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *APIServer) handleFeedback(c echo.Context) error {
	track, err := s.trackParam(c)
	if err != nil {
		return err
	}
	var req struct {
		Feedback int `json:"feedback"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	s.engine.tracks[s.resolveTrack(track)].Loop().SetFeedback(req.Feedback)
	return c.NoContent(http.StatusOK)
}

// resolveTrack maps the focused-track sentinel to a concrete index.
func (s *APIServer) resolveTrack(n int) int {
	if n >= 0 {
		return n
	}
	for _, t := range s.engine.tracks {
		if t.Focused() {
			return t.Number()
		}
	}
	return 0
}

func (s *APIServer) handleLevels(c echo.Context) error {
	track, err := s.trackParam(c)
	if err != nil {
		return err
	}
	var req struct {
		Input  *float32 `json:"input"`
		Output *float32 `json:"output"`
		Pan    *float32 `json:"pan"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	t := s.engine.tracks[s.resolveTrack(track)]
	if req.Input != nil {
		t.SetInputLevel(*req.Input)
	}
	if req.Output != nil {
		t.SetOutputLevel(*req.Output)
	}
	if req.Pan != nil {
		t.SetPan(*req.Pan)
	}
	return c.NoContent(http.StatusOK)
}

func (s *APIServer) handleFocus(c echo.Context) error {
	track, err := s.trackParam(c)
	if err != nil {
		return err
	}
	for _, t := range s.engine.tracks {
		t.SetFocused(t.Number() == track)
	}
	return c.NoContent(http.StatusOK)
}

func (s *APIServer) handleGetPresets(c echo.Context) error {
	presets, err := s.store.GetPresets()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if presets == nil {
		presets = []config.Preset{}
	}
	return c.JSON(http.StatusOK, presets)
}

func (s *APIServer) handlePutPreset(c echo.Context) error {
	var p config.Preset
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid preset")
	}
	p.Name = c.Param("name")
	if err := s.store.SavePreset(p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// rebuild the config snapshot so tracks see the change
	cfg := *s.engine.Config()
	replaced := false
	for i := range cfg.Presets {
		if cfg.Presets[i].Name == p.Name {
			cfg.Presets[i] = p
			replaced = true
		}
	}
	if !replaced {
		cfg.Presets = append(cfg.Presets, p)
	}
	s.engine.SwapConfig(cfg)
	return c.NoContent(http.StatusOK)
}

func (s *APIServer) handleDeletePreset(c echo.Context) error {
	if err := s.store.DeletePreset(c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type projectRequest struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

func (s *APIServer) handleProjectSave(c echo.Context) error {
	var req projectRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project name required")
	}
	if err := s.engine.SaveProject(req.Dir, req.Name); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *APIServer) handleProjectLoad(c echo.Context) error {
	var req projectRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project name required")
	}
	if err := s.engine.LoadProject(req.Dir, req.Name); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *APIServer) handleProjects(c echo.Context) error {
	projects, err := s.store.GetProjects()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if projects == nil {
		projects = []store.Project{}
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *APIServer) handleQuickSave(c echo.Context) error {
	var req struct {
		Dir string `json:"dir"`
	}
	if err := c.Bind(&req); err != nil {
		req.Dir = ""
	}
	if err := s.engine.QuickSave(req.Dir); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *APIServer) handleMonitor(c echo.Context) error {
	s.engine.monitor.ServeWS(c.Response(), c.Request())
	return nil
}

func (s *APIServer) trackParam(c echo.Context) (int, error) {
	n := 0
	if err := echo.PathParamsBinder(c).Int("n", &n).BindError(); err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid track")
	}
	// track -1 means focused
	if n == -1 {
		return -1, nil
	}
	if n < 0 || n >= len(s.engine.tracks) {
		return 0, echo.NewHTTPError(http.StatusNotFound, "no such track")
	}
	return n, nil
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
