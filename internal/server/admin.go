package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/counsel/config"
)

const (
	agentConfigsKey   = "admin:agent_configs"
	globalSettingsKey = "admin:global_settings"
)

// AdminHandler serves the runtime stage configuration. Overrides live in
// Redis on top of the file/env configuration and take effect on the next
// turn, since stages are constructed per turn from the effective config.
type AdminHandler struct {
	Config *config.Config
	Redis  *redis.Client
}

func (a *AdminHandler) Register(g *echo.Group) {
	g.GET("/agent-configs", a.getAgentConfigs)
	g.POST("/agent-configs", a.putAgentConfigs)
	g.GET("/global-settings", a.getGlobalSettings)
	g.POST("/global-settings", a.putGlobalSettings)
	g.POST("/reset-to-defaults", a.resetToDefaults)
}

func (a *AdminHandler) getAgentConfigs(c echo.Context) error {
	cfg, err := a.EffectiveConfig(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stageConfigMap(cfg.Stages))
}

func (a *AdminHandler) putAgentConfigs(c echo.Context) error {
	var req map[string]config.StageConfig
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for name := range req {
		if _, ok := a.Config.Stages.ByName(name); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown stage: "+name)
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := a.Redis.Set(c.Request().Context(), agentConfigsKey, payload, 0).Err(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *AdminHandler) getGlobalSettings(c echo.Context) error {
	settings, err := a.globalSettings(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, settings)
}

func (a *AdminHandler) putGlobalSettings(c echo.Context) error {
	var req config.GlobalSettings
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := a.Redis.Set(c.Request().Context(), globalSettingsKey, payload, 0).Err(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *AdminHandler) resetToDefaults(c echo.Context) error {
	if err := a.Redis.Del(c.Request().Context(), agentConfigsKey, globalSettingsKey).Err(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// EffectiveConfig overlays the stored admin overrides on the base config.
// Redis being unreachable degrades to the base config rather than failing
// the turn.
func (a *AdminHandler) EffectiveConfig(ctx context.Context) (*config.Config, error) {
	cfg := *a.Config

	if a.Redis != nil {
		if raw, err := a.Redis.Get(ctx, agentConfigsKey).Bytes(); err == nil {
			var overrides map[string]config.StageConfig
			if err := json.Unmarshal(raw, &overrides); err == nil {
				applyStageOverrides(&cfg.Stages, overrides)
			}
		} else if !errors.Is(err, redis.Nil) {
			return &cfg, nil
		}
		settings, err := a.globalSettings(ctx)
		if err == nil {
			if settings.DefaultModel != "" {
				cfg.LLM.Model = settings.DefaultModel
			}
			if settings.MaxRetries > 0 {
				cfg.Pipeline.MaxRetries = settings.MaxRetries
			}
			if settings.Timeout > 0 {
				cfg.Pipeline.StageTimeout = time.Duration(settings.Timeout) * time.Second
			}
		}
	}
	return &cfg, nil
}

func (a *AdminHandler) globalSettings(ctx context.Context) (config.GlobalSettings, error) {
	settings := config.DefaultGlobalSettings()
	if a.Redis == nil {
		return settings, nil
	}
	raw, err := a.Redis.Get(ctx, globalSettingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func stageConfigMap(s config.StagesConfig) map[string]config.StageConfig {
	return map[string]config.StageConfig{
		"facilitator": s.Facilitator,
		"search":      s.Search,
		"analyst":     s.Analyst,
		"response":    s.Response,
		"citation":    s.Citation,
		"validator":   s.Validator,
	}
}

func applyStageOverrides(s *config.StagesConfig, overrides map[string]config.StageConfig) {
	for name, override := range overrides {
		switch name {
		case "facilitator":
			s.Facilitator = override
		case "search":
			s.Search = override
		case "analyst":
			s.Analyst = override
		case "response":
			s.Response = override
		case "citation":
			s.Citation = override
		case "validator":
			s.Validator = override
		}
	}
}
