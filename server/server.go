package server

import (
	"errors"
	"fmt"
	"panda/articles"
	"panda/db"
	"panda/models"
	"panda/registry"
	"panda/resolver"
	"panda/scheduler"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Registry  *registry.Registry
	Resolver  *resolver.Resolver
	Scheduler *scheduler.Scheduler
	Articles  *articles.Store
}

type addFeedRequest struct {
	Url        string  `json:"url"`
	Title      string  `json:"title"`
	CategoryID *int64  `json:"categoryId"`
	SiteUrl    *string `json:"siteUrl"`
	// Seconds
	RefreshInterval *int64 `json:"refreshInterval"`
}

type statusRequest struct {
	Status models.FeedStatus `json:"status"`
}

type categoryRequest struct {
	CategoryID *int64 `json:"categoryId"`
}

type createCategoryRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parentId"`
}

type readRequest struct {
	Status models.ReadStatus `json:"status"`
}

type favoriteRequest struct {
	Favorited bool `json:"favorited"`
}

type inFlightResponse struct {
	Feeds []int64 `json:"feeds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Returns a fiber.App exposing the feed registry, stored articles, the
// category tree, tags and the scheduler
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})
	app.Use(requestid.New(requestid.ConfigDefault))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	feeds := app.Group("/feeds")
	feeds.Get("/", func(c *fiber.Ctx) error {
		list, err := config.Registry.List(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(list)
	})

	feeds.Get("/inflight", func(c *fiber.Ctx) error {
		return c.JSON(inFlightResponse{Feeds: config.Scheduler.InFlight()})
	})

	feeds.Post("/", func(c *fiber.Ctx) error {
		var req addFeedRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		opts := registry.AddOptions{Title: req.Title, CategoryID: req.CategoryID, SiteUrl: req.SiteUrl}
		if req.RefreshInterval != nil {
			interval := time.Duration(*req.RefreshInterval) * time.Second
			opts.RefreshInterval = &interval
		}
		feed, err := config.Registry.AddFeed(c.Context(), req.Url, opts)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(feed)
	})

	feeds.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		if err := config.Registry.RemoveFeed(c.Context(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	feeds.Put("/:id/status", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		var req statusRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := config.Registry.SetStatus(c.Context(), id, req.Status); err != nil {
			return err
		}
		return feedResponse(c, config.Registry, id)
	})

	feeds.Put("/:id/category", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		var req categoryRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := config.Registry.SetCategory(c.Context(), id, req.CategoryID); err != nil {
			return err
		}
		return feedResponse(c, config.Registry, id)
	})

	feeds.Post("/:id/refresh", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		outcome, err := config.Scheduler.RefreshFeed(c.Context(), id)
		if err != nil {
			return err
		}
		return c.JSON(outcome)
	})

	app.Post("/run", func(c *fiber.Ctx) error {
		report, err := config.Scheduler.RunOnce(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(report)
	})

	articleRoutes := app.Group("/articles")
	articleRoutes.Get("/", func(c *fiber.Ctx) error {
		filter, err := articleFilter(c)
		if err != nil {
			return err
		}
		page, err := config.Articles.List(c.Context(), filter)
		if err != nil {
			return err
		}
		return c.JSON(page)
	})

	articleRoutes.Get("/:id", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		detail, err := config.Articles.Get(c.Context(), id)
		if err != nil {
			return err
		}
		return c.JSON(detail)
	})

	articleRoutes.Put("/:id/read", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		var req readRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := config.Articles.SetRead(c.Context(), id, req.Status); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	articleRoutes.Put("/:id/favorite", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		var req favoriteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := config.Articles.SetFavorited(c.Context(), id, req.Favorited); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	tags := app.Group("/tags")
	tags.Get("/", func(c *fiber.Ctx) error {
		list, err := config.Resolver.ListTags(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(list)
	})

	tags.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		if _, err := config.Resolver.DeleteTag(c.Context(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	categories := app.Group("/categories")
	categories.Get("/", func(c *fiber.Ctx) error {
		list, err := config.Resolver.ListCategories(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(list)
	})

	categories.Post("/", func(c *fiber.Ctx) error {
		var req createCategoryRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		category, err := config.Resolver.CreateCategory(c.Context(), req.Name, req.ParentID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(category)
	})

	categories.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := idParam(c)
		if err != nil {
			return err
		}
		if err := config.Resolver.DeleteCategory(c.Context(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	return app
}

func idParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return int64(id), nil
}

// articleFilter reads the listing filter from the query string:
// feed, category, tag, status, favorited, limit and offset
func articleFilter(c *fiber.Ctx) (db.ArticleFilter, error) {
	var filter db.ArticleFilter
	for key, dst := range map[string]**int64{"feed": &filter.FeedID, "category": &filter.CategoryID, "tag": &filter.TagID} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s id", key))
		}
		*dst = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := models.ReadStatus(raw)
		filter.ReadStatus = &status
	}
	if raw := c.Query("favorited"); raw != "" {
		favorited, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fiber.NewError(fiber.StatusBadRequest, "invalid favorited flag")
		}
		filter.Favorited = &favorited
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s", key))
		}
		*dst = n
	}
	return filter, nil
}

func feedResponse(c *fiber.Ctx, reg *registry.Registry, id int64) error {
	feed, err := reg.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(feed)
}

func statusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists), errors.Is(err, scheduler.ErrInFlight):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrIntegrity):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalid):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusCode(err)
	if code >= fiber.StatusInternalServerError {
		log.WithFields(log.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Errorf("Request failed: %v", err)
	}
	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}
