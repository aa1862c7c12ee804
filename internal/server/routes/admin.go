package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/astra-edge/astra-edge/internal/background"
	"github.com/astra-edge/astra-edge/internal/cache"
	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/lifecycle"
	"github.com/astra-edge/astra-edge/internal/notify"
	"github.com/astra-edge/astra-edge/internal/statedb"
)

// Lifecycle is the subset of lifecycle.Controller used by the admin routes.
type Lifecycle interface {
	Names() engine.Names
	Target() (string, engine.Names)
	Active() (statedb.Generation, bool)
	Install(ctx context.Context) (lifecycle.InstallReport, error)
	Activate(ctx context.Context) (lifecycle.ActivateReport, error)
}

// Triggers is the subset of background.Dispatcher used by the admin routes.
type Triggers interface {
	Sync(ctx context.Context, tag string) background.Report
	PeriodicSync(ctx context.Context, tag string) background.Report
}

// Outbox stores forms for deferred submission.
type Outbox interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (statedb.Form, error)
	ListForms(ctx context.Context) ([]statedb.Form, error)
}

// AdminDeps groups the collaborators behind /-/ routes.
type AdminDeps struct {
	Logger        *logrus.Logger
	Store         cache.Store
	Lifecycle     Lifecycle
	Triggers      Triggers
	Outbox        Outbox
	Notifications *notify.Center
	Metrics       http.Handler
}

// RegisterAdminRoutes 暴露分区、生命周期、后台触发器与通知相关的诊断/操作接口。
func RegisterAdminRoutes(app *fiber.App, deps AdminDeps) {
	if app == nil {
		return
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	if deps.Store != nil && deps.Lifecycle != nil {
		app.Get("/-/partitions", func(c fiber.Ctx) error {
			names, err := deps.Store.Names(c.Context())
			if err != nil {
				logger.WithError(err).WithField("action", "admin").Error("list partitions failed")
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_failed"})
			}
			current := deps.Lifecycle.Names()
			return c.JSON(fiber.Map{
				"partitions": encodePartitions(names, current),
				"current":    current,
			})
		})
	}

	if deps.Lifecycle != nil {
		app.Get("/-/generation", func(c fiber.Ctx) error {
			version, target := deps.Lifecycle.Target()
			payload := fiber.Map{
				"target_version": version,
				"target":         target,
				"serving":        deps.Lifecycle.Names(),
			}
			if gen, ok := deps.Lifecycle.Active(); ok {
				payload["active"] = gen
			}
			return c.JSON(payload)
		})

		app.Post("/-/lifecycle/install", func(c fiber.Ctx) error {
			report, err := deps.Lifecycle.Install(c.Context())
			if err != nil {
				status := fiber.StatusInternalServerError
				if errors.Is(err, lifecycle.ErrInstallFailed) {
					status = fiber.StatusBadGateway
				}
				return c.Status(status).JSON(fiber.Map{"error": "install_failed", "detail": err.Error()})
			}
			return c.JSON(report)
		})

		app.Post("/-/lifecycle/activate", func(c fiber.Ctx) error {
			report, err := deps.Lifecycle.Activate(c.Context())
			if err != nil {
				status := fiber.StatusInternalServerError
				if errors.Is(err, lifecycle.ErrNotInstalled) {
					status = fiber.StatusConflict
				}
				return c.Status(status).JSON(fiber.Map{"error": "activate_failed", "detail": err.Error()})
			}
			return c.JSON(report)
		})
	}

	if deps.Triggers != nil {
		app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
			return c.JSON(deps.Triggers.Sync(c.Context(), c.Params("tag")))
		})
		app.Post("/-/periodicsync/:tag", func(c fiber.Ctx) error {
			return c.JSON(deps.Triggers.PeriodicSync(c.Context(), c.Params("tag")))
		})
	}

	if deps.Outbox != nil {
		app.Get("/-/outbox", func(c fiber.Ctx) error {
			forms, err := deps.Outbox.ListForms(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "outbox_failed"})
			}
			return c.JSON(fiber.Map{"forms": forms})
		})
		app.Post("/-/outbox", func(c fiber.Ctx) error {
			form, err := deps.Outbox.Enqueue(c.Context(), json.RawMessage(c.Body()))
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_form", "detail": err.Error()})
			}
			return c.Status(fiber.StatusAccepted).JSON(form)
		})
	}

	if deps.Notifications != nil {
		app.Post("/-/push", func(c fiber.Ctx) error {
			n := deps.Notifications.Push(string(c.Body()))
			logger.WithFields(logrus.Fields{
				"action":          "background",
				"trigger":         "push",
				"notification_id": n.ID,
			}).Info("notification shown")
			return c.Status(fiber.StatusCreated).JSON(n)
		})
		app.Get("/-/notifications", func(c fiber.Ctx) error {
			return c.JSON(fiber.Map{"notifications": deps.Notifications.List()})
		})
		app.Post("/-/notifications/:id/click", func(c fiber.Ctx) error {
			action := strings.TrimSpace(c.Query("action"))
			result, err := deps.Notifications.Click(c.Params("id"), action)
			if err != nil {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
			}
			return c.JSON(result)
		})
	}

	if deps.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(deps.Metrics))
	}
}

type partitionPayload struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

func encodePartitions(names []string, current engine.Names) []partitionPayload {
	result := make([]partitionPayload, 0, len(names))
	for _, name := range names {
		result = append(result, partitionPayload{
			Name:    name,
			Current: name == current.Static || name == current.Dynamic,
		})
	}
	return result
}
