package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/astra-edge/astra-edge/internal/strategy"
)

// RegisterStrategyRoutes 暴露 /-/strategies 诊断接口，列出策略及当前分类规则。
func RegisterStrategyRoutes(app *fiber.App, rules strategy.RuleSet) {
	if app == nil {
		return
	}

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies": encodeStrategies(strategy.List()),
			"rules":      encodeRules(rules),
		})
	})

	app.Get("/-/strategies/:kind", func(c fiber.Ctx) error {
		kind := strings.ToLower(strings.TrimSpace(c.Params("kind")))
		if kind == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "strategy_kind_required"})
		}
		meta, ok := strategy.Resolve(strategy.Kind(kind))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "strategy_not_found"})
		}
		return c.JSON(encodeStrategy(meta))
	})
}

type strategyPayload struct {
	Kind            string `json:"kind"`
	Description     string `json:"description"`
	Writes          string `json:"writes,omitempty"`
	Lookup          string `json:"lookup"`
	NetworkFirst    bool   `json:"network_first"`
	OfflineFallback string `json:"offline_fallback,omitempty"`
}

type rulesPayload struct {
	NetworkFirst    []string `json:"network_first"`
	CacheFirst      []string `json:"cache_first"`
	ImageExtensions []string `json:"image_extensions"`
	Order           []string `json:"order"`
}

func encodeStrategies(items []strategy.Metadata) []strategyPayload {
	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Kind < items[j].Kind
	})
	result := make([]strategyPayload, 0, len(items))
	for _, meta := range items {
		result = append(result, encodeStrategy(meta))
	}
	return result
}

func encodeStrategy(meta strategy.Metadata) strategyPayload {
	return strategyPayload{
		Kind:            string(meta.Kind),
		Description:     meta.Description,
		Writes:          string(meta.Writes),
		Lookup:          string(meta.Lookup),
		NetworkFirst:    meta.NetworkFirst,
		OfflineFallback: meta.OfflineFallback,
	}
}

func encodeRules(rules strategy.RuleSet) rulesPayload {
	return rulesPayload{
		NetworkFirst:    append([]string{}, rules.NetworkFirst...),
		CacheFirst:      append([]string{}, rules.CacheFirst...),
		ImageExtensions: append([]string{}, rules.ImageExtensions...),
		Order: []string{
			string(strategy.NetworkFirst),
			string(strategy.CacheFirst),
			string(strategy.StaleWhileRevalidate),
			string(strategy.NetworkWithCacheFallback),
		},
	}
}
