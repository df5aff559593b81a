package controllers

import (
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/mixhaven/MixHaven/internal/pkg/database"
	"github.com/mixhaven/MixHaven/internal/pkg/logging"
	"github.com/mixhaven/MixHaven/internal/pkg/reconcile"
	"github.com/mixhaven/MixHaven/internal/pkg/stripeapi"
)

var (
	providerOnce   sync.Once
	providerClient *stripeapi.Client
)

// providerClientOrNil returns the shared outbound provider client, or nil
// when no API key is configured. Webhook-only deployments run fine without
// it; invoice syncing and checkout creation are then disabled.
func providerClientOrNil() reconcile.ProviderClient {
	c := provider()
	if c == nil {
		return nil
	}
	return c
}

func provider() *stripeapi.Client {
	providerOnce.Do(func() {
		client, err := stripeapi.NewClientFromEnv(database.GetDB(), logging.L())
		if err != nil {
			logging.L().WithError(err).Warn("Provider API client not configured, outbound calls disabled")
			return
		}
		providerClient = client
	})
	return providerClient
}

func parseIDParam(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
