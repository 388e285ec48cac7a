package upload

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, orch *Orchestrator, authMiddleware fiber.Handler) {
	r.Post("/runs", authMiddleware, func(c *fiber.Ctx) error {
		var req RunOptions
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if c.QueryBool("wait") {
			return c.JSON(orch.Run(c.Context(), req))
		}
		return c.Status(fiber.StatusAccepted).JSON(orch.Start(req))
	})

	r.Get("/runs", func(c *fiber.Ctx) error {
		return c.JSON(orch.ListRuns())
	})

	r.Get("/runs/:id", func(c *fiber.Ctx) error {
		rep, ok := orch.GetRun(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "run not found")
		}
		return c.JSON(rep)
	})
}
