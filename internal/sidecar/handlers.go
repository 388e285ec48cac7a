package sidecar

import (
	"backend-kartaview/internal/sequence"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the sidecar endpoints on the sequence router.
func RegisterRoutes(r fiber.Router, catalog *sequence.Service, authMiddleware fiber.Handler) {
	r.Post("/:id/sidecars", authMiddleware, func(c *fiber.Ctx) error {
		seq, err := catalog.Get(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "sequence not found")
		}
		images, err := catalog.Images(c.Context(), seq.ID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		written := 0
		for _, img := range images {
			if err := Write(img.Path, FromImage(img, seq)); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			written++
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"written": written})
	})

	r.Get("/:id/sidecars", func(c *fiber.Ctx) error {
		images, err := catalog.Images(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		docs := []Doc{}
		for _, img := range images {
			doc, ok, err := Read(img.Path)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			if ok {
				docs = append(docs, doc)
			}
		}
		return c.JSON(docs)
	})

	r.Delete("/:id/sidecars", authMiddleware, func(c *fiber.Ctx) error {
		images, err := catalog.Images(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		removed := 0
		for _, img := range images {
			ok, err := Remove(img.Path)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			if ok {
				removed++
			}
		}
		return c.JSON(fiber.Map{"removed": removed})
	})
}
