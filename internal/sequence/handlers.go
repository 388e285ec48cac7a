package sequence

import (
	"strconv"
	"time"

	"backend-kartaview/internal/shared/geo"
	"backend-kartaview/internal/tracklog"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/segment", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Images   []Image     `json:"images"`
			Track    []geo.Point `json:"track"`
			TrackGPX string      `json:"track_gpx"`
			Options  struct {
				MaxTimeGapS     float64 `json:"max_time_gap_s"`
				MaxDistanceGapM float64 `json:"max_distance_gap_m"`
				MaxDop          float64 `json:"max_dop"`
				MinSpeedKmh     float64 `json:"min_speed_kmh"`
				CameraYawDeg    float64 `json:"camera_yaw_deg"`
				Fence           string  `json:"fence"`
			} `json:"options"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(req.Images) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "images required")
		}
		if req.TrackGPX != "" {
			if len(req.Track) > 0 {
				return fiber.NewError(fiber.StatusBadRequest, "provide either track or track_gpx, not both")
			}
			points, err := tracklog.Parse([]byte(req.TrackGPX))
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			req.Track = points
		}

		opts := svc.defaults
		if req.Options.MaxTimeGapS > 0 {
			opts.MaxTimeGap = time.Duration(req.Options.MaxTimeGapS * float64(time.Second))
		}
		if req.Options.MaxDistanceGapM > 0 {
			opts.MaxDistanceGapM = req.Options.MaxDistanceGapM
		}
		if req.Options.MaxDop > 0 {
			opts.MaxDop = req.Options.MaxDop
		}
		if req.Options.MinSpeedKmh > 0 {
			opts.MinSpeedKmh = req.Options.MinSpeedKmh
		}
		if req.Options.CameraYawDeg != 0 {
			opts.CameraYawDeg = req.Options.CameraYawDeg
		}
		if req.Options.Fence != "" {
			fence, err := geo.ParseFence(req.Options.Fence)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			opts.Fence = fence
		}

		res, err := Segment(req.Images, req.Track, opts)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := svc.SaveResult(c.Context(), res); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		seqs, err := svc.List(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(seqs)
	})

	// registered before /:id so "near" is not taken for a sequence id
	r.Get("/near", func(c *fiber.Ctx) error {
		lat, _ := strconv.ParseFloat(c.Query("lat"), 64)
		lng, _ := strconv.ParseFloat(c.Query("lng"), 64)
		radius, _ := strconv.ParseFloat(c.Query("radius_m"), 64)
		if radius <= 0 {
			radius = 1000
		}
		seqs, err := svc.Near(c.Context(), lat, lng, radius)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(seqs)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		seq, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "sequence not found")
		}
		return c.JSON(seq)
	})

	r.Get("/:id/images", func(c *fiber.Ctx) error {
		images, err := svc.Images(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(images)
	})

	r.Get("/:id/tracklog", func(c *fiber.Ctx) error {
		images, err := svc.Images(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		var points []geo.Point
		for _, img := range images {
			if p, ok := img.Position(); ok {
				points = append(points, p)
			}
		}
		raw, err := tracklog.Build(c.Params("id"), points)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		return c.Send(raw)
	})

	r.Post("/:id/status", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Status string `json:"status"`
		}
		if err := c.BodyParser(&body); err != nil || body.Status == "" {
			return fiber.NewError(fiber.StatusBadRequest, "status required")
		}
		switch body.Status {
		case StatusNew, StatusOpen, StatusClosed:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "unknown status")
		}
		if err := svc.SetStatus(c.Context(), c.Params("id"), body.Status); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		seq, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "sequence not found")
		}
		return c.JSON(seq)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.Context(), c.Params("id")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
