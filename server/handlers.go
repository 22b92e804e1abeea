package server

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/gofiber/fiber/v2"
	_ "github.com/spakin/netpbm"

	"github.com/lib-x/facetrack"
)

type trackerResponse struct {
	Handle           uint64 `json:"handle"`
	InstanceID       string `json:"instance_id"`
	DetectionVersion int    `json:"detection_version"`
}

func describe(h facetrack.TrackerHandle, t *facetrack.Tracker) trackerResponse {
	return trackerResponse{
		Handle:           h.Uint64(),
		InstanceID:       t.InstanceID().String(),
		DetectionVersion: t.DetectionVersion(),
	}
}

func parseHandle(c *fiber.Ctx) (facetrack.TrackerHandle, error) {
	v, err := strconv.ParseUint(c.Params("h"), 10, 64)
	if err != nil {
		return facetrack.Invalid[facetrack.Tracker](), fmt.Errorf("tracker handle %q: %w", c.Params("h"), facetrack.ErrInvalidArgument)
	}
	return facetrack.HandleFromUint64[facetrack.Tracker](v), nil
}

func (s *Server) tracker(c *fiber.Ctx) (facetrack.TrackerHandle, *facetrack.Tracker, error) {
	h, err := parseHandle(c)
	if err != nil {
		return h, nil, err
	}
	t, err := s.registry.Tracker(h)
	return h, t, err
}

func (s *Server) identity(c *fiber.Ctx) (*facetrack.Tracker, facetrack.ID, error) {
	_, t, err := s.tracker(c)
	if err != nil {
		return nil, 0, err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("identity %q: %w", c.Params("id"), facetrack.ErrInvalidArgument)
	}
	return t, facetrack.ID(id), nil
}

// decodeFrame accepts JPEG, PNG and the netpbm formats.
func decodeFrame(body []byte) (image.Image, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty frame: %w", facetrack.ErrInvalidArgument)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %v: %w", err, facetrack.ErrBadFormat)
	}
	return img, nil
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"trackers": len(s.registry.Trackers()),
		"engine":   s.cfg.Engine != nil,
	})
}

func (s *Server) register(c *fiber.Ctx, t *facetrack.Tracker) error {
	h, err := s.registry.AddTracker(t)
	if err != nil {
		t.Close()
		return err
	}
	s.logger.Info("tracker registered", "handle", h.Uint64(), "instance", t.InstanceID())
	return c.Status(fiber.StatusCreated).JSON(describe(h, t))
}

func (s *Server) createTracker(c *fiber.Ctx) error {
	t, err := facetrack.New(s.cfg.Engine, s.cfg.TrackerOptions...)
	if err != nil {
		return err
	}
	if s.cfg.Parameters != "" {
		if _, err := t.SetParameters(s.cfg.Parameters); err != nil {
			t.Close()
			return err
		}
	}
	return s.register(c, t)
}

func (s *Server) listTrackers(c *fiber.Ctx) error {
	out := []trackerResponse{}
	for _, h := range s.registry.Trackers() {
		if t, err := s.registry.Tracker(h); err == nil {
			out = append(out, describe(h, t))
		}
	}
	return c.JSON(out)
}

// restoreTracker loads the memory named by ?name= from the store, or the
// serialized memory in the body.
func (s *Server) restoreTracker(c *fiber.Ctx) error {
	var (
		t   *facetrack.Tracker
		err error
	)
	if name := c.Query("name"); name != "" {
		if s.cfg.Store == nil {
			return fiber.NewError(fiber.StatusNotImplemented, "no memory store configured")
		}
		t, err = facetrack.LoadFrom(c.UserContext(), s.cfg.Store, name, s.cfg.Engine, s.cfg.TrackerOptions...)
	} else {
		t, err = facetrack.Restore(bytes.Clone(c.Body()), s.cfg.Engine, s.cfg.TrackerOptions...)
	}
	if err != nil {
		return err
	}
	return s.register(c, t)
}

func (s *Server) freeTracker(c *fiber.Ctx) error {
	h, err := parseHandle(c)
	if err != nil {
		return err
	}
	if err := s.stopPipeline(h.Uint64()); err != nil {
		return err
	}
	if err := s.registry.FreeTracker(h); err != nil {
		return err
	}
	s.events.closeTopic(h.Uint64())
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getParameters(c *fiber.Ctx) error {
	_, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	if name := c.Query("name"); name != "" {
		v, err := t.ParameterString(name)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{name: v})
	}
	out := make(map[string]string)
	for _, name := range facetrack.ParameterNames() {
		if out[name], err = t.ParameterString(name); err != nil {
			return err
		}
	}
	return c.JSON(out)
}

// setParameters applies a key=value; batch from the body. A failure
// reports the offset of the offending assignment; earlier ones stay
// applied.
func (s *Server) setParameters(c *fiber.Ctx) error {
	_, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	offset, err := t.SetParameters(string(c.Body()))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"offset": offset})
}

func (s *Server) clearTracker(c *fiber.Ctx) error {
	_, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	if err := t.Clear(); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// feedFrame runs one frame through the tracker and broadcasts the result
// to the tracker's event subscribers. With ?async=true the frame is queued
// on the tracker's pipeline instead and only its sequence number is
// returned; a queued frame of the same stream that has not started yet is
// dropped.
func (s *Server) feedFrame(c *fiber.Ctx) error {
	h, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	img, err := decodeFrame(c.Body())
	if err != nil {
		return err
	}
	stream := c.QueryInt("stream", 0)

	if c.QueryBool("async") {
		p, err := s.pipeline(h, t)
		if err != nil {
			return err
		}
		seq, err := p.Submit(img, stream)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"seq": seq, "dropped": p.Dropped()})
	}

	res, err := t.FeedFrame(img, c.QueryInt("max_faces", s.cfg.MaxFaces), stream)
	if err != nil {
		return err
	}
	s.publishFeed(h.Uint64(), feedMessage{Result: &res})
	return c.JSON(res)
}

func (s *Server) match(c *fiber.Ctx) error {
	_, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	img, err := decodeFrame(c.Body())
	if err != nil {
		return err
	}
	tmpl, err := facetrack.FaceTemplateFromImage(t.Engine(), img)
	if err != nil {
		return err
	}
	matches, err := t.MatchAgainst(tmpl, c.QueryFloat("threshold", t.Params().Threshold), c.QueryInt("max", 5))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"matches": matches})
}

// saveMemory returns the serialized memory, or with ?name= writes it to
// the store.
func (s *Server) saveMemory(c *fiber.Ctx) error {
	_, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	if name := c.Query("name"); name != "" {
		if s.cfg.Store == nil {
			return fiber.NewError(fiber.StatusNotImplemented, "no memory store configured")
		}
		if err := t.SaveTo(c.UserContext(), s.cfg.Store, name); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
	data, err := t.Save()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(data)
}

func (s *Server) listIDs(c *fiber.Ctx) error {
	_, t, err := s.tracker(c)
	if err != nil {
		return err
	}
	ids, err := t.AllIDs()
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []facetrack.ID{}
	}
	return c.JSON(fiber.Map{"ids": ids})
}

func (s *Server) purge(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := t.Purge(id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) lock(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := t.Lock(id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) unlock(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	if err := t.Unlock(id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getName(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	name, err := t.Name(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"name": name})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) setName(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	var req nameRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid name request: "+err.Error())
	}
	if err := t.SetName(id, req.Name); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) allNames(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	names, err := t.AllNames(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"names": names})
}

func (s *Server) similarIDs(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	ids, err := t.SimilarIDs(id)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []facetrack.ID{}
	}
	return c.JSON(fiber.Map{"ids": ids})
}

func (s *Server) reassignment(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	into, err := t.IDReassignment(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": into})
}

func (s *Server) position(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	box, err := t.FacePosition(id)
	if err != nil {
		return err
	}
	state, err := t.IdentityState(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"box": box, "state": state})
}

func (s *Server) eyes(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	eyes, err := t.Eyes(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"right": eyes[0], "left": eyes[1]})
}

func (s *Server) attribute(c *fiber.Ctx) error {
	t, id, err := s.identity(c)
	if err != nil {
		return err
	}
	values, err := t.FacialAttribute(id, c.Params("name"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"attribute": c.Params("name"), "values": values})
}
