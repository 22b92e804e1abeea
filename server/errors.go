package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/lib-x/facetrack"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Code   int    `json:"code"`
	Offset int    `json:"offset"`
}

// statusOf maps a tracker error kind to an HTTP status.
func statusOf(k facetrack.Kind) int {
	switch k {
	case facetrack.KindInvalidArgument, facetrack.KindSyntaxError,
		facetrack.KindParameterNotFound, facetrack.KindBadFormat,
		facetrack.KindInvalidTemplate, facetrack.KindImageTooSmall,
		facetrack.KindUnknownAttribute, facetrack.KindUnsupportedVersion,
		facetrack.KindInsufficientBufferSize:
		return fiber.StatusBadRequest
	case facetrack.KindIDNotFound, facetrack.KindFaceIDNotFound,
		facetrack.KindFaceImageNotFound, facetrack.KindFileNotFound,
		facetrack.KindAttributeNotDetected, facetrack.KindFaceNotFound:
		return fiber.StatusNotFound
	case facetrack.KindNotLocked:
		return fiber.StatusConflict
	case facetrack.KindNotInitialized, facetrack.KindNotActivated:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// errorBody renders err the way every route reports failures.
func errorBody(err error) (int, ErrorResponse) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, ErrorResponse{
			Error:  fe.Message,
			Kind:   facetrack.KindFailed.String(),
			Code:   facetrack.KindFailed.Code(),
			Offset: -1,
		}
	}
	kind := facetrack.KindOf(err)
	return statusOf(kind), ErrorResponse{
		Error:  err.Error(),
		Kind:   kind.String(),
		Code:   kind.Code(),
		Offset: facetrack.ErrorOffset(err),
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(status).JSON(body)
}
