package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
)

// createMissionHandler handles POST /api/v1/missions: validate, create
// upstream, return 201 with the mission id. Validation failures are
// rejected before any upstream call is made.
func (s *Server) createMissionHandler(c *echo.Context) error {
	rc, err := requestScope(c)
	if err != nil {
		return err
	}

	var req models.CreateMissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validateMissionRequest(&req); err != nil {
		return err
	}

	created, err := s.upstream.CreateMission(c.Request().Context(), rc, req)
	if err != nil {
		return mapServiceError(err)
	}

	c.Response().Header().Set("X-Mission-ID", created.ID)
	c.Response().Header().Set("X-Panel-Type", string(req.PanelType))
	return c.JSON(http.StatusCreated, created)
}

// createMissionStreamHandler handles POST /api/v1/missions/stream: the
// single-handshake path. Parameters are validated first (plain HTTP 400,
// nothing created upstream); after that the response is always an SSE
// stream. Upstream creation failures do not fail the handshake — they are
// delivered as one structured in-band error event so the client transport
// handles every failure mode through one code path.
func (s *Server) createMissionStreamHandler(c *echo.Context) error {
	rc, err := requestScope(c)
	if err != nil {
		return err
	}

	var req models.CreateMissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validateMissionRequest(&req); err != nil {
		return err
	}

	created, createErr := s.upstream.CreateMission(c.Request().Context(), rc, req)
	if createErr != nil {
		return s.writeInBandError(c, createErr)
	}

	// Informational headers only — the stream body is the contract.
	c.Response().Header().Set("X-Mission-ID", created.ID)
	c.Response().Header().Set("X-Panel-Type", string(req.PanelType))

	return s.pipeMissionStream(c, rc, created.ID)
}

// missionStreamHandler handles GET /api/v1/missions/:id/stream — the
// reattach path after a client reconnect. The upstream stream is piped
// byte-for-byte; the client re-derives state from the new generation.
func (s *Server) missionStreamHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}
	rc, err := requestScope(c)
	if err != nil {
		return err
	}

	c.Response().Header().Set("X-Mission-ID", missionID)
	return s.pipeMissionStream(c, rc, missionID)
}

// cancelMissionHandler handles POST /api/v1/missions/:id/cancel.
func (s *Server) cancelMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}
	if _, err := requestScope(c); err != nil {
		return err
	}

	if err := s.upstream.CancelMission(c.Request().Context(), missionID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		MissionID: missionID,
		Message:   "Mission cancellation requested",
	})
}

// pipeMissionStream opens the upstream event stream and forwards it to
// the client unmodified. Open failures after the SSE handshake are
// delivered in-band.
func (s *Server) pipeMissionStream(c *echo.Context, rc upstream.RequestContext, missionID string) error {
	ctx := c.Request().Context()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstream.StreamURL(missionID), nil)
	if err != nil {
		return s.writeInBandError(c, err)
	}
	for k, vs := range rc.Headers() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.upstream.StreamClient().Do(req)
	if err != nil {
		return s.writeInBandError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return s.writeInBandError(c, &upstream.StatusError{
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("stream open returned %d", resp.StatusCode),
		})
	}

	res := c.Response()
	flusher := startSSE(res)

	// A tee of the byte stream feeds the checkpoint tracker; the bytes
	// sent to the client are the upstream bytes, untouched.
	tapReader, tapWriter := io.Pipe()
	tapDone := make(chan struct{})
	go func() {
		defer close(tapDone)
		s.watchMissionStream(missionID, tapReader)
	}()
	defer func() {
		_ = tapWriter.Close()
		<-tapDone
	}()

	// Unmodified pass-through. No parsing, no buffering beyond the copy
	// buffer — the proxy adds nothing to the byte stream.
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			_, _ = tapWriter.Write(buf[:n])
			if _, writeErr := res.Write(buf[:n]); writeErr != nil {
				// Client went away; upstream body is closed by the defer.
				return nil
			}
			flusher.Flush()
		}
		if readErr != nil {
			return nil
		}
	}
}

// writeInBandError converts an upstream failure into a single structured
// error event on an already-expected SSE channel. Upstream 5xx failures
// are marked recoverable (retry is meaningful); 4xx are not.
func (s *Server) writeInBandError(c *echo.Context, err error) error {
	info := models.ErrorInfo{
		Code:        "upstream_unavailable",
		Message:     err.Error(),
		Recoverable: true,
	}
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) && statusErr.IsClientError() {
		info.Code = "upstream_rejected"
		info.Recoverable = false
	}
	if errors.Is(err, upstream.ErrNotFound) {
		info.Code = "mission_not_found"
		info.Recoverable = false
	}

	res := c.Response()
	flusher := startSSE(res)
	writeSSEEvent(res, "error", info)
	flusher.Flush()
	return nil
}
