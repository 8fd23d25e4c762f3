package authority

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/turnsync"
)

// upgrader accepts any origin; the authority fronts trusted clients only.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter builds the Echo server exposing the authority's REST surface and
// the control/audio websocket endpoints.
func NewRouter(svc *Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/interviews", svc.handleCreateInterview)
	e.GET("/interviews/:id", svc.handleGetInterview)
	e.POST("/interviews/:id/sessions/generate", svc.handleGenerateSessions)
	e.GET("/interviews/:id/participants/:pid/session", svc.handleSessionForParticipant)
	e.GET("/sessions/:sid", svc.handleGetSession)
	e.POST("/sessions/:sid/questions/:index/followups", svc.handleGenerateFollowUps)

	e.GET("/ws/control", svc.handleControlWS)
	e.GET("/ws/audio", svc.handleAudioWS)

	return e
}

type createInterviewRequest struct {
	InterviewID  string                  `json:"interview_id,omitempty"`
	Title        string                  `json:"title,omitempty"`
	Participants []interview.Participant `json:"participants"`
	Questions    []interview.Question    `json:"questions"`
}

func (s *Service) handleCreateInterview(c echo.Context) error {
	var req createInterviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	meta, err := s.CreateInterview(interview.Metadata{
		InterviewID:  req.InterviewID,
		Title:        req.Title,
		Participants: req.Participants,
	}, req.Questions)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, meta)
}

func (s *Service) handleGetInterview(c echo.Context) error {
	meta, err := s.Metadata(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, meta)
}

func (s *Service) handleGenerateSessions(c echo.Context) error {
	snaps, err := s.GenerateSessions(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, snaps)
}

func (s *Service) handleSessionForParticipant(c echo.Context) error {
	pid, err := interview.ParseParticipantID(c.Param("pid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := s.SessionFor(c.Param("id"), pid)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Service) handleGetSession(c echo.Context) error {
	snap, err := s.Session(interview.SessionID(c.Param("sid")))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Service) handleGenerateFollowUps(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad question index")
	}
	snap, err := s.GenerateFollowUps(interview.SessionID(c.Param("sid")), index)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

// wsAddress is the (session, participant, mode) triple every websocket
// endpoint is addressed by.
func wsAddress(c echo.Context) (interview.SessionID, interview.ParticipantID, string, error) {
	sid := interview.SessionID(c.QueryParam("session"))
	if sid == "" {
		return "", interview.NoParticipant, "", echo.NewHTTPError(http.StatusBadRequest, "missing session")
	}
	pid, err := interview.ParseParticipantID(c.QueryParam("participant"))
	if err != nil {
		return "", interview.NoParticipant, "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return sid, pid, c.QueryParam("mode"), nil
}

func (s *Service) handleControlWS(c echo.Context) error {
	sid, pid, mode, err := wsAddress(c)
	if err != nil {
		return err
	}
	if mode != turnsync.ModeTag {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported mode")
	}
	room, err := s.roomForSession(sid)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := room.attachControl(conn, pid); err != nil {
		s.log.Warn("control attach rejected", "session", sid, "participant", pid, "err", err)
		return nil
	}
	defer room.detachControl(conn)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if kind == websocket.TextMessage {
			room.handleCommand(pid, data)
		}
	}
}

func (s *Service) handleAudioWS(c echo.Context) error {
	sid, pid, _, err := wsAddress(c)
	if err != nil {
		return err
	}
	room, err := s.roomForSession(sid)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := room.attachAudio(conn, pid); err != nil {
		s.log.Warn("audio attach rejected", "session", sid, "participant", pid, "err", err)
		return nil
	}
	defer room.detachAudio(conn)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if kind == websocket.BinaryMessage {
			room.relayAudio(conn, data)
		}
	}
}
