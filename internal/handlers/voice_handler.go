package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/device"
)

// DeviceLister enumerates host audio devices.
type DeviceLister interface {
	Devices() ([]device.Info, error)
	Capabilities() device.Capabilities
}

// VoiceHandler exposes the voice session over REST
type VoiceHandler struct {
	voice   voice.Service
	meter   voice.Meter
	devices DeviceLister
	logger  *Logger.Logger
}

func NewVoiceHandler(
	svc voice.Service,
	meter voice.Meter,
	devices DeviceLister,
	logger *Logger.Logger,
) *VoiceHandler {
	return &VoiceHandler{
		voice:   svc,
		meter:   meter,
		devices: devices,
		logger:  logger,
	}
}

func (h *VoiceHandler) RegisterRoutes(router gin.IRouter) {
	v := router.Group("/voice")
	{
		v.GET("/state", h.GetState)
		v.GET("/history", h.GetHistory)
		v.GET("/levels", h.GetLevels)
		v.GET("/devices", h.GetDevices)

		v.POST("/press", h.Press)
		v.POST("/release", h.Release)
		v.POST("/cancel", h.Cancel)
		v.POST("/open", h.Open)
		v.POST("/close", h.Close)
		v.POST("/device/resolve", h.ResolveDevice)

		v.PUT("/mode", h.SetMode)
		v.PUT("/speech-output", h.SetSpeechOutput)
	}
}

// GetState returns the session snapshot
// @Summary Get voice session state
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Security BearerAuth
// @Router /voice/state [get]
func (h *VoiceHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse{State: h.voice.Snapshot()})
}

// GetHistory returns the conversation so far
// @Summary Get conversation history
// @Tags Voice
// @Produce json
// @Success 200 {object} HistoryResponse
// @Security BearerAuth
// @Router /voice/history [get]
func (h *VoiceHandler) GetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, HistoryResponse{Messages: h.voice.History()})
}

// @Summary Get microphone and speaker levels
// @Tags Voice
// @Produce json
// @Success 200 {object} LevelsResponse
// @Security BearerAuth
// @Router /voice/levels [get]
func (h *VoiceHandler) GetLevels(c *gin.Context) {
	if h.meter == nil {
		c.JSON(http.StatusOK, LevelsResponse{})
		return
	}
	c.JSON(http.StatusOK, LevelsResponse{
		Input:  h.meter.InputLevel(),
		Output: h.meter.OutputLevels(),
	})
}

// GetDevices lists host audio devices
// @Summary List audio devices
// @Tags Voice
// @Produce json
// @Success 200 {object} DevicesResponse
// @Failure 500 {object} ErrorResponse "Device enumeration failed"
// @Failure 503 {object} ErrorResponse "No audio host"
// @Security BearerAuth
// @Router /voice/devices [get]
func (h *VoiceHandler) GetDevices(c *gin.Context) {
	if h.devices == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "No audio host"})
		return
	}
	devs, err := h.devices.Devices()
	if err != nil {
		h.logger.Errorf("list devices: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list audio devices",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, DevicesResponse{
		Devices:      devs,
		Capabilities: h.devices.Capabilities(),
	})
}

// SetMode switches between push-to-talk and voice-activated input
// @Summary Set input mode
// @Tags Voice
// @Accept json
// @Produce json
// @Param request body ModeRequest true "Input mode"
// @Success 200 {object} StateResponse
// @Failure 400 {object} ErrorResponse "Invalid mode"
// @Failure 409 {object} ErrorResponse "Device fault"
// @Security BearerAuth
// @Router /voice/mode [put]
func (h *VoiceHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	h.respond(c, h.voice.SetMode(req.Mode))
}

// @Summary Enable or disable spoken replies
// @Tags Voice
// @Accept json
// @Produce json
// @Param request body SpeechOutputRequest true "Speech output flag"
// @Success 200 {object} StateResponse
// @Failure 400 {object} ErrorResponse "Invalid request data"
// @Security BearerAuth
// @Router /voice/speech-output [put]
func (h *VoiceHandler) SetSpeechOutput(c *gin.Context) {
	var req SpeechOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	h.respond(c, h.voice.SetSpeechOutput(*req.Enabled))
}

// Press is the push-to-talk key going down
// @Summary Push-to-talk press
// @Description Starts recording, or interrupts a reply being spoken
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Failure 409 {object} ErrorResponse "Device fault"
// @Failure 503 {object} ErrorResponse "Session closed"
// @Security BearerAuth
// @Router /voice/press [post]
func (h *VoiceHandler) Press(c *gin.Context) {
	h.respond(c, h.voice.Press())
}

// Release is the push-to-talk key coming up
// @Summary Push-to-talk release
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Failure 503 {object} ErrorResponse "Session closed"
// @Security BearerAuth
// @Router /voice/release [post]
func (h *VoiceHandler) Release(c *gin.Context) {
	h.respond(c, h.voice.Release())
}

// @Summary Cancel the current turn
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Failure 503 {object} ErrorResponse "Session closed"
// @Security BearerAuth
// @Router /voice/cancel [post]
func (h *VoiceHandler) Cancel(c *gin.Context) {
	h.respond(c, h.voice.Cancel())
}

// @Summary Open voice mode
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Failure 409 {object} ErrorResponse "Device fault"
// @Failure 503 {object} ErrorResponse "Session closed"
// @Security BearerAuth
// @Router /voice/open [post]
func (h *VoiceHandler) Open(c *gin.Context) {
	h.respond(c, h.voice.Open())
}

// @Summary Close voice mode
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Failure 503 {object} ErrorResponse "Session closed"
// @Security BearerAuth
// @Router /voice/close [post]
func (h *VoiceHandler) Close(c *gin.Context) {
	h.respond(c, h.voice.Close())
}

// ResolveDevice clears a device fault and reopens input
// @Summary Resolve device fault
// @Tags Voice
// @Produce json
// @Success 200 {object} StateResponse
// @Failure 409 {object} ErrorResponse "Device still failing"
// @Failure 503 {object} ErrorResponse "Session closed"
// @Security BearerAuth
// @Router /voice/device/resolve [post]
func (h *VoiceHandler) ResolveDevice(c *gin.Context) {
	h.respond(c, h.voice.ResolveDevice())
}

func (h *VoiceHandler) respond(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, StateResponse{State: h.voice.Snapshot()})
		return
	}

	switch {
	case errors.Is(err, voice.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, voice.ErrDeviceFault):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   err.Error(),
			Details: h.voice.Snapshot().DeviceFault,
		})
	case errors.Is(err, voice.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Errorf("voice command failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Command failed",
			Details: err.Error(),
		})
	}
}
