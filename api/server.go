// Package api exposes the chat endpoints over HTTP. It is a thin boundary:
// requests are validated, handed to the assistant (and the transcriber for
// audio), and failures collapse into fixed user-facing messages — raw error
// details are never returned to the end user.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"goa.design/clue/log"
)

type (
	// Assistant answers questions; satisfied by *assistant.Assistant.
	Assistant interface {
		Answer(ctx context.Context, question string) (string, error)
	}

	// Transcriber converts recorded speech to text; satisfied by
	// *transcribe.Service.
	Transcriber interface {
		Transcribe(ctx context.Context, audio []byte) (string, error)
	}

	// Server holds the handlers for the chat routes.
	Server struct {
		assistant   Assistant
		transcriber Transcriber
	}

	chatRequest struct {
		Question string `json:"question"`
	}

	chatResponse struct {
		Answer string `json:"answer"`
	}

	chatAudioResponse struct {
		Transcript string `json:"transcript"`
		Answer     string `json:"answer"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// New builds a Server.
func New(assistant Assistant, transcriber Transcriber) *Server {
	return &Server{assistant: assistant, transcriber: transcriber}
}

// Register mounts the chat routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/api/chat", s.chat)
	e.POST("/api/chat-audio", s.chatAudio)
}

func (s *Server) chat(c *echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Question is required"})
	}
	answer, err := s.assistant.Answer(ctx, req.Question)
	if err != nil {
		log.Errorf(ctx, err, "chat request failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to process question"})
	}
	log.Info(ctx, log.KV{K: "msg", V: "chat answered"},
		log.KV{K: "duration_ms", V: time.Since(start).Milliseconds()})
	return c.JSON(http.StatusOK, chatResponse{Answer: answer})
}

func (s *Server) chatAudio(c *echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	file, _, err := c.Request().FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Audio file is required"})
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		log.Errorf(ctx, err, "read audio upload")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to process audio"})
	}
	transcript, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.Errorf(ctx, err, "transcription failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to process audio"})
	}
	answer, err := s.assistant.Answer(ctx, transcript)
	if err != nil {
		log.Errorf(ctx, err, "chat-audio request failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to process audio"})
	}
	log.Info(ctx, log.KV{K: "msg", V: "chat-audio answered"},
		log.KV{K: "duration_ms", V: time.Since(start).Milliseconds()})
	return c.JSON(http.StatusOK, chatAudioResponse{Transcript: transcript, Answer: answer})
}
