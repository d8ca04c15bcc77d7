package api

import (
	"time"

	"github.com/google/uuid"

	"asyncedit/internal/model"
	"asyncedit/internal/session"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

type CreateSessionRequest struct {
	Actor       uuid.UUID `json:"actor" validate:"required"`
	World       string    `json:"world" validate:"required,max=64"`
	AsyncForced bool      `json:"asyncForced"`
}

// SessionResponse describes an open session.
type SessionResponse struct {
	ID    uuid.UUID `json:"id"`
	Actor uuid.UUID `json:"actor"`
	World string    `json:"world"`
	session.State
	ChangeCount int `json:"changeCount"`
	Limit       int `json:"limit"`
}

type AsyncForcedRequest struct {
	Forced *bool `json:"forced" validate:"required"`
}

type LimitRequest struct {
	Limit *int `json:"limit" validate:"required,gte=-1"`
}

type CheckResponse struct {
	Operation string `json:"operation"`
	Async     bool   `json:"async"`
	Known     bool   `json:"known"`
}

type SetBlockRequest struct {
	Type  uint16 `json:"type"`
	Data  uint8  `json:"data" validate:"lte=15"`
	Job   *int   `json:"job" validate:"omitempty,gte=0"`
	IfAir bool   `json:"ifAir"`
}

type SetBlockResponse struct {
	Changed bool `json:"changed"`
}

// BlockResponse carries the fields requested by the read kind.
type BlockResponse struct {
	Position model.Position `json:"position"`
	Type     *uint16        `json:"type,omitempty"`
	Data     *uint8         `json:"data,omitempty"`
	Lazy     bool           `json:"lazy,omitempty"`
}

type FillRequest struct {
	Operation string         `json:"operation" validate:"required,max=32"`
	Job       *int           `json:"job" validate:"omitempty,gte=0"`
	From      model.Position `json:"from"`
	To        model.Position `json:"to"`
	Type      uint16         `json:"type"`
	Data      uint8          `json:"data" validate:"lte=15"`
}

type FillResponse struct {
	Changed int `json:"changed"`
}

type PreferenceRequest struct {
	Async *bool `json:"async" validate:"required"`
}

type PreferenceResponse struct {
	Actor uuid.UUID `json:"actor"`
	// Async is absent when the actor has no stored preference.
	Async *bool `json:"async,omitempty"`
}

type ChangeRecord struct {
	World      string         `json:"world"`
	Position   model.Position `json:"position"`
	Block      model.Block    `json:"block"`
	Job        int            `json:"job"`
	Async      bool           `json:"async"`
	Applied    bool           `json:"applied"`
	Error      string         `json:"error,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

func jobOf(job *int) model.JobID {
	if job == nil {
		return model.NoJob
	}
	return model.JobID(*job)
}
