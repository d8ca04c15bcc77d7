package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"asyncedit/internal/model"
	"asyncedit/internal/session"
)

const (
	maxFillVolume   = 1 << 18
	defaultChanges  = 50
	maxChangesLimit = 1000
)

func describe(id uuid.UUID, sess *session.Session) SessionResponse {
	return SessionResponse{
		ID:          id,
		Actor:       sess.Actor(),
		World:       sess.World(),
		State:       sess.State(),
		ChangeCount: sess.ChangeCount(),
		Limit:       sess.Limit(),
	}
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	var id uuid.UUID
	if err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id); err != nil {
		return uuid.Nil, badRequest("invalid format for parameter id: %v", err)
	}
	return id, nil
}

func actorID(r *http.Request) (uuid.UUID, error) {
	var id uuid.UUID
	if err := runtime.BindStyledParameterWithLocation("simple", false, "actor", runtime.ParamLocationPath, chi.URLParam(r, "actor"), &id); err != nil {
		return uuid.Nil, badRequest("invalid format for parameter actor: %v", err)
	}
	return id, nil
}

func position(r *http.Request) (model.Position, error) {
	var pos model.Position
	for _, p := range []struct {
		name string
		dest *int
	}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}} {
		if err := runtime.BindStyledParameterWithLocation("simple", false, p.name, runtime.ParamLocationPath, chi.URLParam(r, p.name), p.dest); err != nil {
			return model.Position{}, badRequest("invalid format for parameter %s: %v", p.name, err)
		}
	}
	if !pos.Valid() {
		return model.Position{}, model.ErrInvalidPosition
	}
	return pos, nil
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id, _, err := s.sessions.Open(req.Actor, req.World)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var resp SessionResponse
	err = s.sessions.Do(id, func(sess *session.Session) error {
		sess.SetAsyncForced(req.AsyncForced)
		resp = describe(id, sess)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("session opened", "session", id.String(), "actor", req.Actor.String(), "world", req.World)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(id uuid.UUID, sess *session.Session) (any, error) {
		return describe(id, sess), nil
	})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.sessions.Close(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setAsyncForced(w http.ResponseWriter, r *http.Request) {
	var req AsyncForcedRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.withSession(w, r, func(id uuid.UUID, sess *session.Session) (any, error) {
		sess.SetAsyncForced(*req.Forced)
		return describe(id, sess), nil
	})
}

func (s *Server) resetAsync(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(id uuid.UUID, sess *session.Session) (any, error) {
		sess.ResetAsync()
		return describe(id, sess), nil
	})
}

func (s *Server) setLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.withSession(w, r, func(id uuid.UUID, sess *session.Session) (any, error) {
		sess.SetLimit(*req.Limit)
		return describe(id, sess), nil
	})
}

func (s *Server) checkOperation(w http.ResponseWriter, r *http.Request) {
	var op string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "operation", runtime.ParamLocationPath, chi.URLParam(r, "operation"), &op); err != nil {
		s.fail(w, r, badRequest("invalid format for parameter operation: %v", err))
		return
	}
	kind := model.OperationKind(strings.ToLower(op))
	s.withSession(w, r, func(_ uuid.UUID, sess *session.Session) (any, error) {
		return CheckResponse{Operation: string(kind), Async: sess.CheckAsync(kind), Known: kind.Known()}, nil
	})
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(id uuid.UUID, sess *session.Session) (any, error) {
		if err := sess.Flush(r.Context()); err != nil {
			return nil, err
		}
		return describe(id, sess), nil
	})
}

func (s *Server) putBlock(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req SetBlockRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	block := model.Block{Type: req.Type, Data: req.Data}
	s.withSession(w, r, func(_ uuid.UUID, sess *session.Session) (any, error) {
		var (
			changed bool
			err     error
		)
		if req.IfAir {
			changed, err = sess.SetBlockIfAir(r.Context(), pos, block, jobOf(req.Job))
		} else {
			changed, err = sess.SetBlock(r.Context(), pos, block, jobOf(req.Job))
		}
		if err != nil {
			return nil, err
		}
		return SetBlockResponse{Changed: changed}, nil
	})
}

func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var kind *string
	if err := runtime.BindQueryParameter("form", true, false, "kind", r.URL.Query(), &kind); err != nil {
		s.fail(w, r, badRequest("invalid format for parameter kind: %v", err))
		return
	}
	read := "block"
	if kind != nil {
		read = *kind
	}

	id, err := sessionID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := BlockResponse{Position: pos}
	err = s.sessions.Read(id, func(sess *session.Session) error {
		ctx := r.Context()
		switch read {
		case "block":
			b, err := sess.Block(ctx, pos)
			resp.Type, resp.Data = &b.Type, &b.Data
			return err
		case "data":
			d, err := sess.BlockData(ctx, pos)
			resp.Data = &d
			return err
		case "type":
			t, err := sess.BlockType(ctx, pos)
			resp.Type = &t
			return err
		case "lazy":
			l, err := sess.LazyBlock(ctx, pos)
			if err != nil {
				return err
			}
			b, err := l.Resolve()
			resp.Type, resp.Data, resp.Lazy = &b.Type, &b.Data, true
			return err
		default:
			return badRequest("unknown read kind %q", read)
		}
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !req.From.Valid() || !req.To.Valid() {
		s.fail(w, r, model.ErrInvalidPosition)
		return
	}
	if _, ok := fillVolume(req.From, req.To); !ok {
		s.fail(w, r, badRequest("fill exceeds %d blocks", maxFillVolume))
		return
	}
	kind := model.OperationKind(strings.ToLower(req.Operation))
	pattern := model.BlockPattern(model.Block{Type: req.Type, Data: req.Data})
	s.withSession(w, r, func(_ uuid.UUID, sess *session.Session) (any, error) {
		n, err := sess.Fill(r.Context(), kind, req.From, req.To, pattern, jobOf(req.Job))
		if err != nil {
			return nil, err
		}
		return FillResponse{Changed: n}, nil
	})
}

// fillVolume returns the block count of the cuboid between a and b. ok is
// false when the count exceeds maxFillVolume; each span is checked before
// multiplying so the product cannot wrap.
func fillVolume(a, b model.Position) (v uint64, ok bool) {
	v = 1
	for _, s := range [3][2]int{{a.X, b.X}, {a.Y, b.Y}, {a.Z, b.Z}} {
		lo, hi := s[0], s[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		d := uint64(hi) - uint64(lo)
		if d >= maxFillVolume {
			return 0, false
		}
		v *= d + 1
		if v > maxFillVolume {
			return 0, false
		}
	}
	return v, true
}

func (s *Server) getPreference(w http.ResponseWriter, r *http.Request) {
	actor, err := s.preferenceActor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := PreferenceResponse{Actor: actor}
	if async, ok := s.prefs.Preference(actor); ok {
		resp.Async = &async
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) putPreference(w http.ResponseWriter, r *http.Request) {
	actor, err := s.preferenceActor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req PreferenceRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.prefs.SetPreference(actor, *req.Async); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PreferenceResponse{Actor: actor, Async: req.Async})
}

func (s *Server) deletePreference(w http.ResponseWriter, r *http.Request) {
	actor, err := s.preferenceActor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.prefs.ClearPreference(actor); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) preferenceActor(r *http.Request) (uuid.UUID, error) {
	if s.prefs == nil {
		return uuid.Nil, errNotImplemented
	}
	return actorID(r)
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	if s.changes == nil {
		s.fail(w, r, errNotImplemented)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.fail(w, r, badRequest("invalid format for parameter limit: %v", err))
		return
	}
	n := defaultChanges
	if limit != nil {
		n = *limit
	}
	if n <= 0 || n > maxChangesLimit {
		s.fail(w, r, badRequest("limit must be between 1 and %d", maxChangesLimit))
		return
	}

	records, err := s.changes.Recent(r.Context(), actor, n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]ChangeRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, ChangeRecord{
			World:      rec.World,
			Position:   rec.Position,
			Block:      rec.Block,
			Job:        int(rec.Job),
			Async:      rec.Async,
			Applied:    rec.Applied,
			Error:      rec.Error,
			RecordedAt: rec.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// withSession runs fn with exclusive use of the session named in the path
// and writes its result as JSON.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID, *session.Session) (any, error)) {
	id, err := sessionID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var resp any
	err = s.sessions.Do(id, func(sess *session.Session) error {
		var err error
		resp, err = fn(id, sess)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
