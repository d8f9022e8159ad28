package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"

	humanize "github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/toksikk/soundfx/internal/datastore"
	"github.com/toksikk/soundfx/internal/sfx"
	"github.com/toksikk/soundfx/internal/soundlink"
	"github.com/toksikk/soundfx/internal/util"
)

const maxBody = 1 << 20

type effectView struct {
	ID       string  `json:"id"`
	EntityID string  `json:"entity"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Volume   float64 `json:"volume"`
	Gain     float64 `json:"gain"`
	Position string  `json:"position"`
	Duration string  `json:"duration"`
	Started  string  `json:"started"`
	Remote   bool    `json:"remote"`
}

type entityView struct {
	UUID      string  `json:"uuid"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	ActorType string  `json:"actorType,omitempty"`
	// SoundSource links a token to the actor holding its sound.
	SoundSource string  `json:"soundSource,omitempty"`
	Sound       string  `json:"sound"`
	Volume      float64 `json:"volume"`
	Allowed     bool    `json:"allowed"`
	Playing     bool    `json:"playing"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnln("could not encode response: ", err)
	}
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, sfx.ErrMissingEntity) {
		status = http.StatusNotFound
	} else {
		log.Error("request failed: ", err)
	}
	http.Error(w, http.StatusText(status), status)
}

// flagSet reports whether a boolean flag is set on the entity's sound document.
func (s *Server) flagSet(ctx context.Context, e *sfx.Entity, key string) bool {
	v, ok, err := s.store.GetFlag(ctx, e.FlagDocument(), s.conf.Namespaces().Primary, key)
	return err == nil && ok && v == "true"
}

func (s *Server) effects(ctx context.Context) []effectView {
	now := s.clock.Now()
	list := s.ctrl.Registry().List()
	views := make([]effectView, 0, len(list))
	for _, ef := range list {
		h := ef.Handle
		name := h.Name
		if e, err := s.store.Entity(ctx, h.EntityID); err == nil {
			if s.flagSet(ctx, e, sfx.FlagHidePlaylist) {
				continue
			}
			if s.flagSet(ctx, e, sfx.FlagHideName) {
				name = path.Base(h.Path)
			}
		}
		if !s.conf.Panel.ShowNames {
			name = path.Base(h.Path)
		}
		d := h.Duration()
		views = append(views, effectView{
			ID:       ef.ID,
			EntityID: h.EntityID,
			Name:     name,
			Path:     h.Path,
			Volume:   h.EffectiveVolume,
			Gain:     h.Gain(),
			Position: util.FormatTimestamp(h.Position(), false),
			Duration: util.FormatTimestamp(d, d == 0),
			Started:  humanize.RelTime(h.StartedAt(), now, "ago", "from now"),
			Remote:   h.Origin == sfx.OriginRemote,
		})
	}
	return views
}

func (s *Server) handleEffects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.effects(r.Context()))
}

func (s *Server) handleStopEffect(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Registry().Stop(mux.Vars(r)["id"]) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

func (s *Server) handleEffectVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.ctrl.Registry().SetVolume(mux.Vars(r)["id"], req.Volume) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMasterVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var req volumeRequest
		if err := readJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.ctrl.SetMasterVolume(req.Volume)
	}
	writeJSON(w, http.StatusOK, volumeRequest{Volume: s.ctrl.MasterVolume()})
}

func (s *Server) sounder(e sfx.Entity) *sfx.Sounder {
	return sfx.NewSounder(e, s.store, s.conf.Namespaces())
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entities, err := s.store.Entities(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		spec, err := s.sounder(e).Sound(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		_, playing := s.ctrl.Handle(e.UUID)
		views = append(views, entityView{
			UUID:        e.UUID,
			Name:        e.Name,
			Kind:        string(e.Kind),
			ActorType:   e.ActorType,
			SoundSource: e.SoundSource,
			Sound:       spec.Path,
			Volume:      spec.Volume,
			Allowed:     s.conf.Allows(e.Kind, e.ActorType),
			Playing:     playing,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSaveEntity(w http.ResponseWriter, r *http.Request) {
	var req entityView
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e := sfx.Entity{
		UUID:        mux.Vars(r)["uuid"],
		Name:        req.Name,
		Kind:        sfx.Kind(req.Kind),
		ActorType:   req.ActorType,
		SoundSource: req.SoundSource,
	}
	switch e.Kind {
	case sfx.KindToken, sfx.KindActor, sfx.KindItem:
	default:
		http.Error(w, "unknown entity kind", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveEntity(r.Context(), e); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	if err := s.store.DeleteEntity(r.Context(), uuid); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.Discard(uuid)
	w.WriteHeader(http.StatusNoContent)
}

// hideFlags are the panel toggles settable through the API.
var hideFlags = map[string]bool{
	sfx.FlagHideName:     true,
	sfx.FlagHidePlaylist: true,
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := s.store.Entity(ctx, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	flags, err := s.store.Flags(ctx, e.FlagDocument(), s.conf.Namespaces().Primary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

// handleSetFlag turns a hide flag on with PUT and off with DELETE.
func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flag := vars["flag"]
	if !hideFlags[flag] {
		http.Error(w, "unknown flag", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	e, err := s.store.Entity(ctx, vars["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	ns := s.conf.Namespaces().Primary
	if r.Method == http.MethodPut {
		err = s.store.SetFlag(ctx, e.FlagDocument(), ns, flag, "true")
	} else if err = s.store.UnsetFlag(ctx, e.FlagDocument(), ns, flag); errors.Is(err, datastore.ErrFlagNotFound) {
		err = nil
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

type soundRequest struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name,omitempty"`
	Path   string  `json:"path"`
	Volume float64 `json:"volume"`
}

func (s *Server) handleSetSound(w http.ResponseWriter, r *http.Request) {
	var req soundRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	e, err := s.store.Entity(ctx, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.SetSound(ctx, s.sounder(*e), req.Path, req.Volume); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleResponse struct {
	Result sfx.Action `json:"result"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	action := sfx.Action(r.URL.Query().Get("action"))
	switch action {
	case sfx.ActionNone, sfx.ActionPlay, sfx.ActionStop:
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	e, err := s.store.Entity(ctx, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.conf.Allows(e.Kind, e.ActorType) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	result, err := s.ctrl.Toggle(ctx, s.sounder(*e), sfx.ToggleOptions{Action: action})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Result: result})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req soundRequest
	if err := readJSON(r, &req); err != nil || req.ID == "" {
		http.Error(w, "preview needs an id", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	p := sfx.NormalizePath(req.Path)

	s.mu.Lock()
	d, ok := s.dialogs[req.ID]
	if !ok {
		d = sfx.NewDialog(req.ID, req.Name, p, req.Volume)
		s.dialogs[req.ID] = d
	}
	s.mu.Unlock()
	if err := d.SetSound(ctx, p, req.Volume); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.ctrl.Preview(ctx, d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Result: result})
}

type turnRequest struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	lookup := func(uuid string) (sfx.SoundCapable, error) {
		if uuid == "" {
			return nil, nil
		}
		e, err := s.store.Entity(ctx, uuid)
		if errors.Is(err, sfx.ErrMissingEntity) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return s.sounder(*e), nil
	}
	prev, err := lookup(req.Previous)
	if err != nil {
		writeError(w, err)
		return
	}
	cur, err := lookup(req.Current)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.AdvanceTurn(ctx, prev, cur); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	s.ctrl.RequestRender(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type enrichRequest struct {
	Text string `json:"text"`
}

type enrichResponse struct {
	HTML  string           `json:"html"`
	Links []soundlink.Link `json:"links"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, enrichResponse{
		HTML:  soundlink.Enrich(req.Text),
		Links: soundlink.Parse(req.Text),
	})
}
