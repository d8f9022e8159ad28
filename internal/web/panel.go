package web

import (
	"html/template"
	"math"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/toksikk/soundfx/internal/sfx"
)

var templateFuncs = template.FuncMap{
	"percent": func(v float64) int { return int(math.Round(v * 100)) },
}

type panelData struct {
	User         string
	OAuth        bool
	Master       float64
	Effects      []effectView
	Entities     []sfx.Entity
	ShowPlaylist bool
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := panelData{
		OAuth:        s.conf.OAuthEnabled(),
		Master:       s.ctrl.MasterVolume(),
		Effects:      s.effects(ctx),
		ShowPlaylist: s.conf.Panel.ShowPlaylist,
	}
	if session, err := s.cookies.Get(r, sessionName); err == nil {
		data.User, _ = session.Values["discordUsername"].(string)
	}

	entities, err := s.store.Entities(ctx)
	if err != nil {
		log.Error("could not list entities: ", err)
	}
	for _, e := range entities {
		if s.conf.Allows(e.Kind, e.ActorType) {
			data.Entities = append(data.Entities, e)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "panel.html", data); err != nil {
		log.Error("unable to execute template: ", err)
	}
}
