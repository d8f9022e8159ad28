// Package web serves the control panel listing active sound effects and the
// HTTP API driving the sound controller.
package web

import (
	"context"
	"crypto/rand"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/simplesurance/go-ip-anonymizer/ipanonymizer"
	log "github.com/sirupsen/logrus"
	"github.com/toksikk/soundfx/internal/cfg"
	"github.com/toksikk/soundfx/internal/sfx"
	"golang.org/x/oauth2"
)

const sessionName = "soundfx-session"

//go:embed templates
var templateFS embed.FS

var (
	discordEndpoint = oauth2.Endpoint{
		AuthURL:  "https://discord.com/api/oauth2/authorize",
		TokenURL: "https://discord.com/api/oauth2/token",
	}

	ipAnonymizer = ipanonymizer.NewWithMask(
		net.CIDRMask(16, 32),
		net.CIDRMask(64, 128),
	)
)

// Store is the persistence the panel reads and edits entities through.
type Store interface {
	sfx.FlagStore
	sfx.EntityStore
	UnsetFlag(ctx context.Context, document, namespace, key string) error
	Flags(ctx context.Context, document, namespace string) (map[string]string, error)
	Entities(ctx context.Context) ([]sfx.Entity, error)
	SaveEntity(ctx context.Context, e sfx.Entity) error
	DeleteEntity(ctx context.Context, uuid string) error
}

// UserLookup resolves an OAuth access token to the Discord user owning it.
type UserLookup func(ctx context.Context, accessToken string) (*discordgo.User, error)

// Server is the control panel.
type Server struct {
	conf  *cfg.Config
	ctrl  *sfx.Controller
	store Store
	clock clockwork.Clock

	cookies *sessions.CookieStore
	oauth   *oauth2.Config
	lookup  UserLookup
	tmpl    *template.Template
	router  *mux.Router
	hub     *hub

	mu      sync.Mutex
	dialogs map[string]*sfx.Dialog
}

// New builds the panel for ctrl.
func New(conf *cfg.Config, ctrl *sfx.Controller, store Store, clock clockwork.Clock) (*Server, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	key := []byte(conf.Web.SessionKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		conf:    conf,
		ctrl:    ctrl,
		store:   store,
		clock:   clock,
		cookies: sessions.NewCookieStore(key),
		oauth: &oauth2.Config{
			ClientID:     conf.Web.Oauth.ClientID,
			ClientSecret: conf.Web.Oauth.ClientSecret,
			RedirectURL:  conf.Web.Oauth.RedirectURI,
			Scopes:       []string{"identify"},
			Endpoint:     discordEndpoint,
		},
		lookup:  discordUser,
		tmpl:    tmpl,
		hub:     newHub(),
		dialogs: make(map[string]*sfx.Dialog),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/callback", s.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/logout", s.handleLogout)

	r.Handle("/", s.requireLogin(true)(http.HandlerFunc(s.handlePanel))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireLogin(false))
	api.HandleFunc("/effects", s.handleEffects).Methods(http.MethodGet)
	api.HandleFunc("/effects/{id}", s.handleStopEffect).Methods(http.MethodDelete)
	api.HandleFunc("/effects/{id}/volume", s.handleEffectVolume).Methods(http.MethodPut)
	api.HandleFunc("/volume", s.handleMasterVolume).Methods(http.MethodGet, http.MethodPut)
	api.HandleFunc("/entities", s.handleEntities).Methods(http.MethodGet)
	api.HandleFunc("/entities/{uuid}", s.handleSaveEntity).Methods(http.MethodPut)
	api.HandleFunc("/entities/{uuid}", s.handleDeleteEntity).Methods(http.MethodDelete)
	api.HandleFunc("/entities/{uuid}/sound", s.handleSetSound).Methods(http.MethodPut)
	api.HandleFunc("/entities/{uuid}/toggle", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/entities/{uuid}/flags", s.handleFlags).Methods(http.MethodGet)
	api.HandleFunc("/entities/{uuid}/flags/{flag}", s.handleSetFlag).Methods(http.MethodPut, http.MethodDelete)
	api.HandleFunc("/preview", s.handlePreview).Methods(http.MethodPost)
	api.HandleFunc("/combat/turn", s.handleTurn).Methods(http.MethodPost)
	api.HandleFunc("/render", s.handleRender).Methods(http.MethodPost)
	api.HandleFunc("/enrich", s.handleEnrich).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.router = r
}

// Handler returns the panel's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on the configured port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.conf.Web.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnln("could not shut down webserver: ", err)
		}
		s.hub.closeAll()
	}()
	log.Infoln("Starting webserver on port " + strconv.Itoa(s.conf.Web.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Refresh tells connected panels to reload the effect list.
func (s *Server) Refresh() {
	s.hub.broadcast(event{Type: "refresh"})
}

// Notify shows err to connected panels.
func (s *Server) Notify(err error) {
	log.Warnln("notifying panels: ", err)
	s.hub.broadcast(event{Type: "notify", Message: err.Error()})
}

func discordUser(_ context.Context, accessToken string) (*discordgo.User, error) {
	dg, err := discordgo.New("Bearer " + accessToken)
	if err != nil {
		return nil, err
	}
	defer dg.Close()
	return dg.User("@me")
}
