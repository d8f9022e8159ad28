package web

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.conf.OAuthEnabled() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Error("unable to Read: ", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	state := base64.URLEncoding.EncodeToString(b)

	session, _ := s.cookies.Get(r, sessionName)
	session.Values["state"] = state
	if err := session.Save(r, w); err != nil {
		log.Error("unable to Save: ", err)
	}
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	session, err := s.cookies.Get(r, sessionName)
	if err != nil {
		http.Error(w, "aborted", http.StatusBadRequest)
		return
	}
	state, _ := session.Values["state"].(string)
	if state == "" || r.URL.Query().Get("state") != state {
		http.Error(w, "no state match; possible csrf OR cookies not enabled", http.StatusBadRequest)
		return
	}
	delete(session.Values, "state")

	token, err := s.oauth.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		log.Warnln("code exchange failed: ", err)
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}
	if !token.Valid() {
		http.Error(w, "retrieved invalid token", http.StatusBadGateway)
		return
	}

	user, err := s.lookup(r.Context(), token.AccessToken)
	if err != nil {
		log.Warnln("could not look up discord user: ", err)
		http.Error(w, "could not look up discord user", http.StatusBadGateway)
		return
	}

	session.Values["discordUserID"] = user.ID
	session.Values["discordUsername"] = user.Username
	if err := session.Save(r, w); err != nil {
		log.Error("unable to Save: ", err)
	}
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   sessionName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// requireLogin rejects requests without a logged in Discord user when OAuth
// is configured. Pages redirect to the login, API calls get a 401.
func (s *Server) requireLogin(redirect bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.conf.OAuthEnabled() {
				session, _ := s.cookies.Get(r, sessionName)
				if id, _ := session.Values["discordUserID"].(string); id == "" {
					if redirect {
						http.Redirect(w, r, "/login", http.StatusFound)
					} else {
						http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					}
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseIPPort(s string) (ip net.IP, port string, err error) {
	ip = net.ParseIP(s)
	if ip == nil {
		var host string
		host, port, err = net.SplitHostPort(s)
		if err != nil {
			return
		}
		if port != "" {
			if _, err = strconv.ParseUint(port, 10, 16); err != nil {
				return
			}
		}
		ip = net.ParseIP(host)
	}
	if ip == nil {
		err = errors.New("invalid address format")
	} else if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return
}

// anonymize masks the host part of a remote address.
func anonymize(remoteAddr string) (string, error) {
	ip, port, err := parseIPPort(remoteAddr)
	if err != nil {
		return "", err
	}
	anon, err := ipAnonymizer.IPString(ip.String())
	if err != nil {
		return "", err
	}
	if port == "" {
		return anon, nil
	}
	return net.JoinHostPort(anon, port), nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := anonymize(r.RemoteAddr)
		if err != nil {
			log.Warnln("Could not anonymize IP address for WebUI Request to " + r.RequestURI)
			addr = "unknown"
		}
		log.WithFields(log.Fields{"method": r.Method, "from": addr}).Infoln("WebUI Request to " + r.RequestURI)
		next.ServeHTTP(w, r)
	})
}
