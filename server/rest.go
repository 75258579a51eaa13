package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cocomeza/alcontruccionessrl/auth"
	"github.com/cocomeza/alcontruccionessrl/media"
	"github.com/cocomeza/alcontruccionessrl/store"
	"github.com/gorilla/mux"
)

const (
	sessionCookieName = "session"
	maxJSONBody       = 1 << 20
	// multipart overhead on top of the largest accepted file
	maxUploadBody = media.MaxVideoSize + 1<<20
)

type ServerInfoMsg struct {
	OK       bool `json:"ok"`
	NSession int  `json:"nsession"`
	NObra    int  `json:"nobra"`
}

type ObraMsg struct {
	OK   bool           `json:"ok"`
	Obra *store.Project `json:"obra"`
}

type ObrasMsg struct {
	OK    bool            `json:"ok"`
	Obras []store.Project `json:"obras"`
}

type SessionMsg struct {
	OK   bool       `json:"ok"`
	User *auth.User `json:"user"`
}

type UploadedMsg struct {
	OK   bool           `json:"ok"`
	URL  string         `json:"url"`
	Kind string         `json:"kind"`
	Obra *store.Project `json:"obra"`
}

// obraInput is the writable part of a project.
type obraInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	Videos      []string `json:"videos"`
	Category    string   `json:"category"`
	Featured    bool     `json:"featured"`
}

func (in *obraInput) apply(p *store.Project) {
	p.Title = in.Title
	p.Description = in.Description
	p.Images = in.Images
	p.Videos = in.Videos
	p.Category = in.Category
	p.Featured = in.Featured
}

func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {

	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

type userKey struct{}

func withUser(ctx context.Context, u *auth.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the admin authenticated by the middleware.
func UserFromContext(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(userKey{}).(*auth.User)
	return u, ok
}

// requestToken reads the session token from the bearer header or cookie.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) authenticate(r *http.Request) (*auth.User, error) {
	return s.identity.CurrentUser(r.Context(), requestToken(r))
}

func (s *Server) requireAdminAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r)
		if err != nil {
			if !errors.Is(err, auth.ErrNoSession) {
				log.Printf("authenticate %s: %v", r.RemoteAddr, err)
			}
			RespondWithError("Authentication required.", http.StatusUnauthorized, w)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func respondStoreError(err error, w http.ResponseWriter) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		RespondWithError("Obra not found.", http.StatusNotFound, w)
	case errors.Is(err, store.ErrMediaNotFound):
		RespondWithError("Media not found.", http.StatusNotFound, w)
	case errors.Is(err, store.ErrInvalidProject):
		RespondWithError(err.Error(), http.StatusBadRequest, w)
	default:
		log.Printf("store error: %v", err)
		RespondWithError("An internal error occurred.", http.StatusInternalServerError, w)
	}
}

func decodeObra(w http.ResponseWriter, r *http.Request) (*obraInput, bool) {
	var in obraInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&in); err != nil {
		RespondWithError("Invalid JSON body.", http.StatusBadRequest, w)
		return nil, false
	}
	return &in, true
}

func getStats(s *Server, w http.ResponseWriter, r *http.Request) {
	ps, err := s.projects.List(r.Context(), store.Filter{})
	if err != nil {
		respondStoreError(err, w)
		return
	}
	RespondWithJSON(&ServerInfoMsg{
		true,
		s.NumSessions(),
		len(ps),
	}, http.StatusOK, w)
}

func getSession(s *Server, w http.ResponseWriter, r *http.Request) {
	u, err := s.bridge.CurrentUser(r.Context(), requestToken(r))
	if err != nil {
		RespondWithError("No active session.", http.StatusUnauthorized, w)
		return
	}
	RespondWithJSON(&SessionMsg{true, u}, http.StatusOK, w)
}

func listObras(s *Server, w http.ResponseWriter, r *http.Request) {
	ps, err := s.projects.List(r.Context(), store.Filter{Category: r.URL.Query().Get("categoria")})
	if err != nil {
		respondStoreError(err, w)
		return
	}
	if ps == nil {
		ps = []store.Project{}
	}
	RespondWithJSON(&ObrasMsg{true, ps}, http.StatusOK, w)
}

func getObra(s *Server, w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(err, w)
		return
	}
	RespondWithJSON(&ObraMsg{true, p}, http.StatusOK, w)
}

func createObra(s *Server, w http.ResponseWriter, r *http.Request) {
	in, ok := decodeObra(w, r)
	if !ok {
		return
	}
	var p store.Project
	in.apply(&p)
	if err := s.projects.Insert(r.Context(), &p); err != nil {
		respondStoreError(err, w)
		return
	}
	log.Printf("obra %s created", p.ID)
	RespondWithJSON(&ObraMsg{true, &p}, http.StatusCreated, w)
}

func updateObra(s *Server, w http.ResponseWriter, r *http.Request) {
	in, ok := decodeObra(w, r)
	if !ok {
		return
	}
	p, err := s.projects.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(err, w)
		return
	}
	in.apply(p)
	if err := s.projects.Update(r.Context(), p); err != nil {
		respondStoreError(err, w)
		return
	}
	RespondWithJSON(&ObraMsg{true, p}, http.StatusOK, w)
}

func destroyObra(s *Server, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.projects.Get(r.Context(), id)
	if err != nil {
		respondStoreError(err, w)
		return
	}
	if err := s.projects.Delete(r.Context(), id); err != nil {
		respondStoreError(err, w)
		return
	}
	for _, u := range append(append([]string{}, p.Images...), p.Videos...) {
		s.deleteObject(r.Context(), u)
	}
	log.Printf("obra %s deleted", id)
	RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
}

// deleteObject removes the object behind u; URLs that are not ours are
// left alone.
func (s *Server) deleteObject(ctx context.Context, u string) {
	key, ok := s.objects.KeyFromURL(u)
	if !ok {
		return
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		log.Printf("delete object %s: %v", key, err)
	}
}

func uploadMedia(s *Server, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.projects.Get(r.Context(), id); err != nil {
		respondStoreError(err, w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		RespondWithError("Missing file.", http.StatusBadRequest, w)
		return
	}
	defer file.Close()

	kind, contentType, err := media.Validate(hdr.Filename, hdr.Size, file)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, media.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		RespondWithError(err.Error(), status, w)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		log.Printf("rewind upload %s: %v", hdr.Filename, err)
		RespondWithError("Upload failed.", http.StatusInternalServerError, w)
		return
	}
	key := media.NewKey(kind, hdr.Filename)
	if err := s.objects.Upload(r.Context(), key, io.LimitReader(file, hdr.Size), contentType); err != nil {
		log.Printf("upload %s: %v", key, err)
		RespondWithError("Upload failed.", http.StatusInternalServerError, w)
		return
	}
	u := s.objects.URL(key)
	p, err := s.projects.AddMedia(r.Context(), id, kind, u)
	if err != nil {
		s.deleteObject(r.Context(), u)
		respondStoreError(err, w)
		return
	}
	log.Printf("obra %s: uploaded %s %s", p.ID, kind, key)
	RespondWithJSON(&UploadedMsg{true, u, kind.String(), p}, http.StatusCreated, w)
}

func removeMedia(s *Server, w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		RespondWithError("Missing url.", http.StatusBadRequest, w)
		return
	}
	p, err := s.projects.RemoveMedia(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		respondStoreError(err, w)
		return
	}
	s.deleteObject(r.Context(), u)
	RespondWithJSON(&ObraMsg{true, p}, http.StatusOK, w)
}

// NewRestMux makes the admin JSON API servemux of server
func NewRestMux(server *Server) http.Handler {
	restMux := mux.NewRouter().StrictSlash(true)
	api := restMux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		getSession(server, w, r)
	}).Methods("GET")
	api.HandleFunc("/session/events", func(w http.ResponseWriter, r *http.Request) {
		watchSession(server, w, r)
	}).Methods("GET")

	admin := api.NewRoute().Subrouter()
	admin.Use(server.requireAdminAPI)
	admin.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		getStats(server, w, r)
	}).Methods("GET")
	admin.HandleFunc("/obras", func(w http.ResponseWriter, r *http.Request) {
		listObras(server, w, r)
	}).Methods("GET")
	admin.HandleFunc("/obras", func(w http.ResponseWriter, r *http.Request) {
		createObra(server, w, r)
	}).Methods("POST")
	admin.HandleFunc("/obras/{id}", func(w http.ResponseWriter, r *http.Request) {
		getObra(server, w, r)
	}).Methods("GET")
	admin.HandleFunc("/obras/{id}", func(w http.ResponseWriter, r *http.Request) {
		updateObra(server, w, r)
	}).Methods("PUT")
	admin.HandleFunc("/obras/{id}", func(w http.ResponseWriter, r *http.Request) {
		destroyObra(server, w, r)
	}).Methods("DELETE")
	admin.HandleFunc("/obras/{id}/media", func(w http.ResponseWriter, r *http.Request) {
		uploadMedia(server, w, r)
	}).Methods("POST")
	admin.HandleFunc("/obras/{id}/media", func(w http.ResponseWriter, r *http.Request) {
		removeMedia(server, w, r)
	}).Methods("DELETE")
	restMux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError("Not found.", http.StatusNotFound, w)
	})
	return restMux
}
