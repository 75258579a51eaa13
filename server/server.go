// Package server implements the public site, the admin area and API, and
// websocket-driven gallery viewer sessions.
package server

import (
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cocomeza/alcontruccionessrl/auth"
	"github.com/cocomeza/alcontruccionessrl/media"
	"github.com/cocomeza/alcontruccionessrl/store"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Options wires the collaborators of a Server.
type Options struct {
	Projects store.ProjectStore
	Inbox    store.Inbox
	Objects  media.ObjectStore
	Identity auth.Identity
	Broker   auth.Broker
	Retry    auth.RetryPolicy
	// MediaDir is served under /media/ when set.
	MediaDir    string
	Company     string
	SessionTTL  time.Duration
	CORSOrigins []string
}

// Server encapsulates server-level global data
type Server struct {
	projects    store.ProjectStore
	inbox       store.Inbox
	objects     media.ObjectStore
	identity    auth.Identity
	bridge      *auth.Bridge
	broker      auth.Broker
	mediaDir    string
	company     string
	sessionTTL  time.Duration
	corsOrigins []string
	pages       map[string]*template.Template

	sessions map[string]*ViewerSession
	mutex    sync.RWMutex // guard sessions
}

// NewServer creates a server and parses its page templates.
func NewServer(opts Options) (*Server, error) {
	if opts.Projects == nil || opts.Inbox == nil || opts.Objects == nil || opts.Identity == nil {
		return nil, errors.New("server: projects, inbox, objects and identity are required")
	}
	broker := opts.Broker
	if broker == nil {
		broker = auth.NewBroker()
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = auth.DefaultRetryPolicy()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	return &Server{
		projects:    opts.Projects,
		inbox:       opts.Inbox,
		objects:     opts.Objects,
		identity:    opts.Identity,
		bridge:      auth.NewBridge(opts.Identity, retry),
		broker:      broker,
		mediaDir:    opts.MediaDir,
		company:     opts.Company,
		sessionTTL:  ttl,
		corsOrigins: opts.CORSOrigins,
		pages:       pages,
		sessions:    make(map[string]*ViewerSession),
	}, nil
}

func (s *Server) addSession(c *ViewerSession) {
	s.mutex.Lock()
	s.sessions[c.ID] = c
	s.mutex.Unlock()
}

func (s *Server) removeSession(c *ViewerSession) {
	s.mutex.Lock()
	if _c, ok := s.sessions[c.ID]; ok && _c == c {
		delete(s.sessions, c.ID)
	}
	s.mutex.Unlock()
}

// NumSessions returns the number of open viewer sessions.
func (s *Server) NumSessions() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// CloseSessions closes every open viewer session. Each viewer is closed,
// stopping its playback, and its websocket is shut. It is meant for
// http.Server.RegisterOnShutdown since Shutdown ignores hijacked
// connections.
func (s *Server) CloseSessions() {
	s.mutex.RLock()
	open := make([]*ViewerSession, 0, len(s.sessions))
	for _, c := range s.sessions {
		open = append(open, c)
	}
	s.mutex.RUnlock()
	for _, c := range open {
		c.shutdown()
	}
	if len(open) > 0 {
		log.Printf("closing %d viewer sessions", len(open))
	}
}

// Handler returns the site's router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter().StrictSlash(true)

	r.HandleFunc("/", s.handleHome).Methods("GET")
	r.HandleFunc("/obras", s.handleObras).Methods("GET")
	r.HandleFunc("/obras/{id}", s.handleObra).Methods("GET")
	r.HandleFunc("/contacto", s.handleContactForm).Methods("GET")
	r.HandleFunc("/contacto", s.handleContactSubmit).Methods("POST")

	r.HandleFunc("/admin/login", s.handleLoginForm).Methods("GET")
	r.HandleFunc("/admin/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/admin/logout", s.handleLogout).Methods("POST")
	r.Handle("/admin", s.requireAdminPage(http.HandlerFunc(s.handleDashboard))).Methods("GET")

	r.PathPrefix("/api/").Handler(s.apiHandler())

	r.HandleFunc("/ws/gallery", GetGalleryWSHandleFunc(s))
	r.Handle("/health", HealthHandler()).Methods("GET")

	static, _ := fs.Sub(staticFS, "static")
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	if s.mediaDir != "" {
		r.PathPrefix(media.DefaultBase + "/").Handler(
			http.StripPrefix(media.DefaultBase+"/", http.FileServer(noDirFS{http.Dir(s.mediaDir)})))
	}
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	return r
}

func (s *Server) apiHandler() http.Handler {
	api := NewRestMux(s)
	origins := s.corsOrigins
	if len(origins) == 0 {
		return cors.Default().Handler(api)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(api)
}

// HealthHandler returns a simple health check endpoint.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

// noDirFS hides directory listings of the media root.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
