package server

import (
	"bytes"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cocomeza/alcontruccionessrl/auth"
	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/cocomeza/alcontruccionessrl/store"
	"github.com/gorilla/mux"
)

const featuredLimit = 6

var pageNames = []string{"home", "obras", "obra", "contacto", "login", "admin", "error"}

var templateFuncs = template.FuncMap{
	"formatTime": gallery.FormatTime,
	"year":       func() int { return time.Now().Year() },
	"date":       func(t time.Time) string { return t.Format("02/01/2006") },
	"isVideo":    func(it gallery.MediaItem) bool { return it.IsVideo() },
	"cover": func(p store.Project) string {
		if len(p.Images) > 0 {
			return p.Images[0]
		}
		return ""
	},
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		pages[name] = t
	}
	return pages, nil
}

// pageData is embedded in every page model.
type pageData struct {
	Company string
	Title   string
	Nav     string
}

func (s *Server) page(title, nav string) pageData {
	return pageData{Company: s.company, Title: title, Nav: nav}
}

// render buffers the page so a template error can still become a 500.
func (s *Server) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := s.pages[name].Execute(&buf, data); err != nil {
		log.Printf("render %s: %v", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

type errorPage struct {
	pageData
	Status  int
	Message string
}

func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	s.render(w, status, "error", &errorPage{s.page(http.StatusText(status), ""), status, msg})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderError(w, http.StatusNotFound, "La página que buscás no existe.")
}

type homePage struct {
	pageData
	Featured []store.Project
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ps, err := s.projects.List(r.Context(), store.Filter{FeaturedOnly: true, Limit: featuredLimit})
	if err != nil {
		log.Printf("list featured obras: %v", err)
		s.renderError(w, http.StatusInternalServerError, "No pudimos cargar las obras.")
		return
	}
	s.render(w, http.StatusOK, "home", &homePage{s.page("Inicio", "home"), ps})
}

type obrasPage struct {
	pageData
	Obras      []store.Project
	Categories []string
	Category   string
}

func (s *Server) handleObras(w http.ResponseWriter, r *http.Request) {
	all, err := s.projects.List(r.Context(), store.Filter{})
	if err != nil {
		log.Printf("list obras: %v", err)
		s.renderError(w, http.StatusInternalServerError, "No pudimos cargar las obras.")
		return
	}
	cat := strings.TrimSpace(r.URL.Query().Get("categoria"))
	var shown []store.Project
	var cats []string
	seen := map[string]bool{}
	for i := range all {
		p := &all[i]
		if p.Category != "" && !seen[strings.ToLower(p.Category)] {
			seen[strings.ToLower(p.Category)] = true
			cats = append(cats, p.Category)
		}
		if cat == "" || strings.EqualFold(cat, p.Category) {
			shown = append(shown, *p)
		}
	}
	s.render(w, http.StatusOK, "obras", &obrasPage{s.page("Obras", "obras"), shown, cats, cat})
}

// thumbLink is a thumbnail with the no-script link that opens it.
type thumbLink struct {
	gallery.Thumb
	Href string
}

type obraPage struct {
	pageData
	Obra     *store.Project
	Controls gallery.ControlsView
	Thumbs   []thumbLink
	PrevHref string
	NextHref string
	Index    int
	Kind     string
}

// itemHref is the detail page URL opening timeline position k.
func itemHref(id string, nImages, k int, tl []gallery.MediaItem) string {
	if tl[k].IsVideo() {
		return "/obras/" + id + "?i=" + strconv.Itoa(k-nImages) + "&kind=video"
	}
	return "/obras/" + id + "?i=" + strconv.Itoa(k) + "&kind=imagen"
}

func (s *Server) handleObra(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.projects.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.renderError(w, http.StatusNotFound, "La obra no existe.")
		return
	}
	if err != nil {
		log.Printf("load obra %s: %v", id, err)
		s.renderError(w, http.StatusInternalServerError, "No pudimos cargar la obra.")
		return
	}
	q := r.URL.Query()
	idx, _ := strconv.Atoi(q.Get("i"))
	kind, ok := gallery.ParseMediaKind(q.Get("kind"))
	if !ok {
		kind = gallery.MediaKindImage
	}
	v := gallery.New(gallery.Options{
		Images:       p.Images,
		Videos:       p.Videos,
		InitialIndex: idx,
		InitialKind:  kind,
	})
	data := &obraPage{
		pageData: s.page(p.Title, "obras"),
		Obra:     p,
		Controls: v.Controls(),
		Index:    idx,
		Kind:     kind.String(),
	}
	if !v.Empty() {
		tl := v.Timeline()
		n := len(tl)
		// the websocket viewer opens on the item actually shown
		data.Index, data.Kind = v.Index(), gallery.MediaKindImage.String()
		if tl[v.Index()].IsVideo() {
			data.Index, data.Kind = v.Index()-len(p.Images), gallery.MediaKindVideo.String()
		}
		for _, t := range data.Controls.Thumbs {
			data.Thumbs = append(data.Thumbs, thumbLink{t, itemHref(p.ID, len(p.Images), t.Index, tl)})
		}
		if n > 1 {
			data.PrevHref = itemHref(p.ID, len(p.Images), (v.Index()-1+n)%n, tl)
			data.NextHref = itemHref(p.ID, len(p.Images), (v.Index()+1)%n, tl)
		}
	}
	s.render(w, http.StatusOK, "obra", data)
}

type contactPage struct {
	pageData
	Form   store.ContactMessage
	Errors map[string]string
	Sent   bool
}

func (s *Server) handleContactForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "contacto", &contactPage{
		pageData: s.page("Contacto", "contacto"),
		Sent:     r.URL.Query().Get("enviado") == "1",
	})
}

var contactErrorText = map[string]map[string]string{
	"name": {
		"required": "Ingresá tu nombre.",
		"max":      "El nombre es demasiado largo.",
	},
	"email": {
		"required": "Ingresá tu email.",
		"email":    "El email no es válido.",
		"max":      "El email no es válido.",
	},
	"phone":   {"max": "El teléfono es demasiado largo."},
	"message": {"required": "Escribí tu consulta.", "max": "La consulta es demasiado larga."},
}

// validateContact returns the form errors of m keyed by input name.
func validateContact(m *store.ContactMessage) map[string]string {
	errs := map[string]string{}
	for field, rule := range store.FieldErrors(m.Validate()) {
		msg, ok := contactErrorText[field][rule]
		if !ok {
			msg = "Revisá este campo."
		}
		errs[field] = msg
	}
	return errs
}

func (s *Server) handleContactSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Formulario inválido.")
		return
	}
	m := store.ContactMessage{
		Name:    r.PostFormValue("name"),
		Email:   r.PostFormValue("email"),
		Phone:   r.PostFormValue("phone"),
		Message: r.PostFormValue("message"),
	}
	if errs := validateContact(&m); len(errs) > 0 {
		s.render(w, http.StatusBadRequest, "contacto", &contactPage{
			pageData: s.page("Contacto", "contacto"),
			Form:     m,
			Errors:   errs,
		})
		return
	}
	if err := s.inbox.Add(r.Context(), &m); err != nil {
		log.Printf("store contact message: %v", err)
		s.renderError(w, http.StatusInternalServerError, "No pudimos enviar tu consulta. Intentá nuevamente.")
		return
	}
	log.Printf("contact message %s from %s", m.ID, m.Email)
	http.Redirect(w, r, "/contacto?enviado=1", http.StatusSeeOther)
}

type loginPage struct {
	pageData
	Email string
	Error string
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err == nil {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login", &loginPage{pageData: s.page("Ingresar", "admin")})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Formulario inválido.")
		return
	}
	email := r.PostFormValue("email")
	sess, err := s.identity.SignIn(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		status, msg := http.StatusUnauthorized, "Email o contraseña incorrectos."
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			log.Printf("sign in %s: %v", email, err)
			status, msg = http.StatusInternalServerError, "No pudimos iniciar la sesión."
		}
		s.render(w, status, "login", &loginPage{s.page("Ingresar", "admin"), email, msg})
		return
	}
	log.Printf("admin %s signed in from %s", sess.User.Email, r.RemoteAddr)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.identity.SignOut(r.Context(), requestToken(r)); err != nil {
		log.Printf("sign out: %v", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

func (s *Server) requireAdminPage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r)
		if err != nil {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

type dashboardPage struct {
	pageData
	User     *auth.User
	Obras    []store.Project
	Messages []store.ContactMessage
	Sessions int
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFromContext(r.Context())
	ps, err := s.projects.List(r.Context(), store.Filter{})
	if err != nil {
		log.Printf("list obras: %v", err)
		s.renderError(w, http.StatusInternalServerError, "No pudimos cargar las obras.")
		return
	}
	msgs, err := s.inbox.List(r.Context())
	if err != nil {
		log.Printf("list contact messages: %v", err)
	}
	s.render(w, http.StatusOK, "admin", &dashboardPage{s.page("Administración", "admin"), u, ps, msgs, s.NumSessions()})
}
