package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cocomeza/alcontruccionessrl/auth"
	"github.com/cocomeza/alcontruccionessrl/media"
	"github.com/cocomeza/alcontruccionessrl/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "clave-segura"
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	projects store.ProjectStore
	inbox    store.Inbox
	identity *auth.Provider
	broker   auth.Broker
	mediaDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	sessions, err := store.NewStorageBackend(store.StorageBackendMem, nil, "")
	require.NoError(t, err)
	broker := auth.NewBroker()
	identity := auth.NewProvider(map[string]string{adminEmail: string(hash)}, sessions, time.Hour, broker)

	dir := t.TempDir()
	objects, err := media.NewFileStore(dir, media.NewMirrors(nil))
	require.NoError(t, err)
	dir = objects.Root()

	env := &testEnv{
		projects: store.NewMemProjectStore(),
		inbox:    store.NewMemInbox(),
		identity: identity,
		broker:   broker,
		mediaDir: dir,
	}
	env.server, err = NewServer(Options{
		Projects: env.projects,
		Inbox:    env.inbox,
		Objects:  objects,
		Identity: identity,
		Broker:   broker,
		Retry:    auth.RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond},
		MediaDir: dir,
		Company:  "Constructora Test",
	})
	require.NoError(t, err)
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) token(t *testing.T) string {
	s, err := e.identity.SignIn(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)
	return s.Token
}

func (e *testEnv) addObra(t *testing.T, p *store.Project) *store.Project {
	require.NoError(t, e.projects.Insert(context.Background(), p))
	return p
}

func apiRequest(method, path, token string, body interface{}) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHealthHandler_OK(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestPublicPages(t *testing.T) {
	env := newTestEnv(t)
	env.addObra(t, &store.Project{Title: "Casa Los Álamos", Category: "Viviendas", Featured: true,
		Images: []string{"/media/a.jpg"}})
	env.addObra(t, &store.Project{Title: "Galpón Ruta 8", Category: "Industrial"})

	rr := env.do(httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Casa Los Álamos")
	assert.NotContains(t, rr.Body.String(), "Galpón Ruta 8")
	assert.Contains(t, rr.Body.String(), "Constructora Test")

	rr = env.do(httptest.NewRequest("GET", "/obras", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Casa Los Álamos")
	assert.Contains(t, rr.Body.String(), "Galpón Ruta 8")

	rr = env.do(httptest.NewRequest("GET", "/obras?categoria=industrial", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "Casa Los Álamos")
	assert.Contains(t, rr.Body.String(), "Galpón Ruta 8")

	rr = env.do(httptest.NewRequest("GET", "/nada", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestObraPage_Gallery(t *testing.T) {
	env := newTestEnv(t)
	p := env.addObra(t, &store.Project{Title: "Edificio Centro",
		Images: []string{"/media/1.jpg", "/media/2.jpg"},
		Videos: []string{"/media/v1.mp4", "/media/v2.mp4"}})

	// second video: kind offset puts it at timeline position 3
	rr := env.do(httptest.NewRequest("GET", "/obras/"+p.ID+"?i=1&kind=video", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `data-index="3" class="active" data-active="true"`)
	assert.Equal(t, 1, strings.Count(body, `data-active="true"`))
	assert.Contains(t, body, `<video id="gallery-video" src="/media/v2.mp4"`)
	assert.Contains(t, body, "4 / 4")
	assert.Contains(t, body, "0:00 / 0:00")
	assert.Contains(t, body, `data-index="1" data-kind="video"`)

	// the section carries the clamped position the websocket will accept
	rr = env.do(httptest.NewRequest("GET", "/obras/"+p.ID+"?i=-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `data-index="0" data-kind="image"`)
	rr = env.do(httptest.NewRequest("GET", "/obras/"+p.ID+"?i=9&kind=video", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `data-index="1" data-kind="video"`)

	rr = env.do(httptest.NewRequest("GET", "/obras/"+p.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `data-index="0" class="active" data-active="true"`)
	assert.Contains(t, rr.Body.String(), `<img id="gallery-image" src="/media/1.jpg"`)

	rr = env.do(httptest.NewRequest("GET", "/obras/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestObraPage_SingleAndEmpty(t *testing.T) {
	env := newTestEnv(t)
	single := env.addObra(t, &store.Project{Title: "Una foto", Images: []string{"/media/solo.jpg"}})
	empty := env.addObra(t, &store.Project{Title: "Sin medios"})

	rr := env.do(httptest.NewRequest("GET", "/obras/"+single.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "/media/solo.jpg")
	assert.NotContains(t, body, `class="thumbs"`)
	assert.NotContains(t, body, `class="nav prev"`)
	assert.NotContains(t, body, `class="indicator"`)

	rr = env.do(httptest.NewRequest("GET", "/obras/"+empty.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), `id="gallery"`)
	assert.NotContains(t, rr.Body.String(), "gallery.js")
}

func TestContactForm(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/contacto", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	form := url.Values{"name": {"Ana"}, "email": {"no-es-email"}, "message": {""}}
	req := httptest.NewRequest("POST", "/contacto", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = env.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "El email no es válido.")
	assert.Contains(t, rr.Body.String(), "Escribí tu consulta.")
	assert.Contains(t, rr.Body.String(), `value="Ana"`)

	form = url.Values{"name": {"Ana"}, "email": {"ana@example.com"}, "phone": {"341 555"}, "message": {"Quiero presupuesto"}}
	req = httptest.NewRequest("POST", "/contacto", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = env.do(req)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/contacto?enviado=1", rr.Header().Get("Location"))

	msgs, err := env.inbox.List(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ana@example.com", msgs[0].Email)

	rr = env.do(httptest.NewRequest("GET", "/contacto?enviado=1", nil))
	assert.Contains(t, rr.Body.String(), "Recibimos tu consulta")
}

func TestAdminLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/admin", nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin/login", rr.Header().Get("Location"))

	login := func(pw string) *httptest.ResponseRecorder {
		form := url.Values{"email": {adminEmail}, "password": {pw}}
		req := httptest.NewRequest("POST", "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return env.do(req)
	}

	rr = login("mala")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "Email o contraseña incorrectos.")

	rr = login(adminPassword)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin", rr.Header().Get("Location"))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, sessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)

	env.addObra(t, &store.Project{Title: "Obra del panel"})
	req := httptest.NewRequest("GET", "/admin", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Obra del panel")
	assert.Contains(t, rr.Body.String(), adminEmail)

	req = httptest.NewRequest("GET", "/api/session", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	var sm SessionMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sm))
	assert.Equal(t, adminEmail, sm.User.Email)

	req = httptest.NewRequest("POST", "/admin/logout", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	require.Equal(t, http.StatusSeeOther, rr.Code)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)

	req = httptest.NewRequest("GET", "/api/session", nil)
	req.AddCookie(cookie)
	rr = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPI_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/obras"},
		{"POST", "/api/obras"},
		{"GET", "/api/obras/x"},
		{"PUT", "/api/obras/x"},
		{"DELETE", "/api/obras/x"},
		{"POST", "/api/obras/x/media"},
		{"GET", "/api/stats"},
	} {
		rr := env.do(apiRequest(tc.method, tc.path, "bogus", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.path)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, false, body["ok"])
	}
}

func TestAPI_CRUD(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t)

	rr := env.do(apiRequest("POST", "/api/obras", tok, map[string]interface{}{"title": "  "}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(apiRequest("POST", "/api/obras", tok, map[string]interface{}{
		"title": "Escuela", "category": "Institucional", "featured": true}))
	require.Equal(t, http.StatusCreated, rr.Code)
	var created ObraMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.Obra.ID)
	id := created.Obra.ID

	rr = env.do(apiRequest("GET", "/api/obras", tok, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list ObrasMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Obras, 1)

	rr = env.do(apiRequest("PUT", "/api/obras/"+id, tok, map[string]interface{}{
		"title": "Escuela N° 5", "category": "Institucional", "images": []string{"https://otro.example.com/x.jpg"}}))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(apiRequest("GET", "/api/obras/"+id, tok, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got ObraMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Escuela N° 5", got.Obra.Title)
	assert.False(t, got.Obra.Featured)
	assert.Equal(t, created.Obra.CreatedAt.Unix(), got.Obra.CreatedAt.Unix())

	rr = env.do(apiRequest("GET", "/api/stats", tok, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats ServerInfoMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.NObra)

	rr = env.do(apiRequest("DELETE", "/api/obras/"+id, tok, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(apiRequest("GET", "/api/obras/"+id, tok, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(apiRequest("DELETE", "/api/obras/"+id, tok, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	mp4Bytes = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41")
)

func uploadRequest(t *testing.T, path, token, filename string, data []byte) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAPI_MediaUploadAndDelete(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t)
	p := env.addObra(t, &store.Project{Title: "Quincho"})

	rr := env.do(uploadRequest(t, "/api/obras/"+p.ID+"/media", tok, "plano.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// the extension alone does not make an image
	rr = env.do(uploadRequest(t, "/api/obras/"+p.ID+"/media", tok, "frente.png", []byte("png-bytes")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(uploadRequest(t, "/api/obras/"+p.ID+"/media", tok, "frente.png", pngBytes))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var up UploadedMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, "image", up.Kind)
	assert.True(t, strings.HasPrefix(up.URL, "/media/obras/images/"), up.URL)
	assert.Equal(t, []string{up.URL}, up.Obra.Images)

	rr = env.do(uploadRequest(t, "/api/obras/"+p.ID+"/media", tok, "recorrido.mp4", mp4Bytes))
	require.Equal(t, http.StatusCreated, rr.Code)
	var upVideo UploadedMsg
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &upVideo))
	assert.Equal(t, []string{upVideo.URL}, upVideo.Obra.Videos)

	// uploaded object is served publicly
	rr = env.do(httptest.NewRequest("GET", up.URL, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, pngBytes, rr.Body.Bytes())

	key := strings.TrimPrefix(up.URL, media.DefaultBase+"/")
	rr = env.do(apiRequest("DELETE", "/api/obras/"+p.ID+"/media?url="+url.QueryEscape(up.URL), tok, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	_, err := os.Stat(filepath.Join(env.mediaDir, filepath.FromSlash(key)))
	assert.True(t, os.IsNotExist(err))

	rr = env.do(apiRequest("DELETE", "/api/obras/"+p.ID+"/media?url="+url.QueryEscape(up.URL), tok, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	videoKey := strings.TrimPrefix(upVideo.URL, media.DefaultBase+"/")
	rr = env.do(apiRequest("DELETE", "/api/obras/"+p.ID, tok, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	_, err = os.Stat(filepath.Join(env.mediaDir, filepath.FromSlash(videoKey)))
	assert.True(t, os.IsNotExist(err))
}

func TestAPI_ConcurrentUploadsKeepEveryURL(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t)
	p := env.addObra(t, &store.Project{Title: "Torre"})

	const n = 10
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		req := uploadRequest(t, "/api/obras/"+p.ID+"/media", tok, "foto.png", pngBytes)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.do(req).Code
		}(i)
	}
	wg.Wait()
	for _, c := range codes {
		assert.Equal(t, http.StatusCreated, c)
	}
	got, err := env.projects.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Images, n)
}

func TestMediaDirListingHidden(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.mediaDir, "obras"), 0o755))
	rr := env.do(httptest.NewRequest("GET", "/media/obras/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionEvents_SignOutElsewhere(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()
	tok := env.token(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequest("GET", ts.URL+"/api/session/events", nil)
	require.NoError(t, err)
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+tok)
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	rd := bufio.NewReader(rsp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.NoError(t, env.identity.SignOut(context.Background(), tok))

	var lines []string
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			break
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	assert.Contains(t, lines, "event: signed_out")
	assert.Contains(t, strings.Join(lines, "\n"), `"current":true`)

	rr := env.do(apiRequest("GET", "/api/session/events", tok, nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
