// Package server serves redirect files to game clients over HTTP.
//
// Clients request /<file>, /<alias>/<file> or /download/<file>. Requests are
// resolved against the alias's redirect directory using only the base name
// of the decoded path. With compress_on_demand, a missing .uz2 is built from
// the matching package under the alias's base directory.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"kfuz2/pkg/config"
	"kfuz2/pkg/core"
	"kfuz2/pkg/diag"
	"kfuz2/pkg/progress"
)

const (
	partialDir      = ".partial"
	shutdownTimeout = 5 * time.Second
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>File Download Server</title>
    <link rel="icon" href="/favicon.ico" type="image/x-icon">
  </head>
  <body>
    <h1>Available Files</h1>
    <ul>
{{- range .Files}}
      <li><a href="/{{$.Alias}}/{{.Name}}">{{.Name}}</a> ({{.Size}})</li>
{{- else}}
      <li>No files</li>
{{- end}}
    </ul>
  </body>
</html>
`))

type indexFile struct {
	Name string
	Size string
}

// Server is an http.Handler for one configuration.
type Server struct {
	cfg       config.Config
	log       *diag.Logger
	validator *core.Validator
	group     singleflight.Group
}

// New returns a server for cfg. log may be nil.
func New(cfg config.Config, log *diag.Logger) *Server {
	return &Server{cfg: cfg, log: log, validator: core.NewValidator()}
}

// ServeHTTP routes one request and logs it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.route(rec, r)
	s.log.Info("server", "request", map[string]string{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": fmt.Sprint(rec.status),
		"bytes":  fmt.Sprint(rec.bytes),
		"dur_ms": fmt.Sprint(time.Since(start).Milliseconds()),
		"remote": r.RemoteAddr,
	})
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed!", http.StatusMethodNotAllowed)
		return
	}
	// KF1 clients percent-encode names; decode the raw path exactly once
	p, err := url.PathUnescape(r.URL.EscapedPath())
	if err != nil {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	switch p {
	case "/":
		s.serveIndex(w)
	case "/favicon.ico":
		s.serveFavicon(w, r)
	default:
		s.serveFile(w, r, p)
	}
}

func (s *Server) defaultEntry() config.ServerEntry {
	e, _ := s.cfg.Entry(s.cfg.DefaultAlias)
	return e
}

func (s *Server) serveIndex(w http.ResponseWriter) {
	e := s.defaultEntry()
	ents, err := os.ReadDir(e.RedirectDirectory)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Error("server", err, "read redirect directory", e.RedirectDirectory)
		http.Error(w, "Failed to list files", http.StatusInternalServerError)
		return
	}
	var files []indexFile
	for _, ent := range ents {
		if !ent.Type().IsRegular() || !core.HasCompressedExtension(ent.Name()) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		files = append(files, indexFile{Name: ent.Name(), Size: progress.FormatSize(uint64(info.Size()))})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct {
		Alias string
		Files []indexFile
	}{Alias: e.URLAlias, Files: files}); err != nil {
		s.log.Error("server", err, "render index", "")
	}
}

func (s *Server) serveFavicon(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(s.defaultEntry().RedirectDirectory, "favicon.ico")
	f, err := os.Open(name)
	if err != nil {
		http.Error(w, "Favicon not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.Error(w, "Favicon not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/x-icon")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, "favicon.ico", info.ModTime(), f)
}

// resolve picks the server entry and file name for a decoded request path.
func (s *Server) resolve(p string) (config.ServerEntry, string) {
	rel := strings.TrimPrefix(p, "/")
	rel = strings.TrimPrefix(rel, "download/")
	if alias, rest, ok := strings.Cut(rel, "/"); ok {
		if e, found := s.cfg.Entry(alias); found {
			return e, path.Base(rest)
		}
	}
	// Backslashes are path separators for Windows clients
	return s.defaultEntry(), path.Base(strings.ReplaceAll(rel, "\\", "/"))
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, p string) {
	if strings.Contains(p, "..") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	entry, name := s.resolve(p)
	if name == "" || name == "." || name == "/" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	full := filepath.Join(entry.RedirectDirectory, name)
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) && s.cfg.CompressOnDemand && core.HasCompressedExtension(name) {
		var built string
		if built, err = s.buildRedirect(r.Context(), entry, name); err == nil {
			f, err = os.Open(built)
			name = filepath.Base(built)
		}
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("server", err, "open", full)
		}
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to read file metadata", http.StatusInternalServerError)
		return
	}
	if !info.Mode().IsRegular() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// buildRedirect compresses the package behind name into the entry's
// redirect directory and returns the new file's path. Concurrent requests
// for the same file share one compression.
func (s *Server) buildRedirect(ctx context.Context, entry config.ServerEntry, name string) (string, error) {
	key := entry.URLAlias + "/" + strings.ToLower(name)
	v, err, _ := s.group.Do(key, func() (any, error) {
		src, err := findPackage(entry.BaseDirectory, strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			return "", err
		}

		timer := s.log.StartFile("server", "compress on demand", src)
		req := &core.Request{
			InputPath:        src,
			OutputPath:       filepath.Join(entry.RedirectDirectory, partialDir),
			CheckEligibility: true,
		}
		res, err := s.validator.CompressFile(ctx, req)
		if err != nil {
			timer.Fail(err)
			return "", err
		}
		final := filepath.Join(entry.RedirectDirectory, filepath.Base(req.OutputPath))
		if err := os.Rename(req.OutputPath, final); err != nil {
			os.Remove(req.OutputPath)
			timer.Fail(err)
			return "", fmt.Errorf("publish %s: %w", final, err)
		}
		timer.Finish("done", int64(res.Chunks))
		return final, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// findPackage walks base for a regular file named name, ignoring case.
func findPackage(base, name string) (string, error) {
	if base == "" || name == "" {
		return "", fs.ErrNotExist
	}
	var found string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(d.Name(), name) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fs.ErrNotExist
	}
	return found, nil
}

// Run listens on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully. Redirect directories are created if missing.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for _, alias := range s.cfg.Aliases() {
		e, _ := s.cfg.Entry(alias)
		if err := os.MkdirAll(e.RedirectDirectory, 0o755); err != nil {
			ln.Close()
			return fmt.Errorf("create redirect directory: %w", err)
		}
	}

	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("server", "listening", map[string]string{"addr": ln.Addr().String()})

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info("server", "stopped", nil)
	return nil
}

// statusRecorder captures the status code and body size for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}
