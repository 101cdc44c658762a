package httpapi

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/journey"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	index    *template.Template
	profile  *template.Template
	notFound *template.Template
}

func mustParsePages() *pages {
	parse := func(name string) *template.Template {
		return template.Must(template.New("layout.html").Funcs(template.FuncMap{
			"slug": core.Slug,
		}).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return &pages{
		index:    parse("index.html"),
		profile:  parse("profile.html"),
		notFound: parse("notfound.html"),
	}
}

type profilePage struct {
	Person core.Person
	Cards  []template.HTML
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	people, err := s.store.ListPersons(r.Context(), Filters{Order: OrderDesc})
	if err != nil {
		slog.Error("httpapi: index", "err", err)
		http.Error(w, "failed to load recursers", http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, s.pages.index, people)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	p, err := s.store.GetPersonBySlug(r.Context(), slug)
	if err != nil {
		slog.Error("httpapi: profile", "slug", slug, "err", err)
		http.Error(w, "failed to load recurser", http.StatusInternalServerError)
		return
	}
	if p == nil {
		s.render(w, http.StatusNotFound, s.pages.notFound, slug)
		return
	}

	// cards are model output rendered as markup
	j := journey.Parse(p.Journey)
	cards := make([]template.HTML, 0, len(j.Cards))
	for _, c := range j.Cards {
		cards = append(cards, template.HTML(c))
	}
	s.render(w, http.StatusOK, s.pages.profile, profilePage{Person: *p, Cards: cards})
}

func (s *Server) render(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		slog.Error("httpapi: render", "template", t.Name(), "err", err)
	}
}
