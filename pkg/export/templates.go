package export

import (
	"html/template"
	"time"

	"github.com/xhad/corpus/internal/models"
)

type articlePage struct {
	Site    string
	Article models.Article
}

var funcs = template.FuncMap{
	// Article HTML comes from the markdown renderer, which escapes raw HTML
	// unless the parser was configured as unsafe.
	"trusted": func(s string) template.HTML { return template.HTML(s) },
	"minutes": func(d time.Duration) int { return int(d / time.Minute) },
	"date":    func(t time.Time) string { return t.Format("January 2, 2006") },
}

var articleTemplate = template.Must(template.New("article").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Article.Title}} · {{.Site}}</title>
{{- with .Article.Summary}}
<meta name="description" content="{{.}}">
{{- end}}
</head>
<body>
<nav><a href="index.html">{{.Site}}</a></nav>
<article>
<header>
<h1>{{.Article.Title}}</h1>
<p class="meta">
{{- with .Article.Author}}{{.}} · {{end -}}
{{- if not .Article.Date.IsZero}}{{date .Article.Date}} · {{end -}}
{{minutes .Article.ReadingTime}} min read</p>
{{- with .Article.Tags}}
<ul class="tags">{{range .}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
</header>
{{trusted .Article.HTML}}
</article>
</body>
</html>
`))

var indexTemplate = template.Must(template.New("index").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<ol class="articles">
{{- range .Articles}}
<li><a href="{{.HTML}}">{{.Title}}</a>{{with .Summary}}<p>{{.}}</p>{{end}}</li>
{{- end}}
</ol>
</body>
</html>
`))
