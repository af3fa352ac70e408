package http

import (
	"bytes"
	"fmt"
	"html/template"
	nethttp "net/http"
	"net/url"
	"time"

	"go-cube-explorer/internal/logs"
	"go-cube-explorer/internal/render"
)

func faviconHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusNoContent)
}

type layoutData struct {
	Title    string
	Products []productEntry
	Page     any
	Now      time.Time
}

func pageFuncs(collapseAfter int) template.FuncMap {
	funcs := render.Funcs(collapseAfter)
	funcs["pathEscape"] = url.PathEscape
	funcs["i64"] = func(n int) int64 { return int64(n) }
	funcs["deref"] = func(n *int64) int64 {
		if n == nil {
			return 0
		}
		return *n
	}
	funcs["isArchived"] = func(t *time.Time) bool { return t != nil }
	funcs["barStyle"] = func(pct float64) template.CSS {
		return template.CSS(fmt.Sprintf("height: %.1f%%", pct))
	}
	return funcs
}

func parsePages(funcs template.FuncMap) map[string]*template.Template {
	base := template.Must(template.New("layout").Funcs(funcs).Parse(layoutHTML + barsHTML))
	out := make(map[string]*template.Template, len(pageTemplates))
	for name, src := range pageTemplates {
		out[name] = template.Must(template.Must(base.Clone()).Parse(src))
	}
	return out
}

// render writes the named page inside the shared layout. The product menu
// is best effort.
func (e *explorer) render(w nethttp.ResponseWriter, r *nethttp.Request, status int, page, title string, data any) {
	tmpl, ok := e.pages[page]
	if !ok {
		nethttp.Error(w, "unknown page "+page, nethttp.StatusInternalServerError)
		return
	}
	products, _ := e.productList(r.Context())

	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, "layout", layoutData{
		Title:    title,
		Products: products,
		Page:     data,
		Now:      e.now(),
	})
	if err != nil {
		logs.FromContext(r.Context()).Error("render page", "page", page, "err", err)
		nethttp.Error(w, "failed to render page", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

const layoutHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}} | Data Cube Explorer</title>
  <style>
    :root {
      --brand: #0e5d8f;
      --brand-2: #0971b2;
      --bg: #f7f7f7;
      --paper: #fff;
      --text: #333;
      --muted: #777;
      --line: #ddd;
      --line-soft: #eee;
      --head: #f0f0f0;
      --ok-bg: #dff0d8;
      --ok-text: #3c763d;
      --bad-bg: #f2dede;
      --bad-text: #a94442;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      background: var(--bg);
      color: var(--text);
      font-family: "Open Sans", "Helvetica Neue", Helvetica, Arial, sans-serif;
      font-size: 14px;
      line-height: 1.42857143;
    }

    a { color: #428bca; text-decoration: none; }
    a:hover { color: #2a6496; text-decoration: underline; }

    header {
      background: linear-gradient(to right, var(--brand) 0, var(--brand-2) 100%);
      border-bottom: 1px solid #0b4e79;
      box-shadow: 0 2px 5px rgba(0, 0, 0, 0.15);
    }

    .container {
      margin: 0 auto;
      padding: 0 15px;
      width: 100%;
      max-width: 1680px;
    }

    .header-inner {
      min-height: 60px;
      display: flex;
      align-items: center;
      justify-content: space-between;
      gap: 16px;
    }

    .navbar-brand { color: #fff; font-size: 22px; font-weight: 300; }
    .navbar-brand strong { font-weight: 600; }
    .navbar-note a { color: rgba(255, 255, 255, 0.88); margin-left: 12px; font-size: 13px; }

    .product-menu { display: flex; flex-wrap: wrap; gap: 6px; padding: 8px 0; }
    .product-menu a {
      border: 1px solid #c7d7e5;
      background: #f3f8fc;
      color: var(--brand);
      padding: 3px 8px;
      font-size: 12px;
      font-weight: 600;
    }
    .product-menu a.empty { color: var(--muted); font-weight: 400; }

    main { padding: 18px 0 32px; }

    .body {
      background: var(--paper);
      border: 1px solid var(--line);
      box-shadow: 0 1px 2px rgba(0, 0, 0, 0.05);
      padding: 16px;
    }

    h1 {
      margin: 0 0 12px;
      font-size: 28px;
      font-weight: 300;
      border-bottom: 1px solid var(--line-soft);
      padding-bottom: 8px;
      color: #444;
    }
    h1 small { color: var(--muted); font-size: 18px; }

    h2 {
      margin: 20px 0 10px;
      font-size: 20px;
      font-weight: 400;
      color: #444;
      border-bottom: 1px solid var(--line-soft);
      padding-bottom: 6px;
    }

    .panel-grid {
      display: grid;
      gap: 14px;
      grid-template-columns: 1.2fr 1fr;
      margin-bottom: 14px;
    }
    .panel { border: 1px solid var(--line); background: var(--paper); }
    .panel-heading { padding: 8px 12px; border-bottom: 1px solid var(--line); background: var(--head); font-weight: 600; }
    .panel-body { padding: 10px 12px 12px; }

    table { width: 100%; border-collapse: collapse; }
    th, td {
      padding: 6px 8px;
      vertical-align: top;
      border-top: 1px solid var(--line);
      text-align: left;
      font-size: 13px;
    }
    thead th {
      border-bottom: 2px solid var(--line);
      border-top: 0;
      color: #555;
      font-size: 11px;
      text-transform: uppercase;
      letter-spacing: 0.5px;
      background: #fafafa;
    }
    tbody tr:nth-child(odd) td { background: #f9f9f9; }
    td.num { text-align: right; }

    .pill {
      display: inline-block;
      border-radius: 2px;
      font-size: 11px;
      padding: 2px 6px;
      font-weight: 700;
      border: 1px solid transparent;
      text-transform: uppercase;
    }
    .ok { color: var(--ok-text); background: var(--ok-bg); border-color: #d6e9c6; }
    .bad { color: var(--bad-text); background: var(--bad-bg); border-color: #ebccd1; }
    .warn { color: #8a6d3b; background: #fcf8e3; border-color: #faebcc; }

    .mono { font-family: Menlo, Monaco, Consolas, "Liberation Mono", monospace; word-break: break-all; }
    .hint { margin-top: 8px; color: var(--muted); font-size: 12px; }

    .periods a { margin-right: 8px; }
    .periods .current { font-weight: 700; }

    .timeline { display: flex; align-items: flex-end; gap: 1px; height: 160px; border-bottom: 1px solid var(--line); }
    .timeline a { flex: 1; display: flex; align-items: flex-end; height: 100%; }
    .timeline span { display: block; width: 100%; background: var(--brand-2); min-height: 1px; }
    .timeline a:hover span { background: var(--brand); }

    .doc-map { margin-left: 14px; }
    .doc-entry { margin: 2px 0; }
    .doc-key { color: #555; font-weight: 600; }
    .doc-key[title] { border-bottom: 1px dotted var(--muted); cursor: help; }
    .doc-list { margin: 0; padding-left: 20px; }
    .doc-value.null::after { content: "•"; color: var(--muted); }
    .doc-other { color: var(--muted); }
    details.doc-collapsed summary { cursor: pointer; color: var(--brand); }

    .param-list { display: grid; grid-template-columns: max-content 1fr; gap: 4px 12px; margin: 0; }
    .param-list dt { font-weight: 600; color: #555; }
    .param-list dd { margin: 0; }
    .param-inferred { color: var(--muted); font-style: italic; }
    .param-always-empty { color: #bbb; }

    form.search { display: grid; grid-template-columns: repeat(auto-fill, minmax(260px, 1fr)); gap: 6px 14px; margin-bottom: 12px; }
    form.search label { display: block; font-size: 12px; color: #555; font-weight: 600; }
    form.search input { width: 45%; padding: 3px; font-size: 12px; }
    form.search input.wide { width: 92%; }

    @media (max-width: 1024px) {
      .panel-grid { grid-template-columns: 1fr; }
    }
  </style>
</head>
<body>
  <header>
    <div class="container header-inner">
      <div class="navbar-brand"><strong>Data Cube</strong> Explorer</div>
      <div class="navbar-note">
        <a href="/about">About</a>
        <a href="/product-audit/">Audit</a>
        <a href="/products.txt">products.txt</a>
      </div>
    </div>
  </header>
  <div class="container product-menu">
    {{range .Products}}<a href="/{{pathEscape .Name}}"{{if not .Summary}} class="empty"{{end}}>{{.Name}}</a>{{end}}
  </div>
  <main>
    <div class="container">
      <div class="body">
        {{template "content" .Page}}
      </div>
      <div class="hint">Rendered {{printableTime .Now}}</div>
    </div>
  </main>
</body>
</html>
`

var pageTemplates = map[string]string{
	"error":        errorHTML,
	"overview":     overviewHTML,
	"search":       searchHTML,
	"dataset":      datasetHTML,
	"product":      productHTML,
	"metadataType": metadataTypeHTML,
	"region":       regionHTML,
	"about":        aboutHTML,
	"audit":        auditHTML,
	"report":       reportHTML,
}

const errorHTML = `{{define "content"}}
<h1>{{.Status}} <small>{{.Message}}</small></h1>
<p><a href="/">Back to the explorer</a></p>
{{end}}`

const overviewHTML = `{{define "content"}}
<h1>{{.Product.Name}} <small>{{.Title}}</small></h1>
<div class="periods">
  {{if .ParentLink}}<a href="{{.ParentLink}}">&larr; up</a>{{end}}
  {{$p := .Product.Name}}{{$k := .Key}}
  {{range .Years}}<a href="/{{pathEscape $p}}/{{.}}"{{if eq . $k.Year}} class="current"{{end}}>{{.}}</a>{{end}}
</div>
{{if .Months}}<div class="periods">
  {{range .Months}}<a href="/{{pathEscape $p}}/{{$k.Year}}/{{.}}"{{if eq . $k.Month}} class="current"{{end}}>{{monthName .}}</a>{{end}}
</div>{{end}}
{{with .Overview}}
<section class="panel-grid">
  <article class="panel">
    <div class="panel-heading">Datasets over time</div>
    <div class="panel-body">{{template "bars" $.Bars}}</div>
  </article>
  <article class="panel">
    <div class="panel-heading">Summary</div>
    <div class="panel-body">
      <table>
        <tr><th>Datasets</th><td><a href="{{$.DatasetsLink}}">{{count .DatasetCount}}</a></td></tr>
        <tr><th>Time range</th><td>{{printableTime .TimeRange.Begin}} to {{printableTime .TimeRange.End}}</td></tr>
        {{if .SizeBytes}}<tr><th>Size</th><td>{{sizeof (deref .SizeBytes)}}</td></tr>{{end}}
        <tr><th>With footprint</th><td>{{count .FootprintCount}}</td></tr>
        {{if .CRSes}}<tr><th>CRS</th><td class="mono">{{range .CRSes}}{{.}} {{end}}</td></tr>{{end}}
        {{if .NewestDatasetCreationTime}}<tr><th>Newest dataset created</th><td>{{printableTime .NewestDatasetCreationTime}}</td></tr>{{end}}
        {{if not .GeneratedAt.IsZero}}<tr><th>Summary generated</th><td>{{timesince .GeneratedAt}}</td></tr>{{end}}
      </table>
    </div>
  </article>
</section>
{{if $.Regions}}
<h2>Regions</h2>
<table>
  <thead><tr><th>Region</th><th>Datasets</th></tr></thead>
  <tbody>{{range $.Regions}}<tr><td><a href="{{.Link}}">{{.Code}}</a></td><td class="num">{{count .Count}}</td></tr>{{end}}</tbody>
</table>
{{end}}
{{else}}
<p><span class="pill warn">not summarised</span> No summary has been generated for this period yet.</p>
{{end}}
{{with .Product.Summary}}
<h2>Product</h2>
<table>
  <tr><th>Last refreshed</th><td>{{timesince .LastRefresh}}</td></tr>
  {{if .SourceProducts}}<tr><th>Derived from</th><td>{{range .SourceProducts}}<a href="/{{pathEscape .}}">{{.}}</a> {{end}}</td></tr>{{end}}
  {{if .DerivedProducts}}<tr><th>Used by</th><td>{{range .DerivedProducts}}<a href="/{{pathEscape .}}">{{.}}</a> {{end}}</td></tr>{{end}}
</table>
{{end}}
<p class="hint"><a href="/product/{{pathEscape .Product.Name}}">Product definition</a></p>
{{end}}`

const barsHTML = `{{define "bars"}}{{if .}}<div class="timeline">{{range .}}<a href="{{.Link}}" title="{{.Label}}: {{count (i64 .Count)}}"><span style="{{barStyle .HeightPercent}}"></span></a>{{end}}</div>{{else}}<p class="hint">No datasets.</p>{{end}}{{end}}`

const searchHTML = `{{define "content"}}
<h1>{{.Product}} <small>{{.Title}} datasets</small></h1>
<p class="periods"><a href="{{.PeriodLink}}">&larr; overview</a></p>
{{if .FromIndex}}
<form class="search" method="get">
  {{range .Fields}}<div>
    <label title="{{.Description}}">{{.Name}}</label>
    {{if .Range}}<input name="{{.Name}}-begin" value="{{.Begin}}" placeholder="from" /> <input name="{{.Name}}-end" value="{{.End}}" placeholder="to" />
    {{else}}<input class="wide" name="{{.Name}}" value="{{.Value}}" />{{end}}
  </div>{{end}}
  <div><button type="submit">Search</button></div>
</form>
{{if .Queries}}<p>{{range .Queries}}<span class="pill warn">{{.Name}}: {{.Value}}</span> {{end}}</p>{{end}}
{{else}}
<p class="hint">Index search is disabled; listing stored dataset extents.</p>
{{end}}
<table>
  <thead><tr><th>Dataset</th><th>Center time</th><th>Region</th><th>Size</th></tr></thead>
  <tbody>
  {{range .Rows}}<tr>
    <td><a href="/dataset/{{.ID}}">{{printableDataset .Label .Archived}}</a></td>
    <td>{{printableTime .CenterTime}}</td>
    <td>{{.RegionCode}}</td>
    <td>{{if .SizeBytes}}{{sizeof (deref .SizeBytes)}}{{end}}</td>
  </tr>{{else}}<tr><td colspan="4">No matching datasets.</td></tr>{{end}}
  </tbody>
</table>
{{if .More}}<p class="hint">Only the first {{.Limit}} datasets are shown.</p>{{end}}
{{end}}`

const datasetHTML = `{{define "content"}}
<h1>{{printableDataset .Label (isArchived .Dataset.Archived)}} <small><a href="/{{pathEscape .Product.Name}}">{{.Product.Name}}</a></small></h1>
<section class="panel-grid">
  <article class="panel">
    <div class="panel-heading">Fields</div>
    <div class="panel-body">{{renderParams .Fields .Fixed false .Descriptions}}</div>
  </article>
  <article class="panel">
    <div class="panel-heading">Dataset</div>
    <div class="panel-body">
      <table>
        <tr><th>Id</th><td class="mono">{{.Dataset.ID}}</td></tr>
        {{if .CenterTime}}<tr><th>Center time</th><td>{{printableTime .CenterTime}}</td></tr>{{end}}
        {{if .RegionLink}}<tr><th>Region</th><td><a href="{{.RegionLink}}">{{.RegionCode}}</a></td></tr>{{end}}
        {{if .Dataset.Added}}<tr><th>Indexed</th><td>{{printableTime .Dataset.Added}}</td></tr>{{end}}
        {{if .Dataset.Archived}}<tr><th>Archived</th><td><span class="pill bad">{{printableTime .Dataset.Archived}}</span></td></tr>{{end}}
        {{range .Dataset.Locations}}<tr><th>Location</th><td class="mono">{{if .Archived}}<del>{{.URI}}</del>{{else}}{{.URI}}{{end}}</td></tr>{{end}}
      </table>
    </div>
  </article>
</section>
<h2>Source datasets</h2>
{{template "linked" .Sources}}
{{if gt .SourcesMore 0}}<p class="hint">and {{count (i64 .SourcesMore)}} more</p>{{end}}
<h2>Derived datasets</h2>
{{template "linked" .Derived}}
{{if gt .DerivedMore 0}}<p class="hint">and {{count (i64 .DerivedMore)}} more</p>{{end}}
<h2>Metadata <small><a href="{{.RawLink}}">raw</a></small></h2>
{{renderDoc .Document .Descriptions}}
{{end}}
{{define "linked"}}{{if .}}<table>
  <thead><tr><th>Classifier</th><th>Dataset</th><th>Product</th></tr></thead>
  <tbody>{{range .}}<tr><td>{{.Classifier}}</td><td><a href="/dataset/{{.ID}}">{{printableDataset .Label .Archived}}</a></td><td><a href="/{{pathEscape .Product}}">{{.Product}}</a></td></tr>{{end}}</tbody>
</table>{{else}}<p class="hint">None.</p>{{end}}{{end}}`

const productHTML = `{{define "content"}}
<h1>{{.Product.Name}} <small>{{.Product.Description}}</small></h1>
<table>
  <tr><th>Metadata type</th><td><a href="/metadata-type/{{pathEscape .Product.MetadataType.Name}}">{{.Product.MetadataType.Name}}</a></td></tr>
  {{if .License}}<tr><th>License</th><td>{{.License}}</td></tr>{{end}}
  {{with .Entry.Summary}}<tr><th>Datasets</th><td><a href="/datasets/{{pathEscape .Name}}">{{count .DatasetCount}}</a></td></tr>
  <tr><th>Time range</th><td>{{printableTime .TimeEarliest}} to {{printableTime .TimeLatest}}</td></tr>{{end}}
</table>
<h2>Fixed metadata</h2>
{{renderParams .Fixed nil true .Descriptions}}
<h2>Definition <small><a href="{{.RawLink}}">raw</a></small></h2>
{{renderDoc .Definition .Descriptions}}
{{end}}`

const metadataTypeHTML = `{{define "content"}}
<h1>{{.Type.Name}} <small>{{.Type.Description}}</small></h1>
<h2>Search fields</h2>
<table>
  <thead><tr><th>Name</th><th>Type</th><th>Description</th><th>Offset</th></tr></thead>
  <tbody>{{range .Fields}}<tr><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Description}}</td><td class="mono">{{.DocPath}}</td></tr>{{end}}</tbody>
</table>
<h2>Products</h2>
<p>{{range .Products}}<a href="/product/{{pathEscape .}}">{{.}}</a> {{else}}None.{{end}}</p>
<h2>Definition <small><a href="{{.RawLink}}">raw</a></small></h2>
{{renderDoc .Type.Definition nil}}
{{end}}`

const regionHTML = `{{define "content"}}
<h1>{{.Product}} <small>region {{.Region}}</small></h1>
<p>{{count .Total}} datasets</p>
<table>
  <thead><tr><th>Dataset</th><th>Center time</th><th>Size</th></tr></thead>
  <tbody>{{range .Rows}}<tr>
    <td><a href="/dataset/{{.ID}}">{{.Label}}</a></td>
    <td>{{printableTime .CenterTime}}</td>
    <td>{{if .SizeBytes}}{{sizeof (deref .SizeBytes)}}{{end}}</td>
  </tr>{{else}}<tr><td colspan="3">No datasets in this region.</td></tr>{{end}}</tbody>
</table>
{{end}}`

const aboutHTML = `{{define "content"}}
<h1>About <small>{{count .TotalDatasets}} datasets</small></h1>
<p><a href="/about.csv">Download as CSV</a></p>
<table>
  <thead><tr><th>Product</th><th>Datasets</th><th>Earliest</th><th>Latest</th><th>Refreshed</th></tr></thead>
  <tbody>{{range .Products}}<tr>
    <td><a href="/{{pathEscape .Name}}">{{.Name}}</a>{{if .Description}}<div class="hint">{{.Description}}</div>{{end}}</td>
    {{with .Summary}}<td class="num">{{count .DatasetCount}}</td><td>{{printableTime .TimeEarliest}}</td><td>{{printableTime .TimeLatest}}</td><td>{{timesince .LastRefresh}}</td>
    {{else}}<td colspan="4"><span class="pill warn">not summarised</span></td>{{end}}
  </tr>{{else}}<tr><td colspan="5">No products.</td></tr>{{end}}</tbody>
</table>
{{if .IndexEnabled}}
<h2>Metadata types</h2>
<ul>{{range .MetadataTypes}}<li><a href="/metadata-type/{{pathEscape .Name}}">{{.Name}}</a> {{.Description}}</li>{{end}}</ul>
{{end}}
{{end}}`

const auditHTML = `{{define "content"}}
<h1>Product audit <small>{{.Summarised}} summarised</small></h1>
{{if .Missing}}<p><span class="pill bad">not summarised</span> {{range .Missing}}{{.}} {{end}}</p>{{end}}
{{if .Unindexed}}<p><span class="pill warn">not in index</span> {{range .Unindexed}}{{.}} {{end}}</p>{{end}}
{{if .Problems}}<p><span class="pill warn">{{.Problems}} products with incomplete extents</span></p>{{end}}
<table>
  <thead><tr><th>Product</th>{{if .ShowIndexed}}<th>Indexed</th>{{end}}<th>Datasets</th><th>Refreshed</th><th>Refresh age</th><th>Generated</th><th>No region</th><th>No size</th><th>No creation time</th><th>No footprint</th></tr></thead>
  <tbody>{{range .Rows}}<tr>
    <td><a href="/{{pathEscape .Name}}">{{.Name}}</a></td>
    {{if $.ShowIndexed}}<td>{{if .Indexed}}<span class="pill ok">yes</span>{{else}}<span class="pill bad">no</span>{{end}}</td>{{end}}
    <td class="num">{{count .DatasetCount}}</td>
    <td>{{if .Summarised}}{{printableTime .LastRefresh}}{{else}}<span class="pill bad">never</span>{{end}}</td>
    <td class="mono">{{if .Summarised}}{{isoDuration .RefreshAge}}{{end}}</td>
    <td>{{if not .GenerationTime.IsZero}}{{timesince .GenerationTime}}{{end}}</td>
    {{with .Quality}}<td class="num">{{count .MissingRegion}}</td><td class="num">{{count .MissingSize}}</td><td class="num">{{count .MissingCreation}}</td><td class="num">{{count .MissingFootprint}}</td>
    {{else}}<td></td><td></td><td></td><td></td>{{end}}
  </tr>{{end}}</tbody>
</table>
{{end}}`

const reportHTML = `{{define "content"}}
<h1>Report <small>{{.Title}}</small></h1>
<div class="panel">
  <div class="panel-heading">{{range .Products}}{{.}} {{end}}</div>
  <div class="panel-body">{{template "bars" .Bars}}</div>
</div>
<table>
  <thead><tr><th>Product</th><th>Datasets</th><th>Time range</th><th>Regions</th></tr></thead>
  <tbody>{{range .Rows}}<tr>
    <td><a href="{{.Link}}">{{.Product}}</a></td>
    {{with .Overview}}<td class="num">{{count .DatasetCount}}</td><td>{{printableTime .TimeRange.Begin}} to {{printableTime .TimeRange.End}}</td><td class="num">{{len .RegionCounts}}</td>
    {{else}}<td colspan="3"><span class="pill warn">not summarised</span></td>{{end}}
  </tr>{{end}}</tbody>
  <tfoot><tr><th>Total</th><td class="num">{{count .Combined.DatasetCount}}</td><td>{{printableTime .Combined.TimeRange.Begin}} to {{printableTime .Combined.TimeRange.End}}</td><td class="num">{{len .Combined.RegionCounts}}</td></tr></tfoot>
</table>
{{end}}`
