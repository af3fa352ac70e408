package http

import (
	"context"
	nethttp "net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-cube-explorer/internal/connectors/index"
	"go-cube-explorer/internal/connectors/summarystore"
	"go-cube-explorer/internal/document"
	"go-cube-explorer/internal/render"
	"go-cube-explorer/internal/summary"
)

type regionRow struct {
	Code  string
	Count int64
	Link  string
}

type overviewPage struct {
	Product      productEntry
	Key          summary.Key
	Title        string
	Overview     *summary.TimePeriodOverview
	Bars         []render.Bar
	Regions      []regionRow
	Years        []int
	Months       []int
	ParentLink   string
	DatasetsLink string
}

// overviewHandler serves "/" and "/{product}[/{year}[/{month}[/{day}]]]".
func (e *explorer) overviewHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) == 0 {
		e.rootHandler(w, r)
		return
	}
	product := parts[0]
	if len(parts) == 2 && (parts[1] == "spatial" || parts[1] == "timeline") {
		nethttp.Redirect(w, r, "/"+url.PathEscape(product), nethttp.StatusMovedPermanently)
		return
	}

	ctx := r.Context()
	entry, err := e.findProduct(ctx, product)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	key, err := parseKey(product, parts[1:])
	if err != nil {
		e.fail(w, r, err)
		return
	}
	o, err := e.overview(ctx, key)
	if err != nil {
		e.fail(w, r, err)
		return
	}

	base := "/" + url.PathEscape(product)
	page := overviewPage{
		Product:      entry,
		Key:          key,
		Title:        periodTitle(key),
		Overview:     o,
		Years:        e.productYears(entry.Summary),
		DatasetsLink: "/datasets" + base + periodPath(key),
	}
	if key.Period() != summary.PeriodAll {
		page.ParentLink = base + periodPath(key.Parent())
	}
	if key.Year != 0 {
		for m := 1; m <= 12; m++ {
			page.Months = append(page.Months, m)
		}
	}
	if o != nil {
		page.Bars = render.Timeline(o.TimelineCounts, string(o.TimelinePeriod), func(t time.Time) string {
			return base + periodPath(bucketKey(product, t, o.TimelinePeriod))
		})
		page.Regions = regionRows(product, o)
	}
	e.render(w, r, nethttp.StatusOK, "overview", product, page)
}

// rootHandler redirects to the first default start product that exists,
// else the first product, else shows the about page.
func (e *explorer) rootHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	products, err := e.productList(r.Context())
	if err != nil {
		e.fail(w, r, err)
		return
	}
	known := make(map[string]bool, len(products))
	for _, p := range products {
		known[p.Name] = true
	}
	for _, name := range e.cfg.DefaultStartProducts {
		if known[name] {
			nethttp.Redirect(w, r, "/"+url.PathEscape(name), nethttp.StatusFound)
			return
		}
	}
	if len(products) > 0 {
		nethttp.Redirect(w, r, "/"+url.PathEscape(products[0].Name), nethttp.StatusFound)
		return
	}
	e.aboutHandler(w, r)
}

func periodTitle(key summary.Key) string {
	switch key.Period() {
	case summary.PeriodDay:
		return key.StartDay().Format("2 January 2006")
	case summary.PeriodMonth:
		return key.StartDay().Format("January 2006")
	case summary.PeriodYear:
		return key.StartDay().Format("2006")
	}
	return "All time"
}

func (e *explorer) productYears(p *summary.ProductSummary) []int {
	if p == nil || p.TimeEarliest == nil || p.TimeLatest == nil {
		return nil
	}
	loc := e.cfg.Location()
	var years []int
	for y := p.TimeEarliest.In(loc).Year(); y <= p.TimeLatest.In(loc).Year(); y++ {
		years = append(years, y)
	}
	return years
}

func regionRows(product string, o *summary.TimePeriodOverview) []regionRow {
	codes := o.SortedRegions()
	out := make([]regionRow, 0, len(codes))
	for _, code := range codes {
		out = append(out, regionRow{
			Code:  code,
			Count: int64(o.RegionCounts[code]),
			Link:  "/region/" + url.PathEscape(product) + "/" + url.PathEscape(code),
		})
	}
	return out
}

type searchField struct {
	Name        string
	Description string
	Range       bool
	Value       string
	Begin       string
	End         string
}

type queryRow struct {
	Name  string
	Value string
}

type searchRow struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Archived   bool       `json:"archived,omitempty"`
	CenterTime *time.Time `json:"center_time,omitempty"`
	RegionCode string     `json:"region_code,omitempty"`
	SizeBytes  *int64     `json:"size_bytes,omitempty"`
}

type searchPage struct {
	Product    string
	Key        summary.Key
	Title      string
	FromIndex  bool
	Fields     []searchField
	Queries    []queryRow
	Rows       []searchRow
	More       bool
	Limit      int
	PeriodLink string
}

// searchHandler serves "/datasets/{product}[/{year}[/{month}[/{day}]]]".
// Datasets come from the index when it is enabled, else from the stored
// extents of the summary store.
func (e *explorer) searchHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/datasets"))
	if len(parts) == 0 {
		e.fail(w, r, errNotFound)
		return
	}
	product := parts[0]
	key, err := parseKey(product, parts[1:])
	if err != nil {
		e.fail(w, r, err)
		return
	}
	limit := parseLimit(r, e.cfg.SearchHardLimit, e.cfg.SearchHardLimit)
	page := searchPage{
		Product:    product,
		Key:        key,
		Title:      periodTitle(key),
		Limit:      limit,
		PeriodLink: "/" + url.PathEscape(product) + periodPath(key),
	}

	ctx := r.Context()
	switch {
	case e.index != nil:
		page.FromIndex = true
		err = e.searchIndex(ctx, &page, r.URL.Query())
	case e.summaries != nil:
		err = e.searchExtents(ctx, &page)
	default:
		err = errIndexDisabled
	}
	if err != nil {
		e.fail(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"product":  product,
			"period":   key.Period(),
			"count":    len(page.Rows),
			"limit":    limit,
			"more":     page.More,
			"datasets": page.Rows,
		})
		return
	}
	e.render(w, r, nethttp.StatusOK, "search", product+" datasets", page)
}

func (e *explorer) searchIndex(ctx context.Context, page *searchPage, args url.Values) error {
	start := time.Now()
	p, err := e.index.GetProduct(ctx, page.Product)
	recordDBQuery("index", "GetProduct", time.Since(start).Seconds(), err)
	if err != nil {
		return err
	}
	mt := p.MetadataType
	queries := index.ParseQuery(mt, args)
	if page.Key.Period() != summary.PeriodAll {
		if tf, ok := mt.Fields["time"]; ok {
			rng := page.Key.Range(e.cfg.Location())
			queries = append(queries, index.Query{
				Field: tf,
				Begin: rng.Begin.UTC().Format(time.RFC3339),
				End:   rng.End.Add(-time.Second).UTC().Format(time.RFC3339),
			})
		}
	}

	start = time.Now()
	datasets, more, err := e.index.SearchDatasets(ctx, p, queries, page.Limit)
	recordDBQuery("index", "SearchDatasets", time.Since(start).Seconds(), err)
	if err != nil {
		return err
	}
	page.More = more
	page.Rows = make([]searchRow, 0, len(datasets))
	for _, d := range datasets {
		id := d.ID.String()
		row := searchRow{
			ID:       id,
			Label:    render.DatasetLabel(d.Label(mt), d.LocalURI(), id),
			Archived: d.Archived != nil,
		}
		if ext, err := mt.ExtractExtent(d.Raw); err == nil {
			t := ext.CenterTime
			row.CenterTime = &t
			row.RegionCode = ext.RegionCode
			row.SizeBytes = ext.SizeBytes
		}
		page.Rows = append(page.Rows, row)
	}
	page.Fields = searchFields(mt, args)
	page.Queries = queryRows(queries)
	return nil
}

func (e *explorer) searchExtents(ctx context.Context, page *searchPage) error {
	if _, err := e.findProduct(ctx, page.Product); err != nil {
		return err
	}
	start := time.Now()
	extents, more, err := e.summaries.Search(ctx, page.Product, page.Key.Range(e.cfg.Location()), page.Limit)
	recordDBQuery("summary", "Search", time.Since(start).Seconds(), err)
	if err != nil {
		return err
	}
	page.More = more
	page.Rows = extentRows(extents)
	return nil
}

func extentRows(extents []summary.DatasetExtent) []searchRow {
	out := make([]searchRow, 0, len(extents))
	for _, ex := range extents {
		t := ex.CenterTime
		out = append(out, searchRow{
			ID:         ex.ID,
			Label:      ex.ID,
			CenterTime: &t,
			RegionCode: ex.RegionCode,
			SizeBytes:  ex.SizeBytes,
		})
	}
	return out
}

func searchFields(mt *index.MetadataType, args url.Values) []searchField {
	out := make([]searchField, 0, len(mt.Fields))
	for name, f := range mt.Fields {
		out = append(out, searchField{
			Name:        name,
			Description: f.Description,
			Range:       f.IsRange() || f.IsNumeric() || f.IsTime(),
			Value:       args.Get(name),
			Begin:       args.Get(name + "-begin"),
			End:         args.Get(name + "-end"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func queryRows(queries []index.Query) []queryRow {
	out := make([]queryRow, 0, len(queries))
	for _, q := range queries {
		if q.Equals != "" {
			out = append(out, queryRow{Name: q.Field.Name, Value: q.Equals})
			continue
		}
		var rng render.Range
		if q.Begin != "" {
			rng.Begin = q.Begin
		}
		if q.End != "" {
			rng.End = q.End
		}
		out = append(out, queryRow{Name: q.Field.Name, Value: render.QueryValue(rng)})
	}
	return out
}

type linkedRow struct {
	Classifier string
	ID         string
	Label      string
	Product    string
	Archived   bool
}

type datasetPage struct {
	Dataset      *index.Dataset
	Product      *index.Product
	Label        string
	Descriptions map[string]string
	Document     *document.Node
	Fields       *document.Node
	Fixed        *document.Node
	Sources      []linkedRow
	SourcesMore  int
	Derived      []linkedRow
	DerivedMore  int
	RawLink      string
	CenterTime   *time.Time
	RegionCode   string
	RegionLink   string
}

// datasetHandler serves "/dataset/{id}" and its raw document.
func (e *explorer) datasetHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := e.requireIndex(); err != nil {
		e.fail(w, r, err)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/dataset/")
	raw := strings.HasSuffix(name, datasetDocSuffix)
	id, err := uuid.Parse(strings.TrimSuffix(name, datasetDocSuffix))
	if err != nil {
		e.fail(w, r, errNotFound)
		return
	}

	ctx := r.Context()
	start := time.Now()
	d, err := e.index.GetDataset(ctx, id)
	recordDBQuery("index", "GetDataset", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	if raw {
		e.writeYAML(w, r, d.Metadata, "Dataset")
		return
	}

	start = time.Now()
	p, err := e.index.GetProduct(ctx, d.ProductName)
	recordDBQuery("index", "GetProduct", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	mt := p.MetadataType
	limit := e.cfg.ProvenanceDisplayLimit

	start = time.Now()
	sources, sourceTotal, err := e.index.SourceDatasets(ctx, id, limit)
	recordDBQuery("index", "SourceDatasets", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	start = time.Now()
	derived, derivedTotal, err := e.index.DerivedDatasets(ctx, id, limit)
	recordDBQuery("index", "DerivedDatasets", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}

	page := datasetPage{
		Dataset:      d,
		Product:      p,
		Label:        render.DatasetLabel(d.Label(mt), d.LocalURI(), d.ID.String()),
		Descriptions: mt.Descriptions(),
		Document:     orderedDoc(d.Metadata),
		Fields:       d.Fields(mt),
		Fixed:        p.FixedFields(),
		Sources:      linkedRows(sources, mt),
		SourcesMore:  sourceTotal - len(sources),
		Derived:      linkedRows(derived, mt),
		DerivedMore:  derivedTotal - len(derived),
		RawLink:      "/dataset/" + d.ID.String() + datasetDocSuffix,
	}
	if ext, err := mt.ExtractExtent(d.Raw); err == nil {
		t := ext.CenterTime
		page.CenterTime = &t
		if ext.RegionCode != "" {
			page.RegionCode = ext.RegionCode
			page.RegionLink = "/region/" + url.PathEscape(p.Name) + "/" + url.PathEscape(ext.RegionCode)
		}
	}
	e.render(w, r, nethttp.StatusOK, "dataset", page.Label, page)
}

func linkedRows(links []index.Linked, mt *index.MetadataType) []linkedRow {
	out := make([]linkedRow, 0, len(links))
	for _, l := range links {
		id := l.Dataset.ID.String()
		out = append(out, linkedRow{
			Classifier: l.Classifier,
			ID:         id,
			Label:      render.DatasetLabel(l.Dataset.Label(mt), l.Dataset.LocalURI(), id),
			Product:    l.Dataset.ProductName,
			Archived:   l.Dataset.Archived != nil,
		})
	}
	return out
}

type productPage struct {
	Product      *index.Product
	Entry        productEntry
	Descriptions map[string]string
	Definition   *document.Node
	Fixed        *document.Node
	License      string
	RawLink      string
}

// productHandler serves "/product/{name}" and its raw definition.
func (e *explorer) productHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := e.requireIndex(); err != nil {
		e.fail(w, r, err)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/product/")
	raw := strings.HasSuffix(name, productDocSuffix)
	name = strings.TrimSuffix(name, productDocSuffix)
	if name == "" || strings.Contains(name, "/") {
		e.fail(w, r, errNotFound)
		return
	}

	ctx := r.Context()
	start := time.Now()
	p, err := e.index.GetProduct(ctx, name)
	recordDBQuery("index", "GetProduct", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	if raw {
		e.writeYAML(w, r, p.Definition, "Product")
		return
	}

	entry, _ := e.findProduct(ctx, name)
	license := p.License()
	if license == "" {
		license = e.cfg.DefaultLicense
	}
	page := productPage{
		Product:      p,
		Entry:        entry,
		Descriptions: p.MetadataType.Descriptions(),
		Definition:   orderedDoc(p.Definition),
		Fixed:        p.FixedFields(),
		License:      license,
		RawLink:      "/product/" + url.PathEscape(p.Name) + productDocSuffix,
	}
	e.render(w, r, nethttp.StatusOK, "product", p.Name, page)
}

type metadataTypePage struct {
	Type     *index.MetadataType
	Fields   []index.Field
	Products []string
	RawLink  string
}

// metadataTypeHandler serves "/metadata-type/{name}" and its raw
// definition.
func (e *explorer) metadataTypeHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := e.requireIndex(); err != nil {
		e.fail(w, r, err)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/metadata-type/")
	raw := strings.HasSuffix(name, typeDocSuffix)
	name = strings.TrimSuffix(name, typeDocSuffix)
	if name == "" || strings.Contains(name, "/") {
		e.fail(w, r, errNotFound)
		return
	}

	ctx := r.Context()
	start := time.Now()
	mt, err := e.index.GetMetadataType(ctx, name)
	recordDBQuery("index", "GetMetadataType", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	if raw {
		e.writeYAML(w, r, mt.Definition, "Metadata Type")
		return
	}

	start = time.Now()
	products, err := e.index.ListProducts(ctx)
	recordDBQuery("index", "ListProducts", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	page := metadataTypePage{Type: mt, RawLink: "/metadata-type/" + url.PathEscape(mt.Name) + typeDocSuffix}
	for _, p := range products {
		if p.MetadataType != nil && p.MetadataType.Name == mt.Name {
			page.Products = append(page.Products, p.Name)
		}
	}
	for _, f := range mt.Fields {
		page.Fields = append(page.Fields, f)
	}
	sort.Slice(page.Fields, func(i, j int) bool { return page.Fields[i].Name < page.Fields[j].Name })
	e.render(w, r, nethttp.StatusOK, "metadataType", mt.Name, page)
}

type regionPage struct {
	Product string
	Region  string
	Total   int64
	Rows    []searchRow
}

// regionHandler serves "/region/{product}/{region}". With ?feelinglucky
// it jumps straight to the dataset when the region holds exactly one.
func (e *explorer) regionHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := e.requireSummaries(); err != nil {
		e.fail(w, r, err)
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/region"))
	if len(parts) != 2 {
		e.fail(w, r, errNotFound)
		return
	}
	product, region := parts[0], parts[1]

	ctx := r.Context()
	if _, err := e.findProduct(ctx, product); err != nil {
		e.fail(w, r, err)
		return
	}
	limit := parseLimit(r, e.cfg.SearchHardLimit, e.cfg.SearchHardLimit)
	start := time.Now()
	extents, total, err := e.summaries.RegionDatasets(ctx, product, region, limit)
	recordDBQuery("summary", "RegionDatasets", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	if _, lucky := r.URL.Query()["feelinglucky"]; lucky && total == 1 && len(extents) == 1 {
		nethttp.Redirect(w, r, "/dataset/"+url.PathEscape(extents[0].ID), nethttp.StatusFound)
		return
	}
	page := regionPage{Product: product, Region: region, Total: total, Rows: extentRows(extents)}
	e.render(w, r, nethttp.StatusOK, "region", product+" "+region, page)
}

type aboutPage struct {
	Products      []productEntry
	MetadataTypes []*index.MetadataType
	TotalDatasets int64
	IndexEnabled  bool
}

// aboutHandler serves "/about".
func (e *explorer) aboutHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	ctx := r.Context()
	products, err := e.productList(ctx)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	page := aboutPage{Products: products, IndexEnabled: e.index != nil}
	for _, p := range products {
		page.TotalDatasets += p.DatasetCount()
	}
	if e.index != nil {
		start := time.Now()
		types, err := e.index.ListMetadataTypes(ctx)
		recordDBQuery("index", "ListMetadataTypes", time.Since(start).Seconds(), err)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		page.MetadataTypes = types
	}
	e.render(w, r, nethttp.StatusOK, "about", "About", page)
}

type auditRow struct {
	Name           string
	Indexed        bool
	Summarised     bool
	DatasetCount   int64
	LastRefresh    time.Time
	RefreshAge     time.Duration
	GenerationTime time.Time
	Quality        *summarystore.QualityStat
}

type auditPage struct {
	Rows        []auditRow
	Missing     []string
	Unindexed   []string
	Problems    int
	Summarised  int
	ShowIndexed bool
}

// auditHandler serves "/product-audit/": which products are summarised,
// how fresh they are and which stored extents lack optional values.
func (e *explorer) auditHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	if err := e.requireSummaries(); err != nil {
		e.fail(w, r, err)
		return
	}
	ctx := r.Context()
	products, err := e.productList(ctx)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	start := time.Now()
	generated, err := e.summaries.GenerationTimes(ctx)
	recordDBQuery("summary", "GenerationTimes", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	start = time.Now()
	quality, err := e.summaries.QualityStats(ctx)
	recordDBQuery("summary", "QualityStats", time.Since(start).Seconds(), err)
	if err != nil {
		e.fail(w, r, err)
		return
	}
	byProduct := make(map[string]*summarystore.QualityStat, len(quality))
	for i := range quality {
		byProduct[quality[i].Product] = &quality[i]
	}

	now := e.now()
	page := auditPage{ShowIndexed: e.index != nil}
	for _, p := range products {
		row := auditRow{
			Name:           p.Name,
			Indexed:        p.Indexed,
			Summarised:     p.Summary != nil,
			DatasetCount:   p.DatasetCount(),
			GenerationTime: generated[p.Name],
			Quality:        byProduct[p.Name],
		}
		if p.Summary != nil {
			row.LastRefresh = p.Summary.LastRefresh
			row.RefreshAge = p.Summary.LastRefreshAge(now)
			page.Summarised++
		}
		if row.Quality != nil && row.Quality.HasProblems() {
			page.Problems++
		}
		switch {
		case p.Indexed && p.Summary == nil:
			page.Missing = append(page.Missing, p.Name)
		case e.index != nil && !p.Indexed:
			page.Unindexed = append(page.Unindexed, p.Name)
		}
		page.Rows = append(page.Rows, row)
	}
	e.render(w, r, nethttp.StatusOK, "audit", "Product audit", page)
}

type reportRow struct {
	Product  string
	Link     string
	Overview *summary.TimePeriodOverview
}

type reportPage struct {
	Products []string
	Key      summary.Key
	Title    string
	Rows     []reportRow
	Combined *summary.TimePeriodOverview
	Bars     []render.Bar
	BasePath string
}

// reportHandler serves "/reports/{a+b}[/{year}[/{month}[/{day}]]]": the
// overviews of several products side by side and merged.
func (e *explorer) reportHandler(w nethttp.ResponseWriter, r *nethttp.Request) {
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/reports"))
	if len(parts) == 0 {
		e.fail(w, r, errNotFound)
		return
	}
	names := strings.FieldsFunc(parts[0], func(c rune) bool { return c == '+' || c == ' ' || c == ',' })
	if len(names) == 0 {
		e.fail(w, r, errNotFound)
		return
	}

	ctx := r.Context()
	page := reportPage{Products: names, BasePath: "/reports/" + strings.Join(names, "+")}
	periods := make([]*summary.TimePeriodOverview, 0, len(names))
	for _, name := range names {
		if _, err := e.findProduct(ctx, name); err != nil {
			e.fail(w, r, err)
			return
		}
		key, err := parseKey(name, parts[1:])
		if err != nil {
			e.fail(w, r, err)
			return
		}
		page.Key = key
		o, err := e.overview(ctx, key)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		periods = append(periods, o)
		page.Rows = append(page.Rows, reportRow{
			Product:  name,
			Link:     "/" + url.PathEscape(name) + periodPath(key),
			Overview: o,
		})
	}
	page.Key.Product = ""
	page.Title = periodTitle(page.Key)
	page.Combined = summary.AddPeriods(periods)
	page.Bars = render.Timeline(page.Combined.TimelineCounts, string(page.Combined.TimelinePeriod), func(t time.Time) string {
		return page.BasePath + periodPath(bucketKey("", t, page.Combined.TimelinePeriod))
	})
	e.render(w, r, nethttp.StatusOK, "report", "Report", page)
}
