package supplier

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

const (
	NoriegaName = "NORIEGA"

	noriegaBase       = "https://ecommerce.noriegavanzulli.cl/b2b/"
	noriegaLogin      = noriegaBase + "loginvip.jsp"
	noriegaCategories = noriegaBase + "seleccion_medida.jsp"

	kindMedida     = "medida"
	kindFabricante = "fabricante"
)

// Noriega is the Noriega Vanzulli B2B catalog. Category listings fit on a
// single page; products are read one detail page at a time.
type Noriega struct {
	opts Options
}

func NewNoriega(opts Options) *Noriega {
	return &Noriega{opts: opts.withDefaults()}
}

func (n *Noriega) Name() string { return NoriegaName }

func (n *Noriega) SessionOptions() automation.Options { return automation.Options{} }

func (n *Noriega) Login(ctx context.Context, s automation.Session, creds entity.Credentials) error {
	form := loginForm{
		URL:      noriegaLogin,
		RUT:      `input[name="trut"]`,
		Username: `input[name="tuser"]`,
		Password: `input[name="tpass"]`,
		Submit:   `input[name="Ingresar"]`,
		Marker:   "loginvip.jsp",
	}
	return form.login(ctx, s, creds, n.opts)
}

func (n *Noriega) Categories() pipeline.Source[entity.Category] { return noriegaCategorySource{} }

func (n *Noriega) Products() pipeline.Source[entity.Product] {
	return &noriegaProductSource{opts: n.opts}
}

var noriegaCategoryTables = []struct {
	selector string
	kind     string
}{
	{"#listado2 #tabla_lista table tbody tr td a", kindMedida},
	{"#listado3 #tabla_lista table tbody tr td a", kindFabricante},
}

type noriegaCategorySource struct{}

func (noriegaCategorySource) Total(ctx context.Context, s automation.Session, _ pipeline.Scope) (int, error) {
	refs, err := noriegaCategoryRefs(ctx, s)
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

func (noriegaCategorySource) ListPage(ctx context.Context, s automation.Session, _ pipeline.Scope, page int) (pipeline.Listing, error) {
	if page > 1 {
		return pipeline.Listing{}, nil
	}
	refs, err := noriegaCategoryRefs(ctx, s)
	if err != nil {
		return pipeline.Listing{}, err
	}
	return pipeline.Listing{Items: refs}, nil
}

func (noriegaCategorySource) Detail(_ context.Context, _ automation.Session, _ pipeline.Scope, ref pipeline.ItemRef) (entity.Category, error) {
	return entity.Category{
		ExternalID: ref.Key,
		Name:       ref.Name,
		URL:        ref.URL,
		Kind:       ref.Attrs["kind"],
	}, nil
}

// noriegaCategoryRefs reads both "X MEDIDA" and "X Nº DE FABRICANTE" tables.
// The category name doubles as its external id.
func noriegaCategoryRefs(ctx context.Context, s automation.Session) ([]pipeline.ItemRef, error) {
	if s.URL(ctx) != noriegaCategories {
		if err := s.Navigate(ctx, noriegaCategories); err != nil {
			return nil, err
		}
	}
	doc, err := automation.Snapshot(ctx, s)
	if err != nil {
		return nil, err
	}

	var refs []pipeline.ItemRef
	seen := map[string]bool{}
	for _, t := range noriegaCategoryTables {
		doc.Find(t.selector).Each(func(_ int, a *goquery.Selection) {
			name := automation.CleanText(a.Text())
			href, _ := a.Attr("href")
			if name == "" || href == "" || seen[name] {
				return
			}
			seen[name] = true
			refs = append(refs, pipeline.ItemRef{
				Key:   name,
				Name:  name,
				URL:   automation.Absolute(noriegaBase, href),
				Attrs: map[string]string{"kind": t.kind},
			})
		})
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no categories on %s", noriegaCategories)
	}
	return refs, nil
}

// noriegaListingURL rebuilds the listing from the category name; the stored
// URL is the fallback for categories of an unknown kind.
func noriegaListingURL(scope pipeline.Scope) string {
	name := scope.ExternalID
	if name == "" {
		name = scope.Name
	}
	switch {
	case scope.Kind == kindMedida || strings.Contains(scope.URL, "resultado_medida.jsp"):
		return noriegaBase + "resultado_medida.jsp?medida=" + url.QueryEscape(name)
	case scope.Kind == kindFabricante || strings.Contains(scope.URL, "resultado_fabrica.jsp"):
		return noriegaBase + "resultado_fabrica.jsp?fabrica=" + url.QueryEscape(name)
	}
	return scope.URL
}

var resultCount = regexp.MustCompile(`(?i)(\d+)\s*resultados?`)

type noriegaProductSource struct {
	opts Options
}

func (p *noriegaProductSource) open(ctx context.Context, s automation.Session, scope pipeline.Scope) (*goquery.Document, error) {
	target := noriegaListingURL(scope)
	if target == "" {
		return nil, fmt.Errorf("category %s has no listing url", scope.Name)
	}
	if s.URL(ctx) != target {
		if err := s.Navigate(ctx, target); err != nil {
			return nil, err
		}
	}
	return automation.Snapshot(ctx, s)
}

func (p *noriegaProductSource) Total(ctx context.Context, s automation.Session, scope pipeline.Scope) (int, error) {
	doc, err := p.open(ctx, s, scope)
	if err != nil {
		return 0, err
	}
	// the first block holds the category name, the second "236 resultados"
	titles := doc.Find("div.titulo_x_medida")
	if titles.Length() < 2 {
		return 0, pipeline.ErrTotalUnknown
	}
	m := resultCount.FindStringSubmatch(titles.Eq(1).Text())
	if m == nil {
		return 0, pipeline.ErrTotalUnknown
	}
	return strconv.Atoi(m[1])
}

func (p *noriegaProductSource) ListPage(ctx context.Context, s automation.Session, scope pipeline.Scope, page int) (pipeline.Listing, error) {
	if page > 1 {
		return pipeline.Listing{}, nil
	}
	doc, err := p.open(ctx, s, scope)
	if err != nil {
		return pipeline.Listing{}, err
	}

	var items []pipeline.ItemRef
	seen := map[string]bool{}
	doc.Find("table tbody tr td.n_noriega a").Each(func(_ int, a *goquery.Selection) {
		sku := automation.CleanText(a.Text())
		if sku == "" || seen[sku] {
			return
		}
		seen[sku] = true
		items = append(items, pipeline.ItemRef{
			Key: sku,
			URL: noriegaBase + "producto.jsp?codigo=" + url.QueryEscape(sku) + "&ref=resultado_medida",
		})
	})
	return pipeline.Listing{Items: items}, nil
}

const noriegaApplicationsTab = "li.TabbedPanelsTab"

func (p *noriegaProductSource) Detail(ctx context.Context, s automation.Session, scope pipeline.Scope, ref pipeline.ItemRef) (entity.Product, error) {
	if err := s.Navigate(ctx, ref.URL); err != nil {
		return entity.Product{}, err
	}
	doc, err := automation.Snapshot(ctx, s)
	if err != nil {
		return entity.Product{}, err
	}

	prod := parseNoriegaProduct(doc, ref.Key)
	prod.URL = ref.URL
	prod.CategoryID = scope.CategoryID

	// applications only render after the tab is opened
	if apps, err := p.applications(ctx, s); err != nil {
		p.opts.Log.Warn().Err(err).Str("sku", ref.Key).Msg("noriega applications")
	} else if len(apps) > 0 {
		prod.ExtraData["applications"] = apps
	}

	screenshot(ctx, s, p.opts, NoriegaName, ref.Key)
	return prod, nil
}

func (p *noriegaProductSource) applications(ctx context.Context, s automation.Session) ([]entity.Application, error) {
	tabs, err := s.Find(ctx, noriegaApplicationsTab)
	if err != nil {
		return nil, err
	}
	for _, tab := range tabs {
		text, err := tab.Text()
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToUpper(text), "APLICACI") {
			if err := tab.Click(); err != nil {
				return nil, err
			}
			break
		}
	}
	if err := s.WaitUntil(ctx, automation.SelectorPresent("tr.contenidoAA"), p.opts.WaitTimeout/10); err != nil {
		// no applications for this product
		return nil, nil
	}

	doc, err := automation.Snapshot(ctx, s)
	if err != nil {
		return nil, err
	}
	return parseNoriegaApplications(doc), nil
}

func parseNoriegaProduct(doc *goquery.Document, sku string) entity.Product {
	body := doc.Selection
	prod := entity.Product{
		SKU:         sku,
		Name:        automation.Text(body, "#titulo"),
		Description: automation.Text(body, "#producto_descripcion"),
		Brand:       automation.Text(body, "#marca"),
		Price:       parsePrice(automation.Text(body, "#precio_lista .valor")),
		ExtraData:   map[string]any{},
	}
	if prod.Name == "" {
		prod.Name = "Producto " + sku
	}
	if origin := automation.Text(body, "#origen"); origin != "" {
		prod.ExtraData["origin"] = origin
	}

	stock := strings.ToLower(automation.Text(body, "#precio_descuento .texto"))
	if strings.Contains(stock, "disponible") {
		prod.Stock = 999
	}

	var images []string
	doc.Find("#fotos img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		images = appendUnique(images, automation.Absolute(noriegaBase, src))
	})
	prod.Images = images

	var oem []string
	oem = appendUnique(oem, automation.Text(body, "#numero_original"))
	oem = appendUnique(oem, automation.Text(body, "#numero_fabrica"))
	if len(oem) > 0 {
		prod.ExtraData["oem"] = oem
	}
	return prod
}

// parseNoriegaApplications reads brand | model | secondary | from | to rows;
// "--" as the end year means still in production.
func parseNoriegaApplications(doc *goquery.Document) []entity.Application {
	var apps []entity.Application
	doc.Find("tr.contenidoAA").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		cell := func(i int) string { return automation.CleanText(cells.Eq(i).Text()) }
		apps = append(apps, entity.Application{
			CarBrand:      cell(0),
			CarModel:      cell(1),
			SecondaryName: strPtr(cell(2)),
			YearStart:     atoiPtr(cell(3)),
			YearEnd:       atoiPtr(cell(4)),
		})
	})
	return apps
}
