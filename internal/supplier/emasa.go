package supplier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
)

const (
	EmasaName = "EMASA"

	emasaBase       = "https://ecommerce.emasa.cl/b2b/"
	emasaLogin      = emasaBase + "loginvip.jsp"
	emasaCategories = emasaBase + "buscador_googleo.jsp"

	emasaNext = "#tblProd_next:not(.disabled)"
)

// Emasa is the EMASA B2B catalog. Listings are a paginated table driven by
// a "next" button, so product details are read in a second tab.
type Emasa struct {
	opts Options
}

func NewEmasa(opts Options) *Emasa {
	return &Emasa{opts: opts.withDefaults()}
}

func (e *Emasa) Name() string { return EmasaName }

// The EMASA certificate chain does not validate.
func (e *Emasa) SessionOptions() automation.Options {
	return automation.Options{IgnoreCertErrors: true}
}

func (e *Emasa) Login(ctx context.Context, s automation.Session, creds entity.Credentials) error {
	form := loginForm{
		URL:      emasaLogin,
		RUT:      "input#txtrut",
		Username: "input#txtuser",
		Password: "input#txtpass",
		Submit:   "input#btnlogin",
		Marker:   "loginvip.jsp",
	}
	return form.login(ctx, s, creds, e.opts)
}

func (e *Emasa) Categories() pipeline.Source[entity.Category] { return emasaCategorySource{} }

func (e *Emasa) Products() pipeline.Source[entity.Product] { return &emasaProductSource{opts: e.opts} }

var familyCode = regexp.MustCompile(`cod_familia=([^&]+)`)

type emasaCategorySource struct{}

func (emasaCategorySource) Total(ctx context.Context, s automation.Session, _ pipeline.Scope) (int, error) {
	refs, err := emasaCategoryRefs(ctx, s)
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

func (emasaCategorySource) ListPage(ctx context.Context, s automation.Session, _ pipeline.Scope, page int) (pipeline.Listing, error) {
	if page > 1 {
		return pipeline.Listing{}, nil
	}
	refs, err := emasaCategoryRefs(ctx, s)
	if err != nil {
		return pipeline.Listing{}, err
	}
	return pipeline.Listing{Items: refs}, nil
}

func (emasaCategorySource) Detail(_ context.Context, _ automation.Session, _ pipeline.Scope, ref pipeline.ItemRef) (entity.Category, error) {
	return entity.Category{ExternalID: ref.Key, Name: ref.Name, URL: ref.URL, Kind: "linea"}, nil
}

// emasaCategoryRefs reads the product-line dropdown; the family code in the
// link is the external id.
func emasaCategoryRefs(ctx context.Context, s automation.Session) ([]pipeline.ItemRef, error) {
	if s.URL(ctx) != emasaCategories {
		if err := s.Navigate(ctx, emasaCategories); err != nil {
			return nil, err
		}
	}
	doc, err := automation.Snapshot(ctx, s)
	if err != nil {
		return nil, err
	}

	var refs []pipeline.ItemRef
	seen := map[string]bool{}
	doc.Find(`ul.dropdown-menu li[role="presentation"] a[href*="cod_familia"]`).Each(func(_ int, a *goquery.Selection) {
		name := automation.CleanText(a.Text())
		href, _ := a.Attr("href")
		if name == "" || href == "" {
			return
		}
		id := name
		if m := familyCode.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
		if seen[id] {
			return
		}
		seen[id] = true
		refs = append(refs, pipeline.ItemRef{Key: id, Name: name, URL: automation.Absolute(emasaBase, href)})
	})
	if len(refs) == 0 {
		return nil, fmt.Errorf("no categories on %s", emasaCategories)
	}
	return refs, nil
}

var (
	emasaTotal = regexp.MustCompile(`de un total de (\d+) registros`)
	yearRange  = regexp.MustCompile(`(\d{4})\s*-\s*(\d{4}|--)`)
)

// emasaProductSource remembers the first SKU of the current page so a page
// switch can be detected after clicking "next". One instance serves one job.
type emasaProductSource struct {
	opts     Options
	firstSKU string
}

func (p *emasaProductSource) Total(ctx context.Context, s automation.Session, scope pipeline.Scope) (int, error) {
	if err := p.openListing(ctx, s, scope); err != nil {
		return 0, err
	}
	doc, err := automation.Snapshot(ctx, s)
	if err != nil {
		return 0, err
	}
	m := emasaTotal.FindStringSubmatch(doc.Find("#tblProd_info").Text())
	if m == nil {
		return 0, pipeline.ErrTotalUnknown
	}
	return strconv.Atoi(m[1])
}

func (p *emasaProductSource) openListing(ctx context.Context, s automation.Session, scope pipeline.Scope) error {
	if scope.URL == "" {
		return fmt.Errorf("category %s has no listing url", scope.Name)
	}
	if err := s.Navigate(ctx, scope.URL); err != nil {
		return err
	}
	return s.WaitUntil(ctx, automation.SelectorPresent("#tblProd"), p.opts.WaitTimeout)
}

func (p *emasaProductSource) ListPage(ctx context.Context, s automation.Session, scope pipeline.Scope, page int) (pipeline.Listing, error) {
	if page == 1 {
		if !strings.HasPrefix(s.URL(ctx), scope.URL) {
			if err := p.openListing(ctx, s, scope); err != nil {
				return pipeline.Listing{}, err
			}
		}
	} else if err := p.next(ctx, s); err != nil {
		return pipeline.Listing{}, err
	}

	doc, err := automation.Snapshot(ctx, s)
	if err != nil {
		return pipeline.Listing{}, err
	}
	items := parseEmasaRows(doc)
	if len(items) > 0 {
		p.firstSKU = items[0].Key
	}
	return pipeline.Listing{
		Items:   items,
		HasMore: doc.Find(emasaNext).Length() > 0,
	}, nil
}

// next clicks the pager and waits until the table shows a different first row.
func (p *emasaProductSource) next(ctx context.Context, s automation.Session) error {
	if err := automation.ClickFirst(ctx, s, emasaNext); err != nil {
		if errors.Is(err, automation.ErrNoElement) {
			return errors.New("no next page")
		}
		return err
	}
	prev := p.firstSKU
	switched := func(ctx context.Context, s automation.Session) (bool, error) {
		doc, err := automation.Snapshot(ctx, s)
		if err != nil {
			return false, err
		}
		rows := parseEmasaRows(doc)
		return len(rows) > 0 && rows[0].Key != prev, nil
	}
	if err := s.WaitUntil(ctx, switched, p.opts.WaitTimeout); err != nil {
		return fmt.Errorf("wait for next page: %w", err)
	}
	return nil
}

// parseEmasaRows reads the ITEM column (third cell); its link target is the detail page.
func parseEmasaRows(doc *goquery.Document) []pipeline.ItemRef {
	var items []pipeline.ItemRef
	doc.Find("#tblProd tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		item := cells.Eq(2)
		link := item.Find("[data-src]").First()
		if link.Length() == 0 {
			link = item.Find("a").First()
		}
		if link.Length() == 0 {
			return
		}
		sku := automation.CleanText(link.Text())
		target, ok := link.Attr("data-src")
		if !ok || target == "" {
			target, _ = link.Attr("href")
		}
		if sku == "" || target == "" {
			return
		}
		items = append(items, pipeline.ItemRef{
			Key: sku,
			URL: automation.Absolute(emasaBase, strings.TrimPrefix(target, "/")),
		})
	})
	return items
}

func (p *emasaProductSource) Detail(ctx context.Context, s automation.Session, scope pipeline.Scope, ref pipeline.ItemRef) (entity.Product, error) {
	tab, err := s.NewTab(ctx)
	if err != nil {
		return entity.Product{}, err
	}
	defer func() { _ = tab.Close() }()

	if err := tab.Navigate(ctx, ref.URL); err != nil {
		return entity.Product{}, err
	}
	doc, err := automation.Snapshot(ctx, tab)
	if err != nil {
		return entity.Product{}, err
	}

	prod := parseEmasaProduct(doc, ref.Key)
	prod.URL = ref.URL
	prod.CategoryID = scope.CategoryID
	screenshot(ctx, tab, p.opts, EmasaName, ref.Key)
	return prod, nil
}

func parseEmasaProduct(doc *goquery.Document, sku string) entity.Product {
	body := doc.Selection
	prod := entity.Product{
		SKU:       sku,
		Name:      automation.Text(body, ".box-body h3"),
		Brand:     automation.Text(body, ".box-body .col-sm-8 span"),
		ExtraData: map[string]any{},
	}
	if prod.Name == "" {
		prod.Name = "Sin nombre"
	}

	// the second price block is the one with IVA
	if prices := doc.Find("div.pficha h3"); prices.Length() >= 2 {
		prod.Price = parsePrice(prices.Eq(1).Text())
	}

	var features []string
	doc.Find(".jumbotron ul li").Each(func(_ int, li *goquery.Selection) {
		if t := automation.CleanText(li.Text()); t != "" {
			features = append(features, t)
		}
	})
	prod.Description = strings.Join(features, "\n")
	if len(features) > 0 {
		prod.ExtraData["characteristics"] = features
	}

	var images []string
	doc.Find("#slider-thumbs img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("data-zoom")
		if src == "" {
			src, _ = img.Attr("src")
		}
		if src == "" || strings.Contains(src, "no_image") {
			return
		}
		images = appendUnique(images, automation.Absolute(emasaBase, src))
	})
	prod.Images = images

	var apps []entity.Application
	doc.Find("#tb1 tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		app := entity.Application{CarBrand: automation.CleanText(cells.Eq(0).Text())}
		model := automation.CleanText(cells.Eq(1).Text())
		if main, secondary, ok := strings.Cut(model, "/"); ok {
			model = strings.TrimSpace(main)
			app.SecondaryName = strPtr(strings.TrimSpace(secondary))
		}
		app.CarModel = model
		if m := yearRange.FindStringSubmatch(cells.Eq(2).Text()); m != nil {
			app.YearStart = atoiPtr(m[1])
			app.YearEnd = atoiPtr(m[2])
		}
		apps = append(apps, app)
	})
	if len(apps) > 0 {
		prod.ExtraData["applications"] = apps
	}

	if maxStock, ok := doc.Find("#txtAgrega").Attr("max"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(maxStock)); err == nil {
			prod.Stock = n
		}
	}
	prod.ExtraData["is_offer"] = doc.Find(".label-dcto").Length() > 0
	return prod
}
