package catalog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/shopspring/decimal"
)

const (
	defaultColorName = "Default"
	defaultColorHex  = "#FFFFFF"
	defaultCategory  = "Uncategorized"
	defaultName      = "No Name"
)

type Variation struct {
	VariationID string `json:"variationId"`
	ColorName   string `json:"colorName"`
	ColorHex    string `json:"colorHex"`
	ImageURL    string `json:"imageUrl"`
	Stock       int    `json:"stock"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Tags        []string        `json:"tags"`
	Rating      float64         `json:"rating"`
	Reviews     int             `json:"reviews"`
	Variations  []Variation     `json:"variations"`
}

// Join builds products from the products and inventory tables. Products and
// inventory rows without an id are dropped.
func Join(products, inventory []ledger.Record) []Product {
	byProduct := map[string][]Variation{}
	for _, row := range ledger.RowsOf(inventory) {
		if row.ProductID == "" || row.VariationID == "" {
			continue
		}
		byProduct[row.ProductID] = append(byProduct[row.ProductID], Variation{
			VariationID: row.VariationID,
			ColorName:   or(row.ColorName, defaultColorName),
			ColorHex:    or(row.ColorHex, defaultColorHex),
			ImageURL:    row.ImageURL,
			Stock:       row.Stock,
		})
	}

	out := make([]Product, 0, len(products))
	for _, rec := range products {
		id := strings.TrimSpace(rec["id"])
		if id == "" {
			continue
		}
		variations := byProduct[id]
		if variations == nil {
			variations = []Variation{}
		}
		out = append(out, Product{
			ID:          id,
			Name:        or(rec["name"], defaultName),
			BasePrice:   parseDecimal(rec["basePrice"]),
			Description: rec["description"],
			Category:    or(rec["category"], defaultCategory),
			Tags:        splitTags(rec["tags"]),
			Rating:      parseFloat(rec["rating"]),
			Reviews:     int(parseFloat(rec["reviews"])),
			Variations:  variations,
		})
	}
	return out
}

type Query struct {
	Category string
	Search   string
	SortBy   string
	Page     int
	Limit    int
}

const DefaultLimit = 12

type Pagination struct {
	CurrentPage   int `json:"currentPage"`
	TotalPages    int `json:"totalPages"`
	TotalProducts int `json:"totalProducts"`
}

type Page struct {
	Products   []Product  `json:"products"`
	Pagination Pagination `json:"pagination"`
}

// Filter applies category, search, sort and pagination to all.
func Filter(all []Product, q Query) Page {
	category := strings.ToLower(strings.TrimSpace(q.Category))
	search := strings.ToLower(strings.TrimSpace(q.Search))

	filtered := make([]Product, 0, len(all))
	for _, p := range all {
		if category != "" && strings.ToLower(p.Category) != category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		filtered = append(filtered, p)
	}

	switch q.SortBy {
	case "":
	case "price-low":
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].BasePrice.LessThan(filtered[j].BasePrice) })
	case "price-high":
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].BasePrice.GreaterThan(filtered[j].BasePrice) })
	case "rating":
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Rating > filtered[j].Rating })
	default:
		sort.SliceStable(filtered, func(i, j int) bool {
			return strings.ToLower(filtered[i].Name) < strings.ToLower(filtered[j].Name)
		})
	}

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	total := len(filtered)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	return Page{
		Products: filtered[start:end],
		Pagination: Pagination{
			CurrentPage:   page,
			TotalPages:    (total + limit - 1) / limit,
			TotalProducts: total,
		},
	}
}

// CategoriesOf lists distinct categories in alphabetical order.
func CategoriesOf(all []Product) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, p := range all {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func splitTags(s string) []string {
	out := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
