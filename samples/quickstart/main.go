package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/stores/elastic"
	"github.com/gabisonia/go-esquery/stores/memory"
)

const (
	defaultIndex = "sample_shop"
	defaultType  = "products"
)

type product struct {
	ID       string
	Name     string
	Category string
	Price    float64
	Stock    int
}

func main() {
	esURL := flag.String("es", "", "Elasticsearch URL; empty runs against the in-memory engine")
	index := flag.String("index", defaultIndex, "Index name")
	search := flag.String("q", "chair", "Fuzzy match against product names")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, strings.TrimSpace(*esURL), *index, *search); err != nil {
		fmt.Fprintf(os.Stderr, "sample failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, esURL, index, search string) error {
	var dispatcher esquery.Dispatcher = memory.NewEngine(memory.Options{})
	if esURL != "" {
		client, err := elastic.NewClient(elastic.Options{
			Hosts:           []string{esURL},
			UseMappingTypes: true,
			Refresh:         "true",
		})
		if err != nil {
			return err
		}
		dispatcher = client
	}

	conn, err := esquery.NewConnection(dispatcher, index, esquery.ConnectionOptions{})
	if err != nil {
		return err
	}
	defer conn.Close()
	table := conn.Table(defaultType, "")

	for _, p := range sampleProducts() {
		ok, err := table.Insert(ctx, map[string]any{
			"_id":      p.ID,
			"name":     p.Name,
			"category": p.Category,
			"price":    p.Price,
			"stock":    p.Stock,
		})
		if err != nil {
			return fmt.Errorf("insert %s: %w", p.ID, err)
		}
		if !ok {
			return fmt.Errorf("insert %s: not created", p.ID)
		}
	}
	fmt.Printf("Inserted %d products into %s/%s\n", len(sampleProducts()), index, defaultType)

	q := table.Query().
		Where("name", "like", search).
		WhereNested(func(b *esquery.Builder) {
			b.Where("price", "<", 200).OrWhere("category", "=", "outdoor")
		}).
		WhereNotIn("category", "clearance").
		OrderByDesc("price").
		Limit(5)

	spec, err := q.Spec()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	req, err := conn.Compiler().CompileSelect(spec)
	if err != nil {
		return fmt.Errorf("compile query: %w", err)
	}
	wire, err := json.MarshalIndent(req.Body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("\nCompiled request for %s/%s:\n%s\n", req.Index, req.Type, wire)

	rs, err := table.Get(ctx, q)
	if err != nil {
		return err
	}
	fmt.Printf("\nMatched %d of %d products:\n", len(rs.Rows), rs.Total)
	for i, hit := range rs.Rows {
		fmt.Printf("%d. [%s] %v (%v) score=%.3f\n", i+1, hit.ID, hit.Fields["name"], hit.Fields["price"], hit.Score)
	}

	avg, err := table.Avg(ctx, table.Query().Where("category", "=", "furniture"), "price")
	if err != nil {
		return err
	}
	fmt.Printf("\nAverage furniture price: %.2f\n", avg)
	return nil
}

func sampleProducts() []product {
	return []product{
		{ID: "p-1", Name: "Oak dining chair", Category: "furniture", Price: 149, Stock: 12},
		{ID: "p-2", Name: "Folding camp chair", Category: "outdoor", Price: 39.5, Stock: 40},
		{ID: "p-3", Name: "Leather office chair", Category: "furniture", Price: 420, Stock: 3},
		{ID: "p-4", Name: "Walnut side table", Category: "furniture", Price: 260, Stock: 7},
		{ID: "p-5", Name: "Hammock with stand", Category: "outdoor", Price: 310, Stock: 5},
	}
}
