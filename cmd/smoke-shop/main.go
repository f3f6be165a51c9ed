package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// smoke-shop runs a quick end-to-end purchase against a live verano-api:
// pick a product, open a cart, add one unit, check out, and verify the
// placed order's total matches the product price.
func main() {
	base := os.Getenv("VERANO_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	var listing struct {
		Items []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			PriceCents int64  `json:"price_cents"`
			Stock      int    `json:"stock"`
		} `json:"items"`
	}
	getJSON(client, base+"/v1/products", &listing)
	if len(listing.Items) == 0 {
		log.Fatal("no products in catalog; run `migrate seed` first")
	}
	product := listing.Items[0]
	if product.Stock == 0 {
		log.Fatalf("product %s is out of stock", product.Name)
	}

	var cart struct {
		ID string `json:"id"`
	}
	postJSON(client, base+"/v1/cart", nil, &cart, http.StatusCreated)

	postJSON(client, base+"/v1/cart/"+cart.ID+"/items", map[string]any{
		"product_id": product.ID,
		"quantity":   1,
	}, nil, http.StatusOK)

	var order struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		TotalCents int64  `json:"total_cents"`
	}
	postJSON(client, base+"/v1/checkout", map[string]any{
		"cart_id": cart.ID,
		"email":   "smoke@example.com",
	}, &order, http.StatusCreated)

	if order.TotalCents != product.PriceCents {
		log.Fatalf("total mismatch: order=%d product=%d", order.TotalCents, product.PriceCents)
	}
	if order.Status != "pending" {
		log.Fatalf("unexpected order status: %s", order.Status)
	}

	fmt.Printf("✅ storefront smoke test passed: order=%s product=%s\n", order.ID, product.Name)
}

func getJSON(client *http.Client, url string, out any) {
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode %s: %v", url, err)
	}
}

func postJSON(client *http.Client, url string, body, out any, wantStatus int) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", url, err)
		}
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", url, err)
		}
	}
}
