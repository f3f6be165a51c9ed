package orders

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"order_id", "created_at", "customer_email", "status",
	"currency", "total_cents", "item_count",
}

// WriteCSV streams orders as a CSV report, one row per order.
func WriteCSV(w io.Writer, list []Order) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range list {
		items := 0
		for _, it := range o.Items {
			items += it.Quantity
		}
		row := []string{
			o.ID,
			o.CreatedAt.UTC().Format(time.RFC3339),
			o.CustomerEmail,
			string(o.Status),
			o.Currency,
			strconv.FormatInt(o.TotalCents, 10),
			strconv.Itoa(items),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON streams the full order list, items included, as a JSON report.
func WriteJSON(w io.Writer, list []Order) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		GeneratedAt time.Time `json:"generated_at"`
		Count       int       `json:"count"`
		Orders      []Order   `json:"orders"`
	}{
		GeneratedAt: time.Now().UTC(),
		Count:       len(list),
		Orders:      list,
	})
}
