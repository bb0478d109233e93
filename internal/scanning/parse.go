package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// amount accepts JSON numbers as well as strings carrying currency symbols and
// thousands separators ("₹4,143.60", "$12.00").
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*a = 0
		return nil
	}

	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}

	v, err := parseAmount(s)
	if err != nil {
		return err
	}
	*a = amount(v)
	return nil
}

func parseAmount(s string) (float64, error) {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		if strings.TrimSpace(s) == "" {
			return 0, nil
		}
		return 0, fmt.Errorf("parsing amount %q: no digits", s)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return v, nil
}

// rawItem tolerates both the requested {name, price} shape and the
// {item, amount} shape models sometimes fall back to.
type rawItem struct {
	Name   string `json:"name"`
	Item   string `json:"item"`
	Price  amount `json:"price"`
	Amount amount `json:"amount"`
}

type rawReceipt struct {
	Items       []rawItem `json:"items"`
	TotalAmount amount    `json:"total_amount"`
	Date        string    `json:"date"`
	Vendor      string    `json:"vendor"`
	BillNumber  any       `json:"bill_number"`
}

// findJSONObject returns the first well-formed JSON object embedded in text
func findJSONObject(text string) (json.RawMessage, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("no JSON object found in response")
}

// parseReceiptJSON parses a model response into ReceiptData
func parseReceiptJSON(text string, now time.Time) (*ReceiptData, error) {
	obj, err := findJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw rawReceipt
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{
		Items:       make([]Item, 0, len(raw.Items)),
		TotalAmount: float64(raw.TotalAmount),
		Date:        normalizeDate(raw.Date, now),
		Vendor:      strings.TrimSpace(raw.Vendor),
		BillNumber:  normalizeBillNumber(raw.BillNumber),
	}

	for _, it := range raw.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			name = strings.TrimSpace(it.Item)
		}
		price := float64(it.Price)
		if price == 0 {
			price = float64(it.Amount)
		}
		data.Items = append(data.Items, Item{Name: name, Price: price})
	}

	if data.Vendor == "" {
		data.Vendor = UnknownVendor
	}

	return data, nil
}

func normalizeDate(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Format(dateLayout)
	}
	formats := []string{
		dateLayout,
		"2006/01/02",
		"02/01/2006",
		"01/02/2006",
		"02-01-2006",
		"02 Jan 2006",
		"Jan 2, 2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format(dateLayout)
		}
	}
	return now.Format(dateLayout)
}

func normalizeBillNumber(v any) *string {
	var s string
	switch b := v.(type) {
	case string:
		s = b
	case json.Number:
		s = b.String()
	default:
		return nil
	}

	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a", "na", "unknown":
		return nil
	}
	return &s
}
