// Package masterdata resolves party, firm and product reference data from an
// externally maintained table whose column headers are not stable.
package masterdata

import (
	"errors"
	"sort"
)

// ErrUpstreamLookup indicates the reference table could not be loaded.
var ErrUpstreamLookup = errors.New("masterdata: reference table unavailable")

// ErrUnknownField is returned for fields outside the schema.
var ErrUnknownField = errors.New("masterdata: unknown field")

// Field is a canonical semantic column.
type Field string

// Canonical fields.
const (
	FieldFirmName         Field = "firm_name"
	FieldPartyName        Field = "party_name"
	FieldAddress          Field = "address"
	FieldGSTNumber        Field = "gst_number"
	FieldCustomerCategory Field = "customer_category"
	FieldPIType           Field = "pi_type"
	FieldSalesPerson      Field = "sales_person"
	FieldProductName      Field = "product_name"
	FieldUOM              Field = "uom"
)

// Rule lists the exact header names accepted for a field, most preferred
// first, and the term used for the substring fallback.
type Rule struct {
	Aliases []string
	Term    string
}

// Schema maps canonical fields to their matching rules.
type Schema map[Field]Rule

// DefaultSchema returns the aliases seen in the reference sheets.
func DefaultSchema() Schema {
	return Schema{
		FieldFirmName:         {Aliases: []string{"Firm Name", "firm_name", "Firm"}, Term: "firm"},
		FieldPartyName:        {Aliases: []string{"Party Name", "Party Names", "party_name", "party_names"}, Term: "party name"},
		FieldAddress:          {Aliases: []string{"Address", "address", "Party Address"}, Term: "address"},
		FieldGSTNumber:        {Aliases: []string{"GST Number", "GST No", "GSTIN", "GST", "gst_number"}, Term: "gst"},
		FieldCustomerCategory: {Aliases: []string{"Customer Category", "customer_category", "Category"}, Term: "category"},
		FieldPIType:           {Aliases: []string{"PI Type", "pi_type"}, Term: "pi type"},
		FieldSalesPerson:      {Aliases: []string{"Sales Person Name", "Sales Person", "sales_person"}, Term: "sales person"},
		FieldProductName:      {Aliases: []string{"Product Name", "Products", "product_name"}, Term: "product"},
		FieldUOM:              {Aliases: []string{"UOM", "Unit of Measurement", "Unit", "uom"}, Term: "unit"},
	}
}

// Fields returns the schema's fields in a stable order.
func (s Schema) Fields() []Field {
	out := make([]Field, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table is a raw snapshot of the reference table.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Cell returns the value at row/col, empty when the row is short.
func (t Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Resolution holds the derived header values for a party. Blank values were
// absent in the reference row.
type Resolution struct {
	PartyName string `json:"party_name"`
	FirmName  string `json:"firm_name,omitempty"`
	Address   string `json:"address,omitempty"`
	GSTNumber string `json:"gst_number,omitempty"`
}

// PaymentTermOptions is the fixed list offered for payment terms.
func PaymentTermOptions() []string {
	return []string{
		"Advance",
		"Against PI",
		"Against Delivery",
		"7 Days Credit",
		"15 Days Credit",
		"30 Days Credit",
		"45 Days Credit",
		"60 Days Credit",
		"90 Days Credit",
	}
}
