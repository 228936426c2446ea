package paygate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Operation is a priced operation kind. Params are the required parameter
// names in the order they are reported back to users.
type Operation struct {
	Kind        string
	Description string
	Price       decimal.Decimal
	Params      []string
}

// Missing returns the required parameters that are absent or blank in
// params, in catalog order.
func (o Operation) Missing(params map[string]string) []string {
	var missing []string
	for _, p := range o.Params {
		if strings.TrimSpace(params[p]) == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

// Example renders a sample command line for the operation.
func (o Operation) Example() string {
	parts := []string{"/" + o.Kind}
	for _, p := range o.Params {
		parts = append(parts, p+"=value")
	}
	return strings.Join(parts, " ")
}

// Catalog is the immutable table of operations, built once at startup.
type Catalog struct {
	ops   map[string]Operation
	kinds []string
}

func NewCatalog(cfgs []OperationConfig) (*Catalog, error) {
	if len(cfgs) == 0 {
		return nil, ErrBadRequest{Fields: map[string]string{"catalog": "no operations configured"}}
	}
	c := &Catalog{
		ops: make(map[string]Operation, len(cfgs)),
	}
	for i, oc := range cfgs {
		kind := strings.ToLower(strings.TrimSpace(oc.Kind))
		if kind == "" {
			return nil, ErrBadRequest{Fields: map[string]string{fmt.Sprintf("catalog[%d].kind", i): "empty"}}
		}
		if _, dup := c.ops[kind]; dup {
			return nil, ErrBadRequest{Fields: map[string]string{fmt.Sprintf("catalog[%d].kind", i): "duplicate " + kind}}
		}
		price, err := decimal.NewFromString(oc.Price)
		if err != nil || !price.IsPositive() {
			return nil, ErrBadRequest{Fields: map[string]string{fmt.Sprintf("catalog[%d].price", i): "must be a positive decimal"}}
		}
		params := make([]string, 0, len(oc.Params))
		for _, p := range oc.Params {
			params = append(params, strings.ToLower(strings.TrimSpace(p)))
		}
		c.ops[kind] = Operation{
			Kind:        kind,
			Description: oc.Description,
			Price:       price,
			Params:      params,
		}
		c.kinds = append(c.kinds, kind)
	}
	sort.Strings(c.kinds)
	return c, nil
}

func (c *Catalog) Lookup(kind string) (Operation, error) {
	op, ok := c.ops[strings.ToLower(kind)]
	if !ok {
		return Operation{}, ErrUnknownOperation{Kind: kind}
	}
	return op, nil
}

func (c *Catalog) PriceOf(kind string) (decimal.Decimal, error) {
	op, err := c.Lookup(kind)
	if err != nil {
		return decimal.Zero, err
	}
	return op.Price, nil
}

func (c *Catalog) RequiredParams(kind string) ([]string, error) {
	op, err := c.Lookup(kind)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(op.Params))
	copy(out, op.Params)
	return out, nil
}

func (c *Catalog) Describe(kind string) (string, error) {
	op, err := c.Lookup(kind)
	if err != nil {
		return "", err
	}
	return op.Description, nil
}

// Kinds lists the operation kinds in lexical order.
func (c *Catalog) Kinds() []string {
	out := make([]string, len(c.kinds))
	copy(out, c.kinds)
	return out
}
