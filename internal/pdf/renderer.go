// Package pdf renders printable invoice documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	"go.uber.org/fx"
)

// Renderer turns an invoice into a downloadable document.
type Renderer interface {
	RenderInvoice(ctx context.Context, detail *invoicedomain.InvoiceDetail) (io.Reader, error)
}

type marotoRenderer struct{}

func NewRenderer() Renderer {
	return &marotoRenderer{}
}

// Module provides the invoice document renderer.
var Module = fx.Module("pdf",
	fx.Provide(NewRenderer),
)

func (r *marotoRenderer) RenderInvoice(ctx context.Context, detail *invoicedomain.InvoiceDetail) (io.Reader, error) {
	if detail == nil {
		return nil, fmt.Errorf("nil invoice detail")
	}
	inv := detail.Invoice

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(10,
		text.NewCol(12, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Invoice: "+inv.ID.String(), props.Text{Top: 0}),
			text.New("Reference: "+inv.ExternalID, props.Text{Top: 4}),
			text.New("Issued: "+inv.CreatedAt.UTC().Format(time.RFC3339), props.Text{Top: 8}),
			text.New("Expires: "+inv.ExpiresAt.UTC().Format(time.RFC3339), props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New("Gateway: "+inv.Gateway, props.Text{Top: 0}),
			text.New("Currency: "+inv.Currency, props.Text{Top: 4}),
			text.New("Status: "+strings.ReplaceAll(string(inv.Status), "_", " "), props.Text{Top: 8}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range detail.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, FormatAmount(inv.Currency, item.UnitAmount), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, FormatAmount(inv.Currency, item.Amount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.Subtotal), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Service fee", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.ServiceFee), props.Text{Size: 9, Align: align.Right}),
	)
	if inv.Tax > 0 {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, "Tax", props.Text{Size: 9}),
			text.NewCol(2, FormatAmount(inv.Currency, inv.Tax), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.TotalAmount), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if len(detail.Installments) > 0 {
		m.AddRow(10,
			text.NewCol(12, "Installment schedule", props.Text{Style: fontstyle.Bold, Size: 10, Top: 2}),
		)
		for _, inst := range detail.Installments {
			m.AddRow(8,
				text.NewCol(4, fmt.Sprintf("Installment %d", inst.Sequence), props.Text{Size: 9}),
				text.NewCol(4, "Due "+inst.DueAt.UTC().Format("2006-01-02"), props.Text{Size: 9}),
				text.NewCol(4, FormatAmount(inv.Currency, inst.Amount), props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

// zeroDecimalCurrencies have no minor unit; amounts are already whole.
var zeroDecimalCurrencies = map[string]struct{}{
	"IDR": {},
	"JPY": {},
	"KRW": {},
	"VND": {},
}

// FormatAmount renders a minor-unit amount for display.
func FormatAmount(currency string, minor int64) string {
	currency = strings.ToUpper(currency)
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return fmt.Sprintf("%s %d", currency, minor)
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, minor/100, minor%100)
}
