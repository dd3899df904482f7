package pdf

import (
	"errors"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrEmptyReceipt = errors.New("empty_receipt")

// ReceiptLine is one row of the receipt table. Amounts are preformatted.
type ReceiptLine struct {
	Description string
	Amount      string
}

type ReceiptData struct {
	OrgName   string
	Reference string
	PaidOn    string
	Currency  string
	Lines     []ReceiptLine
	Total     string
}

// Renderer draws payment receipts as single page PDFs.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) RenderReceipt(data ReceiptData) ([]byte, error) {
	if len(data.Lines) == 0 {
		return nil, ErrEmptyReceipt
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)
	currency := strings.ToUpper(strings.TrimSpace(data.Currency))

	m.AddRow(20,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.OrgName, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(15,
		col.New(8).Add(
			text.New("Reference: "+data.Reference, props.Text{Top: 0}),
			text.New("Date paid: "+data.PaidOn, props.Text{Top: 5}),
		),
		col.New(4),
	)

	m.AddRow(15,
		text.NewCol(12, data.Total+" "+currency+" paid on "+data.PaidOn, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(9, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(9, line.Description, props.Text{Size: 9}),
			text.NewCol(3, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(7),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, data.Total+" "+currency, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
