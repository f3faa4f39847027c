package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/darasa/core"
)

var (
	orderingParam = "ordering"
	limitParam    = "limit"
	offsetParam   = "offset"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

type Pagination struct {
	Page *core.Pagination
}

func (p *Pagination) Bind(ctx echo.Context) {
	limit, lErr := strconv.Atoi(ctx.QueryParam(limitParam))
	offset, oErr := strconv.Atoi(ctx.QueryParam(offsetParam))
	if lErr != nil && oErr != nil {
		return
	}
	page := new(core.Pagination)
	if lErr == nil && limit > 0 {
		page.Limit = limit
	}
	if oErr == nil && offset > 0 {
		page.Offset = offset
	}
	p.Page = page
}
