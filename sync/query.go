package sync

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	OrderAscending  = "asc"
	OrderDescending = "desc"
)

// PageQuery is one category-scoped list query against the subgraph.
type PageQuery struct {
	Category  string
	Fields    []string
	First     int
	Skip      int
	Direction string
	Since     *Watermark // exclusive lower bound on blockTimestamp
}

// String renders the GraphQL document sent to the subgraph.
func (q PageQuery) String() string {
	direction := q.Direction
	if direction == "" {
		direction = OrderAscending
	}
	args := []string{
		fmt.Sprintf("first: %d", q.First),
		fmt.Sprintf("skip: %d", q.Skip),
		"orderBy: blockTimestamp",
		"orderDirection: " + direction,
	}
	if q.Since != nil {
		args = append(args, fmt.Sprintf("where: { blockTimestamp_gt: %s }", strconv.Quote(string(*q.Since))))
	}
	var b strings.Builder
	b.WriteString("query {\n")
	fmt.Fprintf(&b, "  %s(%s) {\n", q.Category, strings.Join(args, ", "))
	for _, field := range q.Fields {
		fmt.Fprintf(&b, "    %s\n", field)
	}
	b.WriteString("  }\n")
	b.WriteString("}")
	return b.String()
}
