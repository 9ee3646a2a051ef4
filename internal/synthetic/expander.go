// Package synthetic manufactures larger demo datasets from a small row sample.
package synthetic

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/rpattn/datafusion/internal/domain"

	"github.com/shopspring/decimal"
)

// MaxBalanceJitter bounds the random amount added to balance-like fields.
var MaxBalanceJitter = decimal.NewFromInt(1000)

// Expander cycles a base sample into a larger row set. It is not safe for concurrent use.
type Expander struct {
	rng *rand.Rand
}

// NewExpander returns an expander seeded for reproducible output.
func NewExpander(seed uint64) *Expander {
	return &Expander{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Expand produces count rows by cycling base. The first pass copies base rows unchanged;
// later passes perturb account numbers, email tags and balances with the pass number.
// Row indexes are renumbered per dataset in output order. base is never modified.
func (e *Expander) Expand(base []domain.SourceRow, count int) []domain.SourceRow {
	if len(base) == 0 || count <= 0 {
		return []domain.SourceRow{}
	}

	out := make([]domain.SourceRow, 0, count)
	next := make(map[domain.DatasetTag]int)
	for i := 0; i < count; i++ {
		row := base[i%len(base)].Clone()
		if pass := i / len(base); pass > 0 {
			// Columns are visited in sorted order so jitter draws are stable per seed.
			for _, column := range slices.Sorted(maps.Keys(row.Values)) {
				row.Values[column] = e.perturb(column, row.Values[column], pass)
			}
		}
		row.RowIndex = next[row.Dataset]
		next[row.Dataset]++
		out = append(out, row)
	}
	return out
}

func (e *Expander) perturb(column string, value any, pass int) any {
	if value == nil {
		return nil
	}
	name := strings.ToLower(column)
	switch {
	case strings.Contains(name, "acct") || strings.Contains(name, "account"):
		return fmt.Sprintf("%s-%d", domain.FormatValue(value), pass)
	case strings.Contains(name, "email"):
		if s, ok := value.(string); ok {
			return bumpEmailTag(s, pass)
		}
	case strings.Contains(name, "balance") || strings.Contains(name, "amount") || name == "bal":
		return e.jitter(value)
	}
	return value
}

func (e *Expander) jitter(value any) any {
	var base decimal.Decimal
	switch v := value.(type) {
	case float64:
		base = decimal.NewFromFloat(v)
	case int:
		base = decimal.NewFromInt(int64(v))
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return value
		}
		base = parsed
	default:
		return value
	}

	delta := decimal.NewFromFloat(e.rng.Float64()).Mul(MaxBalanceJitter).Round(2)
	if delta.IsZero() {
		delta = decimal.New(1, -2)
	}
	next := base.Add(delta).Round(2)
	if _, ok := value.(string); ok {
		return next.StringFixed(2)
	}
	return next.InexactFloat64()
}

// bumpEmailTag adds pass to an existing numeric plus tag, or appends "+pass" to the local part.
func bumpEmailTag(email string, pass int) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	local, host := email[:at], email[at:]
	if plus := strings.LastIndex(local, "+"); plus >= 0 {
		if n, err := strconv.Atoi(local[plus+1:]); err == nil {
			return fmt.Sprintf("%s+%d%s", local[:plus], n+pass, host)
		}
	}
	return fmt.Sprintf("%s+%d%s", local, pass, host)
}
