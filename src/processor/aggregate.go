package processor

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"TripExplorer/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Op 分组聚合方式
type Op int

const (
	Count Op = iota
	Mean
	Sum
	Min
	Max
)

func (o Op) String() string {
	switch o {
	case Count:
		return "count"
	case Mean:
		return "mean"
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// ValueColumn 聚合结果中值列的列名
func ValueColumn(metric string, op Op) string {
	if op == Count {
		return "count"
	}
	return metric + "_" + op.String()
}

// HourOrder 0..23
var HourOrder = func() []string {
	hours := make([]string, 24)
	for h := range hours {
		hours[h] = strconv.Itoa(h)
	}
	return hours
}()

type group struct {
	keys  []string
	n     int
	valid int
	sum   float64
	min   float64
	max   float64
}

// Aggregate 按groupKeys分组，每个出现过的键组合输出一行
// 键列为文本，Count输出int列count，其余输出float列<metric>_<op>，NaN不参与计算
// 输出按键升序(数字按数值)
func Aggregate(df dataframe.DataFrame, groupKeys []string, metric string, op Op) (dataframe.DataFrame, error) {
	if len(groupKeys) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("%w: no group keys", ErrColumn)
	}
	for _, k := range groupKeys {
		if !utils.HasColumn(df, k) {
			return dataframe.DataFrame{}, fmt.Errorf("%w: %s", ErrColumn, k)
		}
	}
	if op < Count || op > Max {
		return dataframe.DataFrame{}, fmt.Errorf("unsupported aggregation %v", op)
	}

	var values []float64
	if op != Count {
		if !utils.HasColumn(df, metric) {
			return dataframe.DataFrame{}, fmt.Errorf("%w: %s", ErrColumn, metric)
		}
		values = df.Col(metric).Float()
	}

	keyCols := make([][]string, len(groupKeys))
	for i, k := range groupKeys {
		keyCols[i] = df.Col(k).Records()
	}

	index := make(map[string]*group)
	var groups []*group
	for row := 0; row < df.Nrow(); row++ {
		keys := make([]string, len(groupKeys))
		for i := range groupKeys {
			keys[i] = keyCols[i][row]
		}
		id := strings.Join(keys, "\x00")
		g, ok := index[id]
		if !ok {
			g = &group{keys: keys, min: math.Inf(1), max: math.Inf(-1)}
			index[id] = g
			groups = append(groups, g)
		}
		g.n++
		if op == Count {
			continue
		}
		v := values[row]
		if math.IsNaN(v) {
			continue
		}
		g.valid++
		g.sum += v
		g.min = math.Min(g.min, v)
		g.max = math.Max(g.max, v)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return lessKeys(groups[i].keys, groups[j].keys)
	})

	columns := make([]series.Series, 0, len(groupKeys)+1)
	for i, k := range groupKeys {
		col := make([]string, len(groups))
		for r, g := range groups {
			col[r] = g.keys[i]
		}
		columns = append(columns, series.New(col, series.String, k))
	}

	name := ValueColumn(metric, op)
	if op == Count {
		counts := make([]int, len(groups))
		for r, g := range groups {
			counts[r] = g.n
		}
		columns = append(columns, series.New(counts, series.Int, name))
	} else {
		out := make([]float64, len(groups))
		for r, g := range groups {
			out[r] = g.result(op)
		}
		columns = append(columns, series.New(out, series.Float, name))
	}

	agg := dataframe.New(columns...)
	if agg.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("aggregate %v by %v: %w", op, groupKeys, agg.Err)
	}
	return agg, nil
}

func (g *group) result(op Op) float64 {
	if g.valid == 0 {
		return math.NaN()
	}
	switch op {
	case Mean:
		return g.sum / float64(g.valid)
	case Sum:
		return g.sum
	case Min:
		return g.min
	case Max:
		return g.max
	}
	return float64(g.n)
}

func lessKeys(a, b []string) bool {
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		return utils.LessNatural(a[i], b[i])
	}
	return false
}

// Series 一维图表数据，Labels与Values一一对应
type Series struct {
	Name   string
	Key    string
	Labels []string
	Values []float64
}

// Total 所有值之和
func (s Series) Total() float64 {
	var total float64
	for _, v := range s.Values {
		total += v
	}
	return total
}

// Value 按标签取值，不存在时返回0
func (s Series) Value(label string) float64 {
	for i, l := range s.Labels {
		if l == label {
			return s.Values[i]
		}
	}
	return 0
}

// Max 最大值所在的标签
func (s Series) Max() (string, float64) {
	best, bestVal := "", math.Inf(-1)
	for i, v := range s.Values {
		if v > bestVal {
			best, bestVal = s.Labels[i], v
		}
	}
	return best, bestVal
}

// SeriesFrom 从单键聚合结果取出一维数据
// order不为空时按order输出并补0，否则按聚合结果的顺序
func SeriesFrom(agg dataframe.DataFrame, key, valueCol string, order []string) (Series, error) {
	for _, c := range []string{key, valueCol} {
		if !utils.HasColumn(agg, c) {
			return Series{}, fmt.Errorf("%w: %s", ErrColumn, c)
		}
	}
	keys := agg.Col(key).Records()
	vals := agg.Col(valueCol).Float()

	s := Series{Key: key}
	if order == nil {
		s.Labels = keys
		s.Values = vals
		return s, nil
	}

	lookup := make(map[string]float64, len(keys))
	for i, k := range keys {
		lookup[k] = vals[i]
	}
	s.Labels = append([]string(nil), order...)
	s.Values = make([]float64, len(order))
	for i, k := range order {
		s.Values[i] = lookup[k]
	}
	return s, nil
}

// Grid 二维图表数据(热力图、分组柱状图)，Values[row][col]
type Grid struct {
	Name   string
	RowKey string
	ColKey string
	Rows   []string
	Cols   []string
	Values [][]float64
}

// At 按行列标签取值
func (g Grid) At(row, col string) (float64, bool) {
	r := indexOf(g.Rows, row)
	c := indexOf(g.Cols, col)
	if r < 0 || c < 0 {
		return 0, false
	}
	return g.Values[r][c], true
}

// Column 取一列作为Series
func (g Grid) Column(col string) Series {
	s := Series{Name: col, Key: g.RowKey, Labels: append([]string(nil), g.Rows...)}
	c := indexOf(g.Cols, col)
	s.Values = make([]float64, len(g.Rows))
	if c < 0 {
		return s
	}
	for r := range g.Rows {
		s.Values[r] = g.Values[r][c]
	}
	return s
}

// Pivot 将双键聚合结果展开为网格，缺失组合填0
// rows/cols为nil时使用聚合结果中出现过的键
func Pivot(agg dataframe.DataFrame, rowKey, colKey, valueCol string, rows, cols []string) (Grid, error) {
	for _, c := range []string{rowKey, colKey, valueCol} {
		if !utils.HasColumn(agg, c) {
			return Grid{}, fmt.Errorf("%w: %s", ErrColumn, c)
		}
	}
	rk := agg.Col(rowKey).Records()
	ck := agg.Col(colKey).Records()
	vals := agg.Col(valueCol).Float()

	if rows == nil {
		rows = distinct(rk)
	}
	if cols == nil {
		cols = distinct(ck)
	}

	g := Grid{
		RowKey: rowKey,
		ColKey: colKey,
		Rows:   append([]string(nil), rows...),
		Cols:   append([]string(nil), cols...),
		Values: make([][]float64, len(rows)),
	}
	for r := range g.Values {
		g.Values[r] = make([]float64, len(cols))
	}
	for i := range vals {
		r := indexOf(g.Rows, rk[i])
		c := indexOf(g.Cols, ck[i])
		if r < 0 || c < 0 {
			continue
		}
		g.Values[r][c] = vals[i]
	}
	return g, nil
}

// Percentage subset/total*100，total为0时返回ErrDivision
func Percentage(subset, total int) (float64, error) {
	if total == 0 {
		return 0, fmt.Errorf("%w: percentage of %d over empty total", ErrDivision, subset)
	}
	return float64(subset) / float64(total) * 100, nil
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return utils.LessNatural(out[i], out[j]) })
	return out
}

func indexOf(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	return -1
}
