package processor

import (
	"fmt"
	"strings"

	"TripExplorer/src/utils"

	"github.com/go-gota/gota/dataframe"
)

// ProfileReport 原始表的概况
type ProfileReport struct {
	Rows       int
	Columns    []string
	Head       dataframe.DataFrame
	Duplicates int
	Nulls      map[string]int
	UserTypes  Series
}

// Profile 对刚加载、尚未Normalize的表做概况统计
func Profile(raw *TripTable, n int) (*ProfileReport, error) {
	df := raw.Frame()
	if n <= 0 {
		n = 5
	}
	if n > df.Nrow() {
		n = df.Nrow()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	head := df.Subset(idx)
	if head.Err != nil {
		return nil, fmt.Errorf("profile head: %w", head.Err)
	}

	p := &ProfileReport{
		Rows:    df.Nrow(),
		Columns: df.Names(),
		Head:    head,
		Nulls:   make(map[string]int, df.Ncol()),
	}

	seen := make(map[string]bool, df.Nrow())
	for _, row := range df.Records()[1:] {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			p.Duplicates++
		}
		seen[key] = true
	}

	for _, name := range df.Names() {
		nulls := 0
		for _, v := range df.Col(name).Records() {
			if utils.IsMissing(v) {
				nulls++
			}
		}
		p.Nulls[name] = nulls
	}

	userTypes, err := UserTypeCounts(raw)
	if err != nil {
		return nil, err
	}
	p.UserTypes = userTypes
	return p, nil
}

// Describe 时长与坐标列的汇总统计，需要先Normalize
func Describe(t *TripTable) (dataframe.DataFrame, error) {
	cols := append([]string{ColDurationSec}, coordinateColumns...)
	if utils.HasColumn(t.Frame(), ColDurationMin) {
		cols = append(cols, ColDurationMin)
	}
	desc := t.Frame().Select(cols).Describe()
	if desc.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("describe: %w", desc.Err)
	}
	return desc, nil
}
