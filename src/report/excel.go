package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"TripExplorer/src/processor"
	"TripExplorer/src/utils"

	"github.com/xuri/excelize/v2"
)

// YlGnBu 三色刻度
const (
	heatLow  = "#FFFFD9"
	heatMid  = "#41B6C4"
	heatHigh = "#081D58"
)

type section struct {
	sheet string
	write func(f *excelize.File, sheet string) error
}

func workbookSections(a *processor.Analysis, opts Options) []section {
	series := func(s processor.Series, chartType excelize.ChartType, fallback, valueHeader string) section {
		title := opts.label(s.Name, fallback)
		return section{sheet: s.Name, write: func(f *excelize.File, sheet string) error {
			return writeSeries(f, sheet, s, title, valueHeader, chartType)
		}}
	}
	grid := func(g processor.Grid, chartType excelize.ChartType, fallback string) section {
		title := opts.label(g.Name, fallback)
		return section{sheet: g.Name, write: func(f *excelize.File, sheet string) error {
			return writeGridChart(f, sheet, g, title, chartType)
		}}
	}
	heat := func(g processor.Grid, key, fallback, userType string) section {
		title := opts.label(key, fallback)
		if userType != "" {
			title = fmt.Sprintf("%s: %s", title, userType)
		}
		return section{sheet: g.Name, write: func(f *excelize.File, sheet string) error {
			return writeHeatmap(f, sheet, g, title)
		}}
	}

	sections := []section{
		{sheet: "summary", write: func(f *excelize.File, sheet string) error { return writeSummary(f, sheet, a) }},
		{sheet: "profile", write: func(f *excelize.File, sheet string) error { return writeProfile(f, sheet, a.Profile) }},
		{sheet: "head", write: func(f *excelize.File, sheet string) error { return utils.WriteFrame(f, sheet, a.Profile.Head) }},
		{sheet: "describe", write: func(f *excelize.File, sheet string) error { return utils.WriteFrame(f, sheet, a.Describe) }},

		series(a.Weekday, excelize.Col, "Bikes rides on weekdays", "count"),
		series(a.Hourly, excelize.Line, "Hourly rides of the Bikes", "count"),
		series(a.Duration, excelize.Col, "Trip Duration In Second", "count"),
		series(a.UserTypes, excelize.Col, "Distribution of user Type", "count"),
		series(a.UserShares, excelize.Pie, "Bike Rides percentage by user type", "percent"),

		grid(a.WeekdayUserType, excelize.Col, "Weekly usage Trends by User Type"),
		grid(a.HourlyUserType, excelize.Line, "Hourly usage Trends by User Type"),
		series(a.StartStations, excelize.Scatter, "Trip Duration and Start Station", "mean duration_sec"),
		series(a.EndStations, excelize.Scatter, "Trip Duration and End Station", "mean duration_sec"),
		grid(a.DayDuration, excelize.Col, "Trip duration by weekday and user type"),
		grid(a.DayDurationMax, excelize.Col, "Longest trip by weekday and user type"),
		heat(a.HourDayDuration, processor.ChartHourDayDuration, "Duration of bikers across day of week and hour", ""),
	}
	for _, g := range a.Heatmaps {
		userType := strings.TrimPrefix(g.Name, processor.ChartHeatmap+"_")
		sections = append(sections, heat(g, processor.ChartHeatmap, "Usage during the weekday", userType))
	}
	return sections
}

func writeWorkbook(path string, sections []section, step func()) error {
	f := excelize.NewFile()
	defer f.Close()

	used := make(map[string]bool, len(sections))
	for i, s := range sections {
		name := sheetName(s.sheet, used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("new sheet %s: %w", name, err)
		}
		if err := s.write(f, name); err != nil {
			return fmt.Errorf("sheet %s: %w", name, err)
		}
		step()
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// sheetName 去掉excel不允许的字符，截断到31个字符并去重
func sheetName(name string, used map[string]bool) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]'`, r) {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "sheet"
	}
	base := []rune(name)
	if len(base) > excelize.MaxSheetNameLength {
		base = base[:excelize.MaxSheetNameLength]
	}
	candidate := string(base)
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := "_" + strconv.Itoa(n)
		keep := base
		if len(keep)+len(suffix) > excelize.MaxSheetNameLength {
			keep = keep[:excelize.MaxSheetNameLength-len(suffix)]
		}
		candidate = string(keep) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func ref(sheet string, col1, row1, col2, row2 int) string {
	from, _ := excelize.CoordinatesToCellName(col1, row1, true)
	to, _ := excelize.CoordinatesToCellName(col2, row2, true)
	return fmt.Sprintf("'%s'!%s:%s", sheet, from, to)
}

func cellRef(sheet string, col, row int) string {
	cell, _ := excelize.CoordinatesToCellName(col, row, true)
	return fmt.Sprintf("'%s'!%s", sheet, cell)
}

func setCell(f *excelize.File, sheet string, col, row int, v interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		// NaN写成空单元格
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case string:
		// 数字标签写成数值，散点图需要数值x轴
		if n, err := strconv.Atoi(x); err == nil {
			v = n
		}
	}
	return f.SetCellValue(sheet, cell, v)
}

func title(text string) []excelize.RichTextRun {
	return []excelize.RichTextRun{{Text: text}}
}

func writeSeries(f *excelize.File, sheet string, s processor.Series, chartTitle, valueHeader string, chartType excelize.ChartType) error {
	if err := setCell(f, sheet, 1, 1, s.Key); err != nil {
		return err
	}
	if err := setCell(f, sheet, 2, 1, valueHeader); err != nil {
		return err
	}
	for i, label := range s.Labels {
		if err := setCell(f, sheet, 1, i+2, label); err != nil {
			return err
		}
		if err := setCell(f, sheet, 2, i+2, s.Values[i]); err != nil {
			return err
		}
	}
	if len(s.Labels) == 0 {
		return nil
	}

	chart := &excelize.Chart{
		Type: chartType,
		Series: []excelize.ChartSeries{{
			Name:       cellRef(sheet, 2, 1),
			Categories: ref(sheet, 1, 2, 1, len(s.Labels)+1),
			Values:     ref(sheet, 2, 2, 2, len(s.Labels)+1),
		}},
		Title:     title(chartTitle),
		Legend:    excelize.ChartLegend{Position: "none"},
		Dimension: excelize.ChartDimension{Width: 720, Height: 400},
		XAxis:     excelize.ChartAxis{Title: title(s.Key)},
		YAxis:     excelize.ChartAxis{Title: title(valueHeader), MajorGridLines: true},
	}
	if chartType == excelize.Pie {
		chart.Legend = excelize.ChartLegend{Position: "right"}
		chart.PlotArea = excelize.ChartPlotArea{ShowPercent: true, ShowCatName: true}
		chart.XAxis, chart.YAxis = excelize.ChartAxis{}, excelize.ChartAxis{}
	}
	return f.AddChart(sheet, "D2", chart)
}

// writeGrid 左上角为 行键\列键，第一行为列标签，第一列为行标签
func writeGrid(f *excelize.File, sheet string, g processor.Grid) error {
	if err := setCell(f, sheet, 1, 1, g.RowKey+`\`+g.ColKey); err != nil {
		return err
	}
	for c, col := range g.Cols {
		if err := f.SetCellValue(sheet, mustCell(c+2, 1), col); err != nil {
			return err
		}
	}
	for r, row := range g.Rows {
		if err := setCell(f, sheet, 1, r+2, row); err != nil {
			return err
		}
		for c := range g.Cols {
			if err := setCell(f, sheet, c+2, r+2, g.Values[r][c]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeGridChart(f *excelize.File, sheet string, g processor.Grid, chartTitle string, chartType excelize.ChartType) error {
	if err := writeGrid(f, sheet, g); err != nil {
		return err
	}
	if len(g.Rows) == 0 || len(g.Cols) == 0 {
		return nil
	}

	chart := &excelize.Chart{
		Type:      chartType,
		Title:     title(chartTitle),
		Legend:    excelize.ChartLegend{Position: "top"},
		Dimension: excelize.ChartDimension{Width: 800, Height: 420},
		XAxis:     excelize.ChartAxis{Title: title(g.RowKey)},
		YAxis:     excelize.ChartAxis{MajorGridLines: true},
	}
	for c := range g.Cols {
		chart.Series = append(chart.Series, excelize.ChartSeries{
			Name:       cellRef(sheet, c+2, 1),
			Categories: ref(sheet, 1, 2, 1, len(g.Rows)+1),
			Values:     ref(sheet, c+2, 2, c+2, len(g.Rows)+1),
		})
	}
	return f.AddChart(sheet, mustCell(len(g.Cols)+3, 2), chart)
}

func writeHeatmap(f *excelize.File, sheet string, g processor.Grid, heading string) error {
	if err := writeGrid(f, sheet, g); err != nil {
		return err
	}
	if len(g.Rows) == 0 || len(g.Cols) == 0 {
		return nil
	}
	if err := setCell(f, sheet, len(g.Cols)+3, 1, heading); err != nil {
		return err
	}
	area := mustCell(2, 2) + ":" + mustCell(len(g.Cols)+1, len(g.Rows)+1)
	return f.SetConditionalFormat(sheet, area, []excelize.ConditionalFormatOptions{{
		Type:     "3_color_scale",
		Criteria: "=",
		MinType:  "min",
		MidType:  "percentile",
		MidValue: "50",
		MaxType:  "max",
		MinColor: heatLow,
		MidColor: heatMid,
		MaxColor: heatHigh,
	}})
}

func writeSummary(f *excelize.File, sheet string, a *processor.Analysis) error {
	rows := [][]interface{}{
		{"source", a.Source},
		{"rows", a.Table.Len()},
		{"elapsed", a.Elapsed.String()},
		{},
		{"user_type", "trips", "share %", "busiest day", "busiest hour", "weekend %", "mean minutes"},
	}
	for _, fd := range a.Findings {
		rows = append(rows, []interface{}{fd.UserType, fd.Trips, round2(fd.Share), fd.BusiestDay,
			fd.BusiestHour, round2(fd.WeekendShare), round2(fd.MeanMinutes)})
	}
	for i := range rows {
		if err := f.SetSheetRow(sheet, mustCell(1, i+1), &rows[i]); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "G", 16)
}

func writeProfile(f *excelize.File, sheet string, p *processor.ProfileReport) error {
	rows := [][]interface{}{
		{"rows", p.Rows},
		{"columns", len(p.Columns)},
		{"duplicates", p.Duplicates},
		{},
		{"column", "nulls"},
	}
	for _, col := range p.Columns {
		rows = append(rows, []interface{}{col, p.Nulls[col]})
	}
	rows = append(rows, []interface{}{}, []interface{}{"user_type", "count"})

	// 按次数从多到少，与value_counts一致
	idx := make([]int, len(p.UserTypes.Labels))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return p.UserTypes.Values[idx[i]] > p.UserTypes.Values[idx[j]] })
	for _, i := range idx {
		rows = append(rows, []interface{}{p.UserTypes.Labels[i], int(p.UserTypes.Values[i])})
	}

	for i := range rows {
		if err := f.SetSheetRow(sheet, mustCell(1, i+1), &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func mustCell(col, row int) string {
	cell, _ := excelize.CoordinatesToCellName(col, row)
	return cell
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
