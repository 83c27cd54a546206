package processor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"TripExplorer/src/datasource/file"
	"TripExplorer/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// TripTable 行程表，内部为gota DataFrame
// 加载后只做类型转换和新增派生列，不删除也不修改行
type TripTable struct {
	df      dataframe.DataFrame
	layouts []string
	source  string

	// xlsx导出的时间列可能是Excel序列号，csv不接受
	serialDates bool
}

// Load 读取行程文件(.csv，或.xlsx导出)并校验14列标题
func Load(path string, opts Options) (*TripTable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	var df dataframe.DataFrame
	xlsx := strings.ToLower(filepath.Ext(path)) == ".xlsx"
	switch {
	case xlsx:
		df, err = file.ReadXLSX(path, opts.SheetName, opts.HeaderRow)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		defer f.Close()

		df, err = file.ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
		}
	}

	t, err := NewTripTable(df, opts.TimeLayouts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.source = path
	t.serialDates = xlsx
	return t, nil
}

// NewTripTable 包装已加载的DataFrame，标题必须正好是ExpectedColumns(顺序不限)
func NewTripTable(df dataframe.DataFrame, layouts ...string) (*TripTable, error) {
	if df.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, df.Err)
	}
	if err := checkHeader(df.Names()); err != nil {
		return nil, err
	}
	if len(layouts) == 0 {
		layouts = DefaultTimeLayouts
	}
	return &TripTable{df: df, layouts: layouts}, nil
}

func checkHeader(names []string) error {
	var missing, extra []string
	for _, col := range ExpectedColumns {
		if !utils.Contains(names, col) {
			missing = append(missing, col)
		}
	}
	for _, name := range names {
		if !utils.Contains(ExpectedColumns, name) {
			extra = append(extra, name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	return fmt.Errorf("%w: expected %d columns, got %d (missing %v, unexpected %v)",
		ErrFormat, len(ExpectedColumns), len(names), missing, extra)
}

// Frame 返回底层DataFrame
func (t *TripTable) Frame() dataframe.DataFrame { return t.df }

// Len 行数
func (t *TripTable) Len() int { return t.df.Nrow() }

// Source 来源文件路径，未从文件加载时为空
func (t *TripTable) Source() string { return t.source }

// Normalize 依次:
// 1. 解析 start_time / end_time
// 2. bike_id 和站点id转为文本标签
// 3. user_type 作为开放的分类标签
// 另外 duration_sec 转整数，经纬度转浮点
// 对已标准化的表重复调用结果不变
func (t *TripTable) Normalize() error {
	df := t.df

	for _, col := range []string{ColStartTime, ColEndTime} {
		raw := df.Col(col).Records()
		out := make([]string, len(raw))
		for i, v := range raw {
			ts, err := t.parseTimestamp(v)
			if err != nil {
				return &ParseError{Row: i, Column: col, Value: v, Err: err}
			}
			out[i] = ts.Format(TimeLayout)
		}
		df = df.Mutate(series.New(out, series.String, col))
	}

	for _, col := range labelColumns {
		raw := df.Col(col).Records()
		out := make([]string, len(raw))
		for i, v := range raw {
			out[i] = toLabel(v)
		}
		df = df.Mutate(series.New(out, series.String, col))
	}

	userTypes := df.Col(ColUserType).Records()
	for i, v := range userTypes {
		if utils.IsMissing(v) {
			userTypes[i] = ""
		} else {
			userTypes[i] = strings.TrimSpace(v)
		}
	}
	df = df.Mutate(series.New(userTypes, series.String, ColUserType))

	if df.Col(ColDurationSec).Type() != series.Int {
		rawDur := df.Col(ColDurationSec).Records()
		durations := make([]int, len(rawDur))
		for i, v := range rawDur {
			d, err := parseDurationSec(v)
			if err != nil {
				return &ParseError{Row: i, Column: ColDurationSec, Value: v, Err: err}
			}
			durations[i] = d
		}
		df = df.Mutate(series.New(durations, series.Int, ColDurationSec))
	}

	// 已经是浮点列时跳过，避免按文本重解析丢精度
	for _, col := range coordinateColumns {
		if df.Col(col).Type() == series.Float {
			continue
		}
		raw := df.Col(col).Records()
		out := make([]float64, len(raw))
		for i, v := range raw {
			f, err := parseCoordinate(v)
			if err != nil {
				return &ParseError{Row: i, Column: col, Value: v, Err: err}
			}
			out[i] = f
		}
		df = df.Mutate(series.New(out, series.Float, col))
	}

	if df.Err != nil {
		return fmt.Errorf("normalize: %w", df.Err)
	}
	t.df = df
	return nil
}

// Derive 新增 start_time_day / start_time_hour / duration_min
// 只读取 start_time 和 duration_sec，重复调用结果不变
func (t *TripTable) Derive() error {
	starts := t.df.Col(ColStartTime).Records()
	rawDur := t.df.Col(ColDurationSec).Records()

	days := make([]string, len(starts))
	hours := make([]int, len(starts))
	minutes := make([]float64, len(starts))

	for i, s := range starts {
		ts, err := t.parseTimestamp(s)
		if err != nil {
			return &ParseError{Row: i, Column: ColStartTime, Value: s, Err: err}
		}
		d, err := parseDurationSec(rawDur[i])
		if err != nil {
			return &ParseError{Row: i, Column: ColDurationSec, Value: rawDur[i], Err: err}
		}
		days[i] = Weekday(ts)
		hours[i] = ts.Hour()
		minutes[i] = float64(d) / 60.0
	}

	df := t.df.
		Mutate(series.New(days, series.String, ColStartTimeDay)).
		Mutate(series.New(hours, series.Int, ColStartTimeHour)).
		Mutate(series.New(minutes, series.Float, ColDurationMin))
	if df.Err != nil {
		return fmt.Errorf("derive: %w", df.Err)
	}
	t.df = df
	return nil
}

// Where 按列值相等过滤，返回新表
func (t *TripTable) Where(column, value string) (*TripTable, error) {
	if !utils.HasColumn(t.df, column) {
		return nil, fmt.Errorf("%w: %s", ErrColumn, column)
	}
	df := t.df.Filter(dataframe.F{Colname: column, Comparator: series.Eq, Comparando: value})
	if df.Err != nil {
		return nil, fmt.Errorf("filter %s == %q: %w", column, value, df.Err)
	}
	return &TripTable{df: df, layouts: t.layouts, source: t.source, serialDates: t.serialDates}, nil
}

// Aggregate 按groupKeys分组后对metric做op
func (t *TripTable) Aggregate(groupKeys []string, metric string, op Op) (dataframe.DataFrame, error) {
	return Aggregate(t.df, groupKeys, metric, op)
}

// Records 转为强类型记录，需先Normalize；派生列存在时一并填充
func (t *TripTable) Records() ([]TripRecord, error) {
	n := t.df.Nrow()
	col := func(name string) []string { return t.df.Col(name).Records() }

	durations := col(ColDurationSec)
	starts, ends := col(ColStartTime), col(ColEndTime)
	startIDs, startNames := col(ColStartStationID), col(ColStartStationName)
	endIDs, endNames := col(ColEndStationID), col(ColEndStationName)
	bikes, users, bsfat := col(ColBikeID), col(ColUserType), col(ColBikeShareForAllTrip)
	coords := make(map[string][]float64, len(coordinateColumns))
	for _, c := range coordinateColumns {
		coords[c] = t.df.Col(c).Float()
	}

	derived := utils.HasColumn(t.df, ColStartTimeDay)
	var days []string
	var hours []int
	var minutes []float64
	if derived {
		days = col(ColStartTimeDay)
		h, err := t.df.Col(ColStartTimeHour).Int()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, ColStartTimeHour, err)
		}
		hours = h
		minutes = t.df.Col(ColDurationMin).Float()
	}

	records := make([]TripRecord, n)
	for i := 0; i < n; i++ {
		d, err := parseDurationSec(durations[i])
		if err != nil {
			return nil, &ParseError{Row: i, Column: ColDurationSec, Value: durations[i], Err: err}
		}
		start, err := t.parseTimestamp(starts[i])
		if err != nil {
			return nil, &ParseError{Row: i, Column: ColStartTime, Value: starts[i], Err: err}
		}
		end, err := t.parseTimestamp(ends[i])
		if err != nil {
			return nil, &ParseError{Row: i, Column: ColEndTime, Value: ends[i], Err: err}
		}

		r := TripRecord{
			DurationSec:           d,
			StartTime:             start,
			EndTime:               end,
			StartStationID:        startIDs[i],
			StartStationName:      startNames[i],
			StartStationLatitude:  coords[ColStartStationLatitude][i],
			StartStationLongitude: coords[ColStartStationLongitude][i],
			EndStationID:          endIDs[i],
			EndStationName:        endNames[i],
			EndStationLatitude:    coords[ColEndStationLatitude][i],
			EndStationLongitude:   coords[ColEndStationLongitude][i],
			BikeID:                bikes[i],
			UserType:              users[i],
			BikeShareForAllTrip:   bsfat[i],
		}
		if derived {
			r.StartTimeDay = days[i]
			r.StartTimeHour = hours[i]
			r.DurationMin = minutes[i]
		}
		records[i] = r
	}
	return records, nil
}

// UserTypes 表中出现的用户类型，按字典序
func (t *TripTable) UserTypes() []string {
	return distinct(t.df.Col(ColUserType).Records())
}

func (t *TripTable) parseTimestamp(v string) (time.Time, error) {
	ts, err := utils.ParseTime(v, t.layouts)
	if err == nil {
		return ts, nil
	}
	if !t.serialDates {
		return time.Time{}, err
	}
	// xlsx导出的日期可能是Excel序列号
	if f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil && f >= 1 && f <= maxExcelSerial {
		return excelToTime(f), nil
	}
	return time.Time{}, err
}

// maxExcelSerial 9999-12-31
const maxExcelSerial = 2958465

// excelToTime Excel序列号转time.Time，1900-03-01之后的日期以1899-12-30为基准
func excelToTime(excelDays float64) time.Time {
	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	days := int(excelDays)
	fraction := excelDays - float64(days)
	return base.AddDate(0, 0, days).
		Add(time.Duration(math.Round(86400*fraction)) * time.Second)
}

func parseDurationSec(v string) (int, error) {
	v = strings.TrimSpace(v)
	d, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not an integer number of seconds")
		}
		d = int(f)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}

func parseCoordinate(v string) (float64, error) {
	if utils.IsMissing(v) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

// toLabel "342.0" -> "342"，缺失值为空标签
func toLabel(v string) string {
	v = strings.TrimSpace(v)
	if utils.IsMissing(v) {
		return ""
	}
	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return v
}
