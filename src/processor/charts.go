package processor

import (
	"fmt"
	"math"
	"strconv"
)

// 图表名称，同时是dataconfig.json中labels的键
const (
	ChartWeekday         = "weekday"
	ChartHourly          = "hourly"
	ChartDuration        = "duration"
	ChartUserType        = "user_type"
	ChartUserShare       = "user_share"
	ChartWeekdayUserType = "weekday_user_type"
	ChartHourlyUserType  = "hourly_user_type"
	ChartStartStation    = "start_station"
	ChartEndStation      = "end_station"
	ChartDayDuration     = "day_duration"
	ChartDayDurationMax  = "day_duration_max"
	ChartHourDayDuration = "hour_day_duration"
	ChartHeatmap         = "heatmap"
)

// 以下查询都要求表已经Normalize和Derive

// WeekdayCounts 每个星期几的骑行次数，Mon..Sun
func WeekdayCounts(t *TripTable) (Series, error) {
	return countBy(t, ChartWeekday, ColStartTimeDay, WeekdayOrder)
}

// HourlyCounts 每小时骑行次数，0..23
func HourlyCounts(t *TripTable) (Series, error) {
	return countBy(t, ChartHourly, ColStartTimeHour, HourOrder)
}

// UserTypeCounts 各用户类型的骑行次数
func UserTypeCounts(t *TripTable) (Series, error) {
	return countBy(t, ChartUserType, ColUserType, nil)
}

func countBy(t *TripTable, name, key string, order []string) (Series, error) {
	agg, err := t.Aggregate([]string{key}, "", Count)
	if err != nil {
		return Series{}, err
	}
	s, err := SeriesFrom(agg, key, ValueColumn("", Count), order)
	if err != nil {
		return Series{}, err
	}
	s.Name = name
	return s, nil
}

// UserTypeShares 各用户类型占总骑行次数的百分比
func UserTypeShares(t *TripTable) (Series, error) {
	counts, err := UserTypeCounts(t)
	if err != nil {
		return Series{}, err
	}
	shares := Series{Name: ChartUserShare, Key: ColUserType, Labels: counts.Labels}
	total := int(counts.Total())
	for _, c := range counts.Values {
		p, err := Percentage(int(c), total)
		if err != nil {
			return Series{}, err
		}
		shares.Values = append(shares.Values, p)
	}
	return shares, nil
}

// UserTypeShare 单个用户类型的百分比
func UserTypeShare(t *TripTable, userType string) (float64, error) {
	counts, err := UserTypeCounts(t)
	if err != nil {
		return 0, err
	}
	return Percentage(int(counts.Value(userType)), int(counts.Total()))
}

// DurationHistogram duration_sec按binSec分箱直到maxSec，最后一箱收纳超出部分
func DurationHistogram(t *TripTable, binSec, maxSec int) (Series, error) {
	if binSec <= 0 || maxSec < binSec {
		return Series{}, fmt.Errorf("invalid histogram bins: bin %d max %d", binSec, maxSec)
	}
	durations, err := t.Frame().Col(ColDurationSec).Int()
	if err != nil {
		return Series{}, fmt.Errorf("%w: %s: %v", ErrParse, ColDurationSec, err)
	}

	n := int(math.Ceil(float64(maxSec) / float64(binSec)))
	s := Series{Name: ChartDuration, Key: ColDurationSec, Labels: make([]string, n+1), Values: make([]float64, n+1)}
	for i := 0; i < n; i++ {
		s.Labels[i] = strconv.Itoa(i*binSec) + "-" + strconv.Itoa((i+1)*binSec)
	}
	s.Labels[n] = ">=" + strconv.Itoa(n*binSec)

	for _, d := range durations {
		bin := d / binSec
		if bin > n {
			bin = n
		}
		s.Values[bin]++
	}
	return s, nil
}

// WeekdayByUserType 星期 x 用户类型 的骑行次数
func WeekdayByUserType(t *TripTable) (Grid, error) {
	return countGrid(t, ChartWeekdayUserType, ColStartTimeDay, ColUserType, WeekdayOrder, t.UserTypes())
}

// HourlyByUserType 小时 x 用户类型 的骑行次数
func HourlyByUserType(t *TripTable) (Grid, error) {
	return countGrid(t, ChartHourlyUserType, ColStartTimeHour, ColUserType, HourOrder, t.UserTypes())
}

// UsageHeatmap 某一用户类型 小时 x 星期 的骑行次数，固定24x7
func UsageHeatmap(t *TripTable, userType string) (Grid, error) {
	sub, err := t.Where(ColUserType, userType)
	if err != nil {
		return Grid{}, err
	}
	g, err := countGrid(sub, ChartHeatmap, ColStartTimeHour, ColStartTimeDay, HourOrder, WeekdayOrder)
	if err != nil {
		return Grid{}, err
	}
	g.Name = ChartHeatmap + "_" + userType
	return g, nil
}

func countGrid(t *TripTable, name, rowKey, colKey string, rows, cols []string) (Grid, error) {
	agg, err := t.Aggregate([]string{rowKey, colKey}, "", Count)
	if err != nil {
		return Grid{}, err
	}
	g, err := Pivot(agg, rowKey, colKey, ValueColumn("", Count), rows, cols)
	if err != nil {
		return Grid{}, err
	}
	g.Name = name
	return g, nil
}

// StationDuration 每个站点的平均骑行时长(秒)，column为起点或终点站id，空站点跳过
func StationDuration(t *TripTable, column string) (Series, error) {
	var name string
	switch column {
	case ColStartStationID:
		name = ChartStartStation
	case ColEndStationID:
		name = ChartEndStation
	default:
		return Series{}, fmt.Errorf("%w: %s is not a station column", ErrColumn, column)
	}

	agg, err := t.Aggregate([]string{column}, ColDurationSec, Mean)
	if err != nil {
		return Series{}, err
	}
	all, err := SeriesFrom(agg, column, ValueColumn(ColDurationSec, Mean), nil)
	if err != nil {
		return Series{}, err
	}

	s := Series{Name: name, Key: column}
	for i, label := range all.Labels {
		if label == "" {
			continue
		}
		s.Labels = append(s.Labels, label)
		s.Values = append(s.Values, all.Values[i])
	}
	return s, nil
}

// DayDurationByUserType 星期 x 用户类型 的平均和最长骑行时长(秒)
func DayDurationByUserType(t *TripTable) (mean Grid, longest Grid, err error) {
	userTypes := t.UserTypes()
	mean, err = durationGrid(t, ChartDayDuration, ColStartTimeDay, ColUserType, ColDurationSec, Mean, WeekdayOrder, userTypes)
	if err != nil {
		return Grid{}, Grid{}, err
	}
	longest, err = durationGrid(t, ChartDayDurationMax, ColStartTimeDay, ColUserType, ColDurationSec, Max, WeekdayOrder, userTypes)
	if err != nil {
		return Grid{}, Grid{}, err
	}
	return mean, longest, nil
}

// HourDayDuration 小时 x 星期 的平均骑行时长(分钟)
func HourDayDuration(t *TripTable) (Grid, error) {
	return durationGrid(t, ChartHourDayDuration, ColStartTimeHour, ColStartTimeDay, ColDurationMin, Mean, HourOrder, WeekdayOrder)
}

func durationGrid(t *TripTable, name, rowKey, colKey, metric string, op Op, rows, cols []string) (Grid, error) {
	agg, err := t.Aggregate([]string{rowKey, colKey}, metric, op)
	if err != nil {
		return Grid{}, err
	}
	g, err := Pivot(agg, rowKey, colKey, ValueColumn(metric, op), rows, cols)
	if err != nil {
		return Grid{}, err
	}
	g.Name = name
	return g, nil
}
