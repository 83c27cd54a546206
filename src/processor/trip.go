package processor

import (
	"time"

	"TripExplorer/src/config"
)

// 源数据列
const (
	ColDurationSec           = "duration_sec"
	ColStartTime             = "start_time"
	ColEndTime               = "end_time"
	ColStartStationID        = "start_station_id"
	ColStartStationName      = "start_station_name"
	ColStartStationLatitude  = "start_station_latitude"
	ColStartStationLongitude = "start_station_longitude"
	ColEndStationID          = "end_station_id"
	ColEndStationName        = "end_station_name"
	ColEndStationLatitude    = "end_station_latitude"
	ColEndStationLongitude   = "end_station_longitude"
	ColBikeID                = "bike_id"
	ColUserType              = "user_type"
	ColBikeShareForAllTrip   = "bike_share_for_all_trip"
)

// 派生列
const (
	ColStartTimeDay  = "start_time_day"
	ColStartTimeHour = "start_time_hour"
	ColDurationMin   = "duration_min"
)

// TimeLayout 标准化后时间列的文本格式
const TimeLayout = "2006-01-02 15:04:05"

// ExpectedColumns 源文件必须且只能包含的14列
var ExpectedColumns = []string{
	ColDurationSec,
	ColStartTime,
	ColEndTime,
	ColStartStationID,
	ColStartStationName,
	ColStartStationLatitude,
	ColStartStationLongitude,
	ColEndStationID,
	ColEndStationName,
	ColEndStationLatitude,
	ColEndStationLongitude,
	ColBikeID,
	ColUserType,
	ColBikeShareForAllTrip,
}

var coordinateColumns = []string{
	ColStartStationLatitude,
	ColStartStationLongitude,
	ColEndStationLatitude,
	ColEndStationLongitude,
}

var labelColumns = []string{ColBikeID, ColStartStationID, ColEndStationID}

// WeekdayOrder 图表使用的星期顺序
var WeekdayOrder = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// DefaultTimeLayouts 未配置时使用的时间格式
var DefaultTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// TripRecord 一次骑行记录
type TripRecord struct {
	DurationSec           int       // 骑行时长(秒)
	StartTime             time.Time // 开始时间
	EndTime               time.Time // 结束时间
	StartStationID        string
	StartStationName      string
	StartStationLatitude  float64
	StartStationLongitude float64
	EndStationID          string
	EndStationName        string
	EndStationLatitude    float64
	EndStationLongitude   float64
	BikeID                string
	UserType              string // Customer / Subscriber，不限定取值
	BikeShareForAllTrip   string // Yes / No

	StartTimeDay  string  // Mon..Sun
	StartTimeHour int     // 0..23
	DurationMin   float64 // DurationSec / 60
}

// Options 处理流程参数
type Options struct {
	TimeLayouts     []string
	SheetName       string
	HeaderRow       int
	HeadRows        int
	HistogramBinSec int
	HistogramMaxSec int
}

// NewOptions 由配置生成处理参数
func NewOptions(cfg *config.Config, dcfg *config.DataConfig) Options {
	opts := Options{
		TimeLayouts:     DefaultTimeLayouts,
		HeadRows:        5,
		HistogramBinSec: 60,
		HistogramMaxSec: 3600,
	}
	if cfg != nil {
		opts.SheetName = cfg.SheetName
	}
	if dcfg != nil {
		if len(dcfg.TimeLayouts) > 0 {
			opts.TimeLayouts = dcfg.TimeLayouts
		}
		opts.HeaderRow = dcfg.HeaderRow
		if dcfg.HeadRows > 0 {
			opts.HeadRows = dcfg.HeadRows
		}
		if dcfg.Histogram.BinSec > 0 {
			opts.HistogramBinSec = dcfg.Histogram.BinSec
		}
		if dcfg.Histogram.MaxSec > 0 {
			opts.HistogramMaxSec = dcfg.Histogram.MaxSec
		}
	}
	return opts
}

// Weekday 返回星期缩写 Mon..Sun
func Weekday(t time.Time) string {
	return t.Weekday().String()[:3]
}
