package processor

import (
	"fmt"
	"time"

	"TripExplorer/src/storage"

	"github.com/go-gota/gota/dataframe"
)

// Finding 某一用户类型的骑行习惯
type Finding struct {
	UserType     string
	Trips        int
	Share        float64 // 占全部骑行的百分比
	BusiestDay   string
	BusiestHour  string
	WeekendShare float64 // 周六日骑行占该类型骑行的百分比
	MeanMinutes  float64
}

// Analysis 一次完整处理的结果，供report和datapush使用
type Analysis struct {
	Source   string
	Started  time.Time
	Elapsed  time.Duration
	Table    *TripTable
	Profile  *ProfileReport
	Describe dataframe.DataFrame

	Weekday    Series
	Hourly     Series
	Duration   Series
	UserTypes  Series
	UserShares Series

	WeekdayUserType Grid
	HourlyUserType  Grid
	StartStations   Series
	EndStations     Series
	DayDuration     Grid
	DayDurationMax  Grid
	HourDayDuration Grid
	Heatmaps        []Grid

	Findings []Finding
}

// Analyze 加载 -> 概况 -> 标准化 -> 派生 -> 各图表查询，任一步出错即终止
func Analyze(path string, opts Options, logger *storage.Logger) (*Analysis, error) {
	start := time.Now()
	t, err := Load(path, opts)
	if err != nil {
		logger.Error(fmt.Sprintf("加载行程数据失败: %v", err))
		return nil, err
	}
	logger.Info(fmt.Sprintf("已加载 %s: %d 行 (%v)", path, t.Len(), time.Since(start)))

	a, err := AnalyzeTable(t, opts, logger)
	if err != nil {
		return nil, err
	}
	a.Started = start
	a.Elapsed = time.Since(start)
	return a, nil
}

// AnalyzeTable 对已加载的原始表执行后续步骤，表会被原地标准化
func AnalyzeTable(t *TripTable, opts Options, logger *storage.Logger) (*Analysis, error) {
	a := &Analysis{Source: t.Source(), Table: t, Started: time.Now()}

	stage := func(name string, fn func() error) error {
		begin := time.Now()
		if err := fn(); err != nil {
			logger.Error(fmt.Sprintf("%s 失败: %v", name, err))
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Debug(fmt.Sprintf("%s 完成 (%v)", name, time.Since(begin)))
		return nil
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"profile", func() (err error) {
			a.Profile, err = Profile(t, opts.HeadRows)
			return err
		}},
		{"normalize", t.Normalize},
		{"derive", t.Derive},
		{"describe", func() (err error) {
			a.Describe, err = Describe(t)
			return err
		}},
		{"univariate", func() error { return a.univariate(opts) }},
		{"bivariate", a.bivariate},
		{"multivariate", a.multivariate},
		{"findings", a.buildFindings},
	}
	for _, s := range steps {
		if err := stage(s.name, s.fn); err != nil {
			return nil, err
		}
	}

	a.Elapsed = time.Since(a.Started)
	logger.Info(fmt.Sprintf("分析完成: %d 行, %d 个用户类型, 耗时 %v", t.Len(), len(a.UserTypes.Labels), a.Elapsed))
	return a, nil
}

func (a *Analysis) univariate(opts Options) error {
	var err error
	if a.Weekday, err = WeekdayCounts(a.Table); err != nil {
		return err
	}
	if a.Hourly, err = HourlyCounts(a.Table); err != nil {
		return err
	}
	if a.Duration, err = DurationHistogram(a.Table, opts.HistogramBinSec, opts.HistogramMaxSec); err != nil {
		return err
	}
	if a.UserTypes, err = UserTypeCounts(a.Table); err != nil {
		return err
	}
	a.UserShares, err = UserTypeShares(a.Table)
	return err
}

func (a *Analysis) bivariate() error {
	var err error
	if a.WeekdayUserType, err = WeekdayByUserType(a.Table); err != nil {
		return err
	}
	if a.HourlyUserType, err = HourlyByUserType(a.Table); err != nil {
		return err
	}
	if a.StartStations, err = StationDuration(a.Table, ColStartStationID); err != nil {
		return err
	}
	a.EndStations, err = StationDuration(a.Table, ColEndStationID)
	return err
}

func (a *Analysis) multivariate() error {
	var err error
	if a.DayDuration, a.DayDurationMax, err = DayDurationByUserType(a.Table); err != nil {
		return err
	}
	if a.HourDayDuration, err = HourDayDuration(a.Table); err != nil {
		return err
	}
	a.Heatmaps = a.Heatmaps[:0]
	for _, userType := range a.Table.UserTypes() {
		g, err := UsageHeatmap(a.Table, userType)
		if err != nil {
			return err
		}
		a.Heatmaps = append(a.Heatmaps, g)
	}
	return nil
}

func (a *Analysis) buildFindings() error {
	a.Findings = a.Findings[:0]
	total := int(a.UserTypes.Total())
	for i, userType := range a.UserTypes.Labels {
		trips := int(a.UserTypes.Values[i])
		share, err := Percentage(trips, total)
		if err != nil {
			return err
		}
		days := a.WeekdayUserType.Column(userType)
		hours := a.HourlyUserType.Column(userType)
		busiestDay, _ := days.Max()
		busiestHour, _ := hours.Max()

		weekend, err := Percentage(int(days.Value("Sat")+days.Value("Sun")), trips)
		if err != nil {
			return err
		}

		sub, err := a.Table.Where(ColUserType, userType)
		if err != nil {
			return err
		}
		var minutes float64
		for _, m := range sub.Frame().Col(ColDurationMin).Float() {
			minutes += m
		}

		a.Findings = append(a.Findings, Finding{
			UserType:     userType,
			Trips:        trips,
			Share:        share,
			BusiestDay:   busiestDay,
			BusiestHour:  busiestHour,
			WeekendShare: weekend,
			MeanMinutes:  minutes / float64(trips),
		})
	}
	return nil
}

// Summary 结论文本，每条一行
func (a *Analysis) Summary() []string {
	lines := []string{fmt.Sprintf("共 %d 次骑行", a.Table.Len())}
	for _, f := range a.Findings {
		label := f.UserType
		if label == "" {
			label = "(unknown)"
		}
		lines = append(lines, fmt.Sprintf(
			"%s: %d 次 (%.2f%%)，最忙 %s / %s 点，周末占 %.2f%%，平均 %.1f 分钟",
			label, f.Trips, f.Share, f.BusiestDay, f.BusiestHour, f.WeekendShare, f.MeanMinutes))
	}
	return lines
}
